package nws

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type NetworkErrorKind int

const (
	NetworkTimeout NetworkErrorKind = iota
	NetworkUnreachable
	NetworkHTTPStatus
)

func (k NetworkErrorKind) String() string {
	switch k {
	case NetworkTimeout:
		return "timeout"
	case NetworkUnreachable:
		return "unreachable"
	default:
		return "http_status"
	}
}

// NetworkError is returned once a request has exhausted its retry budget.
type NetworkError struct {
	Kind       NetworkErrorKind
	StatusCode int // set for NetworkHTTPStatus
	URL        string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.Kind == NetworkHTTPStatus {
		return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("GET %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

type ParseErrorKind int

const (
	MalformedFeed ParseErrorKind = iota
	MissingField
)

func (k ParseErrorKind) String() string {
	if k == MalformedFeed {
		return "malformed_feed"
	}
	return "missing_field"
}

// ParseError reports a response that could not be turned into records.
// Parse errors are never retried.
type ParseError struct {
	Kind  ParseErrorKind
	Field string // set for MissingField
	Err   error
}

func (e *ParseError) Error() string {
	if e.Kind == MissingField {
		return fmt.Sprintf("missing field %s", e.Field)
	}
	return fmt.Sprintf("malformed response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func missingField(field string) *ParseError {
	return &ParseError{Kind: MissingField, Field: field}
}

func malformed(err error) *ParseError {
	return &ParseError{Kind: MalformedFeed, Err: err}
}

// ErrorKind returns a short label for err suitable for logs and metrics.
func ErrorKind(err error) string {
	var nerr *NetworkError
	if errors.As(err, &nerr) {
		return nerr.Kind.String()
	}
	var perr *ParseError
	if errors.As(err, &perr) {
		return perr.Kind.String()
	}
	return "unknown"
}

// classifyTransport wraps a failed round trip as a NetworkError.
func classifyTransport(url string, err error) *NetworkError {
	var nerr *NetworkError
	if errors.As(err, &nerr) {
		return nerr
	}
	kind := NetworkUnreachable
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = NetworkTimeout
	}
	return &NetworkError{Kind: kind, URL: url, Err: err}
}
