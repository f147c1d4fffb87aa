package models

import "strings"

// Severity, Certainty and Urgency are CAP levels. The zero value is Unknown
// and larger values rank higher.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityMinor
	SeverityModerate
	SeveritySevere
	SeverityExtreme
)

var severityNames = []string{"Unknown", "Minor", "Moderate", "Severe", "Extreme"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "Unknown"
	}
	return severityNames[s]
}

func ParseSeverity(s string) Severity {
	return Severity(parseLevel(s, severityNames))
}

type Certainty int

const (
	CertaintyUnknown Certainty = iota
	CertaintyUnlikely
	CertaintyPossible
	CertaintyLikely
	CertaintyObserved
)

var certaintyNames = []string{"Unknown", "Unlikely", "Possible", "Likely", "Observed"}

func (c Certainty) String() string {
	if c < 0 || int(c) >= len(certaintyNames) {
		return "Unknown"
	}
	return certaintyNames[c]
}

func ParseCertainty(s string) Certainty {
	return Certainty(parseLevel(s, certaintyNames))
}

type Urgency int

const (
	UrgencyUnknown Urgency = iota
	UrgencyPast
	UrgencyFuture
	UrgencyExpected
	UrgencyImmediate
)

var urgencyNames = []string{"Unknown", "Past", "Future", "Expected", "Immediate"}

func (u Urgency) String() string {
	if u < 0 || int(u) >= len(urgencyNames) {
		return "Unknown"
	}
	return urgencyNames[u]
}

func ParseUrgency(s string) Urgency {
	return Urgency(parseLevel(s, urgencyNames))
}

// parseLevel matches case-insensitively; anything unrecognized is Unknown (0).
func parseLevel(s string, names []string) int {
	s = strings.TrimSpace(s)
	for i, name := range names {
		if strings.EqualFold(s, name) {
			return i
		}
	}
	return 0
}

func (s Severity) MarshalText() ([]byte, error)  { return []byte(s.String()), nil }
func (c Certainty) MarshalText() ([]byte, error) { return []byte(c.String()), nil }
func (u Urgency) MarshalText() ([]byte, error)   { return []byte(u.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	*s = ParseSeverity(string(b))
	return nil
}

func (c *Certainty) UnmarshalText(b []byte) error {
	*c = ParseCertainty(string(b))
	return nil
}

func (u *Urgency) UnmarshalText(b []byte) error {
	*u = ParseUrgency(string(b))
	return nil
}
