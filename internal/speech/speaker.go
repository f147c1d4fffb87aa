package speech

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Speaker turns text into audible speech.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

type SynthesisError struct {
	Text   string
	Output string
	Err    error
}

func (e *SynthesisError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("speak %q: %v: %s", e.Text, e.Err, e.Output)
	}
	return fmt.Sprintf("speak %q: %v", e.Text, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// CommandSpeaker runs an external text-to-speech program (espeak, say,
// spd-say) with the text as its final argument.
type CommandSpeaker struct {
	path string
	args []string
}

// NewCommandSpeaker parses command into a program and leading arguments and
// checks that the program exists.
func NewCommandSpeaker(command string) (*CommandSpeaker, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty speech command")
	}
	path, err := exec.LookPath(fields[0])
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", fields[0], err)
	}
	return &CommandSpeaker{path: path, args: fields[1:]}, nil
}

func (c *CommandSpeaker) Speak(ctx context.Context, text string) error {
	args := append(append([]string(nil), c.args...), text)
	out, err := exec.CommandContext(ctx, c.path, args...).CombinedOutput()
	if err != nil {
		return &SynthesisError{Text: text, Output: strings.TrimSpace(string(out)), Err: err}
	}
	return nil
}

// LogSpeaker writes what would have been spoken to the log.
type LogSpeaker struct {
	logger *slog.Logger
	reason string
}

func NewLogSpeaker(logger *slog.Logger, reason string) *LogSpeaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSpeaker{logger: logger.With("component", "speech"), reason: reason}
}

func (l *LogSpeaker) Speak(_ context.Context, text string) error {
	l.logger.Info("would have spoken", "text", text, "reason", l.reason)
	return nil
}

// Select picks the speaker once at startup. Muted or unavailable speech
// falls back to the log speaker.
func Select(command string, mute bool, logger *slog.Logger) Speaker {
	if logger == nil {
		logger = slog.Default()
	}
	if mute {
		return NewLogSpeaker(logger, "muted")
	}
	if strings.TrimSpace(command) == "" {
		return NewLogSpeaker(logger, "no speech command configured")
	}
	sp, err := NewCommandSpeaker(command)
	if err != nil {
		logger.Error("speech unavailable, announcements will be logged only", "command", command, "error", err)
		return NewLogSpeaker(logger, "speech command unavailable")
	}
	return sp
}
