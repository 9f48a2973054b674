package agent

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCLINotFound is returned when the claude executable cannot be located.
var ErrCLINotFound = errors.New("agent: claude CLI not found")

// ProtocolError reports agent output that could not be decoded.
type ProtocolError struct {
	Line  string
	Cause error
}

func (e *ProtocolError) Error() string {
	line := e.Line
	if len(line) > 120 {
		line = line[:120] + "..."
	}
	return fmt.Sprintf("agent: malformed output %q: %v", line, e.Cause)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// ProcessError reports a claude process that exited unsuccessfully.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Cause    error
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("agent: claude exited with code %d", e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + lastLine(stderr)
	}
	return msg
}

func (e *ProcessError) Unwrap() error { return e.Cause }

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
