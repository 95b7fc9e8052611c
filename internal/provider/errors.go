package provider

import (
	"fmt"
	"strings"

	"github.com/steveyegge/polyrev/internal/retry"
)

// Kind classifies a provider failure.
type Kind int

const (
	KindSpawn   Kind = iota // Process could not be started
	KindTimeout             // Invocation exceeded its timeout
	KindExit                // Process exited non-zero
	KindFatal               // Authentication, bad invocation, unknown provider
)

func (k Kind) String() string {
	switch k {
	case KindSpawn:
		return "spawn"
	case KindTimeout:
		return "timeout"
	case KindExit:
		return "exit"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// maxStderrInError bounds the stderr excerpt carried in error messages.
const maxStderrInError = 2000

// Error is a failed invocation.
type Error struct {
	Provider string
	Kind     Kind
	ExitCode int
	Stderr   string
	Timeout  string // Rendered timeout for KindTimeout
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: ", e.Provider)
	switch e.Kind {
	case KindTimeout:
		fmt.Fprintf(&b, "timed out after %s", e.Timeout)
	case KindExit:
		fmt.Fprintf(&b, "exited with code %d", e.ExitCode)
	case KindSpawn:
		b.WriteString("failed to start")
	default:
		b.WriteString("fatal error")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		if len(stderr) > maxStderrInError {
			stderr = "..." + stderr[len(stderr)-maxStderrInError:]
		}
		fmt.Fprintf(&b, ": %s", stderr)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Temporary reports whether the failure is eligible for retry. Non-zero
// exits are transient unless stderr carries a fatal marker.
func (e *Error) Temporary() bool {
	switch e.Kind {
	case KindSpawn, KindTimeout:
		return true
	case KindExit:
		return retry.ClassifyText(e.Stderr) != retry.ClassFatal
	default:
		return false
	}
}
