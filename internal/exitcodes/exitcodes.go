// Package exitcodes defines standard exit codes for CLI operations, so
// cron, Kubernetes and other schedulers can decide whether to retry.
package exitcodes

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/johndauphine/airport-sync/internal/snapshot"
	"github.com/johndauphine/airport-sync/internal/target"
)

const (
	// Success - command completed without errors
	Success = 0

	// ConfigError - configuration/YAML parsing or invalid arguments (non-recoverable, don't retry)
	ConfigError = 1

	// ConnectionError - live store or remote service unreachable (recoverable)
	ConnectionError = 2

	// ImportError - an import job or store write failed (non-recoverable)
	ImportError = 3

	// SnapshotError - the snapshot is missing, unreadable or incomplete (non-recoverable)
	SnapshotError = 4

	// Cancelled - user cancelled via SIGINT/SIGTERM (recoverable)
	Cancelled = 5

	// NotFound - the requested job does not exist (non-recoverable)
	NotFound = 6

	// IOError - file I/O errors (recoverable)
	IOError = 7
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Err  error
	Code int
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code.
func NewExitError(err error, code int) *ExitError {
	return &ExitError{Err: err, Code: code}
}

// FromError determines the appropriate exit code for an error.
// Typed errors are matched first, then the message is examined.
func FromError(err error) int {
	if err == nil {
		return Success
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var precondErr *snapshot.PreconditionError
	if errors.As(err, &precondErr) {
		return SnapshotError
	}

	if errors.Is(err, target.ErrJobNotFound) {
		return NotFound
	}

	if errors.Is(err, context.Canceled) {
		return Cancelled
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return IOError
	}

	errStr := strings.ToLower(err.Error())

	if containsAny(errStr, []string{
		"no such file",
		"file not found",
		"permission denied",
		"is a directory",
		"not a directory",
	}) {
		return IOError
	}

	if containsAny(errStr, []string{
		"yaml:",
		"json:",
		"unmarshal",
		"invalid config",
		"parsing config",
		"is required",
		"unknown source",
	}) && !containsAny(errStr, []string{"connection", "connect", "dial"}) {
		return ConfigError
	}

	if containsAny(errStr, []string{
		"connection",
		"connect",
		"dial",
		"refused",
		"timeout",
		"unreachable",
		"no such host",
		"network",
		"ping",
		"authentication",
	}) {
		return ConnectionError
	}

	if containsAny(errStr, []string{
		"cancel",
		"interrupt",
		"context deadline",
	}) {
		return Cancelled
	}

	// Default to import error for unknown errors
	return ImportError
}

// IsRecoverable returns true if the error is recoverable (safe to retry).
func IsRecoverable(code int) bool {
	switch code {
	case ConnectionError, Cancelled, IOError:
		return true
	default:
		return false
	}
}

// Description returns a human-readable description of the exit code.
func Description(code int) string {
	switch code {
	case Success:
		return "success"
	case ConfigError:
		return "configuration error"
	case ConnectionError:
		return "connection error (recoverable)"
	case ImportError:
		return "import error"
	case SnapshotError:
		return "snapshot error"
	case Cancelled:
		return "cancelled (recoverable)"
	case NotFound:
		return "job not found"
	case IOError:
		return "I/O error (recoverable)"
	default:
		return "unknown error"
	}
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
