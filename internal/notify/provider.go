package notify

import (
	"time"

	"github.com/johndauphine/airport-sync/internal/model"
)

// Provider defines the notification contract for import events.
// This interface allows for different notification backends and enables
// easier testing through mock implementations.
type Provider interface {
	// ImportStarted sends notification when an import job is picked up.
	ImportStarted(job *model.ImportJob) error

	// ImportCompleted sends notification when an import job finishes, including
	// jobs stopped by a cancellation request.
	ImportCompleted(job *model.ImportJob, duration time.Duration, processed int64, cancelled bool) error

	// ImportFailed sends notification when an import job fails.
	ImportFailed(job *model.ImportJob, err error, duration time.Duration) error
}

// Ensure Notifier implements Provider
var _ Provider = (*Notifier)(nil)

// Nop discards every notification.
type Nop struct{}

func (Nop) ImportStarted(*model.ImportJob) error { return nil }
func (Nop) ImportCompleted(*model.ImportJob, time.Duration, int64, bool) error {
	return nil
}
func (Nop) ImportFailed(*model.ImportJob, error, time.Duration) error { return nil }
