package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/johndauphine/airport-sync/internal/logging"
)

// BarReporter renders the current phase as a terminal progress bar.
type BarReporter struct {
	mu        sync.Mutex
	out       io.Writer
	bar       *progressbar.ProgressBar
	phase     string
	startTime time.Time
	processed int64
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// NewBarReporter creates a bar writing to out (stderr when nil).
func NewBarReporter(out io.Writer) *BarReporter {
	if out == nil {
		out = os.Stderr
	}
	return &BarReporter{out: out, startTime: time.Now()}
}

func (b *BarReporter) newBar(phase string, total int64) *progressbar.ProgressBar {
	return progressbar.NewOptions64(
		total,
		progressbar.OptionSetWriter(b.out),
		progressbar.OptionSetDescription(fmt.Sprintf("Importing %-12s", phase)),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Report moves the bar, starting a new one when the phase changes.
func (b *BarReporter) Report(update ProgressUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if update.Phase != b.phase || b.bar == nil {
		if b.bar != nil {
			b.bar.Finish()
			fmt.Fprintln(b.out)
		}
		b.phase = update.Phase
		b.bar = b.newBar(update.Phase, update.PhaseTotal)
	}
	if update.PhaseTotal > b.bar.GetMax64() {
		b.bar.ChangeMax64(update.PhaseTotal)
	}
	b.bar.Set64(update.PhaseProcessed)
	b.processed = update.Processed
}

// ReportImmediate behaves like Report; the bar throttles its own rendering.
func (b *BarReporter) ReportImmediate(update ProgressUpdate) {
	b.Report(update)
}

// Close finishes the bar and logs the throughput.
func (b *BarReporter) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar == nil {
		return
	}
	b.bar.Finish()
	b.bar = nil
	fmt.Fprintln(b.out)

	elapsed := time.Since(b.startTime)
	logging.Info("Import complete: %d records in %s (%.0f records/sec)",
		b.processed, elapsed.Round(time.Second), float64(b.processed)/elapsed.Seconds())
}
