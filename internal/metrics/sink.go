// Package metrics records scheduler and batch activity. Callers depend on
// Sink; NoopSink stands in when metrics are off.
package metrics

import "time"

// Batch outcome labels.
const (
	OutcomeOK      = "ok"      // every target sent
	OutcomePartial = "partial" // at least one target failed
	OutcomeFatal   = "fatal"   // aborted before targets were attempted
)

// Login path labels.
const (
	LoginRestored = "restored"
	LoginFresh    = "fresh"
)

// Batch describes one finished run.
type Batch struct {
	Trigger         string
	Duration        time.Duration
	Success         int
	Failure         int
	Fatal           bool
	SessionRestored bool
}

// Outcome classifies b.
func (b Batch) Outcome() string {
	switch {
	case b.Fatal:
		return OutcomeFatal
	case b.Failure > 0:
		return OutcomePartial
	}
	return OutcomeOK
}

type Sink interface {
	TriggersActive(n int)
	TriggerFired(kind string)
	TriggerSkipped(reason string)
	BatchCompleted(b Batch)
}
