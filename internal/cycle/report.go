package cycle

import (
	"time"

	"github.com/shopspring/decimal"

	"vela-cycler/internal/pipeline"
	"vela-cycler/internal/worker"
)

// Report summarizes one cycle.
type Report struct {
	CycleID   string
	StartedAt time.Time
	Price     decimal.Decimal

	Opened   int
	Resolved int
	Closed   int
	Failures []pipeline.Failure

	// Closes holds the accounts whose close transaction landed, in account
	// order.
	Closes worker.Snapshot
}

// Result is the cycles_total label: "ok" when every account closed,
// "partial" when some did, "error" otherwise.
func (r Report) Result(err error) string {
	switch {
	case err == nil && len(r.Failures) == 0 && r.Closed > 0:
		return "ok"
	case r.Closed > 0:
		return "partial"
	default:
		return "error"
	}
}
