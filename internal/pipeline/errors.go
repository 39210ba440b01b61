package pipeline

import (
	"errors"

	"vela-cycler/internal/ledger"
	"vela-cycler/internal/payload"
	"vela-cycler/internal/vela"
	"vela-cycler/internal/worker"
)

var (
	ErrSigningFailure  = errors.New("signing failure")
	ErrEventNotEmitted = errors.New("event not emitted")
	ErrTimeout         = errors.New("timeout")
)

// Kind names the error class used in logs, the event log and metrics labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, worker.ErrInputMismatch):
		return "InputMismatch"
	case errors.Is(err, vela.ErrSchemaMismatch):
		return "SchemaMismatch"
	case errors.Is(err, ErrTimeout):
		return "Timeout"
	case errors.Is(err, ledger.ErrReceiptNotFound):
		return "ReceiptNotFound"
	case errors.Is(err, ErrEventNotEmitted):
		return "EventNotEmitted"
	case errors.Is(err, ledger.ErrBroadcastRejected):
		return "BroadcastRejected"
	case errors.Is(err, ErrSigningFailure):
		return "SigningFailure"
	case errors.Is(err, payload.ErrMissingPositionID):
		return "MissingPositionId"
	case errors.Is(err, payload.ErrInvalidParams), errors.Is(err, vela.ErrArgTypeMismatch), errors.Is(err, vela.ErrUnknownFunction):
		return "EncodeFailure"
	default:
		return "Unknown"
	}
}

// IsFatal reports errors that mean the process itself is misconfigured or its
// decoding logic is stale, rather than one account having a bad cycle.
func IsFatal(err error) bool {
	return errors.Is(err, vela.ErrSchemaMismatch) || errors.Is(err, worker.ErrInputMismatch)
}
