package domain

import "errors"

var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
	ErrNotFound              = errors.New("not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrConflict              = errors.New("conflict")
	ErrUnsupportedEventType  = errors.New("unsupported event type")
	ErrUnsupportedEventClass = errors.New("unsupported event class")

	// ErrQuotaExceeded means the ledger refused a charge because the balance
	// would go negative. Never retried by the settlement path.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrChargeBlocked means a balance reconciliation clamped the user to zero
	// and charging is suspended until an external operator resolves it.
	ErrChargeBlocked = errors.New("charging blocked pending balance resolution")

	// ErrConfiguration marks fatal, non-retryable configuration gaps such as a
	// missing claim collection id or per-claim maximum.
	ErrConfiguration = errors.New("missing configuration")

	// ErrPaymentRequired is the corruption-guard condition: the authoritative
	// balance minus held amount is negative.
	ErrPaymentRequired = errors.New("payment required")

	// ErrCycleInProgress guards against overlapping settlement ticks.
	ErrCycleInProgress = errors.New("settlement cycle already in progress")
)
