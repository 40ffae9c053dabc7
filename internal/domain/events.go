package domain

const (
	CanonicalEventClassDomain        = "domain"
	CanonicalEventClassAnalyticsOnly = "analytics_only"
	CanonicalEventClassOps           = "ops"
)

const (
	EventBalanceConfirmed = "billing.balance_confirmed"
	EventClaimCommitted   = "settlement.claim_committed"
	EventClaimFailed      = "settlement.claim_failed"
	EventCycleCompleted   = "settlement.cycle_completed"
	EventBalanceClamped   = "ledger.balance_clamped"
)
