package models

// The outcome types below separate idempotent success from genuine failure.
// Errors returned next to them are reserved for validation and storage problems.

type CardOutcome string

const (
	CardCreated   CardOutcome = "created"
	CardDuplicate CardOutcome = "duplicate"
)

type CardResult struct {
	Card    *TimeCard   `json:"card"`
	Outcome CardOutcome `json:"outcome"`
}

type ActivationOutcome string

const (
	ActivationActivated     ActivationOutcome = "activated"
	ActivationAlreadyActive ActivationOutcome = "already_active"
	ActivationNotFound      ActivationOutcome = "not_found"
	ActivationNotOwned      ActivationOutcome = "not_owned"
	ActivationExpired       ActivationOutcome = "expired"
	ActivationRefunded      ActivationOutcome = "refunded"
)

type ActivationResult struct {
	Card    *TimeCard         `json:"card,omitempty"`
	Outcome ActivationOutcome `json:"outcome"`
}

// Succeeded is true when the card is usable by the caller after the call.
func (r ActivationResult) Succeeded() bool {
	return r.Outcome == ActivationActivated || r.Outcome == ActivationAlreadyActive
}

type RefundOutcome string

const (
	RefundApplied         RefundOutcome = "refunded"
	RefundAlreadyRefunded RefundOutcome = "already_refunded"
)

type RefundResult struct {
	Card    *TimeCard     `json:"card"`
	Outcome RefundOutcome `json:"outcome"`
}

type StartOutcome string

const (
	SessionStarted  StartOutcome = "started"
	SessionExisting StartOutcome = "existing"
)

type StartResult struct {
	Session *BillingSession `json:"session"`
	Outcome StartOutcome    `json:"outcome"`
}

type EndOutcome string

const (
	SessionEnded         EndOutcome = "closed"
	SessionAlreadyClosed EndOutcome = "already_closed"
	SessionShortfall     EndOutcome = "shortfall"
)

type EndResult struct {
	Session *BillingSession `json:"session"`
	Outcome EndOutcome      `json:"outcome"`
	Debit   *DebitResult    `json:"debit,omitempty"`
}
