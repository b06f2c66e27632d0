package model

import "time"

// CaseState is the orchestration state of an AbandonedCartCase.
type CaseState string

const (
	CaseStatePendingFirstCall CaseState = "pending_first_call"
	CaseStateAwaitingResult   CaseState = "awaiting_result"
	CaseStateRetryScheduled   CaseState = "retry_scheduled"
	CaseStateTerminal         CaseState = "terminal"
)

// Terminal reasons recorded on a closed case.
const (
	TerminalReasonAttemptsExhausted = "attempts_exhausted"
	TerminalReasonOrderCompleted    = "order_completed"
	TerminalReasonDoNotContact      = "do_not_contact"
	TerminalReasonNotQualified      = "not_qualified"
	TerminalReasonOutcome           = "call_outcome"
)

// AbandonedCartCase is the outreach campaign attached to one abandoned cart.
// Once DoNotContact is set or State is terminal, NextCallTime is nil.
type AbandonedCartCase struct {
	CaseID              string      `json:"case_id"`
	TenantID            string      `json:"tenant_id"`
	CheckoutID          string      `json:"checkout_id"`
	AgentID             string      `json:"agent_id,omitempty"`
	PhoneNumber         string      `json:"phone_number,omitempty"`
	TotalAttempts       int         `json:"total_attempts"`
	NextCallTime        *time.Time  `json:"next_call_time"`
	DoNotContact        bool        `json:"do_not_contact"`
	Qualified           bool        `json:"qualified"`
	QualificationReason string      `json:"qualification_reason,omitempty"`
	State               CaseState   `json:"state"`
	FinalAction         FinalAction `json:"final_action,omitempty"`
	TerminalReason      string      `json:"terminal_reason,omitempty"`
	LastOutcome         Outcome     `json:"last_outcome,omitempty"`
	CorrelationID       string      `json:"correlation_id"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// IsTerminal reports whether no further calls may be created for the case.
func (c *AbandonedCartCase) IsTerminal() bool {
	return c.State == CaseStateTerminal || c.DoNotContact
}

// CaseTransition is the post-call state written back to a case.
type CaseTransition struct {
	CaseID           string
	ExpectedAttempts int
	State            CaseState
	NextCallTime     *time.Time
	FinalAction      FinalAction
	TerminalReason   string
	LastOutcome      Outcome
	DoNotContact     bool
}
