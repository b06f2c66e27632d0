package model

import "time"

type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusDispatched CallStatus = "dispatched"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusCancelled  CallStatus = "cancelled"
)

// Call is one outreach attempt for a case. Attempt is 1-based and contiguous per case.
// A call is immutable once Outcome is recorded.
type Call struct {
	CallID          string          `json:"call_id"`
	CaseID          string          `json:"case_id"`
	Attempt         int             `json:"attempt"`
	ProviderCallID  string          `json:"provider_call_id,omitempty"`
	PhoneNumber     string          `json:"phone_number"`
	AgentID         string          `json:"agent_id,omitempty"`
	Status          CallStatus      `json:"status"`
	DispatchedAt    *time.Time      `json:"dispatched_at,omitempty"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
	DurationSeconds int             `json:"duration_seconds"`
	Transcript      string          `json:"transcript,omitempty"`
	RecordingURL    string          `json:"recording_url,omitempty"`
	EndedReason     string          `json:"ended_reason,omitempty"`
	Outcome         Outcome         `json:"outcome,omitempty"`
	FinalAction     FinalAction     `json:"final_action,omitempty"`
	Analysis        *AnalysisResult `json:"analysis,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// HasOutcome reports whether the call's result has already been recorded.
func (c *Call) HasOutcome() bool {
	return c.Outcome != ""
}

// CallResult is the calling provider's end-of-call report.
type CallResult struct {
	CallID       string    `json:"callId"`
	CaseID       string    `json:"caseId"`
	Transcript   string    `json:"transcript,omitempty"`
	RecordingURL string    `json:"recordingUrl,omitempty"`
	EndedReason  string    `json:"endedReason"`
	StartedAt    time.Time `json:"startedAt"`
	EndedAt      time.Time `json:"endedAt"`
}

// DispatchRequest asks the calling provider to place one call.
type DispatchRequest struct {
	CallID        string            `json:"call_id"`
	CaseID        string            `json:"case_id"`
	AgentID       string            `json:"agent_id"`
	PhoneNumber   string            `json:"phone_number"`
	AssistantID   string            `json:"assistant_id"`
	PhoneNumberID string            `json:"phone_number_id"`
	Prompt        string            `json:"prompt,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}
