package model

type AnalysisMethod string

const (
	AnalysisMethodFull     AnalysisMethod = "full"
	AnalysisMethodFallback AnalysisMethod = "fallback"
)

// StructuredData holds the entities extracted from a transcript.
type StructuredData struct {
	RescheduleRequested   bool     `json:"rescheduleRequested"`
	RescheduleTime        string   `json:"rescheduleTime,omitempty"`
	RescheduleDate        string   `json:"rescheduleDate,omitempty"`
	RescheduleTimezone    string   `json:"rescheduleTimezone,omitempty"`
	RelativeTime          string   `json:"relativeTime,omitempty"`
	DiscountRequested     bool     `json:"discountRequested"`
	FreeShippingRequested bool     `json:"freeShippingRequested"`
	PurchaseCompleted     bool     `json:"purchaseCompleted"`
	TechnicalIssues       bool     `json:"technicalIssues"`
	CustomerSentiment     string   `json:"customerSentiment,omitempty"`
	Objections            []string `json:"objections,omitempty"`
}

// HasRescheduleHint reports whether any reschedule field was extracted.
func (s StructuredData) HasRescheduleHint() bool {
	return s.RescheduleTime != "" || s.RescheduleDate != "" || s.RelativeTime != ""
}

// AnalysisResult is the classification of one call. Outcome is always a member of the enum.
type AnalysisResult struct {
	Summary        string         `json:"summary"`
	Outcome        Outcome        `json:"callOutcome"`
	StructuredData StructuredData `json:"structuredData"`
	Confidence     float64        `json:"confidence"`
	AnalysisMethod AnalysisMethod `json:"analysisMethod"`
}
