package analyzer

import (
	"strings"

	"github.com/skiddly/skiddly/model"
)

// FallbackConfidence is the fixed confidence of a fallback classification.
const FallbackConfidence = 0.3

// Fallback classifies a call from the provider's ended reason alone.
func Fallback(endedReason string) *model.AnalysisResult {
	outcome := fallbackOutcome(endedReason)
	return &model.AnalysisResult{
		Summary:        "Call classified from ended reason: " + strings.TrimSpace(endedReason),
		Outcome:        outcome,
		StructuredData: model.StructuredData{TechnicalIssues: outcome == model.OutcomeTechnicalIssues},
		Confidence:     FallbackConfidence,
		AnalysisMethod: model.AnalysisMethodFallback,
	}
}

func normalizeReason(reason string) string {
	r := strings.ToLower(strings.TrimSpace(reason))
	r = strings.NewReplacer("-", " ", "_", " ", ".", " ").Replace(r)
	return strings.Join(strings.Fields(r), " ")
}

func fallbackOutcome(endedReason string) model.Outcome {
	r := normalizeReason(endedReason)
	switch {
	case r == "":
		return model.OutcomeTechnicalIssues
	case strings.Contains(r, "customer ended call"), strings.Contains(r, "customer hung up"):
		return model.OutcomeNotInterested
	case strings.Contains(r, "busy"),
		strings.Contains(r, "did not answer"),
		strings.Contains(r, "no answer"),
		strings.Contains(r, "voicemail"):
		return model.OutcomeCustomerBusy
	}
	return model.OutcomeTechnicalIssues
}
