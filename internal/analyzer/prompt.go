package analyzer

import (
	"fmt"
	"strings"
	"time"

	"github.com/skiddly/skiddly/model"
)

const classificationSystemPrompt = `You classify phone calls placed by a shopping assistant to customers who abandoned an online checkout.
Return ONLY a JSON object. Do not wrap it in backticks and do not add commentary.`

const classificationSchema = `{
  "summary": "",
  "callOutcome": "",
  "confidence": 0.0,
  "structuredData": {
    "rescheduleRequested": false,
    "rescheduleTime": "",
    "rescheduleDate": "",
    "rescheduleTimezone": "",
    "relativeTime": "",
    "discountRequested": false,
    "freeShippingRequested": false,
    "purchaseCompleted": false,
    "technicalIssues": false,
    "customerSentiment": "",
    "objections": []
  }
}`

// BuildClassificationPrompt renders the user prompt for one transcript.
func BuildClassificationPrompt(req ClassificationRequest) string {
	outcomes := make([]string, 0, len(model.Outcomes))
	for _, o := range model.Outcomes {
		outcomes = append(outcomes, string(o))
	}

	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}

	return fmt.Sprintf(`Classify the call below.

callOutcome MUST be exactly one of: %s

Rules:
- completed_purchase only when the customer says the order is placed.
- do_not_call_request when the customer asks not to be called again.
- reschedule_request when the customer asks to be called at another time. Fill rescheduleTime (e.g. "3:00 PM"),
  rescheduleDate (e.g. "tomorrow", "Friday", "2024-03-01"), rescheduleTimezone (e.g. "EST") or
  relativeTime (e.g. "in 2 hours") with what the customer said.
- confidence is a number between 0 and 1.
- Leave fields empty instead of guessing.

The call ended at %s. The provider reported the ended reason %q.

Schema:
%s

TRANSCRIPT:
%s
`, strings.Join(outcomes, ", "), asOf.Format(time.RFC3339), req.EndedReason, classificationSchema, req.Transcript)
}
