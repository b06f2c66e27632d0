package analyzer

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/skiddly/skiddly/model"
)

// outcomeAliases maps phrasing LLMs commonly produce onto enum members.
var outcomeAliases = map[string]model.Outcome{
	"purchase_completed": model.OutcomeCompletedPurchase,
	"busy":               model.OutcomeCustomerBusy,
	"do_not_call":        model.OutcomeDoNotCallRequest,
	"dnc":                model.OutcomeDoNotCallRequest,
	"abusive":            model.OutcomeAbusiveLanguage,
	"reschedule":         model.OutcomeRescheduleRequest,
	"callback_request":   model.OutcomeRescheduleRequest,
	"discount_request":   model.OutcomeWantsDiscount,
	"free_shipping":      model.OutcomeWantsFreeShipping,
	"thinking_about_it":  model.OutcomeWillThinkAboutIt,
	"technical_issue":    model.OutcomeTechnicalIssues,
	"wrong_number":       model.OutcomeWrongPerson,
}

// normalizeOutcome lower-cases and snake-cases an outcome label. The result may still be
// outside the enum; callers check IsValid.
func normalizeOutcome(raw string) model.Outcome {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	if alias, ok := outcomeAliases[s]; ok {
		return alias
	}
	return model.Outcome(s)
}

// extractContentFromChoices reads an OpenAI-style choices[0].message.content and returns
// the first JSON object found in it.
func extractContentFromChoices(body []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return ""
	}

	choices, ok := obj["choices"].([]any)
	if !ok || len(choices) == 0 {
		return ""
	}
	c0, _ := choices[0].(map[string]any)
	if c0 == nil {
		return ""
	}
	msg, _ := c0["message"].(map[string]any)
	if msg == nil {
		return ""
	}
	content, _ := msg["content"].(string)
	return extractJSON(content)
}

// extractJSON finds the first balanced JSON object in s after stripping markdown fences.
// Braces inside string literals are ignored.
func extractJSON(s string) string {
	if s == "" {
		return ""
	}

	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, r := range []string{"```json", "```JSON", "```", "`json"} {
		s = strings.ReplaceAll(s, r, "")
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}

// parseClassification decodes a classification payload leniently. Keys may be camelCase
// or snake_case, booleans may be strings and confidence may be a percentage.
func parseClassification(payload string) (*model.AnalysisResult, error) {
	candidate := extractJSON(payload)
	if candidate == "" {
		return nil, unavailable("no JSON object in classifier output")
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return nil, unavailable("classifier output is not valid JSON: %v", err)
	}

	outcomeRaw := stringField(raw, "outcome", "callOutcome", "call_outcome")
	if outcomeRaw == "" {
		return nil, unavailable("classifier output has no outcome")
	}

	result := &model.AnalysisResult{
		Summary:    stringField(raw, "summary"),
		Outcome:    normalizeOutcome(outcomeRaw),
		Confidence: confidenceField(raw["confidence"]),
	}

	sd, _ := firstPresent(raw, "structuredData", "structured_data").(map[string]any)
	if sd != nil {
		result.StructuredData = model.StructuredData{
			RescheduleRequested:   boolField(sd, "rescheduleRequested", "reschedule_requested"),
			RescheduleTime:        stringField(sd, "rescheduleTime", "reschedule_time"),
			RescheduleDate:        stringField(sd, "rescheduleDate", "reschedule_date"),
			RescheduleTimezone:    stringField(sd, "rescheduleTimezone", "reschedule_timezone"),
			RelativeTime:          stringField(sd, "relativeTime", "relative_time"),
			DiscountRequested:     boolField(sd, "discountRequested", "discount_requested"),
			FreeShippingRequested: boolField(sd, "freeShippingRequested", "free_shipping_requested"),
			PurchaseCompleted:     boolField(sd, "purchaseCompleted", "purchase_completed"),
			TechnicalIssues:       boolField(sd, "technicalIssues", "technical_issues"),
			CustomerSentiment:     stringField(sd, "customerSentiment", "customer_sentiment"),
			Objections:            stringsField(sd, "objections"),
		}
	}
	return result, nil
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func stringField(m map[string]any, keys ...string) string {
	switch v := firstPresent(m, keys...).(type) {
	case string:
		s := strings.TrimSpace(v)
		if strings.EqualFold(s, "null") || strings.EqualFold(s, "none") {
			return ""
		}
		return s
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func boolField(m map[string]any, keys ...string) bool {
	switch v := firstPresent(m, keys...).(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y", "1":
			return true
		}
	case float64:
		return v != 0
	}
	return false
}

func stringsField(m map[string]any, keys ...string) []string {
	items, _ := firstPresent(m, keys...).([]any)
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func confidenceField(v any) float64 {
	var f float64
	switch c := v.(type) {
	case float64:
		f = c
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(c), "%"), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if f > 1 {
		f = f / 100
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
