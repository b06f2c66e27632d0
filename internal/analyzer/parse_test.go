package analyzer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiddly/skiddly/model"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", `Sure! Here it is: {"a":{"b":2}} hope that helps`, `{"a":{"b":2}}`},
		{"brace in string", `{"summary":"customer said }{ weird","a":1}`, `{"summary":"customer said }{ weird","a":1}`},
		{"escaped quote", `{"s":"he said \"hi}\""}`, `{"s":"he said \"hi}\""}`},
		{"unbalanced", `{"a":1`, ""},
		{"none", "no json here", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.input))
		})
	}
}

func TestParseClassification_Lenient(t *testing.T) {
	payload := "```json\n" + `{
		"summary": "Customer wants free shipping",
		"call_outcome": "Wants Free Shipping",
		"confidence": "85%",
		"structured_data": {
			"free_shipping_requested": "yes",
			"objections": ["shipping cost", ""],
			"reschedule_time": "null"
		}
	}` + "\n```"

	result, err := parseClassification(payload)

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeWantsFreeShipping, result.Outcome)
	assert.InDelta(t, 0.85, result.Confidence, 0.0001)
	assert.True(t, result.StructuredData.FreeShippingRequested)
	assert.Equal(t, []string{"shipping cost"}, result.StructuredData.Objections)
	assert.Empty(t, result.StructuredData.RescheduleTime)
}

func TestParseClassification_Aliases(t *testing.T) {
	result, err := parseClassification(`{"outcome":"do-not-call","confidence":170}`)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeDoNotCallRequest, result.Outcome)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestParseClassification_Errors(t *testing.T) {
	for _, payload := range []string{"", "I could not classify this call.", `{"summary":"no outcome"}`, `{"callOutcome": }`} {
		_, err := parseClassification(payload)
		var unavailableErr *ClassificationUnavailableError
		assert.True(t, errors.As(err, &unavailableErr), payload)
	}
}

func TestParseClassification_UnknownOutcomePassesThrough(t *testing.T) {
	result, err := parseClassification(`{"callOutcome":"left_voicemail"}`)
	require.NoError(t, err)
	assert.False(t, result.Outcome.IsValid())
}

func TestExtractContentFromChoices(t *testing.T) {
	body := []byte(`{"choices":[{"message":{"role":"assistant","content":"` + "```json\\n{\\\"callOutcome\\\":\\\"customer_busy\\\"}\\n```" + `"}}]}`)
	assert.Equal(t, `{"callOutcome":"customer_busy"}`, extractContentFromChoices(body))

	assert.Empty(t, extractContentFromChoices([]byte(`{"choices":[]}`)))
	assert.Empty(t, extractContentFromChoices([]byte(`not json`)))
}
