package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiddly/skiddly/model"
)

const gatewayURL = "https://llm.example.com/v1/chat/completions"

func chatResponse(content string) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"role": "assistant", "content": content}},
		},
	})
	return string(body)
}

func newTestGateway() *GatewayClassifier {
	g := NewGatewayClassifier(gatewayURL, "test-key", "gpt-4o-mini")
	g.MaxRetryTime = 3 * time.Second
	return g
}

func TestGatewayClassifier_Success(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", gatewayURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "Bearer test-key", req.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body["model"])

		content := "```json\n" + `{"summary":"Customer will call back","callOutcome":"reschedule_request","confidence":0.91,
			"structuredData":{"rescheduleRequested":true,"rescheduleTime":"3:00 PM","rescheduleDate":"tomorrow","rescheduleTimezone":"EST"}}` + "\n```"
		return httpmock.NewStringResponse(200, chatResponse(content)), nil
	})

	result, err := newTestGateway().Classify(context.Background(), ClassificationRequest{
		Transcript:  "User: call me tomorrow at 3 PM EST",
		EndedReason: "customer-ended-call",
		AsOf:        time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC),
	})

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRescheduleRequest, result.Outcome)
	assert.Equal(t, "3:00 PM", result.StructuredData.RescheduleTime)
	assert.Equal(t, "tomorrow", result.StructuredData.RescheduleDate)
	assert.Equal(t, "EST", result.StructuredData.RescheduleTimezone)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestGatewayClassifier_ClientErrorIsPermanent(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", gatewayURL, httpmock.NewStringResponder(401, `{"error":"bad key"}`))

	_, err := newTestGateway().Classify(context.Background(), ClassificationRequest{Transcript: "User: hi"})

	var unavailableErr *ClassificationUnavailableError
	require.True(t, errors.As(err, &unavailableErr))
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestGatewayClassifier_RetriesServerErrors(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", gatewayURL,
		httpmock.NewStringResponder(503, "unavailable").
			Then(httpmock.NewStringResponder(200, chatResponse(`{"callOutcome":"customer_busy","confidence":0.7}`))))

	result, err := newTestGateway().Classify(context.Background(), ClassificationRequest{Transcript: "User: I'm busy"})

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeCustomerBusy, result.Outcome)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestGatewayClassifier_UnparseableOutput(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", gatewayURL, httpmock.NewStringResponder(200, chatResponse("I am not sure what happened on this call.")))

	_, err := newTestGateway().Classify(context.Background(), ClassificationRequest{Transcript: "User: ..."})

	var unavailableErr *ClassificationUnavailableError
	assert.True(t, errors.As(err, &unavailableErr))
}

func TestGatewayClassifier_NotConfigured(t *testing.T) {
	_, err := NewGatewayClassifier("", "", "").Classify(context.Background(), ClassificationRequest{Transcript: "User: hi"})
	var unavailableErr *ClassificationUnavailableError
	assert.True(t, errors.As(err, &unavailableErr))
}

func TestAnalyze_GatewayFailureFallsBack(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", gatewayURL, httpmock.NewStringResponder(400, "bad request"))

	result := New(newTestGateway()).Analyze(context.Background(), "User: who is this?", "customer-ended-call", time.Now())

	assert.Equal(t, model.AnalysisMethodFallback, result.AnalysisMethod)
	assert.Equal(t, model.OutcomeNotInterested, result.Outcome)
}
