package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skiddly/skiddly/model"
)

type fakeInvoker struct {
	input  *bedrockruntime.InvokeModelInput
	output []byte
	err    error
}

func (f *fakeInvoker) InvokeModel(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.output}, nil
}

func bedrockBody(text string) []byte {
	body, _ := json.Marshal(map[string]any{
		"content":     []map[string]string{{"type": "text", "text": text}},
		"stop_reason": "end_turn",
	})
	return body
}

func TestBedrockClassifier_Classify(t *testing.T) {
	invoker := &fakeInvoker{output: bedrockBody(`Here is the classification:
{"summary":"Customer already bought it","callOutcome":"completed_purchase","confidence":0.97,"structuredData":{"purchaseCompleted":true}}`)}
	classifier := NewBedrockClassifierWithClient(invoker, "")

	result, err := classifier.Classify(context.Background(), ClassificationRequest{Transcript: "User: I already ordered, thanks"})

	require.NoError(t, err)
	assert.Equal(t, model.OutcomeCompletedPurchase, result.Outcome)
	assert.True(t, result.StructuredData.PurchaseCompleted)

	require.NotNil(t, invoker.input)
	assert.Equal(t, DefaultBedrockModel, aws.ToString(invoker.input.ModelId))
	assert.Equal(t, "application/json", aws.ToString(invoker.input.ContentType))

	var sent bedrockRequest
	require.NoError(t, json.Unmarshal(invoker.input.Body, &sent))
	assert.Equal(t, "bedrock-2023-05-31", sent.AnthropicVersion)
	require.Len(t, sent.Messages, 1)
	assert.Contains(t, sent.Messages[0].Content[0].Text, "I already ordered, thanks")
	assert.Contains(t, sent.Messages[0].Content[0].Text, "completed_purchase")
}

func TestBedrockClassifier_InvokeError(t *testing.T) {
	classifier := NewBedrockClassifierWithClient(&fakeInvoker{err: errors.New("throttled")}, "custom-model")

	_, err := classifier.Classify(context.Background(), ClassificationRequest{Transcript: "User: hi"})

	var unavailableErr *ClassificationUnavailableError
	require.True(t, errors.As(err, &unavailableErr))
	assert.Contains(t, err.Error(), "throttled")
}

func TestBedrockClassifier_GarbageBody(t *testing.T) {
	classifier := NewBedrockClassifierWithClient(&fakeInvoker{output: []byte("<html>")}, "")

	_, err := classifier.Classify(context.Background(), ClassificationRequest{Transcript: "User: hi"})

	var unavailableErr *ClassificationUnavailableError
	assert.True(t, errors.As(err, &unavailableErr))
}
