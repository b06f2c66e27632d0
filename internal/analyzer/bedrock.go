package analyzer

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/skiddly/skiddly/model"
)

// DefaultBedrockModel is used when no model id is configured.
const DefaultBedrockModel = "anthropic.claude-3-haiku-20240307-v1:0"

// ModelInvoker is the part of the Bedrock runtime client the classifier needs.
type ModelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type bedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type bedrockMessage struct {
	Role    string                `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// BedrockClassifier classifies transcripts with an Anthropic model hosted on AWS Bedrock.
type BedrockClassifier struct {
	client    ModelInvoker
	modelID   string
	maxTokens int
}

// NewBedrockClassifier loads the default AWS credential chain for region.
func NewBedrockClassifier(ctx context.Context, region, modelID string) (*BedrockClassifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return NewBedrockClassifierWithClient(bedrockruntime.NewFromConfig(cfg), modelID), nil
}

func NewBedrockClassifierWithClient(client ModelInvoker, modelID string) *BedrockClassifier {
	if modelID == "" {
		modelID = DefaultBedrockModel
	}
	return &BedrockClassifier{client: client, modelID: modelID, maxTokens: 1024}
}

func (b *BedrockClassifier) Classify(ctx context.Context, req ClassificationRequest) (*model.AnalysisResult, error) {
	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        b.maxTokens,
		System:           classificationSystemPrompt,
		Messages: []bedrockMessage{{
			Role:    "user",
			Content: []bedrockContentBlock{{Type: "text", Text: BuildClassificationPrompt(req)}},
		}},
		Temperature: 0,
	})
	if err != nil {
		return nil, unavailable("encode bedrock request: %v", err)
	}

	output, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, unavailable("bedrock invoke: %v", err)
	}

	var response bedrockResponse
	if err := json.Unmarshal(output.Body, &response); err != nil {
		return nil, unavailable("decode bedrock response: %v", err)
	}

	var text strings.Builder
	for _, content := range response.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}
	return parseClassification(text.String())
}
