package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/skiddly/skiddly/model"
)

// GatewayClassifier classifies transcripts through an OpenAI-compatible chat completions endpoint.
type GatewayClassifier struct {
	URL          string
	APIKey       string
	Model        string
	HTTPClient   *http.Client
	Timeout      time.Duration
	MaxRetryTime time.Duration
}

// NewGatewayClassifier returns a GatewayClassifier with the default timeouts.
func NewGatewayClassifier(url, apiKey, modelName string) *GatewayClassifier {
	return &GatewayClassifier{
		URL:          url,
		APIKey:       apiKey,
		Model:        modelName,
		HTTPClient:   &http.Client{},
		Timeout:      25 * time.Second,
		MaxRetryTime: 45 * time.Second,
	}
}

func (g *GatewayClassifier) Classify(ctx context.Context, req ClassificationRequest) (*model.AnalysisResult, error) {
	if g.URL == "" || g.APIKey == "" {
		return nil, unavailable("llm gateway not configured")
	}

	reqBody := map[string]any{
		"model": g.Model,
		"messages": []map[string]string{
			{"role": "system", "content": classificationSystemPrompt},
			{"role": "user", "content": BuildClassificationPrompt(req)},
		},
		"temperature": 0.0,
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, unavailable("encode gateway request: %v", err)
	}

	client := g.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = 25 * time.Second
	}

	log := logrus.WithField("component", "analyzer-gateway")
	var result *model.AnalysisResult
	var lastErr error

	op := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, g.URL, bytes.NewReader(data))
		if err != nil {
			lastErr = err
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+g.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(httpReq)
		if err != nil {
			lastErr = err
			log.WithError(err).Warn("llm request failed")
			return err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 400 {
			lastErr = fmt.Errorf("llm gateway returned status %d", resp.StatusCode)
			if resp.StatusCode < 500 {
				return backoff.Permanent(lastErr)
			}
			return lastErr
		}

		payload := extractContentFromChoices(body)
		if payload == "" {
			payload = extractJSON(string(body))
		}
		parsed, err := parseClassification(payload)
		if err != nil {
			// the model answered but not usefully; retrying the same prompt rarely helps
			lastErr = err
			return backoff.Permanent(err)
		}
		result = parsed
		lastErr = nil
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = g.MaxRetryTime
	if b.MaxElapsedTime <= 0 {
		b.MaxElapsedTime = 45 * time.Second
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		var unavailableErr *ClassificationUnavailableError
		if errors.As(lastErr, &unavailableErr) {
			return nil, unavailableErr
		}
		return nil, &ClassificationUnavailableError{Cause: lastErr}
	}
	return result, nil
}
