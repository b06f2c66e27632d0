// Package vapi places outbound calls through the VAPI voice platform and reads its
// end-of-call reports.
package vapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/skiddly/skiddly/internal/request"
	"github.com/skiddly/skiddly/model"
)

const DefaultBaseURL = "https://api.vapi.ai"

type Customer struct {
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

type AssistantOverrides struct {
	VariableValues map[string]string `json:"variableValues,omitempty"`
}

type CreateCallRequest struct {
	AssistantID        string              `json:"assistantId"`
	PhoneNumberID      string              `json:"phoneNumberId"`
	Customer           Customer            `json:"customer"`
	AssistantOverrides *AssistantOverrides `json:"assistantOverrides,omitempty"`
	Metadata           map[string]string   `json:"metadata,omitempty"`
}

type CallResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type Client struct {
	BaseURL      string
	APIKey       string
	HTTPClient   *http.Client
	MaxRetryTime time.Duration
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		APIKey:       apiKey,
		HTTPClient:   &http.Client{Timeout: timeout},
		MaxRetryTime: 30 * time.Second,
	}
}

// CreateCall asks VAPI to place a call. Transport errors, 429 and 5xx are retried with
// exponential backoff; other 4xx responses fail immediately.
func (c *Client) CreateCall(ctx context.Context, req CreateCallRequest) (*CallResponse, error) {
	if c.APIKey == "" {
		return nil, errors.New("vapi api key is not configured")
	}

	var out CallResponse
	op := func() error {
		payload, err := request.ToJsonReq(req)
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/call", payload)
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

		_, err = request.CallWith(c.HTTPClient, httpReq, &out)
		var statusErr *request.StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return backoff.Permanent(err)
		}
		if err != nil {
			logrus.WithError(err).WithField("assistant_id", req.AssistantID).Warn("vapi create call failed, retrying")
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.MaxRetryTime
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, errors.Wrap(err, "vapi create call")
	}
	if out.ID == "" {
		return nil, errors.New("vapi create call: response has no call id")
	}
	return &out, nil
}

// DispatchCall places the call for one attempt and returns the provider call id.
func (c *Client) DispatchCall(ctx context.Context, d model.DispatchRequest) (string, error) {
	metadata := map[string]string{
		"callId":  d.CallID,
		"caseId":  d.CaseID,
		"agentId": d.AgentID,
	}
	for k, v := range d.Metadata {
		metadata[k] = v
	}

	req := CreateCallRequest{
		AssistantID:   d.AssistantID,
		PhoneNumberID: d.PhoneNumberID,
		Customer:      Customer{Number: d.PhoneNumber},
		Metadata:      metadata,
	}
	if d.Prompt != "" || len(d.Metadata) > 0 {
		vars := map[string]string{"prompt": d.Prompt}
		for k, v := range d.Metadata {
			vars[k] = v
		}
		req.AssistantOverrides = &AssistantOverrides{VariableValues: vars}
	}

	resp, err := c.CreateCall(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}
