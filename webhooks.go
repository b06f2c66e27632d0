/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package skiddly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/skiddly/skiddly/config"
	"github.com/skiddly/skiddly/internal/request"
	"github.com/skiddly/skiddly/model"
)

// Outbound webhook events.
const (
	CaseEventOpened      = "case.opened"
	CaseEventClosed      = "case.closed"
	CaseEventMarkedDNC   = "case.marked_dnc"
	CaseEventSMSDiscount = "case.sms_discount"
	CallEventDispatched  = "call.dispatched"
	CallEventCompleted   = "call.completed"
	CallEventFailed      = "call.failed"
)

// NewWebhook represents the structure of a webhook notification.
// It includes an event type and associated payload data.
type NewWebhook struct {
	Event   string      `json:"event"` // The event type that triggered the webhook.
	Payload interface{} `json:"data"`  // The data associated with the event.
}

// SMSDiscount is the payload of case.sms_discount. The tenant's messaging integration
// delivers Body to PhoneNumber.
type SMSDiscount struct {
	CaseID       string `json:"case_id"`
	TenantID     string `json:"tenant_id"`
	CheckoutID   string `json:"checkout_id"`
	PhoneNumber  string `json:"phone_number"`
	DiscountCode string `json:"discount_code,omitempty"`
	Body         string `json:"body"`
}

// notify enqueues a webhook when a webhook url is configured.
func (s *Skiddly) notify(ctx context.Context, event string, payload interface{}) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}
	if s.queue == nil {
		return processHTTP(ctx, conf, NewWebhook{Event: event, Payload: payload})
	}
	return s.queue.EnqueueWebhook(ctx, NewWebhook{Event: event, Payload: payload})
}

// emit is notify for callers that must not fail because of a webhook.
func (s *Skiddly) emit(ctx context.Context, event string, payload interface{}) {
	if err := s.notify(ctx, event, payload); err != nil {
		logrus.WithError(err).WithField("event", event).Debug("webhook not sent")
	}
}

func processHTTP(ctx context.Context, conf *config.Configuration, data NewWebhook) error {
	payload, err := request.ToJsonReq(data)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.Notification.Webhook.Url, payload)
	if err != nil {
		return err
	}
	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	_, err = request.Call(req, nil)
	var statusErr *request.StatusError
	if errors.As(err, &statusErr) && !statusErr.Retryable() {
		// the receiver rejected the payload, retrying will not change that
		return fmt.Errorf("webhook %s rejected: %w: %w", data.Event, err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}

	logrus.WithField("event", data.Event).Info("webhook notification sent")
	return nil
}

// ProcessWebhook processes a webhook notification task from the queue.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.Errorf("Error unmarshaling task payload: %v", err)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return processHTTP(ctx, conf, payload)
}

// smsBindings are the variables available to an agent's SMS template.
func smsBindings(agent *model.Agent, cart *model.Cart) map[string]interface{} {
	bindings := map[string]interface{}{
		"discount_code": agent.DiscountCode,
		"agent":         map[string]interface{}{"name": agent.Name},
	}
	if cart != nil {
		bindings["customer"] = map[string]interface{}{
			"first_name": cart.Customer.FirstName,
			"last_name":  cart.Customer.LastName,
			"email":      cart.Customer.Email,
		}
		items := make([]map[string]interface{}, 0, len(cart.LineItems))
		for _, item := range cart.LineItems {
			items = append(items, map[string]interface{}{"title": item.Title, "quantity": item.Quantity})
		}
		bindings["cart"] = map[string]interface{}{
			"total":      cart.Total.StringFixed(2),
			"currency":   cart.Currency,
			"line_items": items,
		}
	}
	return bindings
}

// RenderSMS renders an agent's discount text for a cart.
func (s *Skiddly) RenderSMS(agent *model.Agent, cart *model.Cart) (string, error) {
	tpl := agent.SMSTemplate
	if tpl == "" {
		tpl = model.DefaultSMSTemplate
	}
	out, err := s.liquid.ParseAndRenderString(tpl, smsBindings(agent, cart))
	if err != nil {
		return "", err
	}
	return out, nil
}

func (s *Skiddly) sendDiscountSMS(ctx context.Context, c *model.AbandonedCartCase, agent *model.Agent) error {
	if agent == nil {
		return errors.New("case has no agent to render the discount text")
	}
	cart, err := s.datasource.GetCart(ctx, c.TenantID, c.CheckoutID)
	if err != nil {
		return err
	}
	body, err := s.RenderSMS(agent, cart)
	if err != nil {
		return err
	}
	return s.notify(ctx, CaseEventSMSDiscount, SMSDiscount{
		CaseID:       c.CaseID,
		TenantID:     c.TenantID,
		CheckoutID:   c.CheckoutID,
		PhoneNumber:  c.PhoneNumber,
		DiscountCode: agent.DiscountCode,
		Body:         body,
	})
}
