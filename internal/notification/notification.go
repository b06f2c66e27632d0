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

package notification

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skiddly/skiddly/config"
	"github.com/skiddly/skiddly/internal/request"
)

// SystemErrorEvent is the webhook event emitted for operator-facing failures.
const SystemErrorEvent = "system.error"

// WebhookSender delivers an event to the tenant-facing webhook queue.
type WebhookSender func(event string, payload interface{}) error

var (
	senderMu      sync.RWMutex
	webhookSender WebhookSender
)

// RegisterWebhookSender installs the sender NotifyError forwards to. The service registers
// itself on startup; a later registration replaces the earlier one.
func RegisterWebhookSender(sender WebhookSender) {
	senderMu.Lock()
	defer senderMu.Unlock()
	webhookSender = sender
}

func currentSender() WebhookSender {
	senderMu.RLock()
	defer senderMu.RUnlock()
	return webhookSender
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

func slackPayload(err error, at time.Time) slackMessage {
	return slackMessage{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: "Error From Skiddly 🐞", Emoji: true}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: "*Error:*\n" + err.Error()}}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: "*Time:*\n" + at.Format(time.RFC822)}}},
	}}
}

// SlackNotification posts err to the given Slack incoming webhook.
func SlackNotification(ctx context.Context, webhookURL string, err error) error {
	payload, marshalErr := request.ToJsonReq(slackPayload(err, time.Now()))
	if marshalErr != nil {
		return marshalErr
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, payload)
	if reqErr != nil {
		return reqErr
	}

	_, callErr := request.Call(req, nil)
	return callErr
}

// NotifyError reports an operator-facing failure without blocking the caller. It logs,
// posts to Slack when configured and emits a system.error webhook when a sender is registered.
func NotifyError(systemError error) {
	go notify(systemError)
}

func notify(systemError error) {
	logrus.Error(systemError)

	conf, err := config.Fetch()
	if err != nil {
		logrus.Warn(err)
		return
	}

	if conf.Notification.Slack.WebhookUrl != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := SlackNotification(ctx, conf.Notification.Slack.WebhookUrl, systemError); err != nil {
			logrus.Errorf("slack notification failed: %v", err)
		}
	}

	if sender := currentSender(); sender != nil {
		payload := map[string]interface{}{"error": systemError.Error(), "time": time.Now().UTC()}
		if err := sender(SystemErrorEvent, payload); err != nil {
			logrus.Errorf("system error webhook failed: %v", err)
		}
	}
}
