package analytics

import (
	"time"

	"github.com/posthog/posthog-go"
	"github.com/sirupsen/logrus"
)

// Product analytics events.
const (
	EventCaseOpened     = "case_opened"
	EventCallDispatched = "call_dispatched"
	EventCallCompleted  = "call_completed"
	EventCaseClosed     = "case_closed"
	EventHeartbeat      = "server_heartbeat"
)

// Tracker records product analytics. Implementations must not block the caller.
type Tracker interface {
	Track(distinctID, event string, properties map[string]interface{})
	Close() error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Track(string, string, map[string]interface{}) {}
func (Noop) Close() error                                 { return nil }

// PostHog sends events through a posthog-go client, which batches in the background.
type PostHog struct {
	client posthog.Client
}

func NewPostHog(apiKey string, config posthog.Config) (*PostHog, error) {
	client, err := posthog.NewWithConfig(apiKey, config)
	if err != nil {
		return nil, err
	}
	return &PostHog{client: client}, nil
}

func (p *PostHog) Track(distinctID, event string, properties map[string]interface{}) {
	props := posthog.NewProperties()
	for k, v := range properties {
		props.Set(k, v)
	}
	err := p.client.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event,
		Properties: props,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		logrus.Warnf("analytics: failed to enqueue %s: %v", event, err)
	}
}

func (p *PostHog) Close() error {
	return p.client.Close()
}

// Heartbeat tracks a server_heartbeat every interval until stop is closed.
func Heartbeat(t Tracker, instanceID string, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Track(instanceID, EventHeartbeat, map[string]interface{}{"timestamp": time.Now().UTC()})
			case <-stop:
				return
			}
		}
	}()
}
