package analytics

import (
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/posthog/posthog-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTracker struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingTracker) Track(_ string, event string, _ map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingTracker) Close() error { return nil }

func (r *recordingTracker) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestPostHog_FlushesOnClose(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("POST", `=~^https://ph\.test/batch`, httpmock.NewStringResponder(200, `{"status":1}`))

	tracker, err := NewPostHog("phc_test", posthog.Config{
		Endpoint:  "https://ph.test",
		Transport: transport,
		BatchSize: 10,
		Interval:  time.Hour,
	})
	require.NoError(t, err)

	tracker.Track("shop_1", EventCallCompleted, map[string]interface{}{"outcome": "customer_busy"})
	tracker.Track("shop_1", EventCaseClosed, map[string]interface{}{"final_action": "order_completed"})
	require.NoError(t, tracker.Close())

	assert.GreaterOrEqual(t, transport.GetTotalCallCount(), 1)
}

func TestNoop(t *testing.T) {
	var tracker Tracker = Noop{}
	tracker.Track("x", EventCaseOpened, nil)
	assert.NoError(t, tracker.Close())
}

func TestHeartbeat(t *testing.T) {
	rec := &recordingTracker{}
	stop := make(chan struct{})

	Heartbeat(rec, "instance-1", 10*time.Millisecond, stop)
	assert.Eventually(t, func() bool { return rec.count() >= 2 }, time.Second, 5*time.Millisecond)
	close(stop)
}
