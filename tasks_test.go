package skiddly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/skiddly/skiddly/database"
	"github.com/skiddly/skiddly/database/mocks"
	"github.com/skiddly/skiddly/internal/request"
	"github.com/skiddly/skiddly/model"
)

func TestPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "validation", err: invalid("callId", "is required"), want: true},
		{name: "not found", err: notFound("call"), want: true},
		{name: "rejected request", err: fmt.Errorf("dispatch: %w", &request.StatusError{StatusCode: 422}), want: true},
		{name: "provider outage", err: &request.StatusError{StatusCode: 503}, want: false},
		{name: "rate limited", err: &request.StatusError{StatusCode: 429}, want: false},
		{name: "unreachable outcome", err: &model.UnreachableOutcomeError{Outcome: "maybe"}, want: true},
		{name: "network", err: errors.New("connection reset"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, permanent(tt.err))
		})
	}
}

func callIDTask(t *testing.T, taskType, callID string) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(callID)
	require.NoError(t, err)
	return asynq.NewTask(taskType, data)
}

func TestProcessDispatch_RejectedCallIsFailedAndNotRetried(t *testing.T) {
	ds := new(mocks.MockDataSource)
	now := nyTime(time.January, 11, 9, 0)
	dispatcher := &fakeDispatcher{err: &request.StatusError{StatusCode: 400, Body: "invalid number"}}
	s := newTestSkiddly(t, ds, now, func(o *Options) { o.Dispatcher = dispatcher })

	queued := &model.Call{CallID: "call_1", CaseID: "case_1", Attempt: 1, PhoneNumber: "+15551234567", Status: model.CallStatusQueued}
	ds.On("GetCall", mock.Anything, "call_1").Return(queued, nil)
	ds.On("GetCaseByID", mock.Anything, "case_1").Return(testCase(1, model.CaseStateAwaitingResult, nil), nil)
	ds.On("GetAgentByID", mock.Anything, "agt_1").Return(testAgent(), nil)
	ds.On("GetCart", mock.Anything, "shop_1", "chk_1").Return(testCart(nyTime(time.January, 10, 21, 0)), nil)
	ds.On("SetCallStatus", mock.Anything, "call_1", model.CallStatusFailed).Return(nil)
	ds.On("ApplyCaseTransition", mock.Anything, mock.Anything).Return(true, nil)

	err := s.ProcessDispatch(context.Background(), callIDTask(t, TaskDispatchCall, "call_1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	ds.AssertCalled(t, "SetCallStatus", mock.Anything, "call_1", model.CallStatusFailed)
	ds.AssertCalled(t, "ApplyCaseTransition", mock.Anything, mock.Anything)
}

func TestProcessDispatch_MalformedPayload(t *testing.T) {
	s := newTestSkiddly(t, new(mocks.MockDataSource), time.Now())
	err := s.ProcessDispatch(context.Background(), asynq.NewTask(TaskDispatchCall, []byte("not json")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestProcessCallResult_UnknownCallIsNotRetried(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s := newTestSkiddly(t, ds, time.Now())
	ds.On("GetCall", mock.Anything, "call_missing").Return(nil, notFound("call"))

	data, err := json.Marshal(model.CallResult{CallID: "call_missing", EndedReason: "customer-busy"})
	require.NoError(t, err)

	err = s.ProcessCallResult(context.Background(), asynq.NewTask(TaskCallResult, data))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestProcessResultTimeout_StoreErrorIsRetried(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s := newTestSkiddly(t, ds, time.Now())
	ds.On("GetCall", mock.Anything, "call_1").Return(nil, errors.New("connection reset"))

	err := s.ProcessResultTimeout(context.Background(), callIDTask(t, TaskResultTimeout, "call_1"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestProcessScan(t *testing.T) {
	ds := new(mocks.MockDataSource)
	now := nyTime(time.January, 11, 9, 0)
	s := newTestSkiddly(t, ds, now)

	ds.On("GetMinInactivityMinutes", mock.Anything).Return(0, nil)
	ds.On("GetAbandonmentCandidates", mock.Anything, mock.Anything, database.CartCursor{}, 100).Return([]*model.Cart{}, nil)
	ds.On("GetDueCases", mock.Anything, matchTime(now), database.CaseCursor{}, 100).Return([]*model.AbandonedCartCase{}, nil)

	require.NoError(t, s.ProcessScan(context.Background(), asynq.NewTask(TaskScan, nil)))
	ds.AssertExpectations(t)
}

func TestRegisterHandlers(t *testing.T) {
	s := newTestSkiddly(t, new(mocks.MockDataSource), time.Now())
	mux := asynq.NewServeMux()
	s.RegisterHandlers(mux)

	for _, taskType := range []string{TaskDispatchCall, TaskCallResult, TaskResultTimeout, TaskWebhook, TaskScan} {
		_, pattern := mux.Handler(asynq.NewTask(taskType, nil))
		assert.Equal(t, taskType, pattern)
	}
}
