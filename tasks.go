package skiddly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/skiddly/skiddly/internal/apierror"
	"github.com/skiddly/skiddly/internal/request"
	"github.com/skiddly/skiddly/model"
)

// RegisterHandlers wires every task type onto mux.
func (s *Skiddly) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskDispatchCall, s.ProcessDispatch)
	mux.HandleFunc(TaskCallResult, s.ProcessCallResult)
	mux.HandleFunc(TaskResultTimeout, s.ProcessResultTimeout)
	mux.HandleFunc(TaskWebhook, ProcessWebhook)
	mux.HandleFunc(TaskScan, s.ProcessScan)
}

// permanent reports whether retrying err can never succeed.
func permanent(err error) bool {
	if IsValidationError(err) {
		return true
	}
	switch apierror.CodeOf(err) {
	case apierror.ErrNotFound, apierror.ErrInvalidInput, apierror.ErrBadRequest:
		return true
	}
	var statusErr *request.StatusError
	if errors.As(err, &statusErr) && !statusErr.Retryable() {
		return true
	}
	var unreachable *model.UnreachableOutcomeError
	return errors.As(err, &unreachable)
}

func lastRetry(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	limit, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= limit
}

// ProcessDispatch places the call of a claimed attempt. Once the provider has refused it
// for good, the attempt is released and the case rescheduled.
func (s *Skiddly) ProcessDispatch(ctx context.Context, t *asynq.Task) error {
	ctx, span := tracer.Start(ctx, "Process dispatch task")
	defer span.End()

	var callID string
	if err := json.Unmarshal(t.Payload(), &callID); err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	err := s.PlaceCall(ctx, callID)
	if err == nil {
		return nil
	}
	span.RecordError(err)

	if permanent(err) || lastRetry(ctx) {
		if failErr := s.FailDispatch(ctx, callID, err); failErr != nil {
			return failErr
		}
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	logrus.WithError(err).WithField("call_id", callID).Warn("call dispatch failed, retrying")
	return err
}

func (s *Skiddly) ProcessCallResult(ctx context.Context, t *asynq.Task) error {
	ctx, span := tracer.Start(ctx, "Process call result task")
	defer span.End()

	var result model.CallResult
	if err := json.Unmarshal(t.Payload(), &result); err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	_, err := s.HandleCallResult(ctx, result)
	if err != nil && permanent(err) {
		logrus.WithError(err).WithField("call_id", result.CallID).Error("call result rejected")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

func (s *Skiddly) ProcessResultTimeout(ctx context.Context, t *asynq.Task) error {
	var callID string
	if err := json.Unmarshal(t.Payload(), &callID); err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	err := s.HandleResultTimeout(ctx, callID)
	if err != nil && permanent(err) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// ProcessScan runs one scheduler pass. Scans are never retried; the next tick covers them.
func (s *Skiddly) ProcessScan(ctx context.Context, _ *asynq.Task) error {
	run, err := s.RunScheduler(ctx, s.now())
	if err != nil {
		logrus.WithError(err).Error("scheduler pass failed")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	logrus.WithFields(logrus.Fields{
		"opened":  run.Opened.Opened,
		"claimed": run.Dispatched.Claimed,
	}).Debug("scheduler pass finished")
	return nil
}
