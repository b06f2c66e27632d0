/*
Copyright 2024 Skiddly Authors.

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
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/skiddly/skiddly/internal/analytics"
	redlock "github.com/skiddly/skiddly/internal/lock"
	"github.com/skiddly/skiddly/internal/notification"
	"github.com/skiddly/skiddly/model"
)

// EndedReasonResultTimeout is recorded on calls whose result never arrived.
const EndedReasonResultTimeout = "result-timeout"

// HandleCallResult records the result of a call and moves its case on. Each call is
// handled once: a duplicate callback returns the stored call and changes nothing.
func (s *Skiddly) HandleCallResult(ctx context.Context, result model.CallResult) (*model.Call, error) {
	ctx, span := tracer.Start(ctx, "HandleCallResult")
	defer span.End()

	if strings.TrimSpace(result.CallID) == "" {
		return nil, invalid("callId", "is required")
	}
	span.SetAttributes(attribute.String("call.id", result.CallID))

	call, err := s.datasource.GetCall(ctx, result.CallID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if result.CaseID != "" && result.CaseID != call.CaseID {
		return nil, invalid("caseId", "does not belong to the call")
	}
	if call.HasOutcome() {
		logrus.WithField("call_id", call.CallID).Info("duplicate call result ignored")
		return call, nil
	}

	var handled *model.Call
	err = s.withLock(ctx, redlock.CaseKey(call.CaseID), func() error {
		handled, err = s.applyCallResult(ctx, call.CallID, result)
		return err
	})
	if err != nil {
		return nil, logAndRecordError(span, "failed to apply call result", err)
	}
	return handled, nil
}

func (s *Skiddly) applyCallResult(ctx context.Context, callID string, result model.CallResult) (*model.Call, error) {
	// re-read under the case lock, a concurrent duplicate may have won
	call, err := s.datasource.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.HasOutcome() {
		return call, nil
	}
	c, err := s.datasource.GetCaseByID(ctx, call.CaseID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	endedAt := result.EndedAt
	if endedAt.IsZero() {
		endedAt = now
	}

	analysis := s.analyzer.Analyze(ctx, result.Transcript, result.EndedReason, endedAt)
	action, err := model.MapToFinalAction(analysis.Outcome)
	if err != nil {
		notification.NotifyError(err)
		return nil, err
	}

	call.Status = model.CallStatusCompleted
	call.EndedAt = &endedAt
	if !result.StartedAt.IsZero() {
		startedAt := result.StartedAt
		call.StartedAt = &startedAt
		if d := endedAt.Sub(startedAt); d > 0 {
			call.DurationSeconds = int(d / time.Second)
		}
	}
	call.Transcript = result.Transcript
	call.RecordingURL = result.RecordingURL
	call.EndedReason = result.EndedReason
	call.Outcome = analysis.Outcome
	call.FinalAction = action
	call.Analysis = analysis

	recorded, err := s.datasource.RecordCallOutcome(ctx, call)
	if err != nil {
		return nil, err
	}
	if !recorded {
		return s.datasource.GetCall(ctx, callID)
	}

	logger := logrus.WithFields(logrus.Fields{
		"case_id":      c.CaseID,
		"call_id":      call.CallID,
		"attempt":      call.Attempt,
		"outcome":      analysis.Outcome,
		"final_action": action,
		"method":       analysis.AnalysisMethod,
	})
	logger.Info("call result recorded")
	s.emit(ctx, CallEventCompleted, call)
	s.analytics.Track(c.TenantID, analytics.EventCallCompleted, map[string]interface{}{
		"outcome":         string(analysis.Outcome),
		"final_action":    string(action),
		"analysis_method": string(analysis.AnalysisMethod),
	})

	agent, err := s.agentForCase(ctx, c)
	if err != nil {
		return nil, err
	}

	// a do-not-call request is honoured even when the case already closed
	if action == model.ActionMarkedDNC {
		if err := s.datasource.AddDoNotContact(ctx, c.TenantID, c.PhoneNumber, string(analysis.Outcome)); err != nil {
			return nil, err
		}
	}

	if c.IsTerminal() {
		logger.Info("case closed while the call was in flight, leaving it closed")
		return call, nil
	}

	schedule, err := s.scheduleFor(agent)
	if err != nil {
		return nil, err
	}
	transition := NextTransition(c, call, analysis, schedule, now)
	applied, err := s.datasource.ApplyCaseTransition(ctx, transition)
	if err != nil {
		return nil, err
	}
	if !applied {
		logger.Info("case moved on before the result was applied")
		return call, nil
	}

	if action == model.ActionSMSDiscountCode {
		if err := s.sendDiscountSMS(ctx, c, agent); err != nil {
			logger.WithError(err).Error("failed to send discount text")
		}
	}

	c.State = transition.State
	c.NextCallTime = transition.NextCallTime
	c.FinalAction = transition.FinalAction
	c.TerminalReason = transition.TerminalReason
	c.LastOutcome = transition.LastOutcome
	c.DoNotContact = c.DoNotContact || transition.DoNotContact
	if c.DoNotContact {
		s.emit(ctx, CaseEventMarkedDNC, c)
	}
	if c.State == model.CaseStateTerminal {
		s.emit(ctx, CaseEventClosed, c)
		s.trackCase(c, analytics.EventCaseClosed)
	}
	return call, nil
}

// NextTransition computes the case state that follows a call. Terminal actions close the
// case; the others schedule a retry, or close the case when the attempts are used up.
func NextTransition(c *model.AbandonedCartCase, call *model.Call, analysis *model.AnalysisResult, schedule Schedule, now time.Time) model.CaseTransition {
	action := call.FinalAction
	t := model.CaseTransition{
		CaseID:           c.CaseID,
		ExpectedAttempts: call.Attempt,
		FinalAction:      action,
		LastOutcome:      analysis.Outcome,
	}

	if action.IsTerminal() {
		t.State = model.CaseStateTerminal
		switch action {
		case model.ActionMarkedDNC:
			t.DoNotContact = true
			t.TerminalReason = model.TerminalReasonDoNotContact
		case model.ActionOrderCompleted:
			t.TerminalReason = model.TerminalReasonOrderCompleted
		default:
			t.TerminalReason = model.TerminalReasonOutcome
		}
		return t
	}

	lastAttempt := now
	if call.EndedAt != nil {
		lastAttempt = *call.EndedAt
	}
	next := schedule.Retry(call.Attempt, lastAttempt, now, &analysis.StructuredData)
	if next == nil {
		t.State = model.CaseStateTerminal
		t.TerminalReason = model.TerminalReasonAttemptsExhausted
		if action != model.ActionSMSDiscountCode {
			t.FinalAction = model.ActionNoActionRequired
		}
		return t
	}

	t.State = model.CaseStateRetryScheduled
	t.NextCallTime = next
	return t
}

// HandleResultTimeout closes out a dispatched call whose result never arrived by
// classifying it from a synthetic ended reason.
func (s *Skiddly) HandleResultTimeout(ctx context.Context, callID string) error {
	call, err := s.datasource.GetCall(ctx, callID)
	if err != nil {
		return err
	}
	if call.HasOutcome() || call.Status != model.CallStatusDispatched {
		return nil
	}
	logrus.WithFields(logrus.Fields{"case_id": call.CaseID, "call_id": call.CallID}).Warn("no result received for call")
	_, err = s.HandleCallResult(ctx, model.CallResult{
		CallID:      call.CallID,
		CaseID:      call.CaseID,
		EndedReason: EndedReasonResultTimeout,
	})
	return err
}

// MarkDoNotContact stops all further calls for a case and suppresses its phone number for
// the tenant. It works on open and closed cases alike.
func (s *Skiddly) MarkDoNotContact(ctx context.Context, caseID, reason string) (*model.AbandonedCartCase, error) {
	ctx, span := tracer.Start(ctx, "MarkDoNotContact")
	defer span.End()

	c, err := s.datasource.GetCaseByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = model.TerminalReasonDoNotContact
	}

	if _, err := s.datasource.MarkCaseDoNotContact(ctx, caseID, reason); err != nil {
		return nil, err
	}
	if c.PhoneNumber != "" {
		if err := s.datasource.AddDoNotContact(ctx, c.TenantID, c.PhoneNumber, reason); err != nil {
			return nil, err
		}
	}

	updated, err := s.datasource.GetCaseByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !c.DoNotContact {
		s.emit(ctx, CaseEventMarkedDNC, updated)
	}
	return updated, nil
}

// GetCase returns a case with its calls in attempt order.
func (s *Skiddly) GetCase(ctx context.Context, caseID string) (*model.AbandonedCartCase, []*model.Call, error) {
	c, err := s.datasource.GetCaseByID(ctx, caseID)
	if err != nil {
		return nil, nil, err
	}
	calls, err := s.datasource.GetCallsByCase(ctx, caseID)
	if err != nil {
		return nil, nil, err
	}
	return c, calls, nil
}

// SchedulerRun is the outcome of one scheduler pass.
type SchedulerRun struct {
	Opened     OpenSummary     `json:"opened"`
	Dispatched DispatchSummary `json:"dispatched"`
}

// RunScheduler opens cases for newly abandoned carts, then dispatches every due attempt.
func (s *Skiddly) RunScheduler(ctx context.Context, now time.Time) (SchedulerRun, error) {
	ctx, span := tracer.Start(ctx, "RunScheduler")
	defer span.End()

	run := SchedulerRun{}
	opened, openErr := s.OpenCasesForAbandonedCarts(ctx, now)
	run.Opened = opened

	// dispatch still runs when the abandonment scan failed
	dispatched, dispatchErr := s.DispatchDue(ctx, now)
	run.Dispatched = dispatched

	if err := errors.Join(openErr, dispatchErr); err != nil {
		span.RecordError(err)
		return run, err
	}
	return run, nil
}

func (s *Skiddly) trackCase(c *model.AbandonedCartCase, event string) {
	s.analytics.Track(c.TenantID, event, map[string]interface{}{
		"qualified":       c.Qualified,
		"state":           string(c.State),
		"final_action":    string(c.FinalAction),
		"terminal_reason": c.TerminalReason,
		"attempts":        c.TotalAttempts,
	})
}
