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
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/skiddly/skiddly/internal/analytics"
	"github.com/skiddly/skiddly/internal/apierror"
	"github.com/skiddly/skiddly/model"
)

// DispatchSummary counts what one dispatch pass did.
type DispatchSummary struct {
	Due       int `json:"due"`
	Claimed   int `json:"claimed"`
	Conflicts int `json:"conflicts"`
	Deferred  int `json:"deferred"`
	Closed    int `json:"closed"`
	Failed    int `json:"failed"`
}

// ClaimOutcome tells what ClaimAttempt did with a due case.
type ClaimOutcome int

const (
	AttemptClaimed ClaimOutcome = iota
	AttemptDeferred
	AttemptClosed
)

// DispatchDue claims every due attempt and queues its call. Losing a claim to another
// worker is counted, not returned.
func (s *Skiddly) DispatchDue(ctx context.Context, now time.Time) (DispatchSummary, error) {
	ctx, span := tracer.Start(ctx, "DispatchDue")
	defer span.End()

	summary := DispatchSummary{}
	for c, err := range s.DueAttempts(ctx, now) {
		if err != nil {
			span.RecordError(err)
			return summary, err
		}
		summary.Due++

		_, result, err := s.ClaimAttempt(ctx, c, now)
		switch {
		case IsSchedulingConflict(err):
			summary.Conflicts++
		case err != nil:
			summary.Failed++
			logrus.WithError(err).WithField("case_id", c.CaseID).Error("failed to dispatch due case")
		case result == AttemptDeferred:
			summary.Deferred++
		case result == AttemptClosed:
			summary.Closed++
		default:
			summary.Claimed++
		}
	}

	span.SetAttributes(attribute.Int("dispatch.due", summary.Due), attribute.Int("dispatch.claimed", summary.Claimed))
	if summary.Due > 0 {
		logrus.WithFields(logrus.Fields{
			"due":       summary.Due,
			"claimed":   summary.Claimed,
			"conflicts": summary.Conflicts,
			"deferred":  summary.Deferred,
			"closed":    summary.Closed,
			"failed":    summary.Failed,
		}).Info("dispatch pass finished")
	}
	return summary, nil
}

// ClaimAttempt re-reads the state behind a due case, claims the next attempt and queues
// its call. A nil call means the case was deferred or closed instead. Losing the claim
// returns a SchedulingConflictError.
func (s *Skiddly) ClaimAttempt(ctx context.Context, c *model.AbandonedCartCase, now time.Time) (*model.Call, ClaimOutcome, error) {
	ctx, span := tracer.Start(ctx, "ClaimAttempt")
	defer span.End()
	span.SetAttributes(attribute.String("case.id", c.CaseID), attribute.Int("case.attempts", c.TotalAttempts))

	agent, err := s.agentForCase(ctx, c)
	if err != nil {
		return nil, AttemptDeferred, err
	}
	schedule, err := s.scheduleFor(agent)
	if err != nil {
		return nil, AttemptDeferred, err
	}

	cart, err := s.datasource.GetCart(ctx, c.TenantID, c.CheckoutID)
	if err != nil {
		return nil, AttemptDeferred, err
	}
	if cart.Status == model.CartStatusPurchased {
		_, err := s.datasource.CloseCase(ctx, c.CaseID, model.ActionOrderCompleted, model.TerminalReasonOrderCompleted)
		return nil, AttemptClosed, err
	}

	policy := s.policyFor(agent)
	if cart.Status == model.CartStatusInCheckout && !IsAbandoned(cart, now, policy.InactivityThreshold()) {
		// the customer came back to checkout, wait for them to go idle again
		next := schedule.First(cart.LastActivityAt.Add(policy.InactivityThreshold()))
		return nil, AttemptDeferred, s.deferCase(ctx, c, next)
	}

	suppressed, err := s.datasource.IsDoNotContact(ctx, c.TenantID, c.PhoneNumber)
	if err != nil {
		return nil, AttemptDeferred, err
	}
	if suppressed {
		_, err := s.datasource.MarkCaseDoNotContact(ctx, c.CaseID, model.TerminalReasonDoNotContact)
		return nil, AttemptClosed, err
	}

	if agent == nil {
		next := schedule.Window().Clip(now.Add(policy.RetryInterval()))
		logrus.WithFields(logrus.Fields{"case_id": c.CaseID, "next_call_time": next}).Warn("tenant has no active agent, deferring call")
		return nil, AttemptDeferred, s.deferCase(ctx, c, next)
	}

	if !schedule.Window().Contains(now) {
		return nil, AttemptDeferred, s.deferCase(ctx, c, schedule.Window().Clip(now))
	}

	won, err := s.datasource.ClaimCaseAttempt(ctx, c.CaseID, c.TotalAttempts, now)
	if err != nil {
		return nil, AttemptDeferred, err
	}
	if !won {
		return nil, AttemptDeferred, &SchedulingConflictError{CaseID: c.CaseID}
	}
	attempt := c.TotalAttempts + 1

	call, err := s.datasource.CreateCall(ctx, &model.Call{
		CaseID:      c.CaseID,
		Attempt:     attempt,
		PhoneNumber: c.PhoneNumber,
		AgentID:     agent.AgentID,
		CreatedAt:   now,
	})
	if err != nil {
		s.releaseAttempt(ctx, c.CaseID, attempt, schedule, now)
		return nil, AttemptDeferred, err
	}

	if s.queue != nil {
		err = s.queue.EnqueueDispatch(ctx, call.CallID)
	} else {
		err = s.PlaceCall(ctx, call.CallID)
	}
	if err != nil {
		s.failCall(ctx, call, schedule, now, err)
		return nil, AttemptDeferred, err
	}

	logrus.WithFields(logrus.Fields{
		"case_id": c.CaseID,
		"call_id": call.CallID,
		"attempt": attempt,
	}).Info("attempt claimed")
	return call, AttemptClaimed, nil
}

// deferCase moves the next call time of c, guarded on the attempts it was read with.
func (s *Skiddly) deferCase(ctx context.Context, c *model.AbandonedCartCase, next time.Time) error {
	deferred, err := s.datasource.DeferCase(ctx, c.CaseID, c.TotalAttempts, next)
	if err != nil {
		return err
	}
	if !deferred {
		return &SchedulingConflictError{CaseID: c.CaseID}
	}
	return nil
}

// PlaceCall asks the provider to place a queued call. Calls that are no longer queued are
// skipped, and a call whose case closed after the claim is cancelled.
func (s *Skiddly) PlaceCall(ctx context.Context, callID string) error {
	ctx, span := tracer.Start(ctx, "PlaceCall")
	defer span.End()
	span.SetAttributes(attribute.String("call.id", callID))

	if s.dispatcher == nil {
		return errors.New("no call dispatcher is configured")
	}

	call, err := s.datasource.GetCall(ctx, callID)
	if err != nil {
		return err
	}
	if call.Status != model.CallStatusQueued {
		return nil
	}

	c, err := s.datasource.GetCaseByID(ctx, call.CaseID)
	if err != nil {
		return err
	}
	if c.IsTerminal() {
		logrus.WithFields(logrus.Fields{"case_id": c.CaseID, "call_id": call.CallID}).Info("case closed before dispatch, cancelling call")
		return s.datasource.SetCallStatus(ctx, call.CallID, model.CallStatusCancelled)
	}

	agent, err := s.agentForCase(ctx, c)
	if err != nil {
		return err
	}
	if agent == nil {
		return apierror.NewAPIError(apierror.ErrNotFound, "No active agent for tenant", c.TenantID)
	}
	cart, err := s.datasource.GetCart(ctx, c.TenantID, c.CheckoutID)
	if err != nil {
		return err
	}

	providerID, err := s.dispatcher.DispatchCall(ctx, dispatchRequest(call, c, agent, cart))
	if err != nil {
		return logAndRecordError(span, "call dispatch failed", err)
	}

	now := s.now()
	if err := s.datasource.SetCallDispatched(ctx, call.CallID, providerID, now); err != nil {
		return err
	}
	call.ProviderCallID = providerID
	call.Status = model.CallStatusDispatched
	call.DispatchedAt = &now

	if s.queue != nil {
		if err := s.queue.EnqueueResultTimeout(ctx, call.CallID, now.Add(s.resultTimeout)); err != nil {
			logrus.WithError(err).WithField("call_id", call.CallID).Warn("failed to schedule result timeout")
		}
	}

	logrus.WithFields(logrus.Fields{
		"case_id":          c.CaseID,
		"call_id":          call.CallID,
		"provider_call_id": providerID,
	}).Info("call dispatched")
	s.emit(ctx, CallEventDispatched, call)
	s.analytics.Track(c.TenantID, analytics.EventCallDispatched, map[string]interface{}{"attempt": call.Attempt})
	return nil
}

func dispatchRequest(call *model.Call, c *model.AbandonedCartCase, agent *model.Agent, cart *model.Cart) model.DispatchRequest {
	metadata := map[string]string{
		"tenantId":   c.TenantID,
		"checkoutId": c.CheckoutID,
		"attempt":    strconv.Itoa(call.Attempt),
	}
	if cart != nil {
		metadata["customerName"] = cart.Customer.FirstName
		metadata["cartTotal"] = cart.Total.StringFixed(2)
		metadata["currency"] = cart.Currency
	}

	return model.DispatchRequest{
		CallID:        call.CallID,
		CaseID:        c.CaseID,
		AgentID:       agent.AgentID,
		PhoneNumber:   call.PhoneNumber,
		AssistantID:   agent.AssistantID,
		PhoneNumberID: agent.PhoneNumberID,
		Prompt:        agent.Prompt.Render(),
		Metadata:      metadata,
	}
}

// FailDispatch gives up on a call the provider would not accept. The attempt stays consumed
// and the case is rescheduled as if the call had gone unanswered by the retry interval.
func (s *Skiddly) FailDispatch(ctx context.Context, callID string, cause error) error {
	call, err := s.datasource.GetCall(ctx, callID)
	if err != nil {
		return err
	}
	if call.Status != model.CallStatusQueued {
		return nil
	}
	c, err := s.datasource.GetCaseByID(ctx, call.CaseID)
	if err != nil {
		return err
	}
	agent, err := s.agentForCase(ctx, c)
	if err != nil {
		return err
	}
	schedule, err := s.scheduleFor(agent)
	if err != nil {
		return err
	}
	s.failCall(ctx, call, schedule, s.now(), cause)
	return nil
}

func (s *Skiddly) failCall(ctx context.Context, call *model.Call, schedule Schedule, now time.Time, cause error) {
	logrus.WithError(cause).WithFields(logrus.Fields{"case_id": call.CaseID, "call_id": call.CallID}).Error("call dispatch failed")
	if err := s.datasource.SetCallStatus(ctx, call.CallID, model.CallStatusFailed); err != nil {
		logrus.WithError(err).WithField("call_id", call.CallID).Error("failed to mark call failed")
	}
	call.Status = model.CallStatusFailed
	s.emit(ctx, CallEventFailed, call)
	s.releaseAttempt(ctx, call.CaseID, call.Attempt, schedule, now)
}

// releaseAttempt moves a claimed case that never got a call to its next retry, or closes
// it when that was the last attempt.
func (s *Skiddly) releaseAttempt(ctx context.Context, caseID string, attempt int, schedule Schedule, now time.Time) {
	t := model.CaseTransition{CaseID: caseID, ExpectedAttempts: attempt}
	if next := schedule.Retry(attempt, now, now, nil); next != nil {
		t.State = model.CaseStateRetryScheduled
		t.NextCallTime = next
	} else {
		t.State = model.CaseStateTerminal
		t.FinalAction = model.ActionNoActionRequired
		t.TerminalReason = model.TerminalReasonAttemptsExhausted
	}
	if _, err := s.datasource.ApplyCaseTransition(ctx, t); err != nil {
		logrus.WithError(err).WithField("case_id", caseID).Error("failed to release attempt")
	}
}
