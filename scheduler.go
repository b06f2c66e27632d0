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
	"fmt"
	"iter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skiddly/skiddly/database"
	"github.com/skiddly/skiddly/internal/analytics"
	"github.com/skiddly/skiddly/internal/analyzer"
	"github.com/skiddly/skiddly/internal/apierror"
	businesshours "github.com/skiddly/skiddly/internal/business-hours"
	redlock "github.com/skiddly/skiddly/internal/lock"
	"github.com/skiddly/skiddly/model"
)

// Schedule computes call times for one call policy.
type Schedule struct {
	policy model.CallPolicy
	window businesshours.Window
}

func NewSchedule(policy model.CallPolicy) (Schedule, error) {
	window, err := policy.Window()
	if err != nil {
		return Schedule{}, err
	}
	return Schedule{policy: policy, window: window}, nil
}

func (sc Schedule) Window() businesshours.Window {
	return sc.window
}

// First returns the time of the first call: the end of the wait after abandonment, moved
// into business hours.
func (sc Schedule) First(abandonedAt time.Time) time.Time {
	return sc.window.Clip(abandonedAt.Add(sc.policy.Wait()))
}

// Retry returns the next call time after an attempt, or nil when the attempts are used up.
// A reschedule request that resolves to a future time wins over the retry interval; the
// result is always inside business hours.
func (sc Schedule) Retry(totalAttempts int, lastAttempt, now time.Time, sd *model.StructuredData) *time.Time {
	if totalAttempts >= sc.policy.MaxRetries {
		return nil
	}

	if sd != nil && sd.RescheduleRequested {
		if at, ok := analyzer.ResolveRescheduleTime(*sd, lastAttempt, sc.window.Location); ok && at.After(now) {
			next := sc.window.Clip(at)
			return &next
		}
	}

	next := sc.window.Clip(lastAttempt.Add(sc.policy.RetryInterval()))
	return &next
}

// Eligibility is the qualification decision for a cart.
type Eligibility struct {
	Eligible bool
	Reason   string
}

// EvaluateEligibility decides whether a cart may receive calls. suppressed reports whether
// the cart's phone number is on the tenant's do-not-contact list.
func EvaluateEligibility(cart *model.Cart, existing *model.AbandonedCartCase, policy model.CallPolicy, suppressed bool) Eligibility {
	switch {
	case cart == nil:
		return Eligibility{Reason: "cart not found"}
	case cart.Status == model.CartStatusPurchased:
		return Eligibility{Reason: "cart already purchased"}
	case cart.ContactPhone() == "":
		return Eligibility{Reason: "no contactable phone number"}
	case cart.Total.LessThan(policy.MinimumCartValue()):
		return Eligibility{Reason: fmt.Sprintf("cart total %s is below the minimum of %s", cart.Total.String(), policy.MinimumCartValue().String())}
	case existing != nil && existing.DoNotContact:
		return Eligibility{Reason: "customer asked not to be contacted"}
	case existing != nil:
		return Eligibility{Reason: "a case already exists for this checkout"}
	case suppressed:
		return Eligibility{Reason: "phone number is on the do-not-contact list"}
	}
	return Eligibility{Eligible: true}
}

// policyFor merges an agent's policy over the defaults. A nil agent gets the defaults.
func (s *Skiddly) policyFor(agent *model.Agent) model.CallPolicy {
	if agent == nil {
		return s.defaults
	}
	return agent.Policy.Merge(s.defaults)
}

func (s *Skiddly) scheduleFor(agent *model.Agent) (Schedule, error) {
	return NewSchedule(s.policyFor(agent))
}

// DueAttempts yields every open case whose next call time is at or before now, in
// (next_call_time, case_id) order. Pages are read lazily; iteration stops at the first error.
func (s *Skiddly) DueAttempts(ctx context.Context, now time.Time) iter.Seq2[*model.AbandonedCartCase, error] {
	return func(yield func(*model.AbandonedCartCase, error) bool) {
		cursor := database.CaseCursor{}
		for {
			page, err := s.datasource.GetDueCases(ctx, now, cursor, s.batchSize)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, c := range page {
				if !yield(c, nil) {
					return
				}
			}
			if len(page) < s.batchSize {
				return
			}
			last := page[len(page)-1]
			cursor = database.CaseCursor{NextCallTime: *last.NextCallTime, CaseID: last.CaseID}
		}
	}
}

// OpenSummary counts what one abandonment scan did.
type OpenSummary struct {
	Scanned     int `json:"scanned"`
	Opened      int `json:"opened"`
	Unqualified int `json:"unqualified"`
	Skipped     int `json:"skipped"`
}

// OpenCasesForAbandonedCarts marks idle carts abandoned and opens their case. Qualified
// carts get a first call time; the rest get a terminal case carrying the reason.
func (s *Skiddly) OpenCasesForAbandonedCarts(ctx context.Context, now time.Time) (OpenSummary, error) {
	ctx, span := tracer.Start(ctx, "OpenCasesForAbandonedCarts")
	defer span.End()

	summary := OpenSummary{}
	// openCase applies each agent's own threshold, this only bounds the candidate query
	cutoff := now.Add(-s.scanThreshold(ctx))
	cursor := database.CartCursor{}

	for {
		carts, err := s.datasource.GetAbandonmentCandidates(ctx, cutoff, cursor, s.batchSize)
		if err != nil {
			return summary, logAndRecordError(span, "failed to read abandoned carts", err)
		}

		for _, cart := range carts {
			summary.Scanned++
			opened, err := s.openCase(ctx, cart, now)
			if err != nil {
				// one broken cart must not stall the scan
				logrus.WithError(err).WithFields(logrus.Fields{
					"tenant_id":   cart.TenantID,
					"checkout_id": cart.CheckoutID,
				}).Error("failed to open case")
				summary.Skipped++
				continue
			}
			switch {
			case opened == nil:
				summary.Skipped++
			case opened.Qualified:
				summary.Opened++
			default:
				summary.Unqualified++
			}
		}

		if len(carts) < s.batchSize {
			break
		}
		last := carts[len(carts)-1]
		cursor = database.CartCursor{LastActivityAt: last.LastActivityAt, TenantID: last.TenantID, CheckoutID: last.CheckoutID}
	}

	if summary.Scanned > 0 {
		logrus.WithFields(logrus.Fields{
			"scanned":     summary.Scanned,
			"opened":      summary.Opened,
			"unqualified": summary.Unqualified,
			"skipped":     summary.Skipped,
		}).Info("abandonment scan finished")
	}
	return summary, nil
}

// scanThreshold is the shortest inactivity threshold of any active agent, capped at the
// tenant default.
func (s *Skiddly) scanThreshold(ctx context.Context) time.Duration {
	threshold := s.defaults.InactivityThreshold()
	minutes, err := s.datasource.GetMinInactivityMinutes(ctx)
	if err != nil {
		logrus.WithError(err).Warn("failed to read agent inactivity overrides, using the default")
		return threshold
	}
	if d := time.Duration(minutes) * time.Minute; d > 0 && d < threshold {
		return d
	}
	return threshold
}

// openCase returns nil when the cart was left for a later scan.
func (s *Skiddly) openCase(ctx context.Context, cart *model.Cart, now time.Time) (*model.AbandonedCartCase, error) {
	agent, err := s.activeAgent(ctx, cart.TenantID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		logrus.WithField("tenant_id", cart.TenantID).Debug("tenant has no active agent, leaving cart for a later scan")
		return nil, nil
	}

	policy := s.policyFor(agent)
	if !IsAbandoned(cart, now, policy.InactivityThreshold()) {
		return nil, nil
	}
	schedule, err := NewSchedule(policy)
	if err != nil {
		return nil, err
	}

	var opened *model.AbandonedCartCase
	err = s.withLock(ctx, redlock.CheckoutKey(cart.TenantID, cart.CheckoutID), func() error {
		// the candidate page may be stale by the time the lock is held
		current, err := s.datasource.GetCart(ctx, cart.TenantID, cart.CheckoutID)
		if err != nil {
			return err
		}
		if current.Status == model.CartStatusPurchased || !IsAbandoned(current, now, policy.InactivityThreshold()) {
			return nil
		}
		cart = current

		abandonedAt := cart.LastActivityAt.Add(policy.InactivityThreshold())
		if cart.AbandonedAt != nil {
			abandonedAt = *cart.AbandonedAt
		}
		if _, err := s.datasource.MarkCartAbandoned(ctx, cart.TenantID, cart.CheckoutID, abandonedAt); err != nil {
			return err
		}

		suppressed := false
		if phone := cart.ContactPhone(); phone != "" {
			suppressed, err = s.datasource.IsDoNotContact(ctx, cart.TenantID, phone)
			if err != nil {
				return err
			}
		}

		c := &model.AbandonedCartCase{
			TenantID:      cart.TenantID,
			CheckoutID:    cart.CheckoutID,
			AgentID:       agent.AgentID,
			PhoneNumber:   cart.ContactPhone(),
			CorrelationID: model.GenerateUUIDWithSuffix("corr"),
			CreatedAt:     now,
		}

		eligibility := EvaluateEligibility(cart, nil, policy, suppressed)
		if eligibility.Eligible {
			next := schedule.First(abandonedAt)
			c.Qualified = true
			c.State = model.CaseStatePendingFirstCall
			c.NextCallTime = &next
		} else {
			c.State = model.CaseStateTerminal
			c.QualificationReason = eligibility.Reason
			c.FinalAction = model.ActionNoActionRequired
			c.TerminalReason = model.TerminalReasonNotQualified
			c.DoNotContact = suppressed
		}

		opened, err = s.datasource.CreateCase(ctx, c)
		return err
	})
	if apierror.CodeOf(err) == apierror.ErrConflict {
		// another scanner opened it first
		return nil, nil
	}
	if err != nil || opened == nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"case_id":        opened.CaseID,
		"checkout_id":    opened.CheckoutID,
		"qualified":      opened.Qualified,
		"next_call_time": opened.NextCallTime,
		"reason":         opened.QualificationReason,
	}).Info("case opened")

	cart.Status = model.CartStatusAbandoned
	s.emit(ctx, CartEventAbandoned, cart)
	s.emit(ctx, CaseEventOpened, opened)
	s.trackCase(opened, analytics.EventCaseOpened)
	return opened, nil
}

