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
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/skiddly/skiddly/internal/analytics"
	"github.com/skiddly/skiddly/internal/apierror"
	redlock "github.com/skiddly/skiddly/internal/lock"
	"github.com/skiddly/skiddly/model"
)

const (
	CartEventAbandoned = "cart.abandoned"
	CartEventPurchased = "cart.purchased"
)

// withLock runs fn while holding key. Without Redis, fn runs unguarded.
func (s *Skiddly) withLock(ctx context.Context, key string, fn func() error) error {
	if s.redis == nil {
		return fn()
	}

	locker := redlock.NewLocker(s.redis, key, model.GenerateUUIDWithSuffix("lock"))
	if err := locker.WaitLock(ctx, s.lockTTL, s.lockTTL); err != nil {
		return apierror.NewAPIError(apierror.ErrConflict, "Another update for this record is in progress", err)
	}
	defer func() {
		if err := locker.Unlock(context.Background()); err != nil {
			logrus.WithError(err).WithField("key", key).Warn("failed to release lock")
		}
	}()
	return fn()
}

func cartFromEvent(event model.CheckoutEvent, now time.Time) (*model.Cart, error) {
	if strings.TrimSpace(event.ID) == "" {
		return nil, invalid("id", "is required")
	}
	if strings.TrimSpace(event.TenantID) == "" {
		return nil, invalid("tenant_id", "is required")
	}

	total := decimal.Zero
	if raw := strings.TrimSpace(event.TotalPrice); raw != "" {
		var err error
		total, err = decimal.NewFromString(raw)
		if err != nil {
			return nil, invalid("total_price", "must be a decimal amount")
		}
		if total.IsNegative() {
			return nil, invalid("total_price", "must not be negative")
		}
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	lastActivity := event.UpdatedAt
	if lastActivity.IsZero() {
		lastActivity = createdAt
	}

	return &model.Cart{
		CheckoutID: event.ID,
		TenantID:   event.TenantID,
		Total:      total,
		Currency:   strings.ToUpper(event.Currency),
		LineItems:  event.LineItems,
		Customer: model.Customer{
			FirstName: event.FirstName,
			LastName:  event.LastName,
			Email:     event.Email,
			Phone:     model.NormalizePhone(event.Phone),
		},
		ShippingAddress: event.ShippingAddress,
		Status:          model.CartStatusInCheckout,
		CreatedAt:       createdAt,
		LastActivityAt:  lastActivity,
	}, nil
}

// RecordCheckoutEvent creates or refreshes the cart of a checkout. Replaying the same event
// leaves the cart as it was, and a purchased cart is never moved back to in_checkout.
func (s *Skiddly) RecordCheckoutEvent(ctx context.Context, event model.CheckoutEvent, kind model.CheckoutEventKind) (*model.Cart, error) {
	ctx, span := tracer.Start(ctx, "RecordCheckoutEvent")
	defer span.End()

	cart, err := cartFromEvent(event, s.now())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("checkout.id", cart.CheckoutID), attribute.String("checkout.event", string(kind)))

	var stored *model.Cart
	err = s.withLock(ctx, redlock.CheckoutKey(cart.TenantID, cart.CheckoutID), func() error {
		stored, err = s.datasource.UpsertCart(ctx, cart)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"tenant_id":   stored.TenantID,
		"checkout_id": stored.CheckoutID,
		"kind":        kind,
		"status":      stored.Status,
	}).Debug("checkout event recorded")
	return stored, nil
}

// RecordOrderEvent moves the checkout's cart to purchased and closes its open case with
// order_completed. Orders for checkouts that were never tracked are ignored.
func (s *Skiddly) RecordOrderEvent(ctx context.Context, event model.OrderEvent) (*model.Cart, error) {
	ctx, span := tracer.Start(ctx, "RecordOrderEvent")
	defer span.End()

	if strings.TrimSpace(event.TenantID) == "" {
		return nil, invalid("tenant_id", "is required")
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, invalid("id", "is required")
	}
	if strings.TrimSpace(event.CheckoutID) == "" {
		logrus.WithField("order_id", event.ID).Debug("order has no checkout, ignoring")
		return nil, nil
	}
	span.SetAttributes(attribute.String("checkout.id", event.CheckoutID), attribute.String("order.id", event.ID))

	completedAt := event.CreatedAt
	if completedAt.IsZero() {
		completedAt = s.now()
	}

	var cart *model.Cart
	var closed *model.AbandonedCartCase
	err := s.withLock(ctx, redlock.CheckoutKey(event.TenantID, event.CheckoutID), func() error {
		changed, err := s.datasource.MarkCartPurchased(ctx, event.TenantID, event.CheckoutID, event.ID, completedAt)
		if err != nil {
			return err
		}

		cart, err = s.datasource.GetCart(ctx, event.TenantID, event.CheckoutID)
		if apierror.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if !changed {
			// already purchased, the case was closed by the first order event
			return nil
		}

		closed, err = s.closeCaseForPurchase(ctx, event.TenantID, event.CheckoutID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if cart == nil {
		logrus.WithFields(logrus.Fields{"tenant_id": event.TenantID, "checkout_id": event.CheckoutID}).
			Info("order received for an untracked checkout")
		return nil, nil
	}

	s.emit(ctx, CartEventPurchased, cart)
	if closed != nil {
		s.emit(ctx, CaseEventClosed, closed)
		s.trackCase(closed, analytics.EventCaseClosed)
	}
	return cart, nil
}

func (s *Skiddly) closeCaseForPurchase(ctx context.Context, tenantID, checkoutID string) (*model.AbandonedCartCase, error) {
	c, err := s.datasource.GetCaseByCheckout(ctx, tenantID, checkoutID)
	if apierror.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.IsTerminal() {
		return nil, nil
	}

	changed, err := s.datasource.CloseCase(ctx, c.CaseID, model.ActionOrderCompleted, model.TerminalReasonOrderCompleted)
	if err != nil || !changed {
		return nil, err
	}
	c.State = model.CaseStateTerminal
	c.NextCallTime = nil
	c.FinalAction = model.ActionOrderCompleted
	c.TerminalReason = model.TerminalReasonOrderCompleted
	return c, nil
}

// IsAbandoned reports whether a cart has been idle in checkout for at least threshold.
// Purchased carts are never abandoned.
func IsAbandoned(cart *model.Cart, now time.Time, threshold time.Duration) bool {
	if cart == nil || cart.Status == model.CartStatusPurchased {
		return false
	}
	if cart.Status == model.CartStatusAbandoned {
		return true
	}
	return now.Sub(cart.LastActivityAt) >= threshold
}

// GetCart returns a cart together with its case, when one exists.
func (s *Skiddly) GetCart(ctx context.Context, tenantID, checkoutID string) (*model.Cart, *model.AbandonedCartCase, error) {
	cart, err := s.datasource.GetCart(ctx, tenantID, checkoutID)
	if err != nil {
		return nil, nil, err
	}
	c, err := s.datasource.GetCaseByCheckout(ctx, tenantID, checkoutID)
	if apierror.IsNotFound(err) {
		return cart, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return cart, c, nil
}

// deliveryTTL bounds how long storefront delivery ids are remembered. Shopify stops
// retrying a webhook well within a day.
const deliveryTTL = 24 * time.Hour

// FirstDelivery reports whether a storefront webhook delivery is seen for the first time.
// Without a cache every delivery counts as new; the cart writes are idempotent anyway.
func (s *Skiddly) FirstDelivery(ctx context.Context, deliveryID string) (bool, error) {
	if s.cache == nil || deliveryID == "" {
		return true, nil
	}
	return s.cache.FirstDelivery(ctx, "shopify:"+deliveryID, deliveryTTL)
}

// ForgetDelivery lets a delivery that failed to process be accepted again on redelivery.
func (s *Skiddly) ForgetDelivery(ctx context.Context, deliveryID string) {
	if s.cache == nil || deliveryID == "" {
		return
	}
	if err := s.cache.ForgetDelivery(ctx, "shopify:"+deliveryID); err != nil {
		logrus.WithError(err).WithField("delivery_id", deliveryID).Warn("failed to forget webhook delivery")
	}
}
