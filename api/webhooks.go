package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	model2 "github.com/skiddly/skiddly/api/model"
	"github.com/skiddly/skiddly/internal/vapi"
	"github.com/skiddly/skiddly/model"
)

const ShopifyWebhookIDHeader = "X-Shopify-Webhook-Id"

func (a *Api) ShopifyCheckoutCreated(c *gin.Context) {
	a.recordCheckout(c, model.CheckoutCreated)
}

func (a *Api) ShopifyCheckoutUpdated(c *gin.Context) {
	a.recordCheckout(c, model.CheckoutUpdated)
}

func (a *Api) recordCheckout(c *gin.Context, kind model.CheckoutEventKind) {
	var payload model2.ShopifyCheckout
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid checkout payload", err)
		return
	}
	if err := payload.ValidateShopifyCheckout(); err != nil {
		badRequest(c, "invalid checkout payload", err)
		return
	}

	event := payload.ToCheckoutEvent(c.Param("tenant_id"))
	a.deliver(c, func(ctx context.Context) (*model.Cart, error) {
		return a.skiddly.RecordCheckoutEvent(ctx, event, kind)
	})
}

func (a *Api) ShopifyOrderCreated(c *gin.Context) {
	var payload model2.ShopifyOrder
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid order payload", err)
		return
	}
	if err := payload.ValidateShopifyOrder(); err != nil {
		badRequest(c, "invalid order payload", err)
		return
	}

	event := payload.ToOrderEvent(c.Param("tenant_id"))
	a.deliver(c, func(ctx context.Context) (*model.Cart, error) {
		return a.skiddly.RecordOrderEvent(ctx, event)
	})
}

// deliver runs fn once per storefront delivery id. A delivery that fails is forgotten so
// the storefront's redelivery is processed again.
func (a *Api) deliver(c *gin.Context, fn func(ctx context.Context) (*model.Cart, error)) {
	ctx := c.Request.Context()
	deliveryID := c.GetHeader(ShopifyWebhookIDHeader)

	first, err := a.skiddly.FirstDelivery(ctx, deliveryID)
	if err != nil {
		logrus.WithError(err).WithField("delivery_id", deliveryID).Warn("delivery dedupe unavailable")
		first = true
	}
	if !first {
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	cart, err := fn(ctx)
	if err != nil {
		a.skiddly.ForgetDelivery(ctx, deliveryID)
		respondWithError(c, err)
		return
	}
	if cart == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	c.JSON(http.StatusOK, cart)
}

// CallResultCallback accepts a call result either as the provider's server message or in
// the flat shape. Server messages other than the end-of-call report are acknowledged and
// dropped. With a queue the result is processed asynchronously.
func (a *Api) CallResultCallback(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		badRequest(c, "unable to read request body", err)
		return
	}

	var req model2.CallResultRequest
	report, ok, err := vapi.ParseServerMessage(body)
	switch {
	case err == nil && !ok:
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	case err == nil:
		req = model2.CallResultRequest{
			CallID:       report.CallID,
			CaseID:       report.CaseID,
			Transcript:   report.Transcript,
			RecordingURL: report.RecordingURL,
			EndedReason:  report.EndedReason,
			StartedAt:    report.StartedAt,
			EndedAt:      report.EndedAt,
		}
	default:
		if err := json.Unmarshal(body, &req); err != nil {
			badRequest(c, "invalid call result", err)
			return
		}
	}

	if err := req.ValidateCallResult(); err != nil {
		badRequest(c, "invalid call result", err)
		return
	}

	result := req.ToCallResult()
	if q := a.skiddly.Queue(); q != nil {
		if err := q.EnqueueCallResult(c.Request.Context(), result); err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "call_id": result.CallID})
		return
	}

	call, err := a.skiddly.HandleCallResult(c.Request.Context(), result)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}
