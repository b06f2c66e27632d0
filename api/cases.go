package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	model2 "github.com/skiddly/skiddly/api/model"
)

func (a *Api) GetCart(c *gin.Context) {
	cart, callCase, err := a.skiddly.GetCart(c.Request.Context(), c.Param("tenant_id"), c.Param("checkout_id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cart": cart, "case": callCase})
}

func (a *Api) GetCase(c *gin.Context) {
	callCase, _, err := a.skiddly.GetCase(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, callCase)
}

// GetCaseCalls lists the calls of a case in attempt order.
func (a *Api) GetCaseCalls(c *gin.Context) {
	_, calls, err := a.skiddly.GetCase(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, calls)
}

// MarkDoNotContact stops calls for a case. The body, and its reason, are optional.
func (a *Api) MarkDoNotContact(c *gin.Context) {
	var req model2.MarkDoNotContact
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid request", err)
		return
	}
	if err := req.ValidateMarkDoNotContact(); err != nil {
		badRequest(c, "invalid request", err)
		return
	}

	callCase, err := a.skiddly.MarkDoNotContact(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, callCase)
}

// RunScheduler enqueues a scheduler pass, or runs it in the request when there is no queue
// or ?inline=true is set.
func (a *Api) RunScheduler(c *gin.Context) {
	q := a.skiddly.Queue()
	if q != nil && c.Query("inline") != "true" {
		if err := q.EnqueueScan(c.Request.Context()); err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
		return
	}

	run, err := a.skiddly.RunScheduler(c.Request.Context(), time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "run": run})
		return
	}
	c.JSON(http.StatusOK, run)
}
