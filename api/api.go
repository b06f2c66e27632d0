/*
Copyright 2024 Blnk Finance Authors.

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

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/skiddly/skiddly"
	"github.com/skiddly/skiddly/api/middleware"
	"github.com/skiddly/skiddly/config"
	"github.com/skiddly/skiddly/internal/apierror"
)

// VapiSecretHeader carries the server secret on provider callbacks.
const VapiSecretHeader = "X-Vapi-Secret"

type Api struct {
	skiddly *skiddly.Skiddly
	router  *gin.Engine
	conf    *config.Configuration
}

func (a Api) Router() *gin.Engine {
	router := a.router

	shopify := router.Group("/webhooks/shopify/:tenant_id", middleware.ShopifyHMACMiddleware(a.conf.Shopify.WebhookSecret))
	shopify.POST("/checkouts/create", a.ShopifyCheckoutCreated)
	shopify.POST("/checkouts/update", a.ShopifyCheckoutUpdated)
	shopify.POST("/orders/create", a.ShopifyOrderCreated)

	calls := router.Group("/webhooks")
	if a.conf.Server.Secure {
		calls.Use(middleware.SecretKeyAuthMiddleware(middleware.KeyHeader, VapiSecretHeader))
	}
	calls.POST("/calls", a.CallResultCallback)

	private := router.Group("/")
	if a.conf.Server.Secure {
		private.Use(middleware.SecretKeyAuthMiddleware())
	}

	private.GET("/carts/:tenant_id/:checkout_id", a.GetCart)

	private.GET("/cases/:id", a.GetCase)
	private.GET("/cases/:id/calls", a.GetCaseCalls)
	private.POST("/cases/:id/do-not-contact", a.MarkDoNotContact)

	private.POST("/agents", a.CreateAgent)
	private.GET("/agents/:id", a.GetAgent)
	private.PUT("/agents/:id/prompt/:section", a.UpdatePromptSection)

	private.POST("/scheduler/run", a.RunScheduler)
	return a.router
}

func NewAPI(s *skiddly.Skiddly) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware("skiddly-api"))
	r.Use(middleware.RateLimitMiddleware(conf))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{skiddly: s, router: r, conf: conf}
}

// respondWithError writes err with the status of its API error code. Errors without a
// code are reported as internal errors.
func respondWithError(c *gin.Context, err error) {
	err = skiddly.ToAPIError(err)
	var apiErr apierror.APIError
	if !errors.As(err, &apiErr) {
		apiErr = apierror.NewAPIError(apierror.ErrInternalServer, "Internal server error", err)
	}
	c.JSON(apierror.MapErrorToHTTPStatus(apiErr), gin.H{"error": apiErr.Message, "code": apiErr.Code})
}

func badRequest(c *gin.Context, message string, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message, "details": err.Error()})
}
