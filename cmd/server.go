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

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
	"github.com/spf13/cobra"

	"github.com/skiddly/skiddly/api"
	"github.com/skiddly/skiddly/config"
	"github.com/skiddly/skiddly/internal/analytics"
	trace "github.com/skiddly/skiddly/internal/traces"
)

const defaultPosthogEndpoint = "https://us.i.posthog.com"

/*
serveTLS starts an HTTPS server with TLS enabled using CertMagic for automatic certificate management.
If no domain is specified, the server will default to running on localhost.
*/
func serveTLS(r *gin.Engine, conf config.ServerConfig) error {
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	cfg := certmagic.NewDefault()
	cfg.Storage = &certmagic.FileStorage{Path: "certmagic"}

	domains := []string{conf.Domain}
	if conf.Domain == "" {
		log.Println("No domain specified, defaulting to localhost")
		domains = []string{"localhost"}
	}

	if err := cfg.ManageSync(context.Background(), domains); err != nil {
		return err
	}

	server := &http.Server{
		Addr:      ":" + conf.Port,
		Handler:   r,
		TLSConfig: cfg.TLSConfig(),
	}

	log.Printf("Starting HTTPS server on %s\n", conf.Port)
	if err := server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start HTTPS server: %v", err)
	}

	return nil
}

func initializeRouter(s *skiddlyInstance) *gin.Engine {
	return api.NewAPI(s.skiddly).Router()
}

func initializeTracing(ctx context.Context, cfg *config.Configuration, service string) (func(context.Context) error, error) {
	shutdown, err := trace.SetupOTelSDK(ctx, service, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

// initializePostHog returns a PostHog tracker with a running heartbeat, or nil when no key
// is configured.
func initializePostHog(cfg *config.Configuration, stop <-chan struct{}) (analytics.Tracker, error) {
	if cfg.Telemetry.PosthogKey == "" {
		return nil, nil
	}
	endpoint := cfg.Telemetry.PosthogEndpoint
	if endpoint == "" {
		endpoint = defaultPosthogEndpoint
	}
	tracker, err := analytics.NewPostHog(cfg.Telemetry.PosthogKey, posthog.Config{Endpoint: endpoint})
	if err != nil {
		return nil, err
	}
	analytics.Heartbeat(tracker, uuid.New().String(), 5*time.Minute, stop)
	return tracker, nil
}

func startServer(router *gin.Engine, cfg config.ServerConfig) error {
	if cfg.SSL {
		return serveTLS(router, cfg)
	}
	log.Printf("Starting server on http://localhost:%s", cfg.Port)
	return router.Run(":" + cfg.Port)
}

// initializeObservability sets up tracing and product analytics when telemetry is enabled.
// The returned shutdown flushes both.
func initializeObservability(ctx context.Context, s *skiddlyInstance, service string) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !s.cnf.EnableTelemetry {
		return noop, nil
	}

	shutdownTracing, err := initializeTracing(ctx, s.cnf, service)
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	tracker, err := initializePostHog(s.cnf, stop)
	if err != nil {
		log.Printf("PostHog initialization error: %v", err)
	}
	if tracker != nil {
		s.skiddly.WithAnalytics(tracker)
	}

	return func(ctx context.Context) error {
		close(stop)
		if tracker != nil {
			if err := tracker.Close(); err != nil {
				log.Printf("Error closing PostHog: %v", err)
			}
		}
		return shutdownTracing(ctx)
	}, nil
}

// serverCommands returns the command that serves the storefront webhooks, the call-result
// callback and the admin API.
func serverCommands(s *skiddlyInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start skiddly server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			shutdown, err := initializeObservability(ctx, s, "skiddly-api")
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
				if err := s.skiddly.Close(); err != nil {
					log.Printf("Error closing skiddly: %v", err)
				}
			}()

			router := initializeRouter(s)
			if err := startServer(router, s.cnf.Server); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
