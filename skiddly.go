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
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/osteele/liquid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/skiddly/skiddly/config"
	"github.com/skiddly/skiddly/database"
	"github.com/skiddly/skiddly/internal/analytics"
	"github.com/skiddly/skiddly/internal/analyzer"
	"github.com/skiddly/skiddly/internal/cache"
	"github.com/skiddly/skiddly/internal/notification"
	redis_db "github.com/skiddly/skiddly/internal/redis-db"
	"github.com/skiddly/skiddly/internal/vapi"
	"github.com/skiddly/skiddly/model"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

var tracer = otel.Tracer("skiddly")

// Dispatcher places an outbound call with the voice provider and returns the provider's call id.
type Dispatcher interface {
	DispatchCall(ctx context.Context, req model.DispatchRequest) (string, error)
}

// Skiddly wires the cart tracker, the call scheduler, the transcript analyzer and the
// action mapper together. All scheduling state lives in the datasource.
type Skiddly struct {
	datasource    database.IDataSource
	queue         *Queue
	redis         redis.UniversalClient
	cache         cache.Cache
	analyzer      *analyzer.Analyzer
	dispatcher    Dispatcher
	analytics     analytics.Tracker
	liquid        *liquid.Engine
	defaults      model.CallPolicy
	batchSize     int
	lockTTL       time.Duration
	resultTimeout time.Duration
	now           func() time.Time
}

// Options configures New. Datasource is required; everything else has a usable default.
type Options struct {
	Datasource database.IDataSource
	Queue      *Queue
	Redis      redis.UniversalClient
	Cache      cache.Cache
	Analyzer   *analyzer.Analyzer
	Dispatcher Dispatcher
	Analytics  analytics.Tracker

	// Defaults is the call policy every agent policy is merged over.
	Defaults      model.CallPolicy
	BatchSize     int
	LockTTL       time.Duration
	ResultTimeout time.Duration
	Now           func() time.Time
}

func New(opts Options) (*Skiddly, error) {
	if opts.Datasource == nil {
		return nil, errors.New("skiddly: a datasource is required")
	}

	s := &Skiddly{
		datasource:    opts.Datasource,
		queue:         opts.Queue,
		redis:         opts.Redis,
		cache:         opts.Cache,
		analyzer:      opts.Analyzer,
		dispatcher:    opts.Dispatcher,
		analytics:     opts.Analytics,
		liquid:        liquid.NewEngine(),
		defaults:      opts.Defaults,
		batchSize:     opts.BatchSize,
		lockTTL:       opts.LockTTL,
		resultTimeout: opts.ResultTimeout,
		now:           opts.Now,
	}

	if s.analyzer == nil {
		s.analyzer = analyzer.New(nil)
	}
	if s.analytics == nil {
		s.analytics = analytics.Noop{}
	}
	if s.cache == nil && s.redis != nil {
		s.cache = cache.NewCache(s.redis)
	}
	if s.defaults.RetryIntervalMinutes == 0 {
		s.defaults = config.DefaultCallPolicy()
	}
	if err := s.defaults.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default call policy: %w", err)
	}
	if s.batchSize <= 0 {
		s.batchSize = 100
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 30 * time.Second
	}
	if s.resultTimeout <= 0 {
		s.resultTimeout = 30 * time.Minute
	}
	if s.now == nil {
		s.now = time.Now
	}

	notification.RegisterWebhookSender(func(event string, payload interface{}) error {
		return s.notify(context.Background(), event, payload)
	})
	return s, nil
}

// NewSkiddly builds a fully wired instance from the loaded configuration.
func NewSkiddly(ctx context.Context, db database.IDataSource) (*Skiddly, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	redisClient, err := redis_db.NewRedisClient(cnf.Redis.Dns, cnf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}

	queue, err := NewQueue(cnf)
	if err != nil {
		return nil, err
	}

	classifier, err := newClassifier(ctx, cnf.Analyzer)
	if err != nil {
		return nil, err
	}

	policy := cnf.CallPolicy.Merge(config.DefaultCallPolicy())
	return New(Options{
		Datasource:    db,
		Queue:         queue,
		Redis:         redisClient,
		Analyzer:      analyzer.New(classifier),
		Dispatcher:    vapi.NewClient(cnf.Vapi.BaseURL, cnf.Vapi.APIKey, time.Duration(cnf.Vapi.TimeoutSec)*time.Second),
		Defaults:      policy,
		BatchSize:     cnf.Scheduler.BatchSize,
		LockTTL:       time.Duration(cnf.Scheduler.CheckoutLockTTLSec) * time.Second,
		ResultTimeout: time.Duration(cnf.Queue.ResultTimeoutMinutes) * time.Minute,
	})
}

// WithAnalytics swaps the event tracker, e.g. once telemetry has been initialized.
func (s *Skiddly) WithAnalytics(t analytics.Tracker) {
	if t == nil {
		t = analytics.Noop{}
	}
	s.analytics = t
}

// Defaults returns the call policy agent policies are merged over.
func (s *Skiddly) Defaults() model.CallPolicy {
	return s.defaults
}

// Queue returns the task queue, nil when running without one.
func (s *Skiddly) Queue() *Queue {
	return s.queue
}

func (s *Skiddly) Close() error {
	var errs []error
	if s.queue != nil {
		errs = append(errs, s.queue.Close())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	return errors.Join(errs...)
}

func newClassifier(ctx context.Context, cnf config.AnalyzerConfig) (analyzer.Classifier, error) {
	switch cnf.Provider {
	case "gateway":
		if cnf.GatewayURL == "" {
			logrus.Warn("analyzer gateway url is not set, transcripts will be classified from ended reasons only")
			return nil, nil
		}
		g := analyzer.NewGatewayClassifier(cnf.GatewayURL, cnf.APIKey, cnf.Model)
		if cnf.TimeoutSec > 0 {
			g.Timeout = time.Duration(cnf.TimeoutSec) * time.Second
		}
		if cnf.MaxRetrySec > 0 {
			g.MaxRetryTime = time.Duration(cnf.MaxRetrySec) * time.Second
		}
		return g, nil
	case "bedrock":
		return analyzer.NewBedrockClassifier(ctx, cnf.BedrockRegion, cnf.BedrockModel)
	case "none", "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown analyzer provider %q", cnf.Provider)
}

// logAndRecordError records err on the span and logs it with the trace id attached.
func logAndRecordError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	logrus.WithFields(logrus.Fields{
		"trace_id": span.SpanContext().TraceID().String(),
	}).WithError(err).Error(msg)
	return err
}
