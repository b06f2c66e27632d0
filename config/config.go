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

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/wacul/ptr"

	"github.com/skiddly/skiddly/model"
)

const (
	DEFAULT_PORT = "5001"

	DefaultDispatchQueue    = "skiddly:dispatch"
	DefaultCallResultQueue  = "skiddly:call_results"
	DefaultWebhookQueue     = "skiddly:webhooks"
	DefaultScanQueue        = "skiddly:scan"
	DefaultScanCron         = "@every 1m"
	DefaultAnalyzerProvider = "gateway"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"SKIDDLY_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"SKIDDLY_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"SKIDDLY_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"SKIDDLY_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"SKIDDLY_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"SKIDDLY_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns          string `json:"dns" envconfig:"SKIDDLY_DATA_SOURCE_DNS"`
	MaxOpenConns int    `json:"max_open_conns" envconfig:"SKIDDLY_DATA_SOURCE_MAX_OPEN_CONNS"`
	MaxIdleConns int    `json:"max_idle_conns" envconfig:"SKIDDLY_DATA_SOURCE_MAX_IDLE_CONNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"SKIDDLY_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"SKIDDLY_REDIS_SKIP_TLS_VERIFY"`
}

type QueueConfig struct {
	DispatchQueue        string `json:"dispatch_queue" envconfig:"SKIDDLY_QUEUE_DISPATCH"`
	CallResultQueue      string `json:"call_result_queue" envconfig:"SKIDDLY_QUEUE_CALL_RESULTS"`
	WebhookQueue         string `json:"webhook_queue" envconfig:"SKIDDLY_QUEUE_WEBHOOKS"`
	ScanQueue            string `json:"scan_queue" envconfig:"SKIDDLY_QUEUE_SCAN"`
	Concurrency          int    `json:"concurrency" envconfig:"SKIDDLY_QUEUE_CONCURRENCY"`
	MaxRetry             int    `json:"max_retry" envconfig:"SKIDDLY_QUEUE_MAX_RETRY"`
	MonitoringPort       string `json:"monitoring_port" envconfig:"SKIDDLY_QUEUE_MONITORING_PORT"`
	ResultTimeoutMinutes int    `json:"result_timeout_minutes" envconfig:"SKIDDLY_QUEUE_RESULT_TIMEOUT_MINUTES"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"SKIDDLY_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"SKIDDLY_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"SKIDDLY_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"SKIDDLY_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url" envconfig:"SKIDDLY_WEBHOOK_URL"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

// AnalyzerConfig selects the transcript classification provider.
// Provider is one of "gateway", "bedrock" or "none".
type AnalyzerConfig struct {
	Provider      string `json:"provider" envconfig:"SKIDDLY_ANALYZER_PROVIDER"`
	GatewayURL    string `json:"gateway_url" envconfig:"SKIDDLY_ANALYZER_GATEWAY_URL"`
	APIKey        string `json:"api_key" envconfig:"SKIDDLY_ANALYZER_API_KEY"`
	Model         string `json:"model" envconfig:"SKIDDLY_ANALYZER_MODEL"`
	BedrockRegion string `json:"bedrock_region" envconfig:"SKIDDLY_ANALYZER_BEDROCK_REGION"`
	BedrockModel  string `json:"bedrock_model" envconfig:"SKIDDLY_ANALYZER_BEDROCK_MODEL"`
	TimeoutSec    int    `json:"timeout_sec" envconfig:"SKIDDLY_ANALYZER_TIMEOUT_SEC"`
	MaxRetrySec   int    `json:"max_retry_sec" envconfig:"SKIDDLY_ANALYZER_MAX_RETRY_SEC"`
}

type VapiConfig struct {
	BaseURL    string `json:"base_url" envconfig:"SKIDDLY_VAPI_BASE_URL"`
	APIKey     string `json:"api_key" envconfig:"SKIDDLY_VAPI_API_KEY"`
	TimeoutSec int    `json:"timeout_sec" envconfig:"SKIDDLY_VAPI_TIMEOUT_SEC"`
}

type SchedulerConfig struct {
	ScanCron           string `json:"scan_cron" envconfig:"SKIDDLY_SCHEDULER_SCAN_CRON"`
	BatchSize          int    `json:"batch_size" envconfig:"SKIDDLY_SCHEDULER_BATCH_SIZE"`
	CheckoutLockTTLSec int    `json:"checkout_lock_ttl_sec" envconfig:"SKIDDLY_SCHEDULER_CHECKOUT_LOCK_TTL_SEC"`
}

type ShopifyConfig struct {
	WebhookSecret string `json:"webhook_secret" envconfig:"SKIDDLY_SHOPIFY_WEBHOOK_SECRET"`
}

type TelemetryConfig struct {
	PosthogKey      string `json:"posthog_key" envconfig:"SKIDDLY_POSTHOG_KEY"`
	PosthogEndpoint string `json:"posthog_endpoint" envconfig:"SKIDDLY_POSTHOG_ENDPOINT"`
	OTLPEndpoint    string `json:"otlp_endpoint" envconfig:"SKIDDLY_OTLP_ENDPOINT"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"SKIDDLY_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"SKIDDLY_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Queue           QueueConfig      `json:"queue"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
	Analyzer        AnalyzerConfig   `json:"analyzer"`
	Vapi            VapiConfig       `json:"vapi"`
	CallPolicy      model.CallPolicy `json:"call_policy" ignored:"true"`
	Scheduler       SchedulerConfig  `json:"scheduler"`
	Shopify         ShopifyConfig    `json:"shopify"`
	Telemetry       TelemetryConfig  `json:"telemetry"`
}

// DefaultCallPolicy is applied to every agent before its own overrides.
func DefaultCallPolicy() model.CallPolicy {
	minCartValue := decimal.Zero
	return model.CallPolicy{
		MinCartValue:         &minCartValue,
		WaitMinutes:          ptr.Int(60),
		RetryIntervalMinutes: 1440,
		MaxRetries:           3,
		InactivityMinutes:    60,
		BusinessHoursStart:   "09:00",
		BusinessHoursEnd:     "18:00",
		Timezone:             "America/New_York",
		AllowWeekends:        ptr.Bool(false),
	}
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("skiddly", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called skiddly.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Skiddly"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.DataSource.MaxOpenConns <= 0 {
		cnf.DataSource.MaxOpenConns = 25
	}
	if cnf.DataSource.MaxIdleConns <= 0 {
		cnf.DataSource.MaxIdleConns = 10
	}

	cnf.setQueueDefaults()

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}

	// Set default cleanup interval if not specified
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	if err := cnf.setAnalyzerDefaults(); err != nil {
		return err
	}

	if cnf.Vapi.BaseURL == "" {
		cnf.Vapi.BaseURL = "https://api.vapi.ai"
	}
	if cnf.Vapi.TimeoutSec <= 0 {
		cnf.Vapi.TimeoutSec = 20
	}

	if cnf.Scheduler.ScanCron == "" {
		cnf.Scheduler.ScanCron = DefaultScanCron
	}
	if cnf.Scheduler.BatchSize <= 0 {
		cnf.Scheduler.BatchSize = 100
	}
	if cnf.Scheduler.CheckoutLockTTLSec <= 0 {
		cnf.Scheduler.CheckoutLockTTLSec = 30
	}

	// the policy is validated once here; agents re-validate their own overrides
	cnf.CallPolicy = cnf.CallPolicy.Merge(DefaultCallPolicy())
	if err := cnf.CallPolicy.Validate(); err != nil {
		return fmt.Errorf("invalid call_policy: %w", err)
	}

	return nil
}

func (cnf *Configuration) setQueueDefaults() {
	if cnf.Queue.DispatchQueue == "" {
		cnf.Queue.DispatchQueue = DefaultDispatchQueue
	}
	if cnf.Queue.CallResultQueue == "" {
		cnf.Queue.CallResultQueue = DefaultCallResultQueue
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = DefaultWebhookQueue
	}
	if cnf.Queue.ScanQueue == "" {
		cnf.Queue.ScanQueue = DefaultScanQueue
	}
	if cnf.Queue.Concurrency <= 0 {
		cnf.Queue.Concurrency = 10
	}
	if cnf.Queue.MaxRetry <= 0 {
		cnf.Queue.MaxRetry = 5
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5004"
	}
	if cnf.Queue.ResultTimeoutMinutes <= 0 {
		cnf.Queue.ResultTimeoutMinutes = 30
	}
}

func (cnf *Configuration) setAnalyzerDefaults() error {
	cnf.Analyzer.Provider = strings.ToLower(strings.TrimSpace(cnf.Analyzer.Provider))
	if cnf.Analyzer.Provider == "" {
		cnf.Analyzer.Provider = DefaultAnalyzerProvider
	}
	switch cnf.Analyzer.Provider {
	case "gateway", "bedrock", "none":
	default:
		return fmt.Errorf("unknown analyzer provider %q", cnf.Analyzer.Provider)
	}
	if cnf.Analyzer.Provider == "bedrock" && cnf.Analyzer.BedrockRegion == "" {
		cnf.Analyzer.BedrockRegion = "us-east-1"
	}
	if cnf.Analyzer.TimeoutSec <= 0 {
		cnf.Analyzer.TimeoutSec = 25
	}
	if cnf.Analyzer.MaxRetrySec <= 0 {
		cnf.Analyzer.MaxRetrySec = 45
	}
	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	l := logrus.StandardLogger()
	switch strings.ToLower(os.Getenv("ENVIRONMENT")) {
	case "", "local", "dev", "development":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		l.SetLevel(level)
	}
	log.SetOutput(l.Writer())
}
