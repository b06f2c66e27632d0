package config

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skiddly/skiddly/model"
)

func TestValidateAndAddDefaults(t *testing.T) {
	// Test case with empty ProjectName and DataSource DNS
	cnf := Configuration{
		ProjectName: "",
		DataSource: DataSourceConfig{
			Dns: "",
		},
		Redis: RedisConfig{
			Dns: "localhost:6379",
		},
	}

	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "data source DNS is required" {
		t.Errorf("Expected data source DNS required error, got %v", err)
	}
	cnf = Configuration{
		ProjectName: "",
		DataSource: DataSourceConfig{
			Dns: "postgres://localhost:5432",
		},
		Redis: RedisConfig{
			Dns: "",
		},
	}

	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "redis DNS is required" {
		t.Errorf("Expected redis DNS required error, got %v", err)
	}

	// Test case with all required fields filled, expect no error
	cnf = Configuration{
		ProjectName: "Test Project",
		DataSource: DataSourceConfig{
			Dns: "some-dns",
		},
		Redis: RedisConfig{
			Dns: "localhost:6379",
		},
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if cnf.Server.Port != DEFAULT_PORT {
		t.Errorf("Expected default port %s, got %s", DEFAULT_PORT, cnf.Server.Port)
	}
	if cnf.Queue.DispatchQueue != DefaultDispatchQueue || cnf.Queue.WebhookQueue != DefaultWebhookQueue {
		t.Errorf("Expected default queue names, got %+v", cnf.Queue)
	}
	if cnf.Scheduler.ScanCron != DefaultScanCron {
		t.Errorf("Expected default scan cron %s, got %s", DefaultScanCron, cnf.Scheduler.ScanCron)
	}
	if cnf.Analyzer.Provider != DefaultAnalyzerProvider {
		t.Errorf("Expected default analyzer provider, got %s", cnf.Analyzer.Provider)
	}
}

func TestValidateAndAddDefaults_CallPolicy(t *testing.T) {
	minCart := decimal.NewFromInt(25)
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
		CallPolicy: model.CallPolicy{MaxRetries: 5, MinCartValue: &minCart},
	}

	if err := cnf.validateAndAddDefaults(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	defaults := DefaultCallPolicy()
	if cnf.CallPolicy.MaxRetries != 5 {
		t.Errorf("Expected configured max retries to be kept, got %d", cnf.CallPolicy.MaxRetries)
	}
	if !cnf.CallPolicy.MinimumCartValue().Equal(decimal.NewFromInt(25)) {
		t.Errorf("Expected min cart value 25, got %s", cnf.CallPolicy.MinimumCartValue())
	}
	if cnf.CallPolicy.Wait() != time.Hour {
		t.Errorf("Expected default wait of an hour, got %s", cnf.CallPolicy.Wait())
	}
	if cnf.CallPolicy.Timezone != defaults.Timezone || cnf.CallPolicy.BusinessHoursStart != defaults.BusinessHoursStart {
		t.Errorf("Expected default window, got %+v", cnf.CallPolicy)
	}
	if cnf.CallPolicy.AllowWeekends == nil || *cnf.CallPolicy.AllowWeekends {
		t.Errorf("Expected weekends disallowed by default")
	}

	cnf.CallPolicy.Timezone = "Mars/Olympus_Mons"
	if err := cnf.validateAndAddDefaults(); err == nil {
		t.Errorf("Expected invalid timezone to be rejected")
	}
}

func TestValidateAndAddDefaults_UnknownAnalyzer(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432"},
		Redis:      RedisConfig{Dns: "localhost:6379"},
		Analyzer:   AnalyzerConfig{Provider: "Carrier-Pigeon"},
	}

	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != `unknown analyzer provider "carrier-pigeon"` {
		t.Errorf("Expected unknown provider error, got %v", err)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	// Create a temporary file
	tmpFile, err := os.CreateTemp("", "skiddly.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name()) // Clean up after the test

	// Sample configuration to write to the temp file
	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		DataSource: DataSourceConfig{
			Dns: "temp-dns",
		},
		Redis: RedisConfig{
			Dns: "temp-redis",
		},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close() // Close the file so loadConfigFromFile can open it

	// Set an environment variable to override the project name
	os.Setenv("SKIDDLY_PROJECT_NAME", "Env Project")
	defer os.Unsetenv("SKIDDLY_PROJECT_NAME") // Clean up after the test

	// Load the configuration from the file
	if err := loadConfigFromFile(tmpFile.Name()); err != nil {
		t.Fatalf("loadConfigFromFile failed: %v", err)
	}

	// Fetch the loaded configuration
	loadedConfig, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	// Check if the environment variable override worked
	if loadedConfig.ProjectName != "Env Project" {
		t.Errorf("Expected ProjectName to be 'Env Project', got '%s'", loadedConfig.ProjectName)
	}

	// Check if the DNS was loaded correctly from the file
	if loadedConfig.DataSource.Dns != "temp-dns" {
		t.Errorf("Expected DataSource.Dns to be 'temp-dns', got '%s'", loadedConfig.DataSource.Dns)
	}
}

func TestInitConfig(t *testing.T) {
	// Create a temporary file
	tmpFile, err := os.CreateTemp("", "skiddly.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name()) // Clean up after the test

	// Sample configuration to write to the temp file
	sampleConfig := Configuration{
		ProjectName: "InitConfig Test",
		DataSource: DataSourceConfig{
			Dns: "init-config-dns",
		}, Redis: RedisConfig{
			Dns: "localhost:6379",
		},
		Vapi: VapiConfig{APIKey: "vapi-key"},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close() // Close the file so InitConfig can open it

	// Attempt to initialize the configuration using the temporary file
	if err := InitConfig(tmpFile.Name()); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	// Fetch the loaded configuration to verify it was loaded correctly
	loadedConfig, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	// Verify the configuration was loaded correctly
	if loadedConfig.ProjectName != "InitConfig Test" {
		t.Errorf("Expected ProjectName to be 'InitConfig Test', got '%s'", loadedConfig.ProjectName)
	}
	if loadedConfig.Vapi.APIKey != "vapi-key" || loadedConfig.Vapi.BaseURL != "https://api.vapi.ai" {
		t.Errorf("Expected vapi config to be loaded with default base url, got %+v", loadedConfig.Vapi)
	}
}
