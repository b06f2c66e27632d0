package main

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/skiddly/skiddly/config"
)

// redacted hides secrets from the printed configuration.
func redacted(cfg config.Configuration) config.Configuration {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	cfg.Server.SecretKey = mask(cfg.Server.SecretKey)
	cfg.Vapi.APIKey = mask(cfg.Vapi.APIKey)
	cfg.Analyzer.APIKey = mask(cfg.Analyzer.APIKey)
	cfg.Shopify.WebhookSecret = mask(cfg.Shopify.WebhookSecret)
	cfg.Telemetry.PosthogKey = mask(cfg.Telemetry.PosthogKey)
	return cfg
}

func configCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "config outputs your instance's computed configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Fetch()
			if err != nil {
				log.Fatalf("Error getting config: %v\n", err)
			}

			data, err := json.MarshalIndent(redacted(*cfg), "", "    ")
			if err != nil {
				log.Fatalf("Error printing config: %v\n", err)
			}

			fmt.Println(string(data))
		},
	}
	return cmd
}
