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
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/skiddly/skiddly"
	"github.com/skiddly/skiddly/config"
	"github.com/skiddly/skiddly/database"
	"github.com/skiddly/skiddly/internal/notification"
)

// Skiddly represents the CLI application, encapsulating the root Cobra command.
type Skiddly struct {
	cmd *cobra.Command
}

// skiddlyInstance holds the runtime instance and its configuration for every command.
type skiddlyInstance struct {
	skiddly *skiddly.Skiddly
	cnf     *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the Skiddly instance before any command runs.
func preRun(app *skiddlyInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		// a missing .env is fine; the environment may already be set
		_ = godotenv.Load()

		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		s, err := setupSkiddly(cmd.Context(), cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.skiddly = s
		app.cnf = cnf
		return nil
	}
}

// setupSkiddly connects the datasource and wires a Skiddly instance from the configuration.
func setupSkiddly(ctx context.Context, cfg *config.Configuration) (*skiddly.Skiddly, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	s, err := skiddly.NewSkiddly(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("error creating skiddly: %v", err)
	}
	return s, nil
}

// NewCLI creates the root command and its subcommands.
func NewCLI() *Skiddly {
	var configFile string
	s := &skiddlyInstance{}

	var rootCmd = &cobra.Command{
		Use:   "skiddly",
		Short: "AI voice calls for abandoned carts",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./skiddly.json", "Configuration file for skiddly")
	rootCmd.PersistentPreRunE = preRun(s, &configFile)

	rootCmd.AddCommand(serverCommands(s))
	rootCmd.AddCommand(workerCommands(s))
	rootCmd.AddCommand(migrateCommands(s))
	rootCmd.AddCommand(scanCommands(s))
	rootCmd.AddCommand(agentCommands(s))
	rootCmd.AddCommand(configCommands())

	return &Skiddly{cmd: rootCmd}
}

func (w Skiddly) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
