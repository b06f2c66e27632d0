package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/skiddly/skiddly/model"
)

// agentFile is the YAML layout accepted by `agents import`.
type agentFile struct {
	Agents []model.Agent `yaml:"agents"`
}

func readAgents(r io.Reader) ([]model.Agent, error) {
	var file agentFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("invalid agents file: %w", err)
	}
	return file.Agents, nil
}

type agentCreator interface {
	CreateAgent(ctx context.Context, agent model.Agent) (*model.Agent, error)
	UpdateAgent(ctx context.Context, agent model.Agent) (*model.Agent, error)
}

// importAgents creates every agent without an id and updates the rest. It stops at the
// first failure and returns how many agents were written.
func importAgents(ctx context.Context, svc agentCreator, agents []model.Agent) (int, error) {
	for i, agent := range agents {
		var (
			saved *model.Agent
			err   error
		)
		if agent.AgentID == "" {
			saved, err = svc.CreateAgent(ctx, agent)
		} else {
			saved, err = svc.UpdateAgent(ctx, agent)
		}
		if err != nil {
			return i, fmt.Errorf("agent %d (%s): %w", i+1, agent.Name, err)
		}
		logrus.WithFields(logrus.Fields{"agent_id": saved.AgentID, "tenant_id": saved.TenantID}).Info("agent imported")
	}
	return len(agents), nil
}

func agentCommands(s *skiddlyInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "manage calling agents",
	}

	importCmd := &cobra.Command{
		Use:   "import [file]",
		Short: "create or update agents from a YAML file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			defer s.skiddly.Close()

			f, err := os.Open(args[0])
			if err != nil {
				log.Fatalf("Error opening %s: %v", args[0], err)
			}
			defer f.Close()

			agents, err := readAgents(f)
			if err != nil {
				log.Fatal(err)
			}

			n, err := importAgents(cmd.Context(), s.skiddly, agents)
			fmt.Printf("Imported %d of %d agents\n", n, len(agents))
			if err != nil {
				log.Fatal(err)
			}
		},
	}
	cmd.AddCommand(importCmd)

	return cmd
}
