package main

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
)

// scanCommands runs one scheduler pass from the command line, in process or on the workers.
func scanCommands(s *skiddlyInstance) *cobra.Command {
	var enqueue bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "open cases for abandoned carts and dispatch due calls",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			defer s.skiddly.Close()

			if enqueue {
				queue := s.skiddly.Queue()
				if queue == nil {
					log.Fatal("no task queue configured")
				}
				if err := queue.EnqueueScan(ctx); err != nil {
					log.Fatalf("Error enqueueing scan: %v", err)
				}
				fmt.Println("Scan queued")
				return
			}

			run, err := s.skiddly.RunScheduler(ctx, time.Now())
			data, _ := json.MarshalIndent(run, "", "    ")
			fmt.Println(string(data))
			if err != nil {
				log.Fatalf("Scan finished with errors: %v", err)
			}
		},
	}
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "hand the scan to the workers instead of running it here")

	return cmd
}
