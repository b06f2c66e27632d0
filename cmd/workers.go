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
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/skiddly/skiddly"
	"github.com/skiddly/skiddly/config"
	redis_db "github.com/skiddly/skiddly/internal/redis-db"
)

func initializeWorkerServer(conf *config.Configuration, queue *skiddly.Queue) (*asynq.Server, error) {
	opt, err := redis_db.AsynqConnOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(opt, asynq.Config{
		Concurrency: conf.Queue.Concurrency,
		Queues:      queue.Queues(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			entry := logrus.WithError(err).WithFields(logrus.Fields{"type": task.Type(), "retried": retried})
			if errors.Is(err, asynq.SkipRetry) {
				entry.Error("task failed permanently")
				return
			}
			entry.Warn("task failed")
		}),
	}), nil
}

// initializeScheduler registers the periodic scheduler scan.
func initializeScheduler(conf *config.Configuration, queue *skiddly.Queue) (*asynq.Scheduler, error) {
	opt, err := redis_db.AsynqConnOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	scheduler := asynq.NewScheduler(opt, nil)
	task, opts := queue.ScanTask()
	entryID, err := scheduler.Register(conf.Scheduler.ScanCron, task, opts...)
	if err != nil {
		return nil, fmt.Errorf("error registering scan %q: %v", conf.Scheduler.ScanCron, err)
	}
	logrus.WithFields(logrus.Fields{"entry_id": entryID, "cron": conf.Scheduler.ScanCron}).Info("scheduler scan registered")
	return scheduler, nil
}

func startMonitoring(conf *config.Configuration) {
	opt, err := redis_db.AsynqConnOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Printf("Monitoring disabled: %v", err)
		return
	}
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: opt,
	})

	go func() {
		monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
		log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
		if err := http.ListenAndServe(monitoringAddr, h); err != nil {
			log.Fatalf("could not start asynqmon server: %v", err)
		}
	}()
}

// workerCommands defines the "workers" command. Workers place calls, process call results
// and result timeouts, deliver webhooks and run the periodic scheduler scan.
func workerCommands(s *skiddlyInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start skiddly workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			conf := s.cnf

			queue := s.skiddly.Queue()
			if queue == nil {
				log.Fatal("workers need a task queue; check the redis configuration")
			}

			shutdown, err := initializeObservability(ctx, s, "skiddly-workers")
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

			srv, err := initializeWorkerServer(conf, queue)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			s.skiddly.RegisterHandlers(mux)

			scheduler, err := initializeScheduler(conf, queue)
			if err != nil {
				log.Fatal(err)
			}
			if err := scheduler.Start(); err != nil {
				log.Fatalf("could not start scheduler: %v", err)
			}
			defer scheduler.Shutdown()

			startMonitoring(conf)

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
