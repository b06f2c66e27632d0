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

package skiddly

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/skiddly/skiddly/config"
	redis_db "github.com/skiddly/skiddly/internal/redis-db"
	"github.com/skiddly/skiddly/model"
)

// Task types handled by the workers.
const (
	TaskDispatchCall  = "call:dispatch"
	TaskCallResult    = "call:result"
	TaskResultTimeout = "call:result_timeout"
	TaskWebhook       = "webhook:deliver"
	TaskScan          = "scheduler:scan"
)

// Queue represents a queue for handling various tasks.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	conf      config.QueueConfig
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := redis_db.AsynqConnOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	return NewQueueWithConn(opt, conf.Queue), nil
}

// NewQueueWithConn builds a Queue on an existing asynq connection.
func NewQueueWithConn(opt asynq.RedisConnOpt, qc config.QueueConfig) *Queue {
	if qc.DispatchQueue == "" {
		qc.DispatchQueue = config.DefaultDispatchQueue
	}
	if qc.CallResultQueue == "" {
		qc.CallResultQueue = config.DefaultCallResultQueue
	}
	if qc.WebhookQueue == "" {
		qc.WebhookQueue = config.DefaultWebhookQueue
	}
	if qc.ScanQueue == "" {
		qc.ScanQueue = config.DefaultScanQueue
	}
	if qc.MaxRetry <= 0 {
		qc.MaxRetry = 5
	}
	return &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
		conf:      qc,
	}
}

// Queues returns the priority map the worker server listens on.
func (q *Queue) Queues() map[string]int {
	return map[string]int{
		q.conf.CallResultQueue: 6,
		q.conf.DispatchQueue:   4,
		q.conf.WebhookQueue:    2,
		q.conf.ScanQueue:       1,
	}
}

func (q *Queue) Config() config.QueueConfig {
	return q.conf
}

func (q *Queue) Close() error {
	return errors.Join(q.Client.Close(), q.Inspector.Close())
}

// enqueue treats a task id that is already queued as success, so every enqueue is idempotent.
func (q *Queue) enqueue(ctx context.Context, taskType string, payload interface{}, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	info, err := q.Client.EnqueueContext(ctx, asynq.NewTask(taskType, data), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		logrus.WithField("type", taskType).Debug("task already enqueued")
		return nil
	}
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"type": taskType, "id": info.ID, "queue": info.Queue}).Debug("task enqueued")
	return nil
}

// EnqueueDispatch queues the provider call for a claimed attempt. The call id is the task id.
func (q *Queue) EnqueueDispatch(ctx context.Context, callID string) error {
	return q.enqueue(ctx, TaskDispatchCall, callID,
		asynq.TaskID(callID),
		asynq.Queue(q.conf.DispatchQueue),
		asynq.MaxRetry(q.conf.MaxRetry),
	)
}

// EnqueueCallResult hands a provider callback to the workers.
func (q *Queue) EnqueueCallResult(ctx context.Context, result model.CallResult) error {
	return q.enqueue(ctx, TaskCallResult, result,
		asynq.TaskID("result_"+result.CallID),
		asynq.Queue(q.conf.CallResultQueue),
		asynq.MaxRetry(q.conf.MaxRetry),
		asynq.Retention(24*time.Hour),
	)
}

// EnqueueResultTimeout checks at processAt that a dispatched call got its result.
func (q *Queue) EnqueueResultTimeout(ctx context.Context, callID string, processAt time.Time) error {
	return q.enqueue(ctx, TaskResultTimeout, callID,
		asynq.TaskID("timeout_"+callID),
		asynq.Queue(q.conf.CallResultQueue),
		asynq.ProcessIn(time.Until(processAt)),
	)
}

func (q *Queue) EnqueueWebhook(ctx context.Context, hook NewWebhook) error {
	return q.enqueue(ctx, TaskWebhook, hook,
		asynq.Queue(q.conf.WebhookQueue),
		asynq.MaxRetry(q.conf.MaxRetry),
	)
}

// EnqueueScan requests an immediate scheduler run.
func (q *Queue) EnqueueScan(ctx context.Context) error {
	return q.enqueue(ctx, TaskScan, struct{}{},
		asynq.Queue(q.conf.ScanQueue),
		asynq.MaxRetry(0),
		asynq.Unique(30*time.Second),
	)
}

// ScanTask is the periodic task registered with the asynq scheduler.
func (q *Queue) ScanTask() (*asynq.Task, []asynq.Option) {
	return asynq.NewTask(TaskScan, []byte("{}")), []asynq.Option{
		asynq.Queue(q.conf.ScanQueue),
		asynq.MaxRetry(0),
		asynq.Unique(30 * time.Second),
	}
}
