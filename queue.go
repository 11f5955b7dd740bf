/*
Copyright 2024 Rosync Authors.

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

package rosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tevinmoore/rosync/config"
	redis_db "github.com/tevinmoore/rosync/internal/redis-db"
)

// Queue wraps the durable task scheduler. Engine operations never run inline
// in the caller: store writes enqueue a trigger and a worker picks it up, so
// the caller's request is never held hostage by the replica's rate limits.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// PushTaskPayload carries the RO numbers a push trigger covers.
type PushTaskPayload struct {
	RONumbers []int64 `json:"ro_numbers"`
}

// MoveTaskPayload carries one sheet relocation request.
type MoveTaskPayload struct {
	RONumber int64  `json:"ro_number"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// FollowUpTaskPayload identifies the record and the status it was in when the
// follow-up wait was armed. The wake handler compares the recorded status
// against the live one to detect externally-resolved waits.
type FollowUpTaskPayload struct {
	RecordID string `json:"record_id"`
	Status   string `json:"status"`
}

// DeliveryTaskPayload identifies the approved notification to deliver plus
// any sibling notifications batched into the same send.
type DeliveryTaskPayload struct {
	NotificationID string   `json:"notification_id"`
	SiblingIDs     []string `json:"sibling_ids,omitempty"`
}

// NewQueue initializes the queue client and inspector from the configured
// redis instance.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// queuePush enqueues a push trigger for the given RO numbers. Triggers are
// fire-and-forget: the store write that caused them has already committed.
func (q *Queue) queuePush(ctx context.Context, roNumbers []int64) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(PushTaskPayload{RONumbers: roNumbers})
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.Queue(cfg.Queue.PushQueue),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	}
	task := asynq.NewTask(cfg.Queue.PushQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued push trigger: %v", roNumbers)
	return nil
}

// queuePull enqueues a full pull of the replica's active sheet.
func (q *Queue) queuePull(ctx context.Context) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.Queue(cfg.Queue.PullQueue),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	}
	task := asynq.NewTask(cfg.Queue.PullQueue, nil, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}

// queueMove enqueues a sheet relocation for one RO number.
func (q *Queue) queueMove(ctx context.Context, roNumber int64, from, to string) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(MoveTaskPayload{RONumber: roNumber, From: from, To: to})
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("move_%d_%s_%s", roNumber, from, to)),
		asynq.Queue(cfg.Queue.MoveQueue),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	}
	task := asynq.NewTask(cfg.Queue.MoveQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if isDuplicateTask(err) {
			return nil
		}
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued move: %d %s -> %s", roNumber, from, to)
	return nil
}

// queueFollowUpWake schedules the durable follow-up sleep. The scheduler owns
// the multi-day wait; no session, lock or connection is held across it. The
// task id is keyed on record and status so re-arming the same wait while one
// is already pending is a no-op.
func (q *Queue) queueFollowUpWake(ctx context.Context, recordID, status string, wakeAt time.Time) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(FollowUpTaskPayload{RecordID: recordID, Status: status})
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("followup_%s_%s", recordID, strings.ReplaceAll(status, " ", "_"))),
		asynq.Queue(cfg.Queue.FollowUpQueue),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
		asynq.ProcessIn(time.Until(wakeAt)),
	}
	task := asynq.NewTask(cfg.Queue.FollowUpQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if isDuplicateTask(err) {
			log.Printf(" [*] Follow-up wake already pending for %s (%s)", recordID, status)
			return nil
		}
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued follow-up wake: %s (%s) at %s", recordID, status, wakeAt.Format(time.RFC3339))
	return nil
}

// queueDelivery enqueues delivery of an approved notification. The task id is
// the notification id, which both dedups double approvals and gives the
// delivery handler a natural idempotency key.
func (q *Queue) queueDelivery(ctx context.Context, notificationID string, siblingIDs []string) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(DeliveryTaskPayload{NotificationID: notificationID, SiblingIDs: siblingIDs})
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("delivery_%s", notificationID)),
		asynq.Queue(cfg.Queue.DeliveryQueue),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
	}
	task := asynq.NewTask(cfg.Queue.DeliveryQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if isDuplicateTask(err) {
			return nil
		}
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued delivery: %s", notificationID)
	return nil
}

// isDuplicateTask reports whether an enqueue failed only because a task with
// the same id is already pending.
func isDuplicateTask(err error) bool {
	return errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict)
}

// GetPendingFollowUp retrieves a scheduled follow-up task by record and
// status, or nil when none is pending.
func (q *Queue) GetPendingFollowUp(recordID, status string) (*FollowUpTaskPayload, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	taskID := fmt.Sprintf("followup_%s_%s", recordID, strings.ReplaceAll(status, " ", "_"))
	task, err := q.Inspector.GetTaskInfo(cfg.Queue.FollowUpQueue, taskID)
	if err != nil || task == nil {
		return nil, nil
	}
	var payload FollowUpTaskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
