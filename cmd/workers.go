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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/hibiken/asynq"

	"github.com/tevinmoore/rosync"
	"github.com/tevinmoore/rosync/config"
	redis_db "github.com/tevinmoore/rosync/internal/redis-db"
	trace "github.com/tevinmoore/rosync/internal/traces"
)

// processPush replicates the records named in the task to the active sheet.
// A rate-limited push comes back as an error and rides the scheduler's retry
// backoff; nothing here retries sub-batches in place.
func (b *rosyncInstance) processPush(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("rosync.workers").Start(ctx, "Process Push From Queue")
	defer span.End()

	var payload rosync.PushTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return err
	}

	result, err := b.rosync.Push(ctx, payload.RONumbers)
	if err != nil {
		logrus.Infof("Push of %v pushed back for retry due to error: %v", payload.RONumbers, err)
		return err
	}

	log.Printf(" [*] Push processed: %d updated, %d added, %d row errors",
		result.Updated, result.Added, len(result.RowErrors))
	return nil
}

// processPull folds the entire active sheet into the store.
func (b *rosyncInstance) processPull(ctx context.Context, _ *asynq.Task) error {
	ctx, span := otel.Tracer("rosync.workers").Start(ctx, "Process Pull From Queue")
	defer span.End()

	result, err := b.rosync.Pull(ctx)
	if err != nil {
		return err
	}

	log.Printf(" [*] Pull processed: %d created, %d updated, %d skipped",
		result.Created, result.Updated, result.Skipped)
	return nil
}

// processMove relocates one record's row between sheets.
func (b *rosyncInstance) processMove(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("rosync.workers").Start(ctx, "Process Move From Queue")
	defer span.End()

	var payload rosync.MoveTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return err
	}

	result, err := b.rosync.Move(ctx, payload.RONumber, payload.From, payload.To)
	if err != nil {
		logrus.Infof("Move of RO %d pushed back for retry due to error: %v", payload.RONumber, err)
		return err
	}

	log.Printf(" [*] Move processed: RO %d -> %s row %d (source deleted: %v)",
		result.RONumber, result.DestinationSheet, result.DestinationRow, result.SourceRowDeleted)
	return nil
}

// processFollowUpWake handles an elapsed follow-up wait.
func (b *rosyncInstance) processFollowUpWake(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("rosync.workers").Start(ctx, "Process Follow-Up Wake From Queue")
	defer span.End()

	var payload rosync.FollowUpTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return err
	}

	outcome, err := b.rosync.HandleFollowUpWake(ctx, payload.RecordID, payload.Status)
	if err != nil {
		return err
	}

	log.Printf(" [*] Follow-up wake processed: %s (%s) -> %s", payload.RecordID, payload.Status, outcome)
	return nil
}

// processDelivery sends an approved notification. When the retry budget runs
// out the notification is forced into FAILED instead of being abandoned in
// APPROVED, and the task is consumed.
func (b *rosyncInstance) processDelivery(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("rosync.workers").Start(ctx, "Process Delivery From Queue")
	defer span.End()

	var payload rosync.DeliveryTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return err
	}

	err := b.rosync.DeliverNotification(ctx, payload.NotificationID, payload.SiblingIDs)
	if err != nil {
		retryCount, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		if retryCount >= maxRetry {
			logrus.Warnf("Delivery of %s exhausted its retries: %v", payload.NotificationID, err)
			return b.rosync.FailNotification(ctx, payload.NotificationID, fmt.Sprintf("max delivery attempts reached: %v", err))
		}

		logrus.Infof("Delivery of %s pushed back for retry (%d/%d) due to error: %v",
			payload.NotificationID, retryCount, maxRetry, err)
		return err
	}

	log.Println(" [*] Delivery processed", payload.NotificationID)
	return nil
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.PushQueue] = 2
	queues[cfg.Queue.PullQueue] = 1
	queues[cfg.Queue.MoveQueue] = 2
	queues[cfg.Queue.FollowUpQueue] = 3
	queues[cfg.Queue.DeliveryQueue] = 3
	queues[cfg.Queue.WebhookQueue] = 3
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(b *rosyncInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	mux.HandleFunc(cfg.Queue.PushQueue, b.processPush)
	mux.HandleFunc(cfg.Queue.PullQueue, b.processPull)
	mux.HandleFunc(cfg.Queue.MoveQueue, b.processMove)
	mux.HandleFunc(cfg.Queue.FollowUpQueue, b.processFollowUpWake)
	mux.HandleFunc(cfg.Queue.DeliveryQueue, b.processDelivery)
	mux.HandleFunc(cfg.Queue.WebhookQueue, rosync.ProcessWebhook)
}

// initializeObservability sets up tracing when telemetry is enabled.
func initializeObservability(ctx context.Context, cfg *config.Configuration) (func(context.Context) error, error) {
	if !cfg.EnableTelemetry {
		return func(context.Context) error { return nil }, nil
	}

	shutdown, err := trace.SetupOTelSDK(ctx, "ROSYNC")
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

// workerCommands defines the "workers" command to start the queue worker
// processes: replication jobs, follow-up wakes, deliveries and webhooks, plus
// the stale delivery and due-follow-up sweepers.
func workerCommands(b *rosyncInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start rosync workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			recovery := rosync.NewStaleDeliveryRecoveryProcessor(b.rosync)
			recovery.Start(ctx)
			defer recovery.Stop()

			sweep := rosync.NewFollowUpSweepProcessor(b.rosync)
			sweep.Start(ctx)
			defer sweep.Stop()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
