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
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tevinmoore/rosync/model"
)

// StaleDeliveryRecoveryProcessor periodically sweeps for notifications stuck
// in APPROVED. An approved notification whose delivery task was lost would
// otherwise sit there forever: the approver believes it went out and nothing
// re-examines it. Recent stragglers are re-enqueued; ones past the age limit
// are failed so the stuck state is at least visible.
type StaleDeliveryRecoveryProcessor struct {
	rosync         *Rosync
	pollInterval   time.Duration
	stuckThreshold time.Duration
	failThreshold  time.Duration
	stopCh         chan struct{}
	wg             sync.WaitGroup
	running        bool
	mu             sync.Mutex
}

func NewStaleDeliveryRecoveryProcessor(rosync *Rosync) *StaleDeliveryRecoveryProcessor {
	return &StaleDeliveryRecoveryProcessor{
		rosync:         rosync,
		pollInterval:   5 * time.Minute,
		stuckThreshold: 1 * time.Hour,
		failThreshold:  24 * time.Hour,
		stopCh:         make(chan struct{}),
	}
}

func (p *StaleDeliveryRecoveryProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.Info("Stale delivery recovery processor started")
}

func (p *StaleDeliveryRecoveryProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("Stale delivery recovery processor stopped")
}

func (p *StaleDeliveryRecoveryProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *StaleDeliveryRecoveryProcessor) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Stale delivery recovery processor context cancelled")
			return
		case <-p.stopCh:
			logrus.Info("Stale delivery recovery processor stop signal received")
			return
		case <-ticker.C:
			if _, err := p.recoverWithThreshold(ctx, p.stuckThreshold); err != nil {
				logrus.Errorf("stale delivery sweep failed: %v", err)
			}
		}
	}
}

// RecoverStaleDeliveries triggers an immediate sweep with the provided
// threshold. Exposed for the manual operational trigger.
func (r *Rosync) RecoverStaleDeliveries(ctx context.Context, threshold time.Duration) (int, error) {
	if threshold < 2*time.Minute {
		threshold = 2 * time.Minute
	}

	processor := NewStaleDeliveryRecoveryProcessor(r)
	return processor.recoverWithThreshold(ctx, threshold)
}

func (p *StaleDeliveryRecoveryProcessor) recoverWithThreshold(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-threshold)
	stale, err := p.rosync.datasource.GetStaleApprovedNotifications(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	logrus.Infof("Processing %d stale approved notifications (threshold=%v)", len(stale), threshold)

	failCutoff := time.Now().Add(-p.failThreshold)
	for _, notification := range stale {
		if err := p.processStaleNotification(ctx, notification, failCutoff); err != nil {
			logrus.Errorf("failed to process stale notification %s: %v", notification.NotificationID, err)
		}
	}
	return len(stale), nil
}

func (p *StaleDeliveryRecoveryProcessor) processStaleNotification(ctx context.Context, notification *model.Notification, failCutoff time.Time) error {
	if notification.CreatedAt.Before(failCutoff) {
		logrus.Warnf("Stale notification %s exceeded the recovery age limit, failing", notification.NotificationID)
		return p.rosync.FailNotification(ctx, notification.NotificationID, "exceeded stale delivery age limit")
	}

	// Re-enqueue is safe against a still-pending task: the task id is the
	// notification id, so a duplicate collapses into the existing one.
	if err := p.rosync.queue.queueDelivery(ctx, notification.NotificationID, nil); err != nil {
		return err
	}
	logrus.Infof("Re-enqueued stale approved notification %s", notification.NotificationID)
	return nil
}
