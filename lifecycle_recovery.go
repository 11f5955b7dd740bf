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
)

// FollowUpSweepProcessor periodically sweeps for records whose next-update
// date has passed without a pending follow-up wake. A wake can be lost when
// redis is flushed or a task is manually deleted; the record would then sit
// overdue forever with nothing re-examining it. The sweep re-arms the wait
// for any due record in a waiting status that has no wake pending.
type FollowUpSweepProcessor struct {
	rosync       *Rosync
	pollInterval time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
	running      bool
	mu           sync.Mutex
}

func NewFollowUpSweepProcessor(rosync *Rosync) *FollowUpSweepProcessor {
	return &FollowUpSweepProcessor{
		rosync:       rosync,
		pollInterval: 1 * time.Hour,
		stopCh:       make(chan struct{}),
	}
}

func (p *FollowUpSweepProcessor) Start(ctx context.Context) {
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

	logrus.Info("Follow-up sweep processor started")
}

func (p *FollowUpSweepProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("Follow-up sweep processor stopped")
}

func (p *FollowUpSweepProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *FollowUpSweepProcessor) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Follow-up sweep processor context cancelled")
			return
		case <-p.stopCh:
			logrus.Info("Follow-up sweep processor stop signal received")
			return
		case <-ticker.C:
			if _, err := p.rosync.SweepDueFollowUps(ctx, time.Now()); err != nil {
				logrus.Errorf("follow-up sweep failed: %v", err)
			}
		}
	}
}

// SweepDueFollowUps re-arms follow-up waits for records past their
// next-update date. Records whose status has no follow-up policy are left
// alone, and a record with a wake already pending is skipped: the wake owns
// that wait and will re-validate on its own. Returns how many records were
// re-armed.
func (r *Rosync) SweepDueFollowUps(ctx context.Context, asOf time.Time) (int, error) {
	records, err := r.datasource.GetRecordsDueForUpdate(ctx, asOf)
	if err != nil {
		return 0, err
	}

	rearmed := 0
	for _, record := range records {
		if _, ok := followUpPolicies[record.Status]; !ok {
			continue
		}

		pending, err := r.queue.GetPendingFollowUp(record.RecordID, record.Status)
		if err != nil {
			logrus.Errorf("follow-up sweep: wake lookup failed for %s: %v", record.RecordID, err)
			continue
		}
		if pending != nil {
			continue
		}

		if err := r.ScheduleFollowUp(ctx, record); err != nil {
			logrus.Errorf("follow-up sweep: failed to re-arm record %s: %v", record.RecordID, err)
			continue
		}
		logrus.Infof("follow-up sweep: re-armed %q wait for overdue record %s", record.Status, record.RecordID)
		rearmed++
	}
	return rearmed, nil
}
