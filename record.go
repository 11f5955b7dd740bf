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
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tevinmoore/rosync/config"
	"github.com/tevinmoore/rosync/internal/apierror"
	"github.com/tevinmoore/rosync/model"
)

// CreateRecord persists a new repair record and fires the post-write
// triggers: a push of the new row to the replica and, when the status is one
// of the waiting states, a scheduled follow-up. The triggers ride the queue;
// the store write has already committed and never waits on the replica.
func (r *Rosync) CreateRecord(ctx context.Context, record *model.Record) (*model.Record, error) {
	if record.Customer == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "customer is required", nil)
	}
	if record.Status == "" {
		record.Status = model.StatusWaitingQuote
	}

	record, err := r.datasource.CreateRecord(ctx, record)
	if err != nil {
		return nil, err
	}

	r.postRecordWriteActions(ctx, record)
	go func() {
		if err := SendWebhook(NewWebhook{Event: "record.created", Payload: record}); err != nil {
			logrus.Error(err)
		}
	}()
	return record, nil
}

// GetRecord retrieves a record by its id.
func (r *Rosync) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	return r.datasource.GetRecord(ctx, id)
}

// GetRecordByRONumber retrieves a record by its RO number.
func (r *Rosync) GetRecordByRONumber(ctx context.Context, roNumber int64) (*model.Record, error) {
	return r.datasource.GetRecordByRONumber(ctx, roNumber)
}

// UpdateRecord persists a full record update and fires the post-write
// triggers. A status change re-arms the follow-up schedule for the new
// status; the old status's pending wake resolves itself as a no-op when it
// fires and sees the record has moved on.
func (r *Rosync) UpdateRecord(ctx context.Context, record *model.Record) (*model.Record, error) {
	existing, err := r.datasource.GetRecord(ctx, record.RecordID)
	if err != nil {
		return nil, err
	}

	if err := r.datasource.UpdateRecord(ctx, record); err != nil {
		return nil, err
	}

	if record.Status != existing.Status {
		r.postRecordWriteActions(ctx, record)
	} else {
		r.triggerPush(ctx, record)
	}
	return record, nil
}

// ArchiveRecord sets a terminal status on the record and relocates its
// replica row to the matching terminal sheet. The record itself is never
// deleted; archival is a status plus a sheet move.
func (r *Rosync) ArchiveRecord(ctx context.Context, id string, status string) (*model.Record, error) {
	if !model.ArchivedStatuses[status] {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("status %q is not an archival status", status), nil)
	}

	record, err := r.datasource.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	if err := r.datasource.UpdateRecordStatus(ctx, id, status); err != nil {
		return nil, err
	}
	record.Status = status

	if record.HasRONumber() {
		destination := sheetForStatus(conf, status)
		if err := r.queue.queueMove(ctx, *record.RONumber, conf.Replica.ActiveSheet, destination); err != nil {
			logrus.Errorf("failed to enqueue move for RO %d: %v", *record.RONumber, err)
		}
	}

	go func() {
		if err := SendWebhook(NewWebhook{Event: "record.archived", Payload: record}); err != nil {
			logrus.Error(err)
		}
	}()
	return record, nil
}

// postRecordWriteActions runs the triggers that follow any status-bearing
// store write: replication to the sheet and follow-up scheduling.
func (r *Rosync) postRecordWriteActions(ctx context.Context, record *model.Record) {
	r.triggerPush(ctx, record)
	if err := r.ScheduleFollowUp(ctx, record); err != nil {
		logrus.Errorf("failed to schedule follow-up for record %s: %v", record.RecordID, err)
	}
}

// triggerPush enqueues replication of one record. Records without an RO
// number cannot be located on the sheet yet, and archived ones must never be
// pushed back onto the active sheet.
func (r *Rosync) triggerPush(ctx context.Context, record *model.Record) {
	if !record.HasRONumber() || record.IsArchived() {
		return
	}
	if err := r.queue.queuePush(ctx, []int64{*record.RONumber}); err != nil {
		logrus.Errorf("failed to enqueue push for RO %d: %v", *record.RONumber, err)
	}
}

// sheetForStatus maps an archival status to its terminal sheet. Closed
// records have no dedicated sheet and land with the returns.
func sheetForStatus(conf *config.Configuration, status string) string {
	switch status {
	case model.StatusPaid:
		return conf.Replica.PaidSheet
	case model.StatusNet:
		return conf.Replica.NetSheet
	case model.StatusReturned, model.StatusClosed:
		return conf.Replica.ReturnsSheet
	default:
		return conf.Replica.ActiveSheet
	}
}
