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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/tevinmoore/rosync/config"
	"github.com/tevinmoore/rosync/internal/apierror"
	"github.com/tevinmoore/rosync/model"
)

func TestCreateRecordRequiresCustomer(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	_, err := rsync.CreateRecord(ctx, &model.Record{Status: model.StatusWaitingQuote})
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrInvalidInput, apiErr.Code)
	ds.AssertNotCalled(t, "CreateRecord", mock.Anything, mock.Anything)
}

func TestCreateRecordDefaultsStatusAndTriggersPush(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	var stored *model.Record
	ds.On("CreateRecord", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		stored = args.Get(1).(*model.Record)
	}).Return(testRecord("rec_1", 1001, model.StatusWaitingQuote), nil)
	ds.On("CreateNotification", mock.Anything, mock.Anything).
		Return(&model.Notification{NotificationID: "ntf_reminder"}, nil)

	created, err := rsync.CreateRecord(ctx, &model.Record{Customer: "Acme Aviation"})
	assert.NoError(t, err)
	assert.Equal(t, "rec_1", created.RecordID)

	// An empty status lands the record at the head of the workflow.
	if assert.NotNil(t, stored) {
		assert.Equal(t, model.StatusWaitingQuote, stored.Status)
	}

	// The new row rides the queue out to the replica.
	cfg, err := config.Fetch()
	assert.NoError(t, err)
	queues, err := rsync.queue.Inspector.Queues()
	assert.NoError(t, err)
	assert.Contains(t, queues, cfg.Queue.PushQueue)

	// And the waiting status armed its follow-up wake.
	payload, err := rsync.queue.GetPendingFollowUp("rec_1", model.StatusWaitingQuote)
	assert.NoError(t, err)
	assert.NotNil(t, payload)
}

func TestUpdateRecordReArmsFollowUpOnStatusChange(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	existing := testRecord("rec_1", 1001, model.StatusWaitingQuote)
	updated := testRecord("rec_1", 1001, model.StatusWaitingApproval)

	ds.On("GetRecord", mock.Anything, "rec_1").Return(existing, nil)
	ds.On("UpdateRecord", mock.Anything, updated).Return(nil)
	ds.On("CreateNotification", mock.Anything, mock.Anything).
		Return(&model.Notification{NotificationID: "ntf_reminder"}, nil)

	_, err := rsync.UpdateRecord(ctx, updated)
	assert.NoError(t, err)

	// The new status carries its own wake; the stale one resolves on fire.
	payload, err := rsync.queue.GetPendingFollowUp("rec_1", model.StatusWaitingApproval)
	assert.NoError(t, err)
	assert.NotNil(t, payload)
}

func TestUpdateRecordWithoutStatusChangeOnlyPushes(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	existing := testRecord("rec_1", 1001, model.StatusInRepair)
	updated := testRecord("rec_1", 1001, model.StatusInRepair)
	updated.PartNumber = "PN-4411"

	ds.On("GetRecord", mock.Anything, "rec_1").Return(existing, nil)
	ds.On("UpdateRecord", mock.Anything, updated).Return(nil)

	_, err := rsync.UpdateRecord(ctx, updated)
	assert.NoError(t, err)
	ds.AssertNotCalled(t, "CreateNotification", mock.Anything, mock.Anything)
}

func TestArchiveRecordRejectsNonArchivalStatus(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	_, err := rsync.ArchiveRecord(ctx, "rec_1", model.StatusInRepair)
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrInvalidInput, apiErr.Code)
	ds.AssertNotCalled(t, "UpdateRecordStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestArchiveRecordQueuesMoveToTerminalSheet(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	record := testRecord("rec_1", 1001, model.StatusWaitingPayment)
	ds.On("GetRecord", mock.Anything, "rec_1").Return(record, nil)
	ds.On("UpdateRecordStatus", mock.Anything, "rec_1", model.StatusPaid).Return(nil)

	archived, err := rsync.ArchiveRecord(ctx, "rec_1", model.StatusPaid)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusPaid, archived.Status)

	cfg, err := config.Fetch()
	assert.NoError(t, err)
	task, err := rsync.queue.Inspector.GetTaskInfo(cfg.Queue.MoveQueue, "move_1001_Active_Paid")
	assert.NoError(t, err)
	assert.Equal(t, "move_1001_Active_Paid", task.ID)
}

func TestArchiveRecordWithoutRONumberSkipsMove(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	record := testRecord("rec_1", 0, model.StatusWaitingQuote)
	record.RONumber = nil
	ds.On("GetRecord", mock.Anything, "rec_1").Return(record, nil)
	ds.On("UpdateRecordStatus", mock.Anything, "rec_1", model.StatusClosed).Return(nil)

	// The record never made it onto the sheet, so there is no row to move.
	archived, err := rsync.ArchiveRecord(ctx, "rec_1", model.StatusClosed)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusClosed, archived.Status)
}

func TestSheetForStatus(t *testing.T) {
	newTestRosync(t)
	conf, err := config.Fetch()
	assert.NoError(t, err)

	assert.Equal(t, conf.Replica.PaidSheet, sheetForStatus(conf, model.StatusPaid))
	assert.Equal(t, conf.Replica.NetSheet, sheetForStatus(conf, model.StatusNet))
	assert.Equal(t, conf.Replica.ReturnsSheet, sheetForStatus(conf, model.StatusReturned))
	assert.Equal(t, conf.Replica.ReturnsSheet, sheetForStatus(conf, model.StatusClosed))
}
