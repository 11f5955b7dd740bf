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

func TestScheduleFollowUpArmsWake(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()
	record := testRecord("rec_1", 1001, model.StatusWaitingQuote)

	reminder := &model.Notification{NotificationID: "ntf_reminder", RecordID: "rec_1", Status: model.NotificationSent}
	ds.On("CreateNotification", mock.Anything, mock.Anything).Return(reminder, nil)

	err := rsync.ScheduleFollowUp(ctx, record)
	assert.NoError(t, err)

	cfg, err := config.Fetch()
	assert.NoError(t, err)
	task, err := rsync.queue.Inspector.GetTaskInfo(cfg.Queue.FollowUpQueue, "followup_rec_1_Waiting_Quote")
	assert.NoError(t, err)
	assert.Equal(t, "followup_rec_1_Waiting_Quote", task.ID)
}

func TestScheduleFollowUpIgnoresUnscheduledStatuses(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()
	record := testRecord("rec_1", 1001, model.StatusInRepair)

	err := rsync.ScheduleFollowUp(ctx, record)
	assert.NoError(t, err)
	ds.AssertNotCalled(t, "CreateNotification", mock.Anything, mock.Anything)

	payload, err := rsync.queue.GetPendingFollowUp("rec_1", model.StatusInRepair)
	assert.NoError(t, err)
	assert.Nil(t, payload)
}

func TestScheduleFollowUpSurvivesReminderFailure(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()
	record := testRecord("rec_1", 1001, model.StatusWaitingParts)

	ds.On("CreateNotification", mock.Anything, mock.Anything).
		Return(nil, apierror.NewAPIError(apierror.ErrInternalServer, "connection reset", nil))

	// The reminder artifact is best-effort; the wake still gets armed.
	err := rsync.ScheduleFollowUp(ctx, record)
	assert.NoError(t, err)

	payload, err := rsync.queue.GetPendingFollowUp("rec_1", model.StatusWaitingParts)
	assert.NoError(t, err)
	assert.NotNil(t, payload)
}

func TestHandleFollowUpWakeStatusMovedOn(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	record := testRecord("rec_1", 1001, model.StatusApproved)
	ds.On("GetRecord", mock.Anything, "rec_1").Return(record, nil)

	outcome, err := rsync.HandleFollowUpWake(ctx, "rec_1", model.StatusWaitingQuote)
	assert.NoError(t, err)
	assert.Equal(t, FollowUpResolved, outcome)
	ds.AssertNotCalled(t, "CreateNotification", mock.Anything, mock.Anything)
}

func TestHandleFollowUpWakeRecordGone(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	ds.On("GetRecord", mock.Anything, "rec_1").
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Record not found", nil))

	outcome, err := rsync.HandleFollowUpWake(ctx, "rec_1", model.StatusWaitingQuote)
	assert.NoError(t, err)
	assert.Equal(t, FollowUpResolved, outcome)
}

func TestHandleFollowUpWakeNoContact(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	record := testRecord("rec_1", 1001, model.StatusWaitingQuote)
	record.ContactEmail = ""
	ds.On("GetRecord", mock.Anything, "rec_1").Return(record, nil)

	outcome, err := rsync.HandleFollowUpWake(ctx, "rec_1", model.StatusWaitingQuote)
	assert.NoError(t, err)
	assert.Equal(t, FollowUpSkipped, outcome)
	ds.AssertNotCalled(t, "CreateNotification", mock.Anything, mock.Anything)
}

func TestHandleFollowUpWakeFallsBackToCachedContact(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	record := testRecord("rec_1", 1001, model.StatusWaitingQuote)
	record.ContactEmail = ""
	err := rsync.cache.Set(ctx, contactCacheKey(record.Customer), "fallback@acmeaviation.example.com", contactCacheTTL)
	assert.NoError(t, err)

	ds.On("GetRecord", mock.Anything, "rec_1").Return(record, nil)
	ds.On("GetLastSentNotificationForRecord", mock.Anything, "rec_1").Return(nil, nil)
	ds.On("GetPendingNotificationForRecord", mock.Anything, "rec_1").Return(nil, nil)

	var draft *model.Notification
	ds.On("CreateNotification", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		draft = args.Get(1).(*model.Notification)
	}).Return(&model.Notification{NotificationID: "ntf_draft"}, nil)

	outcome, err := rsync.HandleFollowUpWake(ctx, "rec_1", model.StatusWaitingQuote)
	assert.NoError(t, err)
	assert.Equal(t, FollowUpExpired, outcome)
	if assert.NotNil(t, draft) {
		assert.Equal(t, "fallback@acmeaviation.example.com", draft.Payload.Recipient)
	}
}

func TestHandleFollowUpWakeDraftsAfterUnchangedWait(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	record := testRecord("rec_1", 1001, model.StatusWaitingPayment)
	ds.On("GetRecord", mock.Anything, "rec_1").Return(record, nil)
	ds.On("GetLastSentNotificationForRecord", mock.Anything, "rec_1").
		Return(&model.Notification{NotificationID: "ntf_prev", MessageID: "msg-prev", Status: model.NotificationSent}, nil)
	ds.On("GetPendingNotificationForRecord", mock.Anything, "rec_1").Return(nil, nil)

	var draft *model.Notification
	ds.On("CreateNotification", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		draft = args.Get(1).(*model.Notification)
	}).Return(&model.Notification{NotificationID: "ntf_draft"}, nil)

	outcome, err := rsync.HandleFollowUpWake(ctx, "rec_1", model.StatusWaitingPayment)
	assert.NoError(t, err)
	assert.Equal(t, FollowUpExpired, outcome)
	if assert.NotNil(t, draft) {
		assert.Equal(t, model.NotificationEmailDraft, draft.Type)
		assert.Equal(t, model.NotificationPendingApproval, draft.Status)
		assert.Equal(t, record.ContactEmail, draft.Payload.Recipient)
		assert.Contains(t, draft.Payload.Subject, "Payment reminder")
		// The draft replies to the last sent message so the thread continues.
		assert.Equal(t, "msg-prev", draft.Payload.ThreadID)
	}
}
