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
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/tevinmoore/rosync/config"
	"github.com/tevinmoore/rosync/model"
)

func approvedNotification(id, recordID string) *model.Notification {
	return &model.Notification{
		NotificationID: id,
		RecordID:       recordID,
		Type:           model.NotificationEmailDraft,
		Status:         model.NotificationApproved,
		Payload: model.NotificationPayload{
			Recipient: "dana@acmeaviation.example.com",
			Subject:   "Quote follow-up for RO 1001",
			Body:      "Hello Dana,\n\nChecking in on your repair order.",
			ThreadID:  "msg-prev",
		},
		CreatedAt: time.Now(),
	}
}

func registerMailSend(status int, body map[string]interface{}) {
	httpmock.RegisterResponder("POST", "https://mail.example.com/messages/send",
		func(req *http.Request) (*http.Response, error) {
			return httpmock.NewJsonResponse(status, body)
		})
}

func mailSendCallCount() int {
	return httpmock.GetCallCountInfo()["POST https://mail.example.com/messages/send"]
}

func TestDeliverNotificationSkipsTerminalStates(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	for _, status := range []model.NotificationStatus{
		model.NotificationSent, model.NotificationRejected, model.NotificationFailed,
	} {
		notification := approvedNotification("ntf_1", "rec_1")
		notification.Status = status
		ds.On("GetNotification", mock.Anything, "ntf_1").Return(notification, nil).Once()

		err := rsync.DeliverNotification(ctx, "ntf_1", nil)
		assert.NoError(t, err)
	}

	// Nothing terminal ever reaches the messaging API.
	assert.Zero(t, mailSendCallCount())
	ds.AssertNotCalled(t, "MarkNotificationSent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDeliverNotificationSkipsUnapproved(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	notification := approvedNotification("ntf_1", "rec_1")
	notification.Status = model.NotificationPendingApproval
	ds.On("GetNotification", mock.Anything, "ntf_1").Return(notification, nil)

	err := rsync.DeliverNotification(ctx, "ntf_1", nil)
	assert.NoError(t, err)
	assert.Zero(t, mailSendCallCount())
}

func TestDeliverNotificationFailsTerminallyWithoutRecipient(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	notification := approvedNotification("ntf_1", "rec_1")
	notification.Payload.Recipient = ""
	ds.On("GetNotification", mock.Anything, "ntf_1").Return(notification, nil)
	ds.On("UpdateNotificationStatus", mock.Anything, "ntf_1", string(model.NotificationFailed)).Return(nil)

	// No address means no amount of retrying can deliver; the notification
	// fails immediately instead of bouncing through the retry schedule.
	err := rsync.DeliverNotification(ctx, "ntf_1", nil)
	assert.NoError(t, err)
	assert.Zero(t, mailSendCallCount())
	ds.AssertCalled(t, "UpdateNotificationStatus", mock.Anything, "ntf_1", string(model.NotificationFailed))
}

func TestDeliverNotificationSendsAndMarksSent(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	notification := approvedNotification("ntf_1", "rec_1")
	record := testRecord("rec_1", 1001, model.StatusWaitingQuote)

	registerMailSend(200, map[string]interface{}{
		"message_id":      "msg-42",
		"conversation_id": "conv-7",
	})

	ds.On("GetNotification", mock.Anything, "ntf_1").Return(notification, nil)
	ds.On("MarkNotificationSent", mock.Anything, "ntf_1", "msg-42", "conv-7").Return(nil)
	ds.On("GetRecord", mock.Anything, "rec_1").Return(record, nil)

	var updated *model.Record
	ds.On("UpdateRecord", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		updated = args.Get(1).(*model.Record)
	}).Return(nil)

	err := rsync.DeliverNotification(ctx, "ntf_1", nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, mailSendCallCount())

	// The tracking dates were re-armed on the record after the send.
	if assert.NotNil(t, updated) {
		today := time.Now().Format("2006-01-02")
		assert.Equal(t, today, updated.LastDateUpdated)
		assert.Equal(t, time.Now().AddDate(0, 0, 7).Format("2006-01-02"), updated.NextDateToUpdate)
	}

	// The send address matched what was on file, so nothing was learned.
	var cached string
	err = rsync.cache.Get(ctx, contactCacheKey(record.Customer), &cached)
	assert.Error(t, err)

	// The freshened record was queued for re-replication.
	cfg, err := config.Fetch()
	assert.NoError(t, err)
	queues, err := rsync.queue.Inspector.Queues()
	assert.NoError(t, err)
	assert.Contains(t, queues, cfg.Queue.PushQueue)
}

func TestDeliverNotificationLearnsChangedContact(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	notification := approvedNotification("ntf_1", "rec_1")
	sibling := approvedNotification("ntf_2", "rec_2")

	// rec_1 has a stale address on file; rec_2 belongs to a second customer
	// with no address at all. Both learn the actual send address.
	recordA := testRecord("rec_1", 1001, model.StatusWaitingQuote)
	recordA.ContactEmail = "old-contact@acmeaviation.example.com"
	recordB := testRecord("rec_2", 1002, model.StatusWaitingQuote)
	recordB.Customer = "Betty Avionics"
	recordB.ContactEmail = ""

	registerMailSend(200, map[string]interface{}{
		"message_id":      "msg-42",
		"conversation_id": "conv-7",
	})

	ds.On("GetNotification", mock.Anything, "ntf_1").Return(notification, nil)
	ds.On("GetNotification", mock.Anything, "ntf_2").Return(sibling, nil)
	ds.On("MarkNotificationSent", mock.Anything, mock.Anything, "msg-42", "conv-7").Return(nil)
	ds.On("GetRecord", mock.Anything, "rec_1").Return(recordA, nil)
	ds.On("GetRecord", mock.Anything, "rec_2").Return(recordB, nil)
	ds.On("UpdateRecord", mock.Anything, mock.Anything).Return(nil)

	err := rsync.DeliverNotification(ctx, "ntf_1", []string{"ntf_2"})
	assert.NoError(t, err)

	var cached string
	err = rsync.cache.Get(ctx, contactCacheKey(recordA.Customer), &cached)
	assert.NoError(t, err)
	assert.Equal(t, "dana@acmeaviation.example.com", cached)

	err = rsync.cache.Get(ctx, contactCacheKey("Betty Avionics"), &cached)
	assert.NoError(t, err)
	assert.Equal(t, "dana@acmeaviation.example.com", cached)
}

func TestDeliverNotificationMarksSiblings(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	notification := approvedNotification("ntf_1", "rec_1")
	sibling := approvedNotification("ntf_2", "rec_2")
	recordA := testRecord("rec_1", 1001, model.StatusWaitingQuote)
	recordB := testRecord("rec_2", 1002, model.StatusWaitingQuote)

	registerMailSend(200, map[string]interface{}{
		"message_id":      "msg-42",
		"conversation_id": "conv-7",
	})

	ds.On("GetNotification", mock.Anything, "ntf_1").Return(notification, nil)
	ds.On("GetNotification", mock.Anything, "ntf_2").Return(sibling, nil)
	ds.On("MarkNotificationSent", mock.Anything, "ntf_1", "msg-42", "conv-7").Return(nil)
	ds.On("MarkNotificationSent", mock.Anything, "ntf_2", "msg-42", "conv-7").Return(nil)
	ds.On("GetRecord", mock.Anything, "rec_1").Return(recordA, nil)
	ds.On("GetRecord", mock.Anything, "rec_2").Return(recordB, nil)
	ds.On("UpdateRecord", mock.Anything, mock.Anything).Return(nil)

	err := rsync.DeliverNotification(ctx, "ntf_1", []string{"ntf_2"})
	assert.NoError(t, err)

	// One email went out, both notifications carry its ids.
	assert.Equal(t, 1, mailSendCallCount())
	ds.AssertCalled(t, "MarkNotificationSent", mock.Anything, "ntf_2", "msg-42", "conv-7")
}

func TestDeliverNotificationReturnsMailErrorForRetry(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	notification := approvedNotification("ntf_1", "rec_1")
	registerMailSend(500, map[string]interface{}{"error": "upstream unavailable"})
	ds.On("GetNotification", mock.Anything, "ntf_1").Return(notification, nil)

	err := rsync.DeliverNotification(ctx, "ntf_1", nil)
	assert.Error(t, err)

	// Nothing was persisted; the task retry will attempt the send again.
	ds.AssertNotCalled(t, "MarkNotificationSent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFailNotificationIsNoOpWhenTerminal(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	notification := approvedNotification("ntf_1", "rec_1")
	notification.Status = model.NotificationSent
	ds.On("GetNotification", mock.Anything, "ntf_1").Return(notification, nil)

	err := rsync.FailNotification(ctx, "ntf_1", "retry budget exhausted")
	assert.NoError(t, err)
	ds.AssertNotCalled(t, "UpdateNotificationStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecoverStaleDeliveries(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	young := approvedNotification("ntf_young", "rec_1")
	young.CreatedAt = time.Now().Add(-2 * time.Hour)
	ancient := approvedNotification("ntf_ancient", "rec_2")
	ancient.CreatedAt = time.Now().Add(-48 * time.Hour)

	ds.On("GetStaleApprovedNotifications", mock.Anything, mock.Anything).
		Return([]*model.Notification{young, ancient}, nil)
	ds.On("GetNotification", mock.Anything, "ntf_ancient").Return(ancient, nil)
	ds.On("UpdateNotificationStatus", mock.Anything, "ntf_ancient", string(model.NotificationFailed)).Return(nil)

	n, err := rsync.RecoverStaleDeliveries(ctx, time.Hour)
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	// The recent straggler was re-enqueued for delivery.
	cfg, err := config.Fetch()
	assert.NoError(t, err)
	task, err := rsync.queue.Inspector.GetTaskInfo(cfg.Queue.DeliveryQueue, "delivery_ntf_young")
	assert.NoError(t, err)
	assert.Equal(t, "delivery_ntf_young", task.ID)

	// The one past the age limit was failed, not retried forever.
	ds.AssertCalled(t, "UpdateNotificationStatus", mock.Anything, "ntf_ancient", string(model.NotificationFailed))
}
