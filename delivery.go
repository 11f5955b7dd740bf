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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tevinmoore/rosync/mail"
	"github.com/tevinmoore/rosync/model"
)

// contactCacheTTL bounds how long an opportunistically-learned contact
// address is trusted.
const contactCacheTTL = 30 * 24 * time.Hour

// DeliverNotification performs the at-most-once send of an approved
// notification. Idempotency rests on the status re-check: the handler
// re-fetches the notification and anything already terminal, or not yet
// approved, is a clean skip. Only an APPROVED notification proceeds to the
// actual send, and the send outcome is persisted before the handler returns,
// so a duplicate task invocation finds SENT and does nothing.
//
// A missing recipient is a terminal failure, not a retryable one: retrying
// cannot conjure an address, so the notification is failed immediately.
func (r *Rosync) DeliverNotification(ctx context.Context, notificationID string, siblingIDs []string) error {
	ctx, span := tracer.Start(ctx, "Delivering Notification")
	defer span.End()

	notification, err := r.datasource.GetNotification(ctx, notificationID)
	if err != nil {
		return err
	}

	switch notification.Status {
	case model.NotificationSent, model.NotificationRejected, model.NotificationFailed:
		logrus.Infof("delivery of %s: already %s, skipping", notificationID, notification.Status)
		return nil
	case model.NotificationPendingApproval:
		logrus.Infof("delivery of %s: not yet approved, skipping", notificationID)
		return nil
	}

	if notification.Payload.Recipient == "" {
		logrus.Warnf("delivery of %s: no recipient, failing terminally", notificationID)
		return r.FailNotification(ctx, notificationID, "no recipient address")
	}

	threadID := notification.Payload.ThreadID
	if threadID == "" {
		threadID, err = r.ThreadContinuationID(ctx, notification.RecordID)
		if err != nil {
			logrus.Errorf("delivery of %s: thread lookup failed: %v", notificationID, err)
		}
	}

	sent, err := r.mail.Send(ctx, &mail.Message{
		To:        notification.Payload.Recipient,
		CC:        notification.Payload.CC,
		Subject:   notification.Payload.Subject,
		Body:      notification.Payload.Body,
		InReplyTo: threadID,
	})
	if err != nil {
		return err
	}

	if err := r.datasource.MarkNotificationSent(ctx, notificationID, sent.MessageID, sent.ConversationID); err != nil {
		return err
	}
	for _, siblingID := range siblingIDs {
		if err := r.datasource.MarkNotificationSent(ctx, siblingID, sent.MessageID, sent.ConversationID); err != nil {
			logrus.Errorf("delivery of %s: failed to mark sibling %s sent: %v", notificationID, siblingID, err)
		}
	}

	r.postDeliveryActions(ctx, notification, siblingIDs)

	notification.Status = model.NotificationSent
	notification.MessageID = sent.MessageID
	notification.ConversationID = sent.ConversationID
	go func() {
		if err := SendWebhook(NewWebhook{Event: "notification.sent", Payload: notification}); err != nil {
			logrus.Error(err)
		}
	}()
	return nil
}

// postDeliveryActions runs the best-effort side effects of a successful
// send: learning a changed contact address, re-arming the tracking dates on every
// affected record and re-replicating them. The send already happened; none
// of these failures may bubble up into a retry that would send again.
func (r *Rosync) postDeliveryActions(ctx context.Context, notification *model.Notification, siblingIDs []string) {
	records := r.recordsForNotifications(ctx, notification, siblingIDs)
	if len(records) == 0 {
		return
	}

	// The send address is only learned when it differs from what was on file
	// for the customer; an address already on file stays untouched.
	recipient := notification.Payload.Recipient
	seenCustomers := map[string]bool{}
	for _, record := range records {
		customer := record.Customer
		if customer == "" || seenCustomers[customer] {
			continue
		}
		seenCustomers[customer] = true
		if r.resolveContactEmail(ctx, record) == recipient {
			continue
		}
		if err := r.cache.Set(ctx, contactCacheKey(customer), recipient, contactCacheTTL); err != nil {
			logrus.Errorf("failed to refresh contact cache for %s: %v", customer, err)
		}
	}

	now := time.Now()
	roNumbers := make([]int64, 0, len(records))
	for _, record := range records {
		record.ReArmUpdateDates(now)
		if err := r.datasource.UpdateRecord(ctx, record); err != nil {
			logrus.Errorf("failed to re-arm dates on record %s: %v", record.RecordID, err)
			continue
		}
		if record.HasRONumber() && !record.IsArchived() {
			roNumbers = append(roNumbers, *record.RONumber)
		}
	}

	if len(roNumbers) > 0 {
		if err := r.queue.queuePush(ctx, roNumbers); err != nil {
			logrus.Errorf("failed to enqueue push after delivery: %v", err)
		}
	}
}

// recordsForNotifications resolves the distinct records behind a delivery
// batch.
func (r *Rosync) recordsForNotifications(ctx context.Context, notification *model.Notification, siblingIDs []string) []*model.Record {
	seen := map[string]bool{}
	records := []*model.Record{}

	recordIDs := []string{notification.RecordID}
	for _, siblingID := range siblingIDs {
		sibling, err := r.datasource.GetNotification(ctx, siblingID)
		if err != nil {
			logrus.Errorf("failed to load sibling notification %s: %v", siblingID, err)
			continue
		}
		recordIDs = append(recordIDs, sibling.RecordID)
	}

	for _, recordID := range recordIDs {
		if seen[recordID] {
			continue
		}
		seen[recordID] = true
		record, err := r.datasource.GetRecord(ctx, recordID)
		if err != nil {
			logrus.Errorf("failed to load record %s after delivery: %v", recordID, err)
			continue
		}
		records = append(records, record)
	}
	return records
}

// FailNotification forces a notification into FAILED regardless of the
// transition it takes to get there. It backs both the terminal
// missing-recipient path and the retry-exhaustion hook; a notification must
// never sit in APPROVED forever because its delivery attempts ran out.
func (r *Rosync) FailNotification(ctx context.Context, notificationID, reason string) error {
	notification, err := r.datasource.GetNotification(ctx, notificationID)
	if err != nil {
		return err
	}
	if notification.Status.IsTerminal() {
		return nil
	}

	logrus.Warnf("failing notification %s: %s", notificationID, reason)
	if err := r.datasource.UpdateNotificationStatus(ctx, notificationID, string(model.NotificationFailed)); err != nil {
		return err
	}

	notification.Status = model.NotificationFailed
	go func() {
		if err := SendWebhook(NewWebhook{Event: "notification.failed", Payload: notification}); err != nil {
			logrus.Error(err)
		}
	}()
	return nil
}
