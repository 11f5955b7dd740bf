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

	"github.com/sirupsen/logrus"

	"github.com/tevinmoore/rosync/internal/apierror"
	"github.com/tevinmoore/rosync/model"
)

// EnqueueNotification creates a notification for a record. For pending email
// drafts the enqueue dedups per record: if the record already has one
// awaiting approval the existing notification is returned unchanged, so a
// repeated follow-up wake cannot stack a second draft on the approver.
func (r *Rosync) EnqueueNotification(ctx context.Context, record *model.Record, notificationType model.NotificationType, payload model.NotificationPayload, status model.NotificationStatus) (*model.Notification, error) {
	if notificationType == model.NotificationEmailDraft {
		if err := payload.Validate(); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "invalid notification payload", err)
		}
	}

	if status == model.NotificationPendingApproval {
		if existing, err := r.datasource.GetPendingNotificationForRecord(ctx, record.RecordID); err != nil {
			return nil, err
		} else if existing != nil {
			logrus.Infof("record %s already has pending notification %s, returning it", record.RecordID, existing.NotificationID)
			return existing, nil
		}
	}

	notification := &model.Notification{
		RecordID: record.RecordID,
		Type:     notificationType,
		Status:   status,
		Payload:  payload,
	}
	created, err := r.datasource.CreateNotification(ctx, notification)
	if err != nil {
		// A conflict means a concurrent writer won the pending-per-record
		// race; the partial unique index caught it. Their notification is the
		// one that exists, so hand it back.
		if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrConflict {
			existing, selErr := r.datasource.GetPendingNotificationForRecord(ctx, record.RecordID)
			if selErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	go func() {
		if err := SendWebhook(NewWebhook{Event: "notification.pending", Payload: created}); err != nil {
			logrus.Error(err)
		}
	}()
	return created, nil
}

// TransitionNotification moves a notification to a new status after checking
// the transition table. Illegal moves are rejected before anything is
// written.
func (r *Rosync) TransitionNotification(ctx context.Context, id string, newStatus model.NotificationStatus) (*model.Notification, error) {
	notification, err := r.datasource.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}

	if !model.CanTransition(notification.Status, newStatus) {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "illegal notification transition",
			model.ErrInvalidTransition{From: notification.Status, To: newStatus})
	}

	if err := r.datasource.UpdateNotificationStatus(ctx, id, string(newStatus)); err != nil {
		return nil, err
	}
	notification.Status = newStatus
	return notification, nil
}

// ApproveNotification is the human-approval entry point. Approval moves the
// draft to APPROVED and hands it to the delivery queue; the approver's
// request returns as soon as the hand-off is durable.
func (r *Rosync) ApproveNotification(ctx context.Context, id string) (*model.Notification, error) {
	notification, err := r.TransitionNotification(ctx, id, model.NotificationApproved)
	if err != nil {
		return nil, err
	}

	if err := r.queue.queueDelivery(ctx, notification.NotificationID, nil); err != nil {
		return nil, err
	}

	go func() {
		if err := SendWebhook(NewWebhook{Event: "notification.approved", Payload: notification}); err != nil {
			logrus.Error(err)
		}
	}()
	return notification, nil
}

// RejectNotification is the human-rejection entry point. Rejection is
// terminal; nothing is ever sent.
func (r *Rosync) RejectNotification(ctx context.Context, id string) (*model.Notification, error) {
	notification, err := r.TransitionNotification(ctx, id, model.NotificationRejected)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := SendWebhook(NewWebhook{Event: "notification.rejected", Payload: notification}); err != nil {
			logrus.Error(err)
		}
	}()
	return notification, nil
}

// GetNotification retrieves a notification by id.
func (r *Rosync) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	return r.datasource.GetNotification(ctx, id)
}

// ThreadContinuationID returns the external message id of the record's most
// recently sent email draft, or empty when there is none. New drafts reply
// to it so every follow-up for a record lands in one conversation.
func (r *Rosync) ThreadContinuationID(ctx context.Context, recordID string) (string, error) {
	last, err := r.datasource.GetLastSentNotificationForRecord(ctx, recordID)
	if err != nil {
		return "", err
	}
	if last == nil {
		return "", nil
	}
	return last.MessageID, nil
}
