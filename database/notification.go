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

package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/tevinmoore/rosync/internal/apierror"
	"github.com/tevinmoore/rosync/model"
)

const notificationColumns = `
	notification_id, record_id, type, status, recipient, subject, body, cc,
	thread_id, message_id, conversation_id, scheduled_for, created_at
`

// CreateNotification inserts a new notification. A unique-violation on the
// pending-per-record index means another writer enqueued a pending approval
// for the same record first; the caller resolves the conflict by re-reading.
func (d Datasource) CreateNotification(ctx context.Context, notification *model.Notification) (*model.Notification, error) {
	notification.NotificationID = model.GenerateUUIDWithSuffix("ntf")
	notification.CreatedAt = time.Now()

	var scheduledFor interface{}
	if !notification.ScheduledFor.IsZero() {
		scheduledFor = notification.ScheduledFor
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO notifications (notification_id, record_id, type, status, recipient, subject, body, cc,
			thread_id, message_id, conversation_id, scheduled_for, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, notification.NotificationID, notification.RecordID, notification.Type, notification.Status,
		notification.Payload.Recipient, notification.Payload.Subject, notification.Payload.Body, notification.Payload.CC,
		notification.Payload.ThreadID, notification.MessageID, notification.ConversationID, scheduledFor, notification.CreatedAt)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return nil, apierror.NewAPIError(apierror.ErrConflict, "A pending notification already exists for this record", err)
			case "foreign_key_violation":
				return nil, apierror.NewAPIError(apierror.ErrNotFound, "Record not found for notification", err)
			default:
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Database error occurred", err)
			}
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create notification", err)
	}

	return notification, nil
}

func (d Datasource) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE notification_id = $1
	`, id)

	notification, err := scanNotification(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Notification not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve notification", err)
	}
	return notification, nil
}

// GetPendingNotificationForRecord returns the record's pending-approval
// notification, or nil when there is none. Absence is not an error here:
// enqueue uses this as its dedup probe.
func (d Datasource) GetPendingNotificationForRecord(ctx context.Context, recordID string) (*model.Notification, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE record_id = $1 AND status = $2
	`, recordID, model.NotificationPendingApproval)

	notification, err := scanNotification(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve pending notification", err)
	}
	return notification, nil
}

// GetStaleApprovedNotifications finds notifications approved before the given
// cutoff that never reached a terminal state. These are deliveries whose queue
// task was lost and need to be re-enqueued.
func (d Datasource) GetStaleApprovedNotifications(ctx context.Context, olderThan time.Time) ([]*model.Notification, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
	`, model.NotificationApproved, olderThan)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve stale approved notifications", err)
	}
	defer rows.Close()

	return collectNotifications(rows)
}

func (d Datasource) UpdateNotificationStatus(ctx context.Context, id string, status string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE notifications SET status = $2 WHERE notification_id = $1
	`, id, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update notification status", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to confirm notification update", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Notification not found", nil)
	}
	return nil
}

// MarkNotificationSent stores the provider's message identifiers and finalizes
// the notification in one statement, so a crash cannot leave a SENT row
// without its thread identifiers.
func (d Datasource) MarkNotificationSent(ctx context.Context, id string, messageID, conversationID string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE notifications
		SET status = $2, message_id = $3, conversation_id = $4
		WHERE notification_id = $1
	`, id, model.NotificationSent, messageID, conversationID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark notification sent", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to confirm notification update", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Notification not found", nil)
	}
	return nil
}

// GetLastSentNotificationForRecord returns the most recently sent email draft
// for a record, or nil when the record has never had one. New drafts use its
// message id to thread the next email onto the same conversation. Reminder
// artifacts also sit in SENT but carry no message id, so only drafts qualify.
func (d Datasource) GetLastSentNotificationForRecord(ctx context.Context, recordID string) (*model.Notification, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE record_id = $1 AND status = $2 AND type = $3
		ORDER BY created_at DESC
		LIMIT 1
	`, recordID, model.NotificationSent, model.NotificationEmailDraft)

	notification, err := scanNotification(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve last sent notification", err)
	}
	return notification, nil
}

func scanNotification(row rowScanner) (*model.Notification, error) {
	notification := model.Notification{}
	var scheduledFor sql.NullTime

	err := row.Scan(&notification.NotificationID, &notification.RecordID, &notification.Type, &notification.Status,
		&notification.Payload.Recipient, &notification.Payload.Subject, &notification.Payload.Body, &notification.Payload.CC,
		&notification.Payload.ThreadID, &notification.MessageID, &notification.ConversationID, &scheduledFor, &notification.CreatedAt)
	if err != nil {
		return nil, err
	}

	if scheduledFor.Valid {
		notification.ScheduledFor = scheduledFor.Time
	}
	return &notification, nil
}

func collectNotifications(rows *sql.Rows) ([]*model.Notification, error) {
	notifications := []*model.Notification{}
	for rows.Next() {
		notification, err := scanNotification(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan notification data", err)
		}
		notifications = append(notifications, notification)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over notifications", err)
	}
	return notifications, nil
}
