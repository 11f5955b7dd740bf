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
	"time"

	"github.com/tevinmoore/rosync/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	record       // Interface for repair-record operations
	notification // Interface for notification operations
}

// record defines methods for handling repair records.
type record interface {
	CreateRecord(ctx context.Context, record *model.Record) (*model.Record, error)                         // Creates a new record
	GetRecord(ctx context.Context, id string) (*model.Record, error)                                       // Retrieves a record by ID
	GetRecordByRONumber(ctx context.Context, roNumber int64) (*model.Record, error)                        // Retrieves a record by its RO number
	UpdateRecord(ctx context.Context, record *model.Record) error                                          // Updates a record
	UpdateRecordStatus(ctx context.Context, id string, status string) error                                // Updates the status of a record
	UpdateRecordMetadata(ctx context.Context, id string, metadata map[string]interface{}) error            // Replaces the metadata of a record
	GetRecordsByStatus(ctx context.Context, statuses []string, limit, offset int) ([]*model.Record, error) // Retrieves records matching any of the given statuses
	GetRecordsDueForUpdate(ctx context.Context, asOf time.Time) ([]*model.Record, error)                   // Retrieves records whose next update date has passed
}

// notification defines methods for handling notifications.
type notification interface {
	CreateNotification(ctx context.Context, notification *model.Notification) (*model.Notification, error) // Creates a new notification
	GetNotification(ctx context.Context, id string) (*model.Notification, error)                           // Retrieves a notification by ID
	GetPendingNotificationForRecord(ctx context.Context, recordID string) (*model.Notification, error)     // Retrieves the pending-approval notification for a record, if any
	GetStaleApprovedNotifications(ctx context.Context, olderThan time.Time) ([]*model.Notification, error) // Retrieves approved notifications that never left the approved state
	UpdateNotificationStatus(ctx context.Context, id string, status string) error                          // Updates the status of a notification
	MarkNotificationSent(ctx context.Context, id string, messageID, conversationID string) error           // Records delivery identifiers and moves the notification to sent
	GetLastSentNotificationForRecord(ctx context.Context, recordID string) (*model.Notification, error)    // Retrieves the most recent sent email draft for a record
}
