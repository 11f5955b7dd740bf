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

package model

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// NotificationStatus is the delivery state of an outbound communication.
type NotificationStatus string

const (
	NotificationPendingApproval NotificationStatus = "PENDING_APPROVAL"
	NotificationApproved        NotificationStatus = "APPROVED"
	NotificationRejected        NotificationStatus = "REJECTED"
	NotificationSent            NotificationStatus = "SENT"
	NotificationFailed          NotificationStatus = "FAILED"
)

// NotificationType distinguishes human-approved email drafts from best-effort
// task reminders created when a follow-up is first scheduled.
type NotificationType string

const (
	NotificationEmailDraft   NotificationType = "email_draft"
	NotificationTaskReminder NotificationType = "task_reminder"
)

// notificationTransitions is the allowed transition graph. Anything not listed
// here is an illegal move and is rejected before the status is written, so a
// SENT notification can never be dragged back to PENDING_APPROVAL by a buggy
// caller.
var notificationTransitions = map[NotificationStatus][]NotificationStatus{
	NotificationPendingApproval: {NotificationApproved, NotificationRejected, NotificationFailed},
	NotificationApproved:        {NotificationSent, NotificationFailed},
	NotificationRejected:        {},
	NotificationSent:            {},
	NotificationFailed:          {},
}

// CanTransition reports whether a notification may move from one status to
// another. Terminal states (SENT, REJECTED, FAILED) allow no transitions.
func CanTransition(from, to NotificationStatus) bool {
	for _, next := range notificationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status allows no further transitions.
func (s NotificationStatus) IsTerminal() bool {
	return len(notificationTransitions[s]) == 0
}

// ErrInvalidTransition is returned when a caller requests an illegal status move.
type ErrInvalidTransition struct {
	From NotificationStatus
	To   NotificationStatus
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid notification transition %s -> %s", e.From, e.To)
}

// NotificationPayload carries the outbound message content. ThreadID, when
// present, is the external message id the send should reply to so the
// follow-up lands in the same conversation as the previous one.
type NotificationPayload struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	CC        string `json:"cc,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// Validate checks the payload for an email draft before it is enqueued. Task
// reminders carry no recipient, so the rule set only applies to drafts.
func (p NotificationPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Recipient, validation.Required, is.EmailFormat),
		validation.Field(&p.Subject, validation.Required, validation.Length(1, 500)),
		validation.Field(&p.Body, validation.Required),
		validation.Field(&p.CC, is.EmailFormat),
	)
}

// Notification represents one queued outbound communication tied to a record.
type Notification struct {
	NotificationID string              `json:"notification_id"`
	RecordID       string              `json:"record_id"`
	Type           NotificationType    `json:"type"`
	Status         NotificationStatus  `json:"status"`
	Payload        NotificationPayload `json:"payload"`
	MessageID      string              `json:"message_id,omitempty"`
	ConversationID string              `json:"conversation_id,omitempty"`
	ScheduledFor   time.Time           `json:"scheduled_for,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}
