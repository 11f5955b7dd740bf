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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tevinmoore/rosync/internal/apierror"
	"github.com/tevinmoore/rosync/model"
)

// followUpPolicy describes one waiting status: how many days pass before a
// customer follow-up is due and how the draft email reads.
type followUpPolicy struct {
	WaitDays int
	Subject  func(record *model.Record) string
	Body     func(record *model.Record) string
}

// followUpPolicies is the per-status follow-up schedule. Statuses absent from
// this table never generate follow-ups.
var followUpPolicies = map[string]followUpPolicy{
	model.StatusWaitingQuote: {
		WaitDays: 7,
		Subject: func(record *model.Record) string {
			return fmt.Sprintf("Quote follow-up for RO %s", roLabel(record))
		},
		Body: func(record *model.Record) string {
			return fmt.Sprintf("Hello %s,\n\nWe are still preparing the quote for your repair order %s (%s). "+
				"We wanted to let you know it is actively being worked on and we will have pricing to you shortly.\n\n"+
				"Thank you for your patience.", contactGreeting(record), roLabel(record), record.PartNumber)
		},
	},
	model.StatusWaitingApproval: {
		WaitDays: 5,
		Subject: func(record *model.Record) string {
			return fmt.Sprintf("Approval reminder for RO %s", roLabel(record))
		},
		Body: func(record *model.Record) string {
			return fmt.Sprintf("Hello %s,\n\nThe quote for repair order %s (%s) is awaiting your approval. "+
				"Work resumes as soon as we have your go-ahead.\n\nPlease let us know if you have any questions.",
				contactGreeting(record), roLabel(record), record.PartNumber)
		},
	},
	model.StatusWaitingParts: {
		WaitDays: 10,
		Subject: func(record *model.Record) string {
			return fmt.Sprintf("Parts update for RO %s", roLabel(record))
		},
		Body: func(record *model.Record) string {
			return fmt.Sprintf("Hello %s,\n\nRepair order %s (%s) is waiting on parts. "+
				"We are tracking the open order and will resume the repair the moment they arrive.",
				contactGreeting(record), roLabel(record), record.PartNumber)
		},
	},
	model.StatusWaitingPayment: {
		WaitDays: 14,
		Subject: func(record *model.Record) string {
			return fmt.Sprintf("Payment reminder for RO %s", roLabel(record))
		},
		Body: func(record *model.Record) string {
			return fmt.Sprintf("Hello %s,\n\nThis is a friendly reminder that payment for repair order %s is outstanding. "+
				"Please reach out if you need a copy of the invoice.",
				contactGreeting(record), roLabel(record))
		},
	},
}

// ScheduleFollowUp arms the follow-up wait for a record's current status.
// Statuses outside the schedule table are a silent no-op. The reminder
// artifact is best-effort and its failure never blocks arming the wake; the
// durable sleep itself is owned entirely by the scheduler, with the task id
// keyed on record and status so re-arming an already-pending wait collapses
// into it.
func (r *Rosync) ScheduleFollowUp(ctx context.Context, record *model.Record) error {
	policy, ok := followUpPolicies[record.Status]
	if !ok {
		return nil
	}

	reminder := model.NotificationPayload{
		Subject: fmt.Sprintf("Follow up on RO %s (%s)", roLabel(record), record.Status),
		Body:    fmt.Sprintf("Check in with %s about repair order %s.", record.Customer, roLabel(record)),
	}
	if _, err := r.EnqueueNotification(ctx, record, model.NotificationTaskReminder, reminder, model.NotificationSent); err != nil {
		logrus.Errorf("failed to create reminder artifact for record %s: %v", record.RecordID, err)
	}

	wakeAt := time.Now().AddDate(0, 0, policy.WaitDays)
	return r.queue.queueFollowUpWake(ctx, record.RecordID, record.Status, wakeAt)
}

// Follow-up wake outcomes. These are bookkeeping, not errors: every outcome
// is a successfully-handled wake.
const (
	FollowUpResolved = "resolved"
	FollowUpSkipped  = "skipped"
	FollowUpExpired  = "expired_unchanged"
)

// HandleFollowUpWake runs when a follow-up wait elapses. The record is
// re-read and re-validated against the status the wait was armed with:
// anything can have happened during the multi-day sleep. A changed status
// means the wait resolved on its own; a missing contact address means there
// is nobody to write to; an unchanged status drafts the follow-up email and
// queues it for human approval.
func (r *Rosync) HandleFollowUpWake(ctx context.Context, recordID, armedStatus string) (string, error) {
	record, err := r.datasource.GetRecord(ctx, recordID)
	if err != nil {
		if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrNotFound {
			logrus.Infof("follow-up wake for %s: record gone, resolved", recordID)
			return FollowUpResolved, nil
		}
		return "", err
	}

	if record.Status != armedStatus {
		logrus.Infof("follow-up wake for %s: status moved %q -> %q, resolved", recordID, armedStatus, record.Status)
		return FollowUpResolved, nil
	}

	recipient := r.resolveContactEmail(ctx, record)
	if recipient == "" {
		logrus.Warnf("follow-up wake for %s: no contact address, skipped", recordID)
		return FollowUpSkipped, nil
	}

	policy, ok := followUpPolicies[armedStatus]
	if !ok {
		return FollowUpResolved, nil
	}

	threadID, err := r.ThreadContinuationID(ctx, recordID)
	if err != nil {
		logrus.Errorf("follow-up wake for %s: thread lookup failed: %v", recordID, err)
	}

	payload := model.NotificationPayload{
		Recipient: recipient,
		Subject:   policy.Subject(record),
		Body:      policy.Body(record),
		ThreadID:  threadID,
	}
	if _, err := r.EnqueueNotification(ctx, record, model.NotificationEmailDraft, payload, model.NotificationPendingApproval); err != nil {
		return "", err
	}

	logrus.Infof("follow-up wake for %s: status %q unchanged after wait, draft queued", recordID, armedStatus)
	return FollowUpExpired, nil
}

// resolveContactEmail returns the address a follow-up should go to: the
// record's own contact first, then the cached address for the customer.
func (r *Rosync) resolveContactEmail(ctx context.Context, record *model.Record) string {
	if record.ContactEmail != "" {
		return record.ContactEmail
	}
	var cached string
	if err := r.cache.Get(ctx, contactCacheKey(record.Customer), &cached); err != nil {
		logrus.Errorf("contact cache lookup failed for %s: %v", record.Customer, err)
		return ""
	}
	return cached
}

func contactCacheKey(customer string) string {
	return fmt.Sprintf("contact:%s", customer)
}

func roLabel(record *model.Record) string {
	if record.RONumber == nil {
		return record.RecordID
	}
	return fmt.Sprintf("%d", *record.RONumber)
}

func contactGreeting(record *model.Record) string {
	if record.ContactName != "" {
		return record.ContactName
	}
	return record.Customer
}
