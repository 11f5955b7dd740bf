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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/tevinmoore/rosync/internal/apierror"
	"github.com/tevinmoore/rosync/model"
)

func TestSweepDueFollowUpsReArmsMissingWakes(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	lost := testRecord("rec_lost", 1001, model.StatusWaitingQuote)
	armed := testRecord("rec_armed", 1002, model.StatusWaitingApproval)
	shipped := testRecord("rec_shipped", 1003, model.StatusShipped)

	// rec_armed already has a wake in flight; the sweep must not touch it.
	err := rsync.queue.queueFollowUpWake(ctx, "rec_armed", model.StatusWaitingApproval, time.Now().Add(time.Hour))
	assert.NoError(t, err)

	ds.On("GetRecordsDueForUpdate", mock.Anything, mock.Anything).
		Return([]*model.Record{lost, armed, shipped}, nil)
	ds.On("CreateNotification", mock.Anything, mock.Anything).
		Return(&model.Notification{NotificationID: "ntf_reminder"}, nil)

	n, err := rsync.SweepDueFollowUps(ctx, time.Now())
	assert.NoError(t, err)

	// Only the record whose wake went missing was re-armed: the armed one is
	// owned by its pending wake and the shipped one has no follow-up policy.
	assert.Equal(t, 1, n)

	payload, err := rsync.queue.GetPendingFollowUp("rec_lost", model.StatusWaitingQuote)
	assert.NoError(t, err)
	assert.NotNil(t, payload)
}

func TestSweepDueFollowUpsPropagatesStoreError(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	ds.On("GetRecordsDueForUpdate", mock.Anything, mock.Anything).
		Return(nil, apierror.NewAPIError(apierror.ErrInternalServer, "connection reset", nil))

	n, err := rsync.SweepDueFollowUps(ctx, time.Now())
	assert.Error(t, err)
	assert.Zero(t, n)
}
