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

	"github.com/tevinmoore/rosync/model"
)

func TestMoveCopiesThenDeletes(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	ds.On("GetRecordByRONumber", mock.Anything, int64(1001)).
		Return(testRecord("rec_1001", 1001, model.StatusPaid), nil)

	registerSession("wb-1")
	registerKeyColumn("Active", [][]interface{}{{float64(1001)}})
	registerUsedRange("Paid", 5)
	registerBatch(func(string) int { return 200 })

	result, err := rsync.Move(ctx, 1001, "Active", "Paid")
	assert.NoError(t, err)
	assert.Equal(t, 6, result.DestinationRow)
	assert.True(t, result.SourceRowDeleted)
	// One batch for the copy, one for the delete.
	assert.Equal(t, 2, batchCallCount())
}

func TestMoveNeverDeletesWhenCopyFails(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	ds.On("GetRecordByRONumber", mock.Anything, int64(1001)).
		Return(testRecord("rec_1001", 1001, model.StatusPaid), nil)

	registerSession("wb-1")
	registerKeyColumn("Active", [][]interface{}{{float64(1001)}})
	registerUsedRange("Paid", 5)
	registerBatch(func(id string) int {
		if id == "add" {
			return 500
		}
		return 200
	})

	_, err := rsync.Move(ctx, 1001, "Active", "Paid")
	assert.Error(t, err)
	// The failed copy aborted before anything destructive ran.
	assert.Equal(t, 1, batchCallCount())
}

func TestMoveToleratesMissingSourceRow(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	ds.On("GetRecordByRONumber", mock.Anything, int64(1001)).
		Return(testRecord("rec_1001", 1001, model.StatusNet), nil)

	registerSession("wb-1")
	// The source sheet no longer holds the row: a previous attempt already
	// deleted it, or it was never there.
	registerKeyColumn("Active", [][]interface{}{})
	registerUsedRange("Net", 3)
	registerBatch(func(string) int { return 200 })

	result, err := rsync.Move(ctx, 1001, "Active", "Net")
	assert.NoError(t, err)
	assert.True(t, result.SourceRowDeleted)
	// Only the copy went out; there was nothing to delete.
	assert.Equal(t, 1, batchCallCount())
}

func TestMoveReportsPartialSuccessWhenDeleteFails(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	ds.On("GetRecordByRONumber", mock.Anything, int64(1001)).
		Return(testRecord("rec_1001", 1001, model.StatusPaid), nil)

	registerSession("wb-1")
	registerKeyColumn("Active", [][]interface{}{{float64(1001)}})
	registerUsedRange("Paid", 5)
	registerBatch(func(id string) int {
		if id == "del" {
			return 500
		}
		return 200
	})

	// The copy landed, so a failed delete is partial success, not an error:
	// surfacing it would make a retry duplicate the destination row.
	result, err := rsync.Move(ctx, 1001, "Active", "Paid")
	assert.NoError(t, err)
	assert.False(t, result.SourceRowDeleted)
	assert.Equal(t, 6, result.DestinationRow)
}
