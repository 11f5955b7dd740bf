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

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/tevinmoore/rosync/internal/apierror"
	"github.com/tevinmoore/rosync/model"
	"github.com/tevinmoore/rosync/replica"
)

func registerDataRange(sheet string, values [][]interface{}) {
	httpmock.RegisterResponderWithQuery("GET",
		"https://replica.example.com/workbooks/wb-1/worksheets('"+sheet+"')/range(address='"+replica.DataRange()+"')",
		"$select=values",
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{"values": values}))
}

func sheetRow(roNumber interface{}, customer, status string) []interface{} {
	row := make([]interface{}, replica.ColumnCount)
	for i := range row {
		row[i] = ""
	}
	row[0] = roNumber
	row[1] = customer
	row[5] = status
	return row
}

func TestPullReplicaWins(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	existing := testRecord("rec_1001", 1001, model.StatusWaitingApproval)
	existing.MetaData = map[string]interface{}{"origin": "manual"}

	registerSession("wb-1")
	registerDataRange("Active", [][]interface{}{
		// Known key with a decorated status cell: overwrites the stored record
		sheetRow(float64(1001), "Acme Aviation", "approved >>>"),
		// Unknown key: creates a record
		sheetRow("1002", "Skyline Repair", "Waiting Quote"),
		// Blank row: ignored entirely
		make([]interface{}, replica.ColumnCount),
		// Unparsable key cell: counted as skipped
		sheetRow("pending", "Nobody", "Waiting Quote"),
	})

	ds.On("GetRecordByRONumber", mock.Anything, int64(1001)).Return(existing, nil)
	var updated *model.Record
	ds.On("UpdateRecord", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		updated = args.Get(1).(*model.Record)
	}).Return(nil)

	ds.On("GetRecordByRONumber", mock.Anything, int64(1002)).
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Record not found", nil))
	var created *model.Record
	ds.On("CreateRecord", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		created = args.Get(1).(*model.Record)
	}).Return(&model.Record{}, nil)

	result, err := rsync.Pull(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, result.RowErrors)

	// The replica's fields won, but identity and provenance stayed put.
	if assert.NotNil(t, updated) {
		assert.Equal(t, "rec_1001", updated.RecordID)
		assert.Equal(t, model.StatusApproved, updated.Status)
		assert.Equal(t, existing.CreatedAt, updated.CreatedAt)
		assert.Equal(t, "manual", updated.MetaData["origin"])
		assert.NotEmpty(t, updated.MetaData["last_synced_at"])
	}
	if assert.NotNil(t, created) {
		assert.Equal(t, int64(1002), *created.RONumber)
		assert.Equal(t, "Skyline Repair", created.Customer)
		assert.NotEmpty(t, created.MetaData["last_synced_at"])
	}
}

func TestPullAccumulatesRowErrors(t *testing.T) {
	rsync, ds := newTestRosync(t)
	ctx := context.Background()

	registerSession("wb-1")
	registerDataRange("Active", [][]interface{}{
		sheetRow(float64(2001), "Acme Aviation", "In Repair"),
		sheetRow(float64(2002), "Skyline Repair", "In Repair"),
	})

	ds.On("GetRecordByRONumber", mock.Anything, int64(2001)).
		Return(nil, apierror.NewAPIError(apierror.ErrInternalServer, "connection reset", nil))
	ds.On("GetRecordByRONumber", mock.Anything, int64(2002)).
		Return(testRecord("rec_2002", 2002, model.StatusInRepair), nil)
	ds.On("UpdateRecord", mock.Anything, mock.Anything).Return(nil)

	result, err := rsync.Pull(ctx)
	assert.NoError(t, err)
	// The broken row never aborts the rest of the pull.
	assert.Equal(t, 1, result.Updated)
	assert.Len(t, result.RowErrors, 1)
	assert.Contains(t, result.RowErrors[0], "RO 2001")
}
