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

	"github.com/sirupsen/logrus"

	"github.com/tevinmoore/rosync/config"
	"github.com/tevinmoore/rosync/replica"
)

// MoveResult reports the outcome of one sheet relocation.
type MoveResult struct {
	RONumber         int64  `json:"ro_number"`
	DestinationRow   int    `json:"destination_row"`
	SourceRowDeleted bool   `json:"source_row_deleted"`
	SourceSheet      string `json:"source_sheet"`
	DestinationSheet string `json:"destination_sheet"`
}

// Move relocates one record's row between sheets in copy-then-delete order.
// The copy to the destination happens first and any failure there, including
// a rate limit, aborts before anything destructive runs. Only once the copy
// has landed is the source row deleted; a failed delete is logged and
// reported as partial success, because the data is already safe on the
// destination and the leftover source row is a reconcilable duplicate rather
// than a loss.
func (r *Rosync) Move(ctx context.Context, roNumber int64, from, to string) (*MoveResult, error) {
	ctx, span := tracer.Start(ctx, "Moving Record Between Sheets")
	defer span.End()

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	record, err := r.datasource.GetRecordByRONumber(ctx, roNumber)
	if err != nil {
		return nil, err
	}

	locker, err := r.acquireWorkbookLock(ctx, conf.Replica.WorkbookID)
	if err != nil {
		return nil, err
	}
	defer r.releaseLock(ctx, locker)

	result := &MoveResult{RONumber: roNumber, SourceSheet: from, DestinationSheet: to}
	err = replica.WithSession(ctx, r.replica, conf.Replica.WorkbookID, func(ctx context.Context, s *replica.Session) error {
		sourceRows, err := replica.FindRowsByKey(ctx, s, from, []int64{roNumber})
		if err != nil {
			return err
		}

		destinationRow, err := replica.NextAvailableRow(ctx, s, to)
		if err != nil {
			return err
		}

		addRequests := []replica.Request{
			replica.PatchRowRequest("add", to, destinationRow, replica.ToReplicaRow(record)),
		}
		responses, err := s.Execute(ctx, addRequests)
		if err != nil {
			return err
		}
		report := replica.Analyze(responses)
		if report.RateLimited {
			return replica.ErrRateLimited
		}
		if report.FailedCount > 0 {
			return fmt.Errorf("failed to write RO %d to sheet %s: %v", roNumber, to, report.ErrorMessages)
		}
		result.DestinationRow = destinationRow

		sourceRow, found := sourceRows[roNumber]
		if !found {
			// Nothing to clean up; the record was never on the source sheet
			// or a previous attempt already deleted it.
			result.SourceRowDeleted = true
			return nil
		}

		deleteRequests := []replica.Request{
			replica.DeleteRowRequest("del", from, sourceRow),
		}
		responses, err = s.Execute(ctx, deleteRequests)
		if err == nil {
			report = replica.Analyze(responses)
			if report.FailedCount == 0 {
				result.SourceRowDeleted = true
				return nil
			}
			err = fmt.Errorf("%v", report.ErrorMessages)
		}

		// The copy already landed; surfacing an error here would make a retry
		// duplicate the destination row too.
		logrus.Errorf("move RO %d: copied to %s row %d but failed to delete source row %d on %s: %v",
			roNumber, to, destinationRow, sourceRow, from, err)
		return nil
	})
	if err != nil {
		return nil, err
	}

	go func() {
		if err := SendWebhook(NewWebhook{Event: "record.moved", Payload: result}); err != nil {
			logrus.Error(err)
		}
	}()
	return result, nil
}
