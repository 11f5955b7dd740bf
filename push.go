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

	"github.com/tevinmoore/rosync/config"
	redlock "github.com/tevinmoore/rosync/internal/lock"
	"github.com/tevinmoore/rosync/model"
	"github.com/tevinmoore/rosync/replica"
)

// PushResult reports the outcome of one push: how many rows were updated in
// place, how many were appended, and the non-fatal per-row failures.
type PushResult struct {
	Updated   int      `json:"updated"`
	Added     int      `json:"added"`
	Skipped   int      `json:"skipped"`
	RowErrors []string `json:"row_errors,omitempty"`
}

// Push replicates the given records from the store onto the active sheet.
// Records in an archived status are excluded before anything touches the
// replica: pushing one would resurrect a row that a move already relocated to
// a terminal sheet. Rows are written in chunks within the batch limit; a
// rate-limited chunk aborts the whole push with a retryable error and the
// scheduler's backoff re-runs it from scratch.
func (r *Rosync) Push(ctx context.Context, roNumbers []int64) (*PushResult, error) {
	ctx, span := tracer.Start(ctx, "Pushing Records To Replica")
	defer span.End()

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	result := &PushResult{}
	records := make([]*model.Record, 0, len(roNumbers))
	for _, roNumber := range roNumbers {
		record, err := r.datasource.GetRecordByRONumber(ctx, roNumber)
		if err != nil {
			result.RowErrors = append(result.RowErrors, fmt.Sprintf("RO %d: %v", roNumber, err))
			continue
		}
		if record.IsArchived() {
			result.Skipped++
			continue
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return result, nil
	}

	locker, err := r.acquireWorkbookLock(ctx, conf.Replica.WorkbookID)
	if err != nil {
		return nil, err
	}
	defer r.releaseLock(ctx, locker)

	err = replica.WithSession(ctx, r.replica, conf.Replica.WorkbookID, func(ctx context.Context, s *replica.Session) error {
		return r.pushRecords(ctx, s, conf.Replica.ActiveSheet, records, result)
	})
	if err != nil {
		return nil, err
	}

	go func() {
		if err := SendWebhook(NewWebhook{Event: "record.pushed", Payload: result}); err != nil {
			logrus.Error(err)
		}
	}()
	return result, nil
}

// pushRecords locates existing rows, assigns append rows for the rest, and
// writes everything in batch-sized chunks.
func (r *Rosync) pushRecords(ctx context.Context, s *replica.Session, sheet string, records []*model.Record, result *PushResult) error {
	keys := make([]int64, 0, len(records))
	for _, record := range records {
		keys = append(keys, *record.RONumber)
	}

	rows, err := replica.FindRowsByKey(ctx, s, sheet, keys)
	if err != nil {
		return err
	}

	nextRow, err := replica.NextAvailableRow(ctx, s, sheet)
	if err != nil {
		return err
	}

	type plannedWrite struct {
		record   *model.Record
		rowIndex int
		existing bool
	}

	writes := make([]plannedWrite, 0, len(records))
	for _, record := range records {
		rowIndex, found := rows[*record.RONumber]
		if !found {
			// Appended keys consume rows allocated locally; the used range
			// only reflects them after the batch lands.
			rowIndex = nextRow
			nextRow++
		}
		writes = append(writes, plannedWrite{record: record, rowIndex: rowIndex, existing: found})
	}

	for start := 0; start < len(writes); start += replica.MaxBatchSize {
		end := start + replica.MaxBatchSize
		if end > len(writes) {
			end = len(writes)
		}
		chunk := writes[start:end]

		requests := make([]replica.Request, 0, len(chunk))
		byID := make(map[string]int, len(chunk))
		for i, write := range chunk {
			id := fmt.Sprintf("%d", start+i+1)
			byID[id] = i
			requests = append(requests, replica.PatchRowRequest(
				id, sheet, write.rowIndex, replica.ToReplicaRow(write.record)))
		}

		responses, err := s.Execute(ctx, requests)
		if err != nil {
			return err
		}

		report := replica.Analyze(responses)
		if report.RateLimited {
			return replica.ErrRateLimited
		}
		// Sub-responses come back keyed by request id, not in request order.
		for _, resp := range responses {
			i, ok := byID[resp.ID]
			if !ok {
				continue
			}
			if resp.Status >= 200 && resp.Status < 400 {
				if chunk[i].existing {
					result.Updated++
				} else {
					result.Added++
				}
			} else {
				result.RowErrors = append(result.RowErrors,
					fmt.Sprintf("RO %d: status %d", *chunk[i].record.RONumber, resp.Status))
			}
		}
	}
	return nil
}

// acquireWorkbookLock serializes replica writers on the same workbook. Two
// concurrent pushes allocating append rows from the same used range would
// otherwise overwrite each other.
func (r *Rosync) acquireWorkbookLock(ctx context.Context, workbookID string) (*redlock.Locker, error) {
	locker := redlock.NewLocker(r.redis, fmt.Sprintf("workbook:%s", workbookID), model.GenerateUUIDWithSuffix("loc"))
	err := locker.WaitLock(ctx, time.Minute*5, time.Minute*2)
	if err != nil {
		return nil, err
	}
	return locker, nil
}

func (r *Rosync) releaseLock(ctx context.Context, locker *redlock.Locker) {
	if err := locker.Unlock(ctx); err != nil {
		logrus.Errorf("failed to release workbook lock: %v", err)
	}
}
