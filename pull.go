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
	"github.com/tevinmoore/rosync/internal/apierror"
	"github.com/tevinmoore/rosync/model"
	"github.com/tevinmoore/rosync/replica"
)

// PullResult reports the outcome of one pull of the active sheet.
type PullResult struct {
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Skipped   int      `json:"skipped"`
	RowErrors []string `json:"row_errors,omitempty"`
}

// Pull reads the entire active sheet and folds it into the store. The replica
// wins: a row whose key matches an existing record overwrites that record's
// fields, and the overwrite stamps a fresh last-synced timestamp into the
// record metadata so a lost concurrent store edit is at least observable.
// Rows whose key cell cannot be parsed are counted and skipped; per-row store
// failures accumulate and never abort the pull.
func (r *Rosync) Pull(ctx context.Context) (*PullResult, error) {
	ctx, span := tracer.Start(ctx, "Pulling Records From Replica")
	defer span.End()

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	result := &PullResult{}
	err = replica.WithSession(ctx, r.replica, conf.Replica.WorkbookID, func(ctx context.Context, s *replica.Session) error {
		values, err := s.ReadRange(ctx, conf.Replica.ActiveSheet, replica.DataRange())
		if err != nil {
			return err
		}
		for _, row := range values {
			if isBlankRow(row) {
				continue
			}
			incoming := replica.ToRecord(row)
			if incoming == nil {
				result.Skipped++
				continue
			}
			r.mergePulledRecord(ctx, incoming, result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.Infof("Pull complete: %d created, %d updated, %d skipped, %d errors",
		result.Created, result.Updated, result.Skipped, len(result.RowErrors))
	go func() {
		if err := SendWebhook(NewWebhook{Event: "record.pulled", Payload: result}); err != nil {
			logrus.Error(err)
		}
	}()
	return result, nil
}

// mergePulledRecord applies one parsed replica row to the store.
func (r *Rosync) mergePulledRecord(ctx context.Context, incoming *model.Record, result *PullResult) {
	existing, err := r.datasource.GetRecordByRONumber(ctx, *incoming.RONumber)
	if err != nil {
		if apiErr, ok := err.(apierror.APIError); ok && apiErr.Code == apierror.ErrNotFound {
			if incoming.MetaData == nil {
				incoming.MetaData = make(map[string]interface{})
			}
			incoming.MetaData["last_synced_at"] = time.Now().UTC().Format(time.RFC3339)
			if _, err := r.datasource.CreateRecord(ctx, incoming); err != nil {
				result.RowErrors = append(result.RowErrors, fmt.Sprintf("RO %d: %v", *incoming.RONumber, err))
				return
			}
			result.Created++
			return
		}
		result.RowErrors = append(result.RowErrors, fmt.Sprintf("RO %d: %v", *incoming.RONumber, err))
		return
	}

	// Replica wins. Identity and provenance stay with the stored record, the
	// replicated fields come from the sheet.
	incoming.RecordID = existing.RecordID
	incoming.CreatedAt = existing.CreatedAt
	incoming.MetaData = existing.MetaData
	if incoming.MetaData == nil {
		incoming.MetaData = make(map[string]interface{})
	}
	incoming.MetaData["last_synced_at"] = time.Now().UTC().Format(time.RFC3339)

	if err := r.datasource.UpdateRecord(ctx, incoming); err != nil {
		result.RowErrors = append(result.RowErrors, fmt.Sprintf("RO %d: %v", *incoming.RONumber, err))
		return
	}
	result.Updated++
}

func isBlankRow(row []interface{}) bool {
	for _, cell := range row {
		if cell == nil {
			continue
		}
		if s, ok := cell.(string); ok && s == "" {
			continue
		}
		return false
	}
	return true
}
