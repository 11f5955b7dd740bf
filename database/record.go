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
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/tevinmoore/rosync/internal/apierror"
	"github.com/tevinmoore/rosync/model"
)

const recordColumns = `
	record_id, ro_number, customer, part_number, serial_number, description,
	status, priority, po_number, quote_amount, final_price,
	date_received, date_quoted, date_approved, date_shipped,
	tracking_number, contact_name, contact_email, contact_phone, notes,
	last_date_updated, next_date_to_update, created_at, meta_data
`

// CreateRecord inserts a new repair record. The record id is generated here;
// the RO number stays null until the record is either assigned one locally or
// adopted from the replica by a pull.
func (d Datasource) CreateRecord(ctx context.Context, record *model.Record) (*model.Record, error) {
	metaDataJSON, err := json.Marshal(record.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	record.RecordID = model.GenerateUUIDWithSuffix("rec")
	record.CreatedAt = time.Now()

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO records (record_id, ro_number, customer, part_number, serial_number, description,
			status, priority, po_number, quote_amount, final_price,
			date_received, date_quoted, date_approved, date_shipped,
			tracking_number, contact_name, contact_email, contact_phone, notes,
			last_date_updated, next_date_to_update, created_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`, record.RecordID, record.RONumber, record.Customer, record.PartNumber, record.SerialNumber, record.Description,
		record.Status, record.Priority, record.PONumber, record.QuoteAmount, record.FinalPrice,
		record.DateReceived, record.DateQuoted, record.DateApproved, record.DateShipped,
		record.TrackingNumber, record.ContactName, record.ContactEmail, record.ContactPhone, record.Notes,
		record.LastDateUpdated, record.NextDateToUpdate, record.CreatedAt, metaDataJSON)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return nil, apierror.NewAPIError(apierror.ErrConflict, "Record with this ID already exists", err)
			default:
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Database error occurred", err)
			}
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create record", err)
	}

	return record, nil
}

func (d Datasource) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE record_id = $1
	`, id)

	record, err := scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Record not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve record", err)
	}
	return record, nil
}

func (d Datasource) GetRecordByRONumber(ctx context.Context, roNumber int64) (*model.Record, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE ro_number = $1
	`, roNumber)

	record, err := scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Record not found for RO number", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve record", err)
	}
	return record, nil
}

// UpdateRecord replaces every mutable field of a record. Pulls call this with
// the merged replica state, so a partial update here would silently drop
// replica edits.
func (d Datasource) UpdateRecord(ctx context.Context, record *model.Record) error {
	metaDataJSON, err := json.Marshal(record.MetaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE records
		SET ro_number = $2, customer = $3, part_number = $4, serial_number = $5, description = $6,
			status = $7, priority = $8, po_number = $9, quote_amount = $10, final_price = $11,
			date_received = $12, date_quoted = $13, date_approved = $14, date_shipped = $15,
			tracking_number = $16, contact_name = $17, contact_email = $18, contact_phone = $19, notes = $20,
			last_date_updated = $21, next_date_to_update = $22, meta_data = $23
		WHERE record_id = $1
	`, record.RecordID, record.RONumber, record.Customer, record.PartNumber, record.SerialNumber, record.Description,
		record.Status, record.Priority, record.PONumber, record.QuoteAmount, record.FinalPrice,
		record.DateReceived, record.DateQuoted, record.DateApproved, record.DateShipped,
		record.TrackingNumber, record.ContactName, record.ContactEmail, record.ContactPhone, record.Notes,
		record.LastDateUpdated, record.NextDateToUpdate, metaDataJSON)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict, "Another record already uses this RO number", err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update record", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to confirm record update", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Record not found", nil)
	}
	return nil
}

func (d Datasource) UpdateRecordStatus(ctx context.Context, id string, status string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE records SET status = $2 WHERE record_id = $1
	`, id, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update record status", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to confirm status update", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Record not found", nil)
	}
	return nil
}

func (d Datasource) UpdateRecordMetadata(ctx context.Context, id string, metadata map[string]interface{}) error {
	metaDataJSON, err := json.Marshal(metadata)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE records SET meta_data = $2 WHERE record_id = $1
	`, id, metaDataJSON)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update record metadata", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to confirm metadata update", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Record not found", nil)
	}
	return nil
}

// GetRecordsByStatus retrieves records whose status matches any of the given
// values. Pushes use this to select the working set for a sheet.
func (d Datasource) GetRecordsByStatus(ctx context.Context, statuses []string, limit, offset int) ([]*model.Record, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE status = ANY($1)
		ORDER BY ro_number NULLS LAST, created_at
		LIMIT $2 OFFSET $3
	`, pq.Array(statuses), limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve records by status", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// GetRecordsDueForUpdate retrieves non-archived records whose next-update date
// is on or before the given day. Date columns hold ISO strings, so the
// comparison is lexicographic on the formatted day.
func (d Datasource) GetRecordsDueForUpdate(ctx context.Context, asOf time.Time) ([]*model.Record, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM records
		WHERE next_date_to_update != ''
		  AND next_date_to_update <= $1
		  AND NOT (status = ANY($2))
		ORDER BY next_date_to_update
	`, asOf.Format("2006-01-02"), pq.Array(archivedStatusList()))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve records due for update", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func archivedStatusList() []string {
	statuses := make([]string, 0, len(model.ArchivedStatuses))
	for status := range model.ArchivedStatuses {
		statuses = append(statuses, status)
	}
	return statuses
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*model.Record, error) {
	record := model.Record{}
	var roNumber sql.NullInt64
	var metaDataJSON []byte

	err := row.Scan(&record.RecordID, &roNumber, &record.Customer, &record.PartNumber, &record.SerialNumber, &record.Description,
		&record.Status, &record.Priority, &record.PONumber, &record.QuoteAmount, &record.FinalPrice,
		&record.DateReceived, &record.DateQuoted, &record.DateApproved, &record.DateShipped,
		&record.TrackingNumber, &record.ContactName, &record.ContactEmail, &record.ContactPhone, &record.Notes,
		&record.LastDateUpdated, &record.NextDateToUpdate, &record.CreatedAt, &metaDataJSON)
	if err != nil {
		return nil, err
	}

	if roNumber.Valid {
		record.RONumber = &roNumber.Int64
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &record.MetaData); err != nil {
			return nil, err
		}
	}
	return &record, nil
}

func collectRecords(rows *sql.Rows) ([]*model.Record, error) {
	records := []*model.Record{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan record data", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over records", err)
	}
	return records, nil
}
