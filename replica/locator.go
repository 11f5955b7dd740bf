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

package replica

import (
	"context"
	"fmt"
)

// Data rows start at row 2; row 1 is always the header.
const firstDataRow = 2

// lastScannedRow bounds the key-column scan. Sheets in the field stay well
// under this, and one bounded read is cheaper against the API call budget
// than per-key lookups would ever be.
const lastScannedRow = 10000

// DataRange returns the A1-style address covering every mapped column of the
// scanned data rows, e.g. "A2:U10000".
func DataRange() string {
	return fmt.Sprintf("A%d:%s%d", firstDataRow, columnLetter(ColumnCount), lastScannedRow)
}

// FindRowsByKey resolves RO numbers to physical 1-based row indexes in the
// given sheet. It reads the entire key column once and resolves every
// requested key in memory; the cost is O(sheet size) per call regardless of
// how many keys are requested. When a key appears more than once the first
// occurrence wins.
func FindRowsByKey(ctx context.Context, s *Session, sheet string, keys []int64) (map[int64]int, error) {
	found := make(map[int64]int, len(keys))
	if len(keys) == 0 {
		return found, nil
	}

	address := fmt.Sprintf("A%d:A%d", firstDataRow, lastScannedRow)
	values, err := s.ReadRange(ctx, sheet, address)
	if err != nil {
		return nil, err
	}

	wanted := make(map[int64]bool, len(keys))
	for _, key := range keys {
		wanted[key] = true
	}

	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		key, ok := parseRONumber(row[0])
		if !ok {
			continue
		}
		if _, seen := found[key]; seen {
			continue
		}
		if wanted[key] {
			found[key] = firstDataRow + i
		}
	}
	return found, nil
}

// NextAvailableRow returns the first free row of the sheet, derived from the
// used-range row count. An empty sheet (header only, or nothing at all)
// yields the first data row.
func NextAvailableRow(ctx context.Context, s *Session, sheet string) (int, error) {
	rowCount, err := s.UsedRowCount(ctx, sheet)
	if err != nil {
		return 0, err
	}
	if rowCount < firstDataRow {
		return firstDataRow, nil
	}
	return rowCount + 1, nil
}
