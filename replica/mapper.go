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
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/tevinmoore/rosync/model"
)

// Columns is the fixed, ordered column list shared by both mapper directions.
// Position 0 is always the RO number. Reordering or removing a column is a
// breaking schema change for every workbook already in the field.
var Columns = []string{
	"RO Number",
	"Customer",
	"Part Number",
	"Serial Number",
	"Description",
	"Status",
	"Priority",
	"PO Number",
	"Quote Amount",
	"Final Price",
	"Date Received",
	"Date Quoted",
	"Date Approved",
	"Date Shipped",
	"Tracking Number",
	"Contact Name",
	"Contact Email",
	"Contact Phone",
	"Notes",
	"Last Date Updated",
	"Next Date To Update",
}

// ColumnCount is the width of one replica row.
var ColumnCount = len(Columns)

// twoDigitYearPivot implements the fixed upstream policy for two-digit years:
// YY < 50 reads as 20YY, anything else as 19YY. Inherited from the data the
// workbook already contains, so it is a constant rather than configuration.
const twoDigitYearPivot = 50

// serialDateEpoch is the spreadsheet serial-number day zero. Serial 1 is
// 1899-12-31 in the workbook's date system (the off-by-one covers the
// spreadsheet's phantom 1900 leap day).
var serialDateEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// ToReplicaRow converts a record into the flat positional row shape the
// external replica expects. Nil-safe: a record without an RO number produces
// an empty key cell, which the pull side will skip.
func ToReplicaRow(record *model.Record) []interface{} {
	row := make([]interface{}, ColumnCount)
	if record.RONumber != nil {
		row[0] = *record.RONumber
	} else {
		row[0] = ""
	}
	row[1] = record.Customer
	row[2] = record.PartNumber
	row[3] = record.SerialNumber
	row[4] = record.Description
	row[5] = record.Status
	row[6] = record.Priority
	row[7] = record.PONumber
	row[8] = record.QuoteAmount
	row[9] = record.FinalPrice
	row[10] = record.DateReceived
	row[11] = record.DateQuoted
	row[12] = record.DateApproved
	row[13] = record.DateShipped
	row[14] = record.TrackingNumber
	row[15] = record.ContactName
	row[16] = record.ContactEmail
	row[17] = record.ContactPhone
	row[18] = record.Notes
	row[19] = record.LastDateUpdated
	row[20] = record.NextDateToUpdate
	return row
}

// ToRecord converts one positional replica row back into a record. It returns
// nil when the key cell cannot be parsed as a number; that is the single
// validity gate for inbound data, and callers count such rows as skipped.
func ToRecord(row []interface{}) *model.Record {
	if len(row) == 0 {
		return nil
	}
	roNumber, ok := parseRONumber(row[0])
	if !ok {
		return nil
	}

	record := &model.Record{RONumber: &roNumber}
	record.Customer = cellString(row, 1)
	record.PartNumber = cellString(row, 2)
	record.SerialNumber = cellString(row, 3)
	record.Description = cellString(row, 4)
	record.Status = NormalizeStatus(cellString(row, 5))
	record.Priority = cellString(row, 6)
	record.PONumber = cellString(row, 7)
	record.QuoteAmount = ParseCurrency(cellValue(row, 8))
	record.FinalPrice = ParseCurrency(cellValue(row, 9))
	record.DateReceived = NormalizeDate(cellValue(row, 10))
	record.DateQuoted = NormalizeDate(cellValue(row, 11))
	record.DateApproved = NormalizeDate(cellValue(row, 12))
	record.DateShipped = NormalizeDate(cellValue(row, 13))
	record.TrackingNumber = cellString(row, 14)
	record.ContactName = cellString(row, 15)
	record.ContactEmail = strings.TrimSpace(cellString(row, 16))
	record.ContactPhone = cellString(row, 17)
	record.Notes = cellString(row, 18)
	record.LastDateUpdated = NormalizeDate(cellValue(row, 19))
	record.NextDateToUpdate = NormalizeDate(cellValue(row, 20))
	return record
}

func cellValue(row []interface{}, idx int) interface{} {
	if idx >= len(row) {
		return nil
	}
	return row[idx]
}

func cellString(row []interface{}, idx int) string {
	v := cellValue(row, idx)
	if v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(s, 10)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

func parseRONumber(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// ParseCurrency coerces a currency cell into a float. Spreadsheet users type
// values like "$1,250.00" or " 980 "; symbols and separators are stripped
// before parsing. Unparsable cells coerce to zero rather than failing the row.
func ParseCurrency(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case string:
		cleaned := strings.Map(func(r rune) rune {
			if unicode.IsDigit(r) || r == '.' || r == '-' {
				return r
			}
			return -1
		}, n)
		if cleaned == "" {
			return 0
		}
		parsed, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

// NormalizeStatus canonicalizes a free-text status cell: whitespace and
// leading/trailing symbol runs are stripped (the workbook grew markers like
// "approved >>>" over the years) and the remainder is title-cased.
func NormalizeStatus(status string) string {
	trimmed := strings.TrimFunc(status, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if trimmed == "" {
		return ""
	}
	words := strings.Fields(strings.ToLower(trimmed))
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

// dateLayouts are the accepted textual date forms, tried in order: ISO,
// US slash with 4- then 2-digit year, US dash with 4- then 2-digit year.
var dateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"1/2/06",
	"1-2-2006",
	"1-2-06",
}

// NormalizeDate coerces a date cell into a single ISO date string. Accepted
// inputs: ISO, US slash or dash dates with 2- or 4-digit years, and
// spreadsheet serial numbers. Anything else passes through trimmed so that
// bad data stays visible instead of silently disappearing.
func NormalizeDate(v interface{}) string {
	switch d := v.(type) {
	case nil:
		return ""
	case float64:
		if d <= 0 {
			return ""
		}
		return serialDateEpoch.AddDate(0, 0, int(d)).Format("2006-01-02")
	case int64:
		if d <= 0 {
			return ""
		}
		return serialDateEpoch.AddDate(0, 0, int(d)).Format("2006-01-02")
	case string:
		s := strings.TrimSpace(d)
		if s == "" {
			return ""
		}
		if serial, err := strconv.ParseFloat(s, 64); err == nil && !strings.Contains(s, "-") && !strings.Contains(s, "/") {
			if serial <= 0 {
				return ""
			}
			return serialDateEpoch.AddDate(0, 0, int(serial)).Format("2006-01-02")
		}
		for _, layout := range dateLayouts {
			parsed, err := time.Parse(layout, s)
			if err != nil {
				continue
			}
			return applyYearPivot(parsed, layout).Format("2006-01-02")
		}
		return s
	default:
		return ""
	}
}

// applyYearPivot fixes up two-digit-year parses. time.Parse pivots "06" at 69;
// the workbook's documented policy pivots at 50.
func applyYearPivot(parsed time.Time, layout string) time.Time {
	if !strings.HasSuffix(layout, "06") || strings.HasSuffix(layout, "2006") {
		return parsed
	}
	year := parsed.Year()
	yy := year % 100
	var want int
	if yy < twoDigitYearPivot {
		want = 2000 + yy
	} else {
		want = 1900 + yy
	}
	if want == year {
		return parsed
	}
	return time.Date(want, parsed.Month(), parsed.Day(), 0, 0, 0, 0, parsed.Location())
}
