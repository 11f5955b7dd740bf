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

package model

import (
	"encoding/json"
	"time"
)

// Record statuses are stored in normalized title case. Inbound replica values
// are normalized by the field mapper before they ever reach the store.
const (
	StatusWaitingQuote    = "Waiting Quote"
	StatusWaitingApproval = "Waiting Approval"
	StatusApproved        = "Approved"
	StatusWaitingParts    = "Waiting Parts"
	StatusInRepair        = "In Repair"
	StatusShipped         = "Shipped"
	StatusWaitingPayment  = "Waiting Payment"
	StatusPaid            = "Paid"
	StatusNet             = "Net"
	StatusReturned        = "Returned"
	StatusClosed          = "Closed"
)

// ArchivedStatuses is the set of statuses whose records must never be written
// back onto the active sheet by a push. A record moved to a terminal sheet
// would otherwise be resurrected by the next push that includes its RO number.
var ArchivedStatuses = map[string]bool{
	StatusPaid:     true,
	StatusNet:      true,
	StatusReturned: true,
	StatusClosed:   true,
}

// Record represents one repair-order business entity in the store of record.
// The RO number is the join key against the external replica and is nullable:
// a record can exist in the store before it is ever assigned or pushed.
type Record struct {
	RecordID         string                 `json:"record_id"`
	RONumber         *int64                 `json:"ro_number,omitempty"`
	Customer         string                 `json:"customer"`
	PartNumber       string                 `json:"part_number"`
	SerialNumber     string                 `json:"serial_number"`
	Description      string                 `json:"description"`
	Status           string                 `json:"status"`
	Priority         string                 `json:"priority"`
	PONumber         string                 `json:"po_number"`
	QuoteAmount      float64                `json:"quote_amount"`
	FinalPrice       float64                `json:"final_price"`
	DateReceived     string                 `json:"date_received"`
	DateQuoted       string                 `json:"date_quoted"`
	DateApproved     string                 `json:"date_approved"`
	DateShipped      string                 `json:"date_shipped"`
	TrackingNumber   string                 `json:"tracking_number"`
	ContactName      string                 `json:"contact_name"`
	ContactEmail     string                 `json:"contact_email"`
	ContactPhone     string                 `json:"contact_phone"`
	Notes            string                 `json:"notes"`
	LastDateUpdated  string                 `json:"last_date_updated"`
	NextDateToUpdate string                 `json:"next_date_to_update"`
	CreatedAt        time.Time              `json:"created_at"`
	MetaData         map[string]interface{} `json:"meta_data,omitempty"`
}

func (record *Record) ToJSON() ([]byte, error) {
	return json.Marshal(record)
}

// IsArchived reports whether the record's status belongs to the archived set.
func (record *Record) IsArchived() bool {
	return ArchivedStatuses[record.Status]
}

// HasRONumber reports whether the record has been assigned an RO number. A
// record without one has never been pushed and cannot be located in the replica.
func (record *Record) HasRONumber() bool {
	return record.RONumber != nil
}

// ReArmUpdateDates stamps the tracking dates after a successful follow-up
// send: last updated today, next update due in seven days.
func (record *Record) ReArmUpdateDates(now time.Time) {
	record.LastDateUpdated = now.Format("2006-01-02")
	record.NextDateToUpdate = now.AddDate(0, 0, 7).Format("2006-01-02")
}
