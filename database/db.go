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
	_ "github.com/lib/pq"

	"database/sql"
	"log"
	"sync"

	"github.com/tevinmoore/rosync/internal/cache"

	"github.com/tevinmoore/rosync/config"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con, Cache: nil}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	err = createRecordTable(db)
	if err != nil {
		return nil, err
	}
	err = createNotificationTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// createRecordTable creates a PostgreSQL table for the Record struct
func createRecordTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			id SERIAL PRIMARY KEY,
			record_id TEXT NOT NULL UNIQUE,
			ro_number BIGINT,
			customer TEXT,
			part_number TEXT,
			serial_number TEXT,
			description TEXT,
			status TEXT,
			priority TEXT,
			po_number TEXT,
			quote_amount DOUBLE PRECISION DEFAULT 0,
			final_price DOUBLE PRECISION DEFAULT 0,
			date_received TEXT,
			date_quoted TEXT,
			date_approved TEXT,
			date_shipped TEXT,
			tracking_number TEXT,
			contact_name TEXT,
			contact_email TEXT,
			contact_phone TEXT,
			notes TEXT,
			last_date_updated TEXT,
			next_date_to_update TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			meta_data JSONB
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_records_ro_number ON records (ro_number)`)
	return err
}

// createNotificationTable creates a PostgreSQL table for the Notification
// struct. The partial unique index is the hard backstop for the one-pending-
// approval-per-record invariant: the service layer dedups before inserting,
// the index catches concurrent inserts the service-level check cannot see.
func createNotificationTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS notifications (
			id SERIAL PRIMARY KEY,
			notification_id TEXT NOT NULL UNIQUE,
			record_id TEXT NOT NULL REFERENCES records(record_id),
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			recipient TEXT,
			subject TEXT,
			body TEXT,
			cc TEXT,
			thread_id TEXT,
			message_id TEXT,
			conversation_id TEXT,
			scheduled_for TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_pending_per_record
		ON notifications (record_id)
		WHERE status = 'PENDING_APPROVAL'
	`)
	return err
}
