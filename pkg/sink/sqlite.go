/*
 * Copyright 2024 The httprecorder authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *       http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sink

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteSink writes records to a local SQLite database. Records are
// stored as JSON keyed by their logical table name, content as blobs
// keyed by hash.
type SQLiteSink struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteSink opens (or creates) the database at path. Use ":memory:"
// for testing.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			table_name TEXT NOT NULL,
			time_stamp TEXT NOT NULL,
			record TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create records table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS content (
			hash TEXT NOT NULL PRIMARY KEY,
			content BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create content table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS instrumentation_errors (
			time_stamp TEXT NOT NULL,
			message TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create error table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_records_table_name
		ON records(table_name)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	log.WithField("component", "sink").Infof("Opened SQLite database at %s", path)
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) SaveRecord(table string, record interface{}) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sql.ErrConnDone
	}
	if _, err := s.db.Exec(`
		INSERT INTO records (table_name, time_stamp, record)
		VALUES (?, ?, ?)
	`, table, time.Now().UTC().Format(time.RFC3339Nano), string(data)); err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

func (s *SQLiteSink) SaveContent(data []byte, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sql.ErrConnDone
	}
	// Identical bodies are stored once.
	if _, err := s.db.Exec(`
		INSERT INTO content (hash, content)
		VALUES (?, ?)
		ON CONFLICT(hash) DO NOTHING
	`, hash, data); err != nil {
		return fmt.Errorf("save content: %w", err)
	}
	return nil
}

func (s *SQLiteSink) LogError(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sql.ErrConnDone
	}
	if _, err := s.db.Exec(`
		INSERT INTO instrumentation_errors (time_stamp, message)
		VALUES (?, ?)
	`, time.Now().UTC().Format(time.RFC3339Nano), message); err != nil {
		return fmt.Errorf("log error: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
