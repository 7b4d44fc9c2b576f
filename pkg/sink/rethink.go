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
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	log "github.com/sirupsen/logrus"
	r "gopkg.in/rethinkdb/rethinkdb-go.v6"
)

const (
	contentTable = "content"
	errorTable   = "instrumentation_errors"
)

// RethinkSink writes records to RethinkDB.
type RethinkSink struct {
	dbConnectOpts r.ConnectOpts
	dbSession     r.QueryExecutor
	maxRetries    int
	waitTimeout   time.Duration
	queryTimeout  time.Duration
	logger        *log.Entry
}

type RethinkOptions struct {
	Username           string
	Password           string
	Database           string
	UseOpenTracing     bool
	Host               string
	Port               int
	QueryTimeout       time.Duration
	MaxOpenConnections int
}

// NewRethinkSink creates a new sink backed by RethinkDB.
func NewRethinkSink(opts RethinkOptions) *RethinkSink {
	return &RethinkSink{
		dbConnectOpts: r.ConnectOpts{
			Address:        fmt.Sprintf("%s:%d", opts.Host, opts.Port),
			Username:       opts.Username,
			Password:       opts.Password,
			Database:       opts.Database,
			InitialCap:     2,
			MaxOpen:        opts.MaxOpenConnections,
			UseOpentracing: opts.UseOpenTracing,
			NumRetries:     10,
			Timeout:        10 * time.Second,
		},
		maxRetries:   3,
		waitTimeout:  60 * time.Second,
		queryTimeout: opts.QueryTimeout,
		logger:       log.WithField("component", "sink"),
	}
}

// Connect establishes the database connection
func (s *RethinkSink) Connect() error {
	var err error
	s.dbSession, err = r.Connect(s.dbConnectOpts)
	if err != nil {
		return fmt.Errorf("failed to connect to RethinkDB at %s: %w", s.dbConnectOpts.Address, err)
	}

	s.logger.Infof("Connected to RethinkDB at %s", s.dbConnectOpts.Address)
	return nil
}

// Close closes the connection
func (s *RethinkSink) Close() error {
	s.logger.Infof("Closing database connection")
	return s.dbSession.(*r.Session).Close()
}

func (s *RethinkSink) SaveRecord(table string, record interface{}) error {
	term := r.Table(table).Insert(record)
	return s.execWrite("save-record", &term)
}

func (s *RethinkSink) SaveContent(data []byte, hash string) error {
	// Content is keyed by hash so identical bodies are stored once.
	term := r.Table(contentTable).Insert(map[string]interface{}{
		"id":      hash,
		"content": data,
	}, r.InsertOpts{Conflict: "replace"})
	return s.execWrite("save-content", &term)
}

func (s *RethinkSink) LogError(message string) error {
	term := r.Table(errorTable).Insert(map[string]interface{}{
		"message":    message,
		"time_stamp": time.Now().UTC(),
	})
	return s.execWrite("log-error", &term)
}

// execWrite executes the given write term with a timeout
func (s *RethinkSink) execWrite(name string, term *r.Term) error {
	q := func(ctx context.Context) (*r.Cursor, error) {
		runOpts := r.RunOpts{
			Context:    ctx,
			Durability: "soft",
		}
		_, err := (*term).RunWrite(s.dbSession, runOpts)
		return nil, err
	}
	_, err := s.execWithRetry(name, q)
	return err
}

// execWithRetry executes given query function repeatedly until successful or max retry limit is reached
func (s *RethinkSink) execWithRetry(name string, q func(ctx context.Context) (*r.Cursor, error)) (cursor *r.Cursor, err error) {
	attempts := 0
out:
	for {
		attempts++
		cursor, err = s.exec(name, q)
		if err == nil {
			return
		}
		s.logger.WithError(err).
			WithField("operation", name).
			WithField("retries", attempts-1).
			Warn()
		switch err {
		case r.ErrQueryTimeout:
			err := s.wait()
			if err != nil {
				s.logger.WithError(err).Warn()
			}
		case r.ErrConnectionClosed:
			err := s.Connect()
			if err != nil {
				s.logger.WithError(err).Warn()
			}
		default:
			break out
		}
		if attempts > s.maxRetries {
			break
		}
	}
	return nil, fmt.Errorf("failed to %s after %d of %d attempts: %w", name, attempts, s.maxRetries+1, err)
}

// exec executes the given query using a timeout
//
// A tracing span is created if configured
func (s *RethinkSink) exec(name string, q func(ctx context.Context) (*r.Cursor, error)) (*r.Cursor, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.queryTimeout)
	defer cancel()
	if s.dbConnectOpts.UseOpentracing {
		span := opentracing.GlobalTracer().StartSpan(name)
		ctx = opentracing.ContextWithSpan(ctx, span)
		defer span.Finish()
	}
	return q(ctx)
}

// wait waits for database to be fully up to date and ready for read/write
func (s *RethinkSink) wait() error {
	ctx, cancel := context.WithTimeout(context.Background(), (1*time.Second)+s.waitTimeout)
	defer cancel()
	runOpts := r.RunOpts{
		Context: ctx,
	}
	waitOpts := r.WaitOpts{
		Timeout: s.waitTimeout,
	}
	_, err := r.DB(s.dbConnectOpts.Database).Wait(waitOpts).Run(s.dbSession, runOpts)
	return err
}
