// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides the persistence implementations behind the
// workflow service's collaborator interfaces: in-memory stores for
// graphs, agent profiles, parameter sets and experiments, and a
// BadgerDB-backed append-only log for experiment runs and parameter
// audit entries.
//
// BadgerDB gives local embedded storage with low-latency access; the
// append-only logs are write-heavy and never updated in place, which
// suits an LSM store well.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianFlow/services/workflow/experiment"
	"github.com/AleutianAI/AleutianFlow/services/workflow/params"
)

// BadgerConfig holds configuration for the embedded log database.
type BadgerConfig struct {
	// Path is the directory for database files. Ignored when InMemory
	// is true.
	Path string

	// InMemory disables disk persistence. Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns production defaults: durable writes at
// the given path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns a configuration for tests: no disk I/O,
// no sync.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// RunLog is the BadgerDB-backed append-only log. It implements
// experiment.RunSink and params.AuditLog.
//
// Keys are prefix-scoped per stream and ordered by append time, so a
// prefix scan replays one experiment's runs or one set's audit history
// in order.
//
// Thread Safety: safe for concurrent use; BadgerDB serializes commits.
type RunLog struct {
	db *badger.DB
}

// OpenRunLog opens the log database. Caller must Close it.
func OpenRunLog(cfg BadgerConfig) (*RunLog, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent log")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create log directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger log: %w", err)
	}
	return &RunLog{db: db}, nil
}

// Close closes the underlying database.
func (l *RunLog) Close() error {
	return l.db.Close()
}

// AppendRun persists one experiment run record.
func (l *RunLog) AppendRun(ctx context.Context, run experiment.Run) error {
	key := logKey("run", run.ExperimentID, run.RecordedAt)
	return l.append(ctx, key, run)
}

// Append persists one parameter audit entry.
func (l *RunLog) Append(ctx context.Context, entry params.AuditEntry) error {
	key := logKey("audit", entry.SetID, entry.At)
	return l.append(ctx, key, entry)
}

// Runs replays all run records for an experiment in append order.
func (l *RunLog) Runs(ctx context.Context, experimentID string) ([]experiment.Run, error) {
	var runs []experiment.Run
	err := l.scan(ctx, "run/"+experimentID+"/", func(val []byte) error {
		var run experiment.Run
		if err := json.Unmarshal(val, &run); err != nil {
			return err
		}
		runs = append(runs, run)
		return nil
	})
	return runs, err
}

// AuditEntries replays all audit entries for a parameter set in append
// order.
func (l *RunLog) AuditEntries(ctx context.Context, setID string) ([]params.AuditEntry, error) {
	var entries []params.AuditEntry
	err := l.scan(ctx, "audit/"+setID+"/", func(val []byte) error {
		var entry params.AuditEntry
		if err := json.Unmarshal(val, &entry); err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	return entries, err
}

func (l *RunLog) append(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal log record: %w", err)
	}
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), payload)
	})
}

func (l *RunLog) scan(ctx context.Context, prefix string, fn func(val []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// logKeyTimeFormat is RFC3339 with fixed-width nanoseconds. RFC3339Nano
// trims trailing zeros, which breaks lexicographic ordering.
const logKeyTimeFormat = "2006-01-02T15:04:05.000000000Z"

// logKey builds "<stream>/<scope>/<timestamp>/<uuid>". The timestamp
// keeps prefix scans in append order; the uuid breaks same-nanosecond
// collisions.
func logKey(stream, scope string, at time.Time) string {
	if at.IsZero() {
		at = time.Now()
	}
	return stream + "/" + scope + "/" + at.UTC().Format(logKeyTimeFormat) + "/" + uuid.NewString()
}
