// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists imported graphs and run records in BadgerDB.
//
// Keys:
//
//	graph/<name>       binary CSR (csr.Graph.MarshalBinary)
//	graphinfo/<name>   JSON GraphInfo
//	run/<graph>/<id>   JSON RunRecord
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/frontier/services/enact/csr"
	"github.com/AleutianAI/frontier/services/enact/enactor"
)

var (
	// ErrNotFound is returned when a graph does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidName is returned for names outside [A-Za-z0-9._-].
	ErrInvalidName = errors.New("invalid name")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store is closed")
)

var (
	storeOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enact_store_operations_total",
		Help: "Store operations by operation and outcome",
	}, []string{"operation", "outcome"})

	storeBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "enact_store_graph_bytes",
		Help:    "Encoded size of stored graphs",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
	})
)

var validName = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// Config controls Open.
type Config struct {
	// Path is the database directory. Required unless InMemory.
	Path string

	// InMemory keeps everything in memory, for tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives badger's internal logs. Nil disables them.
	Logger *slog.Logger
}

// DefaultConfig returns a persistent configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

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
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is the graph catalog.
//
// Thread Safety: Safe for concurrent use; badger serializes transactions.
type Store struct {
	db     *badger.DB
	path   string
	closed bool
}

// Open opens or creates a store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db, path: cfg.Path}, nil
}

// Path returns the database directory, empty for in-memory stores.
func (s *Store) Path() string { return s.path }

// GraphInfo describes a stored graph.
type GraphInfo struct {
	Name       string    `json:"name"`
	Nodes      int       `json:"nodes"`
	Edges      int64     `json:"edges"`
	MaxDegree  int64     `json:"max_degree"`
	Source     string    `json:"source,omitempty"`
	Bytes      int64     `json:"bytes"`
	ImportedAt time.Time `json:"imported_at"`
}

// RunRecord is the persisted outcome of one run.
type RunRecord struct {
	RunID      string             `json:"run_id"`
	Graph      string             `json:"graph"`
	Algorithm  string             `json:"algorithm"`
	Devices    int                `json:"devices"`
	StartedAt  time.Time          `json:"started_at"`
	Elapsed    time.Duration      `json:"elapsed_ns"`
	Statistics enactor.Statistics `json:"statistics"`
	Truncated  bool               `json:"truncated"`
	Error      string             `json:"error,omitempty"`
}

func graphKey(name string) []byte { return []byte("graph/" + name) }

func infoKey(name string) []byte { return []byte("graphinfo/" + name) }

func runPrefix(graph string) []byte { return []byte("run/" + graph + "/") }

func observe(op string, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	}
	storeOps.WithLabelValues(op, outcome).Inc()
}

func (s *Store) check(ctx context.Context, name string) error {
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if name != "" && !validName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// PutGraph stores g under name, replacing any previous graph of that name.
func (s *Store) PutGraph(ctx context.Context, name, source string, g *csr.Graph) (info GraphInfo, err error) {
	defer func() { observe("put_graph", err) }()
	if err := s.check(ctx, name); err != nil {
		return GraphInfo{}, err
	}
	if err := g.Validate(); err != nil {
		return GraphInfo{}, err
	}
	data, err := g.MarshalBinary()
	if err != nil {
		return GraphInfo{}, fmt.Errorf("encode graph: %w", err)
	}
	info = GraphInfo{
		Name:       name,
		Nodes:      g.Nodes,
		Edges:      g.Edges,
		MaxDegree:  g.MaxDegree(),
		Source:     source,
		Bytes:      int64(len(data)),
		ImportedAt: time.Now().UTC(),
	}
	meta, err := json.Marshal(info)
	if err != nil {
		return GraphInfo{}, fmt.Errorf("encode graph info: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(graphKey(name), data); err != nil {
			return err
		}
		return txn.Set(infoKey(name), meta)
	})
	if err != nil {
		return GraphInfo{}, fmt.Errorf("store graph %s: %w", name, err)
	}
	storeBytes.Observe(float64(len(data)))
	return info, nil
}

// GetGraph loads the graph stored under name.
func (s *Store) GetGraph(ctx context.Context, name string) (g *csr.Graph, err error) {
	defer func() { observe("get_graph", err) }()
	if err := s.check(ctx, name); err != nil {
		return nil, err
	}
	g = &csr.Graph{}
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(graphKey(name))
		if err != nil {
			return err
		}
		return item.Value(g.UnmarshalBinary)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("graph %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load graph %s: %w", name, err)
	}
	return g, nil
}

// ListGraphs returns every stored graph ordered by name.
func (s *Store) ListGraphs(ctx context.Context) (out []GraphInfo, err error) {
	defer func() { observe("list_graphs", err) }()
	if err := s.check(ctx, ""); err != nil {
		return nil, err
	}
	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte("graphinfo/"), PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var info GraphInfo
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &info) }); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteGraph removes a graph and its run records.
func (s *Store) DeleteGraph(ctx context.Context, name string) (err error) {
	defer func() { observe("delete_graph", err) }()
	if err := s.check(ctx, name); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(infoKey(name)); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("graph %s: %w", name, ErrNotFound)
		} else if err != nil {
			return err
		}
		keys := [][]byte{graphKey(name), infoKey(name)}
		it := txn.NewIterator(badger.IteratorOptions{Prefix: runPrefix(name)})
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutRun records a run against its graph.
func (s *Store) PutRun(ctx context.Context, rec RunRecord) (err error) {
	defer func() { observe("put_run", err) }()
	if err := s.check(ctx, rec.Graph); err != nil {
		return err
	}
	if rec.RunID == "" {
		return errors.New("run record has no run id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(append(runPrefix(rec.Graph), rec.RunID...), data)
	})
}

// ListRuns returns the runs recorded for graph, oldest first.
func (s *Store) ListRuns(ctx context.Context, graph string) (out []RunRecord, err error) {
	defer func() { observe("list_runs", err) }()
	if err := s.check(ctx, graph); err != nil {
		return nil, err
	}
	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: runPrefix(graph), PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec RunRecord
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// Compact runs value log GC until nothing is rewritten.
func (s *Store) Compact(ctx context.Context, ratio float64) error {
	if err := s.check(ctx, ""); err != nil {
		return err
	}
	if s.path == "" {
		return nil
	}
	for ctx.Err() == nil {
		err := s.db.RunValueLogGC(ratio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("value log gc: %w", err)
		}
	}
	return ctx.Err()
}

// Close closes the database. Close is idempotent.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
