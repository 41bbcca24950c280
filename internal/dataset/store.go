package dataset

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/no2-dashboard/internal/observability"
)

// LoadFunc loads a dataset from path. Load is the production implementation.
type LoadFunc func(path string) (*Dataset, error)

// Store memoizes loaded datasets per file path. An entry is replaced only by an
// explicit Invalidate, Reload or a Refresh that observes a changed mtime/size.
type Store struct {
	load   LoadFunc
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*Dataset
	group   singleflight.Group
}

// NewStore returns a Store backed by Load.
func NewStore(logger *zap.Logger) *Store {
	return NewStoreWithLoader(Load, logger)
}

// NewStoreWithLoader returns a Store using a custom load function.
func NewStoreWithLoader(load LoadFunc, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		load:    load,
		logger:  logger,
		entries: make(map[string]*Dataset),
	}
}

// Get returns the dataset for path, loading it on first use. Concurrent first
// calls share a single load.
func (s *Store) Get(ctx context.Context, path string) (*Dataset, error) {
	if ds := s.cached(path); ds != nil {
		return ds, nil
	}
	ch := s.group.DoChan(path, func() (interface{}, error) {
		if ds := s.cached(path); ds != nil {
			return ds, nil
		}
		ds, err := s.loadAndRecord(path)
		if err != nil {
			return nil, err
		}
		s.put(path, ds)
		return ds, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Dataset), nil
	}
}

// Invalidate drops the memoized dataset for path. Returns true if one was present.
func (s *Store) Invalidate(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[path]
	delete(s.entries, path)
	if ok {
		s.logger.Info("dataset invalidated", zap.String("path", path))
	}
	return ok
}

// Reload invalidates path and loads it again.
func (s *Store) Reload(ctx context.Context, path string) (*Dataset, error) {
	s.Invalidate(path)
	return s.Get(ctx, path)
}

// Refresh reloads path only when the file's modification time or size differs
// from the memoized dataset. On reload failure the previous dataset stays in place.
// Returns true when a new dataset was installed.
func (s *Store) Refresh(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return false, &LoadError{Path: path, Reason: "stat file", Err: err}
	}
	if cur := s.cached(path); cur != nil && cur.ModTime.Equal(info.ModTime()) && cur.Size == info.Size() {
		return false, nil
	}
	v, err, _ := s.group.Do(path, func() (interface{}, error) {
		return s.loadAndRecord(path)
	})
	if err != nil {
		s.logger.Warn("dataset refresh failed; keeping previous", zap.String("path", path), zap.Error(err))
		return false, err
	}
	s.put(path, v.(*Dataset))
	return true, nil
}

func (s *Store) cached(path string) *Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[path]
}

func (s *Store) put(path string, ds *Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[path] = ds
}

func (s *Store) loadAndRecord(path string) (*Dataset, error) {
	start := time.Now()
	ds, err := s.load(path)
	duration := time.Since(start)
	if err != nil {
		observability.RecordDatasetLoad(err, duration, 0, 0)
		s.logger.Error("dataset load failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	observability.RecordDatasetLoad(nil, duration, len(ds.Records), ds.Skipped)
	s.logger.Info("dataset loaded",
		zap.String("path", path),
		zap.String("version", ds.Version),
		zap.Int("records", len(ds.Records)),
		zap.Int("cities", len(ds.Cities)),
		zap.Int("skipped", ds.Skipped),
		zap.Duration("duration", duration))
	return ds, nil
}
