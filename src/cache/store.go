// Package cache memoizes pipeline results per source file.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"SpeedRecords/src/processor"
	"SpeedRecords/src/storage"

	"golang.org/x/sync/singleflight"
)

// Loader runs the pipeline on the content of one file.
type Loader func(ctx context.Context, name string, data []byte) (*processor.Result, error)

type entry struct {
	hash string
	res  *processor.Result
}

// Store keeps the latest result of every path it has served. An entry is
// reused only while the file content hashes the same; concurrent loads of
// the same content share one run.
type Store struct {
	load   Loader
	logger *storage.Logger

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group

	hits, misses int
}

// NewStore returns a Store that runs processor.LoadBytes with opts.
func NewStore(opts processor.Options) *Store {
	return NewStoreWithLoader(func(ctx context.Context, name string, data []byte) (*processor.Result, error) {
		return processor.LoadBytes(ctx, name, data, opts)
	}, opts.Logger)
}

// NewStoreWithLoader is NewStore with a custom loader. logger may be nil.
func NewStoreWithLoader(load Loader, logger *storage.Logger) *Store {
	return &Store{
		load:    load,
		logger:  logger,
		entries: make(map[string]entry),
	}
}

// Get returns the result for path, running the pipeline when the file is new
// or its content changed.
func (s *Store) Get(ctx context.Context, path string) (*processor.Result, error) {
	key, err := canonical(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	sum := md5.Sum(data)
	hash := hex.EncodeToString(sum[:])

	s.mu.Lock()
	if e, ok := s.entries[key]; ok && e.hash == hash {
		s.hits++
		s.mu.Unlock()
		return e.res, nil
	}
	s.misses++
	s.mu.Unlock()

	v, err, shared := s.group.Do(key+"\x00"+hash, func() (interface{}, error) {
		s.mu.RLock()
		e, ok := s.entries[key]
		s.mu.RUnlock()
		if ok && e.hash == hash {
			return e.res, nil
		}

		res, err := s.load(ctx, key, data)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.entries[key] = entry{hash: hash, res: res}
		s.mu.Unlock()
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	if shared && s.logger != nil {
		s.logger.Debugw("shared pipeline run", "path", key, "hash", hash)
	}
	return v.(*processor.Result), nil
}

// Invalidate forgets the entry for path. The next Get reruns the pipeline
// even if the content is unchanged.
func (s *Store) Invalidate(path string) {
	key, err := canonical(path)
	if err != nil {
		return
	}
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	if s.logger != nil {
		s.logger.Debugw("cache invalidated", "path", key)
	}
}

// Clear drops every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]entry)
	s.mu.Unlock()
}

// Stats reports cache hits and misses since the store was created.
func (s *Store) Stats() (hits, misses int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hits, s.misses
}

func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return filepath.Clean(abs), nil
}
