package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"SpeedRecords/src/processor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "position;date;mesure;limite\n2.5 48.8;2024-01-15T08:30:00;95;90\n"

func countingStore(calls *int32, delay time.Duration) *Store {
	return NewStoreWithLoader(func(ctx context.Context, name string, data []byte) (*processor.Result, error) {
		atomic.AddInt32(calls, 1)
		time.Sleep(delay)
		return processor.LoadBytes(ctx, name, data, processor.DefaultOptions())
	}, nil)
}

func writeSample(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vitesse.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestGetReusesResult(t *testing.T) {
	var calls int32
	s := countingStore(&calls, 0)
	path := writeSample(t, sample)

	first, err := s.Get(context.Background(), path)
	require.NoError(t, err)
	second, err := s.Get(context.Background(), path)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.EqualValues(t, 1, calls)

	hits, misses := s.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
}

func TestGetRelativeAndAbsoluteShareEntry(t *testing.T) {
	var calls int32
	s := countingStore(&calls, 0)
	path := writeSample(t, sample)

	_, err := s.Get(context.Background(), path)
	require.NoError(t, err)
	_, err = s.Get(context.Background(), filepath.Join(filepath.Dir(path), ".", "vitesse.csv"))
	require.NoError(t, err)

	assert.EqualValues(t, 1, calls)
}

func TestGetReloadsChangedContent(t *testing.T) {
	var calls int32
	s := countingStore(&calls, 0)
	path := writeSample(t, sample)

	first, err := s.Get(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Diagnostics.RowsRead)

	more := sample + "5 6;2024-01-15T09:00;100;90\n"
	require.NoError(t, os.WriteFile(path, []byte(more), 0o644))

	second, err := s.Get(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Diagnostics.RowsRead)
	assert.EqualValues(t, 2, calls)
}

func TestInvalidate(t *testing.T) {
	var calls int32
	s := countingStore(&calls, 0)
	path := writeSample(t, sample)

	first, err := s.Get(context.Background(), path)
	require.NoError(t, err)
	s.Invalidate(path)
	second, err := s.Get(context.Background(), path)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.EqualValues(t, 2, calls)

	s.Clear()
	_, err = s.Get(context.Background(), path)
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls)
}

func TestConcurrentGetSharesRun(t *testing.T) {
	var calls int32
	s := countingStore(&calls, 50*time.Millisecond)
	path := writeSample(t, sample)

	var wg sync.WaitGroup
	results := make([]*processor.Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.Get(context.Background(), path)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, calls)
	for _, r := range results[1:] {
		assert.Same(t, results[0], r)
	}
}

func TestGetErrors(t *testing.T) {
	s := NewStore(processor.DefaultOptions())

	_, err := s.Get(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := writeSample(t, "route;note\nA6;x\n")
	_, err = s.Get(context.Background(), path)
	assert.ErrorIs(t, err, processor.ErrMissingColumn)

	failing := NewStoreWithLoader(func(context.Context, string, []byte) (*processor.Result, error) {
		return nil, errors.New("boom")
	}, nil)
	_, err = failing.Get(context.Background(), path)
	assert.EqualError(t, err, "boom")
}
