package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileMonitorReportsWrites(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "vitesse.csv")
	other := filepath.Join(dir, "other.csv")

	monitor, err := NewFileMonitor(dir, MatchPath(target))
	require.NoError(t, err)
	defer monitor.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan string, 10)
	done := make(chan error, 1)
	go func() {
		done <- monitor.Watch(ctx, func(p string) { changed <- p })
	}()

	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(target, []byte("position;date;mesure;limite\n"), 0o644))

	select {
	case p := <-changed:
		assert.Equal(t, target, p)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestMatchPath(t *testing.T) {
	match := MatchPath("data/../data/a.csv")
	assert.True(t, match("data/a.csv"))
	assert.False(t, match("data/b.csv"))
}

func TestFileMonitorAdd(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	monitor, err := NewFileMonitor(first, nil)
	require.NoError(t, err)
	defer monitor.Close()

	require.NoError(t, monitor.Add(second))
	require.NoError(t, monitor.Add(second))
	assert.Len(t, monitor.watchDirs, 2)
	assert.Error(t, monitor.Add(filepath.Join(second, "missing")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan string, 10)
	go monitor.Watch(ctx, func(p string) { changed <- p })

	target := filepath.Join(second, "drop.csv")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	select {
	case p := <-changed:
		assert.Equal(t, target, p)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
}
