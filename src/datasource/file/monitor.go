// monitor.go
package file

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileMonitor reports changes to files inside a set of directories.
type FileMonitor struct {
	watchDirs []string
	watcher   *fsnotify.Watcher
	match    func(path string) bool
	lastMod  map[string]time.Time
	mu       sync.Mutex
}

// NewFileMonitor watches dir. match selects the files of interest; nil
// accepts every file.
func NewFileMonitor(dir string, match func(path string) bool) (*FileMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	if match == nil {
		match = func(string) bool { return true }
	}

	return &FileMonitor{
		watchDirs: []string{filepath.Clean(dir)},
		watcher:   watcher,
		match:     match,
		lastMod:   make(map[string]time.Time),
	}, nil
}

// Add watches another directory. Adding a watched directory is a no-op.
func (m *FileMonitor) Add(dir string) error {
	dir = filepath.Clean(dir)
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.watchDirs {
		if d == dir {
			return nil
		}
	}
	if err := m.watcher.Add(dir); err != nil {
		return err
	}
	m.watchDirs = append(m.watchDirs, dir)
	return nil
}

// MatchPath accepts only the given file.
func MatchPath(path string) func(string) bool {
	want := filepath.Clean(path)
	if abs, err := filepath.Abs(want); err == nil {
		want = abs
	}
	return func(p string) bool {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		return filepath.Clean(p) == want
	}
}

// Watch blocks until ctx is done or the watcher fails. handler runs in its
// own goroutine for every create or write that moves a file's modification
// time forward, and for every remove or rename.
func (m *FileMonitor) Watch(ctx context.Context, handler func(string)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-m.watcher.Events:
			if !ok {
				return nil
			}
			if !m.match(event.Name) {
				continue
			}

			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				info, err := os.Stat(event.Name)
				if err != nil {
					continue
				}

				m.mu.Lock()
				fresh := info.ModTime().After(m.lastMod[event.Name])
				if fresh {
					m.lastMod[event.Name] = info.ModTime()
				}
				m.mu.Unlock()

				if fresh {
					go handler(event.Name)
				}
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				m.mu.Lock()
				delete(m.lastMod, event.Name)
				m.mu.Unlock()
				go handler(event.Name)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

func (m *FileMonitor) Close() error {
	return m.watcher.Close()
}
