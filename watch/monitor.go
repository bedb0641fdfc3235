// Package watch notifies listeners when individual files change.
//
// A Monitor watches the parent directories of registered files, so
// editors that save by writing a temporary file and renaming it over the
// original are seen too. A notification is delivered only when the
// file's modification time differs from the last one seen, which folds
// the several events a single save produces into one.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrClosed is returned by a closed Monitor.
var ErrClosed = errors.New("watch: monitor closed")

// Listener is called with the registered path of a changed file. It runs
// on the goroutine executing Run.
type Listener func(path string)

type file struct {
	path      string // as registered
	modTime   time.Time
	listeners []Listener
}

// Monitor delivers file change notifications. Listeners may be added
// from any goroutine.
type Monitor struct {
	w *fsnotify.Watcher

	mu     sync.Mutex
	files  map[string]*file // by absolute path
	dirs   map[string]bool
	closed bool
}

// New creates a Monitor. Call Run to start delivering notifications.
func New() (*Monitor, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	return &Monitor{
		w:     w,
		files: make(map[string]*file),
		dirs:  make(map[string]bool),
	}, nil
}

// AddListener calls fn whenever the file at path changes. The file must
// exist.
func (m *Monitor) AddListener(path string, fn Listener) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	dir := filepath.Dir(abs)
	if !m.dirs[dir] {
		if err := m.w.Add(dir); err != nil {
			return fmt.Errorf("watch: %s: %w", dir, err)
		}
		m.dirs[dir] = true
	}
	f, ok := m.files[abs]
	if !ok {
		f = &file{path: path, modTime: info.ModTime()}
		m.files[abs] = f
	}
	f.listeners = append(f.listeners, fn)
	slogger().Debug("watch: listening", "path", abs)
	return nil
}

// Run delivers notifications until ctx is canceled or the Monitor is
// closed. It returns nil in the latter case.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-m.w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				m.changed(ev.Name)
			}
		case err, ok := <-m.w.Errors:
			if !ok {
				return nil
			}
			slogger().Warn("watch: watcher error", "err", err)
		}
	}
}

// changed notifies the listeners of name if its modification time moved.
func (m *Monitor) changed(name string) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		// Removed, or mid-rename; the following create reports it.
		return
	}

	m.mu.Lock()
	f, ok := m.files[abs]
	if !ok || info.ModTime().Equal(f.modTime) {
		m.mu.Unlock()
		return
	}
	f.modTime = info.ModTime()
	path := f.path
	listeners := append([]Listener(nil), f.listeners...)
	m.mu.Unlock()

	slogger().Info("watch: file changed", "path", abs)
	for _, fn := range listeners {
		fn(path)
	}
}

// Close stops the Monitor. Run returns once its event channels close.
func (m *Monitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	return m.w.Close()
}
