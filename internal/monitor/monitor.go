// Package monitor turns OS file notifications under a project root into
// debounced FileEvents.
//
// A Monitor moves through Stopped -> Starting -> Running -> Stopped. Start
// returns only once every directory under the root is registered with the
// OS watcher, and directories created later are registered as they appear.
// Repeated notifications for one path inside the debounce window collapse
// into a single event whose kind reflects the path's state when the window
// closes.
package monitor

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/mill/internal/fsevent"
	"github.com/roach88/mill/internal/project"
)

// DefaultDebounce is how long a monitor waits for a burst of notifications
// to settle before delivering events.
const DefaultDebounce = 100 * time.Millisecond

// State is the lifecycle state of a Monitor.
type State int

const (
	Stopped State = iota
	Starting
	Running
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Sink receives delivered events. It is called from the monitor's own
// goroutine, one event at a time, and should not block for long.
type Sink func(fsevent.Event)

// Option configures a Monitor.
type Option func(*Monitor)

// WithDebounce sets the coalescing window. Zero delivers on the next tick.
func WithDebounce(d time.Duration) Option {
	return func(m *Monitor) {
		if d >= 0 {
			m.debounce = d
		}
	}
}

// Monitor watches one project root.
type Monitor struct {
	project  *project.Project
	sink     Sink
	debounce time.Duration

	mu      sync.Mutex
	state   State
	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}

	// Known directories and files, owned by the delivery goroutine once
	// it runs. A vanished directory is expanded into its files.
	dirs  map[string]struct{}
	files map[string]struct{}
}

// New returns a stopped monitor for p that delivers to sink.
func New(p *project.Project, sink Sink, opts ...Option) *Monitor {
	m := &Monitor{
		project:  p,
		sink:     sink,
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Root is the directory being watched.
func (m *Monitor) Root() string {
	return m.project.Root
}

// Start registers the root recursively and begins delivering events. On
// failure the monitor is left Stopped with no OS resources held.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Stopped {
		return fmt.Errorf("monitor for %s is %s", m.project.ID, m.state)
	}
	m.state = Starting

	w, err := m.open()
	if err != nil {
		m.state = Stopped
		return err
	}

	m.watcher = w
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.state = Running
	go m.loop(w, m.stop, m.done)

	slog.Debug("monitor running", "project", m.project.ID, "root", m.project.Root)
	return nil
}

func (m *Monitor) open() (*fsnotify.Watcher, error) {
	root := m.project.Root
	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("resolve watch root: %s is not a directory", root)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	m.dirs = make(map[string]struct{})
	m.files = make(map[string]struct{})
	if err := m.addTree(w, root, nil); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}
	return w, nil
}

// addTree registers dir and every non-ignored directory below it. Files
// found on the way are passed to found, so entries created before the
// watch was in place are not lost.
func (m *Monitor) addTree(w *fsnotify.Watcher, dir string, found func(path string)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path != dir && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			if m.ignored(path) {
				return nil
			}
			m.files[path] = struct{}{}
			if found != nil {
				found(path)
			}
			return nil
		}
		if path != m.project.Root && m.ignoredDir(path) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			return err
		}
		m.dirs[path] = struct{}{}
		return nil
	})
}

// Stop releases the OS watch and waits for the delivery goroutine to exit.
// Pending events are dropped. Calling Stop more than once is safe.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if m.state != Running {
		m.mu.Unlock()
		return nil
	}
	w, stop, done := m.watcher, m.stop, m.done
	m.watcher = nil
	m.state = Stopped
	m.mu.Unlock()

	close(stop)
	err := w.Close()
	<-done

	slog.Debug("monitor stopped", "project", m.project.ID)
	return err
}

// change is a path's accumulated notifications within one window. Pending
// changes are keyed by the NFC form of the path so differently normalized
// notifications for one name coalesce; path is the name as reported.
type change struct {
	path    string
	created bool
}

func (m *Monitor) loop(w *fsnotify.Watcher, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	pending := make(map[string]*change)
	var flush <-chan time.Time

	note := func(path string, created bool) {
		key := norm.NFC.String(path)
		c, ok := pending[key]
		if !ok {
			c = &change{path: path}
			pending[key] = c
		}
		c.created = c.created || created
		if flush == nil {
			flush = time.After(m.debounce)
		}
	}

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			path := filepath.Clean(ev.Name)
			if m.ignored(path) {
				continue
			}
			created := ev.Has(fsnotify.Create)
			if created && isDir(path) {
				err := m.addTree(w, path, func(file string) {
					note(file, true)
				})
				if err != nil {
					slog.Warn("cannot watch new directory", "project", m.project.ID, "path", path, "error", err)
				}
			}
			note(path, created)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			slog.Warn("watch error", "project", m.project.ID, "error", err)

		case <-flush:
			m.deliver(pending)
			pending = make(map[string]*change)
			flush = nil

		case <-stop:
			return
		}
	}
}

// deliver emits one event per pending path, in path order. The kind is
// decided by what is on disk now: a path that exists was created (if a
// create was seen) or updated; a path that is gone was deleted. A path
// both created and removed inside the window produces nothing. A known
// directory that is gone also deletes every known file below it, since
// a rename out of the tree reports only the directory.
func (m *Monitor) deliver(pending map[string]*change) {
	m.expandVanished(pending)

	keys := make([]string, 0, len(pending))
	for key := range pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		c := pending[key]
		path := c.path
		var kind fsevent.Kind

		fi, err := os.Stat(path)
		switch {
		case err == nil && fi.IsDir():
			continue
		case err == nil && c.created:
			kind = fsevent.Created
		case err == nil:
			kind = fsevent.Updated
		case c.created:
			delete(m.files, path)
			continue
		default:
			kind = fsevent.Deleted
		}

		if kind == fsevent.Deleted {
			delete(m.files, path)
		} else {
			m.files[path] = struct{}{}
		}
		m.sink(fsevent.Event{Path: path, Kind: kind, Project: m.project})
	}
}

// expandVanished adds a pending deletion for every known file below a
// pending directory that no longer exists.
func (m *Monitor) expandVanished(pending map[string]*change) {
	var gone []string
	for _, c := range pending {
		if _, ok := m.dirs[c.path]; !ok {
			continue
		}
		if _, err := os.Stat(c.path); errors.Is(err, fs.ErrNotExist) {
			gone = append(gone, c.path)
		}
	}
	if len(gone) == 0 {
		return
	}

	below := func(path string) bool {
		for _, dir := range gone {
			if strings.HasPrefix(path, dir+string(filepath.Separator)) || path == dir {
				return true
			}
		}
		return false
	}
	for dir := range m.dirs {
		if below(dir) {
			delete(m.dirs, dir)
		}
	}
	for file := range m.files {
		if !below(file) {
			continue
		}
		key := norm.NFC.String(file)
		if _, ok := pending[key]; !ok {
			pending[key] = &change{path: file}
		}
	}
}

func (m *Monitor) ignored(path string) bool {
	rel, err := filepath.Rel(m.project.Root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range m.project.Ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// ignoredDir reports whether everything below dir is ignored.
func (m *Monitor) ignoredDir(dir string) bool {
	return m.ignored(dir) || m.ignored(filepath.Join(dir, "x"))
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
