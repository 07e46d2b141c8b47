package connectivity

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// OperstateSource watches a network interface's operstate file
// (/sys/class/net/<iface>/operstate) and emits a transition whenever
// the kernel rewrites it. Event-driven via inotify; no polling.
type OperstateSource struct {
	path    string
	watcher *fsnotify.Watcher
	ch      chan bool
	done    chan struct{}
}

// NewOperstateSource watches the named interface. statePath, when
// non-empty, overrides the operstate file location (tests).
func NewOperstateSource(iface, statePath string) (*OperstateSource, error) {
	path := statePath
	if path == "" {
		path = filepath.Join("/sys/class/net", iface, "operstate")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("connectivity.NewOperstateSource: %w", err)
	}
	// Watch the directory: sysfs attribute writes surface as events on
	// the parent on some kernels.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("connectivity.NewOperstateSource: watch %s: %w", path, err)
	}

	s := &OperstateSource{
		path:    path,
		watcher: watcher,
		ch:      make(chan bool, 1),
		done:    make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// ReadState reads the current operstate and reports whether the
// interface is up. Used for the monitor's initial state.
func (s *OperstateSource) ReadState() bool {
	return readOperstate(s.path)
}

// Events yields connectivity transitions.
func (s *OperstateSource) Events() <-chan bool {
	return s.ch
}

// Close stops the watcher.
func (s *OperstateSource) Close() error {
	close(s.done)
	return s.watcher.Close()
}

func (s *OperstateSource) run() {
	for {
		select {
		case <-s.done:
			return
		case evt, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if evt.Name != s.path {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
				continue
			}
			online := readOperstate(s.path)
			select {
			case s.ch <- online:
			case <-s.done:
				return
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("operstate watcher error", "path", s.path, "error", err)
		}
	}
}

func readOperstate(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		// Interface vanished or sysfs unavailable: treat as offline.
		return false
	}
	return strings.TrimSpace(string(data)) == "up"
}

// ChanSource is a channel-backed source for injecting synthetic
// transitions in tests.
type ChanSource struct {
	ch chan bool
}

// NewChanSource creates a synthetic transition source.
func NewChanSource() *ChanSource {
	return &ChanSource{ch: make(chan bool)}
}

// Emit delivers a transition to the monitor.
func (s *ChanSource) Emit(online bool) {
	s.ch <- online
}

// Events yields connectivity transitions.
func (s *ChanSource) Events() <-chan bool {
	return s.ch
}

// Close is a no-op; the channel stays open so late Emit calls do not panic.
func (s *ChanSource) Close() error {
	return nil
}
