package offsync

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 50 * time.Millisecond

// Reload re-reads the persisted state and adopts it if another writer changed
// it. Self-writes are detected by comparing against the current snapshot and
// ignored. Returns whether anything was adopted.
func (s *Service) Reload() bool {
	snapshot, err := s.backend.Load()
	if err != nil {
		s.logf("offsync: reload failed, keeping in-memory state: %v", err)
		return false
	}
	if snapshot == nil {
		return false
	}
	next := normalizeState(*snapshot)

	s.mu.Lock()
	if statesEqual(s.state, next) {
		s.mu.Unlock()
		return false
	}
	prev := s.state.Status
	s.state = next
	if s.state.Status != prev {
		s.broadcast(StatusChange{Status: s.state.Status})
	}
	s.mu.Unlock()

	if s.Online() && s.PendingCount() > 0 {
		s.TriggerDrain()
	}
	return true
}

// StateWatcher reloads the service when another process rewrites the shared
// state file, so every process sharing the file converges on one queue.
type StateWatcher struct {
	service *Service
	path    string
	watcher *fsnotify.Watcher
	logger  Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewStateWatcher(service *Service, stateFile string, logger Logger) (*StateWatcher, error) {
	stateFile = strings.TrimSpace(stateFile)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: atomic tmp+rename replaces the
	// inode, which would silently drop a file-level watch.
	if err := watcher.Add(filepath.Dir(stateFile)); err != nil {
		watcher.Close()
		return nil, err
	}
	w := &StateWatcher{
		service: service,
		path:    stateFile,
		watcher: watcher,
		logger:  logger,
		stop:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *StateWatcher) Close() error {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *StateWatcher) loop() {
	defer w.wg.Done()
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// Editors and atomic renames fire bursts; collapse them.
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(watchDebounce, func() {
				select {
				case <-w.stop:
					return
				default:
				}
				if w.service.Reload() && w.logger != nil {
					w.logger.Printf("offsync: adopted externally written state from %s", w.path)
				}
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Printf("offsync: state watcher error: %v", err)
			}
		}
	}
}
