package offsync

import (
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coachscope/offsync/internal/apiclient"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrClosed         = errors.New("service closed")
	ErrNotImplemented = errors.New("not implemented")
)

const (
	defaultMaxAttempts   = 3
	defaultDebounceDelay = 500 * time.Millisecond
)

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	StateBackend  StateBackend
	StateFile     string
	Dispatcher    *Dispatcher
	Client        *apiclient.Client
	MaxAttempts   int
	DebounceDelay time.Duration
	Logger        Logger
	StartOffline  bool
}

// Service owns the persisted offline queue, the sync status register and the
// drain machinery. All mutable state lives behind one mutex; persistence is
// synchronous on every mutation so the queue survives crashes and restarts.
type Service struct {
	mu       sync.Mutex
	state    persistedState
	draining bool

	backend    StateBackend
	dispatcher *Dispatcher
	client     *apiclient.Client
	logger     Logger

	maxAttempts int
	online      atomic.Bool

	debounce   time.Duration
	timerMu    sync.Mutex
	drainTimer *time.Timer

	subMu       sync.Mutex
	subscribers map[int]chan StatusChange
	nextSubID   int

	closed    chan struct{}
	closeOnce sync.Once
}

func NewService(opts Options) *Service {
	backend := opts.StateBackend
	if backend == nil && strings.TrimSpace(opts.StateFile) != "" {
		backend = NewJSONFileStateBackend(opts.StateFile)
	}
	if backend == nil {
		backend = NewInMemoryStateBackend()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	debounce := opts.DebounceDelay
	if debounce <= 0 {
		debounce = defaultDebounceDelay
	}
	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = NewDispatcher()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	s := &Service{
		backend:     backend,
		dispatcher:  dispatcher,
		client:      opts.Client,
		logger:      logger,
		maxAttempts: maxAttempts,
		debounce:    debounce,
		subscribers: map[int]chan StatusChange{},
		closed:      make(chan struct{}),
	}
	s.online.Store(!opts.StartOffline)
	s.state = s.loadState()
	return s
}

// loadState treats every storage failure as an empty queue: a corrupted
// snapshot must never take the rest of the application down.
func (s *Service) loadState() persistedState {
	snapshot, err := s.backend.Load()
	if err != nil {
		s.logf("offsync: failed to load persisted state, starting empty: %v", err)
		return emptyState()
	}
	if snapshot == nil {
		return emptyState()
	}
	return normalizeState(*snapshot)
}

// Start applies the initialization rules: offline wins, otherwise a backlog
// left over from a previous run schedules a drain.
func (s *Service) Start() {
	if !s.Online() {
		s.setStatus(StatusOffline)
		return
	}
	if s.PendingCount() > 0 {
		s.TriggerDrain()
	}
}

func (s *Service) Online() bool {
	return s.online.Load()
}

// SetOnline records a connectivity transition. Coming online moves the status
// away from offline and schedules a drain; going offline never drains.
func (s *Service) SetOnline(online bool) {
	prev := s.online.Swap(online)
	if prev == online {
		return
	}
	if online {
		if s.Status() == StatusOffline {
			s.setStatus(StatusIdle)
		}
		s.TriggerDrain()
		return
	}
	s.setStatus(StatusOffline)
}

func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.timerMu.Lock()
		if s.drainTimer != nil {
			s.drainTimer.Stop()
			s.drainTimer = nil
		}
		s.timerMu.Unlock()
		s.subMu.Lock()
		for id, ch := range s.subscribers {
			close(ch)
			delete(s.subscribers, id)
		}
		s.subMu.Unlock()
		if closer, ok := s.backend.(stateBackendCloser); ok && closer != nil {
			_ = closer.Close()
		}
	})
}

func (s *Service) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// saveLocked flushes the full state to the backend. Failures are logged and
// swallowed: the in-memory state stays authoritative for this process.
func (s *Service) saveLocked() {
	snapshot := cloneState(s.state)
	if err := s.backend.Save(&snapshot); err != nil {
		s.logf("offsync: failed to persist state: %v", err)
	}
}

func (s *Service) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
