package offsync

import "time"

type SyncStatus string

const (
	StatusIdle    SyncStatus = "idle"
	StatusSyncing SyncStatus = "syncing"
	StatusOffline SyncStatus = "offline"
	StatusError   SyncStatus = "error"
	StatusSynced  SyncStatus = "synced"
)

func (s SyncStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusSyncing, StatusOffline, StatusError, StatusSynced:
		return true
	}
	return false
}

type StatusChange struct {
	Status SyncStatus `json:"status"`
}

const subscriberBuffer = 16

func (s *Service) Status() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Status
}

// LastSyncTime returns the persisted last-sync timestamp, zero when no drain
// pass has completed yet.
func (s *Service) LastSyncTime() time.Time {
	s.mu.Lock()
	raw := s.state.LastSync
	s.mu.Unlock()
	if raw == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func (s *Service) setStatus(status SyncStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setStatusLocked(status) {
		s.saveLocked()
	}
}

// setStatusLocked updates the register and notifies subscribers. Persistence
// is the caller's responsibility so a status flip can share the save with the
// queue mutation that caused it. Returns whether the value changed.
func (s *Service) setStatusLocked(status SyncStatus) bool {
	if s.state.Status == status {
		return false
	}
	s.state.Status = status
	s.broadcast(StatusChange{Status: status})
	return true
}

// Subscribe registers a status observer. The returned cancel func must be
// called when the observer goes away. Slow consumers that fall more than
// subscriberBuffer changes behind lose the oldest notifications rather than
// blocking the writer.
func (s *Service) Subscribe() (<-chan StatusChange, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.isClosed() {
		ch := make(chan StatusChange)
		close(ch)
		return ch, func() {}
	}
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan StatusChange, subscriberBuffer)
	s.subscribers[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if existing, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(existing)
		}
	}
}

func (s *Service) broadcast(change StatusChange) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- change:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- change:
			default:
			}
		}
	}
}
