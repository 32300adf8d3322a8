package offsync

import (
	"context"
	"sort"
	"time"
)

const (
	ReasonOffline  = "offline"
	ReasonInFlight = "in_flight"
)

type DrainResult struct {
	Success bool   `json:"success"`
	Synced  int    `json:"synced"`
	Errors  int    `json:"errors"`
	Skipped int    `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
}

// Drain delivers every eligible queued mutation to the backend, oldest first.
// The pass is strictly sequential: each dispatch completes before the next
// starts, because later mutations may depend on earlier ones for the same
// entity. Exactly one pass runs at a time; a concurrent call returns
// in_flight without touching the queue. A pass never fails as a whole;
// per-item outcomes are aggregated into the result.
func (s *Service) Drain(ctx context.Context) DrainResult {
	if !s.Online() {
		s.setStatus(StatusOffline)
		return DrainResult{Reason: ReasonOffline}
	}

	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return DrainResult{Reason: ReasonInFlight}
	}
	s.draining = true
	if len(s.state.Queue) == 0 {
		if s.setStatusLocked(StatusSynced) {
			s.saveLocked()
		}
		s.draining = false
		s.mu.Unlock()
		return DrainResult{Success: true}
	}
	if s.setStatusLocked(StatusSyncing) {
		s.saveLocked()
	}
	items := make([]QueueItem, 0, len(s.state.Queue))
	for i := range s.state.Queue {
		items = append(items, cloneItem(s.state.Queue[i]))
	}
	s.mu.Unlock()

	// Insertion order and timestamp order usually coincide, but a
	// replace-in-place can break that, so order is re-derived here.
	sortByTimestamp(items)

	var synced, errs, skipped int
	for _, item := range items {
		if item.Status != ItemPending && item.Status != ItemError {
			continue
		}
		outcome, err := s.dispatcher.Dispatch(ctx, item)
		now := time.Now().UTC().Format(time.RFC3339Nano)

		s.mu.Lock()
		idx := s.indexOfLocked(item.ID)
		if idx < 0 {
			// Removed or cleared while the dispatch was in flight.
			s.mu.Unlock()
			continue
		}
		switch {
		case err == nil && outcome == DispatchSynced:
			s.state.Queue = append(s.state.Queue[:idx], s.state.Queue[idx+1:]...)
			synced++
		case err == nil:
			skipped++
		default:
			stored := &s.state.Queue[idx]
			stored.RetryCount++
			stored.LastError = err.Error()
			stored.LastAttempt = now
			if stored.RetryCount >= s.maxAttempts {
				stored.Status = ItemFailed
			} else {
				stored.Status = ItemError
			}
			errs++
		}
		s.saveLocked()
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.state.LastSync = time.Now().UTC().Format(time.RFC3339Nano)
	final := StatusIdle
	if len(s.state.Queue) == 0 {
		final = StatusSynced
	} else if errs > 0 {
		final = StatusError
	}
	s.setStatusLocked(final)
	s.saveLocked()
	s.draining = false
	s.mu.Unlock()

	return DrainResult{Success: true, Synced: synced, Errors: errs, Skipped: skipped}
}

// TriggerDrain schedules a drain after a quiet period. Repeat calls reset the
// timer, so a burst of enqueues collapses into a single pass.
func (s *Service) TriggerDrain() {
	if s.isClosed() {
		return
	}
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.drainTimer != nil {
		s.drainTimer.Stop()
	}
	s.drainTimer = time.AfterFunc(s.debounce, func() {
		select {
		case <-s.closed:
			return
		default:
			_ = s.Drain(context.Background())
		}
	})
}

func (s *Service) indexOfLocked(itemID string) int {
	for i := range s.state.Queue {
		if s.state.Queue[i].ID == itemID {
			return i
		}
	}
	return -1
}

func sortByTimestamp(items []QueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		left, leftErr := time.Parse(time.RFC3339Nano, items[i].Timestamp)
		right, rightErr := time.Parse(time.RFC3339Nano, items[j].Timestamp)
		if leftErr != nil || rightErr != nil {
			return items[i].Timestamp < items[j].Timestamp
		}
		return left.Before(right)
	})
}
