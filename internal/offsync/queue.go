package offsync

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type MutationType string

const (
	MutationCreateSessionPart MutationType = "create_session_part"
	MutationCreateSession     MutationType = "create_session"
	MutationUpdateCoach       MutationType = "update_coach"
	MutationUploadFile        MutationType = "upload_file"
	MutationCreateReflection  MutationType = "create_reflection"
)

func (m MutationType) Valid() bool {
	switch m {
	case MutationCreateSessionPart, MutationCreateSession, MutationUpdateCoach,
		MutationUploadFile, MutationCreateReflection:
		return true
	}
	return false
}

type ItemStatus string

const (
	ItemPending ItemStatus = "pending"
	ItemError   ItemStatus = "error"
	ItemFailed  ItemStatus = "failed"
	ItemSynced  ItemStatus = "synced"
)

type QueueItem struct {
	ID          string          `json:"id"`
	Type        MutationType    `json:"type"`
	EntityID    string          `json:"entityId"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   string          `json:"timestamp"`
	RetryCount  int             `json:"retryCount"`
	Status      ItemStatus      `json:"status"`
	LastError   string          `json:"lastError,omitempty"`
	LastAttempt string          `json:"lastAttempt,omitempty"`
}

func newItemID(now time.Time) string {
	return fmt.Sprintf("qi_%d_%s", now.UnixMilli(), strings.Split(uuid.NewString(), "-")[0])
}

// Enqueue records a pending mutation. At most one item may exist per
// (entityID, type) pair: a repeat enqueue replaces payload, timestamp and
// status in place, keeping the original item's ID, position and retry count.
// Enqueueing always marks the register offline (callers only queue when a
// write could not reach the backend); if connectivity is actually present a
// debounced drain is scheduled to pick the item up.
func (s *Service) Enqueue(mutation MutationType, payload json.RawMessage, entityID string) (QueueItem, error) {
	entityID = strings.TrimSpace(entityID)
	if !mutation.Valid() || entityID == "" {
		return QueueItem{}, ErrInvalidInput
	}
	if s.isClosed() {
		return QueueItem{}, ErrClosed
	}
	now := time.Now().UTC()
	s.mu.Lock()
	var stored QueueItem
	replaced := false
	for i := range s.state.Queue {
		if s.state.Queue[i].EntityID == entityID && s.state.Queue[i].Type == mutation {
			s.state.Queue[i].Payload = append(json.RawMessage(nil), payload...)
			s.state.Queue[i].Timestamp = now.Format(time.RFC3339Nano)
			s.state.Queue[i].Status = ItemPending
			stored = cloneItem(s.state.Queue[i])
			replaced = true
			break
		}
	}
	if !replaced {
		item := QueueItem{
			ID:        newItemID(now),
			Type:      mutation,
			EntityID:  entityID,
			Payload:   append(json.RawMessage(nil), payload...),
			Timestamp: now.Format(time.RFC3339Nano),
			Status:    ItemPending,
		}
		s.state.Queue = append(s.state.Queue, item)
		stored = cloneItem(item)
	}
	s.setStatusLocked(StatusOffline)
	s.saveLocked()
	s.mu.Unlock()

	if s.Online() {
		s.TriggerDrain()
	}
	return stored, nil
}

// Remove deletes exactly one item by id; absent ids are a no-op.
func (s *Service) Remove(itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Queue {
		if s.state.Queue[i].ID == itemID {
			s.state.Queue = append(s.state.Queue[:i], s.state.Queue[i+1:]...)
			s.saveLocked()
			return
		}
	}
}

// List returns every queued item in persisted (insertion) order.
func (s *Service) List() []QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]QueueItem, 0, len(s.state.Queue))
	for i := range s.state.Queue {
		items = append(items, cloneItem(s.state.Queue[i]))
	}
	return items
}

// PendingCount counts items still eligible for syncing (pending or error);
// permanently failed items are excluded.
func (s *Service) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for i := range s.state.Queue {
		switch s.state.Queue[i].Status {
		case ItemPending, ItemError:
			count++
		}
	}
	return count
}

// Clear empties the queue unconditionally, failed items included.
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Queue = []QueueItem{}
	s.saveLocked()
}

func cloneItem(item QueueItem) QueueItem {
	clone := item
	clone.Payload = append(json.RawMessage(nil), item.Payload...)
	return clone
}
