package offsync

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()
	if opts.DebounceDelay == 0 {
		// Keep timer-driven drains out of unit tests.
		opts.DebounceDelay = time.Hour
	}
	s := NewService(opts)
	t.Cleanup(s.Close)
	return s
}

func TestEnqueueStoresPendingItem(t *testing.T) {
	s := newTestService(t, Options{})

	item, err := s.Enqueue(MutationCreateSessionPart, json.RawMessage(`{"name":"Warmup"}`), "entity-1")
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if item.ID == "" {
		t.Fatalf("expected generated item id")
	}
	if item.Status != ItemPending {
		t.Fatalf("expected pending status, got %s", item.Status)
	}
	if item.RetryCount != 0 {
		t.Fatalf("expected zero retry count, got %d", item.RetryCount)
	}
	if s.Status() != StatusOffline {
		t.Fatalf("expected offline status after enqueue, got %s", s.Status())
	}
	if got := s.PendingCount(); got != 1 {
		t.Fatalf("expected pending count 1, got %d", got)
	}
}

func TestEnqueueRejectsInvalidInput(t *testing.T) {
	s := newTestService(t, Options{})

	if _, err := s.Enqueue("unknown_mutation", nil, "entity-1"); err != ErrInvalidInput {
		t.Fatalf("expected ErrInvalidInput for unknown mutation, got %v", err)
	}
	if _, err := s.Enqueue(MutationCreateSessionPart, nil, "  "); err != ErrInvalidInput {
		t.Fatalf("expected ErrInvalidInput for blank entity, got %v", err)
	}
}

func TestEnqueueReplacesExistingEntityMutation(t *testing.T) {
	s := newTestService(t, Options{})

	first, err := s.Enqueue(MutationCreateSessionPart, json.RawMessage(`{"name":"Draft"}`), "entity-1")
	if err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	if _, err := s.Enqueue(MutationCreateSession, json.RawMessage(`{}`), "entity-1"); err != nil {
		t.Fatalf("other-type enqueue failed: %v", err)
	}
	second, err := s.Enqueue(MutationCreateSessionPart, json.RawMessage(`{"name":"Final"}`), "entity-1")
	if err != nil {
		t.Fatalf("replacing enqueue failed: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("expected replacement to keep id %s, got %s", first.ID, second.ID)
	}
	items := s.List()
	if len(items) != 2 {
		t.Fatalf("expected 2 items after replacement, got %d", len(items))
	}
	if items[0].ID != first.ID {
		t.Fatalf("expected replaced item to keep its position")
	}
	if string(items[0].Payload) != `{"name":"Final"}` {
		t.Fatalf("expected latest payload to win, got %s", items[0].Payload)
	}
}

func TestReplacementKeepsRetryCountAndResetsStatus(t *testing.T) {
	s := newTestService(t, Options{})

	item, err := s.Enqueue(MutationCreateSessionPart, json.RawMessage(`{"name":"A"}`), "entity-1")
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	s.mu.Lock()
	s.state.Queue[0].RetryCount = 2
	s.state.Queue[0].Status = ItemError
	s.mu.Unlock()

	replaced, err := s.Enqueue(MutationCreateSessionPart, json.RawMessage(`{"name":"B"}`), "entity-1")
	if err != nil {
		t.Fatalf("replacing enqueue failed: %v", err)
	}
	if replaced.ID != item.ID {
		t.Fatalf("expected same id after replacement")
	}
	if replaced.RetryCount != 2 {
		t.Fatalf("expected retry count preserved, got %d", replaced.RetryCount)
	}
	if replaced.Status != ItemPending {
		t.Fatalf("expected status reset to pending, got %s", replaced.Status)
	}
}

func TestRemoveDeletesExactlyOneItem(t *testing.T) {
	s := newTestService(t, Options{})

	item, _ := s.Enqueue(MutationCreateSessionPart, json.RawMessage(`{}`), "entity-1")
	if _, err := s.Enqueue(MutationCreateSession, json.RawMessage(`{}`), "entity-2"); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	s.Remove(item.ID)
	if got := len(s.List()); got != 1 {
		t.Fatalf("expected 1 item after remove, got %d", got)
	}
	s.Remove("missing-id")
	if got := len(s.List()); got != 1 {
		t.Fatalf("expected removal of missing id to be a no-op, got %d items", got)
	}
}

func TestClearEmptiesQueueIncludingFailedItems(t *testing.T) {
	s := newTestService(t, Options{})

	s.Enqueue(MutationCreateSessionPart, json.RawMessage(`{}`), "entity-1")
	s.mu.Lock()
	s.state.Queue[0].Status = ItemFailed
	s.mu.Unlock()

	s.Clear()
	if got := len(s.List()); got != 0 {
		t.Fatalf("expected empty queue after clear, got %d items", got)
	}
}

func TestPendingCountExcludesFailedItems(t *testing.T) {
	s := newTestService(t, Options{})

	s.Enqueue(MutationCreateSessionPart, json.RawMessage(`{}`), "entity-1")
	s.Enqueue(MutationCreateSession, json.RawMessage(`{}`), "entity-2")
	s.mu.Lock()
	s.state.Queue[0].Status = ItemFailed
	s.state.Queue[1].Status = ItemError
	s.mu.Unlock()

	if got := s.PendingCount(); got != 1 {
		t.Fatalf("expected pending count 1 (failed excluded, error included), got %d", got)
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")

	s := newTestService(t, Options{StateFile: stateFile})
	item, err := s.Enqueue(MutationCreateSessionPart, json.RawMessage(`{"name":"Persisted"}`), "entity-1")
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	s.Close()

	reopened := newTestService(t, Options{StateFile: stateFile})
	items := reopened.List()
	if len(items) != 1 {
		t.Fatalf("expected 1 item after reopen, got %d", len(items))
	}
	if items[0].ID != item.ID {
		t.Fatalf("expected item id %s after reopen, got %s", item.ID, items[0].ID)
	}
	if reopened.Status() != StatusOffline {
		t.Fatalf("expected persisted status offline, got %s", reopened.Status())
	}
}

func TestCorruptStateFileStartsEmpty(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(stateFile, []byte("{not-json"), 0o644); err != nil {
		t.Fatalf("failed to write corrupt state: %v", err)
	}

	s := newTestService(t, Options{StateFile: stateFile})
	if got := len(s.List()); got != 0 {
		t.Fatalf("expected empty queue from corrupt state, got %d items", got)
	}
	if s.Status() != StatusIdle {
		t.Fatalf("expected idle status from corrupt state, got %s", s.Status())
	}
}

func TestEnqueueAfterCloseFails(t *testing.T) {
	s := NewService(Options{DebounceDelay: time.Hour})
	s.Close()
	if _, err := s.Enqueue(MutationCreateSessionPart, json.RawMessage(`{}`), "entity-1"); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
