package offsync

import (
	"context"
	"encoding/json"

	"github.com/coachscope/offsync/internal/apiclient"
)

type SessionPartPayload struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// SubmitResult reports how a write was handled: delivered directly (Part set)
// or parked in the offline queue (Queued with the stored Item).
type SubmitResult struct {
	Queued bool                   `json:"queued"`
	Item   *QueueItem             `json:"item,omitempty"`
	Part   *apiclient.SessionPart `json:"part,omitempty"`
}

// SubmitSessionPart is the write-through path: try the platform first, and
// fall back to the queue only when the failure looks like a connectivity
// problem. A rejection by the platform (4xx) is returned to the caller:
// queueing it would just burn retries on a request that can never succeed.
func (s *Service) SubmitSessionPart(ctx context.Context, payload SessionPartPayload, entityID string) (SubmitResult, error) {
	if s.isClosed() {
		return SubmitResult{}, ErrClosed
	}
	if s.Online() && s.client != nil {
		part, err := s.client.CreateSessionPart(ctx, apiclient.CreateSessionPartRequest{
			Name:      payload.Name,
			IsDefault: payload.IsDefault,
		})
		if err == nil {
			return SubmitResult{Part: part}, nil
		}
		if !apiclient.IsNetworkError(err) {
			return SubmitResult{}, err
		}
		s.logf("offsync: session part write failed, queueing: %v", err)
		s.SetOnline(false)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return SubmitResult{}, err
	}
	item, err := s.Enqueue(MutationCreateSessionPart, raw, entityID)
	if err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{Queued: true, Item: &item}, nil
}
