package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coachscope/offsync/internal/apiclient"
	"github.com/coachscope/offsync/internal/offsync"
)

type ServerConfig struct {
	AuthToken       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
}

// Server exposes the sync daemon over HTTP for local tooling: status and
// queue inspection, manual drain control, the write-through session part
// endpoint and a WebSocket status stream.
type Server struct {
	service     *offsync.Service
	cfg         ServerConfig
	rateLimiter *rateLimiter
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(service *offsync.Service) *Server {
	return NewServerWithConfig(service, ServerConfig{})
}

func NewServerWithConfig(service *offsync.Service, cfg ServerConfig) *Server {
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		service:     service,
		cfg:         cfg,
		rateLimiter: limiter,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/" && r.Method == http.MethodGet {
		s.handleDashboard(w, r)
		return
	}

	correlationID := getCorrelationID(r)

	var route string
	var mutating bool
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "sync" && parts[2] == "status" && r.Method == http.MethodGet:
		route = "status"
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "sync" && parts[2] == "queue" && r.Method == http.MethodGet:
		route = "queue_list"
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "sync" && parts[2] == "queue" && r.Method == http.MethodPost:
		route, mutating = "queue_add", true
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "sync" && parts[2] == "queue" && r.Method == http.MethodDelete:
		route, mutating = "queue_clear", true
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "sync" && parts[2] == "queue" && r.Method == http.MethodDelete:
		route, mutating = "queue_remove", true
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "sync" && parts[2] == "trigger" && r.Method == http.MethodPost:
		route, mutating = "trigger", true
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "sync" && parts[2] == "drain" && r.Method == http.MethodPost:
		route, mutating = "drain", true
	case len(parts) == 3 && parts[0] == "v1" && parts[1] == "sync" && parts[2] == "events" && r.Method == http.MethodGet:
		route = "events"
	case len(parts) == 2 && parts[0] == "v1" && parts[1] == "session-parts" && r.Method == http.MethodPost:
		route, mutating = "session_part", true
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}

	if mutating {
		if authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.AuthToken); authErr != nil {
			writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
			return
		}
		if s.rateLimiter != nil {
			if !s.rateLimiter.allow(clientKey(r), time.Now().UTC()) {
				retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
				return
			}
		}
	}

	switch route {
	case "status":
		s.handleStatus(w, correlationID)
	case "queue_list":
		s.handleQueueList(w)
	case "queue_add":
		s.handleQueueAdd(w, r, correlationID)
	case "queue_clear":
		s.handleQueueClear(w)
	case "queue_remove":
		s.handleQueueRemove(w, parts[3])
	case "trigger":
		s.handleTrigger(w)
	case "drain":
		s.handleDrain(w, r)
	case "events":
		s.handleEvents(w, r)
	case "session_part":
		s.handleSessionPart(w, r, correlationID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

type statusResponse struct {
	Status       offsync.SyncStatus `json:"status"`
	LastSync     string             `json:"lastSync,omitempty"`
	PendingCount int                `json:"pendingCount"`
	Online       bool               `json:"online"`
}

func (s *Server) currentStatus() statusResponse {
	resp := statusResponse{
		Status:       s.service.Status(),
		PendingCount: s.service.PendingCount(),
		Online:       s.service.Online(),
	}
	if last := s.service.LastSyncTime(); !last.IsZero() {
		resp.LastSync = last.Format(time.RFC3339Nano)
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, _ string) {
	writeJSON(w, http.StatusOK, s.currentStatus())
}

func (s *Server) handleQueueList(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.service.List()})
}

type enqueueRequest struct {
	Type     offsync.MutationType `json:"type"`
	EntityID string               `json:"entityId"`
	Payload  json.RawMessage      `json:"payload"`
}

func (s *Server) handleQueueAdd(w http.ResponseWriter, r *http.Request, correlationID string) {
	var req enqueueRequest
	if !s.decodeJSONBody(w, r, correlationID, &req) {
		return
	}
	item, err := s.service.Enqueue(req.Type, req.Payload, req.EntityID)
	if err != nil {
		if errors.Is(err, offsync.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "bad_request", "type and entityId are required", correlationID)
			return
		}
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleQueueClear(w http.ResponseWriter) {
	s.service.Clear()
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func (s *Server) handleQueueRemove(w http.ResponseWriter, itemID string) {
	s.service.Remove(itemID)
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

func (s *Server) handleTrigger(w http.ResponseWriter) {
	s.service.TriggerDrain()
	writeJSON(w, http.StatusAccepted, map[string]bool{"scheduled": true})
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	result := s.service.Drain(r.Context())
	writeJSON(w, http.StatusOK, result)
}

type sessionPartRequest struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
	EntityID  string `json:"entityId"`
}

func (s *Server) handleSessionPart(w http.ResponseWriter, r *http.Request, correlationID string) {
	var req sessionPartRequest
	if !s.decodeJSONBody(w, r, correlationID, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.EntityID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "name and entityId are required", correlationID)
		return
	}
	result, err := s.service.SubmitSessionPart(r.Context(), offsync.SessionPartPayload{
		Name:      req.Name,
		IsDefault: req.IsDefault,
	}, req.EntityID)
	if err != nil {
		var httpErr *apiclient.HTTPError
		if errors.As(err, &httpErr) {
			writeError(w, httpErr.StatusCode, "upstream_rejected", httpErr.Error(), correlationID)
			return
		}
		if errors.Is(err, offsync.ErrClosed) || errors.Is(err, context.Canceled) {
			writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error(), correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), correlationID)
		return
	}
	status := http.StatusCreated
	if result.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}
