package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/coachscope/offsync/internal/offsync"
)

func newTestServer(t *testing.T, cfg ServerConfig) (*httptest.Server, *offsync.Service) {
	t.Helper()
	service := offsync.NewService(offsync.Options{
		DebounceDelay: time.Hour,
		StartOffline:  true,
	})
	t.Cleanup(service.Close)
	server := httptest.NewServer(NewServerWithConfig(service, cfg))
	t.Cleanup(server.Close)
	return server, service
}

func getJSON(t *testing.T, url string, dst any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			t.Fatalf("decode %s response: %v", url, err)
		}
	}
	return resp
}

func doRequest(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, ServerConfig{})
	var body map[string]string
	resp := getJSON(t, server.URL+"/health", &body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected health response: %d %v", resp.StatusCode, body)
	}
}

func TestStatusEndpointReflectsService(t *testing.T) {
	server, service := newTestServer(t, ServerConfig{})
	service.Enqueue(offsync.MutationCreateSessionPart, json.RawMessage(`{"name":"x"}`), "entity-1")

	var body struct {
		Status       string `json:"status"`
		PendingCount int    `json:"pendingCount"`
		Online       bool   `json:"online"`
	}
	resp := getJSON(t, server.URL+"/v1/sync/status", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code %d", resp.StatusCode)
	}
	if body.Status != "offline" || body.PendingCount != 1 || body.Online {
		t.Fatalf("unexpected status payload: %+v", body)
	}
}

func TestQueueListAndRemove(t *testing.T) {
	server, service := newTestServer(t, ServerConfig{})
	item, _ := service.Enqueue(offsync.MutationCreateSessionPart, json.RawMessage(`{"name":"x"}`), "entity-1")

	var body struct {
		Items []offsync.QueueItem `json:"items"`
	}
	getJSON(t, server.URL+"/v1/sync/queue", &body)
	if len(body.Items) != 1 || body.Items[0].ID != item.ID {
		t.Fatalf("unexpected queue listing: %+v", body.Items)
	}

	resp := doRequest(t, http.MethodDelete, server.URL+"/v1/sync/queue/"+item.ID, "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove returned %d", resp.StatusCode)
	}
	if got := len(service.List()); got != 0 {
		t.Fatalf("expected empty queue after remove, got %d", got)
	}
}

func TestQueueAddEndpoint(t *testing.T) {
	server, service := newTestServer(t, ServerConfig{})

	resp := doRequest(t, http.MethodPost, server.URL+"/v1/sync/queue", "", `{"type":"create_session_part","entityId":"entity-1","payload":{"name":"x"}}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var item offsync.QueueItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		t.Fatalf("decode enqueue response: %v", err)
	}
	if item.ID == "" || item.Status != offsync.ItemPending {
		t.Fatalf("unexpected queued item: %+v", item)
	}
	if got := len(service.List()); got != 1 {
		t.Fatalf("expected one queued item, got %d", got)
	}

	resp = doRequest(t, http.MethodPost, server.URL+"/v1/sync/queue", "", `{"type":"bogus","entityId":"entity-1"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d", resp.StatusCode)
	}
}

func TestQueueClearEndpoint(t *testing.T) {
	server, service := newTestServer(t, ServerConfig{})
	service.Enqueue(offsync.MutationCreateSessionPart, json.RawMessage(`{"name":"x"}`), "entity-1")

	resp := doRequest(t, http.MethodDelete, server.URL+"/v1/sync/queue", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear returned %d", resp.StatusCode)
	}
	if got := len(service.List()); got != 0 {
		t.Fatalf("expected empty queue after clear, got %d", got)
	}
}

func TestDrainEndpointReportsOffline(t *testing.T) {
	server, _ := newTestServer(t, ServerConfig{})

	resp := doRequest(t, http.MethodPost, server.URL+"/v1/sync/drain", "", "")
	var result offsync.DrainResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode drain result: %v", err)
	}
	if result.Success || result.Reason != offsync.ReasonOffline {
		t.Fatalf("expected offline drain result, got %+v", result)
	}
}

func TestTriggerEndpointReturnsAccepted(t *testing.T) {
	server, _ := newTestServer(t, ServerConfig{})
	resp := doRequest(t, http.MethodPost, server.URL+"/v1/sync/trigger", "", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("trigger returned %d", resp.StatusCode)
	}
}

func TestSessionPartEndpointQueuesWhileOffline(t *testing.T) {
	server, service := newTestServer(t, ServerConfig{})

	resp := doRequest(t, http.MethodPost, server.URL+"/v1/session-parts", "", `{"name":"Warmup","is_default":true,"entityId":"entity-1"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 for queued write, got %d", resp.StatusCode)
	}
	var result offsync.SubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode submit result: %v", err)
	}
	if !result.Queued || result.Item == nil {
		t.Fatalf("expected queued result, got %+v", result)
	}
	if got := len(service.List()); got != 1 {
		t.Fatalf("expected one queued item, got %d", got)
	}
}

func TestSessionPartEndpointValidatesBody(t *testing.T) {
	server, _ := newTestServer(t, ServerConfig{})

	resp := doRequest(t, http.MethodPost, server.URL+"/v1/session-parts", "", `{"name":"","entityId":""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", resp.StatusCode)
	}
	resp = doRequest(t, http.MethodPost, server.URL+"/v1/session-parts", "", `{broken`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid json, got %d", resp.StatusCode)
	}
}

func TestMutatingRoutesRequireTokenWhenConfigured(t *testing.T) {
	server, _ := newTestServer(t, ServerConfig{AuthToken: "secret"})

	resp := doRequest(t, http.MethodPost, server.URL+"/v1/sync/trigger", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	resp = doRequest(t, http.MethodPost, server.URL+"/v1/sync/trigger", "wrong", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", resp.StatusCode)
	}
	resp = doRequest(t, http.MethodPost, server.URL+"/v1/sync/trigger", "secret", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 with valid token, got %d", resp.StatusCode)
	}

	// Read routes stay open.
	read := getJSON(t, server.URL+"/v1/sync/status", nil)
	if read.StatusCode != http.StatusOK {
		t.Fatalf("expected open read route, got %d", read.StatusCode)
	}
}

func TestRateLimitOnMutatingRoutes(t *testing.T) {
	server, _ := newTestServer(t, ServerConfig{RateLimitMax: 2, RateLimitWindow: time.Minute})

	for i := 0; i < 2; i++ {
		resp := doRequest(t, http.MethodPost, server.URL+"/v1/sync/trigger", "", "")
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("request %d: expected 202, got %d", i, resp.StatusCode)
		}
	}
	resp := doRequest(t, http.MethodPost, server.URL+"/v1/sync/trigger", "", "")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header on 429")
	}
}

func TestUnknownRouteReturnsErrorEnvelope(t *testing.T) {
	server, _ := newTestServer(t, ServerConfig{})
	var body map[string]any
	resp := getJSON(t, server.URL+"/v1/nope", &body)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if body["code"] != "not_found" {
		t.Fatalf("expected error envelope, got %v", body)
	}
}

func TestEventsStreamSendsSnapshotAndUpdates(t *testing.T) {
	server, service := newTestServer(t, ServerConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/sync/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var snapshot struct {
		Status       string `json:"status"`
		PendingCount int    `json:"pendingCount"`
	}
	if err := wsjson.Read(ctx, conn, &snapshot); err != nil {
		t.Fatalf("failed to read initial snapshot: %v", err)
	}
	if snapshot.Status != "offline" {
		t.Fatalf("expected initial offline snapshot, got %+v", snapshot)
	}

	service.SetOnline(true)

	var update struct {
		Status string `json:"status"`
	}
	if err := wsjson.Read(ctx, conn, &update); err != nil {
		t.Fatalf("failed to read update: %v", err)
	}
	if update.Status != "idle" {
		t.Fatalf("expected idle update after coming online, got %+v", update)
	}
}

func TestDashboardServesHTML(t *testing.T) {
	server, _ := newTestServer(t, ServerConfig{})
	resp, err := http.Get(server.URL + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/html") {
		t.Fatalf("expected html content type, got %q", got)
	}
}
