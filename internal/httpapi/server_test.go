package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mainbooth/boothdrive/internal/statestore"
)

type fakeProvider struct {
	root      string
	connected bool
	depth     int
}

func (p *fakeProvider) SyncRoot() string { return p.root }
func (p *fakeProvider) Connected() bool  { return p.connected }
func (p *fakeProvider) QueueDepth() int  { return p.depth }

func newTestServer(t *testing.T) (*httptest.Server, statestore.Store, *EventHub) {
	t.Helper()
	store, err := statestore.NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("open store failed: %v", err)
	}
	hub := NewEventHub()
	provider := &fakeProvider{root: "/mnt/booth", connected: true, depth: 3}
	srv := httptest.NewServer(NewServer(provider, store, hub, "secret-token", zerolog.Nop()))
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
		_ = store.Close()
	})
	return srv, store, hub
}

func authedGet(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request failed: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t)
	if err := store.Put(statestore.PlaceholderRecord{Path: "a.txt"}); err != nil {
		t.Fatalf("seed store failed: %v", err)
	}

	resp := authedGet(t, srv.URL+"/v1/status", "secret-token")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload struct {
		SyncRoot         string `json:"syncRoot"`
		Connected        bool   `json:"connected"`
		QueueDepth       int    `json:"queueDepth"`
		PlaceholderCount int    `json:"placeholderCount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if payload.SyncRoot != "/mnt/booth" || !payload.Connected || payload.QueueDepth != 3 || payload.PlaceholderCount != 1 {
		t.Fatalf("unexpected status payload: %+v", payload)
	}
}

func TestAuthRejectsMissingAndWrongToken(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := authedGet(t, srv.URL+"/v1/status", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d, want 401", resp.StatusCode)
	}

	resp = authedGet(t, srv.URL+"/v1/status", "wrong")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d, want 401", resp.StatusCode)
	}
}

func TestPlaceholdersEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t)
	for _, path := range []string{"docs/a.txt", "docs/b.txt"} {
		if err := store.Put(statestore.PlaceholderRecord{Path: path}); err != nil {
			t.Fatalf("seed store failed: %v", err)
		}
	}

	resp := authedGet(t, srv.URL+"/v1/placeholders", "secret-token")
	defer resp.Body.Close()
	var payload struct {
		Placeholders []statestore.PlaceholderRecord `json:"placeholders"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(payload.Placeholders) != 2 {
		t.Fatalf("expected 2 placeholders, got %d", len(payload.Placeholders))
	}
}

func TestEventStreamDeliversNotifications(t *testing.T) {
	srv, _, hub := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer secret-token"}},
	})
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// The subscription is registered during the handshake; give the handler
	// a moment before publishing.
	time.Sleep(50 * time.Millisecond)
	hub.Notify("docs/report.pdf", "file_modified")

	var ev NotifyEvent
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read event failed: %v", err)
	}
	if ev.Path != "docs/report.pdf" || ev.Event != "file_modified" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestEventHubDropsWhenSubscriberLags(t *testing.T) {
	hub := NewEventHub()
	defer hub.Close()

	events, cancel := hub.Subscribe()
	defer cancel()

	// Overflow the subscriber buffer; Notify must never block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			hub.Notify("p.txt", "file_modified")
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("notify blocked on a lagging subscriber")
	}

	received := 0
	for {
		select {
		case <-events:
			received++
		default:
			if received == 0 || received > 64 {
				t.Fatalf("received %d events, want 1..64", received)
			}
			return
		}
	}
}

func TestSubscribeAfterCloseYieldsClosedChannel(t *testing.T) {
	hub := NewEventHub()
	hub.Close()
	events, cancel := hub.Subscribe()
	defer cancel()
	if _, ok := <-events; ok {
		t.Fatalf("expected closed channel from closed hub")
	}
}
