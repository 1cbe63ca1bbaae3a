// Package httpapi exposes the daemon's local admin surface: provider status,
// the persisted placeholder inventory, and a live event stream.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mainbooth/boothdrive/internal/statestore"
)

// ProviderStatus is the read-only view of the running provider the API
// reports on.
type ProviderStatus interface {
	SyncRoot() string
	Connected() bool
	QueueDepth() int
}

type Server struct {
	log      zerolog.Logger
	token    string
	provider ProviderStatus
	store    statestore.Store
	hub      *EventHub
}

func NewServer(provider ProviderStatus, store statestore.Store, hub *EventHub, token string, log zerolog.Logger) *Server {
	return &Server{
		log:      log,
		token:    token,
		provider: provider,
		store:    store,
		hub:      hub,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if authErr := authorizeBearer(r.Header.Get("Authorization"), s.token); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}

	switch {
	case r.URL.Path == "/v1/status" && r.Method == http.MethodGet:
		s.handleStatus(w, r)
	case r.URL.Path == "/v1/placeholders" && r.Method == http.MethodGet:
		s.handlePlaceholders(w, r)
	case r.URL.Path == "/v1/events" && r.Method == http.MethodGet:
		s.handleEvents(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	placeholderCount := 0
	if s.store != nil {
		if records, err := s.store.List(); err == nil {
			placeholderCount = len(records)
		}
	}
	writeJSON(w, http.StatusOK, struct {
		SyncRoot         string `json:"syncRoot"`
		Connected        bool   `json:"connected"`
		QueueDepth       int    `json:"queueDepth"`
		PlaceholderCount int    `json:"placeholderCount"`
		GeneratedAt      string `json:"generatedAt"`
	}{
		SyncRoot:         s.provider.SyncRoot(),
		Connected:        s.provider.Connected(),
		QueueDepth:       s.provider.QueueDepth(),
		PlaceholderCount: placeholderCount,
		GeneratedAt:      time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handlePlaceholders(w http.ResponseWriter, _ *http.Request) {
	records := []statestore.PlaceholderRecord{}
	if s.store != nil {
		listed, err := s.store.List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		if listed != nil {
			records = listed
		}
	}
	writeJSON(w, http.StatusOK, struct {
		Placeholders []statestore.PlaceholderRecord `json:"placeholders"`
	}{Placeholders: records})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusNotFound, "not_found", "event stream not enabled")
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx := r.Context()
	events, cancel := s.hub.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "client gone")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "hub closed")
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"code":    code,
		"message": message,
	})
}
