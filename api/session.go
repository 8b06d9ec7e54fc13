package api

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/biocypher/biochatter/internal/log"
	"github.com/biocypher/biochatter/internal/session"
)

// maxInputBytes bounds a single message body. Manual data input can be
// large, but not unbounded.
const maxInputBytes = 1 << 20

// SessionHandler manages server-side sessions, one controller each.
type SessionHandler struct {
	factory ControllerFactory
	logger  log.Logger

	mu       sync.RWMutex
	sessions map[string]*managedSession
}

type managedSession struct {
	ID        string
	CreatedAt time.Time

	// mu serialises inputs; the state machine handles one at a time.
	mu   sync.Mutex
	ctrl *session.Controller
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(factory ControllerFactory, logger log.Logger) *SessionHandler {
	return &SessionHandler{
		factory:  factory,
		logger:   logger,
		sessions: make(map[string]*managedSession),
	}
}

// RegisterRoutes registers session routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.create)
	mux.HandleFunc("GET /api/sessions", h.list)
	mux.HandleFunc("GET /api/sessions/{id}", h.get)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.delete)
	mux.HandleFunc("POST /api/sessions/{id}/messages", h.message)
	mux.HandleFunc("GET /api/sessions/{id}/export", h.export)
}

// sessionInfo is the JSON shape of a session.
type sessionInfo struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	UserName  string    `json:"user_name,omitempty"`
	Context   string    `json:"context,omitempty"`
	Community bool      `json:"community"`
	CreatedAt time.Time `json:"created_at"`
}

// eventJSON is the JSON shape of one output event.
type eventJSON struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

func toInfo(ms *managedSession) sessionInfo {
	state := ms.ctrl.Session()
	return sessionInfo{
		ID:        ms.ID,
		State:     string(state.State),
		UserName:  state.UserName,
		Context:   state.Context,
		Community: state.CommunityKey,
		CreatedAt: ms.CreatedAt,
	}
}

func toEvents(events []session.Event) []eventJSON {
	out := make([]eventJSON, 0, len(events))
	for _, e := range events {
		out = append(out, eventJSON{Kind: string(e.Kind), Text: e.Text})
	}
	return out
}

func (h *SessionHandler) create(w http.ResponseWriter, _ *http.Request) {
	ctrl, err := h.factory()
	if err != nil {
		h.logger.Error("session creation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "session_failed", err.Error())
		return
	}

	ms := &managedSession{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		ctrl:      ctrl,
	}

	h.mu.Lock()
	h.sessions[ms.ID] = ms
	h.mu.Unlock()

	h.logger.Info("session created", "session_id", ms.ID)
	writeJSON(w, http.StatusCreated, struct {
		sessionInfo
		Greeting []eventJSON `json:"greeting"`
	}{
		sessionInfo: toInfo(ms),
		Greeting:    toEvents(ctrl.Greeting()),
	})
}

func (h *SessionHandler) list(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	infos := make([]sessionInfo, 0, len(h.sessions))
	for _, ms := range h.sessions {
		infos = append(infos, toInfo(ms))
	}
	h.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	writeJSON(w, http.StatusOK, infos)
}

func (h *SessionHandler) lookup(w http.ResponseWriter, r *http.Request) *managedSession {
	h.mu.RLock()
	ms := h.sessions[r.PathValue("id")]
	h.mu.RUnlock()
	if ms == nil {
		writeError(w, http.StatusNotFound, "not_found", "no such session")
	}
	return ms
}

func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request) {
	ms := h.lookup(w, r)
	if ms == nil {
		return
	}
	writeJSON(w, http.StatusOK, toInfo(ms))
}

func (h *SessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	h.mu.Lock()
	_, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such session")
		return
	}
	h.logger.Info("session deleted", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// messageRequest is the body of POST /api/sessions/{id}/messages.
type messageRequest struct {
	Input string `json:"input"`
}

func (h *SessionHandler) message(w http.ResponseWriter, r *http.Request) {
	ms := h.lookup(w, r)
	if ms == nil {
		return
	}

	var req messageRequest
	body := io.LimitReader(r.Body, maxInputBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "body must be JSON with an input field")
		return
	}
	if req.Input == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "input is required")
		return
	}

	ms.mu.Lock()
	events, err := ms.ctrl.Handle(r.Context(), req.Input)
	state := ms.ctrl.State()
	ms.mu.Unlock()

	if err != nil {
		h.logger.Error("session input failed", "session_id", ms.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "input_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, struct {
		State  string      `json:"state"`
		Events []eventJSON `json:"events"`
	}{
		State:  string(state),
		Events: toEvents(events),
	})
}

func (h *SessionHandler) export(w http.ResponseWriter, r *http.Request) {
	ms := h.lookup(w, r)
	if ms == nil {
		return
	}

	complete := r.URL.Query().Get("complete") == "true"

	ms.mu.Lock()
	data, err := ms.ctrl.ExportConversation(complete)
	ms.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
