// Package httpapi exposes the control surface of §6: the dashboard HTTP
// endpoints plus the two WebSocket upgrade endpoints (customer, supervisor),
// generalized from birddigital-signalwire-telephony's CallHandlers
// (one handler struct, one RegisterRoutes method, method-per-endpoint) but
// routed with gorilla/mux instead of a bare http.ServeMux so path variables
// (session ids) are declared, not parsed out of r.URL.Path by hand.
package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/birddigital/voicebridge/internal/manager"
	"github.com/birddigital/voicebridge/internal/session"
	"github.com/birddigital/voicebridge/internal/store"
	"github.com/birddigital/voicebridge/internal/supervisor"
	"github.com/birddigital/voicebridge/internal/transport"
	"github.com/birddigital/voicebridge/internal/voiceerr"
	"github.com/birddigital/voicebridge/internal/wire"
)

const supervisorOutboxSize = 256 // N_super

// Server wires the Manager and Registry to an HTTP mux, §6.
type Server struct {
	mgr      *manager.Manager
	registry *supervisor.Registry
	store    *store.Writer
	upgrader websocket.Upgrader

	startedAt time.Time
}

// New builds a Server. Call RegisterRoutes to attach it to a *mux.Router.
func New(mgr *manager.Manager, registry *supervisor.Registry, st *store.Writer) *Server {
	return &Server{
		mgr:      mgr,
		registry: registry,
		store:    st,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		startedAt: time.Now(),
	}
}

// RegisterRoutes attaches every endpoint from §6 to router.
func (s *Server) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws/customer/{id}", s.handleCustomerStream).Methods(http.MethodGet)
	router.HandleFunc("/ws/supervisor/{id}", s.handleSupervisorStream).Methods(http.MethodGet)

	router.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	router.HandleFunc("/summaries", s.handleListSummaries).Methods(http.MethodGet)
	router.HandleFunc("/summary/{id}", s.handleGetSummary).Methods(http.MethodGet)
	router.HandleFunc("/coaching", s.handleCoaching).Methods(http.MethodPost)
	router.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	router.HandleFunc("/summary", s.handleSummaryOnDemand).Methods(http.MethodPost)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	log.Printf("[httpapi] routes registered")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[httpapi] encode response failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func statusForErr(err error) int {
	switch err {
	case voiceerr.ErrSessionNotFound:
		return http.StatusNotFound
	case voiceerr.ErrWrongMode, voiceerr.ErrAINotReady, voiceerr.ErrCustomerAlreadyAttached:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// handleCustomerStream upgrades a customer connection and hands it to the
// manager, §4.1.
func (s *Server) handleCustomerStream(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[httpapi] customer upgrade failed: %v", err)
		return
	}
	if err := s.mgr.AttachCustomer(r.Context(), sessionID, conn); err != nil {
		log.Printf("[httpapi] session %s: customer attach failed: %v", sessionID, err)
		_ = conn.WriteJSON(wire.Outbound{Type: wire.TagError, Message: err.Error()})
		_ = conn.Close()
	}
}

// handleSupervisorStream upgrades a supervisor connection, attaches it to
// the process-wide fan-out registry, and pumps its inbound commands into
// the right session's loop via the manager, §4.6 and §4.7.
func (s *Server) handleSupervisorStream(w http.ResponseWriter, r *http.Request) {
	supervisorID := mux.Vars(r)["id"]
	if supervisorID == "" {
		supervisorID = uuid.New().String()
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[httpapi] supervisor upgrade failed: %v", err)
		return
	}

	t := transport.New(supervisorID, transport.RoleSupervisor, conn, supervisorOutboxSize)
	s.registry.Attach(supervisorID, t.Send)
	t.OnClose(func(string) {
		s.registry.Detach(supervisorID)
	})

	go s.pumpSupervisorCommands(supervisorID, t)
}

func (s *Server) pumpSupervisorCommands(supervisorID string, t *transport.Adapter) {
	for msg := range t.Recv() {
		if msg.Type == wire.TagGetSessions {
			_ = t.Send(s.mgr.SessionsListEvent())
			continue
		}
		cmd, replyTag, err := commandFromInbound(supervisorID, msg)
		if err != nil {
			_ = t.Send(wire.Outbound{Type: wire.TagError, Message: err.Error()})
			continue
		}
		if reply := commandReplyChan(cmd); reply != nil {
			go s.awaitReply(t, msg.SessionID, replyTag, reply)
		}
		if err := s.mgr.Dispatch(msg.SessionID, cmd); err != nil {
			_ = t.Send(wire.Outbound{Type: wire.TagError, SessionID: msg.SessionID, Message: err.Error()})
		}
	}
}

// awaitReply blocks for a command's asynchronous result and relays it back
// to the issuing supervisor as either an ack or an error frame.
func (s *Server) awaitReply(t *transport.Adapter, sessionID, ackTag string, reply chan error) {
	if err := <-reply; err != nil {
		_ = t.Send(wire.Outbound{Type: wire.TagError, SessionID: sessionID, Message: err.Error()})
		return
	}
	_ = t.Send(wire.Outbound{Type: wire.TagSessionUpdate, SessionID: sessionID, Message: ackTag})
}

func commandReplyChan(cmd session.Command) chan error {
	switch c := cmd.(type) {
	case session.TakeoverCmd:
		return c.Reply
	case session.HandbackCmd:
		return c.Reply
	case session.InjectContextCmd:
		return c.Reply
	case session.EndCallCmd:
		return c.Reply
	default:
		return nil
	}
}

// commandFromInbound maps a decoded supervisor frame to the session
// package's closed Command set, §4.7, allocating a buffered reply channel
// for verbs the spec requires an ack or error for.
func commandFromInbound(supervisorID string, msg wire.Inbound) (session.Command, string, error) {
	switch msg.Type {
	case wire.TagTakeover:
		return session.TakeoverCmd{SupervisorID: supervisorID, Reply: make(chan error, 1)}, "takeover", nil
	case wire.TagHandback:
		return session.HandbackCmd{SupervisorID: supervisorID, Context: msg.Context, Reply: make(chan error, 1)}, "handback", nil
	case wire.TagInjectContext:
		return session.InjectContextCmd{Context: msg.Context, Reply: make(chan error, 1)}, "contextInjected", nil
	case wire.TagSupervisorAudio:
		return session.SupervisorAudioCmd{SupervisorID: supervisorID, Data: msg.Data}, "", nil
	case wire.TagSupervisorMessage:
		return session.SupervisorMessageCmd{SupervisorID: supervisorID, Content: msg.Content}, "", nil
	case wire.TagEndCall:
		return session.EndCallCmd{Reply: make(chan error, 1)}, "sessionEnded", nil
	default:
		return nil, "", voiceerr.ErrProtocolViolation
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Snapshots())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, transcript, err := s.mgr.SnapshotWithTranscript(id)
	if err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":    snap,
		"transcript": transcript,
	})
}

func (s *Server) handleListSummaries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ListFilter{
		Sentiment:  q.Get("sentiment"),
		Intent:     q.Get("intent"),
		Resolution: q.Get("resolution"),
		SortBy:     q.Get("sortBy"),
		SortOrder:  q.Get("sortOrder"),
	}
	if limit := q.Get("limit"); limit != "" {
		_, _ = parseIntInto(&filter.Limit, limit)
	}
	if offset := q.Get("offset"); offset != "" {
		_, _ = parseIntInto(&filter.Offset, offset)
	}

	summaries, err := s.store.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summaries": summaries,
		"count":     len(summaries),
	})
}

func parseIntInto(dst *int, s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, voiceerr.ErrProtocolViolation
		}
		n = n*10 + int(r-'0')
	}
	*dst = n
	return n, nil
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	summary, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type coachingRequest struct {
	SessionID       string `json:"sessionId"`
	CustomerMessage string `json:"customerMessage"`
}

func (s *Server) handleCoaching(w http.ResponseWriter, r *http.Request) {
	var req coachingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.mgr.TriggerCoaching(req.SessionID, req.CustomerMessage); err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

type sessionIDRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req sessionIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.mgr.TriggerAnalysis(req.SessionID); err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *Server) handleSummaryOnDemand(w http.ResponseWriter, r *http.Request) {
	var req sessionIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	summary, err := s.mgr.GenerateSummaryNow(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, statusForErr(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"activeSessions": len(s.mgr.Snapshots()),
		"timestamp":      time.Now(),
	})
}
