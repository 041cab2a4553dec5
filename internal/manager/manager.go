// Package manager owns the process-wide table of active sessions,
// generalized from birddigital-signalwire-telephony's AudioStreamBridge
// (map[string]*BridgeSession guarded by a coarse RWMutex, Create/Get/Close
// methods) into the control surface of §4.7: it creates a session and its
// Loop on first customer attach, enforces single-active-customer per
// session id, dispatches supervisor commands onto the right loop, and runs
// the end-of-call summary + persistence on session end.
package manager

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/birddigital/voicebridge/internal/ai"
	"github.com/birddigital/voicebridge/internal/analytics"
	"github.com/birddigital/voicebridge/internal/config"
	"github.com/birddigital/voicebridge/internal/session"
	"github.com/birddigital/voicebridge/internal/store"
	"github.com/birddigital/voicebridge/internal/supervisor"
	"github.com/birddigital/voicebridge/internal/transport"
	"github.com/birddigital/voicebridge/internal/voiceerr"
	"github.com/birddigital/voicebridge/internal/wire"
)

const custOutboxSize = 64 // N_cust

// entry is everything the manager keeps per active session.
type entry struct {
	sess       *session.Session
	loop       *session.Loop
	customer   *transport.Adapter
	aiBinding  *ai.Binding
	dispatcher *analytics.Dispatcher
	createdAt  time.Time
}

// Manager is the process-wide session table and control surface.
type Manager struct {
	cfg      *config.Config
	registry *supervisor.Registry
	store    *store.Writer
	collab   analytics.Collaborator
	cache    *analytics.ResultCache

	mu       sync.RWMutex
	sessions map[string]*entry
}

// New builds a Manager. registry, store and collab/cache are process-wide
// singletons constructed by cmd/server's wiring.
func New(cfg *config.Config, registry *supervisor.Registry, st *store.Writer, collab analytics.Collaborator, cache *analytics.ResultCache) *Manager {
	return &Manager{
		cfg:      cfg,
		registry: registry,
		store:    st,
		collab:   collab,
		cache:    cache,
		sessions: make(map[string]*entry),
	}
}

// AttachCustomer binds a newly upgraded customer WebSocket to the named
// session, creating the session (and its AI binding) on first attach, per
// §3's Lifecycle note. A second attach attempt while one customer is
// already connected is rejected, §4.1's single-active-customer invariant.
func (m *Manager) AttachCustomer(ctx context.Context, sessionID string, conn *websocket.Conn) error {
	m.mu.Lock()
	_, exists := m.sessions[sessionID]
	m.mu.Unlock()
	if exists {
		return voiceerr.ErrCustomerAlreadyAttached
	}
	return m.createSession(ctx, sessionID, conn)
}

func (m *Manager) createSession(ctx context.Context, sessionID string, conn *websocket.Conn) error {
	binding, err := ai.New(ctx, sessionID, m.cfg.ProviderURL, m.cfg.APIKey, m.cfg.VoiceModel,
		m.cfg.TranscriptionDebounce, m.cfg.EchoWindow)
	if err != nil {
		return fmt.Errorf("manager: ai dial failed: %w", err)
	}
	if err := binding.Initialize(ctx, m.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("manager: ai initialize failed: %w", err)
	}

	sess := session.New(sessionID)
	sess.CustomerConnected = true

	customer := transport.New(sessionID, transport.RoleCustomer, conn, custOutboxSize)

	results := make(chan analytics.Result, 16)
	dispatcher := analytics.NewDispatcher(sessionID, m.collab, m.cache, m.cfg.AnalyticsTimeout, results)

	e := &entry{sess: sess, customer: customer, aiBinding: binding, dispatcher: dispatcher, createdAt: time.Now()}

	loop := session.NewLoop(sess, customer, binding, m.registry, dispatcher, m.onEnded)
	e.loop = loop

	m.mu.Lock()
	m.sessions[sessionID] = e
	m.mu.Unlock()

	go loop.Run()
	go m.pumpCustomer(sessionID, customer, loop)
	go m.pumpAI(sessionID, binding, loop)
	go m.pumpAnalytics(results, loop)

	customer.OnClose(func(string) {
		loop.Post(session.Event{Kind: session.EvCustomerDetached})
	})

	_ = customer.Send(wire.Outbound{Type: wire.TagSessionInit, SessionID: sessionID, Mode: string(sess.Mode)})
	return nil
}

func (m *Manager) pumpCustomer(sessionID string, t *transport.Adapter, loop *session.Loop) {
	for msg := range t.Recv() {
		switch msg.Type {
		case wire.TagAudio:
			loop.Post(session.Event{Kind: session.EvCustomerAudio, Audio: msg.Data})
		case wire.TagText:
			loop.Post(session.Event{Kind: session.EvCustomerText, Text: msg.Content})
		case wire.TagTranscript:
			loop.Post(session.Event{Kind: session.EvCustomerTranscript, Text: msg.Content})
		default:
			log.Printf("[manager] session %s: unexpected customer frame %q", sessionID, msg.Type)
		}
	}
}

func (m *Manager) pumpAI(sessionID string, b *ai.Binding, loop *session.Loop) {
	for ev := range b.Events {
		switch ev.Type {
		case ai.EventOutputSentence:
			loop.Post(session.Event{Kind: session.EvAIOutputSentence, Text: ev.Text})
		case ai.EventInputFinalized:
			loop.Post(session.Event{Kind: session.EvAIInputFinalized, Text: ev.Text})
		case ai.EventAudioChunk:
			loop.Post(session.Event{Kind: session.EvAIAudioChunk, Audio: ev.Audio})
		case ai.EventTurnComplete:
			loop.Post(session.Event{Kind: session.EvAITurnComplete})
		case ai.EventSetupComplete:
			loop.Post(session.Event{Kind: session.EvAISetupComplete})
		case ai.EventError:
			loop.Post(session.Event{Kind: session.EvAIError, Err: ev.Err})
		}
	}
}

func (m *Manager) pumpAnalytics(results chan analytics.Result, loop *session.Loop) {
	for r := range results {
		loop.Post(session.Event{Kind: session.EvAnalyticsResult, AnalyticsResult: r})
	}
}

// Dispatch delivers a supervisor command to the named session's loop,
// §4.7. Callers that expect a reply (takeover, handback, injectContext,
// endCall) pass a buffered Reply channel on the command and read it
// themselves; Dispatch only posts the command and does not wait.
func (m *Manager) Dispatch(sessionID string, cmd session.Command) error {
	e, ok := m.lookup(sessionID)
	if !ok {
		return voiceerr.ErrSessionNotFound
	}
	e.loop.Post(session.Event{Kind: session.EvSupervisorCommand, Command: cmd})
	return nil
}

func (m *Manager) lookup(sessionID string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	return e, ok
}

// Snapshots returns every active session's snapshot, for getSessions and
// GET /sessions.
func (m *Manager) Snapshots() []session.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]session.Snapshot, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, e.sess.Snapshot())
	}
	return out
}

// SessionsListEvent builds the sessionsList event sent synchronously to a
// newly attached supervisor, §4.6, and returned on an explicit getSessions
// command, §4.7.
func (m *Manager) SessionsListEvent() wire.Outbound {
	return wire.Outbound{Type: wire.TagSessionsList, Data: m.Snapshots()}
}

// SnapshotWithTranscript returns one session's snapshot plus its ordered
// transcript, for GET /sessions/{id}.
func (m *Manager) SnapshotWithTranscript(sessionID string) (session.Snapshot, []session.TranscriptEntry, error) {
	e, ok := m.lookup(sessionID)
	if !ok {
		return session.Snapshot{}, nil, voiceerr.ErrSessionNotFound
	}
	return e.sess.Snapshot(), e.sess.FullTranscript(), nil
}

// TriggerCoaching invokes the coaching collaborator for an active session
// on demand, POST /coaching.
func (m *Manager) TriggerCoaching(sessionID, customerMessage string) error {
	e, ok := m.lookup(sessionID)
	if !ok {
		return voiceerr.ErrSessionNotFound
	}
	recent := e.sess.FullTranscript()
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	e.dispatcher.TriggerCoaching(toEntries(recent), customerMessage)
	return nil
}

// TriggerAnalysis invokes the analysis collaborator on demand, POST /analyze.
func (m *Manager) TriggerAnalysis(sessionID string) error {
	e, ok := m.lookup(sessionID)
	if !ok {
		return voiceerr.ErrSessionNotFound
	}
	e.dispatcher.TriggerConversationAnalysis(toEntries(e.sess.FullTranscript()))
	return nil
}

// GenerateSummaryNow computes and persists the summary for a still-active
// session on demand, POST /summary, without ending the call.
func (m *Manager) GenerateSummaryNow(ctx context.Context, sessionID string) (store.Summary, error) {
	e, ok := m.lookup(sessionID)
	if !ok {
		return store.Summary{}, voiceerr.ErrSessionNotFound
	}
	s := m.buildSummary(ctx, e.sess, "")
	if err := m.store.PutSummary(ctx, s); err != nil {
		log.Printf("[manager] session %s: on-demand summary persist failed: %v", sessionID, err)
	}
	return s, nil
}

func toEntries(full []session.TranscriptEntry) []analytics.Entry {
	out := make([]analytics.Entry, len(full))
	for i, e := range full {
		out[i] = analytics.Entry{Role: string(e.Role), Content: e.Content}
	}
	return out
}

// onEnded is the Loop's end-of-call hook, §4.7's "run end-of-call summary"
// step. It computes and persists the summary, then removes the session
// from the table.
func (m *Manager) onEnded(sess *session.Session, reason session.EndReason) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.AnalyticsTimeout)
	defer cancel()

	s := m.buildSummary(ctx, sess, string(reason))
	if err := m.store.PutSummary(ctx, s); err != nil {
		log.Printf("[manager] session %s: summary persist failed: %v", sess.ID, err)
	}

	m.mu.Lock()
	delete(m.sessions, sess.ID)
	m.mu.Unlock()
}

// buildSummary invokes the analysis collaborator for the end-of-call
// payload of §4.7, falling back to a neutral placeholder plus the
// deterministic keyword classifier on failure, §7.
func (m *Manager) buildSummary(ctx context.Context, sess *session.Session, reason string) store.Summary {
	full := toEntries(sess.FullTranscript())
	callSummary, err := m.collab.Summarize(ctx, full)
	if err != nil {
		log.Printf("[manager] session %s: summary collaborator failed, using fallback: %v", sess.ID, err)
		callSummary = analytics.CallSummary{
			Sentiment:        "neutral",
			Intent:           analytics.ClassifyIntent(sess.TranscriptText()),
			ResolutionStatus: "unknown",
			FullText:         sess.TranscriptText(),
			Insights:         "summary collaborator unavailable",
		}
	}

	snap := sess.Snapshot()
	transcript := sess.FullTranscript()
	lines := make([]store.TranscriptLine, len(transcript))
	var first, last *time.Time
	for i, t := range transcript {
		lines[i] = store.TranscriptLine{Seq: t.Seq, Role: string(t.Role), Content: t.Content, Timestamp: t.Timestamp}
		if i == 0 {
			ts := t.Timestamp
			first = &ts
		}
		ts := t.Timestamp
		last = &ts
	}

	supervisorID := ""
	var takeoverDuration time.Duration
	if sess.Controller != nil {
		supervisorID = sess.Controller.SupervisorID
		if !sess.Controller.HandbackAt.IsZero() {
			takeoverDuration = sess.Controller.HandbackAt.Sub(sess.Controller.TakenOverAt)
		}
	}

	endedAt := sess.EndedAt
	if endedAt.IsZero() {
		endedAt = time.Now()
	}

	return store.Summary{
		SessionID:                   sess.ID,
		CreatedAt:                   sess.CreatedAt,
		EndedAt:                     endedAt,
		DurationMs:                  endedAt.Sub(sess.CreatedAt).Milliseconds(),
		Sentiment:                   callSummary.Sentiment,
		Intent:                      callSummary.Intent,
		ResolutionStatus:            callSummary.ResolutionStatus,
		KeyTopics:                   callSummary.KeyTopics,
		ActionItems:                 callSummary.ActionItems,
		FrustrationAvg:              snap.Frustration.Avg(),
		FrustrationMax:              snap.Frustration.Max,
		FrustrationTrend:            callSummary.FrustrationTrend,
		SupervisorInterventions:     sess.SupervisorInterventions,
		SupervisorID:                supervisorID,
		SupervisorTakeoverDurationMs: takeoverDuration.Milliseconds(),
		FullSummary:                  callSummary.FullText,
		Insights:                     callSummary.Insights,
		Transcript:                   lines,
		FirstMessageAt:               first,
		LastMessageAt:                last,
	}
}
