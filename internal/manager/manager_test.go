package manager

import (
	"context"
	"testing"
	"time"

	"github.com/birddigital/voicebridge/internal/analytics"
	"github.com/birddigital/voicebridge/internal/config"
	"github.com/birddigital/voicebridge/internal/session"
	"github.com/birddigital/voicebridge/internal/store"
	"github.com/birddigital/voicebridge/internal/voiceerr"
	"github.com/birddigital/voicebridge/internal/wire"
)

// fakeTransport, fakeAIBinding, fakeBroadcaster and fakeAnalyticsTrigger give
// a session.Loop enough of a live shape to run in-process, without a real
// socket, AI provider dial, or supervisor fan-out.
type fakeTransport struct {
	sent   []wire.Outbound
	closed bool
}

func (f *fakeTransport) Send(o wire.Outbound) error { f.sent = append(f.sent, o); return nil }
func (f *fakeTransport) Close(string) error         { f.closed = true; return nil }

type fakeAIBinding struct{ closed bool }

func (f *fakeAIBinding) SendAudio([]byte)        {}
func (f *fakeAIBinding) SendText(string)         {}
func (f *fakeAIBinding) Pause()                  {}
func (f *fakeAIBinding) Resume()                 {}
func (f *fakeAIBinding) Close(string) error       { f.closed = true; return nil }
func (f *fakeAIBinding) State() session.AIState   { return session.AIReady }

type fakeBroadcaster struct{ events []wire.Outbound }

func (f *fakeBroadcaster) Broadcast(sessionID string, ev wire.Outbound) {
	f.events = append(f.events, ev)
}

type fakeAnalyticsTrigger struct{}

func (fakeAnalyticsTrigger) TriggerSentiment(string, []analytics.Entry)            {}
func (fakeAnalyticsTrigger) TriggerConversationAnalysis([]analytics.Entry)         {}
func (fakeAnalyticsTrigger) TriggerCoaching([]analytics.Entry, string)             {}

// fakeCollaborator implements analytics.Collaborator with canned responses,
// so buildSummary can be exercised without a live Anthropic client.
type fakeCollaborator struct {
	summary    analytics.CallSummary
	summaryErr error
}

func (f *fakeCollaborator) Sentiment(context.Context, string, []analytics.Entry) (analytics.SentimentResult, error) {
	return analytics.SentimentResult{}, nil
}
func (f *fakeCollaborator) AnalyzeConversation(context.Context, []analytics.Entry) (analytics.AnalysisResult, error) {
	return analytics.AnalysisResult{}, nil
}
func (f *fakeCollaborator) GetSupervisorCoaching(context.Context, []analytics.Entry, string) (analytics.CoachingResult, error) {
	return analytics.CoachingResult{}, nil
}
func (f *fakeCollaborator) GetCoachingSuggestions(context.Context, []analytics.Entry, string) (analytics.CoachingResult, error) {
	return analytics.CoachingResult{}, nil
}
func (f *fakeCollaborator) Summarize(context.Context, []analytics.Entry) (analytics.CallSummary, error) {
	return f.summary, f.summaryErr
}

func newTestManager() *Manager {
	return &Manager{
		cfg:      &config.Config{AnalyticsTimeout: time.Second},
		sessions: make(map[string]*entry),
	}
}

func TestAttachCustomerRejectsSecondAttach(t *testing.T) {
	t.Parallel()

	m := newTestManager()
	m.sessions["sess-1"] = &entry{sess: session.New("sess-1")}

	err := m.AttachCustomer(context.Background(), "sess-1", nil)
	if err != voiceerr.ErrCustomerAlreadyAttached {
		t.Fatalf("got %v, want ErrCustomerAlreadyAttached", err)
	}
}

func TestDispatchReturnsSessionNotFoundForUnknownSession(t *testing.T) {
	t.Parallel()

	m := newTestManager()
	if err := m.Dispatch("missing", session.EndCallCmd{}); err != voiceerr.ErrSessionNotFound {
		t.Fatalf("got %v, want ErrSessionNotFound", err)
	}
}

func TestTriggerCoachingReturnsSessionNotFound(t *testing.T) {
	t.Parallel()

	m := newTestManager()
	if err := m.TriggerCoaching("missing", "hello"); err != voiceerr.ErrSessionNotFound {
		t.Fatalf("got %v, want ErrSessionNotFound", err)
	}
}

func TestTriggerAnalysisReturnsSessionNotFound(t *testing.T) {
	t.Parallel()

	m := newTestManager()
	if err := m.TriggerAnalysis("missing"); err != voiceerr.ErrSessionNotFound {
		t.Fatalf("got %v, want ErrSessionNotFound", err)
	}
}

func TestSnapshotWithTranscriptReturnsSessionNotFound(t *testing.T) {
	t.Parallel()

	m := newTestManager()
	if _, _, err := m.SnapshotWithTranscript("missing"); err != voiceerr.ErrSessionNotFound {
		t.Fatalf("got %v, want ErrSessionNotFound", err)
	}
}

func TestSnapshotsReturnsAllActiveSessions(t *testing.T) {
	t.Parallel()

	m := newTestManager()
	m.sessions["a"] = &entry{sess: session.New("a")}
	m.sessions["b"] = &entry{sess: session.New("b")}

	got := m.Snapshots()
	if len(got) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(got))
	}
}

func TestSessionsListEventWrapsSnapshots(t *testing.T) {
	t.Parallel()

	m := newTestManager()
	m.sessions["a"] = &entry{sess: session.New("a")}

	ev := m.SessionsListEvent()
	if ev.Type != wire.TagSessionsList {
		t.Fatalf("got type %q, want %q", ev.Type, wire.TagSessionsList)
	}
	snaps, ok := ev.Data.([]session.Snapshot)
	if !ok || len(snaps) != 1 {
		t.Fatalf("got data %v, want one session.Snapshot", ev.Data)
	}
}

func TestDispatchPostsEndCallCommandToTheRightLoop(t *testing.T) {
	t.Parallel()

	m := newTestManager()

	sess := session.New("sess-1")
	customer := &fakeTransport{}
	ai := &fakeAIBinding{}
	broadcast := &fakeBroadcaster{}
	loop := session.NewLoop(sess, customer, ai, broadcast, fakeAnalyticsTrigger{}, nil)
	go loop.Run()

	m.sessions["sess-1"] = &entry{sess: sess, loop: loop}

	reply := make(chan error, 1)
	if err := m.Dispatch("sess-1", session.EndCallCmd{Reply: reply}); err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}

	select {
	case err := <-reply:
		if err != nil {
			t.Errorf("endCall reply carried error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for endCall reply")
	}
	if !ai.closed || !customer.closed {
		t.Error("expected endCall to close both the ai binding and the customer transport")
	}
}

func TestBuildSummaryUsesCollaboratorResult(t *testing.T) {
	t.Parallel()

	m := newTestManager()
	m.collab = &fakeCollaborator{summary: analytics.CallSummary{
		Sentiment:        "positive",
		Intent:           "support",
		ResolutionStatus: "resolved",
	}}

	sess := session.New("sess-1")
	sess.EndedAt = time.Now()

	s := m.buildSummary(context.Background(), sess, "endCall")
	if s.Sentiment != "positive" || s.Intent != "support" || s.ResolutionStatus != "resolved" {
		t.Errorf("got %+v, want collaborator's summary fields", s)
	}
	if s.SessionID != "sess-1" {
		t.Errorf("got session id %q, want sess-1", s.SessionID)
	}
}

func TestBuildSummaryFallsBackOnCollaboratorError(t *testing.T) {
	t.Parallel()

	m := newTestManager()
	m.collab = &fakeCollaborator{summaryErr: context.DeadlineExceeded}

	sess := session.New("sess-2")
	sess.EndedAt = time.Now()

	s := m.buildSummary(context.Background(), sess, "endCall")
	if s.Sentiment != "neutral" {
		t.Errorf("got sentiment %q, want fallback neutral", s.Sentiment)
	}
	if s.ResolutionStatus != "unknown" {
		t.Errorf("got resolution status %q, want fallback unknown", s.ResolutionStatus)
	}
	if s.Intent != analytics.ClassifyIntent(sess.TranscriptText()) {
		t.Errorf("got intent %q, want keyword classifier fallback", s.Intent)
	}
}

func TestGenerateSummaryNowReturnsSessionNotFound(t *testing.T) {
	t.Parallel()

	m := newTestManager()
	if _, err := m.GenerateSummaryNow(context.Background(), "missing"); err != voiceerr.ErrSessionNotFound {
		t.Fatalf("got %v, want ErrSessionNotFound", err)
	}
}

func TestGenerateSummaryNowReturnsSummaryDespitePersistFailure(t *testing.T) {
	t.Parallel()

	m := newTestManager()
	m.collab = &fakeCollaborator{summary: analytics.CallSummary{Sentiment: "neutral"}}
	m.store = &store.Writer{} // zero-value writer: PutSummary can never succeed

	sess := session.New("sess-3")
	m.sessions["sess-3"] = &entry{sess: sess}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	s, err := m.GenerateSummaryNow(ctx, "sess-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.SessionID != "sess-3" {
		t.Errorf("got session id %q, want sess-3", s.SessionID)
	}
}

func TestOnEndedRemovesSessionFromTable(t *testing.T) {
	t.Parallel()

	m := newTestManager()
	m.collab = &fakeCollaborator{summary: analytics.CallSummary{Sentiment: "neutral"}}
	m.store = &store.Writer{}

	sess := session.New("sess-4")
	sess.EndedAt = time.Now()
	m.sessions["sess-4"] = &entry{sess: sess}

	// onEnded derives its own context from cfg.AnalyticsTimeout; a short
	// timeout here keeps the zero-value store's doomed PutSummary call from
	// blocking the test for long before onEnded proceeds to the table delete.
	m.cfg.AnalyticsTimeout = 20 * time.Millisecond
	m.onEnded(sess, session.EndSupervisorEndCall)

	if _, ok := m.sessions["sess-4"]; ok {
		t.Error("expected session to be removed from the table after onEnded")
	}
}
