package session

import (
	"testing"
	"time"

	"github.com/birddigital/voicebridge/internal/analytics"
	"github.com/birddigital/voicebridge/internal/voiceerr"
	"github.com/birddigital/voicebridge/internal/wire"
)

type fakeTransport struct {
	sent      []wire.Outbound
	sendErr   error
	closed    bool
	closeArgs string
}

func (f *fakeTransport) Send(o wire.Outbound) error {
	f.sent = append(f.sent, o)
	return f.sendErr
}

func (f *fakeTransport) Close(reason string) error {
	f.closed = true
	f.closeArgs = reason
	return nil
}

type fakeAI struct {
	audio    [][]byte
	text     []string
	paused   bool
	resumed  bool
	closed   bool
	closeArg string
	state    AIState
}

func (f *fakeAI) SendAudio(frame []byte) { f.audio = append(f.audio, frame) }
func (f *fakeAI) SendText(text string)   { f.text = append(f.text, text) }
func (f *fakeAI) Pause()                 { f.paused = true }
func (f *fakeAI) Resume()                { f.resumed = true }
func (f *fakeAI) Close(reason string) error {
	f.closed = true
	f.closeArg = reason
	return nil
}
func (f *fakeAI) State() AIState {
	if f.state == "" {
		return AIReady
	}
	return f.state
}

type fakeBroadcaster struct {
	events []wire.Outbound
}

func (f *fakeBroadcaster) Broadcast(sessionID string, event wire.Outbound) {
	event.SessionID = sessionID
	f.events = append(f.events, event)
}

type fakeAnalytics struct {
	sentimentCalls int
	analysisCalls  int
	coachingCalls  int
}

func (f *fakeAnalytics) TriggerSentiment(latestSentence string, recent []analytics.Entry) {
	f.sentimentCalls++
}
func (f *fakeAnalytics) TriggerConversationAnalysis(full []analytics.Entry) {
	f.analysisCalls++
}
func (f *fakeAnalytics) TriggerCoaching(recent []analytics.Entry, triggerSentence string) {
	f.coachingCalls++
}

func newTestLoop() (*Loop, *fakeTransport, *fakeAI, *fakeBroadcaster, *fakeAnalytics) {
	cust := &fakeTransport{}
	ai := &fakeAI{}
	bc := &fakeBroadcaster{}
	an := &fakeAnalytics{}
	sess := New("sess-1")
	loop := NewLoop(sess, cust, ai, bc, an, nil)
	return loop, cust, ai, bc, an
}

func TestRouteCustomerAudioToAIWhenModeAI(t *testing.T) {
	t.Parallel()
	loop, _, ai, _, _ := newTestLoop()

	loop.dispatch(Event{Kind: EvCustomerAudio, Audio: []byte{1, 2, 3}})

	if loop.Session.Status != StatusActive {
		t.Errorf("status = %v, want ACTIVE after first customer audio", loop.Session.Status)
	}
	if len(ai.audio) != 1 {
		t.Fatalf("expected 1 audio frame sent to AI, got %d", len(ai.audio))
	}
}

func TestRouteCustomerAudioToSupervisorsWhenHuman(t *testing.T) {
	t.Parallel()
	loop, _, ai, bc, _ := newTestLoop()
	loop.Session.Mode = ModeHuman
	loop.Session.Controller = &Controller{SupervisorID: "sup-1"}

	loop.dispatch(Event{Kind: EvCustomerAudio, Audio: []byte{9, 9}})

	if len(ai.audio) != 0 {
		t.Errorf("expected no audio forwarded to AI while HUMAN, got %d frames", len(ai.audio))
	}
	if len(bc.events) != 1 || bc.events[0].Type != wire.TagCustomerAudio {
		t.Fatalf("expected one customerAudio broadcast, got %v", bc.events)
	}
}

func TestRouteAIAudioChunkDroppedWhenHuman(t *testing.T) {
	t.Parallel()
	loop, cust, _, _, _ := newTestLoop()
	loop.Session.Mode = ModeHuman

	loop.dispatch(Event{Kind: EvAIAudioChunk, Audio: []byte{1}})

	if len(cust.sent) != 0 {
		t.Errorf("expected AI audio dropped while HUMAN, got %d frames sent to customer", len(cust.sent))
	}
}

func TestRouteAIInputFinalizedAppendsAndTriggersAnalytics(t *testing.T) {
	t.Parallel()
	loop, cust, _, bc, an := newTestLoop()

	loop.dispatch(Event{Kind: EvAIInputFinalized, Text: "I want to cancel"})

	full := loop.Session.FullTranscript()
	if len(full) != 1 || full[0].Role != RoleCustomer || full[0].Content != "I want to cancel" {
		t.Fatalf("unexpected transcript: %+v", full)
	}
	if len(bc.events) != 1 || bc.events[0].Type != wire.TagCustomerMessage {
		t.Fatalf("expected one customerMessage broadcast, got %v", bc.events)
	}
	if len(cust.sent) != 1 || cust.sent[0].Type != wire.TagCustomerTranscription {
		t.Fatalf("expected customerTranscription sent to customer, got %v", cust.sent)
	}
	if an.sentimentCalls != 1 || an.analysisCalls != 1 {
		t.Errorf("expected sentiment+analysis triggered once each, got sentiment=%d analysis=%d", an.sentimentCalls, an.analysisCalls)
	}
}

func TestHandleCustomerSendErrEndsSessionOnPeerSlow(t *testing.T) {
	t.Parallel()
	loop, cust, ai, _, _ := newTestLoop()
	cust.sendErr = voiceerr.ErrPeerSlow

	loop.dispatch(Event{Kind: EvAIOutputSentence, Text: "hello"})

	if loop.Session.Status != StatusEnded {
		t.Fatalf("status = %v, want ENDED after peer-slow send error", loop.Session.Status)
	}
	if !ai.closed {
		t.Error("expected AI binding closed when session ends")
	}
}

func TestEndSessionIsIdempotent(t *testing.T) {
	t.Parallel()
	loop, cust, ai, _, _ := newTestLoop()

	loop.endSession(EndCustomerDetached)
	firstCloseCount := len(cust.sent)
	loop.endSession(EndCustomerDetached)

	if len(cust.sent) != firstCloseCount {
		t.Errorf("expected endSession to be a no-op once ENDED, got %d extra sends", len(cust.sent)-firstCloseCount)
	}
	if ai.closeArg != string(EndCustomerDetached) {
		t.Errorf("got AI close reason %q, want %q", ai.closeArg, EndCustomerDetached)
	}
}

func TestOnEndedCallbackInvokedOnce(t *testing.T) {
	t.Parallel()
	cust := &fakeTransport{}
	ai := &fakeAI{}
	bc := &fakeBroadcaster{}
	an := &fakeAnalytics{}
	sess := New("sess-2")

	calls := 0
	var gotReason EndReason
	loop := NewLoop(sess, cust, ai, bc, an, func(s *Session, reason EndReason) {
		calls++
		gotReason = reason
	})

	loop.dispatch(Event{Kind: EvCustomerDetached})
	loop.dispatch(Event{Kind: EvCustomerDetached})

	if calls != 1 {
		t.Fatalf("onEnded called %d times, want 1", calls)
	}
	if gotReason != EndCustomerDetached {
		t.Errorf("got reason %v, want %v", gotReason, EndCustomerDetached)
	}
}

func TestHandleTakeoverRequiresActiveStatus(t *testing.T) {
	t.Parallel()
	loop, _, _, _, _ := newTestLoop()
	reply := make(chan error, 1)

	loop.dispatch(Event{Kind: EvSupervisorCommand, Command: TakeoverCmd{SupervisorID: "sup-1", Reply: reply}})

	select {
	case err := <-reply:
		if err != voiceerr.ErrWrongMode {
			t.Errorf("got error %v, want ErrWrongMode for non-ACTIVE takeover", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}
	if loop.Session.Mode != ModeAI {
		t.Errorf("mode changed to %v despite rejected takeover", loop.Session.Mode)
	}
}

func TestTakeoverThenHandbackRoundTrip(t *testing.T) {
	t.Parallel()
	loop, _, ai, bc, _ := newTestLoop()
	loop.Session.Status = StatusActive

	takeoverReply := make(chan error, 1)
	loop.dispatch(Event{Kind: EvSupervisorCommand, Command: TakeoverCmd{SupervisorID: "sup-1", Reply: takeoverReply}})
	if err := <-takeoverReply; err != nil {
		t.Fatalf("unexpected takeover error: %v", err)
	}
	if loop.Session.Mode != ModeHuman {
		t.Fatalf("mode = %v, want HUMAN after takeover", loop.Session.Mode)
	}
	if !ai.paused {
		t.Error("expected AI paused on takeover")
	}

	handbackReply := make(chan error, 1)
	loop.dispatch(Event{Kind: EvSupervisorCommand, Command: HandbackCmd{SupervisorID: "sup-1", Reply: handbackReply}})
	if err := <-handbackReply; err != nil {
		t.Fatalf("unexpected handback error: %v", err)
	}
	if loop.Session.Mode != ModeAI {
		t.Fatalf("mode = %v, want AI after handback", loop.Session.Mode)
	}
	if !ai.resumed {
		t.Error("expected AI resumed on handback")
	}
	if loop.Session.Controller != nil {
		t.Error("expected Controller cleared after handback")
	}

	// two sessionUpdate broadcasts to supervisors: one for takeover, one for
	// handback (modeChange is the customer-facing frame sent separately).
	sessionUpdates := 0
	for _, ev := range bc.events {
		if ev.Type == wire.TagSessionUpdate {
			sessionUpdates++
		}
	}
	if sessionUpdates != 2 {
		t.Errorf("got %d sessionUpdate broadcasts, want 2", sessionUpdates)
	}
}

func TestHandbackRejectsWrongSupervisor(t *testing.T) {
	t.Parallel()
	loop, _, _, _, _ := newTestLoop()
	loop.Session.Status = StatusActive
	loop.Session.Mode = ModeHuman
	loop.Session.Controller = &Controller{SupervisorID: "sup-1"}

	reply := make(chan error, 1)
	loop.dispatch(Event{Kind: EvSupervisorCommand, Command: HandbackCmd{SupervisorID: "sup-2", Reply: reply}})

	err := <-reply
	if err != voiceerr.ErrWrongMode {
		t.Errorf("got error %v, want ErrWrongMode when non-controller hands back", err)
	}
	if loop.Session.Mode != ModeHuman {
		t.Error("mode should remain HUMAN after rejected handback")
	}
}

func TestInjectContextRequiresAIReady(t *testing.T) {
	t.Parallel()
	loop, _, ai, _, _ := newTestLoop()
	ai.state = AIConnecting

	reply := make(chan error, 1)
	loop.dispatch(Event{Kind: EvSupervisorCommand, Command: InjectContextCmd{Context: "order #123", Reply: reply}})

	err := <-reply
	if err != voiceerr.ErrAINotReady {
		t.Errorf("got error %v, want ErrAINotReady", err)
	}
	if len(ai.text) != 0 {
		t.Error("expected no text sent to AI when not READY")
	}
}

func TestInjectContextAppendsTranscriptAndTriggersAnalytics(t *testing.T) {
	t.Parallel()
	loop, _, ai, _, an := newTestLoop()
	ai.state = AIReady

	reply := make(chan error, 1)
	loop.dispatch(Event{Kind: EvSupervisorCommand, Command: InjectContextCmd{Context: "customer is on order #123", Reply: reply}})

	if err := <-reply; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	transcript := loop.Session.FullTranscript()
	if len(transcript) != 1 || transcript[0].Role != RoleCustomer || transcript[0].Content != "customer is on order #123" {
		t.Fatalf("got transcript %+v, want one customer-role entry with the injected context", transcript)
	}
	if an.sentimentCalls != 1 || an.analysisCalls != 1 {
		t.Errorf("got (sentiment=%d, analysis=%d) calls, want (1, 1)", an.sentimentCalls, an.analysisCalls)
	}
}

func TestEndCallEndsSession(t *testing.T) {
	t.Parallel()
	loop, _, _, _, _ := newTestLoop()

	reply := make(chan error, 1)
	loop.dispatch(Event{Kind: EvSupervisorCommand, Command: EndCallCmd{Reply: reply}})

	if err := <-reply; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loop.Session.Status != StatusEnded {
		t.Errorf("status = %v, want ENDED", loop.Session.Status)
	}
}
