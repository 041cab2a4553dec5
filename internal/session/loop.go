package session

import (
	"log"
	"time"

	"github.com/birddigital/voicebridge/internal/analytics"
	"github.com/birddigital/voicebridge/internal/voiceerr"
	"github.com/birddigital/voicebridge/internal/wire"
)

// eventQueueSize is the capacity of the loop's single inbound event
// channel, §5 ("the session loop blocks only on its inbound event
// channel").
const eventQueueSize = 256

// AnalyticsTrigger is the narrow surface the loop needs from an analytics
// dispatcher; satisfied by *analytics.Dispatcher.
type AnalyticsTrigger interface {
	TriggerSentiment(latestSentence string, recent []analytics.Entry)
	TriggerConversationAnalysis(full []analytics.Entry)
	TriggerCoaching(recent []analytics.Entry, triggerSentence string)
}

// Loop is the single-writer session loop of §5: the only goroutine that
// mutates its Session, dispatching inbound events in the rule order of
// §4.4 and never blocking on outbound I/O (Send calls to transports are
// themselves non-blocking, per internal/transport.Adapter.Send).
type Loop struct {
	Session *Session

	customer   Transport
	ai         AIBinding
	broadcast  Broadcaster
	analytics  AnalyticsTrigger

	events chan Event

	onEnded func(*Session, EndReason)
}

// EndReason records why a session ended, for the summary record and the
// sessionEnded notification to the customer.
type EndReason string

const (
	EndCustomerDetached EndReason = "customerDetached"
	EndSupervisorEndCall EndReason = "endCall"
	EndAIUnavailable     EndReason = "aiUnavailable"
	EndCustomerCongested EndReason = "customerCongested"
)

// NewLoop constructs a loop for a freshly created session. customer and ai
// are already attached (a session is only created on first customer
// attach, §3 Lifecycle); analytics and broadcast are the process-wide
// collaborators.
func NewLoop(s *Session, customer Transport, ai AIBinding, broadcast Broadcaster, trigger AnalyticsTrigger, onEnded func(*Session, EndReason)) *Loop {
	return &Loop{
		Session:   s,
		customer:  customer,
		ai:        ai,
		broadcast: broadcast,
		analytics: trigger,
		events:    make(chan Event, eventQueueSize),
		onEnded:   onEnded,
	}
}

// Post enqueues an event for the loop to process. Producers (transport
// pumps, the AI binding's event forwarder, the analytics dispatcher) call
// this; it blocks only if the loop itself is behind, which back-pressures
// the producer rather than silently reordering events.
func (l *Loop) Post(ev Event) {
	l.events <- ev
}

// Run processes events until the session ends or the input channel is
// closed by the owning manager during shutdown.
func (l *Loop) Run() {
	for ev := range l.events {
		l.dispatch(ev)
		if l.Session.Status == StatusEnded {
			return
		}
	}
}

// dispatch implements the router of §4.4, evaluated in the exact rule
// order of the numbered list, plus the command handling of §4.7 and the
// analytics-result application of §4.5.
func (l *Loop) dispatch(ev Event) {
	switch ev.Kind {
	case EvCustomerAudio:
		l.routeCustomerAudio(ev.Audio)
	case EvCustomerText:
		l.routeCustomerText(ev.Text)
	case EvCustomerTranscript:
		l.routeCustomerTranscript(ev.Text)
	case EvCustomerDetached:
		l.endSession(EndCustomerDetached)
	case EvAIOutputSentence:
		l.routeAIOutputSentence(ev.Text)
	case EvAIInputFinalized:
		l.routeAIInputFinalized(ev.Text)
	case EvAIAudioChunk:
		l.routeAIAudioChunk(ev.Audio)
	case EvAITurnComplete:
		// no state change required beyond what the pipeline already did.
	case EvAISetupComplete:
		if l.Session.Status == StatusWaiting {
			l.Session.Status = StatusActive
		}
	case EvAIError:
		l.handleAIError(ev.Err)
	case EvSupervisorCommand:
		l.handleCommand(ev.Command)
	case EvAnalyticsResult:
		l.applyAnalyticsResult(ev.AnalyticsResult)
	default:
		log.Printf("[session] %s: unknown event kind %q", l.Session.ID, ev.Kind)
	}
}

// --- Router rule 1: customer audio frame ---
func (l *Loop) routeCustomerAudio(data []byte) {
	if l.Session.Status == StatusWaiting {
		l.Session.Status = StatusActive
	}
	if l.Session.Mode == ModeHuman && l.Session.Controller != nil {
		l.broadcast.Broadcast(l.Session.ID, wire.Outbound{Type: wire.TagCustomerAudio, Data: wire.EncodeAudio(data)})
		return
	}
	l.ai.SendAudio(data)
}

// --- Router rule 2: customer text frame (rare) ---
func (l *Loop) routeCustomerText(content string) {
	l.Session.append(RoleCustomer, content)
	if l.Session.Mode == ModeHuman && l.Session.Controller != nil {
		l.broadcast.Broadcast(l.Session.ID, wire.Outbound{Type: wire.TagCustomerMessage, Content: content})
		return
	}
	l.ai.SendText(content)
}

// --- Router rule 3: customer transcript message (diagnostics only) ---
func (l *Loop) routeCustomerTranscript(content string) {
	l.Session.append(RoleCustomer, content)
}

// --- Router rule 4: AI inbound outputTranscriptChunk (sentence-finalized) ---
func (l *Loop) routeAIOutputSentence(text string) {
	l.Session.append(RoleAI, text)
	l.broadcast.Broadcast(l.Session.ID, wire.Outbound{
		Type: wire.TagAIResponse,
		Data: wire.AIResponseData(text),
	})
	if err := l.customer.Send(wire.Outbound{Type: wire.TagAIResponse, Data: wire.AIResponseData(text)}); err != nil {
		l.handleCustomerSendErr(err)
	}
}

// --- Router rule 5: AI inbound inputTranscriptChunk (finalized) ---
func (l *Loop) routeAIInputFinalized(text string) {
	l.Session.append(RoleCustomer, text)
	l.broadcast.Broadcast(l.Session.ID, wire.Outbound{Type: wire.TagCustomerMessage, Content: text})
	if err := l.customer.Send(wire.Outbound{Type: wire.TagCustomerTranscription, Content: text}); err != nil {
		l.handleCustomerSendErr(err)
	}
	l.triggerAnalyticsForSentence(text)
}

// --- Router rule 6: AI inbound audioChunk ---
func (l *Loop) routeAIAudioChunk(data []byte) {
	if l.Session.Mode == ModeHuman {
		return
	}
	if err := l.customer.Send(wire.Outbound{Type: wire.TagAudio, Data: wire.EncodeAudio(data)}); err != nil {
		l.handleCustomerSendErr(err)
	}
}

// --- Router rule 7/8 are driven by handleCommand (SupervisorAudioCmd /
// SupervisorMessageCmd) since supervisor frames always arrive as commands
// dispatched through the manager's control surface.

func (l *Loop) handleCustomerSendErr(err error) {
	if err == voiceerr.ErrPeerSlow {
		l.endSession(EndCustomerCongested)
	}
}

func (l *Loop) handleAIError(err error) {
	log.Printf("[session] %s: ai binding error: %v", l.Session.ID, err)
	if l.Session.Mode == ModeHuman {
		l.broadcast.Broadcast(l.Session.ID, wire.Outbound{Type: wire.TagError, Message: "ai binding failed"})
		return
	}
	if l.Session.Controller == nil {
		l.endSession(EndAIUnavailable)
	}
}

// triggerAnalyticsForSentence fires the sentiment and conversation-analysis
// tasks for a just-finalized customer sentence, §4.5.
func (l *Loop) triggerAnalyticsForSentence(sentence string) {
	recent := recentEntries(l.Session.FullTranscript(), 5)
	l.analytics.TriggerSentiment(sentence, recent)
	l.analytics.TriggerConversationAnalysis(toAnalyticsEntries(l.Session.FullTranscript()))
}

func recentEntries(full []TranscriptEntry, n int) []analytics.Entry {
	if len(full) > n {
		full = full[len(full)-n:]
	}
	return toAnalyticsEntries(full)
}

func toAnalyticsEntries(entries []TranscriptEntry) []analytics.Entry {
	out := make([]analytics.Entry, len(entries))
	for i, e := range entries {
		out[i] = analytics.Entry{Role: string(e.Role), Content: e.Content}
	}
	return out
}

// applyAnalyticsResult applies a result posted back by the dispatcher,
// §4.5. Late results (after mode has switched, or even after the session
// neared its end) are still applied as long as the loop is still running.
func (l *Loop) applyAnalyticsResult(result analytics.Result) {
	if result.Err != nil {
		if result.Kind == analytics.KindAnalysis {
			l.applyIntentFallback()
		}
		return
	}
	switch result.Kind {
	case analytics.KindSentiment:
		l.applySentiment(*result.Sentiment)
	case analytics.KindAnalysis:
		l.broadcast.Broadcast(l.Session.ID, wire.Outbound{Type: wire.TagAnalyticsUpdate})
	case analytics.KindCoaching:
		l.broadcast.Broadcast(l.Session.ID, wire.Outbound{Type: wire.TagCoachingUpdate})
	}
}

func (l *Loop) applySentiment(s analytics.SentimentResult) {
	l.Session.frustration.observe(s.Score, s.Sentiment, s.Reason)
	l.broadcast.Broadcast(l.Session.ID, wire.Outbound{Type: wire.TagFrustrationUpdate})
	if s.ShouldEscalate {
		l.broadcast.Broadcast(l.Session.ID, wire.Outbound{Type: wire.TagEscalationAlert, Message: s.Reason})
	}
}

// applyIntentFallback runs the deterministic keyword classifier when the
// analysis collaborator's response was unparseable or the call failed,
// §4.5 and §7.
func (l *Loop) applyIntentFallback() {
	_ = analytics.ClassifyIntent(l.Session.TranscriptText())
	// The fallback intent is discarded: it is neither broadcast nor stored
	// on the session. The end-of-call summary runs the classifier again on
	// its own when the summary collaborator fails.
}

// endSession transitions the session to ENDED and invokes the manager's
// end-of-call hook, §4.7 "endCall" and §3 Lifecycle.
func (l *Loop) endSession(reason EndReason) {
	if l.Session.Status == StatusEnded {
		return
	}
	l.ai.Close(string(reason))
	_ = l.customer.Send(wire.Outbound{Type: wire.TagSessionEnded, Message: string(reason)})
	_ = l.customer.Close(string(reason))
	l.Session.Status = StatusEnded
	l.Session.EndedAt = time.Now()
	if l.onEnded != nil {
		l.onEnded(l.Session, reason)
	}
	// sessionUpdate goes out only after onEnded's persistence write returns,
	// so a supervisor never observes "ended" before the summary is durable,
	// scenario 6 of §8.
	l.broadcast.Broadcast(l.Session.ID, wire.Outbound{Type: wire.TagSessionUpdate, Mode: string(l.Session.Mode), Status: string(StatusEnded)})
	// l.events is intentionally left open: producers (pumpCustomer, pumpAI,
	// pumpAnalytics) stop posting to it shortly after their own upstream
	// channels close in response to the Close calls above, so leaving it
	// open avoids a send-on-closed-channel panic from a producer racing
	// this very transition.
}
