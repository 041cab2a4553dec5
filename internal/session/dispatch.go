package session

import (
	"time"

	"github.com/birddigital/voicebridge/internal/voiceerr"
	"github.com/birddigital/voicebridge/internal/wire"
)

// handleCommand implements the supervisor verbs of §4.7. Every verb is
// processed on the loop goroutine, so a takeover's mode flip is visible to
// the very next router decision before its acknowledgement is even written
// back to the caller — the ordering guarantee of §5.
func (l *Loop) handleCommand(cmd Command) {
	switch c := cmd.(type) {
	case TakeoverCmd:
		l.handleTakeover(c)
	case HandbackCmd:
		l.handleHandback(c)
	case InjectContextCmd:
		l.handleInjectContext(c)
	case SupervisorMessageCmd:
		l.handleSupervisorMessage(c)
	case SupervisorAudioCmd:
		l.handleSupervisorAudio(c)
	case EndCallCmd:
		l.handleEndCall(c)
	}
}

func reply(ch chan error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

// handleTakeover implements §4.7 "takeover": requires Status==ACTIVE, flips
// Mode to HUMAN, pauses the AI binding, records the Controller, then acks.
func (l *Loop) handleTakeover(c TakeoverCmd) {
	if l.Session.Status != StatusActive {
		reply(c.Reply, voiceerr.ErrWrongMode)
		return
	}
	l.Session.Mode = ModeHuman
	l.Session.Controller = &Controller{SupervisorID: c.SupervisorID, TakenOverAt: time.Now()}
	l.Session.SupervisorInterventions++
	l.ai.Pause()
	l.broadcast.Broadcast(l.Session.ID, wire.Outbound{Type: wire.TagSessionUpdate, Mode: string(ModeHuman)})
	_ = l.customer.Send(wire.Outbound{Type: wire.TagModeChange, Mode: string(ModeHuman)})
	reply(c.Reply, nil)
}

// handleHandback implements §4.7 "handback": requires Mode==HUMAN and the
// caller to be the current controller. Stops forwarding supervisor audio,
// resumes AI audio, and then, if a context was given, injects it as text
// so the AI continues the call where the human left off.
func (l *Loop) handleHandback(c HandbackCmd) {
	if l.Session.Mode != ModeHuman || l.Session.Controller == nil || l.Session.Controller.SupervisorID != c.SupervisorID {
		reply(c.Reply, voiceerr.ErrWrongMode)
		return
	}
	sendContext := c.Context != "" && l.ai.State() != AIClosed && l.ai.State() != AIFailed
	l.Session.Controller.HandbackAt = time.Now()
	l.Session.Controller = nil
	l.Session.Mode = ModeAI
	l.ai.Resume()
	if sendContext {
		l.ai.SendText(c.Context)
	}
	l.broadcast.Broadcast(l.Session.ID, wire.Outbound{Type: wire.TagSessionUpdate, Mode: string(ModeAI)})
	_ = l.customer.Send(wire.Outbound{Type: wire.TagModeChange, Mode: string(ModeAI)})
	reply(c.Reply, nil)
}

// handleInjectContext implements §4.7 "injectContext": requires Mode==AI and
// the binding to be READY; otherwise (HUMAN mode included) it replies
// ErrAINotReady and sends nothing.
// Equivalent to a synthetic customer transcript finalization: it appends a
// customer-role transcript entry and triggers analytics the same way
// routeAIInputFinalized does for a real one.
func (l *Loop) handleInjectContext(c InjectContextCmd) {
	if l.Session.Mode != ModeAI || l.ai.State() != AIReady {
		reply(c.Reply, voiceerr.ErrAINotReady)
		return
	}
	l.ai.SendText(c.Context)
	l.Session.append(RoleCustomer, c.Context)
	l.triggerAnalyticsForSentence(c.Context)
	reply(c.Reply, nil)
}

// handleSupervisorMessage implements §4.7 "supervisorMessage": valid only
// while HUMAN, appended to the transcript and forwarded to the customer as
// a text frame — router rule 8.
func (l *Loop) handleSupervisorMessage(c SupervisorMessageCmd) {
	if l.Session.Mode != ModeHuman {
		return
	}
	entry := l.Session.append(RoleSupervisor, c.Content)
	if err := l.customer.Send(wire.Outbound{Type: wire.TagSupervisorMessage, Content: c.Content, Seq: entry.Seq}); err != nil {
		l.handleCustomerSendErr(err)
	}
}

// handleSupervisorAudio implements §4.7 "supervisorAudio": valid only while
// HUMAN and only from the session's current controller — router rule 7.
func (l *Loop) handleSupervisorAudio(c SupervisorAudioCmd) {
	if l.Session.Mode != ModeHuman || l.Session.Controller == nil || l.Session.Controller.SupervisorID != c.SupervisorID {
		return
	}
	if err := l.customer.Send(wire.Outbound{Type: wire.TagAudio, Data: wire.EncodeAudio(c.Data)}); err != nil {
		l.handleCustomerSendErr(err)
	}
}

// handleEndCall implements §4.7 "endCall": any supervisor may end the
// session regardless of current mode.
func (l *Loop) handleEndCall(c EndCallCmd) {
	l.endSession(EndSupervisorEndCall)
	reply(c.Reply, nil)
}
