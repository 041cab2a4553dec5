package session

import (
	"sync/atomic"
	"time"

	"github.com/birddigital/voicebridge/internal/wire"
)

// Transport is the narrow surface the session loop needs from a transport
// adapter; satisfied by *transport.Adapter. Kept narrow so the loop can be
// exercised with fakes in tests without real sockets.
type Transport interface {
	Send(wire.Outbound) error
	Close(reason string) error
}

// AIState mirrors the AI binding's state machine, §4.2.
type AIState string

const (
	AIConnecting AIState = "CONNECTING"
	AIReady      AIState = "READY"
	AIPaused     AIState = "PAUSED"
	AIClosed     AIState = "CLOSED"
	AIFailed     AIState = "FAILED"
)

// AIBinding is the narrow surface the session loop needs from the AI
// streaming client; satisfied by *ai.Binding.
type AIBinding interface {
	SendAudio(frame []byte)
	SendText(text string)
	Pause()
	Resume()
	Close(reason string) error
	State() AIState
}

// Broadcaster is the narrow surface the session loop needs from the
// supervisor fan-out registry; satisfied by *supervisor.Registry.
type Broadcaster interface {
	Broadcast(sessionID string, event wire.Outbound)
}

// Session is the mutable per-session record, §3. All exported mutators are
// unexported methods only the owning Loop calls — external readers use
// Snapshot/FullTranscript, which the loop serves from inside its own
// goroutine, so there is no data race despite the lack of a mutex here.
type Session struct {
	ID        string
	CreatedAt time.Time
	EndedAt   time.Time

	Status Status
	Mode   Mode

	CustomerConnected bool
	Controller        *Controller

	AIBindingState AIState

	transcript  []TranscriptEntry
	frustration Frustration

	SupervisorInterventions int

	seq atomic.Uint64

	lastMessage string
}

// New creates a session in WAITING status, AI mode, per the Lifecycle note
// in §3 ("Create on first customer attach with an unknown id").
func New(id string) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		Status:    StatusWaiting,
		Mode:      ModeAI,
	}
}

// nextSeq assigns the next monotonically increasing per-session sequence
// number, invariant 6 of §3.
func (s *Session) nextSeq() uint64 {
	return s.seq.Add(1)
}

// append adds a transcript entry, assigning it the next sequence number,
// §4.3 "append(entry)".
func (s *Session) append(role Role, content string) TranscriptEntry {
	entry := TranscriptEntry{
		Seq:       s.nextSeq(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
	s.transcript = append(s.transcript, entry)
	s.lastMessage = content
	return entry
}

// Snapshot builds the serializable view of §4.3, omitting transport handles
// and the AI binding entirely by construction.
func (s *Session) Snapshot() Snapshot {
	controllerID := ""
	if s.Controller != nil {
		controllerID = s.Controller.SupervisorID
	}
	return Snapshot{
		ID:                s.ID,
		CreatedAt:         s.CreatedAt,
		Status:            s.Status,
		Mode:              s.Mode,
		CustomerConnected: s.CustomerConnected,
		ControllerID:      controllerID,
		TranscriptLength:  len(s.transcript),
		LastMessage:       s.lastMessage,
		Frustration:       s.frustration,
	}
}

// FullTranscript returns a copy of the transcript so callers (analytics,
// summary) cannot mutate the live log, §4.3 "fullTranscript()".
func (s *Session) FullTranscript() []TranscriptEntry {
	return append([]TranscriptEntry(nil), s.transcript...)
}

// TranscriptText joins the transcript into plain text, used by the keyword
// fallback classifier and as the full text of the fallback summary.
func (s *Session) TranscriptText() string {
	var out string
	for i, e := range s.transcript {
		if i > 0 {
			out += " "
		}
		out += e.Content
	}
	return out
}
