// Package supervisor implements the process-wide fan-out registry of §4.6:
// attach/detach guarded by a coarse lock, drop-on-slow broadcast that never
// blocks a session loop, and a per-supervisor drop counter. Grounded on the
// "serialize once, never block" discipline of the pack's
// adred-codev-ws_poc broadcast pattern, but without that file's 3-strikes
// slow-client-disconnect escalation — the spec calls only for a drop
// counter, never disconnection.
package supervisor

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"

	"github.com/birddigital/voicebridge/internal/wire"
)

// nonAudioOutboxSize is the capacity of each supervisor's non-audio event
// ring (drop-oldest on full), §5. audioOutboxSize is not referenced: audio
// events bypass the ring and go straight to the supervisor's Send, whose
// transport outbox fails (and the event is dropped) when full.
const (
	audioOutboxSize    = 256
	nonAudioOutboxSize = 256
)

// Supervisor is one attached supervisor transport. Non-audio events are
// staged on a small owned ring (drop-oldest on full) and drained by a
// dedicated goroutine into the transport's Send; audio events go straight
// to Send with drop-newest semantics, since the transport adapter's own
// outbox already implements "enqueue or fail" non-blocking send.
type Supervisor struct {
	ID   string
	Send func(wire.Outbound) error // bound to the transport.Adapter's Send

	nonAudioQueue chan wire.Outbound
	done          chan struct{}
	dropped       atomic.Int64
}

// DroppedCount returns how many events have been dropped for this
// supervisor since attach, for the boundary behavior in §8
// ("the slow one's dropped-event counter increments").
func (s *Supervisor) DroppedCount() int64 {
	return s.dropped.Load()
}

func (s *Supervisor) drainNonAudio() {
	for {
		select {
		case event := <-s.nonAudioQueue:
			if err := s.Send(event); err != nil {
				s.dropped.Add(1)
			}
		case <-s.done:
			return
		}
	}
}

// enqueueNonAudio applies the drop-oldest policy: on a full queue, evict the
// head before pushing the new event, §5.
func (s *Supervisor) enqueueNonAudio(event wire.Outbound) {
	select {
	case s.nonAudioQueue <- event:
		return
	default:
	}
	select {
	case <-s.nonAudioQueue:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.nonAudioQueue <- event:
	default:
		s.dropped.Add(1)
	}
}

// Registry is the single process-wide instance supervisor attachments
// register with; session loops hold a Broadcaster view of it.
type Registry struct {
	mu          sync.RWMutex
	supervisors map[string]*Supervisor

	snapshotProvider func() []wire.Outbound

	seqMu sync.Mutex
	seqs  map[string]*atomic.Uint64
}

// New builds an empty registry. snapshotProvider is called on Attach to
// build the synchronous sessionsList snapshot §4.6 requires; it is supplied
// by internal/manager.Manager to avoid a supervisor -> manager import
// cycle.
func New(snapshotProvider func() []wire.Outbound) *Registry {
	return &Registry{
		supervisors:      make(map[string]*Supervisor),
		snapshotProvider: snapshotProvider,
		seqs:             make(map[string]*atomic.Uint64),
	}
}

// nextSeq assigns the next monotonically increasing broadcast sequence
// number for a session, invariant 6 of §3: every supervisor event for a
// session carries a seq greater than the last one that session broadcast.
func (r *Registry) nextSeq(sessionID string) uint64 {
	r.seqMu.Lock()
	counter, ok := r.seqs[sessionID]
	if !ok {
		counter = &atomic.Uint64{}
		r.seqs[sessionID] = counter
	}
	r.seqMu.Unlock()
	return counter.Add(1)
}

// Attach registers a supervisor transport and synchronously sends it a
// sessionsList snapshot of all current sessions, §4.6.
func (r *Registry) Attach(id string, send func(wire.Outbound) error) *Supervisor {
	sup := &Supervisor{
		ID:            id,
		Send:          send,
		nonAudioQueue: make(chan wire.Outbound, nonAudioOutboxSize),
		done:          make(chan struct{}),
	}
	go sup.drainNonAudio()

	r.mu.Lock()
	r.supervisors[id] = sup
	r.mu.Unlock()

	if r.snapshotProvider != nil {
		for _, ev := range r.snapshotProvider() {
			_ = send(ev)
		}
	}
	return sup
}

// Detach removes a supervisor transport from the registry and stops its
// drain goroutine.
func (r *Registry) Detach(id string) {
	r.mu.Lock()
	sup, ok := r.supervisors[id]
	delete(r.supervisors, id)
	r.mu.Unlock()
	if ok {
		close(sup.done)
	}
}

// isAudioEvent reports whether an outbound event should use the
// drop-newest audio policy instead of the drop-oldest non-audio policy, §5.
func isAudioEvent(event wire.Outbound) bool {
	return event.Type == wire.TagCustomerAudio
}

// Broadcast serializes event once and enqueues it on every attached
// supervisor's outbox, never blocking. On serialization failure, a degraded
// {type,sessionId,error:"serialization"} event is sent instead, §4.6.
func (r *Registry) Broadcast(sessionID string, event wire.Outbound) {
	event.SessionID = sessionID
	event.Seq = r.nextSeq(sessionID)
	if _, err := json.Marshal(event); err != nil {
		log.Printf("[supervisor] broadcast serialization failed for session %s: %v", sessionID, err)
		event = wire.Outbound{Type: wire.TagError, SessionID: sessionID, Message: "serialization"}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	audio := isAudioEvent(event)
	for _, sup := range r.supervisors {
		if audio {
			if err := sup.Send(event); err != nil {
				sup.dropped.Add(1)
			}
			continue
		}
		sup.enqueueNonAudio(event)
	}
}
