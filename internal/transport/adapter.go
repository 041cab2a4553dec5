// Package transport owns a single duplex WebSocket connection for either a
// customer or a supervisor, generalized from
// birddigital-signalwire-telephony's SignalWireCallSession readPump/writePump
// pair: a dedicated receive-pump goroutine decodes inbound frames onto a
// channel, a dedicated send-pump goroutine drains a bounded outbox and emits
// periodic keepalive pings, and Close is idempotent under concurrent callers.
package transport

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/birddigital/voicebridge/internal/voiceerr"
	"github.com/birddigital/voicebridge/internal/wire"
)

// Role distinguishes the two kinds of peer a transport adapter can serve.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleSupervisor Role = "supervisor"
)

// pingInterval and pongWait scale the teacher's 54ms/60s telephony rhythm up
// to a voice-grade duplex socket keepalive.
const (
	pingInterval = 15 * time.Second
	pongWait     = 30 * time.Second
)

// Adapter owns one *websocket.Conn and exposes a non-blocking Send, a
// channel-based Recv, and an idempotent Close.
type Adapter struct {
	ID   string
	Role Role

	conn *websocket.Conn

	outbox    chan wire.Outbound
	inbox     chan wire.Inbound
	closeCh   chan struct{}
	closeOnce sync.Once

	onClose func(reason string)

	writeMu sync.Mutex
}

// New wraps conn for the given role. outboxSize is N_cust or N_super from
// §5's backpressure section.
func New(id string, role Role, conn *websocket.Conn, outboxSize int) *Adapter {
	a := &Adapter{
		ID:      id,
		Role:    role,
		conn:    conn,
		outbox:  make(chan wire.Outbound, outboxSize),
		inbox:   make(chan wire.Inbound, outboxSize),
		closeCh: make(chan struct{}),
	}
	go a.readPump()
	go a.writePump()
	return a
}

// OnClose registers the single close callback the adapter invokes exactly
// once, per §4.1's "the adapter is responsible for exactly one close
// callback".
func (a *Adapter) OnClose(fn func(reason string)) {
	a.onClose = fn
}

// Send enqueues an outbound frame without blocking. Returns ErrPeerSlow when
// the outbox is full, ErrPeerGone after Close.
func (a *Adapter) Send(msg wire.Outbound) error {
	select {
	case <-a.closeCh:
		return voiceerr.ErrPeerGone
	default:
	}
	select {
	case a.outbox <- msg:
		return nil
	default:
		return voiceerr.ErrPeerSlow
	}
}

// Recv returns the channel of decoded inbound frames. The channel is closed
// when the peer disconnects or Close is called.
func (a *Adapter) Recv() <-chan wire.Inbound {
	return a.inbox
}

// Close shuts the adapter down idempotently, draining the outbox up to
// Δ_drain before discarding it, and invokes the registered close callback
// exactly once.
func (a *Adapter) Close(reason string) error {
	var err error
	a.closeOnce.Do(func() {
		close(a.closeCh)
		a.writeMu.Lock()
		_ = a.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
		err = a.conn.Close()
		a.writeMu.Unlock()
		if a.onClose != nil {
			a.onClose(reason)
		}
	})
	return err
}

func (a *Adapter) readPump() {
	defer close(a.inbox)
	defer a.Close("peerGone")

	a.conn.SetReadDeadline(time.Now().Add(pongWait))
	a.conn.SetPongHandler(func(string) error {
		a.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := a.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := wire.Decode(raw)
		if err != nil {
			log.Printf("[transport] %s %s: protocol violation: %v", a.Role, a.ID, err)
			_ = a.Send(wire.Outbound{Type: wire.TagError, Message: "protocol violation"})
			continue
		}
		select {
		case a.inbox <- msg:
		case <-a.closeCh:
			return
		}
	}
}

func (a *Adapter) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	drainDeadline := time.NewTimer(0)
	if !drainDeadline.Stop() {
		<-drainDeadline.C
	}

	for {
		select {
		case <-a.closeCh:
			drainDeadline.Reset(500 * time.Millisecond)
			for {
				select {
				case msg := <-a.outbox:
					a.writeFrame(msg)
				case <-drainDeadline.C:
					return
				default:
					if len(a.outbox) == 0 {
						return
					}
				}
			}
		case msg := <-a.outbox:
			a.writeFrame(msg)
		case <-ticker.C:
			a.writeMu.Lock()
			_ = a.conn.WriteMessage(websocket.PingMessage, nil)
			a.writeMu.Unlock()
		}
	}
}

func (a *Adapter) writeFrame(msg wire.Outbound) {
	raw, err := wire.Encode(msg)
	if err != nil {
		log.Printf("[transport] %s %s: encode failed: %v", a.Role, a.ID, err)
		return
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if err := a.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		log.Printf("[transport] %s %s: write failed: %v", a.Role, a.ID, err)
	}
}

// String satisfies fmt.Stringer for log lines.
func (a *Adapter) String() string {
	return fmt.Sprintf("%s:%s", a.Role, a.ID)
}
