// Package ai implements the duplex streaming binding to the upstream
// conversational AI provider, §4.2. Built directly on gorilla/websocket the
// way birddigital-signalwire-telephony's SignalWireCallSession is built
// directly on it — the pack's only realtime-voice-shaped client — since no
// retrieved SDK (the Anthropic SDK is text/tool-call oriented) offers a
// realtime voice socket; the text analysis collaborator in
// internal/analytics is the component that does route through a vendor SDK.
package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/birddigital/voicebridge/internal/session"
)

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func decodeBase64(s string) []byte {
	if s == "" {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return data
}

// EventType discriminates the inbound events a Binding produces onto its Events channel.
type EventType string

const (
	EventOutputSentence EventType = "outputSentence"
	EventInputFinalized EventType = "inputFinalized"
	EventAudioChunk     EventType = "audioChunk"
	EventTurnComplete   EventType = "turnComplete"
	EventSetupComplete  EventType = "setupComplete"
	EventError          EventType = "error"
)

// Event is one inbound event from the provider, already filtered and
// finalized by the pipeline where applicable.
type Event struct {
	Type  EventType
	Text  string
	Audio []byte
	Err   error
}

// providerFrame is the small wire format exchanged with the upstream
// provider — a tagged JSON object per direction, mirroring the shapes named
// directly in spec §4.2 (outputTranscriptChunk, inputTranscriptChunk,
// audioChunk, turnComplete, setupComplete, error) since the provider
// protocol itself is an out-of-scope external collaborator.
type providerFrame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data string `json:"data,omitempty"`
}

// Binding is one duplex connection to the upstream provider, one per
// session.
type Binding struct {
	sessionID string
	conn      *websocket.Conn
	state     atomic.Value // session.AIState
	paused    atomic.Bool

	Events chan Event

	cfg bindingConfig

	outputAcc *outputAccumulator
	inputDeb  *inputDebounce
	echo      *echoFilter

	outAudio     chan []byte
	droppedAudio atomic.Int64
}

// DroppedAudioFrames returns how many outbound audio frames have been
// dropped because the binding's N_ai-capacity outbound queue was full, §5.
func (b *Binding) DroppedAudioFrames() int64 {
	return b.droppedAudio.Load()
}

// outAudioCapacity is N_ai from §5's backpressure section.
const outAudioCapacity = 128

// New dials the provider's realtime endpoint and returns a Binding in
// CONNECTING state; call Initialize to complete the handshake.
func New(ctx context.Context, sessionID, providerURL, apiKey, voiceModel string, debounce, echoWindow time.Duration, opts ...Option) (*Binding, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	u, err := url.Parse(providerURL)
	if err != nil {
		return nil, fmt.Errorf("ai: invalid provider url: %w", err)
	}
	q := u.Query()
	q.Set("model", voiceModel)
	u.RawQuery = q.Encode()

	header := make(map[string][]string)
	header["Authorization"] = []string{"Bearer " + apiKey}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("ai: dial failed: %w", err)
	}

	b := &Binding{
		sessionID: sessionID,
		conn:      conn,
		Events:    make(chan Event, 128),
		cfg:       cfg,
		outputAcc: newOutputAccumulator(cfg.emitMode),
		echo:      newEchoFilter(echoWindow),
		outAudio:  make(chan []byte, outAudioCapacity),
	}
	b.state.Store(session.AIConnecting)
	b.inputDeb = newInputDebounce(debounce, b.emitFinalizedInput)

	go b.readLoop()
	go b.audioWriteLoop()
	return b, nil
}

// State returns the binding's current state, satisfying session.AIBinding.
func (b *Binding) State() session.AIState {
	return b.state.Load().(session.AIState)
}

func (b *Binding) setState(s session.AIState) {
	b.state.Store(s)
}

// Initialize performs the provider setup handshake: it consumes the
// setupComplete event from Events and moves to READY on success, or
// transitions to FAILED on timeout/error, §4.2.
func (b *Binding) Initialize(ctx context.Context, connectTimeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := b.conn.WriteJSON(providerFrame{Type: "setup"}); err != nil {
		b.setState(session.AIFailed)
		b.emitError(fmt.Errorf("ai: setup write failed: %w", err))
		return err
	}

	select {
	case ev := <-b.Events:
		if ev.Type == EventSetupComplete {
			b.setState(session.AIReady)
			return nil
		}
		b.setState(session.AIFailed)
		return fmt.Errorf("ai: unexpected frame during setup")
	case <-ctx.Done():
		b.setState(session.AIFailed)
		b.emitError(fmt.Errorf("ai: setup timed out"))
		return ctx.Err()
	}
}

// SendAudio forwards an outbound audio frame, dropping when paused or not
// READY, §4.2. Frames are staged on a bounded queue of capacity N_ai; on
// overflow the frame is dropped and a counter incremented, §5.
func (b *Binding) SendAudio(frame []byte) {
	if b.paused.Load() || b.State() != session.AIReady {
		return
	}
	select {
	case b.outAudio <- frame:
	default:
		b.droppedAudio.Add(1)
	}
}

func (b *Binding) audioWriteLoop() {
	for frame := range b.outAudio {
		b.write(providerFrame{Type: "audio", Data: encodeBase64(frame)})
	}
}

// SendText forwards an outbound text/context injection, dropping when
// paused or not READY, §4.2.
func (b *Binding) SendText(text string) {
	if b.paused.Load() || b.State() != session.AIReady {
		return
	}
	b.write(providerFrame{Type: "text", Text: text})
}

func (b *Binding) write(frame providerFrame) {
	if err := b.conn.WriteJSON(frame); err != nil {
		log.Printf("[ai] session %s: write failed: %v", b.sessionID, err)
	}
}

// Pause flips the gate without touching the connection, §4.2.
func (b *Binding) Pause() {
	b.paused.Store(true)
	b.setState(session.AIPaused)
}

// Resume flips the gate back, §4.2.
func (b *Binding) Resume() {
	b.paused.Store(false)
	b.setState(session.AIReady)
}

// Close terminates the connection, §4.2.
func (b *Binding) Close(reason string) error {
	if b.State() == session.AIClosed {
		return nil
	}
	b.setState(session.AIClosed)
	close(b.outAudio)
	_ = b.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	return b.conn.Close()
}

func (b *Binding) readLoop() {
	defer close(b.Events)
	for {
		var frame providerFrame
		if err := b.conn.ReadJSON(&frame); err != nil {
			if b.State() != session.AIClosed {
				b.setState(session.AIFailed)
				b.emitError(fmt.Errorf("ai: read failed: %w", err))
			}
			return
		}
		b.handleFrame(frame)
	}
}

func (b *Binding) handleFrame(frame providerFrame) {
	switch frame.Type {
	case "setupComplete":
		b.emit(Event{Type: EventSetupComplete})
	case "outputTranscriptChunk":
		if sentence, ok := b.outputAcc.Feed(frame.Text); ok {
			b.echo.recordAIOutput(sentence)
			b.emit(Event{Type: EventOutputSentence, Text: sentence})
		}
	case "inputTranscriptChunk":
		b.inputDeb.Feed(frame.Text)
	case "turnComplete":
		if sentence, ok := b.outputAcc.FlushOnTurnComplete(); ok {
			b.echo.recordAIOutput(sentence)
			b.emit(Event{Type: EventOutputSentence, Text: sentence})
		}
		b.inputDeb.TurnComplete()
		b.emit(Event{Type: EventTurnComplete})
	case "audioChunk":
		data := decodeBase64(frame.Data)
		if data != nil {
			b.emit(Event{Type: EventAudioChunk, Audio: data})
		}
	case "error":
		b.setState(session.AIFailed)
		b.emitError(fmt.Errorf("ai: provider error: %s", frame.Text))
	default:
		log.Printf("[ai] session %s: unknown provider frame %q", b.sessionID, frame.Type)
	}
}

// emitFinalizedInput applies the script and echo filters to a
// debounce-finalized customer sentence before emitting it, §4.2 and the
// §8 script/echo invariants.
func (b *Binding) emitFinalizedInput(text string) {
	if !passesScriptFilter(text) {
		log.Printf("[debug] ai: session %s: input rejected by script filter", b.sessionID)
		return
	}
	if b.echo.isEcho(text) {
		log.Printf("[debug] ai: session %s: input rejected by echo filter", b.sessionID)
		return
	}
	b.emit(Event{Type: EventInputFinalized, Text: text})
}

func (b *Binding) emit(ev Event) {
	select {
	case b.Events <- ev:
	default:
		log.Printf("[ai] session %s: event dropped, consumer not draining", b.sessionID)
	}
}

func (b *Binding) emitError(err error) {
	b.emit(Event{Type: EventError, Err: err})
}
