// Package wire defines the small tagged-message formats exchanged over the
// customer and supervisor transports, and decodes inbound JSON into a closed
// variant set rather than forwarding an untyped map (the teacher's
// handleSignalWireMessage forwards a bare map[string]interface{}; the spec's
// "Dynamic message shapes" design note calls for a closed, validated set).
package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/birddigital/voicebridge/internal/voiceerr"
)

// Tag is the discriminator carried by every frame on the wire.
type Tag string

// Customer-inbound tags.
const (
	TagAudio      Tag = "audio"
	TagText       Tag = "text"
	TagTranscript Tag = "transcript"
)

// Customer-outbound tags.
const (
	TagSessionInit          Tag = "sessionInit"
	TagAIResponse            Tag = "aiResponse"
	TagCustomerTranscription Tag = "customerTranscription"
	TagSupervisorMessage     Tag = "supervisorMessage"
	TagModeChange            Tag = "modeChange"
	TagSessionEnded          Tag = "sessionEnded"
	TagError                 Tag = "error"
)

// Supervisor-inbound command tags, per §4.7.
const (
	TagTakeover           Tag = "takeover"
	TagHandback           Tag = "handback"
	TagInjectContext      Tag = "injectContext"
	TagSupervisorAudio    Tag = "supervisorAudio"
	TagEndCall            Tag = "endCall"
	TagGetSessions        Tag = "getSessions"
)

// Supervisor-outbound event tags, per §3 "Supervisor event".
const (
	TagSessionsList     Tag = "sessionsList"
	TagSessionUpdate    Tag = "sessionUpdate"
	TagCustomerMessage  Tag = "customerMessage"
	TagCustomerAudio    Tag = "customerAudio"
	TagFrustrationUpdate Tag = "frustrationUpdate"
	TagAnalyticsUpdate  Tag = "analyticsUpdate"
	TagCoachingUpdate   Tag = "coachingUpdate"
	TagEscalationAlert  Tag = "escalationAlert"
)

// Inbound is a decoded frame received from a customer or supervisor
// transport. Only the fields relevant to Tag are populated.
type Inbound struct {
	Type          Tag
	Data          []byte // raw audio payload, already base64-decoded
	Content       string
	SessionID     string
	SupervisorID  string
	CustomerMsg   string // not filled by Decode; supervisorMessage content arrives in Content
	Context       string
}

type rawInbound struct {
	Type         string `json:"type"`
	Data         string `json:"data"`
	Content      string `json:"content"`
	SessionID    string `json:"sessionId"`
	SupervisorID string `json:"supervisorId"`
	Context      string `json:"context"`
}

// Decode parses a raw inbound JSON frame into a closed Inbound variant,
// returning voiceerr.ErrProtocolViolation for unknown tags or malformed JSON.
func Decode(raw []byte) (Inbound, error) {
	var r rawInbound
	if err := json.Unmarshal(raw, &r); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", voiceerr.ErrProtocolViolation, err)
	}
	tag := Tag(r.Type)
	switch tag {
	case TagAudio, TagText, TagTranscript,
		TagTakeover, TagHandback, TagInjectContext, TagSupervisorAudio, TagSupervisorMessage, TagEndCall, TagGetSessions:
		return Inbound{
			Type:         tag,
			Data:         decodeAudioField(r.Data),
			Content:      r.Content,
			SessionID:    r.SessionID,
			SupervisorID: r.SupervisorID,
			Context:      r.Context,
		}, nil
	default:
		return Inbound{}, fmt.Errorf("%w: unknown tag %q", voiceerr.ErrProtocolViolation, r.Type)
	}
}

func decodeAudioField(b64 string) []byte {
	if b64 == "" {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil
	}
	return data
}

// Outbound is a frame ready to be serialized and sent to a peer. Data carries
// whatever shape the tag needs (a base64 string for audio, a nested object
// for aiResponse) rather than a fixed field per tag, mirroring the wire
// union's per-tag payload shapes in spec §6.
type Outbound struct {
	Type      Tag    `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Content   string `json:"content,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
}

// Encode serializes an Outbound frame to JSON.
func Encode(o Outbound) ([]byte, error) {
	return json.Marshal(o)
}

// AIResponseData builds the {type:"text", content} nested payload used by
// outbound aiResponse frames.
func AIResponseData(content string) any {
	return map[string]string{"type": "text", "content": content}
}

// EncodeAudio base64-encodes a raw PCM buffer for the "data" field of an
// outbound audio frame.
func EncodeAudio(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}
