package session

import "github.com/birddigital/voicebridge/internal/analytics"

// EventKind discriminates the single inbound event channel the loop blocks
// on, §5 ("the session loop blocks only on its inbound event channel").
// Every producer (customer pump, AI binding, supervisor command dispatch,
// analytics dispatcher) posts Event values onto that one channel rather
// than each owning a separate channel the loop would have to select over.
type EventKind string

const (
	EvCustomerAudio      EventKind = "customerAudio"
	EvCustomerText       EventKind = "customerText"
	EvCustomerTranscript EventKind = "customerTranscript"
	EvCustomerDetached   EventKind = "customerDetached"

	EvAIOutputSentence EventKind = "aiOutputSentence"
	EvAIInputFinalized EventKind = "aiInputFinalized"
	EvAIAudioChunk     EventKind = "aiAudioChunk"
	EvAITurnComplete   EventKind = "aiTurnComplete"
	EvAISetupComplete  EventKind = "aiSetupComplete"
	EvAIError          EventKind = "aiError"

	EvSupervisorCommand EventKind = "supervisorCommand"

	EvAnalyticsResult EventKind = "analyticsResult"
)

// Event is the tagged union posted onto Loop's input channel.
type Event struct {
	Kind EventKind

	Audio []byte
	Text  string

	Command Command

	AnalyticsResult analytics.Result

	Err error
}
