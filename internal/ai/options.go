package ai

// EmitMode resolves Open Question 1 of spec §9: the source contained two
// competing output-transcript pipelines (buffered-sentence vs. per-chunk
// emit). Both are implemented as calling conventions of the same
// accumulator rather than guessing which is canonical.
type EmitMode int

const (
	// EmitBuffered accumulates outputTranscriptChunk text and flushes a
	// whole sentence on a terminal `. ! ?` or on turnComplete. This is the
	// default — it matches the spec's prose description in §4.2.
	EmitBuffered EmitMode = iota
	// EmitPerChunk flushes every outputTranscriptChunk immediately, still
	// passing each through the meta-commentary cleaner.
	EmitPerChunk
)

// Option configures a Binding at construction.
type Option func(*bindingConfig)

type bindingConfig struct {
	emitMode EmitMode
}

func defaultConfig() bindingConfig {
	return bindingConfig{emitMode: EmitBuffered}
}

// WithEmitMode selects the output-transcript pipeline style.
func WithEmitMode(mode EmitMode) Option {
	return func(c *bindingConfig) { c.emitMode = mode }
}
