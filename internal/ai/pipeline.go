package ai

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// indicRanges are the script ranges the input script filter rejects, §4.2.
var indicRanges = [][2]rune{
	{0x0900, 0x097F},
	{0x0980, 0x09FF},
	{0x0A80, 0x0AFF},
	{0x0B00, 0x0B7F},
	{0x0C00, 0x0C7F},
	{0x0C80, 0x0CFF},
	{0x0D00, 0x0D7F},
}

// passesScriptFilter rejects text containing Indic-script characters or
// whose ASCII-letter ratio over non-whitespace characters is below 0.30,
// §4.2. A length-0 or all-whitespace candidate is rejected per the §8
// boundary behavior.
func passesScriptFilter(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	var asciiLetters, nonWhitespace int
	for _, r := range trimmed {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		nonWhitespace++
		for _, rng := range indicRanges {
			if r >= rng[0] && r <= rng[1] {
				return false
			}
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			asciiLetters++
		}
	}
	if nonWhitespace == 0 {
		return false
	}
	return float64(asciiLetters)/float64(nonWhitespace) >= 0.30
}

var punctuationStripper = regexp.MustCompile(`[.,!?;:'"()\[\]{}\-]`)

// normalize lowercases and strips ASCII punctuation, for the echo filter's
// bidirectional containment test, §4.2.
func normalize(text string) string {
	lowered := strings.ToLower(text)
	stripped := punctuationStripper.ReplaceAllString(lowered, "")
	return strings.Join(strings.Fields(stripped), " ")
}

type echoEntry struct {
	normalized string
	at         time.Time
}

// echoFilter keeps a ring of the AI's last-emitted normalized sentences,
// evicting entries older than Δ_echo on every read (time-based eviction,
// not count-based, since Δ_echo is a duration), §4.2.
type echoFilter struct {
	mu      sync.Mutex
	window  time.Duration
	entries []echoEntry
}

func newEchoFilter(window time.Duration) *echoFilter {
	return &echoFilter{window: window}
}

// recordAIOutput registers a sentence the AI just emitted, so a later
// customer sentence can be checked against it.
func (f *echoFilter) recordAIOutput(sentence string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, echoEntry{normalized: normalize(sentence), at: time.Now()})
}

// isEcho reports whether candidate substring-matches (or is substring-matched
// by) a live AI sentence within the echo window, §8's echo-suppression
// invariant 6.
func (f *echoFilter) isEcho(candidate string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	live := f.entries[:0]
	normCandidate := normalize(candidate)
	found := false
	for _, e := range f.entries {
		if now.Sub(e.at) > f.window {
			continue
		}
		live = append(live, e)
		if normCandidate == "" || e.normalized == "" {
			continue
		}
		if strings.Contains(e.normalized, normCandidate) || strings.Contains(normCandidate, e.normalized) {
			found = true
		}
	}
	f.entries = live
	return found
}

var metaCommentary = regexp.MustCompile(`\[[^\]]*\]|\*[^*]*\*`)

// cleanMetaCommentary strips bracketed or starred meta-commentary tokens
// from a finalized AI sentence, §4.2.
func cleanMetaCommentary(text string) string {
	cleaned := metaCommentary.ReplaceAllString(text, "")
	return strings.TrimSpace(strings.Join(strings.Fields(cleaned), " "))
}

var sentenceTerminators = []byte{'.', '!', '?'}

func endsWithTerminator(text string) bool {
	trimmed := strings.TrimRight(text, " \t\n")
	if trimmed == "" {
		return false
	}
	last := trimmed[len(trimmed)-1]
	for _, t := range sentenceTerminators {
		if last == t {
			return true
		}
	}
	return false
}

// outputAccumulator buffers outputTranscriptChunk text and flushes whole
// sentences, §4.2. In EmitPerChunk mode it flushes on every chunk instead.
type outputAccumulator struct {
	mode EmitMode
	buf  strings.Builder
}

func newOutputAccumulator(mode EmitMode) *outputAccumulator {
	return &outputAccumulator{mode: mode}
}

// Feed appends a chunk and returns a finalized, cleaned sentence plus true
// if one is ready to emit.
func (a *outputAccumulator) Feed(chunk string) (string, bool) {
	a.buf.WriteString(chunk)
	if a.mode == EmitPerChunk {
		return a.flush()
	}
	if endsWithTerminator(a.buf.String()) {
		return a.flush()
	}
	return "", false
}

// FlushOnTurnComplete flushes any residual buffered text, §4.2.
func (a *outputAccumulator) FlushOnTurnComplete() (string, bool) {
	return a.flush()
}

func (a *outputAccumulator) flush() (string, bool) {
	text := strings.TrimSpace(a.buf.String())
	a.buf.Reset()
	if text == "" {
		return "", false
	}
	return cleanMetaCommentary(text), true
}

// inputDebounce buffers inputTranscriptChunk text and finalizes it after a
// quiet period of Δ_debounce with no new chunks, or immediately on
// turnComplete, §4.2 and the §8 debounce boundary behavior.
type inputDebounce struct {
	mu       sync.Mutex
	debounce time.Duration
	buf      strings.Builder
	timer    *time.Timer
	onFinal  func(text string)
}

func newInputDebounce(debounce time.Duration, onFinal func(text string)) *inputDebounce {
	return &inputDebounce{debounce: debounce, onFinal: onFinal}
}

// Feed appends a chunk and (re)schedules the debounce timer.
func (d *inputDebounce) Feed(chunk string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf.WriteString(chunk)
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.debounce, d.finalizeFromTimer)
}

// TurnComplete flushes the buffer immediately, cancelling any pending timer.
func (d *inputDebounce) TurnComplete() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.finalizeUnlocked()
}

func (d *inputDebounce) finalizeFromTimer() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finalizeUnlocked()
}

func (d *inputDebounce) finalizeUnlocked() {
	text := strings.TrimSpace(d.buf.String())
	d.buf.Reset()
	if text == "" {
		return
	}
	d.onFinal(text)
}
