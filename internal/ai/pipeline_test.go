package ai

import (
	"testing"
	"time"
)

func TestPassesScriptFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"plain english", "I need help with my order", true},
		{"empty string rejected", "", false},
		{"whitespace only rejected", "   \t\n", false},
		{"devanagari rejected", "मुझे मदद चाहिए", false},
		{"low ascii-letter ratio rejected", "123456789 !!!", false},
		{"mixed mostly english passes", "order #12345 please", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := passesScriptFilter(tt.text)
			if got != tt.want {
				t.Errorf("passesScriptFilter(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	got := normalize("Hello, World!!  How are you?")
	want := "hello world how are you"
	if got != want {
		t.Errorf("normalize() = %q, want %q", got, want)
	}
}

func TestEchoFilterDetectsLiveEcho(t *testing.T) {
	t.Parallel()

	f := newEchoFilter(time.Minute)
	f.recordAIOutput("I understand your frustration.")

	if !f.isEcho("I understand your frustration") {
		t.Error("expected echo match for near-identical sentence within window")
	}
	if f.isEcho("completely unrelated text") {
		t.Error("expected no echo match for unrelated text")
	}
}

func TestEchoFilterExpiresOldEntries(t *testing.T) {
	t.Parallel()

	f := newEchoFilter(10 * time.Millisecond)
	f.recordAIOutput("I understand your frustration.")
	time.Sleep(30 * time.Millisecond)

	if f.isEcho("I understand your frustration") {
		t.Error("expected echo entry to have expired outside the window")
	}
}

func TestCleanMetaCommentary(t *testing.T) {
	t.Parallel()

	got := cleanMetaCommentary("[pauses] Hello there *smiles warmly* how can I help?")
	want := "Hello there how can I help?"
	if got != want {
		t.Errorf("cleanMetaCommentary() = %q, want %q", got, want)
	}
}

func TestOutputAccumulatorBufferedModeFlushesOnTerminator(t *testing.T) {
	t.Parallel()

	acc := newOutputAccumulator(EmitBuffered)

	if _, ready := acc.Feed("Hello"); ready {
		t.Fatal("expected no flush before a terminator")
	}
	text, ready := acc.Feed(", how can I help you today?")
	if !ready {
		t.Fatal("expected flush on terminator")
	}
	if text != "Hello, how can I help you today?" {
		t.Errorf("got %q", text)
	}
}

func TestOutputAccumulatorPerChunkModeFlushesEveryFeed(t *testing.T) {
	t.Parallel()

	acc := newOutputAccumulator(EmitPerChunk)

	text, ready := acc.Feed("Hello")
	if !ready || text != "Hello" {
		t.Fatalf("got (%q, %v), want (\"Hello\", true)", text, ready)
	}
}

func TestOutputAccumulatorFlushOnTurnCompleteReturnsResidual(t *testing.T) {
	t.Parallel()

	acc := newOutputAccumulator(EmitBuffered)
	acc.Feed("no terminator yet")

	text, ready := acc.FlushOnTurnComplete()
	if !ready || text != "no terminator yet" {
		t.Fatalf("got (%q, %v), want (\"no terminator yet\", true)", text, ready)
	}

	// a second flush with nothing buffered should report not-ready.
	if _, ready := acc.FlushOnTurnComplete(); ready {
		t.Error("expected second flush with empty buffer to be not-ready")
	}
}

func TestInputDebounceFinalizesAfterQuietPeriod(t *testing.T) {
	t.Parallel()

	finalized := make(chan string, 1)
	d := newInputDebounce(10*time.Millisecond, func(text string) {
		finalized <- text
	})

	d.Feed("I need")
	d.Feed(" help")

	select {
	case text := <-finalized:
		if text != "I need help" {
			t.Errorf("got %q, want %q", text, "I need help")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for debounce finalize")
	}
}

func TestInputDebounceTurnCompleteFlushesImmediately(t *testing.T) {
	t.Parallel()

	finalized := make(chan string, 1)
	d := newInputDebounce(time.Hour, func(text string) {
		finalized <- text
	})

	d.Feed("urgent message")
	d.TurnComplete()

	select {
	case text := <-finalized:
		if text != "urgent message" {
			t.Errorf("got %q, want %q", text, "urgent message")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for TurnComplete to flush")
	}
}
