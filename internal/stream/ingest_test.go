package stream

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"aura/internal/provider"
	"aura/internal/session"
	"aura/internal/thinking"
	"aura/internal/tokens"
)

// fakeEventStream replays a fixed event sequence and then reports err.
type fakeEventStream struct {
	events chan provider.Event
	err    error
}

func newFakeEventStream(err error, events ...provider.Event) *fakeEventStream {
	ch := make(chan provider.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return &fakeEventStream{events: ch, err: err}
}

func (f *fakeEventStream) Events() <-chan provider.Event { return f.events }
func (f *fakeEventStream) Err() error                    { return f.err }

func newTestIngestor(t *testing.T, sink Sink, window time.Duration) *Ingestor {
	t.Helper()
	writer := NewThrottledWriter(sink, window, nil)
	return NewIngestor(writer, tokens.NewAccountant("claude-3-5-sonnet-20241022"), nil)
}

func TestIngestDemultiplexesStream(t *testing.T) {
	sink := newFakeSink()
	in := newTestIngestor(t, sink, 0)

	st := newFakeEventStream(nil,
		provider.Event{Type: provider.EventUsage, InputTokens: 10},
		provider.Event{Type: provider.EventThinkingDelta, Text: "1. **Plan**: "},
		provider.Event{Type: provider.EventThinkingDelta, Text: "reading main.go"},
		provider.Event{Type: provider.EventTextDelta, Text: "Hello"},
		provider.Event{Type: provider.EventTextDelta, Text: ", world"},
		provider.Event{Type: provider.EventUsage, OutputTokens: 20},
	)

	result, err := in.Ingest(context.Background(), "s1", st)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if result.AnswerText != "Hello, world" {
		t.Errorf("Expected answer 'Hello, world', got %q", result.AnswerText)
	}
	if result.ThinkingText != "1. **Plan**: reading main.go" {
		t.Errorf("Unexpected thinking text %q", result.ThinkingText)
	}
	if result.InputTokens != 10 || result.OutputTokens != 20 {
		t.Errorf("Expected 10/20 tokens, got %d/%d", result.InputTokens, result.OutputTokens)
	}
	if result.TotalTokens != 30 {
		t.Errorf("Expected 30 total tokens, got %d", result.TotalTokens)
	}
	if result.AnswerRecordID == "" || result.ThinkingRecordID == "" {
		t.Error("Expected record ids for both in-flight records")
	}

	// Final flush leaves the thinking record completed with the full
	// structured view.
	thinkingSnap := sink.byID[result.ThinkingRecordID]
	if thinkingSnap.Role != session.RoleThinking {
		t.Errorf("Expected thinking role, got %q", thinkingSnap.Role)
	}
	if thinkingSnap.Thinking == nil || thinkingSnap.Thinking.Status != thinking.StatusCompleted {
		t.Errorf("Expected completed thinking view, got %+v", thinkingSnap.Thinking)
	}
	answerSnap := sink.byID[result.AnswerRecordID]
	if answerSnap.Content != "Hello, world" {
		t.Errorf("Expected final answer persisted, got %q", answerSnap.Content)
	}
}

func TestIngestUsageDoesNotWrite(t *testing.T) {
	sink := newFakeSink()
	in := newTestIngestor(t, sink, 0)

	st := newFakeEventStream(nil,
		provider.Event{Type: provider.EventUsage, InputTokens: 5},
		provider.Event{Type: provider.EventUsage, OutputTokens: 7},
	)

	result, err := in.Ingest(context.Background(), "s1", st)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if len(sink.inserts) != 0 || len(sink.patches) != 0 {
		t.Errorf("Usage events must not trigger writes, got inserts=%d patches=%d",
			len(sink.inserts), len(sink.patches))
	}
	if result.TotalTokens != 12 {
		t.Errorf("Expected 12 total tokens, got %d", result.TotalTokens)
	}
}

func TestIngestPreservesPartialOutputOnStreamError(t *testing.T) {
	sink := newFakeSink()
	in := newTestIngestor(t, sink, time.Hour)

	streamErr := errors.New("connection reset")
	st := newFakeEventStream(streamErr,
		provider.Event{Type: provider.EventThinkingDelta, Text: "analyzing the "},
		provider.Event{Type: provider.EventThinkingDelta, Text: "request"},
	)

	result, err := in.Ingest(context.Background(), "s1", st)
	if !errors.Is(err, streamErr) {
		t.Fatalf("Expected stream error surfaced, got %v", err)
	}

	if result.ThinkingRecordID == "" {
		t.Fatal("Expected thinking record despite the stream error")
	}
	persisted := sink.byID[result.ThinkingRecordID]
	if persisted.Content != "analyzing the request" {
		t.Errorf("Expected concatenated deltas persisted, got %q", persisted.Content)
	}
	// An aborted stream never marks the view completed.
	if persisted.Thinking == nil || persisted.Thinking.Status != thinking.StatusThinking {
		t.Errorf("Expected status thinking after abnormal end, got %+v", persisted.Thinking)
	}
}

func TestIngestFinalFlushBypassesThrottle(t *testing.T) {
	sink := newFakeSink()
	in := newTestIngestor(t, sink, time.Hour)

	st := newFakeEventStream(nil,
		provider.Event{Type: provider.EventTextDelta, Text: "a"},
		provider.Event{Type: provider.EventTextDelta, Text: "b"},
		provider.Event{Type: provider.EventTextDelta, Text: "c"},
	)

	result, err := in.Ingest(context.Background(), "s1", st)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if got := sink.byID[result.AnswerRecordID].Content; got != "abc" {
		t.Errorf("Expected final flush to persist %q, got %q", "abc", got)
	}
}

func TestIngestFinalWriteFailureIsFatal(t *testing.T) {
	// The insert during the stream succeeds; the unconditional final
	// patch is the one that fails.
	sink := &failFinalSink{fakeSink: newFakeSink()}
	in := newTestIngestor(t, sink, 0)

	st := newFakeEventStream(nil,
		provider.Event{Type: provider.EventTextDelta, Text: "partial"},
	)

	_, err := in.Ingest(context.Background(), "s1", st)
	if !errors.Is(err, ErrFinalWriteFailed) {
		t.Errorf("Expected ErrFinalWriteFailed, got %v", err)
	}
}

// failFinalSink fails every patch, so the unconditional final write is
// the first one to report an error.
type failFinalSink struct {
	*fakeSink
}

func (f *failFinalSink) Patch(context.Context, string, Snapshot) error {
	return errors.New("store unavailable")
}

func TestIngestCancellationStillFlushes(t *testing.T) {
	sink := newFakeSink()
	in := newTestIngestor(t, sink, time.Hour)

	// An open events channel: the stream never ends on its own.
	events := make(chan provider.Event, 1)
	events <- provider.Event{Type: provider.EventThinkingDelta, Text: "working on it"}
	st := &fakeEventStream{events: events, err: nil}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var result Result
	var err error
	go func() {
		defer close(done)
		result, err = in.Ingest(ctx, "s1", st)
	}()

	// Let the delta drain, then tear the caller down.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Ingest did not return after cancellation")
	}

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if result.ThinkingRecordID == "" {
		t.Fatal("Expected thinking record flushed on cancellation")
	}
	persisted := sink.byID[result.ThinkingRecordID]
	if !strings.Contains(persisted.Content, "working on it") {
		t.Errorf("Expected partial content flushed, got %q", persisted.Content)
	}
	if persisted.Thinking.Status != thinking.StatusThinking {
		t.Errorf("Expected status thinking after cancellation, got %q", persisted.Thinking.Status)
	}
}
