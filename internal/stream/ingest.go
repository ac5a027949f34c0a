package stream

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"aura/internal/provider"
	"aura/internal/session"
	"aura/internal/thinking"
	"aura/internal/tokens"
)

// Record keys. One thinking row and one answer row exist per in-flight
// model call.
const (
	KeyThinking = "thinking-record"
	KeyAnswer   = "answer-record"
)

const finalFlushTimeout = 5 * time.Second

// Result is what one fully consumed stream produced.
type Result struct {
	AnswerText       string
	ThinkingText     string
	InputTokens      int
	OutputTokens     int
	TotalTokens      int
	EstimatedCost    float64
	AnswerRecordID   string
	ThinkingRecordID string
}

// Ingestor consumes one provider stream. It is single-use: one
// Ingestor per model call, with a fresh ThrottledWriter.
type Ingestor struct {
	writer     *ThrottledWriter
	accountant tokens.Accountant
	logger     *slog.Logger
}

// NewIngestor creates an ingestor writing through the given writer.
func NewIngestor(writer *ThrottledWriter, accountant tokens.Accountant, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		writer:     writer,
		accountant: accountant,
		logger:     logger,
	}
}

// Ingest consumes the stream single-pass and in order. Thinking deltas
// are recompiled into a structured view on every fragment and offered
// to the throttled writer; answer deltas are offered verbatim; usage
// events only accumulate counters. Whatever happens to the stream —
// normal end, provider error, or cancellation — both buffers are
// flushed unconditionally before Ingest returns, so partial output is
// preserved rather than discarded.
func (in *Ingestor) Ingest(ctx context.Context, sessionID string, st provider.EventStream) (Result, error) {
	var thinkingBuf, answerBuf strings.Builder
	var inputTokens, outputTokens int
	var canceled bool

loop:
	for {
		select {
		case <-ctx.Done():
			canceled = true
			break loop
		case ev, ok := <-st.Events():
			if !ok {
				break loop
			}
			switch ev.Type {
			case provider.EventThinkingDelta:
				thinkingBuf.WriteString(ev.Text)
				view := thinking.Compile(thinkingBuf.String(), false)
				in.offer(ctx, sessionID, session.RoleThinking, KeyThinking, thinkingBuf.String(), &view, false)

			case provider.EventTextDelta:
				answerBuf.WriteString(ev.Text)
				in.offer(ctx, sessionID, session.RoleAssistant, KeyAnswer, answerBuf.String(), nil, false)

			case provider.EventUsage:
				inputTokens += ev.InputTokens
				outputTokens += ev.OutputTokens
			}
		}
	}

	var streamErr error
	if canceled {
		streamErr = ctx.Err()
	} else {
		streamErr = st.Err()
	}

	// Final flushes run on a detached context: a torn-down caller must
	// not lose the last partial snapshot.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
	defer cancel()

	// The structured view is only marked completed when the stream
	// actually finished; an aborted stream keeps status "thinking".
	finished := streamErr == nil

	if thinkingBuf.Len() > 0 {
		view := thinking.Compile(thinkingBuf.String(), finished)
		if err := in.writer.Offer(flushCtx, KeyThinking, Snapshot{
			SessionID: sessionID,
			Role:      session.RoleThinking,
			Content:   thinkingBuf.String(),
			Thinking:  &view,
		}, true); err != nil {
			return Result{}, err
		}
	}

	if answerBuf.Len() > 0 {
		if err := in.writer.Offer(flushCtx, KeyAnswer, Snapshot{
			SessionID: sessionID,
			Role:      session.RoleAssistant,
			Content:   answerBuf.String(),
		}, true); err != nil {
			return Result{}, err
		}
	}

	totals := in.accountant.Finalize(inputTokens, outputTokens)
	result := Result{
		AnswerText:    answerBuf.String(),
		ThinkingText:  thinkingBuf.String(),
		InputTokens:   inputTokens,
		OutputTokens:  outputTokens,
		TotalTokens:   totals.TotalTokens,
		EstimatedCost: totals.EstimatedCost,
	}
	if id, ok := in.writer.RecordID(KeyAnswer); ok {
		result.AnswerRecordID = id
	}
	if id, ok := in.writer.RecordID(KeyThinking); ok {
		result.ThinkingRecordID = id
	}

	if streamErr != nil {
		in.logger.Warn("provider stream terminated abnormally, partial output preserved",
			"session_id", sessionID,
			"thinking_len", thinkingBuf.Len(),
			"answer_len", answerBuf.Len(),
			"error", streamErr)
		return result, streamErr
	}
	return result, nil
}

// offer routes a non-final snapshot through the throttled writer.
// Throttled write failures are handled inside the writer.
func (in *Ingestor) offer(ctx context.Context, sessionID, role, key, content string, view *thinking.View, isFinal bool) {
	_ = in.writer.Offer(ctx, key, Snapshot{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Thinking:  view,
	}, isFinal)
}
