// Package orchestrator is the composition root of one model call: it
// loads history, opens the provider stream, drives ingestion, and
// reconciles the session's token accounting.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"aura/internal/config"
	"aura/internal/feed"
	"aura/internal/provider"
	"aura/internal/session"
	"aura/internal/store"
	"aura/internal/stream"
	"aura/internal/thinking"
	"aura/internal/tokens"
)

const systemPrompt = `You are the Orchestrator Agent for the AURA platform, an IDE-style development environment. Analyze user requests, provide clear and actionable guidance, break complex tasks into manageable steps, and keep track of the conversation context. Be conversational but professional.`

const (
	apologyMessage  = "I apologize, but I encountered an error processing your request. Please try again."
	emptyAnswerText = "I apologize, but I encountered an issue processing your request."
	previewLen      = 100
)

// Persistence is the slice of the store the orchestrator needs.
type Persistence interface {
	InsertMessage(ctx context.Context, m session.Message) (string, error)
	PatchMessageContent(ctx context.Context, id, content string, view *thinking.View) error
	PatchMessageUsage(ctx context.Context, id string, tokenCount, inputTokens, outputTokens int, estimatedCost float64) error
	Messages(ctx context.Context, sessionID string, limit int) ([]session.Message, error)
	SessionInfo(ctx context.Context, sessionID string) (store.SessionTotals, error)
	UpdateSessionTotals(ctx context.Context, sessionID string, totals store.SessionTotals, preview string) error
}

// Streamer opens one streaming model call.
type Streamer interface {
	Stream(ctx context.Context, req provider.MessagesRequest) (provider.EventStream, error)
}

// SendRequest is one user turn.
type SendRequest struct {
	Message   string
	SessionID string
	UserID    string
}

// SendResponse is the finalized outcome of one turn.
type SendResponse struct {
	Success       bool
	Response      string
	TokenCount    int
	InputTokens   int
	OutputTokens  int
	EstimatedCost float64
}

// Orchestrator wires the pipeline together. Exactly one stream may be
// in flight per session at a time; submitting concurrently for the
// same session is a caller contract, not enforced here.
type Orchestrator struct {
	cfg        config.Config
	store      Persistence
	provider   Streamer
	sessions   *session.Store
	hub        *feed.Hub
	accountant tokens.Accountant
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
}

// New creates an orchestrator. Hub, tracer and meter may be nil.
func New(cfg config.Config, st Persistence, prov Streamer, sessions *session.Store, hub *feed.Hub, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:        cfg,
		store:      st,
		provider:   prov,
		sessions:   sessions,
		hub:        hub,
		accountant: tokens.NewAccountant(cfg.Model),
		logger:     logger,
		tracer:     tracer,
		meter:      meter,
	}
}

// SendMessage runs one full turn: persist the user message, stream the
// model response while live-patching the thinking and answer records,
// then finalize accounting and session aggregates. On provider failure
// an inline system apology is persisted and Success is false; records
// flushed before the failure stay visible.
func (o *Orchestrator) SendMessage(ctx context.Context, req SendRequest) (SendResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return SendResponse{}, fmt.Errorf("message must not be empty")
	}
	if req.SessionID == "" {
		return SendResponse{}, fmt.Errorf("session id must not be empty")
	}

	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.Start(ctx, "orchestrator_send_message")
		defer span.End()
	}

	history, err := o.store.Messages(ctx, req.SessionID, o.historyLimit())
	if err != nil {
		return SendResponse{}, fmt.Errorf("failed to load history: %w", err)
	}

	if _, err := o.store.InsertMessage(ctx, session.Message{
		SessionID: req.SessionID,
		Role:      session.RoleUser,
		Content:   req.Message,
	}); err != nil {
		return SendResponse{}, fmt.Errorf("failed to save user message: %w", err)
	}

	st, err := o.provider.Stream(ctx, o.buildRequest(history, req.Message))
	if err != nil {
		o.saveApology(ctx, req.SessionID)
		return SendResponse{Success: false}, fmt.Errorf("provider call failed: %w", err)
	}

	sink := &recordSink{store: o.store, hub: o.hub}
	writer := stream.NewThrottledWriter(sink, o.cfg.Throttle(), o.logger)
	ingestor := stream.NewIngestor(writer, o.accountant, o.logger)

	result, ingestErr := ingestor.Ingest(ctx, req.SessionID, st)
	if ingestErr != nil {
		o.saveApology(ctx, req.SessionID)
		return SendResponse{Success: false}, fmt.Errorf("stream ingestion failed: %w", ingestErr)
	}

	answer := result.AnswerText
	answerID := result.AnswerRecordID
	if answerID == "" {
		// No text deltas arrived at all; still leave exactly one
		// assistant record for the turn.
		answer = emptyAnswerText
		answerID, err = o.store.InsertMessage(ctx, session.Message{
			SessionID: req.SessionID,
			Role:      session.RoleAssistant,
			Content:   answer,
		})
		if err != nil {
			return SendResponse{Success: false}, fmt.Errorf("failed to save assistant message: %w", err)
		}
	}

	if err := o.store.PatchMessageUsage(ctx, answerID,
		result.TotalTokens, result.InputTokens, result.OutputTokens, result.EstimatedCost); err != nil {
		return SendResponse{Success: false}, fmt.Errorf("failed to finalize assistant message: %w", err)
	}

	o.recordUsage(ctx, result)
	o.publishFinal(req.SessionID, answerID, answer)
	o.updateAggregates(ctx, req.SessionID, answer)

	o.logger.Info("turn completed",
		"session_id", req.SessionID,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"estimated_cost", result.EstimatedCost)

	return SendResponse{
		Success:       true,
		Response:      answer,
		TokenCount:    result.TotalTokens,
		InputTokens:   result.InputTokens,
		OutputTokens:  result.OutputTokens,
		EstimatedCost: result.EstimatedCost,
	}, nil
}

// SendWelcomeMessage persists the initial assistant greeting for a new
// session without a model call.
func (o *Orchestrator) SendWelcomeMessage(ctx context.Context, sessionID string) (string, error) {
	const welcome = `Time to grow your Aura.

Let's get started by creating your brand identity. You can skip the setup and add the details later, or begin by simply letting me know the name of your brand or product.`

	outputTokens := tokens.EstimateSimple(welcome)
	if _, err := o.store.InsertMessage(ctx, session.Message{
		SessionID:    sessionID,
		Role:         session.RoleAssistant,
		Content:      welcome,
		TokenCount:   len(welcome),
		OutputTokens: outputTokens,
	}); err != nil {
		return "", fmt.Errorf("failed to save welcome message: %w", err)
	}
	return welcome, nil
}

// buildRequest formats the history window for the provider: only user
// and assistant turns go back to the model, with the current message
// appended last.
func (o *Orchestrator) buildRequest(history []session.Message, message string) provider.MessagesRequest {
	params := make([]provider.MessageParam, 0, len(history)+1)
	for _, msg := range history {
		if msg.Role == session.RoleUser || msg.Role == session.RoleAssistant {
			params = append(params, provider.MessageParam{Role: msg.Role, Content: msg.Content})
		}
	}
	params = append(params, provider.MessageParam{Role: session.RoleUser, Content: message})

	return provider.MessagesRequest{
		Model:       o.cfg.Model,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: 0.7,
		System:      systemPrompt,
		Messages:    params,
	}
}

func (o *Orchestrator) historyLimit() int {
	if o.cfg.HistoryLimit > 0 {
		return o.cfg.HistoryLimit
	}
	return config.DefaultHistoryLimit
}

// saveApology persists the inline system-role failure message. Its own
// failure is only logged; the original error matters more.
func (o *Orchestrator) saveApology(ctx context.Context, sessionID string) {
	if _, err := o.store.InsertMessage(ctx, session.Message{
		SessionID: sessionID,
		Role:      session.RoleSystem,
		Content:   apologyMessage,
	}); err != nil {
		o.logger.Error("failed to save apology message", "session_id", sessionID, "error", err)
	}
}

// updateAggregates recomputes server-authoritative session totals and
// mirrors them into the client cache.
func (o *Orchestrator) updateAggregates(ctx context.Context, sessionID, answer string) {
	preview := answer
	if len(preview) > previewLen {
		preview = preview[:previewLen]
	}

	totals, err := o.store.SessionInfo(ctx, sessionID)
	if err != nil {
		o.logger.Warn("failed to aggregate session totals", "session_id", sessionID, "error", err)
		return
	}
	if err := o.store.UpdateSessionTotals(ctx, sessionID, totals, preview); err != nil {
		o.logger.Warn("failed to update session totals", "session_id", sessionID, "error", err)
		return
	}
	if o.sessions != nil {
		o.sessions.Touch(sessionID, preview, totals.TotalTokens, totals.TotalCost)
	}
}

// recordUsage emits OpenTelemetry usage counters for the turn.
func (o *Orchestrator) recordUsage(ctx context.Context, result stream.Result) {
	if o.meter == nil {
		return
	}
	for name, value := range map[string]int{
		"input_tokens":  result.InputTokens,
		"output_tokens": result.OutputTokens,
	} {
		counter, err := o.meter.Int64Counter(
			fmt.Sprintf("llm.usage.%s", name),
			metric.WithDescription(fmt.Sprintf("LLM usage metric: %s", name)),
		)
		if err != nil {
			o.logger.Warn("failed to create counter", "name", name, "error", err)
			continue
		}
		counter.Add(ctx, int64(value))
	}
}

func (o *Orchestrator) publishFinal(sessionID, recordID, content string) {
	if o.hub == nil {
		return
	}
	o.hub.Publish(feed.Update{
		SessionID: sessionID,
		RecordID:  recordID,
		Role:      session.RoleAssistant,
		Content:   content,
		Final:     true,
	})
}

// recordSink adapts the store to the throttled writer and mirrors each
// surviving write onto the live feed.
type recordSink struct {
	store Persistence
	hub   *feed.Hub
}

func (s *recordSink) Insert(ctx context.Context, snap stream.Snapshot) (string, error) {
	id, err := s.store.InsertMessage(ctx, session.Message{
		SessionID:          snap.SessionID,
		Role:               snap.Role,
		Content:            snap.Content,
		StructuredThinking: snap.Thinking,
	})
	if err != nil {
		return "", err
	}
	s.publish(snap, id)
	return id, nil
}

func (s *recordSink) Patch(ctx context.Context, id string, snap stream.Snapshot) error {
	if err := s.store.PatchMessageContent(ctx, id, snap.Content, snap.Thinking); err != nil {
		return err
	}
	s.publish(snap, id)
	return nil
}

func (s *recordSink) publish(snap stream.Snapshot, id string) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(feed.Update{
		SessionID: snap.SessionID,
		RecordID:  id,
		Role:      snap.Role,
		Content:   snap.Content,
		Thinking:  snap.Thinking,
	})
}
