package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrRequestFailed = errors.New("API request failed")
	ErrStreamError   = errors.New("stream error")
)

const defaultAPIURL = "https://api.anthropic.com/v1/messages"

// Client streams responses from the Anthropic Messages API.
type Client struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
}

// NewClient creates a new streaming client. Tracer and meter may be
// nil; spans and metrics are then skipped.
func NewClient(apiKey string, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiURL:     defaultAPIURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger,
		tracer:     tracer,
		meter:      meter,
	}
}

// WithURL overrides the API endpoint, for tests.
func (c *Client) WithURL(url string) *Client {
	c.apiURL = url
	return c
}

// EventStream is a lazy, single-pass, non-restartable event sequence.
// Err is valid once Events has been drained to close.
type EventStream interface {
	Events() <-chan Event
	Err() error
}

type httpStream struct {
	events chan Event
	err    error
	done   chan struct{}
}

func (s *httpStream) Events() <-chan Event { return s.events }

func (s *httpStream) Err() error {
	<-s.done
	return s.err
}

// Stream opens a streaming Messages call and returns the ordered event
// sequence. Malformed chunks are skipped; a provider-reported error or
// transport failure terminates the stream and is surfaced via Err.
func (c *Client) Stream(ctx context.Context, req MessagesRequest) (EventStream, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	var span trace.Span
	if c.tracer != nil {
		ctx, span = c.tracer.Start(ctx, "anthropic_stream_call")
	}

	req.Stream = true
	jsonData, err := json.Marshal(req)
	if err != nil {
		endSpan(span)
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		endSpan(span)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("content-type", "application/json")

	c.logger.Debug("opening provider stream", "model", req.Model, "messages", len(req.Messages))
	start := time.Now()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		endSpan(span)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		endSpan(span)
		return nil, fmt.Errorf("%w: %s - %s", ErrRequestFailed, resp.Status, string(body))
	}

	st := &httpStream{
		events: make(chan Event),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(st.done)
		defer close(st.events)
		defer resp.Body.Close()
		defer endSpan(span)

		st.err = c.processStream(ctx, resp.Body, st.events)
		c.recordDuration(ctx, time.Since(start))
	}()

	return st, nil
}

// processStream reads SSE lines and emits normalized events in order.
func (c *Client) processStream(ctx context.Context, reader io.Reader, out chan<- Event) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var payload streamPayload
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			continue // skip malformed chunks
		}

		if payload.Error != nil {
			return fmt.Errorf("%w: %s", ErrStreamError, payload.Error.Message)
		}

		switch payload.Type {
		case "message_start":
			if payload.Message != nil && payload.Message.Usage.InputTokens > 0 {
				if !emit(ctx, out, Event{Type: EventUsage, InputTokens: payload.Message.Usage.InputTokens}) {
					return ctx.Err()
				}
			}

		case "content_block_delta":
			if payload.Delta == nil {
				continue
			}
			switch payload.Delta.Type {
			case "thinking_delta":
				if !emit(ctx, out, Event{Type: EventThinkingDelta, Text: payload.Delta.Thinking}) {
					return ctx.Err()
				}
			case "text_delta":
				if !emit(ctx, out, Event{Type: EventTextDelta, Text: payload.Delta.Text}) {
					return ctx.Err()
				}
			}

		case "message_delta":
			if payload.Usage != nil && payload.Usage.OutputTokens > 0 {
				if !emit(ctx, out, Event{Type: EventUsage, OutputTokens: payload.Usage.OutputTokens}) {
					return ctx.Err()
				}
			}

		case "message_stop":
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		// A canceled context closes the HTTP body and shows up here as
		// an IO error; report the cancellation instead.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Error("SSE scanner error", "error", err)
		return fmt.Errorf("%w: %v", ErrStreamError, err)
	}
	return nil
}

func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) recordDuration(ctx context.Context, d time.Duration) {
	if c.meter == nil {
		return
	}
	histogram, err := c.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err == nil {
		histogram.Record(ctx, float64(d.Milliseconds()))
	}
}

func endSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}
