package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/wandlerhq/wandler/pkg/api"
	"github.com/wandlerhq/wandler/pkg/observability"
	"github.com/wandlerhq/wandler/pkg/provider"
	"github.com/wandlerhq/wandler/pkg/transport"
)

var (
	// errStreamTruncated marks a backend stream that closed without a
	// terminal chunk. Indistinguishable from a dropped connection.
	errStreamTruncated = errors.New("backend stream ended without a terminal chunk")

	// errStreamStalled marks a backend stream that stopped producing
	// chunks within the idle window.
	errStreamStalled = errors.New("backend stream stalled")
)

// streamMessage serves one streaming exchange. Recoverable backend failures
// mid-stream are hidden from the client: the backend request is reissued
// from the beginning and regenerated text is discarded until the byte count
// already emitted is reached, so the client sees a single uninterrupted
// event stream. A failure after a tool_use block opened is terminal because
// partially emitted tool arguments cannot be reconciled across attempts.
func (e *Engine) streamMessage(ctx context.Context, req *api.MessagesRequest, provReq *provider.ProviderRequest, w transport.ResponseWriter) (exchangeResult, error) {
	observability.StreamingConnections.Inc()
	defer observability.StreamingConnections.Dec()

	provReq.Stream = true
	backend := e.provider.Name()
	budget := e.cfg.StreamRetryBudget

	sess := &streamSession{
		w:             w,
		model:         provReq.Model,
		inputEstimate: estimateMessagesTokens(req),
		idle:          e.cfg.streamIdleTimeout(),
		tools:         make(map[int]*toolBlock),
	}

	for {
		attemptStart := time.Now()
		cause := e.streamAttempt(ctx, provReq, sess)
		observability.BackendLatency.WithLabelValues(backend, provReq.Model).Observe(time.Since(attemptStart).Seconds())

		if cause == nil {
			observability.BackendRequestsTotal.WithLabelValues(backend, provReq.Model, "success").Inc()
			if sess.retries > 0 {
				observability.StreamRetriesTotal.WithLabelValues(req.Model, "recovered").Inc()
			}
			return sess.result(), sess.finish(ctx)
		}
		observability.BackendRequestsTotal.WithLabelValues(backend, provReq.Model, "error").Inc()

		// A failed client write or a cancelled request ends the exchange
		// outright; there is nobody left to stream to.
		if sess.writeErr != nil {
			return sess.result(), sess.writeErr
		}
		if ctx.Err() != nil {
			return sess.result(), ctx.Err()
		}

		switch {
		case sess.toolOpened, !api.IsRetryable(cause):
			observability.StreamRetriesTotal.WithLabelValues(req.Model, "terminal").Inc()
			slog.Warn("stream failed and cannot resume",
				"request_id", transport.RequestIDFromContext(ctx),
				"model", req.Model,
				"tool_use_started", sess.toolOpened,
				"retries", sess.retries,
				"error", cause)
			return sess.result(), sess.fail(ctx, streamFailure(cause))

		case sess.retries >= budget:
			observability.StreamRetriesTotal.WithLabelValues(req.Model, "exhausted").Inc()
			slog.Warn("stream retry budget exhausted",
				"request_id", transport.RequestIDFromContext(ctx),
				"model", req.Model,
				"retries", sess.retries,
				"error", cause)
			return sess.result(), sess.fail(ctx, api.NewStreamExhaustedError(sess.retries, cause.Error()))
		}

		sess.retries++
		sess.prepareResume()
		slog.Warn("backend stream failed, reconnecting",
			"request_id", transport.RequestIDFromContext(ctx),
			"model", req.Model,
			"attempt", sess.retries,
			"budget", budget,
			"emitted_bytes", sess.textEmitted,
			"error", cause)
	}
}

// streamAttempt runs a single backend connection. The attempt gets its own
// context so an abandoned producer goroutine is released as soon as the
// attempt ends, not when the request does.
func (e *Engine) streamAttempt(ctx context.Context, provReq *provider.ProviderRequest, sess *streamSession) error {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := e.provider.Stream(attemptCtx, provReq)
	if err != nil {
		return err
	}

	// The client framing opens only once a backend stream exists, so a
	// failure before this point can still become a plain HTTP error.
	if !sess.started {
		if err := sess.begin(ctx); err != nil {
			return err
		}
	}
	return sess.consume(ctx, events)
}

// streamFailure lifts a stream-ending cause into the client error envelope.
func streamFailure(cause error) *api.Error {
	var apiErr *api.Error
	if errors.As(cause, &apiErr) {
		return apiErr
	}
	return api.NewAPIError(cause.Error())
}

// toolBlock tracks one tool_use content block opened on the client stream.
type toolBlock struct {
	index int // client-facing content block index
	id    string
	name  string
}

// streamSession holds everything the retry controller must remember across
// backend connection attempts: what the client has already received, which
// blocks are open, and how the stream ended.
type streamSession struct {
	w             transport.ResponseWriter
	model         string // resolved backend model, reported in message_start
	inputEstimate int
	idle          time.Duration

	started     bool // message_start has been emitted
	textEmitted int  // bytes of text the client has received
	discard     int  // bytes of regenerated text still to suppress
	blockCount  int  // highest content block index handed out
	tools       map[int]*toolBlock
	order       []*toolBlock
	toolOpened  bool

	retries    int
	stopReason api.StopReason
	usage      *api.Usage
	writeErr   error
}

// write forwards one event to the client and records a failed write. After
// the first failure every further write is skipped.
func (s *streamSession) write(ctx context.Context, ev api.StreamEvent) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	if err := s.w.WriteEvent(ctx, ev); err != nil {
		s.writeErr = err
		return err
	}
	return nil
}

// begin emits the stream preamble: the message skeleton, the text block at
// index zero, and a keepalive ping.
func (s *streamSession) begin(ctx context.Context) error {
	msg := api.NewMessagesResponse(s.model)
	msg.Usage = api.Usage{InputTokens: s.inputEstimate}
	if err := s.write(ctx, api.NewMessageStartEvent(msg)); err != nil {
		return err
	}
	if err := s.write(ctx, api.NewContentBlockStartEvent(0, api.NewTextBlock(""))); err != nil {
		return err
	}
	if err := s.write(ctx, api.NewPingEvent()); err != nil {
		return err
	}
	s.started = true
	return nil
}

// consume forwards backend events to the client until the stream ends. It
// returns nil only when the backend produced a terminal chunk; a channel
// that closes without one means the connection dropped mid-answer. The
// trailing usage-only chunk arrives as a second done event, so the loop
// runs until the channel closes rather than stopping at the first.
func (s *streamSession) consume(ctx context.Context, events <-chan provider.ProviderEvent) error {
	sawDone := false
	timer := time.NewTimer(s.idle)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return errStreamStalled

		case ev, ok := <-events:
			if !ok {
				if !sawDone {
					return errStreamTruncated
				}
				return nil
			}
			timer.Reset(s.idle)

			switch ev.Type {
			case provider.ProviderEventTextDelta:
				if err := s.onText(ctx, ev.Delta); err != nil {
					return err
				}
			case provider.ProviderEventToolCallDelta:
				if err := s.onToolCall(ctx, ev); err != nil {
					return err
				}
			case provider.ProviderEventToolCallDone:
				// Argument fragments were forwarded as they arrived;
				// the block closes with the terminal framing.
			case provider.ProviderEventReasoningDelta:
				// Backend reasoning is not part of the client answer.
			case provider.ProviderEventDone:
				sawDone = true
				if ev.StopReason != "" {
					s.stopReason = ev.StopReason
				}
				if ev.Usage != nil {
					s.usage = ev.Usage
				}
			case provider.ProviderEventError:
				return ev.Err
			}
		}
	}
}

// onText emits a text delta for block zero. While resuming, regenerated
// text is dropped until the client's byte position is reached; a delta
// straddling the boundary is split and only the unseen tail is sent.
func (s *streamSession) onText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if s.discard > 0 {
		if len(text) <= s.discard {
			s.discard -= len(text)
			return nil
		}
		text = text[s.discard:]
		s.discard = 0
	}
	if err := s.write(ctx, api.NewTextDeltaEvent(0, text)); err != nil {
		return err
	}
	s.textEmitted += len(text)
	return nil
}

// onToolCall opens a tool_use block on first sight of a backend tool call
// index and forwards argument fragments. Once any tool block is open the
// session is no longer resumable.
func (s *streamSession) onToolCall(ctx context.Context, ev provider.ProviderEvent) error {
	tb, ok := s.tools[ev.ToolCallIndex]
	if !ok {
		s.blockCount++
		tb = &toolBlock{index: s.blockCount, id: ev.ToolCallID, name: ev.FunctionName}
		if tb.id == "" {
			tb.id = api.NewToolUseID()
		}
		s.tools[ev.ToolCallIndex] = tb
		s.order = append(s.order, tb)
		s.toolOpened = true
		block := api.NewToolUseBlock(tb.id, tb.name, nil)
		if err := s.write(ctx, api.NewContentBlockStartEvent(tb.index, block)); err != nil {
			return err
		}
	}
	if ev.Delta == "" {
		return nil
	}
	return s.write(ctx, api.NewInputJSONDeltaEvent(tb.index, ev.Delta))
}

// prepareResume arms duplicate suppression for the next attempt. The next
// connection regenerates the answer from the beginning; everything up to
// textEmitted bytes has already been delivered.
func (s *streamSession) prepareResume() {
	s.discard = s.textEmitted
}

// finish closes all open blocks and emits the terminal framing for a
// completed stream.
func (s *streamSession) finish(ctx context.Context) error {
	if err := s.write(ctx, api.NewContentBlockStopEvent(0)); err != nil {
		return err
	}
	for _, tb := range s.order {
		if err := s.write(ctx, api.NewContentBlockStopEvent(tb.index)); err != nil {
			return err
		}
	}
	reason := s.stopReason
	if reason == "" {
		reason = api.StopReasonEndTurn
	}
	if err := s.write(ctx, api.NewMessageDeltaEvent(reason, nil, s.outputTokens())); err != nil {
		return err
	}
	return s.write(ctx, api.NewMessageStopEvent())
}

// fail terminates an already-started stream abnormally: an error event,
// then the regular terminal framing with stop_reason "error" so strict
// clients can still finish parsing. Before the preamble has been sent the
// cause is returned as-is for the transport layer to render as a plain
// HTTP error.
func (s *streamSession) fail(ctx context.Context, cause *api.Error) error {
	if !s.started {
		return cause
	}

	events := []api.StreamEvent{
		api.NewErrorEvent(cause),
		api.NewContentBlockStopEvent(0),
	}
	for _, tb := range s.order {
		events = append(events, api.NewContentBlockStopEvent(tb.index))
	}
	events = append(events,
		api.NewMessageDeltaEvent(api.StopReasonError, nil, s.outputTokens()),
		api.NewMessageStopEvent(),
	)
	for _, ev := range events {
		if err := s.write(ctx, ev); err != nil {
			break
		}
	}
	return cause
}

// outputTokens reports backend usage when available, falling back to the
// chars/4 estimate over the emitted text.
func (s *streamSession) outputTokens() int {
	if s.usage != nil {
		return s.usage.OutputTokens
	}
	return (s.textEmitted + charsPerToken - 1) / charsPerToken
}

// result summarizes the session for metrics and the exchange ledger.
func (s *streamSession) result() exchangeResult {
	res := exchangeResult{retries: s.retries}
	switch {
	case s.usage != nil:
		res.usage = *s.usage
	case s.started:
		res.usage = api.Usage{InputTokens: s.inputEstimate, OutputTokens: s.outputTokens()}
	}
	return res
}
