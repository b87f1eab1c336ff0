// ABOUTME: Generation Relay drives the model provider in blocking or streaming mode
// ABOUTME: A producer goroutine feeds a bounded channel that the consumer forwards in order

package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/querynox/internal/metrics"
)

// chunkBuffer bounds how far the provider may run ahead of the transport.
const chunkBuffer = 16

// Outcome describes how a streamed generation ended.
type Outcome struct {
	// Text is everything the provider produced, including chunks that were
	// not forwarded after a disconnect.
	Text string
	// Chunks counts non-empty chunks received.
	Chunks int
	// Disconnected is set when the sink rejected an event.
	Disconnected bool
	// Stage is StageDone on success, otherwise the stage that failed.
	Stage Stage
	// Err is nil on success.
	Err error
}

// Relay wraps a Model with timing, ordering and terminal-event guarantees.
type Relay struct {
	model   Model
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewRelay creates a Relay. A positive timeout bounds each generation.
func NewRelay(model Model, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		model:   model,
		timeout: timeout,
		metrics: m,
		logger:  logger.With("component", "relay"),
	}
}

func (r *Relay) generationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return context.WithCancel(ctx)
}

// Collect runs a blocking generation and returns the full text.
func (r *Relay) Collect(ctx context.Context, req GenerateRequest) (string, error) {
	genCtx, cancel := r.generationContext(ctx)
	defer cancel()

	start := time.Now()
	text, err := r.model.Generate(genCtx, req)
	r.metrics.ObserveGeneration(metrics.ModeBlocking, time.Since(start))
	if err != nil {
		r.logger.Error("generation failed", "model", req.Model, "error", err)
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return text, nil
}

// Stream runs a streaming generation, forwarding each chunk to sink as a
// content event in production order. On normal completion finalize is
// called once with the full text before the single complete event; if
// finalize fails an error event is sent instead. Any generation failure
// yields exactly one error event and finalize is not called.
//
// A sink error stops forwarding but not accumulation: if the provider still
// finishes, finalize runs so the turn is recorded.
func (r *Relay) Stream(ctx context.Context, req GenerateRequest, sink Sink, finalize func(ctx context.Context, text string) error) Outcome {
	var out Outcome
	send := func(ev Event) {
		if out.Disconnected {
			return
		}
		if err := sink.Send(ctx, ev); err != nil {
			out.Disconnected = true
			r.logger.Debug("sink rejected event, stopping forwarding",
				"event", ev.Type,
				"error", err)
		}
	}
	fail := func(stage Stage, err error, msg string) Outcome {
		send(errorEvent(msg))
		out.Stage = stage
		out.Err = &StageError{Stage: stage, Err: err}
		return out
	}

	send(statusEvent("Generating AI response..."))

	genCtx, cancel := r.generationContext(ctx)
	defer cancel()

	start := time.Now()
	stream, err := r.model.GenerateStream(genCtx, req)
	if err != nil {
		r.logger.Error("generation failed before first chunk", "model", req.Model, "error", err)
		return fail(StageGenerate, fmt.Errorf("%w: %w", ErrGeneration, err), generationErrorMessage(err))
	}

	chunks := make(chan string, chunkBuffer)
	produced := make(chan error, 1)
	go func() {
		defer close(chunks)
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				produced <- nil
				return
			}
			if err != nil {
				produced <- err
				return
			}
			if chunk == "" {
				continue
			}
			select {
			case chunks <- chunk:
			case <-genCtx.Done():
				produced <- genCtx.Err()
				return
			}
		}
	}()

	var full strings.Builder
	for chunk := range chunks {
		full.WriteString(chunk)
		out.Chunks++
		r.metrics.RecordChunk()
		send(contentEvent(chunk))
	}
	genErr := <-produced
	if cerr := stream.Close(); cerr != nil {
		r.logger.Debug("closing chunk stream", "error", cerr)
	}
	r.metrics.ObserveGeneration(metrics.ModeStreaming, time.Since(start))
	out.Text = full.String()

	if genErr != nil {
		r.logger.Error("generation failed mid-stream",
			"model", req.Model,
			"chunks", out.Chunks,
			"error", genErr)
		return fail(StageGenerate, fmt.Errorf("%w: %w", ErrGeneration, genErr), generationErrorMessage(genErr))
	}

	if finalize != nil {
		if err := finalize(ctx, out.Text); err != nil {
			return fail(StagePersist, err, msgSaveFailed)
		}
	}

	send(completeEvent(out.Text))
	out.Stage = StageDone
	return out
}
