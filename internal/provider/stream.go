package provider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/netpulse/internal/chunker"
	"github.com/rcliao/netpulse/internal/model"
	"github.com/rcliao/netpulse/internal/sse"
)

// Stream runs a streaming analysis, calling onChunk with each delta and the
// text so far.
//
// A cached result is replayed through onChunk in fixed-size slices with a
// short pause between them and no network call. Otherwise exactly one
// request goes to the primary endpoint; there is no fallback. Cancelling
// ctx aborts the request and any pending decode and returns ErrCanceled;
// a passed ctx deadline returns a TimeoutError instead.
func (c *Client) Stream(ctx context.Context, req Request, onChunk sse.ChunkFunc) (*model.AnalysisResult, error) {
	start := time.Now()
	cl, err := c.prepare(req)
	if err != nil {
		return nil, err
	}
	if res, ok := c.cached(ctx, cl); ok {
		if err := c.replay(ctx, cl, res.Analysis, onChunk); err != nil {
			return nil, err
		}
		c.metrics.ObserveAnalysis(string(cl.id), "replay", start)
		return res, nil
	}

	if ctx.Err() != nil {
		return nil, parentDone(ctx, cl)
	}
	payload, err := cl.body(true)
	if err != nil {
		return nil, err
	}

	// The stream context only ends through cancel, so its cause tells the
	// caller's cancel or deadline apart from our own timeouts.
	sctx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	defer cancel(nil)
	stop := context.AfterFunc(ctx, func() { cancel(parentDone(ctx, cl)) })
	defer stop()

	httpReq, err := http.NewRequestWithContext(sctx, http.MethodPost, cl.cfg.URL(cl.endpoint, cl.model, true), bytes.NewReader(payload))
	if err != nil {
		return nil, &ConfigurationError{Field: "endpoint", Value: cl.endpoint, Reason: err.Error()}
	}
	httpReq.Header = cl.cfg.BuildHeaders(cl.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	connect := time.AfterFunc(c.attemptTimeout, func() { cancel(errAttemptTimeout) })
	resp, err := c.http.Do(httpReq)
	connect.Stop()
	if err != nil {
		err = c.streamError(sctx, cl, err)
		c.metrics.ProviderAttempt(string(cl.id), outcome(err))
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
		err := &APIError{Provider: cl.cfg.Name, Endpoint: cl.endpoint, StatusCode: resp.StatusCode, Message: apiMessage(raw, resp.Status)}
		c.metrics.ProviderAttempt(string(cl.id), outcome(err))
		return nil, err
	}

	text, err := c.decoder.Decode(sctx, resp.Body, cl.cfg.ExtractStreamDelta, onChunk)
	if err != nil {
		err = c.streamError(sctx, cl, err)
		c.metrics.ProviderAttempt(string(cl.id), outcome(err))
		c.logger.Warn("provider stream failed",
			zap.String("provider", cl.cfg.Name), zap.Int("received", len(text)), zap.Error(err))
		return nil, err
	}
	if text == "" {
		err := &APIError{Provider: cl.cfg.Name, Endpoint: cl.endpoint, StatusCode: resp.StatusCode, Message: "stream contained no analysis"}
		c.metrics.ProviderAttempt(string(cl.id), outcome(err))
		return nil, err
	}

	c.metrics.ProviderAttempt(string(cl.id), "success")
	res := &model.AnalysisResult{
		Analysis: text,
		Model:    cl.model,
		Provider: cl.cfg.Name + " (via primary)",
	}
	c.remember(ctx, cl, res)
	c.metrics.ObserveAnalysis(string(cl.id), "stream", start)
	return res, nil
}

func (c *Client) streamError(sctx context.Context, cl *call, err error) error {
	cause := context.Cause(sctx)
	var deadline *TimeoutError
	switch {
	case errors.Is(cause, ErrCanceled):
		return ErrCanceled
	case errors.As(cause, &deadline) && deadline.Stage == StageDeadline:
		return deadline
	case errors.Is(cause, errAttemptTimeout):
		return &TimeoutError{Provider: cl.cfg.Name, Stage: StageAttempt, After: c.attemptTimeout, Err: err}
	}
	var te *sse.TimeoutError
	if errors.As(err, &te) {
		stage := StageStream
		if te.Budget == sse.BudgetStall {
			stage = StageStall
		}
		return &TimeoutError{Provider: cl.cfg.Name, Stage: stage, After: te.After, Err: err}
	}
	return &NetworkError{Provider: cl.cfg.Name, Endpoint: cl.endpoint, Err: err}
}

// replay feeds cached text through onChunk, checking ctx before every slice.
func (c *Client) replay(ctx context.Context, cl *call, text string, onChunk sse.ChunkFunc) error {
	var full []byte
	for i, part := range chunker.Fixed(text, chunker.ReplaySize) {
		if ctx.Err() != nil {
			return parentDone(ctx, cl)
		}
		if i > 0 {
			if err := c.sleep(ctx, c.replayDelay); err != nil {
				return parentDone(ctx, cl)
			}
		}
		full = append(full, part...)
		if onChunk != nil {
			onChunk(part, string(full))
		}
	}
	return nil
}
