// Package sse decodes server-sent-event response bodies from AI providers
// into incremental text deltas.
package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/netpulse/internal/logging"
)

const (
	DefaultOverallTimeout = 60 * time.Second
	DefaultStallTimeout   = 10 * time.Second

	readSize = 4096
)

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// Budget names which time budget a stream exceeded.
type Budget string

const (
	BudgetStream Budget = "stream"
	BudgetStall  Budget = "stall"
)

// TimeoutError reports an exceeded stream budget.
type TimeoutError struct {
	Budget Budget
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Budget == BudgetStall {
		return fmt.Sprintf("stream stalled: no data for %s", e.After)
	}
	return fmt.Sprintf("stream exceeded %s", e.After)
}

// Timeout lets callers test for timeouts without importing this package.
func (e *TimeoutError) Timeout() bool { return true }

// ExtractFunc pulls the text delta out of one event payload.
type ExtractFunc func(payload json.RawMessage) (string, error)

// ChunkFunc receives each non-empty delta with the text accumulated so far.
type ChunkFunc func(delta, full string)

// Decoder reads SSE bodies. The zero value uses the default budgets.
type Decoder struct {
	OverallTimeout time.Duration
	StallTimeout   time.Duration
	Logger         *zap.Logger
}

type readResult struct {
	data []byte
	err  error
}

// Decode reads body until EOF and returns the concatenated deltas.
//
// Only "data:" lines are considered; the [DONE] sentinel is dropped, and
// payloads that are not valid JSON or that extract fails on are logged and
// skipped. On every return path body has been closed and the reading
// goroutine has exited, so body.Close must unblock a pending Read.
// Cancellation returns context.Cause(ctx).
func (d *Decoder) Decode(ctx context.Context, body io.ReadCloser, extract ExtractFunc, onChunk ChunkFunc) (string, error) {
	overallBudget := d.OverallTimeout
	if overallBudget <= 0 {
		overallBudget = DefaultOverallTimeout
	}
	stallBudget := d.StallTimeout
	if stallBudget <= 0 {
		stallBudget = DefaultStallTimeout
	}
	logger := logging.OrNop(d.Logger)

	reads := make(chan readResult)
	stop := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		for {
			buf := make([]byte, readSize)
			n, err := body.Read(buf)
			if n > 0 {
				select {
				case reads <- readResult{data: buf[:n]}:
				case <-stop:
					return
				}
			}
			if err != nil {
				select {
				case reads <- readResult{err: err}:
				case <-stop:
				}
				return
			}
		}
	}()
	defer func() {
		close(stop)
		body.Close()
		<-exited
	}()

	overall := time.NewTimer(overallBudget)
	defer overall.Stop()
	stall := time.NewTimer(stallBudget)
	defer stall.Stop()

	var full strings.Builder
	var pending []byte

	handle := func(line []byte) {
		line = bytes.TrimRight(line, "\r")
		if !bytes.HasPrefix(line, dataPrefix) {
			return
		}
		payload := bytes.TrimSpace(line[len(dataPrefix):])
		if len(payload) == 0 || bytes.Equal(payload, doneMarker) {
			return
		}
		if !json.Valid(payload) {
			logger.Debug("skipping malformed stream line", zap.ByteString("payload", payload))
			return
		}
		delta, err := extract(json.RawMessage(payload))
		if err != nil {
			logger.Debug("skipping unreadable stream event", zap.Error(err))
			return
		}
		if delta == "" {
			return
		}
		full.WriteString(delta)
		if onChunk != nil {
			onChunk(delta, full.String())
		}
	}

	for {
		select {
		case <-ctx.Done():
			return full.String(), context.Cause(ctx)
		case <-overall.C:
			return full.String(), &TimeoutError{Budget: BudgetStream, After: overallBudget}
		case <-stall.C:
			return full.String(), &TimeoutError{Budget: BudgetStall, After: stallBudget}
		case r := <-reads:
			if len(r.data) > 0 {
				stall.Reset(stallBudget)
				pending = append(pending, r.data...)
				start := 0
				for {
					i := bytes.IndexByte(pending[start:], '\n')
					if i < 0 {
						break
					}
					handle(pending[start : start+i])
					start += i + 1
				}
				pending = pending[:copy(pending, pending[start:])]
			}
			if r.err == io.EOF {
				if len(pending) > 0 {
					handle(pending)
				}
				return full.String(), nil
			}
			if r.err != nil {
				return full.String(), fmt.Errorf("read stream: %w", r.err)
			}
		}
	}
}
