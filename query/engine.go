package query

import (
	"context"
	"time"

	"github.com/aethiopicuschan/zapcat/logger"
	"github.com/aethiopicuschan/zapcat/metrics"
)

// Engine runs one request line through parse, dispatch and encode.
type Engine struct {
	Dispatcher *Dispatcher
	Encoder    *Encoder
	Logger     logger.Logger
}

// Resolve parses and dispatches line without framing the answer.
func (e *Engine) Resolve(ctx context.Context, line string) (Query, string, error) {
	start := time.Now()
	q := Parse(line)
	resp, err := e.Dispatcher.Dispatch(ctx, q)
	metrics.ObserveQuery(q.Kind.String(), time.Since(start), err)
	return q, resp, err
}

// Handle answers line with the bytes to write back.
func (e *Engine) Handle(ctx context.Context, line string) ([]byte, error) {
	_, resp, err := e.Resolve(ctx, line)
	if err != nil {
		return nil, err
	}
	out := e.Encoder.Encode(resp)
	if e.Logger != nil {
		e.Logger.Debugf("sending '%s' (% x)", resp, out)
	}
	return out, nil
}
