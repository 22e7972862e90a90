package agent

import (
	"bufio"
	"context"
	"net"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"

	"github.com/aethiopicuschan/zapcat/logger"
	"github.com/aethiopicuschan/zapcat/metrics"
	"github.com/aethiopicuschan/zapcat/query"
)

// worker owns one accepted connection. It answers requests one at a time
// for as long as the next request is already waiting, then closes the
// connection. Any failure closes the connection; nothing is retried.
type worker struct {
	conn   net.Conn
	r      *bufio.Reader
	engine *query.Engine
	logger logger.Logger

	readTimeout  time.Duration
	pipelineWait time.Duration
}

func newWorker(conn net.Conn, engine *query.Engine, opts Options, log logger.Logger) *worker {
	return &worker{
		conn:         conn,
		r:            bufio.NewReader(conn),
		engine:       engine,
		logger:       log,
		readTimeout:  opts.ReadTimeout,
		pipelineWait: opts.PipelineWait,
	}
}

func (w *worker) run(ctx context.Context) {
	defer w.conn.Close()
	defer func() {
		if v := recover(); v != nil {
			metrics.ConnectionFailures.WithLabelValues(metrics.StagePanic).Inc()
			w.logger.Errorf("dropping panic: %v\n%s", v, debug.Stack())
		}
	}()

	w.logger.Debugf("started worker for %s", w.conn.RemoteAddr())
	for {
		if stage, err := w.handle(ctx); err != nil {
			metrics.ConnectionFailures.WithLabelValues(stage).Inc()
			w.logger.Errorf("dropping connection: %v", err)
			return
		}
		if !w.moreInput() {
			break
		}
	}
	w.logger.Debugf("worker is done")
}

// handle answers one request, returning the failed stage on error.
func (w *worker) handle(ctx context.Context) (string, error) {
	var deadline time.Time
	if w.readTimeout > 0 {
		deadline = time.Now().Add(w.readTimeout)
	}
	if err := w.conn.SetReadDeadline(deadline); err != nil {
		return metrics.StageReceive, errors.Wrap(err, "setting read deadline")
	}

	line, err := Receive(w.r)
	if err != nil {
		return metrics.StageReceive, errors.Wrap(err, "receiving request")
	}
	w.logger.Debugf("received '%s'", line)

	out, err := w.engine.Handle(ctx, line)
	if err != nil {
		return metrics.StageDispatch, err
	}

	if _, err := w.conn.Write(out); err != nil {
		return metrics.StageSend, errors.Wrap(err, "sending response")
	}
	return "", nil
}

// moreInput reports whether another request is already available, either
// read into the buffer or waiting in the socket. It is a hint, not a
// guarantee: a request arriving just after the check is not read on this
// connection.
func (w *worker) moreInput() bool {
	if w.r.Buffered() > 0 || pending(w.conn) {
		return true
	}
	if w.pipelineWait <= 0 {
		return false
	}
	if err := w.conn.SetReadDeadline(time.Now().Add(w.pipelineWait)); err != nil {
		return false
	}
	_, err := w.r.Peek(1)
	return err == nil
}
