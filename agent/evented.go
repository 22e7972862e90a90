package agent

import (
	"bytes"
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tidwall/evio"

	"github.com/aethiopicuschan/zapcat/logger"
	"github.com/aethiopicuschan/zapcat/metrics"
	"github.com/aethiopicuschan/zapcat/query"
)

// eventedConn holds per-connection state for the evented transport.
type eventedConn struct {
	buffer []byte
	logger logger.Logger
}

func newEventedConn(size int, log logger.Logger) *eventedConn {
	return &eventedConn{
		buffer: make([]byte, 0, size),
		logger: log,
	}
}

func (a *Agent) serveEvented(ctx context.Context) error {
	addr := a.opts.Addr
	if !strings.Contains(addr, "://") {
		addr = "tcp://" + addr
	}

	var events evio.Events
	events.NumLoops = a.opts.EventLoops
	events.Serving = func(srv evio.Server) (action evio.Action) {
		a.logger.Infof("listening on %s (%s, %d loops)", srv.Addrs[0], a.opts.Transport, srv.NumLoops)
		a.setReady(srv.Addrs[0])
		return
	}
	events.Tick = func() (delay time.Duration, action evio.Action) {
		if ctx.Err() != nil {
			return 0, evio.Shutdown
		}
		return 100 * time.Millisecond, evio.None
	}
	events.Opened = func(c evio.Conn) (out []byte, opts evio.Options, action evio.Action) {
		metrics.Connections.Inc()
		log := a.logger.WithPrefix("[" + uuid.NewString()[:8] + "] ")
		log.Debugf("opened connection from %s", c.RemoteAddr())
		c.SetContext(newEventedConn(1024, log))
		return
	}
	events.Data = func(c evio.Conn, in []byte) (out []byte, action evio.Action) {
		ec, ok := c.Context().(*eventedConn)
		if !ok {
			ec = newEventedConn(1024, a.logger)
			c.SetContext(ec)
		}
		ec.buffer = append(ec.buffer, in...)
		return a.drain(ctx, ec)
	}
	events.Closed = func(c evio.Conn, err error) (action evio.Action) {
		if ec, ok := c.Context().(*eventedConn); ok {
			if len(ec.buffer) > 0 {
				ec.logger.Debugf("peer closed with %d unanswered bytes", len(ec.buffer))
			}
			ec.logger.Debugf("worker is done")
		}
		return
	}

	if err := evio.Serve(events, addr); err != nil {
		return errors.Wrapf(err, "serving on %s", addr)
	}
	a.logger.Infof("stopped listening on %s", addr)
	return nil
}

// drain answers every complete line in the buffer. Once at least one line
// has been answered and nothing is left over, the connection is closed, the
// same way a blocking worker closes when no further request is waiting.
func (a *Agent) drain(ctx context.Context, ec *eventedConn) (out []byte, action evio.Action) {
	defer func() {
		if v := recover(); v != nil {
			metrics.ConnectionFailures.WithLabelValues(metrics.StagePanic).Inc()
			ec.logger.Errorf("dropping panic: %v\n%s", v, debug.Stack())
			action = evio.Close
		}
	}()

	answered := false
	for {
		idx := bytes.IndexByte(ec.buffer, '\n')
		if idx == -1 {
			break
		}
		line := query.Latin1(ec.buffer[:idx])
		ec.buffer = ec.buffer[idx+1:]
		ec.logger.Debugf("received '%s'", line)

		resp, err := a.engine.Handle(ctx, line)
		if err != nil {
			metrics.ConnectionFailures.WithLabelValues(metrics.StageDispatch).Inc()
			ec.logger.Errorf("dropping connection: %v", err)
			return out, evio.Close
		}
		out = append(out, resp...)
		answered = true
	}
	if answered && len(ec.buffer) == 0 {
		return out, evio.Close
	}
	return out, evio.None
}
