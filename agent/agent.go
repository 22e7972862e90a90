// Package agent accepts connections from a monitoring server and answers
// its passive checks.
package agent

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"

	"github.com/aethiopicuschan/zapcat/logger"
	"github.com/aethiopicuschan/zapcat/metrics"
	"github.com/aethiopicuschan/zapcat/query"
)

const (
	// TransportBlocking runs one goroutine per connection with blocking
	// reads.
	TransportBlocking = "blocking"
	// TransportEvented multiplexes connections on an evio event loop. evio
	// closes a connection as soon as the peer half-closes, so a request
	// cut off by end-of-stream before its '\n' is dropped unanswered; use
	// TransportBlocking where peers do that.
	TransportEvented = "evented"
)

// DefaultAddr is the port zapcat agents listen on by default.
const DefaultAddr = ":10052"

// Options configures an Agent. The zero value listens on DefaultAddr with
// the blocking transport, no connection limit and no read timeout.
type Options struct {
	Addr      string
	Transport string
	// MaxConnections bounds concurrently served connections on the
	// blocking transport. Zero means unlimited.
	MaxConnections int
	// ReadTimeout bounds the wait for each request line. Zero means a
	// silent peer holds its worker forever.
	ReadTimeout time.Duration
	// PipelineWait is how long a worker waits for a further request after
	// answering one. Zero closes the connection unless a request is already
	// buffered.
	PipelineWait time.Duration
	// EventLoops is the number of evio loops for the evented transport.
	EventLoops int
}

// Agent serves passive checks.
type Agent struct {
	opts   Options
	engine *query.Engine
	logger logger.Logger

	ready chan struct{}
	once  sync.Once
	addr  net.Addr

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func New(engine *query.Engine, opts Options, log logger.Logger) *Agent {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.Transport == "" {
		opts.Transport = TransportBlocking
	}
	if log == nil {
		log = logger.NopLogger
	}
	return &Agent{
		opts:   opts,
		engine: engine,
		logger: log,
		ready:  make(chan struct{}),
		conns:  make(map[net.Conn]struct{}),
	}
}

// Ready is closed once the agent is listening.
func (a *Agent) Ready() <-chan struct{} {
	return a.ready
}

// Addr is the listening address. Valid after Ready is closed.
func (a *Agent) Addr() net.Addr {
	<-a.ready
	return a.addr
}

func (a *Agent) setReady(addr net.Addr) {
	a.once.Do(func() {
		a.addr = addr
		close(a.ready)
	})
}

// ListenAndServe serves until ctx is cancelled.
func (a *Agent) ListenAndServe(ctx context.Context) error {
	switch a.opts.Transport {
	case TransportBlocking:
		return a.serveBlocking(ctx)
	case TransportEvented:
		return a.serveEvented(ctx)
	}
	return errors.Errorf("unknown transport %q", a.opts.Transport)
}

func (a *Agent) serveBlocking(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.opts.Addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", a.opts.Addr)
	}
	defer ln.Close()

	var pool *ants.Pool
	if a.opts.MaxConnections > 0 {
		pool, err = ants.NewPool(a.opts.MaxConnections, ants.WithPanicHandler(func(v any) {
			a.logger.Errorf("connection handler panic: %v", v)
		}))
		if err != nil {
			return errors.Wrap(err, "creating connection pool")
		}
		defer pool.Release()
	}

	a.logger.Infof("listening on %s (%s)", ln.Addr(), a.opts.Transport)
	a.setReady(ln.Addr())

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
			a.closeConns()
		case <-stop:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			a.logger.Errorf("accept error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		metrics.Connections.Inc()
		a.track(conn)
		if ctx.Err() != nil {
			// closeConns may already have run.
			_ = conn.Close()
		}

		task := a.task(ctx, conn)
		a.wg.Add(1)
		if pool == nil {
			go task()
			continue
		}
		if err := pool.Submit(task); err != nil {
			a.wg.Done()
			a.untrack(conn)
			_ = conn.Close()
			a.logger.Errorf("failed to submit connection handler to pool: %v", err)
		}
	}

	a.wg.Wait()
	a.logger.Infof("stopped listening on %s", ln.Addr())
	return nil
}

func (a *Agent) task(ctx context.Context, conn net.Conn) func() {
	log := a.logger.WithPrefix("[" + uuid.NewString()[:8] + "] ")
	return func() {
		defer a.wg.Done()
		defer a.untrack(conn)
		newWorker(conn, a.engine, a.opts, log).run(ctx)
	}
}

func (a *Agent) track(conn net.Conn) {
	a.mu.Lock()
	a.conns[conn] = struct{}{}
	a.mu.Unlock()
}

func (a *Agent) untrack(conn net.Conn) {
	a.mu.Lock()
	delete(a.conns, conn)
	a.mu.Unlock()
}

// closeConns unblocks workers waiting on their peers.
func (a *Agent) closeConns() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for conn := range a.conns {
		_ = conn.Close()
	}
}
