// Package trapper pushes item values to a monitoring server, for checks the
// server does not poll for.
package trapper

import (
	"context"
	"encoding/base64"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/aethiopicuschan/zapcat/logger"
	"github.com/aethiopicuschan/zapcat/mbean"
	"github.com/aethiopicuschan/zapcat/metrics"
	"github.com/aethiopicuschan/zapcat/query"
)

// DefaultPort is the monitoring server's trapper port.
const DefaultPort = 10051

// ErrStopped is returned by Send after Stop.
var ErrStopped = errors.New("trapper stopped")

type item struct {
	key   string
	value string
}

// Trapper sends items from a queue on a background goroutine, one
// connection per item. Failed sends are logged and dropped.
type Trapper struct {
	addr    string
	host    string
	timeout time.Duration
	logger  logger.Logger

	queue chan item
	stop  chan struct{}

	mu      sync.Mutex
	stopped bool

	sender  sync.WaitGroup
	pollers sync.WaitGroup
}

type Option func(*Trapper)

func WithPort(port int) Option {
	return func(t *Trapper) {
		host, _, err := net.SplitHostPort(t.addr)
		if err == nil {
			t.addr = net.JoinHostPort(host, strconv.Itoa(port))
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(t *Trapper) { t.timeout = d }
}

func WithLogger(l logger.Logger) Option {
	return func(t *Trapper) { t.logger = l }
}

func WithQueueSize(n int) Option {
	return func(t *Trapper) { t.queue = make(chan item, n) }
}

// New starts a trapper reporting as host to the server at server.
func New(server, host string, opts ...Option) *Trapper {
	t := &Trapper{
		addr:    net.JoinHostPort(server, strconv.Itoa(DefaultPort)),
		host:    host,
		timeout: 10 * time.Second,
		logger:  logger.NopLogger,
		queue:   make(chan item, 128),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.sender.Add(1)
	go t.run()
	return t
}

// Envelope is the wire form of one item.
func Envelope(host, key, value string) []byte {
	enc := base64.StdEncoding.EncodeToString
	return []byte("<req><host>" + enc([]byte(host)) +
		"</host><key>" + enc([]byte(key)) +
		"</key><data>" + enc([]byte(value)) +
		"</data></req>")
}

// Send queues value for key. It blocks while the queue is full.
func (t *Trapper) Send(key, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return ErrStopped
	}
	t.queue <- item{key: key, value: value}
	return nil
}

// Every sends the attribute of the named object as key every interval until
// ctx is done or the trapper stops. A missing object or attribute is sent as
// ZBX_NOTSUPPORTED; other lookup errors skip that round. The interval must
// be positive.
func (t *Trapper) Every(ctx context.Context, interval time.Duration, key, objectName, attribute string, src mbean.Source) error {
	if interval <= 0 {
		return errors.Errorf("polling %s: interval must be positive, got %s", key, interval)
	}
	t.pollers.Add(1)
	go func() {
		defer t.pollers.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stop:
				return
			case <-ticker.C:
			}
			v, err := src.Attribute(ctx, objectName, attribute)
			if errors.Is(err, mbean.ErrInstanceNotFound) || errors.Is(err, mbean.ErrAttributeNotFound) {
				v, err = query.NotSupported, nil
			}
			if err != nil {
				t.logger.Warnf("skipping %s: %v", key, err)
				continue
			}
			if err := t.Send(key, v); err != nil {
				return
			}
		}
	}()
	return nil
}

// Stop sends what is queued and shuts the trapper down.
func (t *Trapper) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	close(t.stop)
	t.mu.Unlock()

	t.pollers.Wait()
	close(t.queue)
	t.sender.Wait()
}

func (t *Trapper) run() {
	defer t.sender.Done()
	for it := range t.queue {
		err := t.send(it)
		metrics.ObserveTrap(err)
		if err != nil {
			t.logger.Errorf("dropping %s: %v", it.key, err)
			continue
		}
		t.logger.Debugf("sent %s to %s", it.key, t.addr)
	}
}

func (t *Trapper) send(it item) error {
	return Push(t.addr, t.host, it.key, it.value, t.timeout)
}

// Push sends one item to the server at addr on a fresh connection and
// returns once it is written.
func Push(addr, host, key, value string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return errors.Wrapf(err, "connecting to %s", addr)
	}
	defer conn.Close()
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return errors.Wrap(err, "setting deadline")
		}
	}
	if _, err := conn.Write(Envelope(host, key, value)); err != nil {
		return errors.Wrapf(err, "writing to %s", addr)
	}
	return nil
}
