package trapper

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethiopicuschan/zapcat/logger"
	"github.com/aethiopicuschan/zapcat/mbean"
	"github.com/aethiopicuschan/zapcat/metrics"
	"github.com/aethiopicuschan/zapcat/query"
)

// fakeServer accepts trapper connections and hands each payload to the test.
func fakeServer(t *testing.T) (host string, port int, received <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ch := make(chan string, 16)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			b, _ := io.ReadAll(conn)
			conn.Close()
			ch <- string(b)
		}
	}()

	h, p, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err = strconv.Atoi(p)
	require.NoError(t, err)
	return h, port, ch
}

func next(t *testing.T, received <-chan string) string {
	t.Helper()
	select {
	case s := <-received:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("nothing received")
		return ""
	}
}

func TestEnvelope(t *testing.T) {
	got := string(Envelope("web01", "agent.ping", "1"))
	assert.Equal(t, "<req><host>d2ViMDE=</host><key>YWdlbnQucGluZw==</key><data>MQ==</data></req>", got)
}

func TestSend(t *testing.T) {
	host, port, received := fakeServer(t)
	tr := New(host, "web01", WithPort(port), WithLogger(logger.NewLogfLogger(t)))
	defer tr.Stop()

	require.NoError(t, tr.Send("app.requests", "42"))
	assert.Equal(t, string(Envelope("web01", "app.requests", "42")), next(t, received))
}

func TestStopDrainsQueue(t *testing.T) {
	host, port, received := fakeServer(t)
	tr := New(host, "web01", WithPort(port), WithQueueSize(8))

	for i := 0; i < 3; i++ {
		require.NoError(t, tr.Send("k", strconv.Itoa(i)))
	}
	tr.Stop()

	for i := 0; i < 3; i++ {
		assert.Equal(t, string(Envelope("web01", "k", strconv.Itoa(i))), next(t, received))
	}
	assert.ErrorIs(t, tr.Send("k", "late"), ErrStopped)
	tr.Stop()
}

func TestSendFailureIsCounted(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, p, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(p)
	require.NoError(t, ln.Close())

	failed := metrics.TrapperItems.WithLabelValues("error")
	before := testutil.ToFloat64(failed)

	tr := New("127.0.0.1", "web01", WithPort(port), WithTimeout(time.Second))
	require.NoError(t, tr.Send("k", "v"))
	tr.Stop()

	assert.Equal(t, before+1, testutil.ToFloat64(failed))
}

func TestEvery(t *testing.T) {
	host, port, received := fakeServer(t)
	objects := mbean.NewServer()
	require.NoError(t, objects.Register("app:type=Cache", mbean.Attributes{
		"Size": mbean.Static(7),
	}))

	tr := New(host, "web01", WithPort(port))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, tr.Every(ctx, 10*time.Millisecond, "cache.size", "app:type=Cache", "Size", objects))
	require.NoError(t, tr.Every(ctx, 10*time.Millisecond, "cache.hits", "app:type=Cache", "Hits", objects))

	seen := map[string]bool{}
	for len(seen) < 2 {
		seen[next(t, received)] = true
	}
	tr.Stop()

	assert.True(t, seen[string(Envelope("web01", "cache.size", "7"))])
	assert.True(t, seen[string(Envelope("web01", "cache.hits", query.NotSupported))])
}

func TestPush(t *testing.T) {
	host, port, received := fakeServer(t)
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	require.NoError(t, Push(addr, "web01", "app.up", "1", time.Second))
	assert.Equal(t, string(Envelope("web01", "app.up", "1")), next(t, received))
}

func TestEveryRejectsNonPositiveInterval(t *testing.T) {
	tr := New("127.0.0.1", "web01")
	defer tr.Stop()

	for _, d := range []time.Duration{0, -time.Second} {
		err := tr.Every(context.Background(), d, "k", "app:type=Cache", "Size", mbean.NewServer())
		assert.Error(t, err, d)
	}
}
