package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethiopicuschan/zapcat/agent"
	"github.com/aethiopicuschan/zapcat/logger"
	"github.com/aethiopicuschan/zapcat/query"
	"github.com/aethiopicuschan/zapcat/version"
)

func TestLoadConfigDefaults(t *testing.T) {
	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":10052", c.Addr)
	assert.Equal(t, "blocking", c.Transport)
	assert.Equal(t, 10051, c.TrapperPort)
	assert.Zero(t, c.ReadTimeout)
	assert.NoError(t, c.Valid())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ZAPCAT_ADDR", "127.0.0.1:20052")
	t.Setenv("ZAPCAT_TRANSPORT", "evented")
	t.Setenv("ZAPCAT_READ_TIMEOUT", "3s")
	t.Setenv("ZAPCAT_PROTOCOL", "1.1")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:20052", c.Addr)
	assert.Equal(t, "evented", c.Transport)
	assert.Equal(t, 3*time.Second, c.ReadTimeout)
	assert.Equal(t, "1.1", c.Protocol)
	assert.NoError(t, c.Valid())
}

func TestLoadConfigBadValue(t *testing.T) {
	t.Setenv("ZAPCAT_MAX_CONNECTIONS", "lots")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestConfigValid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"host and port", func(c *Config) { c.Addr = "0.0.0.0:10052" }, true},
		{"no port", func(c *Config) { c.Addr = "localhost" }, false},
		{"bad admin", func(c *Config) { c.AdminAddr = "8080" }, false},
		{"unknown transport", func(c *Config) { c.Transport = "udp" }, false},
		{"negative timeout", func(c *Config) { c.ReadTimeout = -time.Second }, false},
		{"negative limit", func(c *Config) { c.MaxConnections = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Config{Addr: ":10052", Transport: "blocking"}
			tt.modify(&c)
			if tt.ok {
				assert.NoError(t, c.Valid())
			} else {
				assert.Error(t, c.Valid())
			}
		})
	}
}

func TestParseTrapItem(t *testing.T) {
	it, err := parseTrapItem("heap.used=jmx[go.runtime:type=Memory][HeapMemoryUsage.used]")
	require.NoError(t, err)
	assert.Equal(t, "heap.used", it.key)
	assert.Equal(t, "go.runtime:type=Memory", it.q.ObjectName)
	assert.Equal(t, "HeapMemoryUsage.used", it.q.AttributeName)

	for _, bad := range []string{"heap.used", "=jmx[a:b=c][D]", "k=agent.ping", "k=jmx[][]"} {
		_, err := parseTrapItem(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseAttributes(t *testing.T) {
	attrs, err := parseAttributes([]string{"Size=7", "Name=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Size": "7", "Name": "a=b"}, attrs)

	_, err = parseAttributes([]string{"Size"})
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	rc := NewRootCommand(Config{}, &stdout, &stderr)
	rc.SetArgs([]string{"version"})
	require.NoError(t, rc.Execute())
	assert.Equal(t, version.Identity()+"\n", stdout.String())
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestServeAndGet(t *testing.T) {
	addr := freeAddr(t)
	opts := serveOptions{Config: Config{
		Addr:      addr,
		Transport: agent.TransportBlocking,
		Protocol:  "1.1",
	}}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- serve(ctx, opts, logger.NewLogfLogger(t)) }()
	defer func() {
		cancel()
		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("serve did not stop")
		}
	}()

	var resp string
	var v query.ProtocolVersion
	require.Eventually(t, func() bool {
		var err error
		resp, v, err = agent.Get(context.Background(), addr, "agent.version", time.Second)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, version.Identity(), resp)
	assert.Equal(t, query.Legacy, v)

	var stdout bytes.Buffer
	rc := NewRootCommand(Config{Addr: addr}, &stdout, &bytes.Buffer{})
	rc.SetArgs([]string{"get", "jmx[go.runtime:type=Threading][GoroutineCount]"})
	require.NoError(t, rc.Execute())
	assert.Regexp(t, `^\d+\n$`, stdout.String())
}

func TestServeRejectsBadTrapItem(t *testing.T) {
	opts := serveOptions{Config: Config{Addr: freeAddr(t)}, TrapItems: []string{"nope"}}
	assert.Error(t, serve(context.Background(), opts, logger.NopLogger))
}

func TestServeRejectsNonPositiveTrapInterval(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		opts := serveOptions{
			Config: Config{
				Addr:          freeAddr(t),
				TrapperServer: "127.0.0.1",
				TrapperHost:   "web01",
			},
			TrapItems:    []string{"k=jmx[go.runtime:type=Threading][GoroutineCount]"},
			TrapInterval: d,
		}
		assert.Error(t, serve(context.Background(), opts, logger.NopLogger), d)
	}
}

func TestServeFailsBeforeListeningWithoutHostname(t *testing.T) {
	hostname = func() (string, error) { return "", errors.New("no hostname") }
	t.Cleanup(func() { hostname = os.Hostname })

	addr := freeAddr(t)
	opts := serveOptions{
		Config: Config{
			Addr:          addr,
			TrapperServer: "127.0.0.1",
		},
		TrapItems:    []string{"k=jmx[go.runtime:type=Threading][GoroutineCount]"},
		TrapInterval: time.Minute,
	}
	assert.Error(t, serve(context.Background(), opts, logger.NopLogger))

	// Nothing was left listening.
	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	ln.Close()
}

func TestRootVersionFlag(t *testing.T) {
	var stdout bytes.Buffer
	rc := NewRootCommand(Config{}, &stdout, &bytes.Buffer{})
	rc.SetArgs([]string{"--version"})
	require.NoError(t, rc.Execute())
	assert.Contains(t, stdout.String(), version.GetVersion())
}
