package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethiopicuschan/zapcat/logger"
	"github.com/aethiopicuschan/zapcat/mbean"
	"github.com/aethiopicuschan/zapcat/props"
	"github.com/aethiopicuschan/zapcat/query"
)

type brokenSource struct{}

func (brokenSource) Attribute(context.Context, string, string) (string, error) {
	return "", errors.New("connection refused")
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	objects := mbean.NewServer()
	require.NoError(t, objects.Register("app:type=Cache", mbean.Attributes{
		"Size": mbean.Static(7),
	}))
	p, err := props.New("", map[string]string{"app.name": "shop"}, nil)
	require.NoError(t, err)

	var broken mbean.Source = brokenSource{}
	sources := mbean.Chain(objects, sourceOnly("remote:type=Down", broken))
	engine := &query.Engine{
		Dispatcher: &query.Dispatcher{
			Objects:    sources,
			Properties: p,
			Identity:   "zapcat test",
			Logger:     logger.NopLogger,
		},
		Encoder: &query.Encoder{Properties: p, Logger: logger.NopLogger},
	}
	return New(engine, objects, p, logger.NewLogfLogger(t))
}

// sourceOnly routes name to src and reports every other object as missing.
func sourceOnly(name string, src mbean.Source) mbean.Source {
	return routed{name: name, src: src}
}

type routed struct {
	name string
	src  mbean.Source
}

func (r routed) Attribute(ctx context.Context, objectName, attributeName string) (string, error) {
	if objectName != r.name {
		return "", mbean.ErrInstanceNotFound
	}
	return r.src.Attribute(ctx, objectName, attributeName)
}

func get(t *testing.T, s *Server, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Router().ServeHTTP(rec, req)

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func TestHealth(t *testing.T) {
	code, body := get(t, newTestServer(t), "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestObjects(t *testing.T) {
	code, body := get(t, newTestServer(t), "/api/v1/objects")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"app:type=Cache"}, body["objects"])
	assert.EqualValues(t, 1, body["count"])
}

func TestQuery(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		line string
		kind string
		resp string
	}{
		{"jmx[app:type=Cache][Size]", "jmx", "7"},
		{"jmx[app:type=Cache][Hits]", "jmx", query.NotSupported},
		{"system.property[app.name]", "system.property", "shop"},
		{"agent.ping", "agent.ping", "1"},
		{"what", "unknown", query.NotSupported},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			code, body := get(t, s, "/api/v1/query?q="+url.QueryEscape(tt.line))
			assert.Equal(t, http.StatusOK, code)
			assert.Equal(t, tt.line, body["query"])
			assert.Equal(t, tt.kind, body["kind"])
			assert.Equal(t, tt.resp, body["response"])
		})
	}
}

func TestQueryErrors(t *testing.T) {
	s := newTestServer(t)

	code, _ := get(t, s, "/api/v1/query")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := get(t, s, "/api/v1/query?q="+url.QueryEscape("jmx[remote:type=Down][X]"))
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Contains(t, body["error"], "connection refused")
}

func TestProperty(t *testing.T) {
	s := newTestServer(t)

	code, body := get(t, s, "/api/v1/properties/app.name")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "shop", body["value"])

	code, _ = get(t, s, "/api/v1/properties/nope")
	assert.Equal(t, http.StatusNotFound, code)
}
