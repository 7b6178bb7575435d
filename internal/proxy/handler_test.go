package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/quicksilver/internal/cache"
	"github.com/any-hub/quicksilver/internal/kv"
	"github.com/any-hub/quicksilver/internal/origin"
	"github.com/any-hub/quicksilver/internal/server"
	"github.com/any-hub/quicksilver/internal/version"
)

func TestHandlerCachesStaticAssetAcrossRequests(t *testing.T) {
	upstream := newUpstream(t)
	app, gateway := newProxyApp(t, nil)

	target := upstream.URL + "/assets/app.js"
	first := doRequest(t, app, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, first.StatusCode)
	assert.Equal(t, "miss", first.Header.Get(cache.CacheStatusHeader))
	assert.Equal(t, "console.log('/assets/app.js')", readAll(t, first))
	assert.NotEmpty(t, first.Header.Get("X-Request-ID"))

	second := doRequest(t, app, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, "hit", second.Header.Get(cache.CacheStatusHeader))
	assert.Equal(t, "console.log('/assets/app.js')", readAll(t, second))
	assert.Equal(t, "application/javascript", second.Header.Get("Content-Type"))

	gateway.Wait()
	stats := gateway.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Revalidations)
}

func TestHandlerPassesDynamicRequestsThrough(t *testing.T) {
	upstream := newUpstream(t)
	app, gateway := newProxyApp(t, nil)

	req := httptest.NewRequest(http.MethodGet, upstream.URL+"/api/data", nil)
	req.Header.Set("X-Custom", "kept")
	req.Header.Set("Proxy-Authorization", "Basic c2VjcmV0")
	resp := doRequest(t, app, req)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(cache.CacheStatusHeader))
	headers := upstream.lastHeaders()
	assert.Equal(t, "kept", headers.Get("X-Custom"))
	assert.Empty(t, headers.Get("Proxy-Authorization"))
	assert.Equal(t, int64(1), gateway.Stats().PassThrough)
}

func TestHandlerBuildsTargetFromHostHeader(t *testing.T) {
	upstream := newUpstream(t)
	app, _ := newProxyApp(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/theme/site.css", nil)
	req.Host = strings.TrimPrefix(upstream.URL, "http://")
	req.Header.Set("X-Forwarded-Proto", "http")
	resp := doRequest(t, app, req)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "miss", resp.Header.Get(cache.CacheStatusHeader))
	assert.Equal(t, 1, upstream.hits("/theme/site.css"))
	assert.Empty(t, upstream.lastHeaders().Get("X-Forwarded-Proto"))
}

func TestHandlerForwardsRequestBody(t *testing.T) {
	var (
		mu   sync.Mutex
		seen string
	)
	stub := gatewayFunc(func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		mu.Lock()
		seen = req.Method + " " + string(body)
		mu.Unlock()
		return &http.Response{
			StatusCode: http.StatusCreated,
			Header:     http.Header{"Content-Type": {"text/plain"}},
			Body:       io.NopCloser(strings.NewReader("created")),
		}, nil
	})
	app := newStubApp(t, stub)

	resp := doRequest(t, app, httptest.NewRequest(http.MethodPost, "http://cdn.example.test/upload", strings.NewReader("payload")))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "created", readAll(t, resp))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "POST payload", seen)
}

func TestHandlerReturnsBadGatewayOnFetchError(t *testing.T) {
	stub := gatewayFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	app := newStubApp(t, stub)

	resp := doRequest(t, app, httptest.NewRequest(http.MethodGet, "http://cdn.example.test/app.js", nil))
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, readAll(t, resp), `"upstream_failed"`)
}

func TestHandlerStripsHopByHopResponseHeaders(t *testing.T) {
	stub := gatewayFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header: http.Header{
				"Content-Type": {"text/css"},
				"Keep-Alive":   {"timeout=5"},
				"X-Origin":     {"a", "b"},
			},
			Body: io.NopCloser(strings.NewReader("body{}")),
		}, nil
	})
	app := newStubApp(t, stub)

	resp := doRequest(t, app, httptest.NewRequest(http.MethodGet, "http://cdn.example.test/site.css", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Keep-Alive"))
	assert.Equal(t, []string{"a", "b"}, resp.Header.Values("X-Origin"))
	assert.Equal(t, version.Via(), resp.Header.Get("Via"))
	assert.Equal(t, "body{}", readAll(t, resp))
}

func TestHandlerServesBypassedRequestsDirectly(t *testing.T) {
	upstream := newUpstream(t)
	bypass := cache.NewSwitch(true)
	app, gateway := newProxyApp(t, bypass)

	target := upstream.URL + "/assets/app.js"
	for i := 0; i < 2; i++ {
		resp := doRequest(t, app, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, resp.Header.Get(cache.CacheStatusHeader))
	}
	assert.Equal(t, 2, upstream.hits("/assets/app.js"))
	assert.Equal(t, int64(0), gateway.Stats().Stored)
}

type gatewayFunc func(req *http.Request) (*http.Response, error)

func (f gatewayFunc) Handle(req *http.Request) (*http.Response, error) { return f(req) }

type upstreamServer struct {
	*httptest.Server
	mu      sync.Mutex
	counts  map[string]int
	headers http.Header
}

// newUpstream 启动一个按路径计数的源站，.js/.css 返回对应的静态资源类型。
func newUpstream(t *testing.T) *upstreamServer {
	t.Helper()
	u := &upstreamServer{counts: make(map[string]int)}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.counts[r.URL.Path]++
		u.headers = r.Header.Clone()
		u.mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, ".js"):
			w.Header().Set("Content-Type", "application/javascript")
		case strings.HasSuffix(r.URL.Path, ".css"):
			w.Header().Set("Content-Type", "text/css")
		default:
			w.Header().Set("Content-Type", "application/json")
		}
		_, _ = io.WriteString(w, "console.log('"+r.URL.Path+"')")
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *upstreamServer) hits(path string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[path]
}

func (u *upstreamServer) lastHeaders() http.Header {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.headers.Clone()
}

func newProxyApp(t *testing.T, bypass *cache.Switch) (*fiber.App, *cache.Gateway) {
	t.Helper()
	logger := discardLogger()
	ctx := context.Background()

	opts := cache.Options{
		Fetcher: origin.NewFetcher(origin.Options{Logger: logger, MaxRetries: 0}),
		Store:   cache.NewStore(kv.NewMemoryStore(), logger),
		Ledger:  cache.NewLedger(ctx, kv.NewMemoryStore(), logger),
		Trigger: cache.NeverTrigger,
		Logger:  logger,
	}
	if bypass != nil {
		opts.Bypass = bypass
	}
	gateway, err := cache.New(opts)
	require.NoError(t, err)
	t.Cleanup(gateway.Wait)

	return newStubApp(t, gateway), gateway
}

func newStubApp(t *testing.T, gateway Gateway) *fiber.App {
	t.Helper()
	logger := discardLogger()
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      NewHandler(gateway, logger, "https"),
		ListenPort: 5000,
	})
	require.NoError(t, err)
	return app
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) *http.Response {
	t.Helper()
	resp, err := app.Test(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
