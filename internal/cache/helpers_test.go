package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/quicksilver/internal/kv"
)

// fakeOrigin 记录每个 URL 的回源次数，响应由 respond 决定。
type fakeOrigin struct {
	mu      sync.Mutex
	calls   map[string]int
	respond func(req *http.Request) (*http.Response, error)
}

func newFakeOrigin(respond func(req *http.Request) (*http.Response, error)) *fakeOrigin {
	return &fakeOrigin{calls: make(map[string]int), respond: respond}
}

func (o *fakeOrigin) Fetch(req *http.Request) (*http.Response, error) {
	o.mu.Lock()
	o.calls[req.URL.String()]++
	o.mu.Unlock()
	return o.respond(req)
}

func (o *fakeOrigin) Calls(rawURL string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[rawURL]
}

// staticOrigin 对所有请求返回固定的 200 响应。
func staticOrigin(contentType, body string) *fakeOrigin {
	return newFakeOrigin(func(req *http.Request) (*http.Response, error) {
		return newResponse(req, http.StatusOK, contentType, "", body), nil
	})
}

func newResponse(req *http.Request, status int, contentType, cacheControl, body string) *http.Response {
	header := make(http.Header)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	if cacheControl != "" {
		header.Set("Cache-Control", cacheControl)
	}
	header.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func newGetRequest(t *testing.T, rawURL string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return req
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeClock 每次调用前进 1ms，保证账本时间戳严格递增。
type fakeClock struct {
	ms atomic.Int64
}

func newFakeClock(start int64) *fakeClock {
	c := &fakeClock{}
	c.ms.Store(start)
	return c
}

func (c *fakeClock) Now() int64 { return c.ms.Add(1) }

type testRig struct {
	gateway  *Gateway
	store    *Store
	ledger   *Ledger
	assets   *faultyKV
	ledgerKV *faultyKV
}

func newTestRig(t *testing.T, fetcher Fetcher, mutate func(*Options)) *testRig {
	t.Helper()
	logger := discardLogger()
	assets := &faultyKV{Store: kv.NewMemoryStore()}
	ledgerKV := &faultyKV{Store: kv.NewMemoryStore()}
	store := NewStore(assets, logger)
	ledger := NewLedger(context.Background(), ledgerKV, logger)

	opts := Options{
		Fetcher: fetcher,
		Store:   store,
		Ledger:  ledger,
		Logger:  logger,
		Trigger: NeverTrigger,
	}
	if mutate != nil {
		mutate(&opts)
	}
	g, err := New(opts)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	t.Cleanup(g.Wait)
	return &testRig{gateway: g, store: store, ledger: ledger, assets: assets, ledgerKV: ledgerKV}
}

// faultyKV 在开关打开时模拟后端不可用或直接 panic。
type faultyKV struct {
	kv.Store
	failPut    atomic.Bool
	failDelete atomic.Bool
	panicGet   atomic.Bool
}

var errDiskGone = errors.New("disk gone")

func (f *faultyKV) Get(ctx context.Context, key string) ([]byte, error) {
	if f.panicGet.Load() {
		panic("backend exploded")
	}
	return f.Store.Get(ctx, key)
}

func (f *faultyKV) Put(ctx context.Context, key string, value []byte) error {
	if f.failPut.Load() {
		return kv.Unavailable(errDiskGone, "put", "test", key)
	}
	return f.Store.Put(ctx, key, value)
}

func (f *faultyKV) Delete(ctx context.Context, key string) error {
	if f.failDelete.Load() {
		return kv.Unavailable(errDiskGone, "delete", "test", key)
	}
	return f.Store.Delete(ctx, key)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}
