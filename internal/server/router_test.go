package server

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

func TestRouterForwardsNonDiagnosticPaths(t *testing.T) {
	app, recorder := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://cdn.example.local/assets/app.js", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 204 status, got %d (body=%s)", resp.StatusCode, string(body))
	}
	if recorder.calls != 1 || recorder.path != "/assets/app.js" {
		t.Fatalf("proxy handler not invoked as expected: %+v", recorder)
	}
	reqID := resp.Header.Get("X-Request-ID")
	if reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if recorder.requestID != reqID {
		t.Fatalf("RequestID mismatch: locals=%s header=%s", recorder.requestID, reqID)
	}
}

func TestRouterLeavesDiagnosticPathsToRegisteredRoutes(t *testing.T) {
	app, recorder := newTestApp(t, 5000)
	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "http://localhost/-/ping", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || string(body) != "pong" {
		t.Fatalf("unexpected diagnostics response %d %s", resp.StatusCode, string(body))
	}
	if recorder.calls != 0 {
		t.Fatalf("diagnostics path must not reach proxy handler")
	}
}

func TestRouterRecoversFromPanics(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	app, err := NewApp(AppOptions{
		Logger: logger,
		Proxy: ProxyHandlerFunc(func(fiber.Ctx) error {
			panic("boom")
		}),
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	resp, err := app.Test(httptest.NewRequest("GET", "http://localhost/app.js", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", resp.StatusCode)
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	logger := logrus.New()
	noop := ProxyHandlerFunc(func(c fiber.Ctx) error { return nil })
	cases := []AppOptions{
		{Proxy: noop, ListenPort: 5000},
		{Logger: logger, ListenPort: 5000},
		{Logger: logger, Proxy: noop},
	}
	for i, opts := range cases {
		if _, err := NewApp(opts); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

type proxyRecorder struct {
	calls     int
	path      string
	requestID string
}

func (p *proxyRecorder) Handle(c fiber.Ctx) error {
	p.calls++
	p.path = c.Path()
	p.requestID = RequestID(c)
	return c.SendStatus(fiber.StatusNoContent)
}

func newTestApp(t *testing.T, port int) (*fiber.App, *proxyRecorder) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	recorder := &proxyRecorder{}
	app, err := NewApp(AppOptions{
		Logger:     logger,
		Proxy:      recorder,
		ListenPort: port,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app, recorder
}
