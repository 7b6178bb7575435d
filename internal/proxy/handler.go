package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/quicksilver/internal/cache"
	"github.com/any-hub/quicksilver/internal/httpheader"
	"github.com/any-hub/quicksilver/internal/logging"
	"github.com/any-hub/quicksilver/internal/server"
	"github.com/any-hub/quicksilver/internal/version"
)

// Gateway 是 Handler 依赖的缓存网关，cache.Gateway 满足该接口。
type Gateway interface {
	Handle(req *http.Request) (*http.Response, error)
}

var errInvalidTarget = errors.New("invalid proxy target")

// Handler 把 Fiber 请求还原成绝对地址的 *http.Request 交给缓存网关，
// 再把网关返回的响应流式写回客户端。
type Handler struct {
	gateway Gateway
	logger  *logrus.Logger
	scheme  string
}

// NewHandler constructs a proxy handler. scheme is used for origin-form
// requests that carry only a Host header; empty means https.
func NewHandler(gateway Gateway, logger *logrus.Logger, scheme string) *Handler {
	if scheme == "" {
		scheme = "https"
	}
	return &Handler{
		gateway: gateway,
		logger:  logger,
		scheme:  strings.ToLower(scheme),
	}
}

// Handle 转发一次请求，网关返回错误时以 502 回应并记录结构化日志。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	req, err := h.buildRequest(c)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"action":     "proxy",
			"method":     c.Method(),
			"request_id": requestID,
		}).WithError(err).Warn("proxy_invalid_target")
		return writeError(c, fiber.StatusBadRequest, "invalid_target")
	}
	target := req.URL.String()

	resp, err := h.gateway.Handle(req)
	if err != nil {
		h.logResult(req.Method, target, "", requestID, 0, started, err)
		return writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()

	cacheStatus := resp.Header.Get(cache.CacheStatusHeader)
	copyResponseHeaders(c, resp.Header)
	c.Response().Header.Add("Via", version.Via())
	c.Status(resp.StatusCode)

	if req.Method == http.MethodHead {
		h.logResult(req.Method, target, cacheStatus, requestID, resp.StatusCode, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(req.Method, target, cacheStatus, requestID, resp.StatusCode, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) buildRequest(c fiber.Ctx) (*http.Request, error) {
	target, err := h.targetURL(c)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(c.Context(), c.Method(), target.String(), bytesReader(c.Body()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidTarget, err)
	}
	httpheader.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del(fiber.HeaderHost)
	req.Header.Del("X-Forwarded-Proto")
	return req, nil
}

// targetURL 优先使用绝对形式的请求行；origin-form 请求按 Host 头与
// 默认 scheme 拼接，X-Forwarded-Proto 可覆盖 scheme。
func (h *Handler) targetURL(c fiber.Ctx) (*url.URL, error) {
	raw := string(c.Request().Header.RequestURI())
	if u, err := url.Parse(raw); err == nil && u.IsAbs() && u.Host != "" {
		return u, nil
	}

	host := strings.TrimSpace(string(c.Request().Header.Host()))
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", errInvalidTarget)
	}
	scheme := h.scheme
	if proto := strings.ToLower(strings.TrimSpace(c.Get("X-Forwarded-Proto"))); proto == "http" || proto == "https" {
		scheme = proto
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	u, err := url.Parse(scheme + "://" + host + raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidTarget, err)
	}
	return u, nil
}

func (h *Handler) logResult(method, target, cacheStatus, requestID string, status int, started time.Time, err error) {
	fields := logging.RequestFields(method, target, cacheStatus, status)
	fields["action"] = "proxy"
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(append([]byte(nil), b...))
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// copyResponseHeaders 写回端到端头部。Content-Length 由 fasthttp 按实际写出的
// body 计算。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range httpheader.CloneEndToEnd(headers) {
		if key == fiber.HeaderContentLength {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}
