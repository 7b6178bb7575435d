package origin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	perrors "github.com/jmgilman/go/errors"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/quicksilver/internal/httpheader"
)

const (
	DefaultMaxRetries     = 2
	DefaultInitialBackoff = 200 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
)

// Options 控制 Fetcher 的超时与重试。
type Options struct {
	Client         *http.Client
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *logrus.Logger
}

// Fetcher 通过共享 http.Client 回源。幂等且无请求体的请求在网络错误时按退避重试，
// 源站返回的任何 HTTP 状态都视为成功。
type Fetcher struct {
	client         *http.Client
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *logrus.Logger
	sleep          func(ctx context.Context, d time.Duration) error
}

func NewFetcher(opts Options) *Fetcher {
	client := opts.Client
	if client == nil {
		client = NewClient(opts.Timeout)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	backoff := opts.InitialBackoff
	if backoff <= 0 {
		backoff = DefaultInitialBackoff
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Fetcher{
		client:         client,
		maxRetries:     retries,
		initialBackoff: backoff,
		maxBackoff:     maxBackoff,
		logger:         logger,
		sleep:          sleepContext,
	}
}

// Fetch 发送请求。失败时返回带 CodeNetwork 或 CodeTimeout 的错误，原始错误可通过 errors.Is 取得。
func (f *Fetcher) Fetch(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, perrors.New(perrors.CodeInvalidInput, "origin request requires a url")
	}
	ctx := req.Context()
	outbound := req.Clone(ctx)
	outbound.RequestURI = ""
	outbound.Header = httpheader.CloneEndToEnd(req.Header)

	retryable := isIdempotent(outbound.Method) && (outbound.Body == nil || outbound.Body == http.NoBody)
	state := newRetryState(f.maxRetries, f.initialBackoff, f.maxBackoff)
	if !retryable {
		state = newRetryState(0, f.initialBackoff, f.maxBackoff)
	}

	for {
		resp, err := f.client.Do(outbound)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || state.fail() == phaseTimedOut {
			return nil, classify(err, outbound, state.attempts)
		}

		f.logger.WithFields(logrus.Fields{
			"action":  "origin_retry",
			"url":     outbound.URL.String(),
			"attempt": state.attempts,
			"delay":   state.delay.String(),
		}).WithError(err).Debug("origin_retry")

		if err := f.sleep(ctx, state.delay); err != nil {
			return nil, classify(err, outbound, state.attempts)
		}
		state.elapsed()
	}
}

func classify(err error, req *http.Request, attempts int) error {
	code := perrors.CodeNetwork
	msg := "origin fetch failed"
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		code = perrors.CodeTimeout
		msg = "origin fetch timed out"
	}
	return perrors.WrapWithContext(err, code, msg, map[string]interface{}{
		"url":      req.URL.String(),
		"method":   req.Method,
		"attempts": attempts,
	})
}

func isIdempotent(method string) bool {
	switch method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
