package cache

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	perrors "github.com/jmgilman/go/errors"
)

// Key 是缓存条目的规范化绝对 URL。
type Key string

func (k Key) String() string { return string(k) }

// ErrMalformedRequest 表示请求 URL 无法规范化为绝对 http(s) 地址。
var ErrMalformedRequest = perrors.New(perrors.CodeInvalidInput, "malformed request url")

// CanonicalKey 规范化 URL：scheme/host 小写、去掉默认端口、丢弃 userinfo 与 fragment，
// 空路径记为 "/"，查询串原样保留。
func CanonicalKey(u *url.URL) (Key, error) {
	if u == nil {
		return "", ErrMalformedRequest
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrMalformedRequest, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrMalformedRequest)
	}

	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	hostport := host
	switch {
	case port != "":
		hostport = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		hostport = "[" + host + "]"
	}

	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(hostport)
	b.WriteString(p)
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	return Key(b.String()), nil
}

// ParseKey 解析原始 URL 字符串并规范化。
func ParseKey(raw string) (Key, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	return CanonicalKey(u)
}

// KeyForRequest 从请求 URL 派生 Key，不检查方法。
func KeyForRequest(req *http.Request) (Key, error) {
	if req == nil {
		return "", ErrMalformedRequest
	}
	return CanonicalKey(req.URL)
}

// isSafeRead 与 net/http 一致，把空方法视为 GET。
func isSafeRead(method string) bool {
	return method == "" || method == http.MethodGet
}
