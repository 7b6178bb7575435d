// Package httpheader 集中维护代理场景下的头部过滤规则。
package httpheader

import (
	"net/http"
	"net/textproto"
	"strings"
)

// hopByHopHeaders 定义 RFC 7230 中禁止代理转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

// CopyHeaders 将 src 中允许透传的头复制到 dst，自动忽略 hop-by-hop 字段
// 以及 Connection 头点名的字段。
func CopyHeaders(dst, src http.Header) {
	named := connectionTokens(src)
	for key, values := range src {
		if IsHopByHop(key) {
			continue
		}
		if _, ok := named[textproto.CanonicalMIMEHeaderKey(key)]; ok {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// CloneEndToEnd 返回只包含端到端头部的深拷贝。
func CloneEndToEnd(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	CopyHeaders(dst, src)
	return dst
}

// IsHopByHop reports whether the header should be stripped by proxies.
func IsHopByHop(key string) bool {
	_, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

func connectionTokens(h http.Header) map[string]struct{} {
	values := h.Values("Connection")
	if len(values) == 0 {
		return nil
	}
	tokens := make(map[string]struct{})
	for _, value := range values {
		for _, token := range strings.Split(value, ",") {
			if token = strings.TrimSpace(token); token != "" {
				tokens[textproto.CanonicalMIMEHeaderKey(token)] = struct{}{}
			}
		}
	}
	return tokens
}
