package cache

import (
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// ClassifierConfig 控制哪些 URL 被视为静态资源。
type ClassifierConfig struct {
	// Extensions 为允许缓存的路径后缀（不含点，大小写不敏感）。
	Extensions []string
	// SkipPatterns 为排除规则，按大小写不敏感的正则匹配规范化后的 URL，优先于 Extensions。
	SkipPatterns []string
}

// DefaultClassifierConfig 返回默认的静态资源判定规则。
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		Extensions: []string{
			"js", "css", "woff", "woff2", "ttf", "otf", "eot",
			"png", "jpg", "jpeg", "gif", "svg", "ico", "webp", "avif", "bmp",
		},
		SkipPatterns: []string{
			`/api/`, `/graphql`, `/feed`, `/rss`, `/json`, `/ws/`,
			`\.json(\?|$)`, `\.html?(\?|$)`, `\.xml(\?|$)`,
			`\bservice-worker\b`, `\bmanifest\b.*\.js`,
			`\.m3u8(\?|$)`, `\.mpd(\?|$)`,
		},
	}
}

// Classifier 是方法与 URL 的纯函数判定器，构造后只读，可并发使用。
type Classifier struct {
	extensions map[string]struct{}
	skip       []*regexp.Regexp
}

func NewClassifier(cfg ClassifierConfig) (*Classifier, error) {
	c := &Classifier{extensions: make(map[string]struct{}, len(cfg.Extensions))}
	for _, ext := range cfg.Extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			c.extensions[ext] = struct{}{}
		}
	}
	for _, pattern := range cfg.SkipPatterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("compile skip pattern %q: %w", pattern, err)
		}
		c.skip = append(c.skip, re)
	}
	return c, nil
}

// IsCacheable 仅对 GET 且 URL 命中静态资源规则的请求返回 true。
// 无法规范化的 URL 一律视为不可缓存。
func (c *Classifier) IsCacheable(req *http.Request) bool {
	if req == nil || !isSafeRead(req.Method) {
		return false
	}
	key, err := KeyForRequest(req)
	if err != nil {
		return false
	}
	return c.IsCacheableKey(key)
}

// IsCacheableKey 对已规范化的 Key 做 URL 部分的判定。
func (c *Classifier) IsCacheableKey(key Key) bool {
	raw := string(key)
	for _, re := range c.skip {
		if re.MatchString(raw) {
			return false
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
	if ext == "" {
		return false
	}
	_, ok := c.extensions[ext]
	return ok
}
