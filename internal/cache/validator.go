package cache

import (
	"mime"
	"net/http"
	"strings"
)

// ResponseMeta 是 Validator 关心的响应元数据。
type ResponseMeta struct {
	StatusCode   int
	ContentType  string
	CacheControl string
}

// MetaFromResponse 提取响应元数据，多个 Cache-Control 头按逗号合并。
func MetaFromResponse(resp *http.Response) ResponseMeta {
	if resp == nil {
		return ResponseMeta{}
	}
	return ResponseMeta{
		StatusCode:   resp.StatusCode,
		ContentType:  resp.Header.Get("Content-Type"),
		CacheControl: strings.Join(resp.Header.Values("Cache-Control"), ","),
	}
}

// ValidatorConfig 控制哪些响应允许入库。
type ValidatorConfig struct {
	ForbiddenDirectives []string
	ContentTypes        []string
}

func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		ForbiddenDirectives: []string{"no-store", "no-cache", "private", "must-revalidate"},
		ContentTypes: []string{
			"text/css", "text/javascript", "application/javascript", "application/x-javascript",
			"image/", "font/", "application/font", "application/x-font", "application/wasm",
		},
	}
}

// Validator 判断上游响应能否写入缓存。
type Validator struct {
	forbidden    map[string]struct{}
	contentTypes []string
}

func NewValidator(cfg ValidatorConfig) *Validator {
	v := &Validator{forbidden: make(map[string]struct{}, len(cfg.ForbiddenDirectives))}
	for _, d := range cfg.ForbiddenDirectives {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			v.forbidden[d] = struct{}{}
		}
	}
	for _, ct := range cfg.ContentTypes {
		if ct = strings.ToLower(strings.TrimSpace(ct)); ct != "" {
			v.contentTypes = append(v.contentTypes, ct)
		}
	}
	return v
}

// IsCacheable 拒绝 206、非 2xx、带禁止指令或内容类型不在白名单内的响应。
// 未声明 Content-Type 时放行。
func (v *Validator) IsCacheable(meta ResponseMeta) bool {
	if meta.StatusCode == http.StatusPartialContent {
		return false
	}
	if meta.StatusCode < 200 || meta.StatusCode > 299 {
		return false
	}
	for _, directive := range cacheControlDirectives(meta.CacheControl) {
		if _, ok := v.forbidden[directive]; ok {
			return false
		}
	}
	if ct := strings.TrimSpace(meta.ContentType); ct != "" {
		return v.allowsMediaType(mediaType(ct))
	}
	return true
}

func (v *Validator) allowsMediaType(mt string) bool {
	for _, prefix := range v.contentTypes {
		if strings.HasPrefix(mt, prefix) {
			return true
		}
	}
	return false
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// cacheControlDirectives 返回小写指令名，忽略参数值（如 max-age=60 -> max-age）。
func cacheControlDirectives(header string) []string {
	if header == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(header, ",") {
		name, _, _ := strings.Cut(part, "=")
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			out = append(out, name)
		}
	}
	return out
}
