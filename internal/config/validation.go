package config

import (
	"errors"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/quicksilver/internal/kv"
)

var supportedDrivers = map[string]struct{}{
	kv.DriverFS:     {},
	kv.DriverSQLite: {},
	kv.DriverMemory: {},
}

const supportedDriverList = "fs|sqlite|memory"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("Global.LogLevel", "无法识别的日志级别")
		}
	}
	if _, ok := supportedDrivers[g.StorageDriver]; !ok {
		return newFieldError("Global.StorageDriver", "仅支持 "+supportedDriverList)
	}
	if g.StorageDriver != kv.DriverMemory && strings.TrimSpace(g.StoragePath) == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.MaxItems <= 0 {
		return newFieldError("Global.MaxItems", "必须大于 0")
	}
	if g.PruneChunk <= 0 {
		return newFieldError("Global.PruneChunk", "必须大于 0")
	}
	if g.PruneChunk > g.MaxItems {
		return newFieldError("Global.PruneChunk", "不能大于 MaxItems")
	}
	if g.MaintenanceProbability < 0 || g.MaintenanceProbability > 1 {
		return newFieldError("Global.MaintenanceProbability", "必须在 0-1 之间")
	}
	if g.IdleInterval.DurationValue() <= 0 {
		return newFieldError("Global.IdleInterval", "必须大于 0")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.UpstreamScheme != "http" && g.UpstreamScheme != "https" {
		return newFieldError("Global.UpstreamScheme", "仅支持 http/https")
	}

	for i, ext := range c.Classifier.Extensions {
		if strings.TrimSpace(ext) == "" || strings.ContainsAny(ext, "/ ") {
			return newFieldError(sectionField("Classifier", "Extensions", i), "非法后缀")
		}
	}
	for i, pattern := range c.Classifier.SkipPatterns {
		if _, err := regexp.Compile("(?i)" + pattern); err != nil {
			return newFieldError(sectionField("Classifier", "SkipPatterns", i), err.Error())
		}
	}
	for i, ct := range c.Validator.ContentTypes {
		if strings.TrimSpace(ct) == "" {
			return newFieldError(sectionField("Validator", "ContentTypes", i), "不能为空")
		}
	}

	return nil
}
