package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/quicksilver/internal/cache"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数。
type GlobalConfig struct {
	ListenPort             int      `mapstructure:"ListenPort"`
	LogLevel               string   `mapstructure:"LogLevel"`
	LogFilePath            string   `mapstructure:"LogFilePath"`
	LogMaxSize             int      `mapstructure:"LogMaxSize"`
	LogMaxBackups          int      `mapstructure:"LogMaxBackups"`
	LogCompress            bool     `mapstructure:"LogCompress"`
	StoragePath            string   `mapstructure:"StoragePath"`
	StorageDriver          string   `mapstructure:"StorageDriver"`
	MaxItems               int      `mapstructure:"MaxItems"`
	PruneChunk             int      `mapstructure:"PruneChunk"`
	MaintenanceProbability float64  `mapstructure:"MaintenanceProbability"`
	IdleInterval           Duration `mapstructure:"IdleInterval"`
	UpstreamTimeout        Duration `mapstructure:"UpstreamTimeout"`
	MaxRetries             int      `mapstructure:"MaxRetries"`
	InitialBackoff         Duration `mapstructure:"InitialBackoff"`
	UpstreamScheme         string   `mapstructure:"UpstreamScheme"`
	Bypass                 bool     `mapstructure:"Bypass"`
}

// ClassifierConfig 对应 [Classifier] 表，留空时使用内置规则。
type ClassifierConfig struct {
	Extensions   []string `mapstructure:"Extensions"`
	SkipPatterns []string `mapstructure:"SkipPatterns"`
}

// ValidatorConfig 对应 [Validator] 表，留空时使用内置规则。
type ValidatorConfig struct {
	ForbiddenDirectives []string `mapstructure:"ForbiddenDirectives"`
	ContentTypes        []string `mapstructure:"ContentTypes"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global     GlobalConfig     `mapstructure:",squash"`
	Classifier ClassifierConfig `mapstructure:"Classifier"`
	Validator  ValidatorConfig  `mapstructure:"Validator"`
}

// CacheClassifier 转换为缓存层的分类规则。
func (c ClassifierConfig) CacheClassifier() cache.ClassifierConfig {
	return cache.ClassifierConfig{
		Extensions:   append([]string(nil), c.Extensions...),
		SkipPatterns: append([]string(nil), c.SkipPatterns...),
	}
}

// CacheValidator 转换为缓存层的响应校验规则。
func (v ValidatorConfig) CacheValidator() cache.ValidatorConfig {
	return cache.ValidatorConfig{
		ForbiddenDirectives: append([]string(nil), v.ForbiddenDirectives...),
		ContentTypes:        append([]string(nil), v.ContentTypes...),
	}
}
