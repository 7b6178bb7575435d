package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/quicksilver/internal/cache"
	"github.com/any-hub/quicksilver/internal/kv"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyRuleDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.StoragePath != "" {
		absStorage, err := filepath.Abs(cfg.Global.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.StoragePath = absStorage
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StorageDriver", kv.DriverFS)
	v.SetDefault("MaxItems", cache.DefaultMaxItems)
	v.SetDefault("PruneChunk", cache.DefaultPruneChunk)
	v.SetDefault("MaintenanceProbability", cache.DefaultMaintenanceProbability)
	v.SetDefault("IdleInterval", "5s")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("MaxRetries", 2)
	v.SetDefault("InitialBackoff", "200ms")
	v.SetDefault("UpstreamScheme", "https")
	v.SetDefault("Bypass", false)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.StorageDriver = strings.ToLower(strings.TrimSpace(g.StorageDriver))
	if g.StorageDriver == "" {
		g.StorageDriver = kv.DriverFS
	}
	g.UpstreamScheme = strings.ToLower(strings.TrimSpace(g.UpstreamScheme))
	if g.UpstreamScheme == "" {
		g.UpstreamScheme = "https"
	}
	if g.IdleInterval.DurationValue() == 0 {
		g.IdleInterval = Duration(cache.DefaultIdleInterval)
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(200 * time.Millisecond)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
}

func applyRuleDefaults(cfg *Config) {
	if len(cfg.Classifier.Extensions) == 0 {
		cfg.Classifier.Extensions = cache.DefaultClassifierConfig().Extensions
	}
	if len(cfg.Classifier.SkipPatterns) == 0 {
		cfg.Classifier.SkipPatterns = cache.DefaultClassifierConfig().SkipPatterns
	}
	if len(cfg.Validator.ForbiddenDirectives) == 0 {
		cfg.Validator.ForbiddenDirectives = cache.DefaultValidatorConfig().ForbiddenDirectives
	}
	if len(cfg.Validator.ContentTypes) == 0 {
		cfg.Validator.ContentTypes = cache.DefaultValidatorConfig().ContentTypes
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
