package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/any-hub/quicksilver/internal/config"
	"github.com/any-hub/quicksilver/internal/version"
)

const (
	defaultLevel      = "info"
	defaultMaxSizeMB  = 100
	defaultMaxBackups = 10
)

// InitLogger 根据全局配置初始化 JSON 结构化日志，并同步到 logrus 全局实例。
// 文件输出不可用时退回 stdout，并记录一条 logger_fallback 告警。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	rawLevel := cfg.LogLevel
	if rawLevel == "" {
		rawLevel = defaultLevel
	}
	level, err := logrus.ParseLevel(rawLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	output, outErr := openOutput(cfg)
	if outErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", outErr)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	logger.AddHook(serviceHook{version: version.Version})

	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())

	if outErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(outErr.Error())
	}

	return logger, nil
}

// openOutput 返回日志 Writer：未配置文件时为 stdout，否则为按大小滚动的 lumberjack 文件。
func openOutput(cfg config.GlobalConfig) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return os.Stdout, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return os.Stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}

	maxSize := cfg.LogMaxSize
	if maxSize <= 0 {
		maxSize = defaultMaxSizeMB
	}
	backups := cfg.LogMaxBackups
	if backups < 0 {
		backups = defaultMaxBackups
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    maxSize,
		MaxBackups: backups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}

// serviceHook 为每条日志补充 service/version 字段，调用方已设置时不覆盖。
type serviceHook struct {
	version string
}

func (serviceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h serviceHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["service"]; !ok {
		entry.Data["service"] = "quicksilver"
	}
	if _, ok := entry.Data["version"]; !ok {
		entry.Data["version"] = h.version
	}
	return nil
}
