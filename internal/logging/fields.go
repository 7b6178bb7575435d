package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供目标地址、缓存状态与上游状态码，供代理请求日志复用。
// cacheStatus 取值 hit/miss，直连时为空串并记为 bypass。
func RequestFields(method, target, cacheStatus string, status int) logrus.Fields {
	if cacheStatus == "" {
		cacheStatus = "bypass"
	}
	return logrus.Fields{
		"method":       method,
		"target":       target,
		"cache_status": cacheStatus,
		"cache_hit":    cacheStatus == "hit",
		"status":       status,
	}
}

// StorageFields 描述缓存存储的驱动与位置，启动日志和降级日志共用。
func StorageFields(driver, path string, maxItems, pruneChunk int) logrus.Fields {
	return logrus.Fields{
		"storage_driver": driver,
		"storage_path":   path,
		"max_items":      maxItems,
		"prune_chunk":    pruneChunk,
	}
}
