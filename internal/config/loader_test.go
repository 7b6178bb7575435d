package config

import "testing"

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
IdleInterval = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadMinimalFileUsesDefaults(t *testing.T) {
	path := writeTempConfig(t, `StoragePath = "./data"`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("最小配置应加载成功: %v", err)
	}
	if cfg.Global.ListenPort != 5000 || cfg.Global.MaxItems != 1000 || cfg.Global.PruneChunk != 50 {
		t.Fatalf("默认值未生效: %+v", cfg.Global)
	}
	if cfg.Global.StorageDriver != "fs" {
		t.Fatalf("默认驱动应为 fs, got %s", cfg.Global.StorageDriver)
	}
	if cfg.Global.Bypass {
		t.Fatalf("Bypass 默认应关闭")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(testConfigPath(t, "does-not-exist.toml")); err == nil {
		t.Fatalf("配置文件不存在时应返回错误")
	}
}
