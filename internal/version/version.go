package version

import (
	"fmt"
	"runtime"
)

// Version/Commit 可在构建时通过 -ldflags 注入，默认使用开发占位符。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

const product = "quicksilver"

// Full 返回便于 CLI 打印的完整版本信息。
func Full() string {
	return fmt.Sprintf("%s %s (%s, %s)", product, Version, Commit, runtime.Version())
}

// Via 返回代理追加到响应 Via 头中的标识，例如 "1.1 quicksilver/0.1.0"。
func Via() string {
	return fmt.Sprintf("1.1 %s/%s", product, Version)
}
