package main

import (
	"fmt"

	"github.com/any-hub/quicksilver/internal/version"
)

// printVersion 输出版本、提交号与构建使用的 Go 版本。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}
