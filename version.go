package main

import (
	"fmt"
	"runtime"

	"github.com/any-hub/fsroute/internal/version"
)

// printVersion 输出注入的版本 + 提交信息以及 Go 运行时。
func printVersion() {
	fmt.Fprintf(stdOut, "%s %s/%s %s\n", version.Full(), runtime.GOOS, runtime.GOARCH, runtime.Version())
}
