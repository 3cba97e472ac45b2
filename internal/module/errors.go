package module

import (
	"errors"
	"fmt"
)

var (
	// ErrOutsideTree 表示路径位于受管目录之外或第三方依赖目录内。
	ErrOutsideTree = errors.New("path outside managed tree")
	// ErrNoCompiler 表示扩展名没有注册编译器。
	ErrNoCompiler = errors.New("no compiler registered")
)

// CompileError 携带编译失败的精确位置。Line/Column 为 0 表示未知。
type CompileError struct {
	File    string
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *CompileError) Error() string {
	switch {
	case e.Line > 0 && e.Column > 0:
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	case e.Line > 0:
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
}

func (e *CompileError) Unwrap() error {
	return e.Err
}
