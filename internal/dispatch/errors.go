package dispatch

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrRouteNotFound 表示没有路由匹配请求路径。
	ErrRouteNotFound = errors.New("Route not found!")
	// ErrMethodNotAllowed 表示匹配到的路由没有可用的处理函数。
	ErrMethodNotAllowed = errors.New("Method not allowed!")
)

// RouteError 携带出错的路由路径。
type RouteError struct {
	Path string
	Err  error
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("%q: %s", "/"+e.Path, e.Err.Error())
}

func (e *RouteError) Unwrap() error {
	return e.Err
}

// PanicError 是处理函数 panic 后恢复得到的错误。
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

var errorPrefix = regexp.MustCompile(`(?i)(Error:\s?)+`)

// sanitize 把错误转换为对外消息，重复的 "Error:" 前缀只保留一个。
func sanitize(err error) string {
	return errorPrefix.ReplaceAllString("Error: "+err.Error(), "Error: ")
}
