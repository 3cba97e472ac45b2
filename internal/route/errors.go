package route

// SourceError 是脚本处理函数的运行期错误。Error() 只返回消息本身，
// 文件与行号仅用于日志，不出现在响应里。
type SourceError struct {
	File    string
	Line    int
	Message string
	Err     error
}

func (e *SourceError) Error() string {
	return e.Message
}

func (e *SourceError) Unwrap() error {
	return e.Err
}
