package route

// Request 是调度入口的调用参数；传输层与嵌套 Fetch 都通过它描述请求。
type Request struct {
	Method  string
	Headers map[string]string
	Query   map[string]string
	Params  map[string]string
	Body    any
	// Files 中的元素可以是 File、[]byte 或 *multipart.FileHeader。
	Files []any
	// RequestID 为空时沿用 Ambient.RequestID，仍为空则生成新的。
	RequestID string
	Ambient   *Ambient
}

// Ambient 是嵌套调用时继承自上层请求的上下文，优先级最低。
type Ambient struct {
	From      string
	Headers   map[string]string
	Query     map[string]string
	RequestID string
}

// File 是统一后的上传文件描述。
type File struct {
	Field string `json:"field,omitempty"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Size  int64  `json:"size"`
	Data  []byte `json:"-"`
}
