package response

import (
	"fmt"
	"io"
	"mime"
	"reflect"
	"time"

	"github.com/any-hub/fsroute/internal/cache"
)

// Kind 标记响应体的类型，决定传输层如何写出。
type Kind string

const (
	KindJSON   Kind = "json"
	KindText   Kind = "text"
	KindBuffer Kind = "buffer"
	KindStream Kind = "stream"
	KindSend   Kind = "send"
	KindStatus Kind = "status"
)

const (
	MIMEJSON        = "application/json"
	MIMEText        = "text/plain; charset=utf-8"
	MIMEHTML        = "text/html; charset=utf-8"
	MIMEOctetStream = "application/octet-stream"
)

// StreamFunc 按 [start, end) 区间返回数据块，返回空切片表示结束。
type StreamFunc func(start, end int64) ([]byte, error)

// Timing 记录从进入管道到产出响应的耗时。
type Timing struct {
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
}

// Envelope 是调度管道统一产出的响应值。
type Envelope struct {
	Payload       any               `json:"payload,omitempty"`
	Kind          Kind              `json:"kind"`
	Code          int               `json:"code"`
	Status        string            `json:"status"`
	Message       string            `json:"message,omitempty"`
	ContentType   string            `json:"content_type,omitempty"`
	ContentLength int64             `json:"content_length,omitempty"`
	Disposition   string            `json:"disposition,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Timing        Timing            `json:"timing"`
}

// CacheHit 表示处理函数命中了记忆响应，管道应直接返回 Envelope 并结束链路。
type CacheHit struct {
	Key      string
	Envelope *Envelope
}

// New 返回默认的 status/200/OK 响应。
func New() *Envelope {
	return &Envelope{Kind: KindStatus, Code: 200, Status: mustReason(200), Message: mustReason(200)}
}

// Status 创建仅含状态的响应，可继续链式调用 JSON/Text/HTML/Buffer/Send 补充正文。
func Status(code int, message ...string) *Envelope {
	e := &Envelope{Kind: KindStatus, Code: code, Status: mustReason(code)}
	e.Message = e.Status
	if len(message) > 0 && message[0] != "" {
		e.Message = message[0]
	}
	return e
}

// Error 创建错误响应，message 为空时使用原因短语。
func Error(code int, message string) *Envelope {
	return Status(code, message)
}

// JSON 创建 JSON 响应，可选覆盖状态码。
func JSON(v any, code ...int) *Envelope {
	return Status(pick(code, 200)).JSON(v)
}

// Text 创建纯文本响应，contentType 省略时为 text/plain。
func Text(s string, contentType ...string) *Envelope {
	return New().Text(s, contentType...)
}

// HTML 创建 text/html 响应并附带 nosniff 头。
func HTML(s string) *Envelope {
	return New().HTML(s)
}

// Buffer 创建二进制响应，contentType 省略时为 application/octet-stream。
func Buffer(b []byte, contentType ...string) *Envelope {
	return New().Buffer(b, contentType...)
}

// Stream 创建流式响应，src 为 io.Reader 或 StreamFunc，length < 0 表示未知长度。
func Stream(src any, contentType string, length int64) *Envelope {
	switch src.(type) {
	case io.Reader, StreamFunc, func(start, end int64) ([]byte, error):
	default:
		panic(fmt.Sprintf("response: unsupported stream source %T", src))
	}
	if fn, ok := src.(func(start, end int64) ([]byte, error)); ok {
		src = StreamFunc(fn)
	}
	e := New()
	e.Kind = KindStream
	e.Payload = src
	e.ContentType = orDefault(contentType, MIMEOctetStream)
	e.ContentLength = length
	return e
}

// Send 按值推断类型：对象/数组为 JSON，字符串为 text/plain，其余为 octet-stream。
// 已是 *Envelope 的值原样返回。
func Send(v any) *Envelope {
	return New().Send(v)
}

func pick(values []int, fallback int) int {
	if len(values) > 0 && values[0] != 0 {
		return values[0]
	}
	return fallback
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// JSON 将正文设置为 JSON 并保留当前状态码。
func (e *Envelope) JSON(v any) *Envelope {
	e.Kind = KindJSON
	e.Payload = v
	e.ContentType = MIMEJSON
	return e
}

// Text 将正文设置为文本。
func (e *Envelope) Text(s string, contentType ...string) *Envelope {
	e.Kind = KindText
	e.Payload = s
	e.ContentType = MIMEText
	if len(contentType) > 0 && contentType[0] != "" {
		e.ContentType = contentType[0]
	}
	e.ContentLength = int64(len(s))
	return e
}

// HTML 将正文设置为 HTML。
func (e *Envelope) HTML(s string) *Envelope {
	e.Text(s, MIMEHTML)
	return e.WithHeader("X-Content-Type-Options", "nosniff")
}

// Buffer 将正文设置为字节数据。
func (e *Envelope) Buffer(b []byte, contentType ...string) *Envelope {
	e.Kind = KindBuffer
	e.Payload = b
	e.ContentType = MIMEOctetStream
	if len(contentType) > 0 && contentType[0] != "" {
		e.ContentType = contentType[0]
	}
	e.ContentLength = int64(len(b))
	return e
}

// Send 按值推断 MIME 类型并设置正文。
func (e *Envelope) Send(v any) *Envelope {
	switch val := v.(type) {
	case nil:
		return e
	case *Envelope:
		return val
	case string:
		e.Payload = val
		e.ContentType = MIMEText
		e.ContentLength = int64(len(val))
	case []byte:
		e.Payload = val
		e.ContentType = MIMEOctetStream
		e.ContentLength = int64(len(val))
	default:
		if isStructured(val) {
			e.Payload = val
			e.ContentType = MIMEJSON
		} else {
			raw := []byte(fmt.Sprint(val))
			e.Payload = raw
			e.ContentType = MIMEOctetStream
			e.ContentLength = int64(len(raw))
		}
	}
	e.Kind = KindSend
	return e
}

func isStructured(v any) bool {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return true
	}
	return false
}

// WithHeader 设置附加响应头（通常为安全策略头）。
func (e *Envelope) WithHeader(key, value string) *Envelope {
	if e.Headers == nil {
		e.Headers = make(map[string]string)
	}
	e.Headers[key] = value
	return e
}

// WithSecurityPolicy 设置 Content-Security-Policy。
func (e *Envelope) WithSecurityPolicy(policy string) *Envelope {
	return e.WithHeader("Content-Security-Policy", policy)
}

// WithDisposition 设置 Content-Disposition，attachment 为 true 时提示下载。
func (e *Envelope) WithDisposition(attachment bool, filename string) *Envelope {
	kind := "inline"
	if attachment {
		kind = "attachment"
	}
	if filename == "" {
		e.Disposition = kind
		return e
	}
	e.Disposition = mime.FormatMediaType(kind, map[string]string{"filename": filename})
	return e
}

// WithStatus 修改状态码与消息。
func (e *Envelope) WithStatus(code int, message ...string) *Envelope {
	e.Code = code
	e.Status = mustReason(code)
	e.Message = e.Status
	if len(message) > 0 && message[0] != "" {
		e.Message = message[0]
	}
	return e
}

// Stamp 写入耗时信息。
func (e *Envelope) Stamp(start, end time.Time) *Envelope {
	e.Timing = Timing{Start: start, End: end, Duration: end.Sub(start)}
	return e
}

// OK 表示 2xx 状态。
func (e *Envelope) OK() bool {
	return e.Code >= 200 && e.Code < 300
}

// DeepClone 实现 cache.DeepCloner；流式正文无法复制，直接共享。
func (e *Envelope) DeepClone() any {
	if e == nil {
		return (*Envelope)(nil)
	}
	out := *e
	if e.Headers != nil {
		out.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			out.Headers[k] = v
		}
	}
	if e.Kind != KindStream {
		if payload, err := cache.Clone(e.Payload); err == nil {
			out.Payload = payload
		}
	}
	return &out
}
