package server

import (
	"io"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/fsroute/internal/response"
)

const streamChunkSize = 64 << 10

// statusBody 是无正文响应写出的 JSON 结构。
type statusBody struct {
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// writeEnvelope 把响应信封写回客户端：状态码、响应头、正文类型与长度、附件描述，
// 流式正文通过 SendStream 输出。
func writeEnvelope(c fiber.Ctx, env *response.Envelope) error {
	if env == nil {
		env = response.New()
	}
	for key, value := range env.Headers {
		c.Set(key, value)
	}
	if env.Disposition != "" {
		c.Set(fiber.HeaderContentDisposition, env.Disposition)
	}
	if !env.Timing.End.IsZero() {
		c.Set("Server-Timing", "dispatch;dur="+strconv.FormatFloat(float64(env.Timing.Duration.Microseconds())/1000, 'f', 3, 64))
	}
	c.Status(env.Code)

	switch payload := env.Payload.(type) {
	case nil:
		return c.JSON(statusBody{Code: env.Code, Status: env.Status, Message: env.Message})
	case io.Reader:
		c.Set(fiber.HeaderContentType, env.ContentType)
		return c.SendStream(payload, streamLength(env))
	case response.StreamFunc:
		c.Set(fiber.HeaderContentType, env.ContentType)
		return c.SendStream(&chunkReader{fetch: payload}, streamLength(env))
	case string:
		c.Set(fiber.HeaderContentType, env.ContentType)
		return c.SendString(payload)
	case []byte:
		c.Set(fiber.HeaderContentType, env.ContentType)
		return c.Send(payload)
	default:
		contentType := env.ContentType
		if contentType == "" {
			contentType = response.MIMEJSON
		}
		return c.JSON(payload, contentType)
	}
}

func streamLength(env *response.Envelope) int {
	if env.ContentLength > 0 {
		return int(env.ContentLength)
	}
	return -1
}

// chunkReader 以固定大小区间调用 StreamFunc，空块表示结束。
type chunkReader struct {
	fetch   response.StreamFunc
	offset  int64
	pending []byte
	done    bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		if r.done {
			return 0, io.EOF
		}
		chunk, err := r.fetch(r.offset, r.offset+streamChunkSize)
		if err != nil {
			return 0, err
		}
		if len(chunk) == 0 {
			r.done = true
			continue
		}
		r.offset += int64(len(chunk))
		r.pending = chunk
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}
