package server

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/fsroute/internal/route"
)

// buildRequest 把 fiber 请求转换为调度请求：请求头取首个值，
// 正文按 Content-Type 解码为 JSON、表单、文本或原始字节，multipart 文件进入 Files。
// 查询参数随 OriginalURL 交给调度器解析。
func buildRequest(c fiber.Ctx) (route.Request, error) {
	req := route.Request{
		Method:    c.Method(),
		Headers:   make(map[string]string),
		RequestID: RequestID(c),
	}
	for key, values := range c.GetReqHeaders() {
		if len(values) > 0 {
			req.Headers[strings.ToLower(key)] = values[0]
		}
	}

	body, files, err := decodeBody(c)
	if err != nil {
		return route.Request{}, err
	}
	req.Body = body
	req.Files = files
	return req, nil
}

func decodeBody(c fiber.Ctx) (any, []any, error) {
	raw := c.Body()
	contentType := c.Get(fiber.HeaderContentType)
	mediaType, _, _ := mime.ParseMediaType(contentType)

	switch {
	case mediaType == fiber.MIMEMultipartForm:
		form, err := c.MultipartForm()
		if err != nil {
			return nil, nil, fmt.Errorf("invalid multipart body: %w", err)
		}
		fields := make(map[string]any, len(form.Value))
		for key, values := range form.Value {
			fields[key] = firstOrAll(values)
		}
		var files []any
		for _, headers := range form.File {
			for _, fh := range headers {
				files = append(files, fh)
			}
		}
		return fields, files, nil
	case len(raw) == 0:
		return nil, nil, nil
	case mediaType == fiber.MIMEApplicationJSON || strings.HasSuffix(mediaType, "+json"):
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		return v, nil, nil
	case mediaType == fiber.MIMEApplicationForm:
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid form body: %w", err)
		}
		fields := make(map[string]any, len(values))
		for key, v := range values {
			fields[key] = firstOrAll(v)
		}
		return fields, nil, nil
	case strings.HasPrefix(mediaType, "text/"):
		return string(raw), nil, nil
	default:
		return append([]byte(nil), raw...), nil, nil
	}
}

func firstOrAll(values []string) any {
	if len(values) == 1 {
		return values[0]
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
