package dispatch

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/any-hub/fsroute/internal/route"
)

// splitQuery 拆出路径与查询串，同名参数取第一个值。
func splitQuery(raw string) (string, map[string]string) {
	path, rawQuery, found := strings.Cut(raw, "?")
	if !found || rawQuery == "" {
		return path, nil
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return path, nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return path, out
}

// resolvePath 以 from 为基准解析 ./ 与 ../ 开头的相对路径，其余路径只做规范化。
// 结果以 / 开头且不含 . 与 .. 段。
func resolvePath(from, to string) string {
	var stack []string
	if strings.HasPrefix(to, "./") || strings.HasPrefix(to, "../") {
		stack = walk(stack, from)
	}
	return "/" + strings.Join(walk(stack, to), "/")
}

func walk(stack []string, path string) []string {
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		switch part {
		case ".":
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, part)
		}
	}
	return stack
}

// stripBase 去掉基础路径前缀；不在基础路径下的请求原样返回，由路由匹配决定结果。
func stripBase(path, base string) string {
	base = strings.Trim(base, "/")
	trimmed := strings.Trim(path, "/")
	if base == "" {
		return trimmed
	}
	if trimmed == base {
		return ""
	}
	if strings.HasPrefix(trimmed, base+"/") {
		return trimmed[len(base)+1:]
	}
	return trimmed
}

func lowerKeys(dst, src map[string]string) {
	for k, v := range src {
		dst[strings.ToLower(k)] = v
	}
}

func merge(dst, src map[string]string) {
	for k, v := range src {
		dst[k] = v
	}
}

// normalizeFiles 把传输层给出的上传统一为 route.File；缺失的名称用随机 UUID 补齐，
// 缺失的类型按内容探测。
func normalizeFiles(in []any) ([]route.File, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]route.File, 0, len(in))
	for _, item := range in {
		var f route.File
		switch v := item.(type) {
		case route.File:
			f = v
		case *route.File:
			if v == nil {
				continue
			}
			f = *v
		case []byte:
			f = route.File{Data: v}
		case *multipart.FileHeader:
			data, err := readUpload(v)
			if err != nil {
				return nil, err
			}
			f = route.File{Name: v.Filename, Type: v.Header.Get("Content-Type"), Data: data}
		default:
			return nil, fmt.Errorf("unsupported upload type %T", item)
		}
		if f.Name == "" {
			f.Name = uuid.NewString()
		}
		if f.Type == "" {
			f.Type = http.DetectContentType(f.Data)
		}
		if f.Size == 0 {
			f.Size = int64(len(f.Data))
		}
		out = append(out, f)
	}
	return out, nil
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	file, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read upload %s: %w", fh.Filename, err)
	}
	return data, nil
}
