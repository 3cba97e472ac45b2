package pathmatch

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrDuplicateParam 表示同一模式中出现了重名参数。
var ErrDuplicateParam = errors.New("duplicate parameter name")

// ErrWildcardNotLast 表示通配段后仍有其它段。
var ErrWildcardNotLast = errors.New("wildcard segment must be last")

// Kind 区分段类型。
type Kind int

const (
	Literal Kind = iota
	Param
	Wildcard
)

// Segment 是模式中的一段；Literal 使用 Value，Param/Wildcard 使用 Name。
type Segment struct {
	Kind  Kind
	Value string
	Name  string
}

// Pattern 是解析后的不可变路径模式。
type Pattern struct {
	segments []Segment
	names    []string
	canon    string
}

// Variables 是 ExtractVariables 的结果，Length 为匹配到的候选段数。
type Variables struct {
	Params map[string]string
	Length int
}

// Parse 将路径字符串解析为模式，支持 [id]、$id、:id 参数以及 [...rest]、*rest 通配写法。
func Parse(path string) (Pattern, error) {
	raw := Split(path)
	p := Pattern{segments: make([]Segment, 0, len(raw))}
	seen := make(map[string]struct{}, len(raw))

	for i, part := range raw {
		seg := classify(part)
		if seg.Kind == Wildcard && i != len(raw)-1 {
			return Pattern{}, fmt.Errorf("%s: %w", path, ErrWildcardNotLast)
		}
		if seg.Kind != Literal {
			if _, dup := seen[seg.Name]; dup {
				return Pattern{}, fmt.Errorf("%s: %w: %s", path, ErrDuplicateParam, seg.Name)
			}
			seen[seg.Name] = struct{}{}
			p.names = append(p.names, seg.Name)
		}
		p.segments = append(p.segments, seg)
	}
	p.canon = render(p.segments)
	return p, nil
}

// MustParse 与 Parse 相同，但失败时 panic，适合常量模式。
func MustParse(path string) Pattern {
	p, err := Parse(path)
	if err != nil {
		panic(err)
	}
	return p
}

// Split 按 / 与 \ 切分路径，去掉空段与 "." 段。
func Split(path string) []string {
	path = strings.ReplaceAll(path, "\\", "/")
	fields := strings.Split(path, "/")
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" || f == "." {
			continue
		}
		out = append(out, f)
	}
	return out
}

func classify(part string) Segment {
	switch {
	case strings.HasPrefix(part, "[...") && strings.HasSuffix(part, "]") && len(part) > 5:
		return Segment{Kind: Wildcard, Name: part[4 : len(part)-1]}
	case part == "*":
		return Segment{Kind: Wildcard, Name: "*"}
	case strings.HasPrefix(part, "*") && len(part) > 1:
		return Segment{Kind: Wildcard, Name: part[1:]}
	case strings.HasPrefix(part, "[") && strings.HasSuffix(part, "]") && len(part) > 2:
		return Segment{Kind: Param, Name: part[1 : len(part)-1]}
	case (strings.HasPrefix(part, "$") || strings.HasPrefix(part, ":")) && len(part) > 1:
		return Segment{Kind: Param, Name: part[1:]}
	default:
		return Segment{Kind: Literal, Value: part}
	}
}

func render(segments []Segment) string {
	parts := make([]string, len(segments))
	for i, seg := range segments {
		switch seg.Kind {
		case Param:
			parts[i] = "[" + seg.Name + "]"
		case Wildcard:
			if seg.Name == "*" {
				parts[i] = "*"
			} else {
				parts[i] = "[..." + seg.Name + "]"
			}
		default:
			parts[i] = seg.Value
		}
	}
	return strings.Join(parts, "/")
}

// String 返回模式的规范形式（无首尾斜杠，根为空串）。
func (p Pattern) String() string {
	return p.canon
}

// Segments 返回段列表的副本。
func (p Pattern) Segments() []Segment {
	out := make([]Segment, len(p.segments))
	copy(out, p.segments)
	return out
}

// ParamNames 按声明顺序返回参数名（含通配名）。
func (p Pattern) ParamNames() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Static 表示模式不含参数与通配段。
func (p Pattern) Static() bool {
	return len(p.names) == 0
}

func (p Pattern) hasWildcard() bool {
	n := len(p.segments)
	return n > 0 && p.segments[n-1].Kind == Wildcard
}

// Matches 逐段比较候选路径：字面量需完全相等，参数接受任意值，
// 除非末尾为通配段，否则段数必须一致。
func (p Pattern) Matches(candidate string) bool {
	parts := Split(candidate)
	fixed := len(p.segments)
	if p.hasWildcard() {
		fixed--
		if len(parts) < fixed {
			return false
		}
	} else if len(parts) != fixed {
		return false
	}

	for i := 0; i < fixed; i++ {
		seg := p.segments[i]
		if seg.Kind == Literal && seg.Value != parts[i] {
			return false
		}
	}
	return true
}

// ExtractVariables 同步遍历模式与候选路径，只为声明过的参数绑定解码后的值。
// 调用方需先确认 Matches；不匹配时不会报错，仅返回能对齐的部分。
func (p Pattern) ExtractVariables(candidate string) Variables {
	parts := Split(candidate)
	vars := Variables{Params: make(map[string]string, len(p.names)), Length: len(parts)}

	for i, seg := range p.segments {
		switch seg.Kind {
		case Param:
			if i < len(parts) {
				vars.Params[seg.Name] = decode(parts[i])
			}
		case Wildcard:
			rest := []string{}
			if i < len(parts) {
				rest = parts[i:]
			}
			decoded := make([]string, len(rest))
			for j, r := range rest {
				decoded[j] = decode(r)
			}
			vars.Params[seg.Name] = strings.Join(decoded, "/")
		}
	}
	return vars
}

func decode(segment string) string {
	if v, err := url.PathUnescape(segment); err == nil {
		return v
	}
	return segment
}
