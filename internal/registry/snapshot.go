package registry

import (
	"strings"
	"time"

	"github.com/any-hub/fsroute/internal/cache"
	"github.com/any-hub/fsroute/internal/pathmatch"
	"github.com/any-hub/fsroute/internal/route"
)

// Entry 是路由表中的一项，安装后不再修改；重新加载会生成新的 Entry 并复用 Cache。
type Entry struct {
	Key         string
	Pattern     pathmatch.Pattern
	Dir         string
	File        string
	Module      *route.Module
	Cache       *cache.Cache[any]
	LoadedAt    time.Time
	Fingerprint uint64
	Version     uint64
}

// Snapshot 是不可变的路由表：keys 保留注册顺序，替换已有键时位置不变。
type Snapshot struct {
	keys    []string
	entries map[string]*Entry
}

func emptySnapshot() *Snapshot {
	return &Snapshot{entries: map[string]*Entry{}}
}

// NewSnapshot 按给定顺序构造路由表，Key 为空的项使用 Pattern 的规范形式。
// 用于不经过目录监听的静态路由表。
func NewSnapshot(entries ...*Entry) *Snapshot {
	s := emptySnapshot()
	for _, e := range entries {
		if e.Key == "" {
			e.Key = e.Pattern.String()
		}
		s = s.with(e)
	}
	return s
}

// Snapshot 让 *Snapshot 本身也能作为固定路由表使用。
func (s *Snapshot) Snapshot() *Snapshot {
	return s
}

// Len 返回路由数量。
func (s *Snapshot) Len() int {
	return len(s.keys)
}

// Keys 按注册顺序返回路由键。
func (s *Snapshot) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Get 按键返回路由。
func (s *Snapshot) Get(key string) (*Entry, bool) {
	e, ok := s.entries[key]
	return e, ok
}

// Entries 按注册顺序返回全部路由。
func (s *Snapshot) Entries() []*Entry {
	out := make([]*Entry, 0, len(s.keys))
	for _, key := range s.keys {
		out = append(out, s.entries[key])
	}
	return out
}

// Lookup 按注册顺序匹配 path，第一个结构上匹配的路由胜出。
func (s *Snapshot) Lookup(path string) (*Entry, map[string]string, bool) {
	candidate := strings.Trim(path, "/")
	for _, key := range s.keys {
		e := s.entries[key]
		if e.Pattern.Matches(candidate) {
			return e, e.Pattern.ExtractVariables(candidate).Params, true
		}
	}
	return nil, nil, false
}

// with 返回替换或追加 e 之后的新快照。
func (s *Snapshot) with(e *Entry) *Snapshot {
	next := &Snapshot{keys: s.keys, entries: make(map[string]*Entry, len(s.entries)+1)}
	for k, v := range s.entries {
		next.entries[k] = v
	}
	if _, exists := s.entries[e.Key]; !exists {
		next.keys = make([]string, len(s.keys), len(s.keys)+1)
		copy(next.keys, s.keys)
		next.keys = append(next.keys, e.Key)
	}
	next.entries[e.Key] = e
	return next
}

// without 返回删除 key 之后的新快照。
func (s *Snapshot) without(key string) *Snapshot {
	if _, exists := s.entries[key]; !exists {
		return s
	}
	next := &Snapshot{keys: make([]string, 0, len(s.keys)), entries: make(map[string]*Entry, len(s.entries))}
	for _, k := range s.keys {
		if k == key {
			continue
		}
		next.keys = append(next.keys, k)
		next.entries[k] = s.entries[k]
	}
	return next
}
