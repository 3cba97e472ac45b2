package module

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/fsroute/internal/route"
)

// Compiler 将源文件编译为可执行的路由模块。编译失败应返回 *CompileError，
// 便于记录文件/行/列。
type Compiler interface {
	Compile(ctx context.Context, src Source) (*route.Module, error)
}

// CompilerFunc 适配普通函数。
type CompilerFunc func(ctx context.Context, src Source) (*route.Module, error)

// Compile 实现 Compiler。
func (f CompilerFunc) Compile(ctx context.Context, src Source) (*route.Module, error) {
	return f(ctx, src)
}

// Source 是交给编译器的全部输入；编译器拿不到 Loader 本身。
type Source struct {
	Path    string
	Text    []byte
	Require RequireFunc
	Logger  *logrus.Entry
}

// RequireFunc 解析同一受管目录内的依赖，from 为发起方文件的绝对路径。
// 越界或位于第三方目录的依赖返回 ErrOutsideTree，调用方应回退到自身的解析方式。
type RequireFunc func(from, name string) (Dependency, error)

// Dependency 是一次 Require 的结果。
type Dependency struct {
	Path string
	Text []byte
}

type compilerEntry struct {
	ext      string
	priority int
	compiler Compiler
}

var compilers = struct {
	sync.RWMutex
	byExt map[string]compilerEntry
}{byExt: make(map[string]compilerEntry)}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// RegisterCompiler 为扩展名注册编译器；priority 越小，在目录索引解析时越优先。
func RegisterCompiler(ext string, priority int, c Compiler) error {
	ext = normalizeExt(ext)
	if ext == "" {
		return fmt.Errorf("compiler extension is required")
	}
	if c == nil {
		return fmt.Errorf("compiler for %s is nil", ext)
	}

	compilers.Lock()
	defer compilers.Unlock()
	if _, exists := compilers.byExt[ext]; exists {
		return fmt.Errorf("compiler for %s already registered", ext)
	}
	compilers.byExt[ext] = compilerEntry{ext: ext, priority: priority, compiler: c}
	return nil
}

// MustRegisterCompiler 在注册失败时 panic。
func MustRegisterCompiler(ext string, priority int, c Compiler) {
	if err := RegisterCompiler(ext, priority, c); err != nil {
		panic(err)
	}
}

// CompilerFor 返回扩展名对应的编译器。
func CompilerFor(ext string) (Compiler, bool) {
	compilers.RLock()
	defer compilers.RUnlock()
	entry, ok := compilers.byExt[normalizeExt(ext)]
	return entry.compiler, ok
}

// Extensions 按优先级返回已注册的扩展名。
func Extensions() []string {
	compilers.RLock()
	entries := make([]compilerEntry, 0, len(compilers.byExt))
	for _, e := range compilers.byExt {
		entries = append(entries, e)
	}
	compilers.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].ext < entries[j].ext
	})
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ext
	}
	return out
}
