package module

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/fsroute/internal/route"
)

// DefaultIgnore 是受管目录中视为第三方依赖的目录名。
var DefaultIgnore = []string{"vendor", "node_modules", ".git"}

// LoaderOptions 配置模块加载器。
type LoaderOptions struct {
	// Root 是受管目录，路由文件及其依赖必须位于其中。
	Root string
	// PollInterval 是依赖文件修改时间的轮询间隔。
	PollInterval time.Duration
	// Ignore 为受管目录中禁止 require 的目录名。
	Ignore []string
	Logger *logrus.Logger
}

// Loaded 是一次成功加载的结果，同一内容重复加载会返回同一个指针。
// Fingerprint 只覆盖文件本身，Version 同时覆盖编译期解析到的依赖内容。
type Loaded struct {
	Module      *route.Module
	File        string
	Fingerprint uint64
	Version     uint64
	Deps        []string
	LoadedAt    time.Time
}

// Loader 负责把路由文件编译为模块，按绝对路径记忆结果，并在文件或其依赖变化时
// 重新编译、通知导入方。
type Loader struct {
	root   string
	ignore map[string]struct{}
	logger *logrus.Logger
	group  singleflight.Group
	poll   *poller

	mu        sync.Mutex
	memo      map[string]*Loaded
	// live 是每个文件最近一次编译成功的结果，被替换或 Forget 时释放其模块。
	live      map[string]*Loaded
	callbacks map[string]func()
	importers map[string]map[string]struct{}
	deps      map[string]map[string]uint64
}

// NewLoader 创建加载器；Root 为空时使用当前目录。
func NewLoader(opts LoaderOptions) (*Loader, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("无法解析模块根目录: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(absRoot); err == nil {
		absRoot = resolved
	}
	ignore := opts.Ignore
	if len(ignore) == 0 {
		ignore = DefaultIgnore
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	l := &Loader{
		root:      absRoot,
		ignore:    make(map[string]struct{}, len(ignore)),
		logger:    logger,
		poll:      newPoller(opts.PollInterval),
		memo:      make(map[string]*Loaded),
		live:      make(map[string]*Loaded),
		callbacks: make(map[string]func()),
		importers: make(map[string]map[string]struct{}),
		deps:      make(map[string]map[string]uint64),
	}
	for _, name := range ignore {
		l.ignore[name] = struct{}{}
	}
	return l, nil
}

// Root 返回受管目录的绝对路径。
func (l *Loader) Root() string {
	return l.root
}

// Load 加载 path 指向的路由文件或目录。目录解析为按编译器优先级找到的第一个 index 文件，
// 没有 index 文件时返回空模块。结果按绝对路径记忆，ignoreCache 为 true 时重新读取文件，
// 内容未变化则复用已编译的模块。onInvalidate 以导入方为键登记，文件或其依赖变化时调用。
func (l *Loader) Load(ctx context.Context, path string, ignoreCache bool, onInvalidate func()) (*Loaded, error) {
	abs, err := l.absolute(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", abs, err)
	}
	if info.IsDir() {
		index, ok := l.resolveIndex(abs)
		if !ok {
			return &Loaded{Module: route.Empty(abs), File: abs, LoadedAt: time.Now()}, nil
		}
		abs = index
	}
	if err := l.guard(abs); err != nil {
		return nil, err
	}

	if !ignoreCache {
		l.mu.Lock()
		cached := l.memo[abs]
		l.mu.Unlock()
		if cached != nil {
			l.observe(abs, onInvalidate)
			return cached, nil
		}
	}

	v, err, _ := l.group.Do(abs, func() (any, error) {
		return l.compile(ctx, abs)
	})
	if err != nil {
		return nil, err
	}
	l.observe(abs, onInvalidate)
	return v.(*Loaded), nil
}

func (l *Loader) absolute(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.root, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return abs, nil
}

func (l *Loader) resolveIndex(dir string) (string, bool) {
	for _, ext := range Extensions() {
		candidate := filepath.Join(dir, "index"+ext)
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, true
		}
	}
	return "", false
}

// guard 拒绝受管目录之外以及第三方依赖目录中的路径。
func (l *Loader) guard(abs string) error {
	rel, err := filepath.Rel(l.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%s: %w", abs, ErrOutsideTree)
	}
	for _, part := range strings.Split(filepath.Dir(rel), string(filepath.Separator)) {
		if _, ignored := l.ignore[part]; ignored {
			return fmt.Errorf("%s: %w", abs, ErrOutsideTree)
		}
	}
	return nil
}

func (l *Loader) compile(ctx context.Context, abs string) (*Loaded, error) {
	text, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", abs, err)
	}
	fingerprint := xxhash.Sum64(text)

	l.mu.Lock()
	prev := l.memo[abs]
	l.mu.Unlock()
	if prev != nil && prev.Fingerprint == fingerprint {
		return prev, nil
	}

	compiler, ok := CompilerFor(filepath.Ext(abs))
	if !ok {
		return nil, fmt.Errorf("%s: %w for %q", abs, ErrNoCompiler, filepath.Ext(abs))
	}

	l.mu.Lock()
	l.deps[abs] = make(map[string]uint64)
	l.mu.Unlock()

	entry := l.logger.WithFields(logrus.Fields{"action": "module_compile", "file": abs})
	mod, err := compiler.Compile(ctx, Source{
		Path:    abs,
		Text:    text,
		Require: l.requireFor(abs),
		Logger:  entry,
	})
	if err != nil {
		var compileErr *CompileError
		if !errors.As(err, &compileErr) {
			err = &CompileError{File: abs, Message: err.Error(), Err: err}
		}
		return nil, err
	}
	if mod == nil {
		mod = route.Empty(abs)
	}
	mod.Source = abs

	loaded := &Loaded{
		Module:      mod,
		File:        abs,
		Fingerprint: fingerprint,
		Version:     l.versionOf(abs, fingerprint),
		Deps:        l.depsOf(abs),
		LoadedAt:    time.Now(),
	}

	l.mu.Lock()
	old := l.live[abs]
	if old != nil && old.Version == loaded.Version {
		// 内容与依赖都未变化：沿用仍在服务的模块，丢弃新编译的副本。
		l.memo[abs] = old
		l.mu.Unlock()
		mod.Close()
		return old, nil
	}
	l.memo[abs] = loaded
	l.live[abs] = loaded
	l.mu.Unlock()
	if old != nil {
		old.Module.Close()
	}

	entry.WithField("deps", len(loaded.Deps)).Debug("module compiled")
	return loaded, nil
}

func (l *Loader) depsOf(importer string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.deps[importer]))
	for dep := range l.deps[importer] {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}

// versionOf 按依赖路径排序后把依赖内容摘要并入文件指纹。
func (l *Loader) versionOf(importer string, fingerprint uint64) uint64 {
	l.mu.Lock()
	sums := make(map[string]uint64, len(l.deps[importer]))
	for dep, sum := range l.deps[importer] {
		sums[dep] = sum
	}
	l.mu.Unlock()
	if len(sums) == 0 {
		return fingerprint
	}

	names := make([]string, 0, len(sums))
	for dep := range sums {
		names = append(names, dep)
	}
	sort.Strings(names)
	d := xxhash.New()
	_, _ = d.Write(binary.LittleEndian.AppendUint64(nil, fingerprint))
	for _, name := range names {
		_, _ = d.WriteString(name)
		_, _ = d.Write(binary.LittleEndian.AppendUint64(nil, sums[name]))
	}
	return d.Sum64()
}

// observe 为导入方登记回调，并对其自身及全部依赖建立（去重的）轮询监听。
func (l *Loader) observe(importer string, onInvalidate func()) {
	l.mu.Lock()
	if onInvalidate != nil {
		l.callbacks[importer] = onInvalidate
	}
	watched := []string{importer}
	l.link(importer, importer)
	for dep := range l.deps[importer] {
		l.link(dep, importer)
		watched = append(watched, dep)
	}
	l.mu.Unlock()

	for _, path := range watched {
		l.poll.watch(path, l.onFileChanged)
	}
}

func (l *Loader) link(path, importer string) {
	set, ok := l.importers[path]
	if !ok {
		set = make(map[string]struct{})
		l.importers[path] = set
	}
	set[importer] = struct{}{}
}

// requireFor 返回绑定到导入方的依赖解析函数，解析到的依赖会被记录并监听。
func (l *Loader) requireFor(importer string) RequireFunc {
	return func(from, name string) (Dependency, error) {
		if !strings.HasPrefix(name, ".") && !filepath.IsAbs(name) {
			return Dependency{}, fmt.Errorf("%s: %w", name, ErrOutsideTree)
		}
		if from == "" {
			from = importer
		}
		base := name
		if !filepath.IsAbs(base) {
			base = filepath.Join(filepath.Dir(from), filepath.FromSlash(name))
		}
		ext := filepath.Ext(importer)
		for _, candidate := range []string{base, base + ext, filepath.Join(base, "index"+ext)} {
			info, err := os.Stat(candidate)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			if resolved, err := filepath.EvalSymlinks(candidate); err == nil {
				candidate = resolved
			}
			if err := l.guard(candidate); err != nil {
				return Dependency{}, err
			}
			text, err := os.ReadFile(candidate)
			if err != nil {
				return Dependency{}, err
			}
			l.recordDep(importer, candidate, xxhash.Sum64(text))
			return Dependency{Path: candidate, Text: text}, nil
		}
		return Dependency{}, fmt.Errorf("require %s from %s: %w", name, from, fs.ErrNotExist)
	}
}

func (l *Loader) recordDep(importer, dep string, sum uint64) {
	if dep == importer {
		return
	}
	l.mu.Lock()
	set, ok := l.deps[importer]
	if !ok {
		set = make(map[string]uint64)
		l.deps[importer] = set
	}
	set[dep] = sum
	_, observed := l.callbacks[importer]
	if observed {
		l.link(dep, importer)
	}
	l.mu.Unlock()

	if observed {
		l.poll.watch(dep, l.onFileChanged)
	}
}

// onFileChanged 丢弃变化文件及其全部导入方的记忆，重新编译没有回调的路由文件，
// 然后对每个不同的导入方各调用一次回调。
func (l *Loader) onFileChanged(path string) {
	l.mu.Lock()
	_, wasLoaded := l.memo[path]
	delete(l.memo, path)
	var callbacks []func()
	var orphans []string
	for importer := range l.importers[path] {
		delete(l.memo, importer)
		if cb, ok := l.callbacks[importer]; ok {
			callbacks = append(callbacks, cb)
		} else if importer == path && wasLoaded {
			orphans = append(orphans, importer)
		}
	}
	l.mu.Unlock()

	l.logger.WithFields(logrus.Fields{
		"action":    "module_changed",
		"file":      path,
		"importers": len(callbacks) + len(orphans),
	}).Info("module source changed")

	for _, file := range orphans {
		if _, err := l.compile(context.Background(), file); err != nil {
			l.LogError(err)
		}
	}
	for _, cb := range callbacks {
		cb()
	}
}

// Forget 移除 path 的记忆、回调与不再被引用的监听。
func (l *Loader) Forget(path string) {
	abs, err := l.absolute(path)
	if err != nil {
		return
	}

	l.mu.Lock()
	released := l.live[abs]
	delete(l.live, abs)
	delete(l.memo, abs)
	delete(l.callbacks, abs)
	var unwatch []string
	for dep := range l.deps[abs] {
		if set := l.importers[dep]; set != nil {
			delete(set, abs)
			if len(set) == 0 {
				delete(l.importers, dep)
				unwatch = append(unwatch, dep)
			}
		}
	}
	delete(l.deps, abs)
	if set := l.importers[abs]; set != nil {
		delete(set, abs)
		if len(set) == 0 {
			delete(l.importers, abs)
			unwatch = append(unwatch, abs)
		}
	}
	l.mu.Unlock()

	for _, p := range unwatch {
		l.poll.unwatch(p)
	}
	if released != nil {
		released.Module.Close()
	}
}

// Cached 返回记忆中的加载结果。
func (l *Loader) Cached(path string) (*Loaded, bool) {
	abs, err := l.absolute(path)
	if err != nil {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	loaded, ok := l.memo[abs]
	return loaded, ok
}

// Watching 表示 path 当前是否处于轮询监听中。
func (l *Loader) Watching(path string) bool {
	abs, err := l.absolute(path)
	if err != nil {
		return false
	}
	return l.poll.watching(abs)
}

// LogError 记录加载失败；编译错误会带上文件/行/列。
func (l *Loader) LogError(err error) {
	fields := logrus.Fields{"action": "module_load"}
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		fields["file"] = compileErr.File
		fields["line"] = compileErr.Line
		fields["column"] = compileErr.Column
	}
	l.logger.WithFields(fields).Error(err.Error())
}

// Close 停止依赖轮询并释放全部已编译模块。
func (l *Loader) Close() error {
	l.poll.close()
	l.mu.Lock()
	live := l.live
	l.live = make(map[string]*Loaded)
	l.memo = make(map[string]*Loaded)
	l.mu.Unlock()
	for _, loaded := range live {
		loaded.Module.Close()
	}
	return nil
}
