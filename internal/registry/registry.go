package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/fsroute/internal/cache"
	"github.com/any-hub/fsroute/internal/logging"
	"github.com/any-hub/fsroute/internal/module"
	"github.com/any-hub/fsroute/internal/pathmatch"
	"github.com/any-hub/fsroute/internal/route"
)

// DefaultReadyDebounce 是初始扫描后判定就绪所需的静默时长。
const DefaultReadyDebounce = time.Second

// Op 是路由表变化类型。
type Op string

const (
	OpAdd    Op = "add"
	OpChange Op = "change"
	OpUnlink Op = "unlink"
)

// Event 描述一次路由表变化；加载失败时 Err 非空且路由表保持不变。
type Event struct {
	Op   Op
	Key  string
	File string
	Err  error
}

// Options 配置路由注册表。
type Options struct {
	// Root 是被监听的路由目录。
	Root string
	// Loader 为空时以 Root 为受管目录创建一个，并在 Close 时关闭。
	Loader *module.Loader
	Logger *logrus.Logger
	// IndexNames 是路由入口文件名（不含扩展名），默认 index。
	IndexNames    []string
	ReadyDebounce time.Duration
	// CacheDefaults 与模块声明的缓存策略合并后用于每个路由的私有缓存。
	CacheDefaults cache.Options
}

// Registry 监听目录并维护路由表。读取无锁，修改在 mu 下串行。
type Registry struct {
	root        string
	loader      *module.Loader
	ownsLoader  bool
	logger      *logrus.Logger
	indexNames  map[string]struct{}
	indexOrder  []string
	ignore      map[string]struct{}
	debounce    time.Duration
	defaults    cache.Options
	table       atomic.Pointer[Snapshot]
	loadContext context.Context

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	started bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}

	readyMu    sync.Mutex
	readyCh    chan struct{}
	ready      bool
	readyTimer *time.Timer
	onReady    []func()

	subsMu sync.Mutex
	subs   []chan Event
}

// New 校验参数并创建注册表，Start 之前路由表为空。
func New(opts Options) (*Registry, error) {
	if opts.Root == "" {
		return nil, errors.New("registry root is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("无法解析路由目录: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("路由目录不可用: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("路由目录 %s 不是目录", root)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	loader := opts.Loader
	owns := false
	if loader == nil {
		loader, err = module.NewLoader(module.LoaderOptions{Root: root, Logger: logger})
		if err != nil {
			return nil, err
		}
		owns = true
	}

	names := opts.IndexNames
	if len(names) == 0 {
		names = []string{"index"}
	}
	debounce := opts.ReadyDebounce
	if debounce <= 0 {
		debounce = DefaultReadyDebounce
	}
	defaults := opts.CacheDefaults.Merge(cache.DefaultOptions())

	r := &Registry{
		root:       root,
		loader:     loader,
		ownsLoader: owns,
		logger:     logger,
		indexNames: make(map[string]struct{}, len(names)),
		indexOrder: names,
		ignore:     make(map[string]struct{}, len(module.DefaultIgnore)),
		debounce:   debounce,
		defaults:   defaults,
		readyCh:    make(chan struct{}),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, name := range names {
		r.indexNames[name] = struct{}{}
	}
	for _, name := range module.DefaultIgnore {
		r.ignore[name] = struct{}{}
	}
	r.table.Store(emptySnapshot())
	return r, nil
}

// Root 返回被监听目录的绝对路径。
func (r *Registry) Root() string {
	return r.root
}

// Start 建立 fsnotify 监听，扫描现有路由文件并开始处理事件。
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started || r.closed {
		r.mu.Unlock()
		return errors.New("registry already started")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("创建目录监听失败: %w", err)
	}
	r.watcher = watcher
	r.started = true
	r.loadContext = context.WithoutCancel(ctx)
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{"action": "registry_start", "root": r.root}).Info("watching routes")
	r.addTree(r.root)
	r.bump()

	go r.run(ctx)
	return nil
}

func (r *Registry) run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			r.handle(ev)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.WithField("action", "registry_watch").Warn(err.Error())
		}
	}
}

func (r *Registry) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			r.bump()
			r.addTree(path)
			return
		}
		if r.isIndex(path) {
			r.bump()
			r.load(filepath.Dir(path))
		}
	case ev.Has(fsnotify.Write):
		if r.isIndex(path) {
			r.bump()
			r.load(filepath.Dir(path))
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		r.bump()
		r.unlink(path)
	}
}

// addTree 递归监听目录，并按遍历顺序加载其中的路由目录。
func (r *Registry) addTree(dir string) {
	var routeDirs []string
	seen := make(map[string]struct{})
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != r.root && r.ignored(d.Name()) {
				return filepath.SkipDir
			}
			if err := r.watcher.Add(path); err != nil {
				r.logger.WithFields(logrus.Fields{"action": "registry_watch", "dir": path}).Warn(err.Error())
			}
			return nil
		}
		if r.isIndex(path) {
			parent := filepath.Dir(path)
			if _, ok := seen[parent]; !ok {
				seen[parent] = struct{}{}
				routeDirs = append(routeDirs, parent)
			}
		}
		return nil
	})
	for _, d := range routeDirs {
		r.load(d)
	}
}

func (r *Registry) ignored(name string) bool {
	_, ok := r.ignore[name]
	return ok
}

// isIndex 判断 path 是否为受管的路由入口文件：文件名命中 IndexNames 且扩展名已注册编译器。
func (r *Registry) isIndex(path string) bool {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if _, ok := r.indexNames[strings.TrimSuffix(base, ext)]; !ok {
		return false
	}
	if _, ok := module.CompilerFor(ext); !ok {
		return false
	}
	rel, err := filepath.Rel(r.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(filepath.Dir(rel)), "/") {
		if r.ignored(part) {
			return false
		}
	}
	return true
}

// KeyFor 把路由目录转换为路由键：去掉根目录前缀，统一分隔符并规范参数标记。
func (r *Registry) KeyFor(dir string) (pathmatch.Pattern, error) {
	rel, err := filepath.Rel(r.root, dir)
	if err != nil {
		return pathmatch.Pattern{}, err
	}
	if rel == "." {
		rel = ""
	}
	return pathmatch.Parse(filepath.ToSlash(rel))
}

// load 加载 dir 下的路由入口并安装到路由表；失败时保留旧版本。
func (r *Registry) load(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	pattern, err := r.KeyFor(dir)
	if err != nil {
		r.logger.WithFields(logrus.Fields{"action": "route_register", "dir": dir}).Error(err.Error())
		return
	}
	key := pattern.String()
	prev, hadPrev := r.table.Load().Get(key)

	index, ok := r.resolveIndex(dir)
	if !ok {
		if hadPrev {
			r.removeLocked(prev)
		}
		return
	}

	loaded, err := r.loader.Load(r.loadContext, index, true, r.invalidator(dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if hadPrev {
				r.removeLocked(prev)
			}
			return
		}
		r.loader.LogError(err)
		op := OpAdd
		if hadPrev {
			op = OpChange
		}
		r.emit(Event{Op: op, Key: key, File: dir, Err: err})
		return
	}
	fields := logging.RouteFields(key, loaded.File, "")
	if hadPrev && prev.File == loaded.File && prev.Version == loaded.Version {
		r.logger.WithFields(fields).WithField("action", "route_register").Debug("route unchanged")
		return
	}

	opts := r.defaults
	if loaded.Module.CacheOptions != nil {
		opts = loaded.Module.CacheOptions.Merge(r.defaults)
	}
	var routeCache *cache.Cache[any]
	if hadPrev && prev.Cache != nil {
		routeCache = prev.Cache
		if err := routeCache.ApplyOptions(opts); err != nil {
			r.logger.WithFields(fields).WithField("action", "route_register").Warn(err.Error())
		}
	} else {
		routeCache, err = cache.New[any](opts)
		if err != nil {
			r.logger.WithFields(fields).WithField("action", "route_register").Warn(err.Error())
			routeCache, _ = cache.New[any](r.defaults)
		}
	}

	entry := &Entry{
		Key:         key,
		Pattern:     pattern,
		Dir:         dir,
		File:        loaded.File,
		Module:      loaded.Module,
		Cache:       routeCache,
		LoadedAt:    loaded.LoadedAt,
		Fingerprint: loaded.Fingerprint,
		Version:     loaded.Version,
	}
	r.table.Store(r.table.Load().with(entry))
	if hadPrev && prev.File != loaded.File {
		r.loader.Forget(prev.File)
	}

	op, msg := OpAdd, "route added"
	if hadPrev {
		op, msg = OpChange, "route updated"
	}
	r.logger.WithFields(fields).WithFields(logrus.Fields{
		"action":  "route_register",
		"methods": methodNames(loaded.Module),
	}).Info(msg)
	r.emit(Event{Op: op, Key: key, File: loaded.File})
}

// resolveIndex 按 IndexNames 顺序与编译器优先级查找 dir 下的入口文件。
func (r *Registry) resolveIndex(dir string) (string, bool) {
	for _, name := range r.indexOrder {
		for _, ext := range module.Extensions() {
			candidate := filepath.Join(dir, name+ext)
			if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
				return candidate, true
			}
		}
	}
	return "", false
}

func methodNames(mod *route.Module) []string {
	methods := mod.Methods()
	out := make([]string, len(methods))
	for i, m := range methods {
		out[i] = string(m)
	}
	return out
}

func (r *Registry) invalidator(dir string) func() {
	return func() {
		r.bump()
		r.load(dir)
	}
}

// unlink 处理文件或目录的删除：入口文件被删时重新解析所在目录，目录被删时移除其下全部路由。
func (r *Registry) unlink(path string) {
	var reload []string
	r.mu.Lock()
	for _, e := range r.table.Load().Entries() {
		switch {
		case e.File == path:
			reload = append(reload, e.Dir)
		case e.Dir == path || strings.HasPrefix(e.Dir, path+string(filepath.Separator)):
			r.removeLocked(e)
		}
	}
	watcher := r.watcher
	r.mu.Unlock()

	if watcher != nil {
		_ = watcher.Remove(path)
	}
	for _, dir := range reload {
		r.load(dir)
	}
}

func (r *Registry) removeLocked(e *Entry) {
	r.table.Store(r.table.Load().without(e.Key))
	if e.Cache != nil {
		e.Cache.Close()
	}
	r.loader.Forget(e.File)
	r.logger.WithFields(logging.RouteFields(e.Key, e.File, "")).WithField("action", "route_register").Info("route removed")
	r.emit(Event{Op: OpUnlink, Key: e.Key, File: e.File})
}

// Snapshot 返回当前路由表；调用方在一次请求内应只捕获一次。
func (r *Registry) Snapshot() *Snapshot {
	return r.table.Load()
}

// Lookup 在当前路由表中按注册顺序匹配 path。
func (r *Registry) Lookup(path string) (*Entry, map[string]string, bool) {
	return r.table.Load().Lookup(path)
}

// List 按注册顺序返回全部路由。
func (r *Registry) List() []*Entry {
	return r.table.Load().Entries()
}

// bump 在就绪之前重置防抖计时器。
func (r *Registry) bump() {
	r.readyMu.Lock()
	defer r.readyMu.Unlock()
	if r.ready {
		return
	}
	if r.readyTimer == nil {
		r.readyTimer = time.AfterFunc(r.debounce, r.markReady)
		return
	}
	r.readyTimer.Reset(r.debounce)
}

func (r *Registry) markReady() {
	r.readyMu.Lock()
	if r.ready {
		r.readyMu.Unlock()
		return
	}
	r.ready = true
	close(r.readyCh)
	callbacks := r.onReady
	r.onReady = nil
	r.readyMu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"action": "registry_ready",
		"routes": r.table.Load().Len(),
	}).Info("routes ready")
	for _, fn := range callbacks {
		fn()
	}
}

// Ready 阻塞直到初始扫描在防抖窗口内不再产生事件。
func (r *Registry) Ready(ctx context.Context) error {
	select {
	case <-r.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnReady 登记就绪回调；已就绪时立即调用。
func (r *Registry) OnReady(fn func()) {
	r.readyMu.Lock()
	if !r.ready {
		r.onReady = append(r.onReady, fn)
		r.readyMu.Unlock()
		return
	}
	r.readyMu.Unlock()
	fn()
}

// Subscribe 返回路由表变化事件；订阅方消费过慢时事件会被丢弃。
func (r *Registry) Subscribe() <-chan Event {
	ch := make(chan Event, 128)
	r.subsMu.Lock()
	r.subs = append(r.subs, ch)
	r.subsMu.Unlock()
	return ch
}

func (r *Registry) emit(ev Event) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			r.logger.WithFields(logrus.Fields{"action": "registry_event", "key": ev.Key}).Debug("subscriber lagging, event dropped")
		}
	}
}

// Close 停止监听、关闭路由缓存与订阅通道。
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	started := r.started
	watcher := r.watcher
	r.mu.Unlock()

	close(r.stop)
	var err error
	if watcher != nil {
		err = watcher.Close()
	}
	if started {
		<-r.done
	}

	r.readyMu.Lock()
	if r.readyTimer != nil {
		r.readyTimer.Stop()
	}
	r.readyMu.Unlock()

	for _, e := range r.table.Load().Entries() {
		if e.Cache != nil {
			e.Cache.Close()
		}
	}
	if r.ownsLoader {
		_ = r.loader.Close()
	}

	r.subsMu.Lock()
	for _, ch := range r.subs {
		close(ch)
	}
	r.subs = nil
	r.subsMu.Unlock()
	return err
}
