package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry[V any] struct {
	key      string
	value    V
	ttl      time.Duration
	created  time.Time
	accessed time.Time
	expires  time.Time
	elem     *list.Element
}

func (e *entry[V]) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Cache 是带过期与容量淘汰的内存 KV 缓存，可被请求路径与后台清扫并发访问。
type Cache[V any] struct {
	mu      sync.Mutex
	opts    resolved
	items   map[string]*entry[V]
	order   *list.List
	enabled bool
	now     func() time.Time

	sweepStop chan struct{}
	sweepDone chan struct{}
	closed    bool
}

// New 创建缓存并按 SweepInterval 启动后台清扫。
func New[V any](opts Options) (*Cache[V], error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	c := &Cache[V]{
		opts:    opts.resolve(),
		items:   make(map[string]*entry[V]),
		order:   list.New(),
		enabled: true,
		now:     time.Now,
	}
	c.startSweeper()
	return c, nil
}

// ApplyOptions 在保留已有条目的前提下更新策略；清扫间隔变化时重启清扫协程。
func (c *Cache[V]) ApplyOptions(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	next := opts.resolve()

	c.mu.Lock()
	prevInterval := c.opts.sweepInterval
	c.opts = next
	closed := c.closed
	c.mu.Unlock()

	if !closed && prevInterval != next.sweepInterval {
		c.stopSweeper()
		c.startSweeper()
	}
	return nil
}

// SetEnabled 关闭后 Set 不再写入，Get 一律返回未命中。
func (c *Cache[V]) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()
}

// Enabled 返回当前开关状态。
func (c *Cache[V]) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Set 写入值；ttl 省略时使用缓存的 Expiry，显式传入 ≤0 表示永不过期。
// 容量已满且 key 为新键时，先淘汰第一个已过期条目，否则淘汰最久未访问的条目，每次至多一条。
func (c *Cache[V]) Set(key string, value V, ttl ...time.Duration) error {
	c.mu.Lock()
	enabled, cloneValues := c.enabled, c.opts.cloneValues
	c.mu.Unlock()
	if !enabled {
		return nil
	}

	stored := value
	if cloneValues {
		cloned, err := Clone(value)
		if err != nil {
			return err
		}
		stored = cloned
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	life := c.opts.expiry
	if len(ttl) > 0 {
		life = ttl[0]
	}

	if existing, ok := c.items[key]; ok {
		existing.value = stored
		existing.ttl = life
		existing.created = now
		existing.accessed = now
		existing.expires = expiresAt(now, life)
		return nil
	}

	if c.opts.maxEntries > 0 && len(c.items) >= c.opts.maxEntries {
		c.evictOneLocked(now)
	}

	e := &entry[V]{
		key:      key,
		value:    stored,
		ttl:      life,
		created:  now,
		accessed: now,
		expires:  expiresAt(now, life),
	}
	e.elem = c.order.PushBack(e)
	c.items[key] = e
	return nil
}

func expiresAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func (c *Cache[V]) evictOneLocked(now time.Time) {
	var oldest *entry[V]
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry[V])
		if e.expired(now) {
			c.removeLocked(e)
			return
		}
		if oldest == nil || e.accessed.Before(oldest.accessed) {
			oldest = e
		}
	}
	if oldest != nil {
		c.removeLocked(oldest)
	}
}

func (c *Cache[V]) removeLocked(e *entry[V]) {
	c.order.Remove(e.elem)
	delete(c.items, e.key)
}

// Get 使用缓存的 UpdateExpiration 策略读取。
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	update := c.opts.updateExpiration
	c.mu.Unlock()
	return c.GetWith(key, update)
}

// GetWith 读取值并刷新访问时间；updateExpiration 为 true 时顺延过期时间。
// 已过期条目在读取时惰性删除。
func (c *Cache[V]) GetWith(key string, updateExpiration bool) (V, bool) {
	var zero V

	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return zero, false
	}
	e, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return zero, false
	}
	now := c.now()
	if e.expired(now) {
		c.removeLocked(e)
		c.mu.Unlock()
		return zero, false
	}
	e.accessed = now
	if updateExpiration {
		e.expires = expiresAt(now, e.ttl)
	}
	value, cloneValues := e.value, c.opts.cloneValues
	c.mu.Unlock()

	if !cloneValues {
		return value, true
	}
	cloned, err := Clone(value)
	if err != nil {
		return zero, false
	}
	return cloned, true
}

// Has 判断 key 是否存在且未过期，不刷新访问时间。
func (c *Cache[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	return ok && c.enabled && !e.expired(c.now())
}

// Remove 删除指定 key，不存在时忽略。
func (c *Cache[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		c.removeLocked(e)
	}
}

// Clear 清空全部条目。
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry[V])
	c.order.Init()
}

// Len 返回当前驻留条目数（含尚未清扫的过期条目）。
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys 按插入顺序返回未过期的键。
func (c *Cache[V]) Keys() []string {
	var keys []string
	c.Range(func(key string, _ V) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// Values 按插入顺序返回未过期的值（不克隆）。
func (c *Cache[V]) Values() []V {
	var values []V
	c.Range(func(_ string, value V) bool {
		values = append(values, value)
		return true
	})
	return values
}

// Range 按插入顺序遍历未过期条目，fn 返回 false 时停止；遍历期间持有锁，fn 内不可回调缓存。
func (c *Cache[V]) Range(fn func(key string, value V) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry[V])
		if e.expired(now) {
			continue
		}
		if !fn(e.key, e.value) {
			return
		}
	}
}

// Sweep 删除所有已过期条目并返回删除数量。
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if e := el.Value.(*entry[V]); e.expired(now) {
			c.removeLocked(e)
			removed++
		}
		el = next
	}
	return removed
}

func (c *Cache[V]) startSweeper() {
	c.mu.Lock()
	interval := c.opts.sweepInterval
	if interval <= 0 || c.closed {
		c.mu.Unlock()
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	c.sweepStop, c.sweepDone = stop, done
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-stop:
				return
			}
		}
	}()
}

func (c *Cache[V]) stopSweeper() {
	c.mu.Lock()
	stop, done := c.sweepStop, c.sweepDone
	c.sweepStop, c.sweepDone = nil, nil
	c.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}

// Close 停止后台清扫并清空条目，重复调用安全。
func (c *Cache[V]) Close() {
	c.stopSweeper()
	c.mu.Lock()
	c.closed = true
	c.items = make(map[string]*entry[V])
	c.order.Init()
	c.mu.Unlock()
}
