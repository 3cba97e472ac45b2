package cache

import (
	"errors"
	"time"
)

const (
	// DefaultExpiry 与 DefaultMaxEntries 是未声明策略时的缓存上限。
	DefaultExpiry        = 15 * time.Second
	DefaultMaxEntries    = 1000
	DefaultSweepInterval = 60 * time.Second
)

// ErrInvalidOptions 表示既没有过期时间也没有容量上限。
var ErrInvalidOptions = errors.New("either expiry or max entries must be specified")

// Options 描述单个缓存实例的策略，零值字段在 ApplyOptions 时回落到默认值。
// Expiry < 0 表示条目永不过期（路由声明的 ≤0 过期在编译时映射为 -1），
// SweepInterval < 0 表示不启动后台清扫。
type Options struct {
	Expiry           time.Duration `json:"expiry,omitempty"`
	MaxEntries       int           `json:"max_entries,omitempty"`
	CloneValues      *bool         `json:"clone_values,omitempty"`
	UpdateExpiration *bool         `json:"update_expiration,omitempty"`
	SweepInterval    time.Duration `json:"sweep_interval,omitempty"`
}

// DefaultOptions 返回 15s 过期、1000 条上限、读写克隆、访问续期的默认策略。
func DefaultOptions() Options {
	return Options{
		Expiry:           DefaultExpiry,
		MaxEntries:       DefaultMaxEntries,
		CloneValues:      Bool(true),
		UpdateExpiration: Bool(true),
		SweepInterval:    DefaultSweepInterval,
	}
}

// Bool 便于构造可选布尔字段。
func Bool(v bool) *bool {
	return &v
}

// Validate 仅在 Expiry 与 MaxEntries 都未声明时报错。
func (o Options) Validate() error {
	if o.Expiry == 0 && o.MaxEntries <= 0 {
		return ErrInvalidOptions
	}
	return nil
}

// Merge 用 o 中已声明的字段覆盖 base。
func (o Options) Merge(base Options) Options {
	out := base
	if o.Expiry != 0 {
		out.Expiry = o.Expiry
	}
	if o.MaxEntries > 0 {
		out.MaxEntries = o.MaxEntries
	}
	if o.CloneValues != nil {
		out.CloneValues = Bool(*o.CloneValues)
	}
	if o.UpdateExpiration != nil {
		out.UpdateExpiration = Bool(*o.UpdateExpiration)
	}
	if o.SweepInterval != 0 {
		out.SweepInterval = o.SweepInterval
	}
	return out
}

type resolved struct {
	expiry           time.Duration
	maxEntries       int
	cloneValues      bool
	updateExpiration bool
	sweepInterval    time.Duration
}

func (o Options) resolve() resolved {
	full := o.Merge(DefaultOptions())
	return resolved{
		expiry:           full.Expiry,
		maxEntries:       full.MaxEntries,
		cloneValues:      *full.CloneValues,
		updateExpiration: *full.UpdateExpiration,
		sweepInterval:    full.SweepInterval,
	}
}
