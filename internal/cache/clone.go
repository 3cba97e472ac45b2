package cache

import (
	"errors"
	"reflect"
	"time"
)

// ErrCircularReference 表示待克隆的值存在自引用。
var ErrCircularReference = errors.New("object contains a circular reference")

// DeepCloner 允许类型自行提供深拷贝，例如包含未导出字段或流的响应体。
type DeepCloner interface {
	DeepClone() any
}

var timeType = reflect.TypeOf(time.Time{})

// Clone 返回 v 的深拷贝。字节切片复制底层数据，time.Time 原样保留，
// 函数、通道与 unsafe 指针共享引用；遇到环时返回 ErrCircularReference。
func Clone[T any](v T) (T, error) {
	var zero T
	src := reflect.ValueOf(&v).Elem()
	c := cloner{visiting: make(map[visitKey]struct{})}
	out, err := c.clone(src)
	if err != nil {
		return zero, err
	}
	if !out.IsValid() {
		return zero, nil
	}
	res, _ := out.Interface().(T)
	return res, nil
}

type visitKey struct {
	ptr uintptr
	typ reflect.Type
}

type cloner struct {
	visiting map[visitKey]struct{}
}

func (c *cloner) enter(v reflect.Value) (func(), error) {
	key := visitKey{ptr: v.Pointer(), typ: v.Type()}
	if _, seen := c.visiting[key]; seen {
		return nil, ErrCircularReference
	}
	c.visiting[key] = struct{}{}
	return func() { delete(c.visiting, key) }, nil
}

func (c *cloner) clone(v reflect.Value) (reflect.Value, error) {
	if !v.IsValid() {
		return v, nil
	}
	t := v.Type()

	if v.CanInterface() && !isNil(v) {
		if dc, ok := v.Interface().(DeepCloner); ok {
			if out := reflect.ValueOf(dc.DeepClone()); out.IsValid() && out.Type().AssignableTo(t) {
				dst := reflect.New(t).Elem()
				dst.Set(out)
				return dst, nil
			}
		}
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return reflect.Zero(t), nil
		}
		leave, err := c.enter(v)
		if err != nil {
			return reflect.Value{}, err
		}
		defer leave()
		elem, err := c.clone(v.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		dst := reflect.New(t.Elem())
		dst.Elem().Set(elem)
		return dst, nil

	case reflect.Interface:
		if v.IsNil() {
			return reflect.Zero(t), nil
		}
		inner, err := c.clone(v.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		dst := reflect.New(t).Elem()
		dst.Set(inner)
		return dst, nil

	case reflect.Map:
		if v.IsNil() {
			return reflect.Zero(t), nil
		}
		leave, err := c.enter(v)
		if err != nil {
			return reflect.Value{}, err
		}
		defer leave()
		dst := reflect.MakeMapWithSize(t, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			key, err := c.clone(iter.Key())
			if err != nil {
				return reflect.Value{}, err
			}
			val, err := c.clone(iter.Value())
			if err != nil {
				return reflect.Value{}, err
			}
			dst.SetMapIndex(key, val)
		}
		return dst, nil

	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(t), nil
		}
		dst := reflect.MakeSlice(t, v.Len(), v.Len())
		if t.Elem().Kind() == reflect.Uint8 {
			reflect.Copy(dst, v)
			return dst, nil
		}
		leave, err := c.enter(v)
		if err != nil {
			return reflect.Value{}, err
		}
		defer leave()
		for i := 0; i < v.Len(); i++ {
			item, err := c.clone(v.Index(i))
			if err != nil {
				return reflect.Value{}, err
			}
			dst.Index(i).Set(item)
		}
		return dst, nil

	case reflect.Array:
		dst := reflect.New(t).Elem()
		for i := 0; i < v.Len(); i++ {
			item, err := c.clone(v.Index(i))
			if err != nil {
				return reflect.Value{}, err
			}
			dst.Index(i).Set(item)
		}
		return dst, nil

	case reflect.Struct:
		dst := reflect.New(t).Elem()
		dst.Set(v)
		if t == timeType {
			return dst, nil
		}
		for i := 0; i < t.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			field, err := c.clone(v.Field(i))
			if err != nil {
				return reflect.Value{}, err
			}
			dst.Field(i).Set(field)
		}
		return dst, nil

	default:
		return v, nil
	}
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
