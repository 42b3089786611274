package cache

import (
	"fmt"
	"reflect"
)

// Lookup is a typed Get. A value of another type is reported as absent.
func Lookup[T any](c *Cache, key string) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// GetOrCompute returns the cached value for key or computes, stores and
// returns it. Concurrent misses on the same key share one computation.
// Errors are returned without caching. A value is returned but not stored
// when the cache was invalidated while it was being computed, since it may
// reflect state from before the invalidation.
func GetOrCompute[T any](c *Cache, key, category string, compute func() (T, error), opts ...SetOption) (T, error) {
	if v, ok := Lookup[T](c, key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		gen := c.generation()
		v, err := compute()
		if err != nil {
			return v, err
		}
		c.set(key, v, category, &gen, opts...)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cache: value for %q has type %T", key, v)
	}
	return t, nil
}

// Sizer lets a value report its own size estimate.
type Sizer interface {
	CacheSize() int64
}

const (
	baseEntrySize = 64
	perItemSize   = 64
)

// estimateSize is a rough byte estimate used when Set has no SizeHint.
func estimateSize(v any) int64 {
	switch x := v.(type) {
	case nil:
		return baseEntrySize
	case Sizer:
		return x.CacheSize()
	case string:
		return baseEntrySize + int64(len(x))
	case []byte:
		return baseEntrySize + int64(len(x))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return baseEntrySize + int64(rv.Len())*perItemSize
	case reflect.Pointer:
		if rv.IsNil() {
			return baseEntrySize
		}
		return baseEntrySize + perItemSize
	}
	return baseEntrySize
}
