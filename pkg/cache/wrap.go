package cache

import (
	"encoding/json"
	"time"
)

// Wrap returns a cached version of fn keyed by name plus a hash of the
// argument. A hit returns the stored value without invoking fn; a miss
// invokes fn and stores its result for ttl. Expired entries count as misses,
// and so do entries that cannot be decoded back to V, so a corrupt cache
// degrades to recomputation rather than failure. Errors from fn are never
// cached.
//
// Functions of more than one argument are wrapped by packing the arguments
// into a single comparable struct.
func Wrap[A, V any](c Cache, name string, ttl time.Duration, fn func(A) (V, error)) func(A) (V, error) {
	return func(arg A) (V, error) {
		key := Key(name, arg)

		if raw, ok := c.Get(key); ok {
			if v, ok := raw.(V); ok {
				return v, nil
			}
			// The durable backend hands back serialized bytes.
			if b, ok := rawBytes(raw); ok {
				var v V
				if err := json.Unmarshal(b, &v); err == nil {
					return v, nil
				}
			}
		}

		v, err := fn(arg)
		if err != nil {
			return v, err
		}
		c.Set(key, v, ttl)
		return v, nil
	}
}

func rawBytes(v any) ([]byte, bool) {
	switch b := v.(type) {
	case json.RawMessage:
		return b, true
	case []byte:
		return b, true
	}
	return nil, false
}
