package cache

import "time"

// BytesCache stores raw bytes under a key with TTL. Backed by Redis when
// configured, an in-process map otherwise.
type BytesCache interface {
	GetBytes(key string) (b []byte, ok bool, err error)
	SetBytes(key string, value []byte, ttl time.Duration) error
}
