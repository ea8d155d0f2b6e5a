// Package cache memoizes full listing analyses keyed by listing identity.
//
// Expiry is lazy: Get evicts the key it finds expired, and Stats sweeps every
// expired entry before counting. Nothing runs on a timer.
package cache

import (
	"fmt"
	"time"

	"listing-inspector/internal/model"

	"github.com/spaolacci/murmur3"
)

// DefaultTTL matches a day of reuse for a listing analysis
const DefaultTTL = 24 * time.Hour

const keyPrefix = "listing_"

// Entry is a cached value with its insertion time and lifetime
type Entry struct {
	Key       string
	Value     []byte
	CreatedAt time.Time
	TTL       time.Duration
}

// ExpiresAt is the first instant at which the entry is no longer served
func (e *Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// Live reports whether now < createdAt + ttl
func (e *Entry) Live(now time.Time) bool {
	return now.Before(e.ExpiresAt())
}

// Stats is a point-in-time view of a store, taken after an expiry sweep
type Stats struct {
	Backend           string `json:"backend"`
	Entries           int    `json:"total_entries"`
	Swept             int    `json:"expired_swept"`
	Hits              int64  `json:"hits"`
	Misses            int64  `json:"misses"`
	DefaultTTLSeconds int64  `json:"default_ttl_seconds"`
}

// Store is the result cache contract. Implementations are safe for concurrent
// use and never surface backend failures: reads degrade to a miss and writes
// report false.
type Store interface {
	Get(id string) (*Entry, bool)
	Set(id string, value []byte) bool
	SetWithTTL(id string, value []byte, ttl time.Duration) bool
	Delete(id string) bool
	ClearAll() bool
	Stats() Stats
	Close() error
}

// Fingerprint maps a listing identifier to a fixed-width key.
// The query string is dropped first so tracking parameters share one entry.
func Fingerprint(id string) string {
	h1, h2 := murmur3.Sum128([]byte(model.CanonicalURL(id)))
	return fmt.Sprintf("%s%016x%016x", keyPrefix, h1, h2)
}

// Clock returns the current time; tests substitute a fake
type Clock func() time.Time

// Option configures a store
type Option func(*options)

type options struct {
	now Clock
}

// WithClock overrides time.Now
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.now = c
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
