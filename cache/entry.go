package cache

import "time"

// Entry wraps a cached value with its lifecycle metadata. Entries are
// created by Set and mutated only by the tier that owns them, under that
// tier's lock.
type Entry struct {
	Value       interface{}
	TTL         time.Duration
	Tags        []string
	CreatedAt   time.Time
	AccessedAt  time.Time
	AccessCount uint64
}

func newEntry(value interface{}, ttl time.Duration, tags []string) *Entry {
	now := time.Now()
	return &Entry{
		Value:      value,
		TTL:        ttl,
		Tags:       tags,
		CreatedAt:  now,
		AccessedAt: now,
	}
}

// expired reports whether the entry's TTL has lapsed at the given instant.
func (e *Entry) expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.TTL))
}

// touch records a read hit. Callers must hold the owning store's lock.
func (e *Entry) touch(now time.Time) {
	e.AccessedAt = now
	e.AccessCount++
}
