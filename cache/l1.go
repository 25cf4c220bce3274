package cache

import (
	"container/list"
	"sync"
	"time"
)

// L1Store is the bounded in-process tier. It combines a key map, an LRU
// recency list, and a tag index behind a single mutex so the index can never
// diverge from entry membership within this tier.
//
// Recency is tracked with a doubly-linked list: elements move to the front on
// every hit, so the back of the list is always the entry with the oldest
// access time, with never-read entries ordered by insertion (oldest created
// last).
type L1Store struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List                     // front = most recently accessed
	tags    map[string]map[string]struct{} // tag -> set of keys

	now func() time.Time
}

type l1Item struct {
	key   string
	entry *Entry
}

// NewL1Store creates an empty L1 store bounded to maxSize entries.
func NewL1Store(maxSize int) *L1Store {
	return &L1Store{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		tags:    make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

// Get returns the value for key if present and unexpired. Expired entries
// are removed on the spot and reported as a miss (lazy expiry).
func (s *L1Store) Get(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return nil, false
	}

	item := el.Value.(*l1Item)
	if item.entry.expired(s.now()) {
		s.removeLocked(key, el)
		return nil, false
	}

	item.entry.touch(s.now())
	s.order.MoveToFront(el)
	return item.entry.Value, true
}

// Set stores an entry under key. When the key is new and the store is at
// capacity, the least-recently-accessed entry is evicted first and its key
// returned.
func (s *L1Store) Set(key string, entry *Entry) (evictedKey string, evicted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		item := el.Value.(*l1Item)
		s.removeFromTagsLocked(key, item.entry.Tags)
		item.entry = entry
		s.order.MoveToFront(el)
		s.addToTagsLocked(key, entry.Tags)
		return "", false
	}

	if s.order.Len() >= s.maxSize {
		evictedKey, evicted = s.evictOneLRULocked()
	}

	el := s.order.PushFront(&l1Item{key: key, entry: entry})
	s.items[key] = el
	s.addToTagsLocked(key, entry.Tags)
	return evictedKey, evicted
}

// Delete removes key and its tag index memberships. Returns whether the key
// was present.
func (s *L1Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return false
	}
	s.removeLocked(key, el)
	return true
}

// Exists reports whether key is present and unexpired, without counting as
// an access.
func (s *L1Store) Exists(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return false
	}
	if el.Value.(*l1Item).entry.expired(s.now()) {
		s.removeLocked(key, el)
		return false
	}
	return true
}

// KeysWithTag returns the keys currently indexed under tag.
func (s *L1Store) KeysWithTag(tag string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.tags[tag]
	if !ok {
		return nil
	}

	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	return keys
}

// SweepExpired removes every expired entry regardless of access pattern and
// returns the number removed. This bounds memory growth from write-once
// keys that are never read again.
func (s *L1Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, el := range s.items {
		if el.Value.(*l1Item).entry.expired(now) {
			s.removeLocked(key, el)
			removed++
		}
	}
	return removed
}

// EvictOneLRU removes the least-recently-accessed entry and returns its key.
func (s *L1Store) EvictOneLRU() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictOneLRULocked()
}

// Len returns the current entry count.
func (s *L1Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Flush removes every entry and tag membership.
func (s *L1Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*list.Element)
	s.order.Init()
	s.tags = make(map[string]map[string]struct{})
}

func (s *L1Store) evictOneLRULocked() (string, bool) {
	el := s.order.Back()
	if el == nil {
		return "", false
	}
	key := el.Value.(*l1Item).key
	s.removeLocked(key, el)
	return key, true
}

func (s *L1Store) removeLocked(key string, el *list.Element) {
	s.removeFromTagsLocked(key, el.Value.(*l1Item).entry.Tags)
	s.order.Remove(el)
	delete(s.items, key)
}

func (s *L1Store) addToTagsLocked(key string, tags []string) {
	for _, tag := range tags {
		set, ok := s.tags[tag]
		if !ok {
			set = make(map[string]struct{})
			s.tags[tag] = set
		}
		set[key] = struct{}{}
	}
}

func (s *L1Store) removeFromTagsLocked(key string, tags []string) {
	for _, tag := range tags {
		if set, ok := s.tags[tag]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(s.tags, tag)
			}
		}
	}
}
