package cache

import (
	"container/list"
	"sync"

	"github.com/gobwas/glob"
)

// lruStore is the L1 tier: a bounded in-process store with strict LRU
// eviction. All access goes through the mutex so LRU bookkeeping stays
// correct under concurrent get/set.
type lruStore struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	items    map[string]*list.Element
	byTag    map[string]map[string]struct{}

	evictions uint64
}

func newLRUStore(capacity int) *lruStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &lruStore{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		byTag:    make(map[string]map[string]struct{}),
	}
}

// get returns the entry and promotes it to most recently used. Expired
// entries are removed and reported as missing.
func (s *lruStore) get(key string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*Entry)
	if entry.Expired() {
		s.removeLocked(el)
		return nil, false
	}
	s.order.MoveToFront(el)
	return entry, true
}

// set inserts or replaces an entry, evicting the least-recently-used entry
// synchronously when the insert exceeds capacity.
func (s *lruStore) set(entry *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[entry.Key]; ok {
		s.removeLocked(el)
	}

	el := s.order.PushFront(entry)
	s.items[entry.Key] = el
	for _, tag := range entry.Tags {
		keys, ok := s.byTag[tag]
		if !ok {
			keys = make(map[string]struct{})
			s.byTag[tag] = keys
		}
		keys[entry.Key] = struct{}{}
	}

	if s.order.Len() > s.capacity {
		if oldest := s.order.Back(); oldest != nil {
			s.removeLocked(oldest)
			s.evictions++
			CacheEvictions.Inc()
		}
	}
}

func (s *lruStore) delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return false
	}
	s.removeLocked(el)
	return true
}

// deletePattern removes all entries whose key matches the glob pattern.
func (s *lruStore) deletePattern(g glob.Glob) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, el := range s.items {
		if g.Match(key) {
			s.removeLocked(el)
			removed++
		}
	}
	return removed
}

// deleteTag removes all entries carrying the tag.
func (s *lruStore) deleteTag(tag string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, ok := s.byTag[tag]
	if !ok {
		return 0
	}
	removed := 0
	for key := range keys {
		if el, ok := s.items[key]; ok {
			s.removeLocked(el)
			removed++
		}
	}
	return removed
}

func (s *lruStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order.Init()
	s.items = make(map[string]*list.Element)
	s.byTag = make(map[string]map[string]struct{})
}

func (s *lruStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

func (s *lruStore) evicted() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictions
}

// removeLocked unlinks an element and its tag index entries; callers hold the mutex.
func (s *lruStore) removeLocked(el *list.Element) {
	entry := el.Value.(*Entry)
	s.order.Remove(el)
	delete(s.items, entry.Key)
	for _, tag := range entry.Tags {
		if keys, ok := s.byTag[tag]; ok {
			delete(keys, entry.Key)
			if len(keys) == 0 {
				delete(s.byTag, tag)
			}
		}
	}
}
