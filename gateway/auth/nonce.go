package auth

import (
	"container/list"
	"sync"
	"time"
)

// nonceStore is a bounded LRU of recently used nonces for one account.
type nonceStore struct {
	ttl      time.Duration
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
}

type nonceEntry struct {
	key  string
	seen time.Time
}

func newNonceStore(ttl time.Duration, capacity int) *nonceStore {
	return &nonceStore{
		ttl:      clampDuration(ttl, defaultNonceWindow, maxNonceWindow),
		capacity: clampInt(capacity, defaultNonceCapacity, maxNonceCapacity),
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Contains reports whether key was observed within the TTL window.
func (n *nonceStore) Contains(key string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expire(now)
	_, ok := n.entries[key]
	return ok
}

// Add records key, evicting the oldest entries past capacity.
func (n *nonceStore) Add(key string, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expire(now)
	if elem, ok := n.entries[key]; ok {
		elem.Value = nonceEntry{key: key, seen: now}
		n.order.MoveToBack(elem)
		return
	}
	for n.order.Len() >= n.capacity {
		n.remove(n.order.Front())
	}
	n.entries[key] = n.order.PushBack(nonceEntry{key: key, seen: now})
}

// Len reports the number of tracked nonces.
func (n *nonceStore) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.order.Len()
}

func (n *nonceStore) expire(now time.Time) {
	cutoff := now.Add(-n.ttl)
	for front := n.order.Front(); front != nil; front = n.order.Front() {
		if !front.Value.(nonceEntry).seen.Before(cutoff) {
			return
		}
		n.remove(front)
	}
}

func (n *nonceStore) remove(elem *list.Element) {
	if elem == nil {
		return
	}
	n.order.Remove(elem)
	delete(n.entries, elem.Value.(nonceEntry).key)
}
