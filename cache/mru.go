package cache

import "time"

// lruNode is an element of the recency list.
type lruNode[TK any] struct {
	key       TK
	expiresAt time.Time
	prev      *lruNode[TK]
	next      *lruNode[TK]
}

// recencyList is a minimal doubly linked list ordered most-recently-used first.
type recencyList[TK any] struct {
	head *lruNode[TK]
	tail *lruNode[TK]
	size int
}

func (l *recencyList[TK]) count() int {
	return l.size
}

func (l *recencyList[TK]) isEmpty() bool {
	return l.head == nil
}

// addToHead inserts a new node at the head, the most recent position, and returns it.
func (l *recencyList[TK]) addToHead(key TK, expiresAt time.Time) *lruNode[TK] {
	n := &lruNode[TK]{key: key, expiresAt: expiresAt, next: l.head}
	if l.head != nil {
		l.head.prev = n
	} else {
		l.tail = n
	}
	l.head = n
	l.size++
	return n
}

// deleteFromTail removes and returns the least recently used node's key.
func (l *recencyList[TK]) deleteFromTail() (TK, bool) {
	var k TK
	if l.isEmpty() {
		return k, false
	}
	k = l.tail.key
	if l.head == l.tail {
		l.head = nil
		l.tail = nil
	} else {
		l.tail = l.tail.prev
		l.tail.next = nil
	}
	l.size--
	return k, true
}

// delete unchains n from the list.
func (l *recencyList[TK]) delete(n *lruNode[TK]) bool {
	if n == nil {
		return false
	}
	if n == l.head {
		l.head = n.next
	}
	if n == l.tail {
		l.tail = n.prev
	}
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	n.next = nil
	n.prev = nil
	l.size--
	return true
}

// mru maintains recency ordering and eviction for the in-memory cache.
type mru[TK comparable, TV any] struct {
	minCapacity int
	maxCapacity int
	list        *recencyList[TK]
	cache       *memoryCache[TK, TV]
}

func newMru[TK comparable, TV any](c *memoryCache[TK, TV], minCapacity, maxCapacity int) *mru[TK, TV] {
	return &mru[TK, TV]{
		cache:       c,
		minCapacity: minCapacity,
		maxCapacity: maxCapacity,
		list:        &recencyList[TK]{},
	}
}

// add puts the key at the head of the recency list and returns its node handle.
func (m *mru[TK, TV]) add(key TK, expiresAt time.Time) *lruNode[TK] {
	return m.list.addToHead(key, expiresAt)
}

// remove unchains the node from the recency list.
func (m *mru[TK, TV]) remove(n *lruNode[TK]) {
	m.list.delete(n)
}

// evict drops least-recently-used entries until the cache fits its capacity again.
func (m *mru[TK, TV]) evict() {
	for m.isFull() {
		key, ok := m.list.deleteFromTail()
		if !ok {
			break
		}
		if v, found := m.cache.lookup[key]; found {
			v.node = nil
			delete(m.cache.lookup, key)
		}
	}
}

func (m *mru[TK, TV]) isFull() bool {
	return m.list.count() >= m.maxCapacity
}
