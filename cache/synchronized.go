package cache

import (
	"sync"
	"time"

	"github.com/sharedcode/rop"
)

type syncCache[TK comparable, TV any] struct {
	cache  Cache[TK, TV]
	locker *sync.Mutex
}

// NewSynchronizedCache returns a Cache instance that is thread safe.
func NewSynchronizedCache[TK comparable, TV any](minCapacity, maxCapacity int, ttl time.Duration) Cache[TK, TV] {
	return &syncCache[TK, TV]{
		cache:  NewCache[TK, TV](minCapacity, maxCapacity, ttl),
		locker: &sync.Mutex{},
	}
}

func (sc *syncCache[TK, TV]) Set(items []rop.KeyValuePair[TK, TV]) {
	sc.locker.Lock()
	sc.cache.Set(items)
	sc.locker.Unlock()
}

func (sc *syncCache[TK, TV]) Get(keys []TK) []TV {
	sc.locker.Lock()
	defer sc.locker.Unlock()
	return sc.cache.Get(keys)
}

func (sc *syncCache[TK, TV]) Delete(keys []TK) {
	sc.locker.Lock()
	sc.cache.Delete(keys)
	sc.locker.Unlock()
}

func (sc *syncCache[TK, TV]) Clear() {
	sc.locker.Lock()
	sc.cache.Clear()
	sc.locker.Unlock()
}

func (sc *syncCache[TK, TV]) Count() int {
	sc.locker.Lock()
	defer sc.locker.Unlock()
	return sc.cache.Count()
}

func (sc *syncCache[TK, TV]) IsFull() bool {
	sc.locker.Lock()
	defer sc.locker.Unlock()
	return sc.cache.IsFull()
}

func (sc *syncCache[TK, TV]) Evict() {
	sc.locker.Lock()
	sc.cache.Evict()
	sc.locker.Unlock()
}
