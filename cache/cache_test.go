package cache

import (
	"testing"
	"time"

	"github.com/sharedcode/rop"
)

func set(c Cache[string, int], k string, v int) {
	c.Set([]rop.KeyValuePair[string, int]{{Key: k, Value: v}})
}

func get(c Cache[string, int], k string) int {
	return c.Get([]string{k})[0]
}

func Test_Set_Get_Roundtrip(t *testing.T) {
	c := NewCache[string, int](2, 4, 0)
	set(c, "a", 1)
	set(c, "b", 2)
	if got := get(c, "a"); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
	if got := c.Get([]string{"missing"}); got[0] != 0 {
		t.Errorf("missing key should yield zero value, got %d", got[0])
	}
	if c.Count() != 2 {
		t.Errorf("expected 2 entries, got %d", c.Count())
	}
}

func Test_Set_Refreshes_Existing_Key(t *testing.T) {
	c := NewCache[string, int](2, 4, 0)
	set(c, "a", 1)
	set(c, "a", 10)
	if got := get(c, "a"); got != 10 {
		t.Errorf("expected 10, got %d", got)
	}
	if c.Count() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Count())
	}
}

func Test_Eviction_Drops_Least_Recently_Used(t *testing.T) {
	c := NewCache[string, int](2, 4, 0)
	set(c, "a", 1)
	set(c, "b", 2)
	set(c, "c", 3)
	// Touch "a" so "b" is the LRU when the next Set reaches capacity.
	get(c, "a")
	set(c, "d", 4)
	if got := get(c, "b"); got != 0 {
		t.Errorf("expected b evicted, got %d", got)
	}
	if got := get(c, "a"); got != 1 {
		t.Errorf("expected a to survive eviction, got %d", got)
	}
}

func Test_Expired_Entry_Is_A_Miss(t *testing.T) {
	now := time.Now()
	rop.Now = func() time.Time { return now }
	defer func() { rop.Now = time.Now }()

	c := NewCache[string, int](2, 4, time.Minute)
	set(c, "a", 1)
	now = now.Add(2 * time.Minute)
	if got := get(c, "a"); got != 0 {
		t.Errorf("expected expiry miss, got %d", got)
	}
}

func Test_Delete_And_Clear(t *testing.T) {
	c := NewCache[string, int](2, 4, 0)
	set(c, "a", 1)
	set(c, "b", 2)
	c.Delete([]string{"a"})
	if got := get(c, "a"); got != 0 {
		t.Errorf("expected a deleted, got %d", got)
	}
	c.Clear()
	if c.Count() != 0 {
		t.Errorf("expected empty cache, got %d", c.Count())
	}
}

func Test_Synchronized_Cache_Concurrent_Use(t *testing.T) {
	c := NewSynchronizedCache[string, int](16, 64, 0)
	done := make(chan bool)
	for g := 0; g < 8; g++ {
		go func(g int) {
			for i := 0; i < 100; i++ {
				set(c, "k", g*1000+i)
				get(c, "k")
			}
			done <- true
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
	if c.Count() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Count())
	}
}
