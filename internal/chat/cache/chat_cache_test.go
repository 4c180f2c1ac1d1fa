package cache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func entry(id string) *ChatEntry { return &ChatEntry{ChatID: id} }

func TestEvictsLeastRecentlyReadAtCapacity(t *testing.T) {
	c := NewChatCache(10)
	for i := 0; i < 10; i++ {
		if ev := c.Set(fmt.Sprintf("c%d", i), entry("x")); ev != "" {
			t.Fatalf("unexpected eviction of %s while filling", ev)
		}
	}
	// Read everything except c3, oldest first, so c3 becomes least recently used.
	for i := 0; i < 10; i++ {
		if i == 3 {
			continue
		}
		if _, ok := c.Get(fmt.Sprintf("c%d", i)); !ok {
			t.Fatalf("c%d missing", i)
		}
	}
	if ev := c.Set("c10", entry("x")); ev != "c3" {
		t.Fatalf("evicted=%q, want c3", ev)
	}
	if c.Len() != 10 {
		t.Fatalf("len=%d, want 10", c.Len())
	}
	if _, ok := c.Get("c3"); ok {
		t.Fatalf("c3 should be gone")
	}
	if st := c.Stats(); st.Evictions != 1 || st.Misses != 1 || st.Hits != 9 {
		t.Fatalf("stats=%+v", st)
	}
	for i := 0; i <= 10; i++ {
		if i == 3 {
			continue
		}
		if _, ok := c.Get(fmt.Sprintf("c%d", i)); !ok {
			t.Fatalf("c%d should survive", i)
		}
	}
}

func TestRereadAndUpdateNeverEvict(t *testing.T) {
	c := NewChatCache(2)
	c.Set("a", entry("a"))
	c.Set("b", entry("b"))
	for i := 0; i < 5; i++ {
		c.Get("a")
		c.Get("b")
	}
	if ev := c.Set("a", entry("a2")); ev != "" {
		t.Fatalf("updating an existing key evicted %q", ev)
	}
	got, _ := c.Get("a")
	if got.ChatID != "a2" {
		t.Fatalf("update not stored")
	}
	if c.Len() != 2 {
		t.Fatalf("len=%d", c.Len())
	}
}

func TestGetRefreshesLastAccess(t *testing.T) {
	c := NewChatCache(2)
	clock := time.Unix(100, 0)
	c.now = func() time.Time { return clock }
	c.Set("a", entry("a"))
	clock = clock.Add(time.Minute)
	c.Get("a")
	at, ok := c.LastAccess("a")
	if !ok || !at.Equal(time.Unix(160, 0)) {
		t.Fatalf("last access=%v ok=%v", at, ok)
	}
}

func TestInvalidateDrops(t *testing.T) {
	c := NewChatCache(0)
	if c.Capacity() != DefaultCapacity {
		t.Fatalf("capacity=%d", c.Capacity())
	}
	c.Set("a", entry("a"))
	c.Invalidate("a")
	if _, ok := c.Get("a"); ok {
		t.Fatalf("invalidated entry still cached")
	}
	c.Set("b", entry("b"))
	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("purge left %d", c.Len())
	}
}

func TestLoadCoalescesConcurrentMisses(t *testing.T) {
	c := NewChatCache(4)
	var calls int32
	release := make(chan struct{})
	load := func() (*ChatEntry, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return entry("a"), nil
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Load("a", load); err != nil {
				t.Errorf("Load: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("loader ran %d times, want 1", n)
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("loaded entry not cached")
	}
}

func TestInvalidateDuringLoadPreventsStaleSet(t *testing.T) {
	c := NewChatCache(4)
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Load("a", func() (*ChatEntry, error) {
			close(started)
			<-release
			return entry("stale"), nil
		})
	}()
	<-started
	c.Invalidate("a")
	close(release)
	<-done
	if _, ok := c.Get("a"); ok {
		t.Fatalf("stale load repopulated an invalidated chat")
	}
}

func TestLoadPropagatesErrors(t *testing.T) {
	c := NewChatCache(4)
	boom := errors.New("boom")
	if _, err := c.Load("a", func() (*ChatEntry, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("failed load cached something")
	}
}

func TestLoadBookkeepingIsReleased(t *testing.T) {
	c := NewChatCache(4)
	for i := 0; i < 100; i++ {
		c.Invalidate(fmt.Sprintf("gone-%d", i))
	}
	c.Purge()
	if n := len(c.loads); n != 0 {
		t.Fatalf("invalidating uncached chats tracked %d keys", n)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Load("a", func() (*ChatEntry, error) {
			close(started)
			<-release
			return entry("a"), nil
		})
	}()
	<-started
	c.mu.Lock()
	n := len(c.loads)
	c.mu.Unlock()
	if n != 1 {
		t.Fatalf("in-flight load tracked %d keys, want 1", n)
	}
	close(release)
	<-done
	if _, err := c.Load("b", func() (*ChatEntry, error) { return nil, errors.New("boom") }); err == nil {
		t.Fatalf("expected load error")
	}
	c.mu.Lock()
	n = len(c.loads)
	c.mu.Unlock()
	if n != 0 {
		t.Fatalf("finished loads left %d keys", n)
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("completed load not cached")
	}
}
