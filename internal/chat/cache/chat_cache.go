package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yungbote/branchchat-backend/internal/chat/tree"
)

const DefaultCapacity = 10

// ChatEntry is a decoded chat tree. Entries are immutable once cached.
type ChatEntry struct {
	ChatID     string
	Name       string
	SpeakerIDs []string
	Nodes      map[string]tree.Node
	RootID     string
	TailID     string
	ActivePath []string
	UpdatedAt  time.Time
}

// pendingLoad tracks the Load callers of one chat. It lives only while a caller is inside Load.
type pendingLoad struct {
	gen     uint64
	callers int
}

type chatItem struct {
	key        string
	entry      *ChatEntry
	lastAccess time.Time
}

// ChatCache is an LRU over decoded chat trees. Mutations invalidate, never patch.
type ChatCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
	loads    map[string]*pendingLoad
	now      func() time.Time
	flight   singleflight.Group

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Len       int
}

func NewChatCache(capacity int) *ChatCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ChatCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		loads:    make(map[string]*pendingLoad),
		now:      time.Now,
	}
}

func (c *ChatCache) Capacity() int { return c.capacity }

func (c *ChatCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Get returns the cached entry and refreshes its last-access time.
func (c *ChatCache) Get(chatID string) (*ChatEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[chatID]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	it := el.Value.(*chatItem)
	it.lastAccess = c.now()
	c.ll.MoveToFront(el)
	return it.entry, true
}

// LastAccess reports when chatID was last read or written.
func (c *ChatCache) LastAccess(chatID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[chatID]
	if !ok {
		return time.Time{}, false
	}
	return el.Value.(*chatItem).lastAccess, true
}

// Set stores entry. Only inserting a new key at capacity evicts; replacing an existing key
// never does. It returns the evicted chat id, if any.
func (c *ChatCache) Set(chatID string, entry *ChatEntry) (evicted string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setLocked(chatID, entry)
}

func (c *ChatCache) setLocked(chatID string, entry *ChatEntry) (evicted string) {
	if el, ok := c.items[chatID]; ok {
		it := el.Value.(*chatItem)
		it.entry = entry
		it.lastAccess = c.now()
		c.ll.MoveToFront(el)
		return ""
	}
	if c.ll.Len() >= c.capacity {
		if back := c.ll.Back(); back != nil {
			old := back.Value.(*chatItem)
			c.ll.Remove(back)
			delete(c.items, old.key)
			evicted = old.key
			c.evictions.Add(1)
		}
	}
	c.items[chatID] = c.ll.PushFront(&chatItem{key: chatID, entry: entry, lastAccess: c.now()})
	return evicted
}

// Invalidate drops chatID. A Load already in flight for it will not repopulate the cache.
func (c *ChatCache) Invalidate(chatID string) {
	c.mu.Lock()
	if el, ok := c.items[chatID]; ok {
		c.ll.Remove(el)
		delete(c.items, chatID)
	}
	if p, ok := c.loads[chatID]; ok {
		p.gen++
	}
	c.mu.Unlock()
	c.flight.Forget(chatID)
}

func (c *ChatCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.loads {
		p.gen++
	}
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

// Load returns the cached entry or calls load once for all concurrent callers of the same chat.
func (c *ChatCache) Load(chatID string, load func() (*ChatEntry, error)) (*ChatEntry, error) {
	if e, ok := c.Get(chatID); ok {
		return e, nil
	}
	c.mu.Lock()
	p, ok := c.loads[chatID]
	if !ok {
		p = &pendingLoad{}
		c.loads[chatID] = p
	}
	p.callers++
	gen := p.gen
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if p.callers--; p.callers == 0 && c.loads[chatID] == p {
			delete(c.loads, chatID)
		}
		c.mu.Unlock()
	}()

	v, err, _ := c.flight.Do(chatID, func() (interface{}, error) {
		e, err := load()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if p.gen == gen {
			c.setLocked(chatID, e)
		}
		c.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ChatEntry), nil
}

func (c *ChatCache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Len:       c.Len(),
	}
}
