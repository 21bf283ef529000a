// internal/tilecache/cache.go - Bounded per-tile cache of decoded buildings
package tilecache

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/valpere/building_tiles/internal/building"
	"github.com/valpere/building_tiles/internal/grid"
)

// Tile is the cached result of loading one tile. A failed load is cached as
// an empty tile so that it is not retried until it is removed.
type Tile struct {
	ID       grid.TileID
	Entities []*building.Entity
	Failed   bool
	Err      error
	LoadedAt time.Time
}

// NewTile creates a loaded tile
func NewTile(id grid.TileID, entities []*building.Entity) *Tile {
	return &Tile{ID: id, Entities: entities, LoadedAt: time.Now()}
}

// FailedTile creates the empty placeholder stored after a failed load
func FailedTile(id grid.TileID, err error) *Tile {
	return &Tile{ID: id, Failed: true, Err: err, LoadedAt: time.Now()}
}

// Stats contains cache counters
type Stats struct {
	Len       int    `json:"len"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// Cache maps tile ids to loaded tiles. Recency is the last time a tile was
// required (Get, GetOrLoad or Put); when full, the least recently required
// tile that is not pinned is evicted. It is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	lst      *list.List
	items    map[grid.TileID]*list.Element
	pinned   grid.Set
	onEvict  func(*Tile)

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates a cache holding at most capacity tiles; capacity <= 0 is unbounded
func New(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		lst:      list.New(),
		items:    make(map[grid.TileID]*list.Element),
		pinned:   grid.NewSet(),
	}
}

// SetPinned replaces the set of ids that are never evicted for capacity.
// While more pinned tiles are cached than fit, the cache grows past capacity.
func (c *Cache) SetPinned(ids ...grid.TileID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned = grid.NewSet(ids...)
}

// OnEvict registers a function called for every tile evicted for capacity
func (c *Cache) OnEvict(fn func(*Tile)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// Get returns the tile and marks it most recently required
func (c *Cache) Get(id grid.TileID) (*Tile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[id]; ok {
		c.lst.MoveToFront(e)
		c.hits.Inc()
		return e.Value.(*Tile), true
	}
	c.misses.Inc()
	return nil, false
}

// Peek returns the tile without touching recency or counters
func (c *Cache) Peek(id grid.TileID) (*Tile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[id]; ok {
		return e.Value.(*Tile), true
	}
	return nil, false
}

// GetOrLoad returns the cached tile or calls loader, outside the lock, and
// stores its result. If another caller stored the id while loader ran, that
// tile wins. A load finishing after Clear is still stored. The boolean
// reports whether the tile was already cached and loader did not run.
func (c *Cache) GetOrLoad(id grid.TileID, loader func() *Tile) (*Tile, bool) {
	c.mu.Lock()
	if e, ok := c.items[id]; ok {
		c.lst.MoveToFront(e)
		c.mu.Unlock()
		c.hits.Inc()
		return e.Value.(*Tile), true
	}
	c.mu.Unlock()
	c.misses.Inc()

	tile := loader()
	if tile == nil {
		tile = NewTile(id, nil)
	}
	tile.ID = id

	c.mu.Lock()
	if e, ok := c.items[id]; ok {
		c.lst.MoveToFront(e)
		c.mu.Unlock()
		return e.Value.(*Tile), false
	}
	evicted := c.insert(tile)
	c.mu.Unlock()

	c.notify(evicted)
	return tile, false
}

// Put stores a tile, replacing any previous tile with the same id
func (c *Cache) Put(tile *Tile) {
	c.mu.Lock()
	if e, ok := c.items[tile.ID]; ok {
		e.Value = tile
		c.lst.MoveToFront(e)
		c.mu.Unlock()
		return
	}
	evicted := c.insert(tile)
	c.mu.Unlock()

	c.notify(evicted)
}

// Remove drops a tile; it reports whether the tile was cached
func (c *Cache) Remove(id grid.TileID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[id]
	if !ok {
		return false
	}
	c.lst.Remove(e)
	delete(c.items, id)
	return true
}

// RemoveFailed drops every tile whose load failed and returns how many
func (c *Cache) RemoveFailed() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for e := c.lst.Front(); e != nil; {
		next := e.Next()
		if tile := e.Value.(*Tile); tile.Failed {
			c.lst.Remove(e)
			delete(c.items, tile.ID)
			removed++
		}
		e = next
	}
	return removed
}

// Clear drops every tile and every pin
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lst.Init()
	c.items = make(map[grid.TileID]*list.Element)
	c.pinned = grid.NewSet()
}

// Len returns the number of cached tiles
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lst.Len()
}

// Keys returns the cached ids, most recently required first
func (c *Cache) Keys() []grid.TileID {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]grid.TileID, 0, c.lst.Len())
	for e := c.lst.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*Tile).ID)
	}
	return keys
}

// Stats returns a snapshot of the cache counters
func (c *Cache) Stats() Stats {
	return Stats{
		Len:       c.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// insert adds a new tile and trims to capacity, skipping pinned tiles.
// Caller holds the lock.
func (c *Cache) insert(tile *Tile) []*Tile {
	c.items[tile.ID] = c.lst.PushFront(tile)

	var evicted []*Tile
	for e := c.lst.Back(); e != nil && c.capacity > 0 && c.lst.Len() > c.capacity; {
		prev := e.Prev()
		if old := e.Value.(*Tile); !c.pinned.Has(old.ID) {
			c.lst.Remove(e)
			delete(c.items, old.ID)
			evicted = append(evicted, old)
		}
		e = prev
	}
	return evicted
}

func (c *Cache) notify(evicted []*Tile) {
	if len(evicted) == 0 {
		return
	}
	c.evictions.Add(uint64(len(evicted)))

	c.mu.Lock()
	fn := c.onEvict
	c.mu.Unlock()

	if fn == nil {
		return
	}
	for _, tile := range evicted {
		fn(tile)
	}
}
