// Package cache implements the bounded entity cache shared by the dispatcher
// and plugin workers.
//
// Eviction follows CLOCK-Pro. Resident entries are cold (inserted, not yet
// proven) or hot (referenced again while resident). The cold hand evicts
// unreferenced cold entries and promotes referenced ones; the hot hand
// demotes unreferenced hot entries once the hot set outgrows its share.
// Evicted cold keys are remembered as non-resident test entries; a key that
// comes back while still remembered enters hot directly and grows the cold
// target, while forgotten test entries shrink it.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/parley/internal/domain/model"
)

const defaultCapacity = 4096

type status uint8

const (
	statusCold status = iota
	statusHot
	statusTest
)

type entry struct {
	rec    Record
	status status
	ref    bool
	elem   *list.Element
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Capacity   int    `json:"capacity"`
	Resident   int    `json:"resident"`
	Hot        int    `json:"hot"`
	Cold       int    `json:"cold"`
	Ghosts     int    `json:"ghosts"`
	ColdTarget int    `json:"coldTarget"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Evictions  uint64 `json:"evictions"`
}

// Cache maps identity keys to entity records. It is safe for concurrent
// use; all operations on one key are linearizable.
type Cache struct {
	mu         sync.Mutex
	capacity   int
	coldTarget int
	entries    map[model.Key]*entry
	hot        *list.List
	cold       *list.List
	test       *list.List

	now     func() time.Time
	onEvict func(model.Key)

	hits      uint64
	misses    uint64
	evictions uint64
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		capacity: defaultCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.coldTarget = max(1, c.capacity/2)
	c.entries = make(map[model.Key]*entry, c.capacity)
	c.hot = list.New()
	c.cold = list.New()
	c.test = list.New()
	return c
}

// GetOrInsert returns a snapshot of the record for key, inserting an empty
// record when the key is not resident.
func (c *Cache) GetOrInsert(ctx context.Context, key model.Key) Record {
	c.mu.Lock()
	e, evicted := c.reference(key)
	rec := e.rec.Clone()
	c.mu.Unlock()

	c.notify(evicted)
	return rec
}

// Get returns a snapshot of a resident record. A miss is a normal outcome.
func (c *Cache) Get(ctx context.Context, key model.Key) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.status == statusTest {
		c.misses++
		return Record{}, false
	}
	c.hits++
	e.ref = true
	return e.rec.Clone(), true
}

// Peek is Get without counting as a reference.
func (c *Cache) Peek(key model.Key) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.status == statusTest {
		return Record{}, false
	}
	return e.rec.Clone(), true
}

// Update applies fn to a private copy of the record for key, creating the
// record when absent, and publishes the copy. If fn panics the stored
// record is left untouched and ErrMutationPanicked is returned.
//
// fn runs under the cache lock and must not call back into the cache.
func (c *Cache) Update(ctx context.Context, key model.Key, fn func(*Record)) (Record, error) {
	c.mu.Lock()
	e, evicted := c.reference(key)
	next := e.rec.Clone()
	err := apply(fn, &next)
	if err == nil {
		next.Key = key
		e.rec = next
	}
	rec := e.rec.Clone()
	c.mu.Unlock()

	c.notify(evicted)
	return rec, err
}

func apply(fn func(*Record), r *Record) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrMutationPanicked, p)
		}
	}()
	fn(r)
	return nil
}

// Remove drops key from the cache. It reports whether a resident record
// was removed. The key is not remembered as a test entry.
func (c *Cache) Remove(ctx context.Context, key model.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.unlink(e)
	delete(c.entries, key)
	return e.status != statusTest
}

// Rename moves the resident record at from to the key to, keeping its
// hot/cold status. Any record already resident at to is replaced.
func (c *Cache) Rename(ctx context.Context, from, to model.Key) bool {
	if from == to {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[from]
	if !ok || e.status == statusTest {
		return false
	}
	if old, ok := c.entries[to]; ok {
		c.unlink(old)
		delete(c.entries, to)
	}
	delete(c.entries, from)
	e.rec.Key = to
	e.ref = true
	c.entries[to] = e
	return true
}

// Contains reports whether key is resident, without referencing it.
func (c *Cache) Contains(key model.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && e.status != statusTest
}

// Len returns the number of resident records.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hot.Len() + c.cold.Len()
}

// Capacity returns the maximum number of resident records.
func (c *Cache) Capacity() int { return c.capacity }

// Stats returns counters and list sizes.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Capacity:   c.capacity,
		Resident:   c.hot.Len() + c.cold.Len(),
		Hot:        c.hot.Len(),
		Cold:       c.cold.Len(),
		Ghosts:     c.test.Len(),
		ColdTarget: c.coldTarget,
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
	}
}

// reference marks key as used, inserting it when not resident, and returns
// its entry plus any keys evicted to make room. Callers hold c.mu.
func (c *Cache) reference(key model.Key) (*entry, []model.Key) {
	e, ok := c.entries[key]
	if ok && e.status != statusTest {
		c.hits++
		e.ref = true
		return e, nil
	}
	c.misses++

	st := statusCold
	if ok {
		// Re-referenced within the test period: the cold share was too small.
		c.unlink(e)
		delete(c.entries, key)
		c.coldTarget = min(c.capacity, c.coldTarget+1)
		st = statusHot
	}

	var evicted []model.Key
	for c.hot.Len()+c.cold.Len() >= c.capacity {
		evicted = append(evicted, c.evictOne())
	}

	e = &entry{
		rec:    Record{Key: key, LastSeen: c.now()},
		status: st,
	}
	if st == statusHot {
		e.elem = c.hot.PushBack(e)
	} else {
		e.elem = c.cold.PushBack(e)
	}
	c.entries[key] = e
	return e, evicted
}

// evictOne runs the hands until one cold entry leaves the resident set.
func (c *Cache) evictOne() model.Key {
	for {
		if c.cold.Len() == 0 || c.hot.Len() > c.capacity-c.coldTarget {
			c.runHotHand()
			continue
		}

		e := c.cold.Front().Value.(*entry)
		if e.ref {
			e.ref = false
			c.cold.Remove(e.elem)
			e.status = statusHot
			e.elem = c.hot.PushBack(e)
			continue
		}

		c.cold.Remove(e.elem)
		key := e.rec.Key
		e.rec = Record{Key: key}
		e.status = statusTest
		e.elem = c.test.PushBack(e)
		c.trimTest()
		c.evictions++
		return key
	}
}

func (c *Cache) runHotHand() {
	e := c.hot.Front().Value.(*entry)
	if e.ref {
		e.ref = false
		c.hot.MoveToBack(e.elem)
		return
	}
	c.hot.Remove(e.elem)
	e.status = statusCold
	e.elem = c.cold.PushBack(e)
}

// trimTest forgets the oldest test entries beyond capacity.
func (c *Cache) trimTest() {
	for c.test.Len() > c.capacity {
		e := c.test.Remove(c.test.Front()).(*entry)
		delete(c.entries, e.rec.Key)
		c.coldTarget = max(1, c.coldTarget-1)
	}
}

func (c *Cache) unlink(e *entry) {
	switch e.status {
	case statusHot:
		c.hot.Remove(e.elem)
	case statusCold:
		c.cold.Remove(e.elem)
	case statusTest:
		c.test.Remove(e.elem)
	}
}

func (c *Cache) notify(keys []model.Key) {
	if c.onEvict == nil {
		return
	}
	for _, k := range keys {
		c.onEvict(k)
	}
}
