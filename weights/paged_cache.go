package weights

import (
	"fmt"
	"os"

	"github.com/llama2core/llama2core/internal/apierr"
)

// pagedEntry is one resident byte-range window read from the file. Entries
// form an LRU doubly linked list so the oldest unpinned entry can be
// evicted first, the same free/use bookkeeping pattern as a block-based KV
// cache's free list, here applied to tensor byte ranges instead of token
// blocks.
type pagedEntry struct {
	offset, length int64
	data           []byte
	pins           int
	prev, next     *pagedEntry // LRU list links
}

// pagedCache is the byte-budgeted paged Weight Store (spec §4.1 "Paged
// cache"). On a miss it reads the requested range from the file and evicts
// least-recently-used, unpinned entries until the new entry fits inside
// cacheLimit. A region currently pinned by an in-flight forward pass is
// never evicted.
type pagedCache struct {
	f          *os.File
	base       int64
	cacheLimit int64
	resident   int64

	entries    []*pagedEntry // resident entries, in load order (recency lives in the list below)
	head, tail *pagedEntry   // LRU list: head = least recently used
}

// OpenPagedCache opens path and returns a byte-budgeted Store that pages
// tensor regions in from disk on demand. cacheLimit must be positive and
// at least as large as the layout's single largest tensor, or construction
// fails with ErrResourceLimit.
func OpenPagedCache(path string, dataOffset, cacheLimit int64, largestRegion int64) (Store, error) {
	if cacheLimit <= 0 {
		return nil, fmt.Errorf("weights: paged cache requires a positive cache_limit: %w", apierr.ErrBadConfig)
	}
	if cacheLimit < largestRegion {
		return nil, fmt.Errorf("weights: cache_limit %d smaller than largest tensor %d: %w", cacheLimit, largestRegion, apierr.ErrResourceLimit)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("weights: open %q: %w: %v", path, apierr.ErrBadPath, err)
	}
	return &pagedCache{f: f, base: dataOffset, cacheLimit: cacheLimit}, nil
}

func (c *pagedCache) Slice(offset, length int64) (Handle, error) {
	for _, e := range c.entries {
		if e.offset == offset && e.length == length {
			c.touch(e)
			e.pins++
			return c.handle(e), nil
		}
	}
	return c.load(offset, length)
}

func (c *pagedCache) load(offset, length int64) (Handle, error) {
	for c.resident+length > c.cacheLimit {
		if !c.evictOne() {
			return Handle{}, fmt.Errorf("weights: paged cache exhausted, all resident regions pinned: %w", apierr.ErrResourceLimit)
		}
	}
	buf := make([]byte, length)
	if _, err := c.f.ReadAt(buf, c.base+offset); err != nil {
		return Handle{}, fmt.Errorf("weights: read region [%d,%d): %w: %v", offset, offset+length, apierr.ErrIoError, err)
	}
	e := &pagedEntry{offset: offset, length: length, data: buf, pins: 1}
	c.entries = append(c.entries, e)
	c.resident += length
	c.pushMRU(e)
	return c.handle(e), nil
}

func (c *pagedCache) handle(e *pagedEntry) Handle {
	released := false
	return Handle{
		bytes: e.data,
		release: func() {
			if released {
				return
			}
			released = true
			if e.pins > 0 {
				e.pins--
			}
		},
	}
}

// evictOne removes the least-recently-used unpinned entry. Returns false
// if every resident entry is currently pinned by an in-flight forward pass.
func (c *pagedCache) evictOne() bool {
	for e := c.head; e != nil; e = e.next {
		if e.pins > 0 {
			continue
		}
		c.unlink(e)
		c.resident -= e.length
		for i, cand := range c.entries {
			if cand == e {
				c.entries = append(c.entries[:i], c.entries[i+1:]...)
				break
			}
		}
		return true
	}
	return false
}

func (c *pagedCache) pushMRU(e *pagedEntry) {
	e.prev = c.tail
	e.next = nil
	if c.tail != nil {
		c.tail.next = e
	} else {
		c.head = e
	}
	c.tail = e
}

func (c *pagedCache) unlink(e *pagedEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (c *pagedCache) touch(e *pagedEntry) {
	if c.tail == e {
		return
	}
	c.unlink(e)
	c.pushMRU(e)
}

func (c *pagedCache) Close() error {
	return c.f.Close()
}
