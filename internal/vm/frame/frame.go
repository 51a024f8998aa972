// Package frame implements the frame table and two-chance eviction
// described in spec.md §4.6, grounded on
// _examples/original_source/src/vm/frame.c's frame_table/frame_lock and
// generalized into a real write-back-on-evict policy (the original
// evict_frame never calls back into the page layer at all).
package frame

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mlj-hub/pintosim/internal/logger"
)

// maxConcurrentEvictions bounds how many frames FreeProcess writes back at
// once, the same role golang.org/x/sync/semaphore plays bounding
// concurrent GCS calls in the ratelimit/workerpool packages this kernel
// is otherwise unrelated to.
const maxConcurrentEvictions = 8

// PageSize matches Pintos' PGSIZE.
const PageSize = 4096

// Frame is one physical page of simulated memory.
type Frame struct {
	Data [PageSize]byte
}

// AddressSpace abstracts a thread's page directory: the accessed/dirty
// bits the MMU would track, and the clear operation userprog/pagedir.c
// exposes. It has no operation for installing a mapping.
type AddressSpace interface {
	IsAccessed(uaddr uint64) bool
	IsDirty(uaddr uint64) bool
	Clear(uaddr uint64)
}

// Evictable is the supplemental-page side of a frame-table entry. The
// frame package depends only on this interface so it never imports
// internal/vm/page, keeping frame -> page a one-way dependency.
type Evictable interface {
	Owner() AddressSpace
	UAddr() uint64
	Lock()
	Unlock()
	LastAccessTime() int64
	// WriteBack persists the frame's content if the page type and dirty
	// bit require it, then marks the entry non-resident.
	WriteBack(dirty bool, data *Frame) error
}

type entry struct {
	owner AddressSpace
	uaddr uint64
	page  Evictable
	data  *Frame
}

// Table is the frame table: every currently-resident physical frame and
// its owner, bounded to capacity frames to simulate a fixed-size pool of
// physical memory.
type Table struct {
	mu       sync.Mutex
	capacity int
	entries  []*entry
}

// NewTable creates a frame table with room for capacity physical frames.
func NewTable(capacity int) *Table {
	return &Table{capacity: capacity}
}

// Len reports how many frames are currently in use.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Allocate records a frame for (owner, uaddr, page). If the pool has
// spare capacity a fresh zeroed frame is returned; otherwise a victim is
// chosen by two-chance -- the first frame whose accessed bit is clear,
// or else the one with the oldest last-access time -- written back per
// WriteBack, unmapped from its owner, and rebound to the new owner.
func (t *Table) Allocate(owner AddressSpace, uaddr uint64, page Evictable) (*Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) < t.capacity {
		e := &entry{owner: owner, uaddr: uaddr, page: page, data: &Frame{}}
		t.entries = append(t.entries, e)
		return e.data, nil
	}

	victimIdx := -1
	for i, e := range t.entries {
		if !e.owner.IsAccessed(e.uaddr) {
			victimIdx = i
			break
		}
	}
	if victimIdx == -1 {
		victimIdx = 0
		for i := 1; i < len(t.entries); i++ {
			if t.entries[i].page.LastAccessTime() < t.entries[victimIdx].page.LastAccessTime() {
				victimIdx = i
			}
		}
	}

	victim := t.entries[victimIdx]
	victim.page.Lock()
	dirty := victim.owner.IsDirty(victim.uaddr)
	err := victim.page.WriteBack(dirty, victim.data)
	victim.owner.Clear(victim.uaddr)
	victim.page.Unlock()
	if err != nil {
		return nil, err
	}

	for i := range victim.data.Data {
		victim.data.Data[i] = 0
	}
	victim.owner = owner
	victim.uaddr = uaddr
	victim.page = page
	return victim.data, nil
}

// Free removes the frame-table entry backed by data and returns the page
// to the pool.
func (t *Table) Free(data *Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.entries {
		if e.data == data {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

// FreeProcess writes back and releases every frame owned by owner, for
// use on thread exit. The write-backs run concurrently via errgroup,
// bounded by a semaphore, the same fan-out-and-join shape
// internal/bufcache.FlushAll uses for its own dirty-line write-backs.
func (t *Table) FreeProcess(owner AddressSpace) {
	t.mu.Lock()
	var owned []*entry
	for _, e := range t.entries {
		if e.owner == owner {
			owned = append(owned, e)
		}
	}
	t.mu.Unlock()

	sem := semaphore.NewWeighted(maxConcurrentEvictions)
	g, ctx := errgroup.WithContext(context.Background())
	for _, e := range owned {
		e := e
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			e.page.Lock()
			dirty := e.owner.IsDirty(e.uaddr)
			err := e.page.WriteBack(dirty, e.data)
			e.owner.Clear(e.uaddr)
			e.page.Unlock()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		logger.Errorf("frame: write-back during process teardown failed: %v", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.entries[:0]
	for _, e := range t.entries {
		if e.owner != owner {
			kept = append(kept, e)
		}
	}
	t.entries = kept
}
