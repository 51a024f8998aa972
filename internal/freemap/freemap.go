// Package freemap implements the free-sector bitmap described in
// spec.md §4.2: a persistent bitmap, stored in a well-known sector, that
// the inode layer consults to allocate and release data sectors.
package freemap

import (
	"fmt"
	"sync"

	"github.com/mlj-hub/pintosim/internal/blockdev"
	"github.com/mlj-hub/pintosim/internal/bufcache"
)

// HeaderSector is the fixed sector that persists the bitmap, per spec.md
// §6 ("Sector 0: free-map header inode"). The bitmap itself is stored
// starting at HeaderSector using as many contiguous sectors as needed to
// hold one bit per sector on the device.
const HeaderSector = 0

// FreeMap is the sector allocation bitmap. The zero value is not usable;
// use New or Load.
type FreeMap struct {
	mu      sync.Mutex
	bits    []bool
	cache   *bufcache.Cache
	nsector uint32 // sectors occupied by the persisted bitmap itself
}

func bitmapSectors(totalSectors uint32) uint32 {
	bytesNeeded := (totalSectors + 7) / 8
	sectors := (bytesNeeded + blockdev.SectorSize - 1) / blockdev.SectorSize
	if sectors == 0 {
		sectors = 1
	}
	return sectors
}

// New creates a fresh free-map for a device with totalSectors sectors, with
// the bitmap's own sectors and HeaderSector already marked allocated.
func New(cache *bufcache.Cache, totalSectors uint32) *FreeMap {
	fm := &FreeMap{
		bits:    make([]bool, totalSectors),
		cache:   cache,
		nsector: bitmapSectors(totalSectors),
	}
	for s := uint32(0); s < fm.nsector; s++ {
		fm.bits[HeaderSector+s] = true
	}
	return fm
}

// Load reconstructs a free-map from its persisted sectors.
func Load(cache *bufcache.Cache, totalSectors uint32) (*FreeMap, error) {
	fm := &FreeMap{
		bits:    make([]bool, totalSectors),
		cache:   cache,
		nsector: bitmapSectors(totalSectors),
	}

	buf := make([]byte, blockdev.SectorSize)
	bit := uint32(0)
	for s := uint32(0); s < fm.nsector && bit < totalSectors; s++ {
		if err := cache.Read(HeaderSector+s, buf); err != nil {
			return nil, fmt.Errorf("freemap: loading bitmap sector %d: %w", s, err)
		}
		for byteIdx := 0; byteIdx < len(buf) && bit < totalSectors; byteIdx++ {
			for b := 0; b < 8 && bit < totalSectors; b++ {
				fm.bits[bit] = buf[byteIdx]&(1<<uint(b)) != 0
				bit++
			}
		}
	}
	return fm, nil
}

// Allocate finds a contiguous run of n free sectors, marks them allocated,
// and returns the first sector of the run. It returns an error if no such
// run exists (spec.md §7 "Resource exhaustion").
func (fm *FreeMap) Allocate(n uint32) (uint32, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	run := uint32(0)
	start := uint32(0)
	for i, used := range fm.bits {
		if used {
			run = 0
			continue
		}
		if run == 0 {
			start = uint32(i)
		}
		run++
		if run == n {
			for s := start; s < start+n; s++ {
				fm.bits[s] = true
			}
			return start, nil
		}
	}
	return 0, fmt.Errorf("freemap: no run of %d free sectors available", n)
}

// MarkUsed reserves a single well-known sector (e.g. the root directory
// inode's fixed sector) outside the normal Allocate path, so it is never
// handed out to a later caller.
func (fm *FreeMap) MarkUsed(sector uint32) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if int(sector) < len(fm.bits) {
		fm.bits[sector] = true
	}
}

// Release marks the n sectors starting at sector as free again.
func (fm *FreeMap) Release(sector, n uint32) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	for s := sector; s < sector+n; s++ {
		if int(s) < len(fm.bits) {
			fm.bits[s] = false
		}
	}
}

// FreeCount returns the number of currently unallocated sectors, used by
// tests to assert that failed allocations do not leak sectors (spec.md §8
// scenario 2).
func (fm *FreeMap) FreeCount() int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	n := 0
	for _, used := range fm.bits {
		if !used {
			n++
		}
	}
	return n
}

// Flush persists the bitmap to its header sectors through the buffer
// cache. Called at shutdown, per spec.md §4.2.
func (fm *FreeMap) Flush() error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	buf := make([]byte, blockdev.SectorSize)
	bit := uint32(0)
	for s := uint32(0); s < fm.nsector; s++ {
		for i := range buf {
			buf[i] = 0
		}
		for byteIdx := 0; byteIdx < len(buf) && bit < uint32(len(fm.bits)); byteIdx++ {
			for b := 0; b < 8 && bit < uint32(len(fm.bits)); b++ {
				if fm.bits[bit] {
					buf[byteIdx] |= 1 << uint(b)
				}
				bit++
			}
		}
		if err := fm.cache.Write(HeaderSector+s, buf); err != nil {
			return fmt.Errorf("freemap: flushing bitmap sector %d: %w", s, err)
		}
	}
	return nil
}
