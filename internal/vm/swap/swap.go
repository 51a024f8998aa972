// Package swap implements the page-granularity swap device: a bitmap of
// free/allocated sectors on a dedicated block device, grounded on
// _examples/original_source/src/vm/swap.c.
package swap

import (
	"errors"
	"sync"

	"github.com/mlj-hub/pintosim/internal/blockdev"
)

// PageSize matches Pintos' PGSIZE.
const PageSize = 4096

// SectorsPerSlot is the number of consecutive device sectors one page
// occupies in swap.
const SectorsPerSlot = PageSize / blockdev.SectorSize

// ErrSwapFull is returned by Write when no free slot remains.
var ErrSwapFull = errors.New("swap: device is full")

// ErrInvalidSlot is returned by Read when idx does not name a fully
// allocated slot.
var ErrInvalidSlot = errors.New("swap: invalid slot index")

// Device tracks free/used swap slots over a backing blockdev.Device.
type Device struct {
	dev blockdev.Device
	mu  sync.Mutex
	// used marks each sector (not slot) as allocated, so the scan below can
	// walk sector-by-sector exactly like bitmap_scan_and_flip does.
	used []bool
}

// New creates a swap bitmap sized to dev's full sector count.
func New(dev blockdev.Device) *Device {
	return &Device{
		dev:  dev,
		used: make([]bool, dev.SectorCount()),
	}
}

// scanAndFlip finds SectorsPerSlot consecutive sectors matching want,
// starting from start, and flips them to !want. Caller must hold mu.
func (d *Device) scanAndFlip(start int, want bool) (int, bool) {
	for i := start; i+SectorsPerSlot <= len(d.used); i++ {
		allMatch := true
		for j := 0; j < SectorsPerSlot; j++ {
			if d.used[i+j] != want {
				allMatch = false
				break
			}
		}
		if allMatch {
			for j := 0; j < SectorsPerSlot; j++ {
				d.used[i+j] = !want
			}
			return i, true
		}
	}
	return 0, false
}

// Write claims a free slot, writes one page's worth of sectors from page
// (which must be PageSize bytes), and returns the slot index. The bitmap
// scan is serialized by mu, but the actual sector I/O runs after mu is
// released, matching write_to_swap.
func (d *Device) Write(page []byte) (int, error) {
	d.mu.Lock()
	idx, ok := d.scanAndFlip(0, false)
	d.mu.Unlock()
	if !ok {
		return 0, ErrSwapFull
	}

	for i := 0; i < SectorsPerSlot; i++ {
		off := i * blockdev.SectorSize
		if err := d.dev.WriteSector(uint32(idx+i), page[off:off+blockdev.SectorSize]); err != nil {
			return 0, err
		}
	}
	return idx, nil
}

// Read reads slot idx into page (PageSize bytes) and frees the slot,
// matching read_from_swap: the slot's validity check, the free-bit flip,
// and the sector I/O all happen while mu is held.
func (d *Device) Read(idx int, page []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if idx < 0 || idx+SectorsPerSlot > len(d.used) {
		return ErrInvalidSlot
	}
	for i := 0; i < SectorsPerSlot; i++ {
		if !d.used[idx+i] {
			return ErrInvalidSlot
		}
	}
	for i := 0; i < SectorsPerSlot; i++ {
		d.used[idx+i] = false
	}

	for i := 0; i < SectorsPerSlot; i++ {
		off := i * blockdev.SectorSize
		if err := d.dev.ReadSector(uint32(idx+i), page[off:off+blockdev.SectorSize]); err != nil {
			return err
		}
	}
	return nil
}
