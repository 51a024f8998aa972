package blockdev

import (
	"fmt"
	"sync"
)

// MemDevice is an in-memory Device, the fake backing store used by the
// buffer-cache, inode, and VM tests in place of a real disk image (the same
// role gcsfuse's gcsfake bucket plays for GCS in its own test suite).
type MemDevice struct {
	mu      sync.Mutex
	sectors [][SectorSize]byte
}

var _ Device = (*MemDevice)(nil)

// NewMemDevice returns a zero-filled in-memory device of sectorCount sectors.
func NewMemDevice(sectorCount uint32) *MemDevice {
	return &MemDevice{sectors: make([][SectorSize]byte, sectorCount)}
}

func (d *MemDevice) ReadSector(sector uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("blockdev: read buffer must be %d bytes, got %d", SectorSize, len(buf))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if sector >= uint32(len(d.sectors)) {
		return fmt.Errorf("blockdev: sector %d out of range (%d sectors)", sector, len(d.sectors))
	}
	copy(buf, d.sectors[sector][:])
	return nil
}

func (d *MemDevice) WriteSector(sector uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("blockdev: write buffer must be %d bytes, got %d", SectorSize, len(buf))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if sector >= uint32(len(d.sectors)) {
		return fmt.Errorf("blockdev: sector %d out of range (%d sectors)", sector, len(d.sectors))
	}
	copy(d.sectors[sector][:], buf)
	return nil
}

func (d *MemDevice) SectorCount() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint32(len(d.sectors))
}

func (d *MemDevice) Close() error { return nil }
