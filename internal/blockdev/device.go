// Package blockdev models the fixed-512-byte-sector block device that sits
// below every other subsystem in this kernel. The real driver (DMA, disk
// controller, interrupt handling) is out of scope (spec.md §1); this package
// only defines the synchronous interface the rest of the kernel programs
// against and a file-backed implementation suitable for running the
// simulator against a plain disk image on the host filesystem.
package blockdev

import (
	"fmt"
	"os"
	"sync"
)

// SectorSize is the fixed sector size of every device in this system.
const SectorSize = 512

// Device is the external block device collaborator named in spec.md §6:
// synchronous whole-sector reads and writes, addressed by sector number.
type Device interface {
	// ReadSector reads the sector at the given index into buf, which must
	// be exactly SectorSize bytes.
	ReadSector(sector uint32, buf []byte) error

	// WriteSector writes buf, which must be exactly SectorSize bytes, to
	// the sector at the given index.
	WriteSector(sector uint32, buf []byte) error

	// SectorCount returns the number of addressable sectors on the device.
	SectorCount() uint32

	// Close releases any resources (file handles) held by the device.
	Close() error
}

// FileDevice implements Device over a regular file on the host filesystem,
// used to back both the filesystem disk and the swap disk.
type FileDevice struct {
	mu     sync.Mutex
	f      *os.File
	nsects uint32
}

var _ Device = (*FileDevice)(nil)

// OpenFile opens (creating if necessary) a disk image of exactly
// sectorCount sectors at path. If the file already exists and is smaller
// than sectorCount*SectorSize, it is extended and zero-filled.
func OpenFile(path string, sectorCount uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blockdev: opening %s: %w", path, err)
	}

	size := int64(sectorCount) * SectorSize
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: sizing %s to %d sectors: %w", path, sectorCount, err)
	}

	return &FileDevice{f: f, nsects: sectorCount}, nil
}

func (d *FileDevice) ReadSector(sector uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("blockdev: read buffer must be %d bytes, got %d", SectorSize, len(buf))
	}
	if sector >= d.nsects {
		return fmt.Errorf("blockdev: sector %d out of range (%d sectors)", sector, d.nsects)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.f.ReadAt(buf, int64(sector)*SectorSize)
	if err != nil {
		return fmt.Errorf("blockdev: reading sector %d: %w", sector, err)
	}
	return nil
}

func (d *FileDevice) WriteSector(sector uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("blockdev: write buffer must be %d bytes, got %d", SectorSize, len(buf))
	}
	if sector >= d.nsects {
		return fmt.Errorf("blockdev: sector %d out of range (%d sectors)", sector, d.nsects)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.f.WriteAt(buf, int64(sector)*SectorSize)
	if err != nil {
		return fmt.Errorf("blockdev: writing sector %d: %w", sector, err)
	}
	return nil
}

func (d *FileDevice) SectorCount() uint32 {
	return d.nsects
}

func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}
