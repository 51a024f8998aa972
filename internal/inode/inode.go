// Package inode implements the on-disk inode layer described in
// spec.md §4.3: fixed one-sector inodes with a direct/indirect/
// double-indirect block index, file growth, and interned open handles.
package inode

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mlj-hub/pintosim/internal/blockdev"
	"github.com/mlj-hub/pintosim/internal/bufcache"
	"github.com/mlj-hub/pintosim/internal/freemap"
	"github.com/mlj-hub/pintosim/internal/invariant"
)

// ErrInvalidSector is returned when a byte offset does not map to any
// sector of the file (spec.md §4.3 byte_to_sector returns -1 for
// pos >= length; in Go this is represented as an error instead of a
// sentinel integer).
var ErrInvalidSector = errors.New("inode: offset has no backing sector")

// Manager is the shared, filesystem-wide open-inode table described in
// spec.md §4.3 and §9 ("Interned open objects"): opening the same sector
// twice returns the same *Inode with a bumped open count. The mutex here
// guards only the open-inode table; whole file operations are serialized
// by the filesystem lock internal/syscalls shares across processes.
type Manager struct {
	mu      sync.Mutex
	cache   *bufcache.Cache
	freeMap *freemap.FreeMap
	open    map[uint32]*Inode
}

// NewManager returns a Manager backed by the given buffer cache and
// free-map, both of which must already be wired to the same underlying
// filesystem device.
func NewManager(cache *bufcache.Cache, freeMap *freemap.FreeMap) *Manager {
	return &Manager{
		cache:   cache,
		freeMap: freeMap,
		open:    make(map[uint32]*Inode),
	}
}

// Create initializes a new zero-length inode at sector, then extends it to
// length bytes, allocating and zeroing the necessary data sectors, per
// spec.md §4.3.
func (m *Manager) Create(sector uint32, length int64, isDir bool) error {
	in := &Inode{
		sector: sector,
		mgr:    m,
		disk:   onDiskInode{IsDir: isDir},
	}
	if err := in.extend(length); err != nil {
		return fmt.Errorf("inode: create: %w", err)
	}
	return in.writeDiskInode()
}

// Open returns the in-memory inode for sector, interning it: a second
// Open of the same sector returns the same *Inode with its open count
// incremented, per spec.md §4.3's "Lifecycle".
func (m *Manager) Open(sector uint32) (*Inode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if in, ok := m.open[sector]; ok {
		in.openCount++
		return in, nil
	}

	buf := make([]byte, blockdev.SectorSize)
	if err := m.cache.Read(sector, buf); err != nil {
		return nil, fmt.Errorf("inode: opening sector %d: %w", sector, err)
	}
	disk, ok := unmarshalOnDiskInode(buf)
	invariant.Check(ok, "inode: sector %d has bad magic", sector)

	in := &Inode{
		sector:    sector,
		mgr:       m,
		disk:      disk,
		openCount: 1,
	}
	m.open[sector] = in
	return in, nil
}

// closeLocked is invoked by Inode.Close; the caller must hold m.mu.
func (m *Manager) closeLocked(in *Inode) error {
	in.openCount--
	if in.openCount > 0 {
		return nil
	}
	delete(m.open, in.sector)

	if !in.removed {
		return nil
	}
	return in.deallocate()
}

// Inode is the in-memory handle for an open on-disk inode, per spec.md
// §3's "In-memory inode".
type Inode struct {
	mu             sync.Mutex
	sector         uint32
	mgr            *Manager
	disk           onDiskInode
	openCount      int
	denyWriteCount int
	removed        bool
}

// Sector returns the sector number of this inode's own on-disk structure.
func (in *Inode) Sector() uint32 { return in.sector }

// IsDir reports whether this inode represents a directory.
func (in *Inode) IsDir() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.disk.IsDir
}

// Length returns the current logical length of the file, in bytes.
func (in *Inode) Length() int64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.disk.Length
}

// Close decrements the open count. On the last close of a removed inode,
// its data sectors and its own sector are returned to the free-map.
func (in *Inode) Close() error {
	in.mgr.mu.Lock()
	defer in.mgr.mu.Unlock()
	return in.mgr.closeLocked(in)
}

// Remove marks the inode for deletion; its storage is reclaimed when the
// last open handle closes, per spec.md §4.3.
func (in *Inode) Remove() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.removed = true
}

// Removed reports whether Remove has been called on this inode.
func (in *Inode) Removed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.removed
}

// DenyWrite bumps the deny-write counter; while it is nonzero, Write
// returns 0 bytes written without touching any sector (spec.md §4.3).
func (in *Inode) DenyWrite() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.denyWriteCount++
}

// AllowWrite drops the deny-write counter.
func (in *Inode) AllowWrite() {
	in.mu.Lock()
	defer in.mu.Unlock()
	invariant.Check(in.denyWriteCount > 0, "inode: AllowWrite without matching DenyWrite")
	in.denyWriteCount--
}

func (in *Inode) writeDiskInode() error {
	buf := in.disk.marshal()
	return in.mgr.cache.Write(in.sector, buf[:])
}

// byteToSectorLocked resolves a byte offset to the physical sector that backs
// it, per spec.md §4.3. Must be called with in.mu held.
func (in *Inode) byteToSectorLocked(pos int64) (uint32, error) {
	if pos >= in.disk.Length {
		return 0, ErrInvalidSector
	}
	s := uint32(pos / blockdev.SectorSize)

	if s < DirectBlockNumber {
		return in.disk.Direct[s], nil
	}
	s -= DirectBlockNumber

	if s < PointersPerSector {
		buf := make([]byte, blockdev.SectorSize)
		if err := in.mgr.cache.Read(in.disk.Indirect, buf); err != nil {
			return 0, err
		}
		ptrs := readPointerSector(buf)
		return ptrs[s], nil
	}
	s -= PointersPerSector

	outer := s / PointersPerSector
	inner := s % PointersPerSector

	outerBuf := make([]byte, blockdev.SectorSize)
	if err := in.mgr.cache.Read(in.disk.DoubleIndirect, outerBuf); err != nil {
		return 0, err
	}
	outerPtrs := readPointerSector(outerBuf)

	innerBuf := make([]byte, blockdev.SectorSize)
	if err := in.mgr.cache.Read(outerPtrs[outer], innerBuf); err != nil {
		return 0, err
	}
	innerPtrs := readPointerSector(innerBuf)
	return innerPtrs[inner], nil
}
