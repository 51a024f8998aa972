// Package mmap implements the per-thread memory-mapped file registry
// from spec.md §4.8, grounded on the mmap_entry bookkeeping sketched in
// _examples/original_source/src/vm/mmap.h and the munmap discipline
// implied by _examples/original_source/src/userprog/syscall.c's file
// handling, generalized here into a complete mmap/munmap implementation.
package mmap

import (
	"errors"
	"sync"

	"github.com/mlj-hub/pintosim/internal/vm/frame"
	"github.com/mlj-hub/pintosim/internal/vm/page"
)

// PageSize matches frame.PageSize; mapping sizes are always rounded up
// to whole pages.
const PageSize = frame.PageSize

var (
	// ErrZeroAddr rejects a mapping request at a null or unaligned address.
	ErrZeroAddr = errors.New("mmap: address is zero or unaligned")
	// ErrZeroLength rejects mapping an empty file.
	ErrZeroLength = errors.New("mmap: file has zero length")
	// ErrOverlap rejects a mapping whose page range collides with an
	// existing supplemental-page entry.
	ErrOverlap = errors.New("mmap: overlaps an existing mapping")
	// ErrNotFound is returned by Unmap for an unknown mapid.
	ErrNotFound = errors.New("mmap: no such mapping")
)

// MapID identifies one active mapping, returned by Map and consumed by
// Unmap.
type MapID int

// File is a reopenable, sizeable file handle: mmap gives each mapping its
// own file.ReaderAt/WriterAt and offset sequence independent of the
// caller's original handle, matching Pintos' file_reopen.
type File interface {
	page.FileBacking
	Size() int64
}

type mapping struct {
	id        MapID
	startAddr uint64
	pageCount int
	file      File
	entries   []*page.Entry
}

// Registry is one thread's mmap table.
type Registry struct {
	mu      sync.Mutex
	next    MapID
	mapping map[MapID]*mapping
}

// NewRegistry creates an empty mmap registry.
func NewRegistry() *Registry {
	return &Registry{mapping: make(map[MapID]*mapping)}
}

// Map creates supplemental-page entries covering file at addr, one per
// page, and records the mapping under a fresh MapID.
func Map(reg *Registry, spt *page.Table, owner frame.AddressSpace, addr uint64, file File, swapDev page.SwapDevice) (MapID, error) {
	if addr == 0 || addr%PageSize != 0 {
		return 0, ErrZeroAddr
	}
	size := file.Size()
	if size == 0 {
		return 0, ErrZeroLength
	}

	pageCount := int((size + PageSize - 1) / PageSize)
	for i := 0; i < pageCount; i++ {
		if _, ok := spt.Lookup(addr + uint64(i)*PageSize); ok {
			return 0, ErrOverlap
		}
	}

	entries := make([]*page.Entry, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		ofs := int64(i) * PageSize
		remaining := size - ofs
		validBytes := PageSize
		if remaining < PageSize {
			validBytes = int(remaining)
		}
		e := page.NewMmapEntry(owner, addr+uint64(i)*PageSize, file, ofs, validBytes, swapDev)
		spt.Insert(e)
		entries = append(entries, e)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	id := reg.next
	reg.next++
	reg.mapping[id] = &mapping{id: id, startAddr: addr, pageCount: pageCount, file: file, entries: entries}
	return id, nil
}

// Unmap writes back and releases every page of mapid's mapping, then
// forgets the mapping. It is also the cleanup path process exit must
// call for every still-active mapping before file handles close.
func Unmap(reg *Registry, spt *page.Table, table *frame.Table, mapid MapID) error {
	reg.mu.Lock()
	m, ok := reg.mapping[mapid]
	if ok {
		delete(reg.mapping, mapid)
	}
	reg.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	for _, e := range m.entries {
		e.Lock()
		resident := e.Resident()
		var f *frame.Frame
		var writeBackErr error
		if resident {
			f = e.Frame()
			dirty := e.Owner().IsDirty(e.UAddr())
			writeBackErr = e.WriteBack(dirty, f)
			e.Owner().Clear(e.UAddr())
		}
		e.Unlock()
		if writeBackErr != nil {
			return writeBackErr
		}
		// table.Free acquires the frame-table mutex; it must run after
		// e's page lock is released to keep the frame-table-mutex ->
		// supl-page-mutex acquire order consistent with Allocate's
		// eviction path and avoid an AB-BA deadlock against it.
		if resident {
			table.Free(f)
		}
		spt.Remove(e.UAddr())
	}
	return nil
}

// UnmapAll tears down every mapping still registered, for use on process
// exit before file handles close.
func UnmapAll(reg *Registry, spt *page.Table, table *frame.Table) error {
	reg.mu.Lock()
	ids := make([]MapID, 0, len(reg.mapping))
	for id := range reg.mapping {
		ids = append(ids, id)
	}
	reg.mu.Unlock()

	for _, id := range ids {
		if err := Unmap(reg, spt, table, id); err != nil {
			return err
		}
	}
	return nil
}
