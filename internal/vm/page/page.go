// Package page implements the supplemental page table and page-fault
// handler from spec.md §4.7, grounded on
// _examples/original_source/src/vm/page.c's load_page/grow_stack, with
// the write-back-on-evict and stack-growth heuristics made precise per
// the specification rather than left as the original's TODOs.
package page

import (
	"errors"
	"io"
	"sync"

	"github.com/mlj-hub/pintosim/internal/vm/frame"
)

// Type identifies where a non-resident page's content lives.
type Type int

const (
	Executable Type = iota
	Mmap
	Swap
)

// StackLimit bounds how far below PHYS_BASE the stack is allowed to grow,
// matching Pintos' conventional 8 MiB stack-growth ceiling.
const StackLimit = 8 * 1024 * 1024

// EsafetyMargin is the maximum distance below the user stack pointer a
// faulting address may still be considered a PUSHA-style stack access.
const EsafetyMargin = 32

// SwapDevice is the subset of internal/vm/swap.Device a page entry needs;
// internal/vm/swap.Device satisfies it without adaptation.
type SwapDevice interface {
	Write(page []byte) (int, error)
	Read(idx int, page []byte) error
}

// FileBacking is an open, independently-seeked file handle: Pintos
// reopens the file so each mapping/segment gets its own offset.
type FileBacking interface {
	io.ReaderAt
	io.WriterAt
}

// Entry is one supplemental-page-table entry: the full disposition of a
// single user page, resident or not.
type Entry struct {
	mu sync.Mutex

	typ      Type
	owner    frame.AddressSpace
	uaddr    uint64
	writable bool
	resident bool

	kaddr *frame.Frame

	file     FileBacking
	fileOfs  int64
	fileSize int // valid bytes within the page; remainder is zero-filled

	swapDev  SwapDevice
	swapSlot int

	lastAccessTime int64
}

// NewExecutableEntry creates a non-resident entry backed by a segment of
// an ELF/executable file. swapDev is still required: a writable
// executable page (e.g. the data segment) can be dirtied and evicted to
// swap just like any other page.
func NewExecutableEntry(owner frame.AddressSpace, uaddr uint64, file FileBacking, ofs int64, size int, writable bool, swapDev SwapDevice) *Entry {
	return &Entry{typ: Executable, owner: owner, uaddr: uaddr, file: file, fileOfs: ofs, fileSize: size, writable: writable, swapDev: swapDev}
}

// NewMmapEntry creates a non-resident entry backed by a memory-mapped
// file region.
func NewMmapEntry(owner frame.AddressSpace, uaddr uint64, file FileBacking, ofs int64, size int, swapDev SwapDevice) *Entry {
	return &Entry{typ: Mmap, owner: owner, uaddr: uaddr, file: file, fileOfs: ofs, fileSize: size, writable: true, swapDev: swapDev}
}

// NewSwapEntry creates a Swap-typed entry with no backing content yet
// (used by stack growth): it is not resident until the caller allocates
// a frame for it and binds that frame with BindFrame.
func NewSwapEntry(owner frame.AddressSpace, uaddr uint64, swapDev SwapDevice) *Entry {
	return &Entry{typ: Swap, owner: owner, uaddr: uaddr, writable: true, swapDev: swapDev}
}

// BindFrame marks e resident in f, for callers (stack growth) that
// allocate the frame themselves rather than going through Load.
func (e *Entry) BindFrame(f *frame.Frame, now int64) {
	e.resident = true
	e.kaddr = f
	e.lastAccessTime = now
}

// SetSwapSlot records which swap slot backs a non-resident Swap entry.
func (e *Entry) SetSwapSlot(slot int) {
	e.swapSlot = slot
}

func (e *Entry) Owner() frame.AddressSpace { return e.owner }
func (e *Entry) UAddr() uint64             { return e.uaddr }
func (e *Entry) Lock()                     { e.mu.Lock() }
func (e *Entry) Unlock()                   { e.mu.Unlock() }
func (e *Entry) LastAccessTime() int64     { return e.lastAccessTime }
func (e *Entry) Resident() bool            { return e.resident }
func (e *Entry) Writable() bool            { return e.writable }
func (e *Entry) Type() Type                { return e.typ }
func (e *Entry) Frame() *frame.Frame       { return e.kaddr }

// ErrUnknownType guards against a corrupted or impossible entry type.
var ErrUnknownType = errors.New("page: unknown supplemental page type")

// WriteBack satisfies frame.Evictable: it is called with this entry's own
// mutex held (and, on frame.Table.Allocate's eviction path, the
// frame-table mutex too), so it must not reacquire either. Per spec.md
// §4.6 step 2: a dirty Mmap page is written back to
// its file; any other dirty page goes to a fresh swap slot and the entry
// becomes Swap-typed; a clean page needs no write-back at all.
func (e *Entry) WriteBack(dirty bool, data *frame.Frame) error {
	if dirty {
		switch e.typ {
		case Mmap:
			if _, err := e.file.WriteAt(data.Data[:e.fileSize], e.fileOfs); err != nil {
				return err
			}
		default:
			slot, err := e.swapDev.Write(data.Data[:])
			if err != nil {
				return err
			}
			e.typ = Swap
			e.swapSlot = slot
		}
	}
	e.resident = false
	e.kaddr = nil
	return nil
}

// Load brings e into memory: it allocates a frame (possibly evicting),
// populates it per e.typ, and marks the entry resident. It does not map
// the page into the owning address space. now is the caller's notion of the current
// tick, used for LastAccessTime bookkeeping.
func Load(table *frame.Table, e *Entry, now int64) (*frame.Frame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := table.Allocate(e.owner, e.uaddr, e)
	if err != nil {
		return nil, err
	}

	switch e.typ {
	case Executable, Mmap:
		n, err := e.file.ReadAt(f.Data[:e.fileSize], e.fileOfs)
		if err != nil && err != io.EOF {
			return nil, err
		}
		for i := n; i < frame.PageSize; i++ {
			f.Data[i] = 0
		}
	case Swap:
		if err := e.swapDev.Read(e.swapSlot, f.Data[:]); err != nil {
			return nil, err
		}
	default:
		return nil, ErrUnknownType
	}

	e.resident = true
	e.kaddr = f
	e.lastAccessTime = now
	return f, nil
}
