package page

import (
	"errors"
	"sync"

	"github.com/mlj-hub/pintosim/internal/vm/frame"
)

// ErrKernelAddress is returned by HandleFault for a fault on a
// non-user address, which spec.md §4.7 says must terminate the process.
var ErrKernelAddress = errors.New("page: fault on kernel or null address")

// ErrSegfault is returned by HandleFault when the faulting address has no
// supplemental-page entry and does not qualify as stack growth.
var ErrSegfault = errors.New("page: unmapped access, not a stack access")

// PhysBase is the user/kernel address split, matching Pintos' PHYS_BASE.
const PhysBase = uint64(1) << 32

// Table is one thread's supplemental page table: a uaddr-keyed set of
// entries, page-aligned.
type Table struct {
	mu      sync.Mutex
	entries map[uint64]*Entry
}

// NewTable creates an empty supplemental page table.
func NewTable() *Table {
	return &Table{entries: make(map[uint64]*Entry)}
}

func alignDown(addr uint64) uint64 {
	return addr &^ (frame.PageSize - 1)
}

// Lookup finds the entry covering uaddr's containing page, if any.
func (t *Table) Lookup(uaddr uint64) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[alignDown(uaddr)]
	return e, ok
}

// Insert records e at its own UAddr, which must already be page-aligned.
func (t *Table) Insert(e *Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[e.UAddr()] = e
}

// Remove deletes the entry for uaddr's page, if any.
func (t *Table) Remove(uaddr uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, alignDown(uaddr))
}

// HandleFault implements spec.md §4.7's page-fault dispatch: load an
// existing entry, grow the stack for a plausible stack access, or report
// that the process must be terminated.
func HandleFault(table *frame.Table, spt *Table, owner frame.AddressSpace, faultAddr, userEsp uint64, now int64, swapDev SwapDevice) error {
	if faultAddr == 0 || faultAddr >= PhysBase {
		return ErrKernelAddress
	}

	uaddr := alignDown(faultAddr)
	if e, ok := spt.Lookup(uaddr); ok {
		_, err := Load(table, e, now)
		return err
	}

	if faultAddr+EsafetyMargin >= userEsp && faultAddr+StackLimit >= PhysBase {
		e := NewSwapEntry(owner, uaddr, swapDev)
		e.Lock()
		defer e.Unlock()
		spt.Insert(e)
		f, err := table.Allocate(owner, uaddr, e)
		if err != nil {
			spt.Remove(uaddr)
			return err
		}
		for i := range f.Data {
			f.Data[i] = 0
		}
		e.BindFrame(f, now)
		return nil
	}

	return ErrSegfault
}
