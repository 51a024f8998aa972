// Package syscalls implements the user-facing syscall surface from
// spec.md §6, grounded on
// _examples/original_source/src/userprog/syscall.c's syscall_handler and
// its halt/exit/exec/wait/create/remove/open/filesize/read/write/seek/
// tell/close/mmap/munmap handlers. The argument-validation/user-pointer
// boundary stays an external collaborator per spec.md §1's scope: a
// Process is handed a UserMemory implementation rather than reaching
// into a simulated address space itself.
package syscalls

import (
	"errors"
	"io"
	"sync"

	"github.com/mlj-hub/pintosim/internal/directory"
	"github.com/mlj-hub/pintosim/internal/inode"
	"github.com/mlj-hub/pintosim/internal/vm/frame"
	"github.com/mlj-hub/pintosim/internal/vm/mmap"
	"github.com/mlj-hub/pintosim/internal/vm/page"
)

// consoleInFD and consoleOutFD are the reserved file descriptors for
// console input/output, per spec.md §6.
const (
	consoleInFD  = 0
	consoleOutFD = 1
	firstUserFD  = 2
)

// UserMemory validates and moves data across the user/kernel boundary.
// check_ptr/check_str/vm_check_buffer in syscall.c fold this logic
// directly into the syscall handlers; here it is a named external
// collaborator so the syscall dispatch itself never pokes at simulated
// page tables.
type UserMemory interface {
	// ValidRange reports whether every byte of [addr, addr+length) is a
	// mapped, accessible user address.
	ValidRange(addr uint64, length int) bool
	// CopyIn reads length bytes starting at addr, failing if any byte is
	// outside a valid user range.
	CopyIn(addr uint64, length int) ([]byte, bool)
	// CopyOut writes data starting at addr, failing if any byte of the
	// destination range is not a valid, writable user address.
	CopyOut(addr uint64, data []byte) bool
	// ReadCString reads a NUL-terminated string starting at addr,
	// failing if any byte up to and including the terminator is
	// outside a valid user range. Grounded on check_str's byte-by-byte
	// walk.
	ReadCString(addr uint64) (string, bool)
}

// Console is the terminal backing fds 0 and 1, matching input_getc/
// putbuf in syscall.c.
type Console interface {
	GetC() byte
	PutBuf(data []byte)
}

// ProcessLauncher creates and waits on child processes. Real process
// creation (loading and scheduling an executable) is out of this
// package's scope, per spec.md §1; Exec/Wait simply delegate here.
type ProcessLauncher interface {
	Exec(cmdline string) (pid int, err error)
	Wait(pid int) (exitStatus int, err error)
}

// PowerController is the halt syscall's target, matching
// shutdown_power_off.
type PowerController interface {
	PowerOff()
}

// SectorAllocator hands out a free sector for a new inode's own on-disk
// structure; the boot-wired kernel backs this with the shared free-map,
// per spec.md §4.2.
type SectorAllocator interface {
	Allocate(n uint32) (uint32, error)
}

// openFile is one entry in a process's file descriptor table.
type openFile struct {
	in  *inode.Inode
	pos int64
}

// Process is the syscall-visible state of one user process: its open
// file table, current working directory, and the VM bookkeeping mmap
// and page faults need. fsLock is the single process-wide filesystem
// mutex named in spec.md §5, shared by every Process created against the
// same inode.Manager, matching syscall.c's filesys_lock being acquired
// once per syscall rather than once per inode operation.
type Process struct {
	mu sync.Mutex

	mgr    *inode.Manager
	fsLock *sync.Mutex
	cwd    *directory.Dir

	mem      UserMemory
	console  Console
	launcher ProcessLauncher
	power    PowerController

	spt     *page.Table
	frames  *frame.Table
	owner   frame.AddressSpace
	swapDev page.SwapDevice
	mmapReg *mmap.Registry
	sectors SectorAllocator

	nextFD int
	files  map[int]*openFile

	exited     bool
	exitStatus int
}

// NewProcess creates a process rooted at cwd (the filesystem root if
// nil), sharing fsLock with every other process opened against mgr.
func NewProcess(mgr *inode.Manager, fsLock *sync.Mutex, cwd *directory.Dir, mem UserMemory, console Console, launcher ProcessLauncher, power PowerController, spt *page.Table, frames *frame.Table, owner frame.AddressSpace, swapDev page.SwapDevice, sectors SectorAllocator) *Process {
	return &Process{
		mgr:      mgr,
		fsLock:   fsLock,
		cwd:      cwd,
		mem:      mem,
		console:  console,
		launcher: launcher,
		power:    power,
		spt:      spt,
		frames:   frames,
		owner:    owner,
		swapDev:  swapDev,
		mmapReg:  mmap.NewRegistry(),
		sectors:  sectors,
		nextFD:   firstUserFD,
		files:    make(map[int]*openFile),
	}
}

// Exited reports whether the process has terminated, via exit or a
// fatal invalid-pointer access.
func (p *Process) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// ExitStatus returns the process's exit status, observable by the
// parent's Wait exactly once, per spec.md §6.
func (p *Process) ExitStatus() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitStatus
}

func (p *Process) terminate(status int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.exited {
		p.exited = true
		p.exitStatus = status
	}
	return -1
}

// Halt shuts the whole kernel down immediately; it never returns.
func (p *Process) Halt() {
	p.power.PowerOff()
}

// Exit sets the process's exit status and marks it terminated. Open
// mmaps are unwound here rather than left for the caller, matching
// process_exit's responsibility for tearing down everything a process
// still holds.
func (p *Process) Exit(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exited = true
	p.exitStatus = status
	_ = mmap.UnmapAll(p.mmapReg, p.spt, p.frames)
	p.frames.FreeProcess(p.owner)
	for _, f := range p.files {
		f.in.Close()
	}
	p.files = make(map[int]*openFile)
}

// Exec starts cmdline as a new process and returns its pid, or -1 if the
// command-line pointer is invalid or launch fails.
func (p *Process) Exec(cmdlineAddr uint64) int {
	cmdline, ok := p.mem.ReadCString(cmdlineAddr)
	if !ok {
		return p.terminate(-1)
	}
	pid, err := p.launcher.Exec(cmdline)
	if err != nil {
		return -1
	}
	return pid
}

// Wait blocks until pid exits and returns its exit status, or -1 if pid
// is not a child of this process (or was already waited on).
func (p *Process) Wait(pid int) int {
	status, err := p.launcher.Wait(pid)
	if err != nil {
		return -1
	}
	return status
}

// Create makes a new, empty file named by the string at nameAddr.
func (p *Process) Create(nameAddr uint64, initialSize int) bool {
	name, ok := p.mem.ReadCString(nameAddr)
	if !ok {
		p.terminate(-1)
		return false
	}

	p.fsLock.Lock()
	defer p.fsLock.Unlock()

	dirPath, base := directory.PathSplit(name)
	parent, err := directory.Resolve(p.mgr, p.cwd, dirPathOrCwd(dirPath))
	if err != nil {
		return false
	}
	defer parent.Close()

	sector, err := p.allocateInodeSector()
	if err != nil {
		return false
	}
	if err := p.mgr.Create(sector, int64(initialSize), false); err != nil {
		return false
	}
	if err := directory.Add(p.mgr, parent, base, sector, false); err != nil {
		return false
	}
	return true
}

// Remove unlinks the file or empty directory named by the string at
// nameAddr.
func (p *Process) Remove(nameAddr uint64) bool {
	name, ok := p.mem.ReadCString(nameAddr)
	if !ok {
		p.terminate(-1)
		return false
	}

	p.fsLock.Lock()
	defer p.fsLock.Unlock()

	dirPath, base := directory.PathSplit(name)
	parent, err := directory.Resolve(p.mgr, p.cwd, dirPathOrCwd(dirPath))
	if err != nil {
		return false
	}
	defer parent.Close()

	return directory.Remove(p.mgr, parent, base) == nil
}

// Open opens the file named by the string at nameAddr and returns a
// fresh file descriptor, or -1 on failure.
func (p *Process) Open(nameAddr uint64) int {
	name, ok := p.mem.ReadCString(nameAddr)
	if !ok {
		return p.terminate(-1)
	}

	p.fsLock.Lock()
	in, err := p.resolveFile(name)
	p.fsLock.Unlock()
	if err != nil {
		return -1
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fd := p.nextFD
	p.nextFD++
	p.files[fd] = &openFile{in: in}
	return fd
}

func (p *Process) resolveFile(name string) (*inode.Inode, error) {
	dirPath, base := directory.PathSplit(name)
	parent, err := directory.Resolve(p.mgr, p.cwd, dirPathOrCwd(dirPath))
	if err != nil {
		return nil, err
	}
	defer parent.Close()
	sector, err := parent.Lookup(base)
	if err != nil {
		return nil, err
	}
	return p.mgr.Open(sector)
}

func (p *Process) fd(fd int) (*openFile, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.files[fd]
	return f, ok
}

// Filesize returns the current length of fd's file, or -1 for an
// unknown fd.
func (p *Process) Filesize(fd int) int {
	f, ok := p.fd(fd)
	if !ok {
		return -1
	}
	p.fsLock.Lock()
	defer p.fsLock.Unlock()
	return int(f.in.Length())
}

// Read reads up to length bytes from fd into the user buffer at
// bufAddr, returning the byte count, or -1 if the buffer is invalid.
func (p *Process) Read(fd int, bufAddr uint64, length int) int {
	if !p.mem.ValidRange(bufAddr, length) {
		return p.terminate(-1)
	}

	if fd == consoleInFD {
		buf := make([]byte, length)
		for i := range buf {
			buf[i] = p.console.GetC()
		}
		if !p.mem.CopyOut(bufAddr, buf) {
			return p.terminate(-1)
		}
		return length
	}

	f, ok := p.fd(fd)
	if !ok {
		return p.terminate(-1)
	}

	p.fsLock.Lock()
	buf := make([]byte, length)
	n, _ := f.in.Read(buf, f.pos)
	p.fsLock.Unlock()

	p.mu.Lock()
	f.pos += int64(n)
	p.mu.Unlock()

	if !p.mem.CopyOut(bufAddr, buf[:n]) {
		return p.terminate(-1)
	}
	return n
}

// Write writes length bytes from the user buffer at bufAddr to fd,
// returning the byte count actually written.
func (p *Process) Write(fd int, bufAddr uint64, length int) int {
	data, ok := p.mem.CopyIn(bufAddr, length)
	if !ok {
		return p.terminate(-1)
	}

	if fd == consoleOutFD {
		p.console.PutBuf(data)
		return length
	}

	f, ok := p.fd(fd)
	if !ok {
		return p.terminate(-1)
	}

	p.fsLock.Lock()
	n, _ := f.in.Write(data, f.pos)
	p.fsLock.Unlock()

	p.mu.Lock()
	f.pos += int64(n)
	p.mu.Unlock()
	return n
}

// Seek repositions fd's read/write cursor.
func (p *Process) Seek(fd int, position int64) {
	f, ok := p.fd(fd)
	if !ok {
		p.terminate(-1)
		return
	}
	p.mu.Lock()
	f.pos = position
	p.mu.Unlock()
}

// Tell returns fd's current read/write cursor.
func (p *Process) Tell(fd int) int64 {
	f, ok := p.fd(fd)
	if !ok {
		p.terminate(-1)
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return f.pos
}

// Close releases fd.
func (p *Process) Close(fd int) {
	p.mu.Lock()
	f, ok := p.files[fd]
	if ok {
		delete(p.files, fd)
	}
	p.mu.Unlock()
	if !ok {
		p.terminate(-1)
		return
	}
	p.fsLock.Lock()
	f.in.Close()
	p.fsLock.Unlock()
}

// inodeFile adapts an open inode to mmap.File: ReadAt/WriteAt go
// straight through inode.Read/Write, and since a supplemental-page
// entry's file_size is always computed to stay within the inode's
// length, a short read only ever happens exactly at the requested
// boundary, never spuriously mid-page.
type inodeFile struct {
	in *inode.Inode
}

func (f *inodeFile) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.in.Read(p, off)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *inodeFile) WriteAt(p []byte, off int64) (int, error) {
	return f.in.Write(p, off)
}

func (f *inodeFile) Size() int64 { return f.in.Length() }

// Mmap maps fd's file into the process's address space starting at
// addr, returning a mapid, or -1 on failure per mmap's own return
// convention in syscall.c (distinct from the exit(-1)-on-bad-pointer
// convention everything else uses).
func (p *Process) Mmap(fd int, addr uint64) int {
	if fd == consoleInFD || fd == consoleOutFD {
		return -1
	}
	f, ok := p.fd(fd)
	if !ok {
		return -1
	}

	p.fsLock.Lock()
	reopened, err := p.mgr.Open(f.in.Sector())
	p.fsLock.Unlock()
	if err != nil {
		return -1
	}

	id, err := mmap.Map(p.mmapReg, p.spt, p.owner, addr, &inodeFile{in: reopened}, p.swapDev)
	if err != nil {
		reopened.Close()
		return -1
	}
	return int(id)
}

// Munmap writes back and releases the mapping identified by mapid.
func (p *Process) Munmap(mapid int) {
	if err := mmap.Unmap(p.mmapReg, p.spt, p.frames, mmap.MapID(mapid)); err != nil && !errors.Is(err, mmap.ErrNotFound) {
		p.terminate(-1)
	}
}

func dirPathOrCwd(dirPath string) string {
	if dirPath == "" {
		return "."
	}
	return dirPath
}

func (p *Process) allocateInodeSector() (uint32, error) {
	return p.sectors.Allocate(1)
}
