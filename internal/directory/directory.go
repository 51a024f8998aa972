// Package directory implements hierarchical directories on top of
// internal/inode: a directory's body is a flat sequence of fixed-size
// entry records, the same layout _examples/original_source/src/filesys
// /directory.c uses, generalized from a single flat root directory to an
// arbitrary tree with "." and ".." entries and path resolution.
package directory

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"

	"github.com/mlj-hub/pintosim/internal/inode"
)

// NameMax bounds a single path component, mirroring Pintos' NAME_MAX.
const NameMax = 14

// entrySize is the on-disk size of one directory slot: a sector number, a
// fixed-width null-terminated name, and an in-use flag.
const entrySize = 4 + (NameMax + 1) + 1

// RootSector is the well-known sector holding the filesystem root
// directory's inode, matching Pintos' ROOT_DIR_SECTOR.
const RootSector = 1

var (
	// ErrNotFound is returned by Lookup/Remove when no entry matches.
	ErrNotFound = errors.New("directory: no such entry")
	// ErrExists is returned by Add when name is already in use.
	ErrExists = errors.New("directory: entry already exists")
	// ErrInvalidName is returned by Add for empty or over-long names.
	ErrInvalidName = errors.New("directory: invalid name")
	// ErrNotEmpty is returned by Remove when name names a non-empty directory.
	ErrNotEmpty = errors.New("directory: directory not empty")
	// ErrRemoved is returned when an operation targets a directory that has
	// been unlinked from the tree.
	ErrRemoved = errors.New("directory: directory has been removed")
)

type entry struct {
	sector uint32
	name   [NameMax + 1]byte
	inUse  bool
}

func (e *entry) nameString() string {
	n := bytes.IndexByte(e.name[:], 0)
	if n < 0 {
		n = len(e.name)
	}
	return string(e.name[:n])
}

func (e *entry) setName(name string) {
	var buf [NameMax + 1]byte
	copy(buf[:], name)
	e.name = buf
}

func marshalEntry(e entry) []byte {
	buf := make([]byte, entrySize)
	binary.LittleEndian.PutUint32(buf[0:4], e.sector)
	copy(buf[4:4+NameMax+1], e.name[:])
	if e.inUse {
		buf[entrySize-1] = 1
	}
	return buf
}

func unmarshalEntry(buf []byte) entry {
	var e entry
	e.sector = binary.LittleEndian.Uint32(buf[0:4])
	copy(e.name[:], buf[4:4+NameMax+1])
	e.inUse = buf[entrySize-1] != 0
	return e
}

// Dir is an open directory: an inode plus a readdir cursor.
type Dir struct {
	mgr   *inode.Manager
	inode *inode.Inode
	pos   int64
}

// Create pre-sizes a new directory inode to hold entryCount slots.
func Create(mgr *inode.Manager, sector uint32, entryCount int) error {
	return mgr.Create(sector, int64(entryCount)*entrySize, true)
}

// Open opens the directory backed by the inode at sector. The readdir
// cursor starts at the first slot; Readdir itself hides "." and "..".
func Open(mgr *inode.Manager, sector uint32) (*Dir, error) {
	in, err := mgr.Open(sector)
	if err != nil {
		return nil, err
	}
	return &Dir{mgr: mgr, inode: in}, nil
}

// OpenRoot opens the filesystem root directory.
func OpenRoot(mgr *inode.Manager) (*Dir, error) {
	return Open(mgr, RootSector)
}

// Close releases the directory's backing inode.
func (d *Dir) Close() error {
	return d.inode.Close()
}

// Sector returns the backing inode's sector.
func (d *Dir) Sector() uint32 {
	return d.inode.Sector()
}

// Removed reports whether this directory has been unlinked.
func (d *Dir) Removed() bool {
	return d.inode.Removed()
}

// Remove marks the directory's backing inode for deletion once its last
// open handle closes.
func (d *Dir) Remove() {
	d.inode.Remove()
}

func (d *Dir) readEntryAt(ofs int64) (entry, bool) {
	buf := make([]byte, entrySize)
	n, err := d.inode.Read(buf, ofs)
	if err != nil || n != entrySize {
		return entry{}, false
	}
	return unmarshalEntry(buf), true
}

func (d *Dir) lookup(name string) (entry, int64, bool) {
	for ofs := int64(0); ; ofs += entrySize {
		e, ok := d.readEntryAt(ofs)
		if !ok {
			return entry{}, 0, false
		}
		if e.inUse && e.nameString() == name {
			return e, ofs, true
		}
	}
}

// Lookup finds name in d and returns the sector of its inode.
func (d *Dir) Lookup(name string) (uint32, error) {
	e, _, ok := d.lookup(name)
	if !ok {
		return 0, ErrNotFound
	}
	return e.sector, nil
}

func (d *Dir) writeSelfAndParent(parentSector uint32) error {
	self := entry{sector: d.inode.Sector(), inUse: true}
	self.setName(".")
	if _, err := d.inode.Write(marshalEntry(self), 0); err != nil {
		return err
	}
	parent := entry{sector: parentSector, inUse: true}
	parent.setName("..")
	if _, err := d.inode.Write(marshalEntry(parent), entrySize); err != nil {
		return err
	}
	return nil
}

// Add inserts a new entry named name pointing at childSector into d. If
// isDir, the child directory's "." and ".." entries are written first
// (self-pointing and parent-pointing respectively), matching
// dir_add_parent_and_self.
func Add(mgr *inode.Manager, d *Dir, name string, childSector uint32, isDir bool) error {
	if name == "" || len(name) > NameMax {
		return ErrInvalidName
	}
	if _, _, ok := d.lookup(name); ok {
		return ErrExists
	}

	if isDir {
		child, err := Open(mgr, childSector)
		if err != nil {
			return err
		}
		err = child.writeSelfAndParent(d.inode.Sector())
		closeErr := child.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return closeErr
		}
	}

	ofs := int64(0)
	for {
		e, ok := d.readEntryAt(ofs)
		if !ok || !e.inUse {
			break
		}
		ofs += entrySize
	}

	newEntry := entry{sector: childSector, inUse: true}
	newEntry.setName(name)
	n, err := d.inode.Write(marshalEntry(newEntry), ofs)
	if err != nil {
		return err
	}
	if n != entrySize {
		return ErrInvalidName
	}
	return nil
}

// IsEmpty reports whether d contains only "." and ".." entries.
func (d *Dir) IsEmpty() bool {
	for ofs := int64(0); ; ofs += entrySize {
		e, ok := d.readEntryAt(ofs)
		if !ok {
			return true
		}
		if !e.inUse {
			continue
		}
		n := e.nameString()
		if n == "." || n == ".." {
			continue
		}
		return false
	}
}

// Remove deletes name from d, failing if it names a non-empty directory,
// and marks the target inode removed via Inode.Remove, so its storage is
// reclaimed when its last open handle closes.
func Remove(mgr *inode.Manager, d *Dir, name string) error {
	e, ofs, ok := d.lookup(name)
	if !ok {
		return ErrNotFound
	}

	target, err := mgr.Open(e.sector)
	if err != nil {
		return err
	}
	defer target.Close()

	if target.IsDir() {
		sub, err := Open(mgr, e.sector)
		if err != nil {
			return err
		}
		empty := sub.IsEmpty()
		if err := sub.Close(); err != nil {
			return err
		}
		if !empty {
			return ErrNotEmpty
		}
	}

	e.inUse = false
	if _, err := d.inode.Write(marshalEntry(e), ofs); err != nil {
		return err
	}
	target.Remove()
	return nil
}

// Readdir returns the next non-free, non-"."/".." entry name, or ok=false
// once the directory is exhausted.
func (d *Dir) Readdir() (name string, ok bool) {
	for {
		e, present := d.readEntryAt(d.pos)
		if !present {
			return "", false
		}
		d.pos += entrySize
		if !e.inUse {
			continue
		}
		if n := e.nameString(); n == "." || n == ".." {
			continue
		}
		return e.nameString(), true
	}
}

// PathSplit separates the directory-prefix and final basename of path,
// mirroring path_split: "a/b/c" -> ("a/b", "c"); "c" -> ("", "c");
// "/c" -> ("/", "c").
func PathSplit(path string) (dir string, base string) {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "", path
	}
	dir = path[:idx]
	if dir == "" {
		dir = "/"
	}
	return dir, path[idx+1:]
}

// Resolve walks path component by component starting from root (absolute
// paths) or cwd (relative paths, root if cwd is nil), closing each
// intermediate directory as it descends. It fails if any component does
// not exist or if the final directory has been removed.
func Resolve(mgr *inode.Manager, cwd *Dir, path string) (*Dir, error) {
	var cur *Dir
	var err error
	if strings.HasPrefix(path, "/") {
		cur, err = OpenRoot(mgr)
	} else if cwd != nil {
		cur, err = Open(mgr, cwd.Sector())
	} else {
		cur, err = OpenRoot(mgr)
	}
	if err != nil {
		return nil, err
	}

	for _, comp := range strings.Split(path, "/") {
		if comp == "" {
			continue
		}
		sector, err := cur.Lookup(comp)
		if err != nil {
			cur.Close()
			return nil, err
		}
		next, err := Open(mgr, sector)
		if err != nil {
			cur.Close()
			return nil, err
		}
		if err := cur.Close(); err != nil {
			next.Close()
			return nil, err
		}
		cur = next
	}

	if cur.Removed() {
		cur.Close()
		return nil, ErrRemoved
	}
	return cur, nil
}
