package inode

import (
	"encoding/binary"

	"github.com/mlj-hub/pintosim/internal/blockdev"
)

// Magic identifies a valid on-disk inode sector, per spec.md §6.
const Magic uint32 = 0x494E4F44

// PointersPerSector is the number of 4-byte sector pointers that fit in one
// sector: 512/4.
const PointersPerSector = blockdev.SectorSize / 4

// DirectBlockNumber is chosen so the on-disk inode struct occupies exactly
// one 512-byte sector: 4 (length) + 4 (magic) + 4 (is_dir) + 4*N (direct) +
// 4 (indirect) + 4 (double_indirect) == 512  =>  N == 123.
const DirectBlockNumber = 123

// MaxFileSectors is the largest number of data sectors a single inode can
// index: direct + single-indirect + double-indirect.
const MaxFileSectors = DirectBlockNumber + PointersPerSector + PointersPerSector*PointersPerSector

// onDiskInode is the fixed-layout structure persisted in an inode's own
// sector, matching spec.md §6 byte-for-byte.
type onDiskInode struct {
	Length         int64 // logical file length in bytes; stored as uint32 on disk
	IsDir          bool
	Direct         [DirectBlockNumber]uint32
	Indirect       uint32
	DoubleIndirect uint32
}

// marshal encodes the inode into exactly blockdev.SectorSize bytes.
func (d *onDiskInode) marshal() [blockdev.SectorSize]byte {
	var buf [blockdev.SectorSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(d.Length))
	binary.LittleEndian.PutUint32(buf[4:8], Magic)
	isDir := uint32(0)
	if d.IsDir {
		isDir = 1
	}
	binary.LittleEndian.PutUint32(buf[8:12], isDir)

	off := 12
	for _, p := range d.Direct {
		binary.LittleEndian.PutUint32(buf[off:off+4], p)
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], d.Indirect)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], d.DoubleIndirect)

	return buf
}

// unmarshalOnDiskInode decodes a sector previously written by marshal. It
// returns ok=false if the magic number does not match (spec.md §7 "Fatal:
// magic mismatch" is the caller's concern, not this helper's).
func unmarshalOnDiskInode(buf []byte) (d onDiskInode, ok bool) {
	if len(buf) != blockdev.SectorSize {
		return onDiskInode{}, false
	}
	if binary.LittleEndian.Uint32(buf[4:8]) != Magic {
		return onDiskInode{}, false
	}

	d.Length = int64(binary.LittleEndian.Uint32(buf[0:4]))
	d.IsDir = binary.LittleEndian.Uint32(buf[8:12]) != 0

	off := 12
	for i := range d.Direct {
		d.Direct[i] = binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
	}
	d.Indirect = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	d.DoubleIndirect = binary.LittleEndian.Uint32(buf[off : off+4])

	return d, true
}

// readPointerSector decodes a sector of PointersPerSector little-endian u32
// sector pointers (used for both indirect and double-indirect blocks).
func readPointerSector(buf []byte) [PointersPerSector]uint32 {
	var ptrs [PointersPerSector]uint32
	for i := range ptrs {
		ptrs[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
	}
	return ptrs
}

func writePointerSector(ptrs [PointersPerSector]uint32) [blockdev.SectorSize]byte {
	var buf [blockdev.SectorSize]byte
	for i, p := range ptrs {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], p)
	}
	return buf
}

// bytesToSectors returns the number of sectors needed to hold size bytes.
func bytesToSectors(size int64) uint32 {
	return uint32((size + blockdev.SectorSize - 1) / blockdev.SectorSize)
}

// sectorPartition splits a total data-sector count into the portion served
// by direct pointers, by the single-indirect block, and by the
// double-indirect block, in allocation order. This is the precise
// accounting spec.md §9 asks an implementer to settle on, used by inode
// removal (deallocate) to know exactly how many entries/pointer-blocks to
// free; extend allocates sector by sector through ensureSector instead.
func sectorPartition(total uint32) (direct, indirect, double uint32) {
	direct = total
	if direct > DirectBlockNumber {
		direct = DirectBlockNumber
	}
	remaining := total - direct

	indirect = remaining
	if indirect > PointersPerSector {
		indirect = PointersPerSector
	}
	remaining -= indirect

	double = remaining
	return
}
