package inode

import (
	"errors"

	"github.com/mlj-hub/pintosim/internal/blockdev"
)

// Read copies up to len(buf) bytes starting at offset into buf, stopping
// at end-of-file, and returns the number of bytes actually read. Reads
// that are aligned to a whole sector go straight into the caller's buffer
// through the cache; partial-sector reads stage through a bounce buffer,
// per spec.md §4.3.
func (in *Inode) Read(buf []byte, offset int64) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	read := 0
	for read < len(buf) {
		pos := offset + int64(read)
		sector, err := in.byteToSectorLocked(pos)
		if errors.Is(err, ErrInvalidSector) {
			break // past end of file
		}
		if err != nil {
			return read, err
		}

		sectorOfs := int(pos % blockdev.SectorSize)
		chunk := blockdev.SectorSize - sectorOfs
		remainingInFile := int(in.disk.Length - pos)
		if chunk > remainingInFile {
			chunk = remainingInFile
		}
		if chunk > len(buf)-read {
			chunk = len(buf) - read
		}
		if chunk <= 0 {
			break
		}

		if sectorOfs == 0 && chunk == blockdev.SectorSize {
			if err := in.mgr.cache.Read(sector, buf[read:read+chunk]); err != nil {
				return read, err
			}
		} else {
			bounce := make([]byte, blockdev.SectorSize)
			if err := in.mgr.cache.Read(sector, bounce); err != nil {
				return read, err
			}
			copy(buf[read:read+chunk], bounce[sectorOfs:sectorOfs+chunk])
		}

		read += chunk
	}

	return read, nil
}

// Write copies buf to offset, growing the file first if the write extends
// past the current length. It fails fast, writing nothing, if deny-write
// is in effect. Partial-sector writes stage through a bounce buffer so the
// untouched part of the sector is preserved, per spec.md §4.3.
func (in *Inode) Write(buf []byte, offset int64) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.denyWriteCount > 0 {
		return 0, nil
	}

	end := offset + int64(len(buf))
	if end > in.disk.Length {
		if err := in.extend(end); err != nil {
			// extend may have partially grown the file (spec.md §9); report
			// failure without attempting any write.
			return 0, err
		}
	}

	written := 0
	for written < len(buf) {
		pos := offset + int64(written)
		sector, err := in.ensureSector(uint32(pos / blockdev.SectorSize))
		if err != nil {
			return written, err
		}

		sectorOfs := int(pos % blockdev.SectorSize)
		chunk := blockdev.SectorSize - sectorOfs
		if chunk > len(buf)-written {
			chunk = len(buf) - written
		}

		if sectorOfs == 0 && chunk == blockdev.SectorSize {
			if err := in.mgr.cache.Write(sector, buf[written:written+chunk]); err != nil {
				return written, err
			}
		} else {
			bounce := make([]byte, blockdev.SectorSize)
			if err := in.mgr.cache.Read(sector, bounce); err != nil {
				return written, err
			}
			copy(bounce[sectorOfs:sectorOfs+chunk], buf[written:written+chunk])
			if err := in.mgr.cache.Write(sector, bounce); err != nil {
				return written, err
			}
		}

		written += chunk
	}

	return written, nil
}
