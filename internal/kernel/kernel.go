// Package kernel wires every subsystem spec.md names into one bootable
// unit: the two block devices, buffer cache, free-map, inode manager,
// frame table, swap device, and scheduler, built from a cfg.Config the
// way gcsfuse's mountWithArgs/mountWithConn wire a bucket handle, file
// system server, and FUSE mount into one running process.
package kernel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mlj-hub/pintosim/cfg"
	"github.com/mlj-hub/pintosim/internal/blockdev"
	"github.com/mlj-hub/pintosim/internal/bufcache"
	"github.com/mlj-hub/pintosim/internal/directory"
	"github.com/mlj-hub/pintosim/internal/freemap"
	"github.com/mlj-hub/pintosim/internal/inode"
	"github.com/mlj-hub/pintosim/internal/invariant"
	"github.com/mlj-hub/pintosim/internal/logger"
	"github.com/mlj-hub/pintosim/internal/scheduler"
	"github.com/mlj-hub/pintosim/internal/vm/frame"
	"github.com/mlj-hub/pintosim/internal/vm/swap"
)

// framesCapacity is the simulated physical memory pool size, in frames.
// Pintos itself sizes this from the host's actual RAM at boot; a fixed
// pool size is the natural analogue for a simulator with no real
// physical memory to query.
const framesCapacity = 256

// Kernel holds every booted subsystem and its lifecycle.
type Kernel struct {
	cfg cfg.Config

	// SessionID is a purely diagnostic boot identifier, logged once and
	// otherwise unused -- never a substitute for the integer thread,
	// frame, or supplemental-page identifiers the rest of the kernel
	// uses.
	SessionID string

	fsDevice   blockdev.Device
	swapDevice blockdev.Device

	Cache   *bufcache.Cache
	FreeMap *freemap.FreeMap
	Inodes  *inode.Manager
	Swap    *swap.Device
	Frames  *frame.Table
	Sched   *scheduler.Scheduler

	flushCancel context.CancelFunc
}

func sectorsFor(megabytes int) uint32 {
	return uint32(megabytes) * 1024 * 1024 / blockdev.SectorSize
}

// Boot opens both disk images, wires the buffer cache, free-map, inode
// manager, swap device, frame table and scheduler on top of them, and
// starts the buffer cache's periodic background flush. If c.Disk.Format
// is set, the filesystem disk is treated as empty: a fresh free-map and
// root directory are written before anything else touches it.
func Boot(c cfg.Config) (*Kernel, error) {
	invariant.ExitOnViolation = c.Debug.ExitOnInvariantViolation
	logger.SetLogFormat(c.Logging.Format)
	if err := logger.InitLogFile(c.Logging); err != nil {
		return nil, fmt.Errorf("kernel: initializing logging: %w", err)
	}

	fsSectors := sectorsFor(c.Disk.FilesystemMB)
	fsDevice, err := blockdev.OpenFile(c.Disk.FilesystemImage, fsSectors)
	if err != nil {
		return nil, fmt.Errorf("kernel: opening filesystem disk: %w", err)
	}

	swapSectors := sectorsFor(c.Disk.SwapMB)
	swapDevice, err := blockdev.OpenFile(c.Disk.SwapImage, swapSectors)
	if err != nil {
		fsDevice.Close()
		return nil, fmt.Errorf("kernel: opening swap disk: %w", err)
	}

	cache := bufcache.New(fsDevice)

	var freeMap *freemap.FreeMap
	if c.Disk.Format {
		freeMap = freemap.New(cache, fsSectors)
		freeMap.MarkUsed(directory.RootSector)
	} else {
		freeMap, err = freemap.Load(cache, fsSectors)
		if err != nil {
			fsDevice.Close()
			swapDevice.Close()
			return nil, fmt.Errorf("kernel: loading free-map: %w", err)
		}
	}

	inodes := inode.NewManager(cache, freeMap)

	if c.Disk.Format {
		if err := directory.Create(inodes, directory.RootSector, 16); err != nil {
			fsDevice.Close()
			swapDevice.Close()
			return nil, fmt.Errorf("kernel: creating root directory: %w", err)
		}
	}

	swapDev := swap.New(swapDevice)

	k := &Kernel{
		cfg:        c,
		SessionID:  uuid.NewString(),
		fsDevice:   fsDevice,
		swapDevice: swapDevice,
		Cache:      cache,
		FreeMap:    freeMap,
		Inodes:     inodes,
		Swap:       swapDev,
		Frames:     frame.NewTable(framesCapacity),
		Sched:      scheduler.New(c.Scheduler.MLFQS),
	}

	flushCtx, cancel := context.WithCancel(context.Background())
	k.flushCancel = cancel
	interval := time.Duration(c.Cache.FlushIntervalMS) * time.Millisecond
	if interval > 0 {
		cache.StartPeriodicFlush(flushCtx, interval)
	}

	logger.Infof("kernel: booted session=%s (mlfqs=%v, filesystem=%s, swap=%s)", k.SessionID, c.Scheduler.MLFQS, c.Disk.FilesystemImage, c.Disk.SwapImage)
	return k, nil
}

// Shutdown stops the background flush, writes back every dirty buffer
// cache line, persists the free-map, and closes both disk images, per
// spec.md §9's "init-at-boot and flush-at-shutdown lifecycle".
func (k *Kernel) Shutdown() error {
	k.flushCancel()

	// The free-map is written through the buffer cache, so it goes first
	// and the cache flush below carries it to disk.
	if err := k.FreeMap.Flush(); err != nil {
		return fmt.Errorf("kernel: flushing free-map: %w", err)
	}
	if err := k.Cache.FlushAll(context.Background()); err != nil {
		return fmt.Errorf("kernel: flushing buffer cache: %w", err)
	}
	if err := k.swapDevice.Close(); err != nil {
		return fmt.Errorf("kernel: closing swap disk: %w", err)
	}
	if err := k.fsDevice.Close(); err != nil {
		return fmt.Errorf("kernel: closing filesystem disk: %w", err)
	}
	logger.Infof("kernel: shutdown complete")
	return nil
}
