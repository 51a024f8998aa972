package directory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlj-hub/pintosim/internal/blockdev"
	"github.com/mlj-hub/pintosim/internal/bufcache"
	"github.com/mlj-hub/pintosim/internal/directory"
	"github.com/mlj-hub/pintosim/internal/freemap"
	"github.com/mlj-hub/pintosim/internal/inode"
)

func newManager(t *testing.T, totalSectors uint32) *inode.Manager {
	t.Helper()
	dev := blockdev.NewMemDevice(totalSectors)
	cache := bufcache.New(dev)
	fm := freemap.New(cache, totalSectors)
	return inode.NewManager(cache, fm)
}

func TestAddLookupAndReaddir(t *testing.T) {
	mgr := newManager(t, 4096)
	require.NoError(t, directory.Create(mgr, directory.RootSector, 16))
	root, err := directory.OpenRoot(mgr)
	require.NoError(t, err)
	defer root.Close()

	require.NoError(t, mgr.Create(10, 0, false))
	require.NoError(t, directory.Add(mgr, root, "file.txt", 10, false))

	sector, err := root.Lookup("file.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 10, sector)

	names := []string{}
	for {
		name, ok := root.Readdir()
		if !ok {
			break
		}
		names = append(names, name)
	}
	assert.Equal(t, []string{"file.txt"}, names)
}

func TestAddRejectsDuplicateAndInvalidNames(t *testing.T) {
	mgr := newManager(t, 4096)
	require.NoError(t, directory.Create(mgr, directory.RootSector, 16))
	root, err := directory.OpenRoot(mgr)
	require.NoError(t, err)
	defer root.Close()

	require.NoError(t, mgr.Create(10, 0, false))
	require.NoError(t, directory.Add(mgr, root, "a", 10, false))

	require.NoError(t, mgr.Create(11, 0, false))
	assert.ErrorIs(t, directory.Add(mgr, root, "a", 11, false), directory.ErrExists)
	assert.ErrorIs(t, directory.Add(mgr, root, "", 11, false), directory.ErrInvalidName)
}

func TestSubdirectoryGetsSelfAndParentEntries(t *testing.T) {
	mgr := newManager(t, 4096)
	require.NoError(t, directory.Create(mgr, directory.RootSector, 16))
	root, err := directory.OpenRoot(mgr)
	require.NoError(t, err)
	defer root.Close()

	require.NoError(t, directory.Create(mgr, 20, 16))
	require.NoError(t, directory.Add(mgr, root, "sub", 20, true))

	sub, err := directory.Open(mgr, 20)
	require.NoError(t, err)
	defer sub.Close()

	selfSector, err := sub.Lookup(".")
	require.NoError(t, err)
	assert.EqualValues(t, 20, selfSector)

	parentSector, err := sub.Lookup("..")
	require.NoError(t, err)
	assert.EqualValues(t, directory.RootSector, parentSector)

	assert.True(t, sub.IsEmpty())
}

func TestRemoveFailsOnNonEmptyDirectory(t *testing.T) {
	mgr := newManager(t, 4096)
	require.NoError(t, directory.Create(mgr, directory.RootSector, 16))
	root, err := directory.OpenRoot(mgr)
	require.NoError(t, err)
	defer root.Close()

	require.NoError(t, directory.Create(mgr, 20, 16))
	require.NoError(t, directory.Add(mgr, root, "sub", 20, true))

	sub, err := directory.Open(mgr, 20)
	require.NoError(t, err)
	require.NoError(t, mgr.Create(30, 0, false))
	require.NoError(t, directory.Add(mgr, sub, "leaf", 30, false))
	require.NoError(t, sub.Close())

	assert.ErrorIs(t, directory.Remove(mgr, root, "sub"), directory.ErrNotEmpty)
}

func TestRemoveReclaimsEmptyDirectory(t *testing.T) {
	mgr := newManager(t, 4096)
	require.NoError(t, directory.Create(mgr, directory.RootSector, 16))
	root, err := directory.OpenRoot(mgr)
	require.NoError(t, err)
	defer root.Close()

	require.NoError(t, directory.Create(mgr, 20, 16))
	require.NoError(t, directory.Add(mgr, root, "sub", 20, true))

	require.NoError(t, directory.Remove(mgr, root, "sub"))
	_, err = root.Lookup("sub")
	assert.ErrorIs(t, err, directory.ErrNotFound)
}

func TestPathSplit(t *testing.T) {
	dir, base := directory.PathSplit("a/b/c")
	assert.Equal(t, "a/b", dir)
	assert.Equal(t, "c", base)

	dir, base = directory.PathSplit("c")
	assert.Equal(t, "", dir)
	assert.Equal(t, "c", base)

	dir, base = directory.PathSplit("/c")
	assert.Equal(t, "/", dir)
	assert.Equal(t, "c", base)
}

func TestResolveAbsoluteAndRelative(t *testing.T) {
	mgr := newManager(t, 4096)
	require.NoError(t, directory.Create(mgr, directory.RootSector, 16))
	root, err := directory.OpenRoot(mgr)
	require.NoError(t, err)
	defer root.Close()

	require.NoError(t, directory.Create(mgr, 20, 16))
	require.NoError(t, directory.Add(mgr, root, "sub", 20, true))

	got, err := directory.Resolve(mgr, nil, "/sub")
	require.NoError(t, err)
	assert.EqualValues(t, 20, got.Sector())
	require.NoError(t, got.Close())

	got2, err := directory.Resolve(mgr, root, "sub")
	require.NoError(t, err)
	assert.EqualValues(t, 20, got2.Sector())
	require.NoError(t, got2.Close())
}

func TestResolveFailsOnRemovedDirectory(t *testing.T) {
	mgr := newManager(t, 4096)
	require.NoError(t, directory.Create(mgr, directory.RootSector, 16))
	root, err := directory.OpenRoot(mgr)
	require.NoError(t, err)
	defer root.Close()

	require.NoError(t, directory.Create(mgr, 20, 16))
	require.NoError(t, directory.Add(mgr, root, "sub", 20, true))

	// The removed flag lives on the open in-memory inode, so sub stays open
	// while the path is resolved, the way a removed cwd would.
	sub, err := directory.Open(mgr, 20)
	require.NoError(t, err)
	sub.Remove()

	_, err = directory.Resolve(mgr, nil, "/sub")
	assert.ErrorIs(t, err, directory.ErrRemoved)
	require.NoError(t, sub.Close())
}
