package presence

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/madcowbg/hoard/objects"
	"github.com/madcowbg/hoard/refs"
	"github.com/madcowbg/hoard/registry"
	"github.com/madcowbg/hoard/storage"
	"github.com/madcowbg/hoard/treealg"
)

func fe(content string, size uint64) objects.FileEntry {
	return objects.FileEntry{ContentHash: objects.Hash([]byte(content))[:], Size: size}
}

type fixture struct {
	objs *objects.Store
	rs   *refs.Store
	reg  *registry.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		objs: objects.NewStore(storage.NewInMemory()),
		rs:   refs.NewStore(storage.NewInMemory()),
		reg:  registry.NewRegistry(),
	}
}

func (f *fixture) tree(t *testing.T, entries ...treealg.PathEntry) objects.ID {
	t.Helper()
	id, err := treealg.BuildFromSortedList(f.objs, entries)
	require.NoError(t, err)
	return id
}

func TestStatusAtAvailable(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.AddRemote("c1", "laptop", registry.RolePartial, "mnt", false)
	require.NoError(t, err)

	curID := f.tree(t, treealg.PathEntry{Path: "file", Entry: fe("v1", 1)})
	require.NoError(t, f.rs.Set(refs.Current("c1"), curID))
	require.NoError(t, f.rs.Set(refs.Desired("c1"), curID))

	idx := NewIndex(f.objs, f.rs, f.reg)
	statuses, err := idx.StatusAt("mnt/file")
	require.NoError(t, err)
	require.Equal(t, AVAILABLE, statuses["c1"])
}

func TestStatusAtGetWhenAnotherCaveHasIt(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.AddRemote("src", "laptop", registry.RolePartial, "m1", false)
	require.NoError(t, err)
	_, err = f.reg.AddRemote("dst", "backup", registry.RoleBackup, "m1", false)
	require.NoError(t, err)

	available := f.tree(t, treealg.PathEntry{Path: "file", Entry: fe("v1", 1)})
	require.NoError(t, f.rs.Set(refs.Current("src"), available))
	require.NoError(t, f.rs.Set(refs.Desired("src"), available))
	wanted := f.tree(t, treealg.PathEntry{Path: "file", Entry: fe("v1", 1)})
	require.NoError(t, f.rs.Set(refs.Desired("dst"), wanted))

	idx := NewIndex(f.objs, f.rs, f.reg)
	statuses, err := idx.StatusAt("m1/file")
	require.NoError(t, err)
	require.Equal(t, AVAILABLE, statuses["src"])

	statuses, err = idx.StatusAt("m1/file")
	require.NoError(t, err)
	require.Equal(t, GET, statuses["dst"])
}

func TestStatusAtCopyWhenNoSourceYet(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.AddRemote("dst", "backup", registry.RoleBackup, "m2", false)
	require.NoError(t, err)

	wanted := f.tree(t, treealg.PathEntry{Path: "file", Entry: fe("v1", 1)})
	require.NoError(t, f.rs.Set(refs.Desired("dst"), wanted))

	idx := NewIndex(f.objs, f.rs, f.reg)
	statuses, err := idx.StatusAt("m2/file")
	require.NoError(t, err)
	require.Equal(t, COPY, statuses["dst"])
}

func TestStatusAtCleanupAndUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.AddRemote("c1", "incoming", registry.RoleIncoming, "m1", false)
	require.NoError(t, err)

	cur := f.tree(t, treealg.PathEntry{Path: "stale", Entry: fe("s", 1)})
	require.NoError(t, f.rs.Set(refs.Current("c1"), cur))

	idx := NewIndex(f.objs, f.rs, f.reg)
	statuses, err := idx.StatusAt("m1/stale")
	require.NoError(t, err)
	require.Equal(t, CLEANUP, statuses["c1"])

	statuses, err = idx.StatusAt("m1/never-seen")
	require.NoError(t, err)
	require.Equal(t, UNKNOWN, statuses["c1"])
}

func TestStatsInFolderAndCountNonDeleted(t *testing.T) {
	f := newFixture(t)
	head := f.tree(t,
		treealg.PathEntry{Path: "dir/a", Entry: fe("a", 10)},
		treealg.PathEntry{Path: "dir/b", Entry: fe("b", 20)},
		treealg.PathEntry{Path: "other", Entry: fe("o", 5)},
	)

	idx := NewIndex(f.objs, f.rs, f.reg)
	count, size, err := idx.StatsInFolder(head, "dir")
	require.NoError(t, err)
	require.Equal(t, uint64(2), count)
	require.Equal(t, uint64(30), size)

	n, err := idx.CountNonDeleted(head, "dir")
	require.NoError(t, err)
	require.Equal(t, uint64(2), n)
}

func TestUsedSize(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.AddRemote("c1", "laptop", registry.RolePartial, "m1", false)
	require.NoError(t, err)
	cur := f.tree(t,
		treealg.PathEntry{Path: "a", Entry: fe("a", 3)},
		treealg.PathEntry{Path: "b", Entry: fe("b", 4)},
	)
	require.NoError(t, f.rs.Set(refs.Current("c1"), cur))

	idx := NewIndex(f.objs, f.rs, f.reg)
	size, err := idx.UsedSize("c1")
	require.NoError(t, err)
	require.Equal(t, uint64(7), size)
}
