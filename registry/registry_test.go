package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/madcowbg/hoard/objects"
	"github.com/madcowbg/hoard/refs"
	"github.com/madcowbg/hoard/storage"
	"github.com/madcowbg/hoard/treealg"
)

func fe(content string, size uint64) objects.FileEntry {
	return objects.FileEntry{ContentHash: objects.Hash([]byte(content))[:], Size: size}
}

func TestAddRemoteRejectsInvalidRole(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.AddRemote("u1", "laptop", Role("BOGUS"), "/a", false)
	require.ErrorIs(t, err, ErrInvalidRole)
}

func TestAddRemoteRejectsDuplicateUUIDAndName(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.AddRemote("u1", "laptop", RolePartial, "/a", false)
	require.NoError(t, err)

	_, err = reg.AddRemote("u1", "other", RolePartial, "/b", false)
	require.ErrorIs(t, err, ErrDuplicateUUID)

	_, err = reg.AddRemote("u2", "laptop", RolePartial, "/b", false)
	require.ErrorIs(t, err, ErrDuplicateName)
}

func TestAddRemoteRejectsOverlappingMounts(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.AddRemote("u1", "laptop", RolePartial, "/a/b", false)
	require.NoError(t, err)

	_, err = reg.AddRemote("u2", "nas", RolePartial, "/a", false)
	require.ErrorIs(t, err, ErrMountOverlap)

	_, err = reg.AddRemote("u3", "other", RolePartial, "/a/b/c", false)
	require.ErrorIs(t, err, ErrMountOverlap)
}

func TestListIsSortedByUUID(t *testing.T) {
	reg := NewRegistry()
	_, _ = reg.AddRemote("zzz", "z", RolePartial, "/z", false)
	_, _ = reg.AddRemote("aaa", "a", RolePartial, "/a", false)
	list := reg.List()
	require.Len(t, list, 2)
	require.Equal(t, "aaa", list[0].UUID)
	require.Equal(t, "zzz", list[1].UUID)
}

func TestMoveMountsRewritesHeadAndMountPoints(t *testing.T) {
	s := objects.NewStore(storage.NewInMemory())
	head, err := treealg.BuildFromSortedList(s, []treealg.PathEntry{
		{Path: "a/x/file", Entry: fe("x", 1)},
		{Path: "unrelated", Entry: fe("u", 1)},
	})
	require.NoError(t, err)

	reg := NewRegistry()
	_, err = reg.AddRemote("u1", "laptop", RolePartial, "a/x", false)
	require.NoError(t, err)

	newHead, err := reg.MoveMounts(s, head, "a/x", "b/y")
	require.NoError(t, err)

	_, ok, err := treealg.Lookup(s, newHead, treealg.SplitPath("a/x/file"))
	require.NoError(t, err)
	require.False(t, ok, "old location must be gone")

	entry, ok, err := treealg.Lookup(s, newHead, treealg.SplitPath("b/y/file"))
	require.NoError(t, err)
	require.True(t, ok, "file must be reachable at its new location")
	require.Equal(t, objects.KindFile, entry.Kind)

	_, ok, err = treealg.Lookup(s, newHead, treealg.SplitPath("unrelated"))
	require.NoError(t, err)
	require.True(t, ok, "unrelated subtree must be untouched")

	cave, _ := reg.Get("u1")
	require.Equal(t, "b/y", cave.MountPoint)
}

func TestMoveMountsRejectsSplittingAnAncestorMount(t *testing.T) {
	s := objects.NewStore(storage.NewInMemory())
	head, err := treealg.BuildFromSortedList(s, []treealg.PathEntry{
		{Path: "a/x/file", Entry: fe("x", 1)},
		{Path: "a/keep", Entry: fe("k", 1)},
	})
	require.NoError(t, err)

	reg := NewRegistry()
	_, err = reg.AddRemote("u1", "laptop", RolePartial, "a", false)
	require.NoError(t, err)

	_, err = reg.MoveMounts(s, head, "a/x", "b/y")
	require.Error(t, err, "moving a/x would split cave u1's mount across two locations")
}

func TestContentsCopySharesIDsAndExtendsDesired(t *testing.T) {
	s := objects.NewStore(storage.NewInMemory())
	head, err := treealg.BuildFromSortedList(s, []treealg.PathEntry{
		{Path: "src/a", Entry: fe("a", 1)},
		{Path: "src/b", Entry: fe("b", 2)},
	})
	require.NoError(t, err)

	reg := NewRegistry()
	_, err = reg.AddRemote("u1", "backup", RoleBackup, "dst", false)
	require.NoError(t, err)

	rs := refs.NewStore(storage.NewInMemory())
	newHead, err := reg.ContentsCopy(s, rs, head, "src", "dst")
	require.NoError(t, err)

	srcEntry, ok, err := treealg.Lookup(s, newHead, treealg.SplitPath("src"))
	require.NoError(t, err)
	require.True(t, ok)
	dstEntry, ok, err := treealg.Lookup(s, newHead, treealg.SplitPath("dst"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, srcEntry.ID, dstEntry.ID, "copy shares object ids with the source")

	desID, err := rs.Get(refs.Desired("u1"))
	require.NoError(t, err)
	entry, ok, err := treealg.Lookup(s, desID, treealg.SplitPath("a"))
	require.NoError(t, err)
	require.True(t, ok, "cave mounted at dst must get the copied files queued in desired")
	_ = entry
}

func TestTrimMount(t *testing.T) {
	rel, ok := TrimMount("a/x", "a/x/file")
	require.True(t, ok)
	require.Equal(t, "file", rel)

	_, ok = TrimMount("a/x", "a/other")
	require.False(t, ok)
}
