package treealg

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/madcowbg/hoard/objects"
)

func fe(content string, size uint64) objects.FileEntry {
	return objects.FileEntry{ContentHash: objects.Hash([]byte(content))[:], Size: size}
}

func TestBuildFromSortedListIsDeterministic(t *testing.T) {
	entries := []PathEntry{
		{Path: "test.me.1", Entry: fe("1", 6)},
		{Path: "wat/test.me.2", Entry: fe("2", 8)},
		{Path: "wat/test.me.3", Entry: fe("3", 10)},
	}
	s1 := objects.NewStore(newMemBacking())
	s2 := objects.NewStore(newMemBacking())
	id1, err := BuildFromSortedList(s1, entries)
	require.NoError(t, err)
	id2, err := BuildFromSortedList(s2, entries)
	require.NoError(t, err)
	require.Equal(t, id1, id2, "building from the same sorted list twice must yield identical ids (P1)")
}

func TestBuildFromSortedListEmpty(t *testing.T) {
	s := objects.NewStore(newMemBacking())
	id, err := BuildFromSortedList(s, nil)
	require.NoError(t, err)
	require.Equal(t, objects.EmptyTreeID, id)
}

func TestBuildFromSortedListShape(t *testing.T) {
	entries := []PathEntry{
		{Path: "a", Entry: fe("a", 1)},
		{Path: "dir/b", Entry: fe("b", 2)},
		{Path: "dir/sub/c", Entry: fe("c", 3)},
	}
	s := objects.NewStore(newMemBacking())
	rootID, err := BuildFromSortedList(s, entries)
	require.NoError(t, err)

	root, err := s.GetTree(rootID)
	require.NoError(t, err)
	require.Len(t, root.Entries, 2)

	aEntry, ok := root.ByName("a")
	require.True(t, ok)
	require.Equal(t, objects.KindFile, aEntry.Kind)

	dirEntry, ok := root.ByName("dir")
	require.True(t, ok)
	require.Equal(t, objects.KindTree, dirEntry.Kind)

	dir, err := s.GetTree(dirEntry.ID)
	require.NoError(t, err)
	require.Len(t, dir.Entries, 2)

	var leaves []Leaf
	require.NoError(t, Walk(s, rootID, func(l Leaf) error {
		leaves = append(leaves, l)
		return nil
	}))
	require.Len(t, leaves, 3)
	require.Equal(t, "a", leaves[0].Path)
	require.Equal(t, "dir/b", leaves[1].Path)
	require.Equal(t, "dir/sub/c", leaves[2].Path)
}

// Rebuilding from the same walk output must reproduce it exactly; cmp.Diff
// pinpoints which leaf regressed instead of just reporting a length mismatch.
func TestBuildFromSortedListRoundTripsWalkOutput(t *testing.T) {
	entries := []PathEntry{
		{Path: "a", Entry: fe("a", 1)},
		{Path: "dir/b", Entry: fe("b", 2)},
		{Path: "dir/sub/c", Entry: fe("c", 3)},
	}
	s := objects.NewStore(newMemBacking())
	rootID, err := BuildFromSortedList(s, entries)
	require.NoError(t, err)

	var leaves []Leaf
	require.NoError(t, Walk(s, rootID, func(l Leaf) error {
		leaves = append(leaves, l)
		return nil
	}))

	rebuiltEntries := make([]PathEntry, len(leaves))
	for i, l := range leaves {
		rebuiltEntries[i] = PathEntry{Path: l.Path, Entry: l.Entry}
	}
	rebuiltID, err := BuildFromSortedList(s, rebuiltEntries)
	require.NoError(t, err)
	require.Equal(t, rootID, rebuiltID)

	var rebuiltLeaves []Leaf
	require.NoError(t, Walk(s, rebuiltID, func(l Leaf) error {
		rebuiltLeaves = append(rebuiltLeaves, l)
		return nil
	}))
	if diff := cmp.Diff(leaves, rebuiltLeaves); diff != "" {
		t.Errorf("walk output changed after round-tripping through BuildFromSortedList (-want +got):\n%s", diff)
	}
}
