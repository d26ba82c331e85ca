package treealg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/madcowbg/hoard/objects"
)

func TestSplitJoinPath(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, SplitPath("/a/b/c/"))
	require.Nil(t, SplitPath(""))
	require.Equal(t, "a/b/c", JoinPath([]string{"a", "b", "c"}))
}

func TestReplaceGraftsNewSubtreeSharingSiblings(t *testing.T) {
	s := objects.NewStore(newMemBacking())
	root := build(t, s, []PathEntry{
		{Path: "keep/me", Entry: fe("keep", 1)},
		{Path: "target/old", Entry: fe("old", 1)},
	})

	newSub := build(t, s, []PathEntry{{Path: "new", Entry: fe("new", 2)}})

	newRoot, err := Replace(s, root, SplitPath("target"), newSub)
	require.NoError(t, err)

	entry, ok, err := Lookup(s, newRoot, SplitPath("keep/me"))
	require.NoError(t, err)
	require.True(t, ok, "untouched sibling must still be reachable")
	require.Equal(t, objects.KindFile, entry.Kind)

	targetEntry, ok, err := Lookup(s, newRoot, SplitPath("target"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, newSub, targetEntry.ID)

	_, ok, err = Lookup(s, newRoot, SplitPath("target/old"))
	require.NoError(t, err)
	require.False(t, ok, "old content under the replaced path must be gone")
}

func TestPutFileAddsAndUpdatesLeaf(t *testing.T) {
	s := objects.NewStore(newMemBacking())
	root := objects.EmptyTreeID

	root, err := PutFile(s, root, SplitPath("dir/file.txt"), fe("v1", 2))
	require.NoError(t, err)

	entry, ok, err := Lookup(s, root, SplitPath("dir/file.txt"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, objects.KindFile, entry.Kind)
	fe1, err := s.GetFileEntry(entry.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(2), fe1.Size)

	root, err = PutFile(s, root, SplitPath("dir/file.txt"), fe("v2", 3))
	require.NoError(t, err)
	entry, ok, err = Lookup(s, root, SplitPath("dir/file.txt"))
	require.NoError(t, err)
	require.True(t, ok)
	fe2, err := s.GetFileEntry(entry.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(3), fe2.Size)
	require.False(t, fe1.SameContentAs(fe2))
}

func TestRemovePrunesEmptyDirectories(t *testing.T) {
	s := objects.NewStore(newMemBacking())
	root := build(t, s, []PathEntry{
		{Path: "a/only", Entry: fe("only", 1)},
		{Path: "b/keep", Entry: fe("keep", 1)},
	})

	root, err := Remove(s, root, SplitPath("a/only"))
	require.NoError(t, err)

	_, ok, err := Lookup(s, root, SplitPath("a"))
	require.NoError(t, err)
	require.False(t, ok, "directory left empty by removal must be pruned")

	_, ok, err = Lookup(s, root, SplitPath("b/keep"))
	require.NoError(t, err)
	require.True(t, ok, "unrelated sibling subtree must survive")
}

func TestRemoveMissingPathIsNoop(t *testing.T) {
	s := objects.NewStore(newMemBacking())
	root := build(t, s, []PathEntry{{Path: "a", Entry: fe("a", 1)}})

	newRoot, err := Remove(s, root, SplitPath("nope"))
	require.NoError(t, err)
	require.Equal(t, root, newRoot)
}

func TestLookupMissingComponent(t *testing.T) {
	s := objects.NewStore(newMemBacking())
	root := build(t, s, []PathEntry{{Path: "dir/a", Entry: fe("a", 1)}})

	_, ok, err := Lookup(s, root, SplitPath("dir/missing"))
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = Lookup(s, root, SplitPath("dir/a/too-deep"))
	require.NoError(t, err)
	require.False(t, ok, "descending past a file must report absence, not an error")
}
