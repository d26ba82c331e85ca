package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/madcowbg/hoard/refs"
	"github.com/madcowbg/hoard/registry"
	"github.com/madcowbg/hoard/treealg"
)

func TestGCSweepsOnlyUnreachableObjects(t *testing.T) {
	e := newEngine(t)
	cave, err := e.Registry.AddRemote("c1", "laptop", registry.RolePartial, "mnt", false)
	require.NoError(t, err)

	staging := buildTree(t, e.Objects, treealg.PathEntry{Path: "a", Entry: fe("a", 1)})
	_, err = e.Pull(cave, staging, 1, Options{})
	require.NoError(t, err)

	// An orphan blob, put directly without ever being referenced by a ref.
	orphanID, err := e.Objects.PutFileEntry(fe("orphan", 99))
	require.NoError(t, err)
	has, err := e.Objects.Has(orphanID)
	require.NoError(t, err)
	require.True(t, has)

	stats, err := e.GC(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.Swept)

	has, err = e.Objects.Has(orphanID)
	require.NoError(t, err)
	require.False(t, has, "orphan should have been swept")

	headID, err := e.Refs.Get(refs.HEAD)
	require.NoError(t, err)
	entry, found, err := treealg.Lookup(e.Objects, headID, []string{"mnt", "a"})
	require.NoError(t, err)
	require.True(t, found)
	has, err = e.Objects.Has(entry.ID)
	require.NoError(t, err)
	require.True(t, has, "reachable object must survive GC")
}

func TestGCMarksAllRefKinds(t *testing.T) {
	e := newEngine(t)
	cave, err := e.Registry.AddRemote("c1", "laptop", registry.RolePartial, "mnt", false)
	require.NoError(t, err)

	staged := buildTree(t, e.Objects, treealg.PathEntry{Path: "pending", Entry: fe("p", 1)})
	require.NoError(t, e.Refs.Set(refs.Staging(cave.UUID), staged))
	desired := buildTree(t, e.Objects, treealg.PathEntry{Path: "wanted", Entry: fe("w", 1)})
	require.NoError(t, e.Refs.Set(refs.Desired(cave.UUID), desired))

	stats, err := e.GC(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(0), stats.Swept)

	entry, found, err := treealg.Lookup(e.Objects, staged, []string{"pending"})
	require.NoError(t, err)
	require.True(t, found)
	has, err := e.Objects.Has(entry.ID)
	require.NoError(t, err)
	require.True(t, has, "staging ref must be marked")
}
