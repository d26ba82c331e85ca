package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/madcowbg/hoard/registry"
	"github.com/madcowbg/hoard/storage"
)

func TestInitializeThenLoadRoundTrips(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, Initialize(base))

	c, err := Load(base)
	require.NoError(t, err)
	require.Equal(t, storage.KindDisk, c.Storage)
}

func TestInitializeRefusesExistingConfig(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, Initialize(base))
	require.Error(t, Initialize(base))
}

func TestSaveAndBuildRegistryRoundTrip(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, Initialize(base))
	c, err := Load(base)
	require.NoError(t, err)

	c.Caves = []CaveEntry{
		{UUID: "u1", Name: "laptop", Role: "PARTIAL", MountPoint: "mnt"},
	}
	require.NoError(t, Save(base, c))

	reloaded, err := Load(base)
	require.NoError(t, err)
	reg, err := reloaded.BuildRegistry()
	require.NoError(t, err)
	cave, ok := reg.Get("u1")
	require.True(t, ok)
	require.Equal(t, registry.RolePartial, cave.Role)
}

func TestSetCavesFromRegistryRoundTrips(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, Initialize(base))
	c, err := Load(base)
	require.NoError(t, err)

	reg := registry.NewRegistry()
	_, err = reg.AddRemote("u1", "laptop", registry.RolePartial, "mnt", true)
	require.NoError(t, err)
	c.SetCavesFromRegistry(reg)
	require.Len(t, c.Caves, 1)
	require.Equal(t, "u1", c.Caves[0].UUID)
	require.True(t, c.Caves[0].FetchNew)
}

func TestCaveMetadataLifecycle(t *testing.T) {
	root := t.TempDir()
	require.False(t, CaveInitialized(root))

	_, err := LoadCaveUUID(root)
	require.ErrorIs(t, err, ErrUninitializedRepo)

	require.NoError(t, InitCaveMetadata(root, "c1"))
	require.True(t, CaveInitialized(root))

	uuid, err := LoadCaveUUID(root)
	require.NoError(t, err)
	require.Equal(t, "c1", uuid)
}
