package objects

import (
	"testing"

	"github.com/madcowbg/hoard/storage"
	"github.com/stretchr/testify/require"
)

func TestStorePutIsIdempotent(t *testing.T) {
	s := NewStore(storage.NewInMemory())
	id1, err := s.Put([]byte("hello"))
	require.NoError(t, err)
	id2, err := s.Put([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestStoreGetTreeRoundTrip(t *testing.T) {
	s := NewStore(storage.NewInMemory())
	tr := NewTree([]TreeEntry{{Name: "x", Kind: KindFile, ID: Hash([]byte("x"))}})
	id, err := s.PutTree(tr)
	require.NoError(t, err)
	got, err := s.GetTree(id)
	require.NoError(t, err)
	require.Equal(t, tr.Entries, got.Entries)
}

func TestStoreHas(t *testing.T) {
	s := NewStore(storage.NewInMemory())
	id, err := s.Put([]byte("present"))
	require.NoError(t, err)
	ok, err := s.Has(id)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Has(Hash([]byte("absent")))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTxnAbortLeavesNothingVisible(t *testing.T) {
	s := NewStore(storage.NewInMemory())
	txn := s.Begin()
	id, err := txn.Put([]byte("ghost"))
	require.NoError(t, err)

	ok, err := s.Has(id)
	require.NoError(t, err)
	require.False(t, ok, "nothing staged in a transaction should be visible before commit")

	txn.Abort()
	ok, err = s.Has(id)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTxnCommitMakesBlobsVisible(t *testing.T) {
	s := NewStore(storage.NewInMemory())
	txn := s.Begin()
	id, err := txn.Put([]byte("real"))
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	ok, err := s.Has(id)
	require.NoError(t, err)
	require.True(t, ok)

	blob, err := s.Get(id)
	require.NoError(t, err)
	require.Equal(t, []byte("real"), blob)
}

func TestTxnReadsItsOwnWrites(t *testing.T) {
	s := NewStore(storage.NewInMemory())
	txn := s.Begin()
	id, err := txn.Put([]byte("staged"))
	require.NoError(t, err)
	blob, err := txn.Get(id)
	require.NoError(t, err)
	require.Equal(t, []byte("staged"), blob)
}

func TestForEachIteratesEnumerableBacking(t *testing.T) {
	s := NewStore(storage.NewInMemory())
	id1, _ := s.Put([]byte("one"))
	id2, _ := s.Put([]byte("two"))
	seen := map[ID]bool{}
	require.NoError(t, s.ForEach(func(id ID) error {
		seen[id] = true
		return nil
	}))
	require.True(t, seen[id1])
	require.True(t, seen[id2])
}
