package objects

import (
	"errors"
	"fmt"

	"github.com/madcowbg/hoard/storage"
)

// Reader resolves an id to its blob, whether committed or only staged in an
// in-flight transaction.
type Reader interface {
	Get(ID) ([]byte, error)
}

// Writer writes (Store) or stages until Commit (Txn) a blob, returning its id. Put is
// idempotent: putting identical contents twice returns the same id.
type Writer interface {
	Put([]byte) (ID, error)
}

// ReadWriter is what the tree algebra (package treealg) needs to build and
// walk trees.
type ReadWriter interface {
	Reader
	Writer
}

// Store is the content-addressed object store (spec §4.1), built on a plain
// key/value storage.Store.
type Store struct {
	backing storage.Store
}

func NewStore(backing storage.Store) *Store {
	return &Store{backing: backing}
}

var _ ReadWriter = (*Store)(nil)

func (s *Store) Put(blob []byte) (ID, error) {
	id := Hash(blob)
	if err := s.backing.Put(storage.Key(id.Hex()), storage.Value(blob)); err != nil {
		return Null, err
	}
	return id, nil
}

func (s *Store) PutTree(t Tree) (ID, error)           { return s.Put(t.Encode()) }
func (s *Store) PutFileEntry(f FileEntry) (ID, error) { return s.Put(f.Encode()) }

func (s *Store) Get(id ID) ([]byte, error) {
	v, err := s.backing.Get(storage.Key(id.Hex()))
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", id.ShortHex(), err)
	}
	return v, nil
}

func (s *Store) GetTree(id ID) (Tree, error) {
	if id.IsNull() || id == EmptyTreeID {
		return Tree{}, nil
	}
	blob, err := s.Get(id)
	if err != nil {
		return Tree{}, err
	}
	return DecodeTree(blob)
}

func (s *Store) GetFileEntry(id ID) (FileEntry, error) {
	blob, err := s.Get(id)
	if err != nil {
		return FileEntry{}, err
	}
	return DecodeFileEntry(blob)
}

// Has reports whether id is present, without fetching its contents (spec
// §4.1 has(id)).
func (s *Store) Has(id ID) (bool, error) {
	if en, ok := s.backing.(storage.Enumerable); ok {
		return en.Contains(storage.Key(id.Hex()))
	}
	_, err := s.backing.Get(storage.Key(id.Hex()))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ForEach iterates every id held by the backing store (spec §4.1 iter()),
// when the backing store supports enumeration (e.g., a local disk cache, not
// a remote such as S3 fronted only by Get/Put/Delete).
func (s *Store) ForEach(cb func(ID) error) error {
	en, ok := s.backing.(storage.Enumerable)
	if !ok {
		return fmt.Errorf("object store: %w: backing store is not enumerable", storage.ErrNotImplemented)
	}
	return en.ForEach(func(k storage.Key) error {
		id, err := IDFromHex(string(k))
		if err != nil {
			// Not every key in the backing store need be an object id (the
			// ref store may share a backend in tests); skip silently.
			return nil
		}
		return cb(id)
	})
}

// Delete removes an id from the backing store. Only the GC sweep (spec
// §4.8) calls this directly; everything else only ever appends (invariant
// I2).
func (s *Store) Delete(id ID) error {
	return s.backing.Delete(storage.Key(id.Hex()))
}

// Begin starts a write transaction (spec §4.1 transaction(write?)): blobs put
// within it are held in memory and only become visible in the backing store
// on Commit. Since object puts are idempotent and content-addressed, commit
// order does not matter and a partial commit can never make an id reachable
// that the transaction didn't intend.
func (s *Store) Begin() *Txn {
	return &Txn{store: s, pending: make(map[ID][]byte)}
}

// Txn is a staged batch of object writes (spec §4.1).
type Txn struct {
	store   *Store
	pending map[ID][]byte
}

var _ ReadWriter = (*Txn)(nil)

func (t *Txn) Put(blob []byte) (ID, error) {
	id := Hash(blob)
	t.pending[id] = blob
	return id, nil
}

func (t *Txn) PutTree(tr Tree) (ID, error)           { return t.Put(tr.Encode()) }
func (t *Txn) PutFileEntry(f FileEntry) (ID, error) { return t.Put(f.Encode()) }

// Get reads through to the transaction's own pending writes first, so a
// single pull can both stage and re-read a tree before committing.
func (t *Txn) Get(id ID) ([]byte, error) {
	if b, ok := t.pending[id]; ok {
		return b, nil
	}
	return t.store.Get(id)
}

func (t *Txn) GetTree(id ID) (Tree, error) {
	if id.IsNull() || id == EmptyTreeID {
		return Tree{}, nil
	}
	blob, err := t.Get(id)
	if err != nil {
		return Tree{}, err
	}
	return DecodeTree(blob)
}

// Commit flushes every staged blob to the backing store (spec I1: every id
// referenced by a ref or tree must be present in OS before the ref advances
// — callers commit the object transaction before advancing refs).
func (t *Txn) Commit() error {
	for id, blob := range t.pending {
		if err := t.store.backing.Put(storage.Key(id.Hex()), storage.Value(blob)); err != nil {
			return fmt.Errorf("committing object %s: %w", id.ShortHex(), err)
		}
	}
	t.pending = nil
	return nil
}

// Abort discards every staged blob; none of them ever reach the backing
// store (spec §4.1: "on abort, no id becomes visible").
func (t *Txn) Abort() {
	t.pending = nil
}

// PendingCount reports how many distinct blobs are staged, for diagnostics.
func (t *Txn) PendingCount() int { return len(t.pending) }
