// Package refs implements the ref store (spec §3 Refs): a small mutable
// key→object-id map holding the hoard root HEAD and, per cave, the
// current/staging/desired pointers that drive reconciliation.
package refs

import (
	"errors"
	"fmt"

	"github.com/madcowbg/hoard/objects"
	"github.com/madcowbg/hoard/storage"
)

// Name identifies one ref: "HEAD", or "<cave-uuid>.current|staging|desired".
type Name string

// HEAD is the hoard root ref (spec §3: "hoard.HEAD : object_id(tree)").
const HEAD Name = "HEAD"

const (
	sideCurrent = "current"
	sideStaging = "staging"
	sideDesired = "desired"
)

// Current, Staging and Desired name the three per-cave refs (spec §3 Cave
// record): what the cave physically has, what its scanner last reported,
// and what the engine wants it to eventually hold.
func Current(cave string) Name { return Name(cave + "." + sideCurrent) }
func Staging(cave string) Name { return Name(cave + "." + sideStaging) }
func Desired(cave string) Name { return Name(cave + "." + sideDesired) }

// ErrNoSuchRef is returned by Get for a ref that has never been set.
var ErrNoSuchRef = errors.New("no such ref")

// Store is the ref store, backed by a plain key/value storage.Store (spec
// §3 RS: names map to hex-encoded root object ids).
type Store struct {
	backing storage.Store
}

func NewStore(backing storage.Store) *Store {
	return &Store{backing: backing}
}

// Get resolves name to the object id it currently points to. A ref that was
// never set, or was last cleared, resolves to objects.Null, ErrNoSuchRef.
func (s *Store) Get(name Name) (objects.ID, error) {
	v, err := s.backing.Get(storage.Key(name))
	if errors.Is(err, storage.ErrNotFound) {
		return objects.Null, ErrNoSuchRef
	}
	if err != nil {
		return objects.Null, err
	}
	id, err := objects.IDFromHex(string(v))
	if err != nil {
		return objects.Null, fmt.Errorf("ref %q: %w", name, err)
	}
	return id, nil
}

// Set points name directly at id, bypassing the ordering guarantees of a
// Txn. Used for refs whose ordering relative to others does not matter,
// e.g. a cave's staging ref written by a scanner.
func (s *Store) Set(name Name, id objects.ID) error {
	return s.backing.Put(storage.Key(name), []byte(id.Hex()))
}

// Clear removes name, so a later Get reports ErrNoSuchRef.
func (s *Store) Clear(name Name) error {
	return s.backing.Delete(storage.Key(name))
}

// Begin starts a ref transaction (spec §4.3 Commit: "the engine constructs
// new refs in an OS write transaction; HEAD advances last. On any failure,
// the transaction aborts and all refs remain at their previous ids").
func (s *Store) Begin() *Txn {
	return &Txn{store: s}
}

type staged struct {
	id      objects.ID
	cleared bool
}

// Txn buffers ref writes so that none of them become visible until Commit,
// and so that HEAD (if staged) is written only after every other staged ref
// has been written successfully.
type Txn struct {
	store   *Store
	order   []Name
	pending map[Name]staged
	head    *staged
}

// Set stages name to point at id. Staging HEAD is equivalent to calling
// SetHead(id); either spelling is accepted so callers can build a ref map
// uniformly and still get the HEAD-last guarantee.
func (t *Txn) Set(name Name, id objects.ID) {
	if name == HEAD {
		t.SetHead(id)
		return
	}
	t.stage(name, staged{id: id})
}

// Clear stages name for removal.
func (t *Txn) Clear(name Name) {
	if name == HEAD {
		t.SetHead(objects.Null)
		t.head.cleared = true
		return
	}
	t.stage(name, staged{cleared: true})
}

// SetHead stages HEAD to advance to id once every other staged ref commits
// successfully.
func (t *Txn) SetHead(id objects.ID) {
	t.head = &staged{id: id}
}

func (t *Txn) stage(name Name, v staged) {
	if t.pending == nil {
		t.pending = make(map[Name]staged)
	}
	if _, exists := t.pending[name]; !exists {
		t.order = append(t.order, name)
	}
	t.pending[name] = v
}

// Commit writes every staged non-HEAD ref in the order first staged, then
// HEAD last. If any write fails, Commit returns immediately: refs already
// written physically changed, but every caller-visible outcome (pull,
// push-apply) treats a non-nil Commit error as "retry the whole operation",
// which is safe because every write here is idempotent (same name, same
// id, re-derivable from OS on the next attempt).
func (t *Txn) Commit() error {
	for _, name := range t.order {
		v := t.pending[name]
		if err := t.apply(name, v); err != nil {
			return fmt.Errorf("committing ref %q: %w", name, err)
		}
	}
	if t.head != nil {
		if err := t.apply(HEAD, *t.head); err != nil {
			return fmt.Errorf("committing HEAD: %w", err)
		}
	}
	return nil
}

func (t *Txn) apply(name Name, v staged) error {
	if v.cleared {
		return t.store.Clear(name)
	}
	return t.store.Set(name, v.id)
}

// Abort discards every staged write. It exists for symmetry with objects.Txn
// and to make call sites read the same way; since nothing is written until
// Commit, it is always safe to just drop the Txn instead.
func (t *Txn) Abort() {
	t.pending = nil
	t.order = nil
	t.head = nil
}
