package engine

import (
	"bytes"
	"sort"
	"strings"

	"github.com/madcowbg/hoard/objects"
	"github.com/madcowbg/hoard/refs"
	"github.com/madcowbg/hoard/registry"
	"github.com/madcowbg/hoard/treealg"
)

// OpKind distinguishes the two push operation types (spec §4.4).
type OpKind string

const (
	OpCopy   OpKind = "COPY"
	OpDelete OpKind = "DELETE"
)

// Op is one planned file-level operation for a cave (spec §4.4).
type Op struct {
	Kind OpKind
	Path string // mount-relative
	Size uint64
	// From names the source cave for a COPY; empty for DELETE.
	From string
}

// Plan is the ordered operation list for one cave: every COPY before every
// DELETE (spec §4.4 point 3).
type Plan struct {
	Cave *registry.Cave
	Ops  []Op
}

// Planner computes push plans (spec §4.4). It does no I/O; the fetcher
// (external) carries out each Op, and a successful Op is recorded via
// Advance.
type Planner struct {
	Objects  objects.Reader
	Refs     *refs.Store
	Registry *registry.Registry
}

func NewPlanner(objs objects.Reader, rs *refs.Store, reg *registry.Registry) *Planner {
	return &Planner{Objects: objs, Refs: rs, Registry: reg}
}

// holder is one cave's (mount-relative) view of a HEAD-absolute leaf.
type holder struct {
	cave    *registry.Cave
	relPath []string
	present bool
	entry   objects.TreeEntry
}

// Plan produces the ordered operation list for cave (spec §4.4).
func (pl *Planner) Plan(cave *registry.Cave) (Plan, error) {
	mountParts := treealg.SplitPath(cave.MountPoint)

	desID, err := pl.Refs.Get(refs.Desired(cave.UUID))
	if err != nil {
		desID = objects.EmptyTreeID
	}
	curID, err := pl.Refs.Get(refs.Current(cave.UUID))
	if err != nil {
		curID = objects.EmptyTreeID
	}

	var copies, deletes []Op

	var desiredLeaves []treealg.Leaf
	if err := treealg.Walk(pl.Objects, desID, func(l treealg.Leaf) error {
		desiredLeaves = append(desiredLeaves, l)
		return nil
	}); err != nil {
		return Plan{}, err
	}
	for _, l := range desiredLeaves {
		entry, found, err := treealg.Lookup(pl.Objects, curID, treealg.SplitPath(l.Path))
		if err != nil {
			return Plan{}, err
		}
		if found && entry.Kind == objects.KindFile {
			fe, err := objectsGetFileEntry(pl.Objects, entry.ID)
			if err != nil {
				return Plan{}, err
			}
			if fe.Size == l.Entry.Size && bytes.Equal(fe.ContentHash, l.Entry.ContentHash) {
				// Already has the desired content: nothing to copy. A
				// present-but-stale entry (desired was reassigned to a
				// different hash by a peer cave's pull, e.g. an incoming
				// source overwriting the path) falls through to plan a
				// refreshing COPY below.
				continue
			}
		}
		absPath := treealg.JoinPath(append(append([]string{}, mountParts...), treealg.SplitPath(l.Path)...))
		source, ok, err := pl.selectSource(absPath, cave.UUID)
		if err != nil {
			return Plan{}, err
		}
		if !ok {
			continue // COPY with no available source yet: nothing to plan until one appears.
		}
		copies = append(copies, Op{Kind: OpCopy, Path: l.Path, Size: l.Entry.Size, From: source})
	}

	var currentLeaves []treealg.Leaf
	if err := treealg.Walk(pl.Objects, curID, func(l treealg.Leaf) error {
		currentLeaves = append(currentLeaves, l)
		return nil
	}); err != nil {
		return Plan{}, err
	}
	for _, l := range currentLeaves {
		_, found, err := treealg.Lookup(pl.Objects, desID, treealg.SplitPath(l.Path))
		if err != nil {
			return Plan{}, err
		}
		if found {
			continue
		}
		if cave.Role == registry.RoleIncoming {
			absPath := treealg.JoinPath(append(append([]string{}, mountParts...), treealg.SplitPath(l.Path)...))
			safe, err := pl.incomingCleanupIsSafe(absPath, cave.UUID)
			if err != nil {
				return Plan{}, err
			}
			if !safe {
				continue
			}
		}
		deletes = append(deletes, Op{Kind: OpDelete, Path: l.Path, Size: l.Entry.Size})
	}

	ops := append(copies, deletes...)
	return Plan{Cave: cave, Ops: ops}, nil
}

// selectSource picks the cave to copy absPath from: shortest mount distance,
// tie-broken by lexicographic uuid (spec §4.4 point 1).
func (pl *Planner) selectSource(absPath string, excludeUUID string) (string, bool, error) {
	var candidates []holder
	for _, c := range pl.Registry.List() {
		if c.UUID == excludeUUID {
			continue
		}
		rel, ok := registry.TrimMount(c.MountPoint, absPath)
		if !ok {
			continue
		}
		curID, err := pl.Refs.Get(refs.Current(c.UUID))
		if err != nil {
			continue
		}
		entry, found, err := treealg.Lookup(pl.Objects, curID, treealg.SplitPath(rel))
		if err != nil {
			return "", false, err
		}
		if found && entry.Kind == objects.KindFile {
			candidates = append(candidates, holder{cave: c, relPath: treealg.SplitPath(rel), present: true, entry: entry})
		}
	}
	if len(candidates) == 0 {
		return "", false, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		di, dj := mountDistance(candidates[i].cave.MountPoint), mountDistance(candidates[j].cave.MountPoint)
		if di != dj {
			return di < dj
		}
		return candidates[i].cave.UUID < candidates[j].cave.UUID
	})
	return candidates[0].cave.UUID, true, nil
}

// mountDistance approximates "mount distance" as path depth: a cave mounted
// closer to the hoard root is preferred, all else equal (spec §4.4 point 1
// names the criterion but not its metric; depth is the simplest one
// consistent with "shortest").
func mountDistance(mountPoint string) int {
	if mountPoint == "" {
		return 0
	}
	return strings.Count(mountPoint, "/") + 1
}

// incomingCleanupIsSafe implements the "Cleanup of incoming caves" proof
// (spec §4.4): a delete on an INCOMING cave is only safe once some
// non-incoming cave already holds, or still desires, the content.
func (pl *Planner) incomingCleanupIsSafe(absPath string, excludeUUID string) (bool, error) {
	for _, c := range pl.Registry.List() {
		if c.UUID == excludeUUID || c.Role == registry.RoleIncoming {
			continue
		}
		rel, ok := registry.TrimMount(c.MountPoint, absPath)
		if !ok {
			continue
		}
		relParts := treealg.SplitPath(rel)

		curID, err := pl.Refs.Get(refs.Current(c.UUID))
		if err == nil {
			if _, found, err := treealg.Lookup(pl.Objects, curID, relParts); err != nil {
				return false, err
			} else if found {
				return true, nil
			}
		}
		desID, err := pl.Refs.Get(refs.Desired(c.UUID))
		if err == nil {
			if _, found, err := treealg.Lookup(pl.Objects, desID, relParts); err != nil {
				return false, err
			} else if found {
				return true, nil
			}
		}
	}
	return false, nil
}

// Advance applies a successfully completed op to cave.current and writes
// the new ref (spec §4.4: "on ok, it advances C.current by applying the op
// to the cave's tree").
func (pl *Planner) Advance(cave *registry.Cave, op Op, oxn objects.ReadWriter) error {
	curID, err := pl.Refs.Get(refs.Current(cave.UUID))
	if err != nil {
		curID = objects.EmptyTreeID
	}
	var newCur objects.ID
	switch op.Kind {
	case OpCopy:
		entry, found, err := pl.lookupDesired(cave, op.Path)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		fe, err := objectsGetFileEntry(pl.Objects, entry.ID)
		if err != nil {
			return err
		}
		newCur, err = treealg.PutFile(oxn, curID, treealg.SplitPath(op.Path), fe)
		if err != nil {
			return err
		}
	case OpDelete:
		newCur, err = treealg.Remove(oxn, curID, treealg.SplitPath(op.Path))
		if err != nil {
			return err
		}
	}
	return pl.Refs.Set(refs.Current(cave.UUID), newCur)
}

func (pl *Planner) lookupDesired(cave *registry.Cave, path string) (objects.TreeEntry, bool, error) {
	desID, err := pl.Refs.Get(refs.Desired(cave.UUID))
	if err != nil {
		desID = objects.EmptyTreeID
	}
	return treealg.Lookup(pl.Objects, desID, treealg.SplitPath(path))
}

func objectsGetFileEntry(r objects.Reader, id objects.ID) (objects.FileEntry, error) {
	blob, err := r.Get(id)
	if err != nil {
		return objects.FileEntry{}, err
	}
	return objects.DecodeFileEntry(blob)
}
