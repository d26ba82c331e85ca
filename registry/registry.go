// Package registry implements the cave registry (spec §3 Cave record, §4.6):
// add_remote, move_mounts and contents.copy.
package registry

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/madcowbg/hoard/objects"
	"github.com/madcowbg/hoard/refs"
	"github.com/madcowbg/hoard/treealg"
)

// Role is a cave's participation in reconciliation (spec §3, Glossary Role).
type Role string

const (
	RolePartial  Role = "PARTIAL"
	RoleFull     Role = "FULL"
	RoleBackup   Role = "BACKUP"
	RoleIncoming Role = "INCOMING"
)

func (r Role) Valid() bool {
	switch r {
	case RolePartial, RoleFull, RoleBackup, RoleIncoming:
		return true
	default:
		return false
	}
}

// Cave is one registered cave record (spec §3: "(uuid, name, role,
// mount_point, fetch_new: bool, epoch: u64, last_pulled_staging_id)").
//
// Epoch is bumped by the scanner on every refresh (spec §6 scanner
// contract); LastAcceptedEpoch and LastPulledStagingID are the engine's own
// bookkeeping of the last pull it actually accepted, used by the epoch
// pre-check (spec §4.3, invariant I5).
type Cave struct {
	UUID                string
	Name                string
	Role                Role
	MountPoint          string
	FetchNew            bool
	Epoch               uint64
	LastAcceptedEpoch   uint64
	LastPulledStagingID objects.ID
}

var (
	ErrDuplicateUUID = errors.New("cave with this uuid already registered")
	ErrDuplicateName = errors.New("cave with this name already registered")
	ErrInvalidRole   = errors.New("invalid role")
	ErrMountOverlap  = errors.New("mount point overlaps an existing cave's mount")
	ErrNoSuchCave    = errors.New("no such cave")
	ErrNoSuchPath    = errors.New("no such path in hoard")
)

// Registry holds every cave record. It is not safe for concurrent use
// without external synchronization, consistent with the engine's
// single-writer scheduling model (spec §4.3 Concurrency model).
type Registry struct {
	caves map[string]*Cave
}

func NewRegistry() *Registry {
	return &Registry{caves: make(map[string]*Cave)}
}

// AddRemote registers a cave (spec §4.6:
// "add_remote(path, name, mount_point, role, fetch_new) registers a cave").
// path is the uuid under which the cave is tracked; it is the caller's
// responsibility to have read or created that cave's uuid file (§6
// persisted layout).
func (reg *Registry) AddRemote(uuid, name string, role Role, mountPoint string, fetchNew bool) (*Cave, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%q: %w", role, ErrInvalidRole)
	}
	if _, exists := reg.caves[uuid]; exists {
		return nil, fmt.Errorf("%s: %w", uuid, ErrDuplicateUUID)
	}
	for _, c := range reg.caves {
		if c.Name == name {
			return nil, fmt.Errorf("%s: %w", name, ErrDuplicateName)
		}
		if mountsOverlap(c.MountPoint, mountPoint) {
			return nil, fmt.Errorf("%s and %s: %w", c.MountPoint, mountPoint, ErrMountOverlap)
		}
	}
	c := &Cave{
		UUID:       uuid,
		Name:       name,
		Role:       role,
		MountPoint: mountPoint,
		FetchNew:   fetchNew,
	}
	reg.caves[uuid] = c
	return c, nil
}

func mountsOverlap(a, b string) bool {
	pa, pb := treealg.SplitPath(a), treealg.SplitPath(b)
	if len(pa) == len(pb) && isAncestorOrEqual(pa, pb) {
		// Two caves may share one mount point; only strict nesting overlaps.
		return false
	}
	return isAncestorOrEqual(pa, pb) || isAncestorOrEqual(pb, pa)
}

// isAncestorOrEqual reports whether anc is a path-component prefix of, or
// identical to, desc.
func isAncestorOrEqual(anc, desc []string) bool {
	if len(anc) > len(desc) {
		return false
	}
	for i, c := range anc {
		if desc[i] != c {
			return false
		}
	}
	return true
}

func (reg *Registry) Get(uuid string) (*Cave, bool) {
	c, ok := reg.caves[uuid]
	return c, ok
}

func (reg *Registry) ByName(name string) (*Cave, bool) {
	for _, c := range reg.caves {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// List returns every registered cave, ordered by uuid (I5/push-planner tie
// break, spec §4.4: "tie-break by lexicographic uuid").
func (reg *Registry) List() []*Cave {
	out := make([]*Cave, 0, len(reg.caves))
	for _, c := range reg.caves {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out
}

// MoveMounts rewrites HEAD using subtree replace, and updates the mount
// point of every cave registered under `from` to the equivalent path under
// `to` (spec §4.6: "move_mounts(from, to) rewrites any cave whose mount is
// under from to have a new mount under to; it rewrites HEAD using subtree
// replace"). A cave whose mount is a strict ancestor of `from` would be
// split across two locations by the rename and is rejected.
func (reg *Registry) MoveMounts(rw objects.ReadWriter, head objects.ID, from, to string) (objects.ID, error) {
	fromParts := treealg.SplitPath(from)
	toParts := treealg.SplitPath(to)

	for _, c := range reg.caves {
		mp := treealg.SplitPath(c.MountPoint)
		if len(mp) < len(fromParts) && isAncestorOrEqual(mp, fromParts) {
			subpath := treealg.JoinPath(fromParts[len(mp):])
			return objects.Null, fmt.Errorf("requires moving files in %s:%s", c.Name, subpath)
		}
	}

	subtreeEntry, ok, err := treealg.Lookup(rw, head, fromParts)
	if err != nil {
		return objects.Null, err
	}
	var subtreeID objects.ID
	if ok {
		subtreeID = subtreeEntry.ID
	} else {
		subtreeID = objects.EmptyTreeID
	}

	newHead, err := treealg.Remove(rw, head, fromParts)
	if err != nil {
		return objects.Null, err
	}
	newHead, err = treealg.Replace(rw, newHead, toParts, subtreeID)
	if err != nil {
		return objects.Null, err
	}

	for _, c := range reg.caves {
		mp := treealg.SplitPath(c.MountPoint)
		if isAncestorOrEqual(fromParts, mp) {
			suffix := mp[len(fromParts):]
			newMP := append(append([]string{}, toParts...), suffix...)
			c.MountPoint = treealg.JoinPath(newMP)
		}
	}
	return newHead, nil
}

// ContentsCopy adds a virtual copy of the subtree at src under dst in HEAD,
// sharing object ids (spec §4.6: "contents.copy(src, dst) adds a virtual
// copy of the subtree at src under dst in HEAD... cost O(spine)"). For every
// registered cave whose mount covers part of dst, its desired ref is
// extended to include the newly-copied files so a subsequent push
// materializes them.
func (reg *Registry) ContentsCopy(rw objects.ReadWriter, rs *refs.Store, head objects.ID, src, dst string) (objects.ID, error) {
	srcParts := treealg.SplitPath(src)
	entry, ok, err := treealg.Lookup(rw, head, srcParts)
	if err != nil {
		return objects.Null, err
	}
	if !ok {
		return objects.Null, fmt.Errorf("%s: %w", src, ErrNoSuchPath)
	}

	dstParts := treealg.SplitPath(dst)
	newHead, err := treealg.Replace(rw, head, dstParts, entry.ID)
	if err != nil {
		return objects.Null, err
	}

	var leaves []treealg.Leaf
	if entry.Kind == objects.KindTree {
		if err := treealg.Walk(rw, entry.ID, func(l treealg.Leaf) error {
			leaves = append(leaves, l)
			return nil
		}); err != nil {
			return objects.Null, err
		}
	} else {
		blob, err := rw.Get(entry.ID)
		if err != nil {
			return objects.Null, err
		}
		fe, err := objects.DecodeFileEntry(blob)
		if err != nil {
			return objects.Null, err
		}
		leaves = []treealg.Leaf{{Path: "", Entry: fe}}
	}

	txn := rs.Begin()
	for _, c := range reg.caves {
		mountParts := treealg.SplitPath(c.MountPoint)
		if !isAncestorOrEqual(mountParts, dstParts) {
			continue
		}
		desID, err := rs.Get(refs.Desired(c.UUID))
		if err != nil {
			desID = objects.EmptyTreeID
		}
		relMount := dstParts[len(mountParts):]
		changed := false
		for _, leaf := range leaves {
			leafParts := append(append([]string{}, relMount...), treealg.SplitPath(leaf.Path)...)
			desID, err = treealg.PutFile(rw, desID, leafParts, leaf.Entry)
			if err != nil {
				return objects.Null, err
			}
			changed = true
		}
		if changed {
			txn.Set(refs.Desired(c.UUID), desID)
		}
	}
	if err := txn.Commit(); err != nil {
		return objects.Null, err
	}
	return newHead, nil
}

// TrimMount returns path with its leading mountPoint components stripped,
// used when translating a HEAD-relative path into one relative to a cave's
// mount (spec §4.3: "For each leaf path p relative to C.mount_point").
func TrimMount(mountPoint, path string) (string, bool) {
	mp := treealg.SplitPath(mountPoint)
	p := treealg.SplitPath(path)
	if !isAncestorOrEqual(mp, p) {
		return "", false
	}
	return treealg.JoinPath(p[len(mp):]), true
}
