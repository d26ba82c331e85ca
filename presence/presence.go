// Package presence implements the presence index (spec §4.5): the derived,
// per-(path, cave) status used by status/ls/health reporting. It is a pure
// function of the refs and must be recomputed (or its cache invalidated) on
// any ref change.
package presence

import (
	"github.com/madcowbg/hoard/objects"
	"github.com/madcowbg/hoard/refs"
	"github.com/madcowbg/hoard/registry"
	"github.com/madcowbg/hoard/treealg"
)

// Status is the presence state of one path in one cave (spec §3).
type Status string

const (
	// AVAILABLE: the cave's current tree holds this path with a matching hash.
	AVAILABLE Status = "AVAILABLE"
	// GET: desired wants this path, current does not have it, and some
	// other cave already has it AVAILABLE - the push planner can copy it.
	GET Status = "GET"
	// COPY: desired wants this path but no cave has it AVAILABLE yet.
	COPY Status = "COPY"
	// CLEANUP: current holds this path but desired does not - scheduled
	// for deletion.
	CLEANUP Status = "CLEANUP"
	// UNKNOWN: this cave neither holds nor wants this path.
	UNKNOWN Status = "UNKNOWN"
)

// Index answers presence queries against a registry and ref store (spec
// §4.5 query surface).
type Index struct {
	objs objects.Reader
	rs   *refs.Store
	reg  *registry.Registry
}

func NewIndex(objs objects.Reader, rs *refs.Store, reg *registry.Registry) *Index {
	return &Index{objs: objs, rs: rs, reg: reg}
}

type caveProbe struct {
	cave      *registry.Cave
	relPath   []string
	curEntry  objects.TreeEntry
	curOK     bool
	desEntry  objects.TreeEntry
	desOK     bool
}

func (idx *Index) probe(path string) ([]caveProbe, error) {
	var probes []caveProbe
	for _, c := range idx.reg.List() {
		relPath, ok := registry.TrimMount(c.MountPoint, path)
		if !ok {
			continue
		}
		relParts := treealg.SplitPath(relPath)

		curID, err := idx.rs.Get(refs.Current(c.UUID))
		if err != nil {
			curID = objects.EmptyTreeID
		}
		curEntry, curOK, err := treealg.Lookup(idx.objs, curID, relParts)
		if err != nil {
			return nil, err
		}

		desID, err := idx.rs.Get(refs.Desired(c.UUID))
		if err != nil {
			desID = objects.EmptyTreeID
		}
		desEntry, desOK, err := treealg.Lookup(idx.objs, desID, relParts)
		if err != nil {
			return nil, err
		}

		probes = append(probes, caveProbe{
			cave: c, relPath: relParts,
			curEntry: curEntry, curOK: curOK,
			desEntry: desEntry, desOK: desOK,
		})
	}
	return probes, nil
}

// StatusAt returns the presence status of path in every cave that can
// logically hold it (those whose mount point is an ancestor of path).
func (idx *Index) StatusAt(path string) (map[string]Status, error) {
	probes, err := idx.probe(path)
	if err != nil {
		return nil, err
	}

	// A cave only counts as a source (AVAILABLE) when it both desires this
	// path and holds exactly the desired hash; a cave holding content it no
	// longer desires is CLEANUP, not a source, for reporting purposes (push
	// planning has its own, desire-independent notion of "who physically
	// holds this", see engine.Planner).
	anyAvailable := false
	for _, p := range probes {
		if p.desOK && p.curOK && p.curEntry.ID == p.desEntry.ID {
			anyAvailable = true
			break
		}
	}

	result := make(map[string]Status, len(probes))
	for _, p := range probes {
		switch {
		case p.desOK && p.curOK && p.curEntry.ID == p.desEntry.ID:
			result[p.cave.UUID] = AVAILABLE
		case p.desOK:
			if anyAvailable {
				result[p.cave.UUID] = GET
			} else {
				result[p.cave.UUID] = COPY
			}
		case p.curOK:
			result[p.cave.UUID] = CLEANUP
		default:
			result[p.cave.UUID] = UNKNOWN
		}
	}
	return result, nil
}

// NumSources reports how many caves hold path AVAILABLE (spec §4.5
// num_sources).
func (idx *Index) NumSources(path string) (uint64, error) {
	statuses, err := idx.StatusAt(path)
	if err != nil {
		return 0, err
	}
	var n uint64
	for _, s := range statuses {
		if s == AVAILABLE {
			n++
		}
	}
	return n, nil
}

// CountNonDeleted reports how many leaves exist under folder in head (spec
// §4.5 count_non_deleted). Everything reachable from HEAD is, by invariant
// I3, still wanted by at least one cave, so this is simply a leaf count.
func (idx *Index) CountNonDeleted(head objects.ID, folder string) (uint64, error) {
	count, _, err := idx.statsAt(head, folder)
	return count, err
}

// StatsInFolder returns the leaf count and total byte size under folder in
// head (spec §4.5 stats_in_folder), computed in a single walk.
func (idx *Index) StatsInFolder(head objects.ID, folder string) (count uint64, totalSize uint64, err error) {
	return idx.statsAt(head, folder)
}

func (idx *Index) statsAt(head objects.ID, folder string) (uint64, uint64, error) {
	entry, ok, err := treealg.Lookup(idx.objs, head, treealg.SplitPath(folder))
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, nil
	}
	var count, size uint64
	if entry.Kind == objects.KindFile {
		fe, err := idx.fileEntry(entry.ID)
		if err != nil {
			return 0, 0, err
		}
		return 1, fe.Size, nil
	}
	if err := treealg.Walk(idx.objs, entry.ID, func(l treealg.Leaf) error {
		count++
		size += l.Entry.Size
		return nil
	}); err != nil {
		return 0, 0, err
	}
	return count, size, nil
}

func (idx *Index) fileEntry(id objects.ID) (objects.FileEntry, error) {
	blob, err := idx.objs.Get(id)
	if err != nil {
		return objects.FileEntry{}, err
	}
	return objects.DecodeFileEntry(blob)
}

// UsedSize sums the size of every file in caveUUID's current tree (spec
// §4.5 used_size).
func (idx *Index) UsedSize(caveUUID string) (uint64, error) {
	curID, err := idx.rs.Get(refs.Current(caveUUID))
	if err != nil {
		return 0, nil
	}
	var size uint64
	if err := treealg.Walk(idx.objs, curID, func(l treealg.Leaf) error {
		size += l.Entry.Size
		return nil
	}); err != nil {
		return 0, err
	}
	return size, nil
}
