// Package treealg implements the pure tree-algebra primitives of spec §4.2:
// building a tree from a sorted path list, n-ary zip, subtree replace and
// path lookup. None of these functions touch refs or cave state; they only
// read and write through an objects.Reader/objects.Writer.
package treealg

import (
	"strings"

	"github.com/emirpasic/gods/maps/treemap"

	"github.com/madcowbg/hoard/objects"
)

// PathEntry is one leaf to place when building a tree from a sorted list
// (spec §4.2).
type PathEntry struct {
	Path  string // slash-separated, relative to the tree root, no leading slash
	Entry objects.FileEntry
}

// BuildFromSortedList builds a tree from entries pre-sorted by Path (spec
// §4.2: "The builder maintains a stack of in-progress directories"). The
// recursive grouping below achieves the same effect: each directory level is
// finalized exactly once, with one object store write per unique subtree
// touched.
func BuildFromSortedList(w objects.Writer, entries []PathEntry) (objects.ID, error) {
	t, err := build(w, entries)
	if err != nil {
		return objects.Null, err
	}
	return w.Put(t.Encode())
}

func build(w objects.Writer, entries []PathEntry) (objects.Tree, error) {
	// treemap.Map keeps entries ordered by name as they're inserted, which is
	// exactly the representation the canonical encoding needs (spec §4.1:
	// "entries sorted by name") -- no separate sort pass per directory.
	ordered := treemap.NewWithStringComparator()

	i := 0
	for i < len(entries) {
		full := entries[i].Path
		slash := strings.IndexByte(full, '/')
		if slash < 0 {
			id, err := w.Put(entries[i].Entry.Encode())
			if err != nil {
				return objects.Tree{}, err
			}
			ordered.Put(full, objects.TreeEntry{Name: full, Kind: objects.KindFile, ID: id})
			i++
			continue
		}

		dirName := full[:slash]
		prefix := dirName + "/"
		j := i
		var sub []PathEntry
		for j < len(entries) && strings.HasPrefix(entries[j].Path, prefix) {
			sub = append(sub, PathEntry{Path: entries[j].Path[len(prefix):], Entry: entries[j].Entry})
			j++
		}
		subtree, err := build(w, sub)
		if err != nil {
			return objects.Tree{}, err
		}
		id, err := w.Put(subtree.Encode())
		if err != nil {
			return objects.Tree{}, err
		}
		ordered.Put(dirName, objects.TreeEntry{Name: dirName, Kind: objects.KindTree, ID: id})
		i = j
	}

	entriesOut := make([]objects.TreeEntry, 0, ordered.Size())
	it := ordered.Iterator()
	for it.Next() {
		entriesOut = append(entriesOut, it.Value().(objects.TreeEntry))
	}
	return objects.NewTree(entriesOut), nil
}

func getTree(r objects.Reader, id objects.ID) (objects.Tree, error) {
	if id.IsNull() || id == objects.EmptyTreeID {
		return objects.Tree{}, nil
	}
	blob, err := r.Get(id)
	if err != nil {
		return objects.Tree{}, err
	}
	return objects.DecodeTree(blob)
}

func replaceEntry(entries []objects.TreeEntry, name string, newEntry *objects.TreeEntry) []objects.TreeEntry {
	out := make([]objects.TreeEntry, 0, len(entries)+1)
	found := false
	for _, e := range entries {
		if e.Name == name {
			found = true
			if newEntry != nil {
				out = append(out, *newEntry)
			}
			continue
		}
		out = append(out, e)
	}
	if !found && newEntry != nil {
		out = append(out, *newEntry)
	}
	return out
}
