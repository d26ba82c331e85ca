package treealg

import (
	"sort"

	"github.com/madcowbg/hoard/objects"
)

// ZipEntry is one step of an n-ary tree zip (spec §4.2 tree-zip): the
// (path, [child_id...]) for one name present in at least one of the zipped
// roots. IDs[i] is objects.Null and Kinds[i] is the zero Kind when that root
// does not have this name.
type ZipEntry struct {
	Path  string
	Name  string
	IDs   []objects.ID
	Kinds []objects.Kind
}

// Present reports whether root i has this name at all.
func (e ZipEntry) Present(i int) bool { return !e.IDs[i].IsNull() }

// Same reports whether every present root has the identical child id here
// (spec §4.2: "Identical subtrees... short-circuit to same without
// descending").
func (e ZipEntry) Same() bool {
	var first objects.ID
	set := false
	for _, id := range e.IDs {
		if id.IsNull() {
			continue
		}
		if !set {
			first, set = id, true
			continue
		}
		if id != first {
			return false
		}
	}
	return true
}

// Visitor is called once per zipped name. Calling skip prevents the zip from
// descending into this name's subtree even if the entries differ (spec
// §4.2: "The consumer may call skip_handle() to prune a subtree it is
// uninterested in").
type Visitor func(entry ZipEntry, skip func()) error

// Zip walks n trees in lockstep, visiting every name present in the union of
// their top-level entries, recursively, in sorted name order. It never
// descends into a name where every present root has the same child id, nor
// into a name where every present root is a file (there is nothing beneath
// a file to zip).
func Zip(r objects.Reader, roots []objects.ID, visit Visitor) error {
	return zip(r, "", roots, visit)
}

func zip(r objects.Reader, prefix string, roots []objects.ID, visit Visitor) error {
	trees := make([]objects.Tree, len(roots))
	for i, root := range roots {
		t, err := getTree(r, root)
		if err != nil {
			return err
		}
		trees[i] = t
	}

	names := unionNames(trees)
	for _, name := range names {
		ids := make([]objects.ID, len(roots))
		kinds := make([]objects.Kind, len(roots))
		for i, t := range trees {
			if e, ok := t.ByName(name); ok {
				ids[i] = e.ID
				kinds[i] = e.Kind
			}
		}
		path := name
		if prefix != "" {
			path = prefix + "/" + name
		}
		entry := ZipEntry{Path: path, Name: name, IDs: ids, Kinds: kinds}

		skipped := false
		if err := visit(entry, func() { skipped = true }); err != nil {
			return err
		}
		if skipped || entry.Same() {
			continue
		}

		hasTree := false
		for i := range roots {
			if entry.Present(i) && kinds[i] == objects.KindTree {
				hasTree = true
				break
			}
		}
		if !hasTree {
			// Every present side is a file; any difference is a leaf-level
			// content/hash change, already reported via the visit above.
			continue
		}
		if err := zip(r, path, ids, visit); err != nil {
			return err
		}
	}
	return nil
}

func unionNames(trees []objects.Tree) []string {
	set := make(map[string]struct{})
	for _, t := range trees {
		for _, e := range t.Entries {
			set[e.Name] = struct{}{}
		}
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
