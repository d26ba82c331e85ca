package treealg

import (
	"strings"

	"github.com/madcowbg/hoard/objects"
)

// SplitPath turns a slash-separated relative path into its components.
// An empty path yields no components (the root itself).
func SplitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// JoinPath is the inverse of SplitPath.
func JoinPath(components []string) string {
	return strings.Join(components, "/")
}

// Replace rebuilds only the path spine from root to the named path,
// grafting newSubtree at that path and sharing every other subtree
// untouched (spec §4.2 subtree replace). Used by move_mounts and by the
// pull engine to add/update a path's H-side tree.
func Replace(rw objects.ReadWriter, root objects.ID, path []string, newSubtree objects.ID) (objects.ID, error) {
	return putID(rw, root, path, objects.KindTree, newSubtree)
}

// PutFile is Replace specialized for setting a single file leaf (spec §4.3:
// registering a new or changed file at a path).
func PutFile(rw objects.ReadWriter, root objects.ID, path []string, fe objects.FileEntry) (objects.ID, error) {
	fid, err := rw.Put(fe.Encode())
	if err != nil {
		return objects.Null, err
	}
	return putID(rw, root, path, objects.KindFile, fid)
}

func putID(rw objects.ReadWriter, root objects.ID, path []string, kind objects.Kind, id objects.ID) (objects.ID, error) {
	if len(path) == 0 {
		return id, nil
	}
	tr, err := getTree(rw, root)
	if err != nil {
		return objects.Null, err
	}
	name := path[0]
	if len(path) == 1 {
		entries := replaceEntry(tr.Entries, name, &objects.TreeEntry{Name: name, Kind: kind, ID: id})
		return rw.Put(objects.NewTree(entries).Encode())
	}
	childRoot := objects.Null
	if e, ok := tr.ByName(name); ok {
		childRoot = e.ID
	}
	newChildID, err := putID(rw, childRoot, path[1:], kind, id)
	if err != nil {
		return objects.Null, err
	}
	entries := replaceEntry(tr.Entries, name, &objects.TreeEntry{Name: name, Kind: objects.KindTree, ID: newChildID})
	return rw.Put(objects.NewTree(entries).Encode())
}

// Remove deletes the leaf (file or now-empty subtree) at path, pruning any
// directory that becomes empty as a result, and sharing everything else
// (spec §4.2 subtree replace, used in reverse for deletion).
func Remove(rw objects.ReadWriter, root objects.ID, path []string) (objects.ID, error) {
	if len(path) == 0 {
		return objects.EmptyTreeID, nil
	}
	tr, err := getTree(rw, root)
	if err != nil {
		return objects.Null, err
	}
	name := path[0]
	entry, ok := tr.ByName(name)
	if !ok {
		return root, nil
	}
	if len(path) == 1 {
		entries := replaceEntry(tr.Entries, name, nil)
		return rw.Put(objects.NewTree(entries).Encode())
	}
	newChildID, err := Remove(rw, entry.ID, path[1:])
	if err != nil {
		return objects.Null, err
	}
	var entries []objects.TreeEntry
	if newChildID == objects.EmptyTreeID {
		entries = replaceEntry(tr.Entries, name, nil)
	} else {
		entries = replaceEntry(tr.Entries, name, &objects.TreeEntry{Name: name, Kind: objects.KindTree, ID: newChildID})
	}
	return rw.Put(objects.NewTree(entries).Encode())
}
