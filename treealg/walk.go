package treealg

import "github.com/madcowbg/hoard/objects"

// Lookup resolves path (already split into components) from root, returning
// the matched entry. ok is false if any component is absent.
func Lookup(r objects.Reader, root objects.ID, path []string) (objects.TreeEntry, bool, error) {
	if len(path) == 0 {
		return objects.TreeEntry{Kind: objects.KindTree, ID: root}, true, nil
	}
	tr, err := getTree(r, root)
	if err != nil {
		return objects.TreeEntry{}, false, err
	}
	entry, ok := tr.ByName(path[0])
	if !ok {
		return objects.TreeEntry{}, false, nil
	}
	if len(path) == 1 {
		return entry, true, nil
	}
	if entry.Kind != objects.KindTree {
		return objects.TreeEntry{}, false, nil
	}
	return Lookup(r, entry.ID, path[1:])
}

// Leaf describes one regular file reached while walking a tree (used by
// scanners and by status/ls style reporting).
type Leaf struct {
	Path  string
	Entry objects.FileEntry
}

// Walk visits every regular file under root in sorted order, depth first.
func Walk(r objects.Reader, root objects.ID, visit func(Leaf) error) error {
	return walk(r, "", root, visit)
}

func walk(r objects.Reader, prefix string, root objects.ID, visit func(Leaf) error) error {
	tr, err := getTree(r, root)
	if err != nil {
		return err
	}
	for _, e := range tr.Entries {
		p := e.Name
		if prefix != "" {
			p = prefix + "/" + e.Name
		}
		if e.Kind == objects.KindFile {
			blob, err := r.Get(e.ID)
			if err != nil {
				return err
			}
			fe, err := objects.DecodeFileEntry(blob)
			if err != nil {
				return err
			}
			if err := visit(Leaf{Path: p, Entry: fe}); err != nil {
				return err
			}
			continue
		}
		if err := walk(r, p, e.ID, visit); err != nil {
			return err
		}
	}
	return nil
}
