package engine

import (
	"github.com/madcowbg/hoard/objects"
	"github.com/madcowbg/hoard/refs"
	"github.com/madcowbg/hoard/registry"
	"github.com/madcowbg/hoard/treealg"
)

// Reset clears every pending GET/COPY for cave by setting its desired to its
// current (spec §4.7: "reset(C) clears every pending GET/COPY for C (sets
// C.desired <- C.current)").
func (e *Engine) Reset(cave *registry.Cave) error {
	curID, err := e.Refs.Get(refs.Current(cave.UUID))
	if err != nil {
		curID = objects.EmptyTreeID
	}
	return e.Refs.Set(refs.Desired(cave.UUID), curID)
}

// ResetWithExisting sets cave's desired to exactly the files, within its
// mount, that are currently available (AVAILABLE) in any cave (spec §4.7:
// "used to make a cave's declared desired match what is globally
// reachable").
func (e *Engine) ResetWithExisting(cave *registry.Cave) error {
	mountParts := treealg.SplitPath(cave.MountPoint)
	headID, err := e.Refs.Get(refs.HEAD)
	if err != nil {
		headID = objects.EmptyTreeID
	}
	headSubEntry, ok, err := treealg.Lookup(e.Objects, headID, mountParts)
	if err != nil {
		return err
	}
	if !ok {
		return e.Refs.Set(refs.Desired(cave.UUID), objects.EmptyTreeID)
	}

	var leaves []treealg.Leaf
	if err := treealg.Walk(e.Objects, headSubEntry.ID, func(l treealg.Leaf) error {
		leaves = append(leaves, l)
		return nil
	}); err != nil {
		return err
	}

	otxn := e.Objects.Begin()
	newDesired := objects.EmptyTreeID
	for _, leaf := range leaves {
		absPath := treealg.JoinPath(append(append([]string{}, mountParts...), treealg.SplitPath(leaf.Path)...))
		held, err := e.anyCaveHolds(absPath)
		if err != nil {
			return err
		}
		if !held {
			continue
		}
		newDesired, err = treealg.PutFile(otxn, newDesired, treealg.SplitPath(leaf.Path), leaf.Entry)
		if err != nil {
			return err
		}
	}
	if err := otxn.Commit(); err != nil {
		return err
	}
	return e.Refs.Set(refs.Desired(cave.UUID), newDesired)
}

func (e *Engine) anyCaveHolds(absPath string) (bool, error) {
	for _, c := range e.Registry.List() {
		rel, ok := registry.TrimMount(c.MountPoint, absPath)
		if !ok {
			continue
		}
		curID, err := e.Refs.Get(refs.Current(c.UUID))
		if err != nil {
			continue
		}
		_, found, err := treealg.Lookup(e.Objects, curID, treealg.SplitPath(rel))
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}
