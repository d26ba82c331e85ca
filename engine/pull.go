// Package engine implements the reconciliation core: the pull engine, the
// push planner, reset/reset_with_existing and garbage collection (spec
// §4.3, §4.4, §4.7, §4.8).
package engine

import (
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/madcowbg/hoard/objects"
	"github.com/madcowbg/hoard/refs"
	"github.com/madcowbg/hoard/registry"
	"github.com/madcowbg/hoard/treealg"
)

// ErrStaleEpoch names the epoch pre-check condition (spec §4.3, I5). Pull
// does not return it: a skipped pull sets Result.Skipped and reports the
// line "Skipping update" instead.
var ErrStaleEpoch = errors.New("stale epoch")

// ErrHashConflict aborts a pull with no state change (spec §7 propagation
// policy).
var ErrHashConflict = errors.New("hash conflict")

// Engine reconciles cave scans into the hoard (spec §4.3).
type Engine struct {
	Objects  *objects.Store
	Refs     *refs.Store
	Registry *registry.Registry
}

func New(objs *objects.Store, rs *refs.Store, reg *registry.Registry) *Engine {
	return &Engine{Objects: objs, Refs: rs, Registry: reg}
}

// Options mirror the `hoard contents pull` CLI flags (spec §6).
type Options struct {
	IgnoreEpoch            bool
	AssumeCurrent          bool
	ForceFetchLocalMissing bool
}

// Result reports what a Pull did, including its bit-stable log lines (spec
// §4.3 "Emitted log lines").
type Result struct {
	Skipped bool
	Lines   []string
}

// Pull absorbs cave's refreshed staging tree into the hoard (spec §4.3).
// epoch is the epoch accompanying this staging write, as produced by the
// scanner (spec §6).
func (e *Engine) Pull(cave *registry.Cave, stagingID objects.ID, epoch uint64, opts Options) (Result, error) {
	entry := log.WithFields(log.Fields{"op": "Pull", "cave": cave.Name})

	if !opts.IgnoreEpoch && (stagingID == cave.LastPulledStagingID || epoch <= cave.LastAcceptedEpoch) {
		entry.Info("Skipping update")
		return Result{Skipped: true, Lines: []string{"Skipping update"}}, nil
	}

	headID, err := e.Refs.Get(refs.HEAD)
	if err != nil {
		headID = objects.EmptyTreeID
	}
	mountParts := treealg.SplitPath(cave.MountPoint)
	headSubEntry, headSubExists, err := treealg.Lookup(e.Objects, headID, mountParts)
	if err != nil {
		return Result{}, fmt.Errorf("looking up mount %q in HEAD: %w", cave.MountPoint, err)
	}
	headSubID := objects.EmptyTreeID
	if headSubExists {
		headSubID = headSubEntry.ID
	}

	curID, err := e.Refs.Get(refs.Current(cave.UUID))
	if err != nil {
		curID = objects.EmptyTreeID
	}

	otxn := e.Objects.Begin()
	p := &pullState{
		engine:     e,
		cave:       cave,
		otxn:       otxn,
		mountParts: mountParts,
		newHeadSub: headSubID,
		newCurrent: curID,
		desired:    make(map[string]objects.ID),
		desiredSet: make(map[string]bool),
	}

	err = treealg.Zip(e.Objects, []objects.ID{headSubID, stagingID, curID}, p.visit)
	if err != nil {
		return Result{}, err
	}

	if len(p.conflicts) > 0 && !opts.AssumeCurrent {
		return Result{}, fmt.Errorf("%w: %v", ErrHashConflict, p.conflicts)
	}

	if cave.FetchNew {
		p.desired[cave.UUID] = p.newHeadSub
	}

	newHeadID, err := treealg.Replace(otxn, headID, mountParts, p.newHeadSub)
	if err != nil {
		return Result{}, err
	}

	rtxn := e.Refs.Begin()
	rtxn.Set(refs.Current(cave.UUID), p.newCurrent)
	for uuid, id := range p.desired {
		rtxn.Set(refs.Desired(uuid), id)
	}
	rtxn.SetHead(newHeadID)

	if err := otxn.Commit(); err != nil {
		return Result{}, fmt.Errorf("committing objects: %w", err)
	}
	if err := rtxn.Commit(); err != nil {
		return Result{}, fmt.Errorf("committing refs: %w", err)
	}

	cave.LastAcceptedEpoch = epoch
	cave.LastPulledStagingID = stagingID

	for _, line := range p.lines {
		entry.Debug(line)
	}
	return Result{Lines: p.lines}, nil
}

type pullState struct {
	engine     *Engine
	cave       *registry.Cave
	otxn       *objects.Txn
	mountParts []string

	newHeadSub objects.ID
	newCurrent objects.ID
	// desired collects staged writes to OTHER caves' desired refs (spec
	// §4.3 role rules); keyed by cave uuid, including this cave's own
	// desired update when FetchNew applies.
	desired map[string]objects.ID
	// desiredSet remembers which uuids in desired have already been seeded
	// from their committed ref, so a second touch of the same peer within
	// one pull extends the first touch's tree instead of the stale one.
	desiredSet map[string]bool

	lines     []string
	conflicts []string
}

// extendPeerDesired assigns absPath to fe in the desired tree of every
// registered FULL (with fetch_new) or BACKUP cave whose mount covers it,
// other than the pulling cave itself (spec §4.3 "files present only here
// become COPY for the assigned full/backup caves").
func (p *pullState) extendPeerDesired(absPath string, fe objects.FileEntry) error {
	for _, c := range p.engine.Registry.List() {
		if c.UUID == p.cave.UUID {
			continue
		}
		if !(c.Role == registry.RoleBackup || (c.Role == registry.RoleFull && c.FetchNew)) {
			continue
		}
		rel, ok := registry.TrimMount(c.MountPoint, absPath)
		if !ok {
			continue
		}

		id, seeded := p.desired[c.UUID]
		if !seeded && !p.desiredSet[c.UUID] {
			var err error
			id, err = p.engine.Refs.Get(refs.Desired(c.UUID))
			if err != nil {
				id = objects.EmptyTreeID
			}
			p.desiredSet[c.UUID] = true
		}

		newID, err := treealg.PutFile(p.otxn, id, treealg.SplitPath(rel), fe)
		if err != nil {
			return err
		}
		p.desired[c.UUID] = newID
	}
	return nil
}

// visit is the treealg.Visitor driving the three-way reconciliation (spec
// §4.3 table). It is only ever called with a leaf-level decision: Zip never
// recurses past a name where every present side is a file.
func (p *pullState) visit(entry treealg.ZipEntry, skip func()) error {
	hPresent, sPresent, curPresent := entry.Present(0), entry.Present(1), entry.Present(2)
	h, s, cur := entry.IDs[0], entry.IDs[1], entry.IDs[2]
	absPath := treealg.JoinPath(append(append([]string{}, p.mountParts...), treealg.SplitPath(entry.Path)...))

	put := func(id objects.ID, toHead, toCurrent bool) error {
		fe, err := p.engine.Objects.GetFileEntry(id)
		if err != nil {
			return err
		}
		parts := treealg.SplitPath(entry.Path)
		if toHead {
			if p.newHeadSub, err = treealg.PutFile(p.otxn, p.newHeadSub, parts, fe); err != nil {
				return err
			}
		}
		if toCurrent {
			if p.newCurrent, err = treealg.PutFile(p.otxn, p.newCurrent, parts, fe); err != nil {
				return err
			}
		}
		return nil
	}

	incoming := p.cave.Role == registry.RoleIncoming

	switch {
	case !hPresent && sPresent:
		// Added in C, or locally new (table rows 1, 3): register it in H.
		if err := put(s, true, true); err != nil {
			return err
		}
		if incoming {
			// This cave holds files nobody else has yet; the assigned
			// full/backup caves need to know to COPY them (spec §4.3
			// "files present only here become COPY for the assigned
			// full/backup caves").
			fe, err := p.engine.Objects.GetFileEntry(s)
			if err != nil {
				return err
			}
			if err := p.extendPeerDesired(absPath, fe); err != nil {
				return err
			}
			p.lines = append(p.lines, "<+"+absPath)
		} else {
			p.lines = append(p.lines, "+"+absPath)
		}

	case !hPresent && !sPresent && curPresent:
		// Present only in this cave's stale current, absent from both H
		// and the fresh scan: drop it, nothing to reconcile against H.
		newCur, err := treealg.Remove(p.otxn, p.newCurrent, treealg.SplitPath(entry.Path))
		if err != nil {
			return err
		}
		p.newCurrent = newCur
		p.lines = append(p.lines, "-"+absPath)

	case incoming && hPresent && sPresent:
		// An incoming cave never disagrees with H: its scan is always the
		// source of truth for content it still reports, whether that
		// content already matches H (row 2, generalized) or diverges from
		// it (row 5/6, generalized: an incoming source is never a
		// three-way conflict, only ever a fresh update). Current is set
		// to S either way so the swept path is recognized as "available
		// here" until a later push's CLEANUP removes it (spec §4.3 "any
		// file here that is available elsewhere ... is flagged CLEANUP").
		if h == s {
			if err := put(s, false, true); err != nil {
				return err
			}
			p.lines = append(p.lines, "-"+absPath)
		} else {
			if err := put(s, true, true); err != nil {
				return err
			}
			fe, err := p.engine.Objects.GetFileEntry(s)
			if err != nil {
				return err
			}
			if err := p.extendPeerDesired(absPath, fe); err != nil {
				return err
			}
			p.lines = append(p.lines, "u "+absPath)
		}

	case hPresent && sPresent && h == s:
		// Already equal (table row 2). Current still needs to reflect S
		// in case it previously diverged.
		if !curPresent || cur != s {
			if err := put(s, false, true); err != nil {
				return err
			}
		}
		p.lines = append(p.lines, "="+absPath)

	case hPresent && !sPresent:
		// Locally deleted, or dangling (table rows 4, 7): this cave no
		// longer reports the file.
		newCur, err := treealg.Remove(p.otxn, p.newCurrent, treealg.SplitPath(entry.Path))
		if err != nil {
			return err
		}
		p.newCurrent = newCur

		if p.cave.Role != registry.RoleBackup {
			holder, err := p.otherCaveHolds(absPath, p.cave.UUID)
			if err != nil {
				return err
			}
			if !holder {
				newSub, err := treealg.Remove(p.otxn, p.newHeadSub, treealg.SplitPath(entry.Path))
				if err != nil {
					return err
				}
				p.newHeadSub = newSub
			}
		}
		if curPresent {
			// Row 4, "locally deleted": this cave tracked the file
			// before and no longer does. Row 7, "dangling" (never
			// tracked here), produces no line at all.
			p.lines = append(p.lines, "-"+absPath)
		}

	case hPresent && sPresent && curPresent && h != s && (cur == h || cur == s):
		// Changed under us, or H simply catching up to a cur that was
		// already synced to s in an earlier, interrupted pull (table row
		// 5, generalized).
		if err := put(s, true, true); err != nil {
			return err
		}
		p.lines = append(p.lines, "u "+absPath)

	case hPresent && sPresent && h != s:
		// Conflict (table row 6, plus the edge case of Cur being absent
		// entirely): Cur (when present) diverges from both H and S, or
		// there is no recorded Cur to resolve the disagreement with.
		p.conflicts = append(p.conflicts, absPath)
		// Resolved below only if AssumeCurrent; otherwise Pull aborts
		// before any of this matters. Prefer Cur as the assumed-correct
		// value; fall back to the existing H value if Cur is unset.
		resolved := cur
		if !curPresent {
			resolved = h
		}
		if err := put(resolved, true, true); err != nil {
			return err
		}
		p.lines = append(p.lines, "RESETTING "+absPath)

	default:
		// Nothing present on any side once reaching a leaf entry only
		// happens if Zip's name-union logic is out of sync with this
		// switch; treated as a no-op rather than a panic.
	}
	return nil
}

// otherCaveHolds reports whether any registered cave other than exclude
// holds path (HEAD-absolute) in its current tree (spec §4.3 "if no other
// cave holds f, remove f from H").
func (p *pullState) otherCaveHolds(path string, exclude string) (bool, error) {
	for _, c := range p.engine.Registry.List() {
		if c.UUID == exclude {
			continue
		}
		rel, ok := registry.TrimMount(c.MountPoint, path)
		if !ok {
			continue
		}
		curID, err := p.engine.Refs.Get(refs.Current(c.UUID))
		if err != nil {
			continue
		}
		_, found, err := treealg.Lookup(p.engine.Objects, curID, treealg.SplitPath(rel))
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}
