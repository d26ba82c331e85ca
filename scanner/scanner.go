// Package scanner implements the external scanner contract of spec §6:
// refresh() hashes a cave's local filesystem into a tree object, writes it
// to the cave's staging ref, and bumps its epoch. It is a full rescan every
// time (§E.2 of SPEC_FULL.md): there is no incremental mode, so a deleted
// file simply never reappears in the next tree.
package scanner

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/madcowbg/hoard/config"
	"github.com/madcowbg/hoard/objects"
	"github.com/madcowbg/hoard/refs"
	"github.com/madcowbg/hoard/registry"
	"github.com/madcowbg/hoard/treealg"
)

// Scanner is the contract a cave implements to report its local filesystem
// state (spec §6 Scanner contract).
type Scanner interface {
	// Refresh walks the cave's root, hashes every regular file, writes the
	// resulting tree to the cave's staging ref, bumps its epoch, and
	// returns (staging id, epoch).
	Refresh(ctx context.Context) (objects.ID, uint64, error)
}

// Local is a Scanner backed by a real directory tree (spec §6: "for each
// regular file it reports (relative_path, content_hash, size) sorted").
type Local struct {
	Root string
	Cave *registry.Cave
	Objs *objects.Store
	Refs *refs.Store
}

func NewLocal(root string, cave *registry.Cave, objs *objects.Store, rs *refs.Store) *Local {
	return &Local{Root: root, Cave: cave, Objs: objs, Refs: rs}
}

var _ Scanner = (*Local)(nil)

// Refresh performs a full rescan of l.Root (spec §6, open question 2: a
// full-rescan contract never leaves stale entries, unlike the source's
// incremental daemon-triggered refresh).
func (l *Local) Refresh(ctx context.Context) (objects.ID, uint64, error) {
	entry := log.WithFields(log.Fields{"op": "Refresh", "cave": l.Cave.Name, "root": l.Root})

	if !config.CaveInitialized(l.Root) {
		return objects.Null, 0, errors.Wrapf(config.ErrUninitializedRepo, l.Root)
	}

	var paths []string
	err := filepath.Walk(l.Root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if fi.IsDir() {
			if fi.Name() == config.MetadataDirName() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(l.Root, p)
		if err != nil {
			return err
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return objects.Null, 0, errors.Wrapf(err, "walking %q", l.Root)
	}
	sort.Strings(paths)

	entries := make([]treealg.PathEntry, 0, len(paths))
	for _, rel := range paths {
		full := filepath.Join(l.Root, rel)
		content, err := ioutil.ReadFile(full)
		if err != nil {
			return objects.Null, 0, errors.Wrapf(err, "reading %q", full)
		}
		fe := objects.FileEntry{ContentHash: objects.Hash(content)[:], Size: uint64(len(content))}
		entries = append(entries, treealg.PathEntry{Path: filepath.ToSlash(rel), Entry: fe})
	}

	stagingID, err := treealg.BuildFromSortedList(l.Objs, entries)
	if err != nil {
		return objects.Null, 0, err
	}

	l.Cave.Epoch++
	if err := l.Refs.Set(refs.Staging(l.Cave.UUID), stagingID); err != nil {
		return objects.Null, 0, err
	}

	entry.WithFields(log.Fields{"files": len(entries), "epoch": l.Cave.Epoch, "staging": stagingID.ShortHex()}).
		Info("Refreshed cave")
	return stagingID, l.Cave.Epoch, nil
}
