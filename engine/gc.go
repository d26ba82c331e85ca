package engine

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/madcowbg/hoard/objects"
	"github.com/madcowbg/hoard/refs"
)

// GCStats reports what a GC pass found (spec §4.8).
type GCStats struct {
	Marked uint64
	Swept  uint64
}

// GC is a mark-and-sweep over the object store: every id reachable from any
// ref in RS is marked, and every unmarked id is deleted (spec §4.8). An
// aborted sweep leaves the object store consistent, since unreachable ids
// are always safe to retain.
func (e *Engine) GC(ctx context.Context) (GCStats, error) {
	marked, err := e.mark(ctx)
	if err != nil {
		return GCStats{}, err
	}

	var swept uint64
	err = e.Objects.ForEach(func(id objects.ID) error {
		if _, ok := marked[id]; ok {
			return nil
		}
		if err := e.Objects.Delete(id); err != nil {
			return err
		}
		swept++
		return nil
	})
	if err != nil {
		return GCStats{}, err
	}
	return GCStats{Marked: uint64(len(marked)), Swept: swept}, nil
}

// mark walks every ref's tree concurrently and returns the union of every
// id reached.
func (e *Engine) mark(ctx context.Context) (map[objects.ID]struct{}, error) {
	var roots []objects.ID
	if id, err := e.Refs.Get(refs.HEAD); err == nil {
		roots = append(roots, id)
	}
	for _, c := range e.Registry.List() {
		for _, name := range []refs.Name{refs.Current(c.UUID), refs.Staging(c.UUID), refs.Desired(c.UUID)} {
			if id, err := e.Refs.Get(name); err == nil {
				roots = append(roots, id)
			}
		}
	}

	var mu sync.Mutex
	marked := make(map[objects.ID]struct{})
	g, gctx := errgroup.WithContext(ctx)
	for _, root := range roots {
		root := root
		g.Go(func() error {
			return e.markTree(gctx, root, &mu, marked)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.WithField("count", len(marked)).Debug("GC mark phase complete")
	return marked, nil
}

func (e *Engine) markTree(ctx context.Context, root objects.ID, mu *sync.Mutex, marked map[objects.ID]struct{}) error {
	if root.IsNull() || root == objects.EmptyTreeID {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	mu.Lock()
	_, seen := marked[root]
	if !seen {
		marked[root] = struct{}{}
	}
	mu.Unlock()
	if seen {
		return nil
	}

	tr, err := e.Objects.GetTree(root)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range tr.Entries {
		entry := entry
		switch entry.Kind {
		case objects.KindTree:
			g.Go(func() error { return e.markTree(gctx, entry.ID, mu, marked) })
		case objects.KindFile:
			mu.Lock()
			marked[entry.ID] = struct{}{}
			mu.Unlock()
			g.Go(func() error { return e.markFileBlob(gctx, entry.ID, mu, marked) })
		}
	}
	return g.Wait()
}

// markFileBlob marks a FileEntry blob's own id; FileEntry encodes the
// content hash directly rather than pointing at a further blob, so there is
// nothing beneath it to recurse into - this exists purely so file entries
// go through the same marked-id bookkeeping as tree entries.
func (e *Engine) markFileBlob(_ context.Context, id objects.ID, mu *sync.Mutex, marked map[objects.ID]struct{}) error {
	mu.Lock()
	marked[id] = struct{}{}
	mu.Unlock()
	_, err := e.Objects.GetFileEntry(id)
	return err
}
