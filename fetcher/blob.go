package fetcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/madcowbg/hoard/engine"
	"github.com/madcowbg/hoard/storage"
)

// Blob carries out push ops against a storage.Store instead of a locally
// reachable directory: the fetcher for a BACKUP cave whose physical content
// lives in a cloud archive (spec §4.4's "cave" is abstract about where an
// op's content ends up; a cave with no local root still needs one).
// Keys are the op's mount-relative path, so the fetcher contract in spec §6
// ("Input: an ordered list of Op... Output: per-op Outcome") holds
// unchanged regardless of which Fetcher carries it out.
type Blob struct {
	Store storage.Store
}

func NewBlob(store storage.Store) *Blob {
	return &Blob{Store: store}
}

var _ Fetcher = (*Blob)(nil)

// Apply ignores dstRoot (the blob store has no directory of its own) and
// reads COPY sources straight off the source cave's local filesystem root.
func (b *Blob) Apply(_ context.Context, _ string, srcRootOf func(caveUUID string) string, op engine.Op) Result {
	switch op.Kind {
	case engine.OpDelete:
		if err := b.Store.Delete(storage.Key(op.Path)); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return Result{Op: op, Outcome: OutcomeIOError, Message: err.Error()}
		}
		return Result{Op: op, Outcome: OutcomeOK}

	case engine.OpCopy:
		srcRoot := srcRootOf(op.From)
		if srcRoot == "" {
			return Result{Op: op, Outcome: OutcomeMissingSource}
		}
		contents, err := os.ReadFile(filepath.Join(srcRoot, filepath.FromSlash(op.Path)))
		if err != nil {
			if os.IsNotExist(err) {
				return Result{Op: op, Outcome: OutcomeMissingSource}
			}
			return Result{Op: op, Outcome: OutcomeIOError, Message: err.Error()}
		}
		if err := b.Store.Put(storage.Key(op.Path), contents); err != nil {
			return Result{Op: op, Outcome: OutcomeIOError, Message: err.Error()}
		}
		return Result{Op: op, Outcome: OutcomeOK}

	default:
		return Result{Op: op, Outcome: OutcomeIOError, Message: "unknown op kind"}
	}
}
