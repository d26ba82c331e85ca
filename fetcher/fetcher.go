// Package fetcher carries out the push planner's ordered Copy/Delete ops
// against real cave directories and reports a per-op Outcome, retrying
// transient I/O errors with a short sleep between attempts.
package fetcher

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/madcowbg/hoard/engine"
)

// Outcome is the result of attempting one Op (spec §6 Fetcher contract).
type Outcome string

const (
	OutcomeOK            Outcome = "ok"
	OutcomeMissingSource Outcome = "missing_source"
	OutcomeIOError       Outcome = "io_error"
)

// Result pairs an Op with its Outcome and, for io_error, a message.
type Result struct {
	Op      engine.Op
	Outcome Outcome
	Message string
}

// Fetcher carries out push ops against real cave directories.
type Fetcher interface {
	Apply(ctx context.Context, dstRoot string, srcRootOf func(caveUUID string) string, op engine.Op) Result
}

// Local copies/deletes regular files between local directories, retrying a
// transient failure a fixed number of times with a short sleep between
// attempts.
type Local struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// NewLocal returns a Local fetcher. MaxAttempts defaults to 5 if non-positive.
func NewLocal(maxAttempts int, retryDelay time.Duration) *Local {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if retryDelay <= 0 {
		retryDelay = 100 * time.Millisecond
	}
	return &Local{MaxAttempts: maxAttempts, RetryDelay: retryDelay}
}

var _ Fetcher = (*Local)(nil)

// Apply performs op, retrying transient errors up to MaxAttempts times.
func (l *Local) Apply(ctx context.Context, dstRoot string, srcRootOf func(caveUUID string) string, op engine.Op) Result {
	var last Result
	for attempt := 0; attempt < l.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{Op: op, Outcome: OutcomeIOError, Message: ctx.Err().Error()}
			case <-time.After(l.RetryDelay):
			}
		}
		last = l.attempt(dstRoot, srcRootOf, op)
		if last.Outcome == OutcomeOK || last.Outcome == OutcomeMissingSource {
			return last
		}
		log.WithFields(log.Fields{"op": op.Kind, "path": op.Path, "attempt": attempt + 1}).
			WithError(errorFor(last)).Debug("Retrying fetcher op")
	}
	return last
}

func errorFor(r Result) error {
	if r.Message == "" {
		return nil
	}
	return errString(r.Message)
}

type errString string

func (e errString) Error() string { return string(e) }

func (l *Local) attempt(dstRoot string, srcRootOf func(caveUUID string) string, op engine.Op) Result {
	dstPath := filepath.Join(dstRoot, filepath.FromSlash(op.Path))

	switch op.Kind {
	case engine.OpDelete:
		if err := os.Remove(dstPath); err != nil {
			if os.IsNotExist(err) {
				return Result{Op: op, Outcome: OutcomeOK}
			}
			return Result{Op: op, Outcome: OutcomeIOError, Message: err.Error()}
		}
		return Result{Op: op, Outcome: OutcomeOK}

	case engine.OpCopy:
		srcRoot := srcRootOf(op.From)
		if srcRoot == "" {
			return Result{Op: op, Outcome: OutcomeMissingSource}
		}
		srcPath := filepath.Join(srcRoot, filepath.FromSlash(op.Path))
		if err := copyFile(srcPath, dstPath); err != nil {
			if os.IsNotExist(err) {
				return Result{Op: op, Outcome: OutcomeMissingSource}
			}
			return Result{Op: op, Outcome: OutcomeIOError, Message: err.Error()}
		}
		return Result{Op: op, Outcome: OutcomeOK}

	default:
		return Result{Op: op, Outcome: OutcomeIOError, Message: "unknown op kind"}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return err
	}
	tmp, err := ioutil.TempFile(filepath.Dir(dst), ".fetch.*.tmp")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
