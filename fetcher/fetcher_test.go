package fetcher

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/madcowbg/hoard/engine"
)

func TestApplyCopyMaterializesFile(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	require.NoError(t, ioutil.WriteFile(filepath.Join(src, "a.txt"), []byte("hello"), 0600))

	f := NewLocal(3, 0)
	res := f.Apply(context.Background(), dst, func(uuid string) string {
		if uuid == "src" {
			return src
		}
		return ""
	}, engine.Op{Kind: engine.OpCopy, Path: "a.txt", From: "src"})

	require.Equal(t, OutcomeOK, res.Outcome)
	b, err := ioutil.ReadFile(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))
}

func TestApplyCopyReportsMissingSource(t *testing.T) {
	dst := t.TempDir()
	f := NewLocal(1, 0)
	res := f.Apply(context.Background(), dst, func(uuid string) string { return "" },
		engine.Op{Kind: engine.OpCopy, Path: "a.txt", From: "src"})
	require.Equal(t, OutcomeMissingSource, res.Outcome)
}

func TestApplyDeleteIsIdempotent(t *testing.T) {
	dst := t.TempDir()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dst, "a.txt"), []byte("x"), 0600))

	f := NewLocal(1, 0)
	res := f.Apply(context.Background(), dst, nil, engine.Op{Kind: engine.OpDelete, Path: "a.txt"})
	require.Equal(t, OutcomeOK, res.Outcome)
	_, err := os.Stat(filepath.Join(dst, "a.txt"))
	require.True(t, os.IsNotExist(err))

	res = f.Apply(context.Background(), dst, nil, engine.Op{Kind: engine.OpDelete, Path: "a.txt"})
	require.Equal(t, OutcomeOK, res.Outcome, "deleting an already-absent file is a no-op success")
}

func TestApplyMissingSourceDoesNotRetry(t *testing.T) {
	dst := t.TempDir()
	calls := 0
	f := NewLocal(5, 0)
	res := f.Apply(context.Background(), dst, func(uuid string) string {
		calls++
		return ""
	}, engine.Op{Kind: engine.OpCopy, Path: "a.txt", From: "src"})

	require.Equal(t, OutcomeMissingSource, res.Outcome)
	require.Equal(t, 1, calls, "missing_source is reported at once, not a fetcher retry target")
}
