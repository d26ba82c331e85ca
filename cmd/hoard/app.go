// Command hoard is the admin-side CLI of spec §6: registry maintenance
// (remotes, move_mounts, clone), reconciliation (contents pull/reset/get),
// push planning and execution (files push/sync_contents/pending), backup
// health and garbage collection.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/madcowbg/hoard/config"
	"github.com/madcowbg/hoard/engine"
	"github.com/madcowbg/hoard/objects"
	"github.com/madcowbg/hoard/refs"
	"github.com/madcowbg/hoard/registry"
	"github.com/madcowbg/hoard/storage"
)

// app bundles the stores a hoard command needs, opened fresh for every
// invocation (spec §4.3 Concurrency model: single external writer, so there
// is no long-lived daemon state to share between CLI invocations).
type app struct {
	base string
	cfg  *config.C
	objs *objects.Store
	rs   *refs.Store
	reg  *registry.Registry
	eng  *engine.Engine
	pl   *engine.Planner

	// blobStore lazily backs fetcher.Blob, for caves with no locally
	// reachable root (a cloud BACKUP cave's archive). Built on first use
	// since most invocations never push to one.
	blobStore storage.Store

	// rootOverrides holds roots set during this invocation (e.g. add_remote
	// --root) before they are merged back into cfg.Caves by persistRegistry.
	rootOverrides map[string]string
}

// openBlobStore builds the permanent-tier store a.cfg.Storage names, fronted
// by a local disk cache (spec: "Paired protects a local cache" in front of
// a BACKUP cave's cloud archive). Built once per app and reused across ops.
func (a *app) openBlobStore() (storage.Store, error) {
	if a.blobStore != nil {
		return a.blobStore, nil
	}
	permanent, err := storage.New(a.cfg.ToStorageConfig())
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(a.cfg.BlobCacheDirectoryPath(), 0700); err != nil {
		return nil, errors.Wrapf(err, "creating blob cache dir")
	}
	paired, err := storage.NewPaired(storage.NewDiskStore(a.cfg.BlobCacheDirectoryPath()), permanent, a.cfg.BlobPropagationLogPath())
	if err != nil {
		return nil, errors.Wrapf(err, "opening paired blob store")
	}
	a.blobStore = paired
	return a.blobStore, nil
}

// usageError causes main to exit 2 (spec §6: "Exit codes: 0 success; 2
// usage").
type usageError struct{ error }

func usageErrorf(format string, args ...interface{}) error {
	return usageError{fmt.Errorf(format, args...)}
}

// invariantError causes main to exit 3 (spec §6: "3 failed invariant, e.g.
// conflicting file hashes").
type invariantError struct{ error }

func invariantErrorf(err error) error { return invariantError{err} }

func openApp(base string) (*app, error) {
	cfg, err := config.Load(base)
	if err != nil {
		return nil, errors.Wrapf(err, "loading hoard config at %q (did you run 'hoard init'?)", base)
	}
	reg, err := cfg.BuildRegistry()
	if err != nil {
		return nil, err
	}

	objStore := objects.NewStore(storage.NewDiskStore(cfg.ObjectStoreDirectoryPath()))
	refStore := refs.NewStore(storage.NewDiskStore(cfg.RefStoreDirectoryPath()))

	return &app{
		base: base,
		cfg:  cfg,
		objs: objStore,
		rs:   refStore,
		reg:  reg,
		eng:  engine.New(objStore, refStore, reg),
		pl:   engine.NewPlanner(objStore, refStore, reg),
	}, nil
}

// persistRegistry writes the registry's current cave records back to the
// hoard config file, so that epoch/fetch_new/mount_point changes made during
// this invocation (e.g. move_mounts) survive to the next one. Root, which
// SetCavesFromRegistry does not know about, is preserved across the rebuild.
func (a *app) persistRegistry() error {
	roots := make(map[string]string, len(a.cfg.Caves))
	for _, ce := range a.cfg.Caves {
		roots[ce.UUID] = ce.Root
	}
	for uuid, root := range a.rootOverrides {
		roots[uuid] = root
	}
	a.cfg.SetCavesFromRegistry(a.reg)
	for i := range a.cfg.Caves {
		a.cfg.Caves[i].Root = roots[a.cfg.Caves[i].UUID]
	}
	return config.Save(a.base, a.cfg)
}

// setRoot records uuid's physical root for this invocation; persistRegistry
// carries it into the saved config.
func (a *app) setRoot(uuid, root string) {
	if a.rootOverrides == nil {
		a.rootOverrides = make(map[string]string)
	}
	a.rootOverrides[uuid] = root
}

// rootOf returns uuid's known physical root, or "" if this host cannot reach
// it directly.
func (a *app) rootOf(uuid string) string {
	if r, ok := a.rootOverrides[uuid]; ok {
		return r
	}
	for _, ce := range a.cfg.Caves {
		if ce.UUID == uuid {
			return ce.Root
		}
	}
	return ""
}

func (a *app) mustCave(uuid string) (*registry.Cave, error) {
	c, ok := a.reg.Get(uuid)
	if !ok {
		if byName, ok := a.reg.ByName(uuid); ok {
			return byName, nil
		}
		return nil, usageErrorf("no such cave: %s", uuid)
	}
	return c, nil
}

func main() {
	var base string

	root := &cobra.Command{
		Use:           "hoard",
		Short:         "Reconcile a content-addressed hoard across multiple caves",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&base, "base", config.DefaultBaseDirectoryPath, "hoard base directory")

	root.AddCommand(newInitCmd(&base))
	root.AddCommand(newRemotesCmd(&base))
	root.AddCommand(newAddRemoteCmd(&base))
	root.AddCommand(newMoveMountsCmd(&base))
	root.AddCommand(newCloneCmd(&base))
	root.AddCommand(newContentsCmd(&base))
	root.AddCommand(newFilesCmd(&base))
	root.AddCommand(newBackupsCmd(&base))
	root.AddCommand(newGCCmd(&base))
	root.AddCommand(newDaemonCmd(&base))

	if err := root.Execute(); err != nil {
		log.WithError(err).Error("hoard command failed")
		fmt.Fprintln(os.Stderr, err)
		switch err.(type) {
		case usageError:
			os.Exit(2)
		case invariantError:
			os.Exit(3)
		default:
			os.Exit(1)
		}
	}
}
