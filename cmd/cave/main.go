// Command cave manages one cave's local metadata and runs its scanner: the
// cave-side half of spec §6's CLI surface (init, refresh, status,
// status_index). It never talks to the reconciliation engine directly —
// that is the admin-side `hoard` binary's job, operating on the same
// object/ref stores once this cave's staging ref has been written.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/madcowbg/hoard/config"
	"github.com/madcowbg/hoard/objects"
	"github.com/madcowbg/hoard/presence"
	"github.com/madcowbg/hoard/refs"
	"github.com/madcowbg/hoard/scanner"
	"github.com/madcowbg/hoard/storage"
	"github.com/madcowbg/hoard/treealg"
)

func main() {
	var root, hoardBase string

	rootCmd := &cobra.Command{
		Use:           "cave",
		Short:         "Initialize and refresh one cave",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&root, "root", ".", "this cave's directory")
	rootCmd.PersistentFlags().StringVar(&hoardBase, "hoard-base", config.DefaultBaseDirectoryPath, "the hoard base directory this cave is registered with")

	rootCmd.AddCommand(newCaveInitCmd(&root))
	rootCmd.AddCommand(newCaveRefreshCmd(&root, &hoardBase))
	rootCmd.AddCommand(newCaveStatusCmd(&root, &hoardBase))
	rootCmd.AddCommand(newCaveStatusIndexCmd(&root, &hoardBase))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCaveInitCmd(root *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create this cave's metadata folder with a fresh uuid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if config.CaveInitialized(*root) {
				uuid, err := config.LoadCaveUUID(*root)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Already initialized: %s\n", uuid)
				return nil
			}
			key, err := storage.RandomKey(16)
			if err != nil {
				return err
			}
			uuid := string(key)
			if err := config.InitCaveMetadata(*root, uuid); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized cave %s with uuid %s\n", *root, uuid)
			fmt.Fprintln(cmd.OutOrStdout(), "Register it with: hoard add_remote "+uuid+" <name> <role> <mount_point> --root "+*root)
			return nil
		},
	}
}

// openStores opens the hoard's object and ref stores directly, so `cave
// refresh` can write a staging ref without going through the admin-side
// `hoard` binary (spec §6: "The hoard directory holds one object-store
// database and one ref-store database").
func openStores(hoardBase string) (*objects.Store, *refs.Store, *config.C, error) {
	cfg, err := config.Load(hoardBase)
	if err != nil {
		return nil, nil, nil, err
	}
	objs := objects.NewStore(storage.NewDiskStore(cfg.ObjectStoreDirectoryPath()))
	rs := refs.NewStore(storage.NewDiskStore(cfg.RefStoreDirectoryPath()))
	return objs, rs, cfg, nil
}

func newCaveRefreshCmd(root, hoardBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Rescan this cave and write its staging tree (spec §6 scanner contract)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			uuid, err := config.LoadCaveUUID(*root)
			if err != nil {
				return err
			}
			objs, rs, cfg, err := openStores(*hoardBase)
			if err != nil {
				return err
			}
			reg, err := cfg.BuildRegistry()
			if err != nil {
				return err
			}
			cave, ok := reg.Get(uuid)
			if !ok {
				return fmt.Errorf("cave %s is not registered in %s; run 'hoard add_remote' first", uuid, *hoardBase)
			}

			sc := scanner.NewLocal(*root, cave, objs, rs)
			stagingID, epoch, err := sc.Refresh(cmd.Context())
			if err != nil {
				return err
			}

			cfg.SetCavesFromRegistry(reg)
			if err := config.Save(*hoardBase, cfg); err != nil {
				return err
			}
			log.WithFields(log.Fields{"cave": cave.Name, "epoch": epoch, "staging": stagingID.ShortHex()}).Info("Refreshed")
			fmt.Fprintf(cmd.OutOrStdout(), "Refreshed %s: staging=%s epoch=%d\nDONE\n", cave.Name, stagingID.ShortHex(), epoch)
			return nil
		},
	}
}

func newCaveStatusCmd(root, hoardBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show this cave's current/staging/desired summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			uuid, err := config.LoadCaveUUID(*root)
			if err != nil {
				return err
			}
			objs, rs, cfg, err := openStores(*hoardBase)
			if err != nil {
				return err
			}
			reg, err := cfg.BuildRegistry()
			if err != nil {
				return err
			}
			cave, ok := reg.Get(uuid)
			if !ok {
				return fmt.Errorf("cave %s is not registered in %s", uuid, *hoardBase)
			}

			curID, _ := rs.Get(refs.Current(cave.UUID))
			stagingID, _ := rs.Get(refs.Staging(cave.UUID))
			desID, _ := rs.Get(refs.Desired(cave.UUID))

			curCount, curSize, err := countLeaves(objs, curID)
			if err != nil {
				return err
			}
			desCount, _, err := countLeaves(objs, desID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cave: %s (%s)\n", cave.Name, cave.UUID)
			fmt.Fprintf(out, "role: %s  mount: %s  fetch_new: %v\n", cave.Role, cave.MountPoint, cave.FetchNew)
			fmt.Fprintf(out, "epoch: %d  last_accepted_epoch: %d\n", cave.Epoch, cave.LastAcceptedEpoch)
			fmt.Fprintf(out, "current: %d files, %d bytes (%s)\n", curCount, curSize, curID.ShortHex())
			fmt.Fprintf(out, "staging: %s\n", stagingID.ShortHex())
			fmt.Fprintf(out, "desired: %d files (%s)\n", desCount, desID.ShortHex())
			return nil
		},
	}
}

func newCaveStatusIndexCmd(root, hoardBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status_index",
		Short: "List this cave's files with their presence classification (spec §4.5)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			uuid, err := config.LoadCaveUUID(*root)
			if err != nil {
				return err
			}
			objs, rs, cfg, err := openStores(*hoardBase)
			if err != nil {
				return err
			}
			reg, err := cfg.BuildRegistry()
			if err != nil {
				return err
			}
			cave, ok := reg.Get(uuid)
			if !ok {
				return fmt.Errorf("cave %s is not registered in %s", uuid, *hoardBase)
			}

			curID, _ := rs.Get(refs.Current(cave.UUID))
			desID, _ := rs.Get(refs.Desired(cave.UUID))
			idx := presence.NewIndex(objs, rs, reg)
			mountParts := treealg.SplitPath(cave.MountPoint)

			out := cmd.OutOrStdout()
			seen := make(map[string]bool)
			print := func(l treealg.Leaf) error {
				if seen[l.Path] {
					return nil
				}
				seen[l.Path] = true
				absPath := treealg.JoinPath(append(append([]string{}, mountParts...), treealg.SplitPath(l.Path)...))
				statuses, err := idx.StatusAt(absPath)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%-9s %s\n", statuses[cave.UUID], l.Path)
				return nil
			}
			if err := treealg.Walk(objs, curID, print); err != nil {
				return err
			}
			return treealg.Walk(objs, desID, print)
		},
	}
}

func countLeaves(objs *objects.Store, root objects.ID) (int, uint64, error) {
	var count int
	var size uint64
	err := treealg.Walk(objs, root, func(l treealg.Leaf) error {
		count++
		size += l.Entry.Size
		return nil
	})
	return count, size, err
}
