package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/madcowbg/hoard/engine"
	"github.com/madcowbg/hoard/objects"
	"github.com/madcowbg/hoard/refs"
	"github.com/madcowbg/hoard/registry"
	"github.com/madcowbg/hoard/treealg"
)

func newContentsCmd(base *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contents",
		Short: "HEAD and per-cave reconciliation state",
	}
	cmd.AddCommand(
		newContentsPullCmd(base),
		newContentsStatusCmd(base),
		newContentsLsCmd(base),
		newContentsGetCmd(base),
		newContentsResetCmd(base),
		newContentsResetWithExistingCmd(base),
		newContentsCopyCmd(base),
		newContentsPendingCmd(base),
	)
	return cmd
}

func newContentsPullCmd(base *string) *cobra.Command {
	var all bool
	var ignoreEpoch, assumeCurrent, forceFetchLocalMissing bool
	cmd := &cobra.Command{
		Use:   "pull [cave]",
		Short: "Absorb a cave's refreshed staging tree into the hoard (spec §4.3)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*base)
			if err != nil {
				return err
			}
			if !all && len(args) == 0 {
				return usageErrorf("pull requires a cave name or --all")
			}
			var caves []*registry.Cave
			if all {
				caves = a.reg.List()
			} else {
				c, err := a.mustCave(args[0])
				if err != nil {
					return err
				}
				caves = []*registry.Cave{c}
			}

			opts := engine.Options{
				IgnoreEpoch:            ignoreEpoch,
				AssumeCurrent:          assumeCurrent,
				ForceFetchLocalMissing: forceFetchLocalMissing,
			}
			out := cmd.OutOrStdout()
			for _, c := range caves {
				stagingID, err := a.rs.Get(refs.Staging(c.UUID))
				if err != nil {
					stagingID = objects.EmptyTreeID
				}
				res, err := a.eng.Pull(c, stagingID, c.Epoch, opts)
				if err != nil {
					return invariantErrorf(fmt.Errorf("pulling %s: %w", c.Name, err))
				}
				for _, line := range res.Lines {
					fmt.Fprintln(out, line)
				}
				if res.Skipped {
					fmt.Fprintf(out, "Skipping update for %s\n", c.Name)
				} else {
					fmt.Fprintf(out, "Sync'ed %s to hoard!\n", c.Name)
				}
			}
			if err := a.persistRegistry(); err != nil {
				return err
			}
			fmt.Fprintln(out, "DONE")
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "pull every registered cave")
	cmd.Flags().BoolVar(&ignoreEpoch, "ignore-epoch", false, "bypass the epoch pre-check (spec I5)")
	cmd.Flags().BoolVar(&assumeCurrent, "assume-current", false, "resolve conflicts in favor of the cave's current value")
	cmd.Flags().BoolVar(&forceFetchLocalMissing, "force-fetch-local-missing", false, "accepted but has no effect: engine.Pull does not read this option")
	return cmd
}

func newContentsStatusCmd(base *string) *cobra.Command {
	var hideTime, hideDiskSizes, showEmpty bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report every cave's reconciliation state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*base)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range a.reg.List() {
				curID, _ := a.rs.Get(refs.Current(c.UUID))
				desID, _ := a.rs.Get(refs.Desired(c.UUID))
				stagingID, _ := a.rs.Get(refs.Staging(c.UUID))

				curCount, curSize, err := countLeaves(a.objs, curID)
				if err != nil {
					return err
				}
				desCount, _, err := countLeaves(a.objs, desID)
				if err != nil {
					return err
				}
				if !showEmpty && curCount == 0 && desCount == 0 {
					continue
				}
				fmt.Fprintf(out, "%-10s role=%-8s mount=%-16s current=%d desired=%d staging=%s epoch=%d",
					c.Name, c.Role, c.MountPoint, curCount, desCount, stagingID.ShortHex(), c.Epoch)
				if !hideDiskSizes {
					fmt.Fprintf(out, " size=%d", curSize)
				}
				if !hideTime {
					fmt.Fprintf(out, " last_accepted_epoch=%d", c.LastAcceptedEpoch)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&hideTime, "hide-time", false, "omit the last_accepted_epoch column")
	cmd.Flags().BoolVar(&hideDiskSizes, "hide-disk-sizes", false, "omit the size column")
	cmd.Flags().BoolVar(&showEmpty, "show-empty", false, "include caves with nothing current or desired")
	return cmd
}

func newContentsLsCmd(base *string) *cobra.Command {
	var showRemotes bool
	var depth int
	var skipFolders bool
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List HEAD paths",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*base)
			if err != nil {
				return err
			}
			root, err := a.rs.Get(refs.HEAD)
			if err != nil {
				root = objects.EmptyTreeID
			}
			startParts := []string{}
			if len(args) == 1 {
				startParts = treealg.SplitPath(args[0])
			}
			entry, ok, err := treealg.Lookup(a.objs, root, startParts)
			if err != nil {
				return err
			}
			startID := root
			if len(startParts) > 0 {
				if !ok {
					return usageErrorf("no such path: %s", args[0])
				}
				startID = entry.ID
			}

			out := cmd.OutOrStdout()
			return treealg.Walk(a.objs, startID, func(l treealg.Leaf) error {
				if skipFolders && l.Path == "" {
					return nil
				}
				if depth > 0 && len(treealg.SplitPath(l.Path)) > depth {
					return nil
				}
				full := l.Path
				if len(startParts) > 0 {
					full = treealg.JoinPath(append(append([]string{}, startParts...), treealg.SplitPath(l.Path)...))
				}
				if showRemotes {
					holders := holdersOf(a, full)
					fmt.Fprintf(out, "%s  [%s]\n", full, holders)
				} else {
					fmt.Fprintln(out, full)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&showRemotes, "show-remotes", false, "annotate each path with the caves that hold it")
	cmd.Flags().IntVar(&depth, "depth", 0, "limit listing to this many path components (0 = unlimited)")
	cmd.Flags().BoolVar(&skipFolders, "skip-folders", false, "list leaves only")
	return cmd
}

func holdersOf(a *app, absPath string) string {
	names := ""
	for _, c := range a.reg.List() {
		rel, ok := registry.TrimMount(c.MountPoint, absPath)
		if !ok {
			continue
		}
		curID, err := a.rs.Get(refs.Current(c.UUID))
		if err != nil {
			continue
		}
		_, found, err := treealg.Lookup(a.objs, curID, treealg.SplitPath(rel))
		if err == nil && found {
			if names != "" {
				names += ","
			}
			names += c.Name
		}
	}
	return names
}

func countLeaves(objs objects.Reader, root objects.ID) (int, uint64, error) {
	var count int
	var size uint64
	err := treealg.Walk(objs, root, func(l treealg.Leaf) error {
		count++
		size += l.Entry.Size
		return nil
	})
	return count, size, err
}

func newContentsGetCmd(base *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <cave> <path>",
		Short: "Add path to cave's desired (spec §4.4: next push will COPY it in)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*base)
			if err != nil {
				return err
			}
			c, err := a.mustCave(args[0])
			if err != nil {
				return err
			}
			absPath := args[1]
			relPath, ok := registry.TrimMount(c.MountPoint, absPath)
			if !ok {
				return usageErrorf("%s is not under %s's mount %s", absPath, c.Name, c.MountPoint)
			}

			headID, err := a.rs.Get(refs.HEAD)
			if err != nil {
				headID = objects.EmptyTreeID
			}
			entry, found, err := treealg.Lookup(a.objs, headID, treealg.SplitPath(absPath))
			if err != nil {
				return err
			}
			if !found {
				return usageErrorf("no such path in hoard: %s", absPath)
			}
			fe, err := a.objs.GetFileEntry(entry.ID)
			if err != nil {
				return err
			}

			desID, err := a.rs.Get(refs.Desired(c.UUID))
			if err != nil {
				desID = objects.EmptyTreeID
			}
			otxn := a.objs.Begin()
			newDesired, err := treealg.PutFile(otxn, desID, treealg.SplitPath(relPath), fe)
			if err != nil {
				return err
			}
			if err := otxn.Commit(); err != nil {
				return err
			}
			if err := a.rs.Set(refs.Desired(c.UUID), newDesired); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Marked %s desired on %s\n", absPath, c.Name)
			return nil
		},
	}
}

func newContentsResetCmd(base *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <cave>",
		Short: "Clear every pending GET/COPY for cave (spec §4.7)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*base)
			if err != nil {
				return err
			}
			c, err := a.mustCave(args[0])
			if err != nil {
				return err
			}
			if err := a.eng.Reset(c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", c.Name)
			return nil
		},
	}
}

func newContentsResetWithExistingCmd(base *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset_with_existing <cave>",
		Short: "Set cave's desired to exactly what is globally reachable within its mount (spec §4.7)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*base)
			if err != nil {
				return err
			}
			c, err := a.mustCave(args[0])
			if err != nil {
				return err
			}
			if err := a.eng.ResetWithExisting(c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %s to existing\n", c.Name)
			return nil
		},
	}
}

func newContentsCopyCmd(base *string) *cobra.Command {
	return &cobra.Command{
		Use:   "copy <from> <to>",
		Short: "Alias for the top-level clone command (spec §4.6 contents.copy)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newCloneCmd(base).RunE(cmd, args)
		},
	}
}

func newContentsPendingCmd(base *string) *cobra.Command {
	return &cobra.Command{
		Use:   "pending <cave>",
		Short: "Show the push plan for cave without executing it (spec §4.4)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*base)
			if err != nil {
				return err
			}
			c, err := a.mustCave(args[0])
			if err != nil {
				return err
			}
			plan, err := a.pl.Plan(c)
			if err != nil {
				return err
			}
			printPlan(cmd, plan)
			return nil
		},
	}
}
