package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/madcowbg/hoard/config"
	"github.com/madcowbg/hoard/objects"
	"github.com/madcowbg/hoard/refs"
	"github.com/madcowbg/hoard/registry"
)

func newInitCmd(base *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new hoard base directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Initialize(*base); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized hoard at %s\n", *base)
			return nil
		},
	}
}

func newRemotesCmd(base *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remotes",
		Short: "List registered caves",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*base)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range a.reg.List() {
				fmt.Fprintf(out, "%s  %-10s  %-8s  %-20s  fetch_new=%v  epoch=%d\n",
					c.UUID, c.Name, c.Role, c.MountPoint, c.FetchNew, c.Epoch)
			}
			return nil
		},
	}
}

func newAddRemoteCmd(base *string) *cobra.Command {
	var fetchNew bool
	var root string
	cmd := &cobra.Command{
		Use:   "add_remote <uuid> <name> <role> <mount_point>",
		Short: "Register a new cave (spec §4.6 add_remote)",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*base)
			if err != nil {
				return err
			}
			uuid, name, role, mount := args[0], args[1], args[2], args[3]
			if _, err := a.reg.AddRemote(uuid, name, registry.Role(role), mount, fetchNew); err != nil {
				return usageError{err}
			}
			if root != "" {
				a.setRoot(uuid, root)
			}
			if err := a.persistRegistry(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added cave %s (%s) at %s\n", name, uuid, mount)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fetchNew, "fetch-new", false, "cave's desired tracks HEAD under its mount automatically")
	cmd.Flags().StringVar(&root, "root", "", "this cave's physical directory on this machine, if reachable from it")
	return cmd
}

func newMoveMountsCmd(base *string) *cobra.Command {
	return &cobra.Command{
		Use:   "move_mounts <from> <to>",
		Short: "Rewrite HEAD and every affected cave's mount point (spec §4.6 move_mounts)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*base)
			if err != nil {
				return err
			}
			from, to := args[0], args[1]

			headID, err := a.rs.Get(refs.HEAD)
			if err != nil {
				headID = objects.EmptyTreeID
			}
			otxn := a.objs.Begin()
			newHead, err := a.reg.MoveMounts(otxn, headID, from, to)
			if err != nil {
				return usageError{err}
			}
			if err := otxn.Commit(); err != nil {
				return err
			}
			if err := a.rs.Set(refs.HEAD, newHead); err != nil {
				return err
			}
			if err := a.persistRegistry(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Moved %s to %s\n", from, to)
			return nil
		},
	}
}

func newCloneCmd(base *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clone <src> <dst>",
		Short: "Virtually copy a HEAD subtree, extending every covering cave's desired (spec §4.6 contents.copy)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*base)
			if err != nil {
				return err
			}
			src, dst := args[0], args[1]

			headID, err := a.rs.Get(refs.HEAD)
			if err != nil {
				headID = objects.EmptyTreeID
			}
			otxn := a.objs.Begin()
			newHead, err := a.reg.ContentsCopy(otxn, a.rs, headID, src, dst)
			if err != nil {
				return usageError{err}
			}
			if err := otxn.Commit(); err != nil {
				return err
			}
			if err := a.rs.Set(refs.HEAD, newHead); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cloned %s to %s\n", src, dst)
			return nil
		},
	}
}

func newGCCmd(base *string) *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Mark-and-sweep unreachable objects (spec §4.8)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*base)
			if err != nil {
				return err
			}
			stats, err := a.eng.GC(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Marked %d, swept %d\nDONE\n", stats.Marked, stats.Swept)
			return nil
		},
	}
}
