package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/madcowbg/hoard/engine"
	"github.com/madcowbg/hoard/registry"
)

func newFilesCmd(base *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Plan and execute the copies/deletes that bring caves in line with their desired trees",
	}
	cmd.AddCommand(
		newFilesPushCmd(base),
		newFilesSyncContentsCmd(base),
		newFilesPendingCmd(base),
	)
	return cmd
}

func printPlan(cmd *cobra.Command, plan engine.Plan) {
	out := cmd.OutOrStdout()
	for _, op := range plan.Ops {
		switch op.Kind {
		case engine.OpCopy:
			fmt.Fprintf(out, "COPY %s from %s (%d bytes)\n", op.Path, op.From, op.Size)
		case engine.OpDelete:
			fmt.Fprintf(out, "DELETE %s (%d bytes)\n", op.Path, op.Size)
		}
	}
}

// runPush plans and applies cave's plan against its mounted directory,
// dispatching each op to f and advancing cave.current on every ok outcome
// (spec §4.4: "on ok, it advances C.current by applying the op").
func runPush(cmd *cobra.Command, a *app, c *registry.Cave, f fetcherFunc) error {
	plan, err := a.pl.Plan(c)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, op := range plan.Ops {
		res, err := f(c, op)
		if err != nil {
			return err
		}
		switch res {
		case outcomeOK:
			otxn := a.objs.Begin()
			if err := a.pl.Advance(c, op, otxn); err != nil {
				return err
			}
			if err := otxn.Commit(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s: ok\n", op.Kind, op.Path)
		case outcomeMissingSource:
			fmt.Fprintf(out, "%s %s: missing_source, will retry next push\n", op.Kind, op.Path)
		case outcomeIOError:
			fmt.Fprintf(out, "%s %s: io_error\n", op.Kind, op.Path)
		}
	}
	return nil
}

// fetcherFunc adapts the external fetcher contract (package fetcher) to a
// form this command package can call without importing os-level roots here;
// cmd/hoard/fetch.go supplies the concrete implementation.
type fetcherFunc func(cave *registry.Cave, op engine.Op) (outcome, error)

type outcome int

const (
	outcomeOK outcome = iota
	outcomeMissingSource
	outcomeIOError
)

func newFilesPushCmd(base *string) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "push [cave]",
		Short: "Apply cave's push plan (spec §4.4)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*base)
			if err != nil {
				return err
			}
			if !all && len(args) == 0 {
				return usageErrorf("push requires a cave name or --all")
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
			f := diskFetcher(a)
			for _, c := range caves {
				if err := runPush(cmd, a, c, f); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "DONE")
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "push every registered cave")
	return cmd
}

func newFilesSyncContentsCmd(base *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync_contents [cave]",
		Short: "Reconcile cave's desired to what is globally reachable, then push (spec §4.4, §4.7 composite)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*base)
			if err != nil {
				return err
			}
			var caves []*registry.Cave
			if len(args) == 1 {
				c, err := a.mustCave(args[0])
				if err != nil {
					return err
				}
				caves = []*registry.Cave{c}
			} else {
				caves = a.reg.List()
			}
			f := diskFetcher(a)
			for _, c := range caves {
				if err := a.eng.ResetWithExisting(c); err != nil {
					return err
				}
				if err := runPush(cmd, a, c, f); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "DONE")
			return nil
		},
	}
}

func newFilesPendingCmd(base *string) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Show every cave's push plan without executing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*base)
			if err != nil {
				return err
			}
			for _, c := range a.reg.List() {
				plan, err := a.pl.Plan(c)
				if err != nil {
					return err
				}
				if len(plan.Ops) == 0 {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s:\n", c.Name)
				printPlan(cmd, plan)
			}
			return nil
		},
	}
}
