package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/madcowbg/hoard/objects"
	"github.com/madcowbg/hoard/presence"
	"github.com/madcowbg/hoard/refs"
	"github.com/madcowbg/hoard/registry"
	"github.com/madcowbg/hoard/treealg"
)

func newBackupsCmd(base *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Backup-role cave health",
	}
	cmd.AddCommand(newBackupsHealthCmd(base))
	return cmd
}

// newBackupsHealthCmd reports, per BACKUP cave, how many assigned files are
// AVAILABLE versus still pending (any other status).
func newBackupsHealthCmd(base *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report AVAILABLE/pending counts and used size for every BACKUP cave",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*base)
			if err != nil {
				return err
			}
			idx := presence.NewIndex(a.objs, a.rs, a.reg)
			out := cmd.OutOrStdout()
			any := false
			for _, c := range a.reg.List() {
				if c.Role != registry.RoleBackup {
					continue
				}
				any = true

				desID, err := a.rs.Get(refs.Desired(c.UUID))
				if err != nil {
					desID = objects.EmptyTreeID
				}
				mountParts := treealg.SplitPath(c.MountPoint)

				var available, pending int
				if err := treealg.Walk(a.objs, desID, func(l treealg.Leaf) error {
					absPath := treealg.JoinPath(append(append([]string{}, mountParts...), treealg.SplitPath(l.Path)...))
					statuses, err := idx.StatusAt(absPath)
					if err != nil {
						return err
					}
					if statuses[c.UUID] == presence.AVAILABLE {
						available++
					} else {
						pending++
					}
					return nil
				}); err != nil {
					return err
				}

				usedSize, err := idx.UsedSize(c.UUID)
				if err != nil {
					return err
				}

				fmt.Fprintf(out, "%-10s available=%d pending=%d used_size=%d\n", c.Name, available, pending, usedSize)
			}
			if !any {
				fmt.Fprintln(out, "no BACKUP caves registered")
			}
			return nil
		},
	}
}
