package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/gops/agent"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/madcowbg/hoard/engine"
	"github.com/madcowbg/hoard/registry"
	"github.com/madcowbg/hoard/scanner"
	"github.com/madcowbg/hoard/watcher"
)

// newDaemonCmd watches every locally-reachable cave's root and pulls it into
// the hoard whenever fsnotify reports a change, instead of requiring an
// operator to run `cave refresh` + `hoard contents pull` by hand.
func newDaemonCmd(base *string) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Watch every reachable cave and pull its changes automatically",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Do NOT enable agent.ShutdownCleanup: its own signal handler
			// exits the process, which would race an in-flight pull's ref
			// commit; the handler installed below only cancels ctx.
			if err := agent.Listen(agent.Options{}); err != nil {
				log.WithError(err).Warn("Could not start gops agent")
			}

			a, err := openApp(*base)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigc := make(chan os.Signal, 1)
			signal.Notify(sigc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigc
				log.Info("Shutting down hoard daemon")
				cancel()
			}()

			type watch struct {
				cave *registry.Cave
				hint <-chan watcher.RefreshHint
			}
			var watches []watch
			for _, c := range a.reg.List() {
				root := a.rootOf(c.UUID)
				if root == "" {
					continue
				}
				hint, _, err := watcher.Watch(ctx, root)
				if err != nil {
					return fmt.Errorf("watching %s at %q: %w", c.Name, root, err)
				}
				watches = append(watches, watch{cave: c, hint: hint})
				log.WithFields(log.Fields{"cave": c.Name, "root": root}).Info("Watching cave")
			}
			if len(watches) == 0 {
				return usageErrorf("no cave has a known local root (see 'hoard add_remote --root')")
			}

			for _, w := range watches {
				w := w
				go func() {
					for range w.hint {
						if err := refreshAndPull(a, w.cave); err != nil {
							log.WithField("cave", w.cave.Name).WithError(err).Warn("Refresh failed")
						}
					}
				}()
			}

			<-ctx.Done()
			return nil
		},
	}
}

func refreshAndPull(a *app, c *registry.Cave) error {
	root := a.rootOf(c.UUID)
	sc := scanner.NewLocal(root, c, a.objs, a.rs)
	stagingID, epoch, err := sc.Refresh(context.Background())
	if err != nil {
		return err
	}
	_, err = a.eng.Pull(c, stagingID, epoch, engine.Options{})
	return err
}
