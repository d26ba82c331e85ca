package main

import (
	"context"

	"github.com/madcowbg/hoard/engine"
	"github.com/madcowbg/hoard/fetcher"
	"github.com/madcowbg/hoard/registry"
)

// diskFetcher adapts package fetcher's external contract to fetcherFunc,
// resolving each cave's physical root from the app's (possibly empty) root
// bookkeeping (spec §6 fetcher contract: "Input: an ordered list of Op...
// Output: per-op Outcome"). A BACKUP cave with no known local root falls
// back to a's blob store instead: its content lives in the configured cloud
// archive, not on a directory this host can reach directly.
func diskFetcher(a *app) fetcherFunc {
	local := fetcher.NewLocal(5, 0)
	toOutcome := func(res fetcher.Result) (outcome, error) {
		switch res.Outcome {
		case fetcher.OutcomeOK:
			return outcomeOK, nil
		case fetcher.OutcomeMissingSource:
			return outcomeMissingSource, nil
		default:
			return outcomeIOError, nil
		}
	}
	return func(cave *registry.Cave, op engine.Op) (outcome, error) {
		srcRootOf := func(srcUUID string) string { return a.rootOf(srcUUID) }

		dstRoot := a.rootOf(cave.UUID)
		if dstRoot != "" {
			return toOutcome(local.Apply(context.Background(), dstRoot, srcRootOf, op))
		}

		if cave.Role != registry.RoleBackup {
			return outcomeIOError, nil
		}
		store, err := a.openBlobStore()
		if err != nil {
			return outcomeIOError, err
		}
		return toOutcome(fetcher.NewBlob(store).Apply(context.Background(), "", srcRootOf, op))
	}
}
