package services

import (
	"context"

	"github.com/harpervoss/caseplan/modules/compliance/domain/ports"
	"github.com/harpervoss/caseplan/modules/compliance/domain/types"
)

type ResolveResult struct {
	Pack         types.RulePack
	MatchedLevel types.ScopeType
}

// ResolveActivePack walks the query's fallback chain and returns the first
// scope level that has an active, in-window pack. Absence at every level is a
// normal result, not an error.
func ResolveActivePack(ctx context.Context, finder ports.PackFinder, q types.ScopeQuery, planType types.PlanType, asOf string) (ResolveResult, bool, error) {
	chain, err := q.FallbackChain()
	if err != nil {
		return ResolveResult{}, false, err
	}
	for _, candidate := range chain {
		pack, ok, err := finder.FindActivePack(ctx, candidate, planType, asOf)
		if err != nil {
			return ResolveResult{}, false, err
		}
		if ok {
			return ResolveResult{Pack: pack, MatchedLevel: candidate.Type}, true, nil
		}
	}
	return ResolveResult{}, false, nil
}
