package ports

import (
	"context"

	"github.com/harpervoss/caseplan/modules/compliance/domain/types"
)

// PackFinder is the store-side query the scope resolver runs per candidate
// scope: the active pack for (scope, planType-or-ALL) whose effective window
// contains asOf, highest version first.
type PackFinder interface {
	FindActivePack(ctx context.Context, scope types.ScopeRef, planType types.PlanType, asOf string) (types.RulePack, bool, error)
}
