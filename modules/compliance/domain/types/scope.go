package types

import (
	"strings"

	"github.com/harpervoss/caseplan/pkg/httperr"
)

type ScopeType string

const (
	ScopeTypeState    ScopeType = "STATE"
	ScopeTypeDistrict ScopeType = "DISTRICT"
	ScopeTypeSchool   ScopeType = "SCHOOL"
)

func ParseScopeType(raw string) (ScopeType, error) {
	switch ScopeType(strings.ToUpper(strings.TrimSpace(raw))) {
	case ScopeTypeState:
		return ScopeTypeState, nil
	case ScopeTypeDistrict:
		return ScopeTypeDistrict, nil
	case ScopeTypeSchool:
		return ScopeTypeSchool, nil
	default:
		return "", httperr.NewBadRequest("invalid scope_type (expected STATE|DISTRICT|SCHOOL)")
	}
}

type PlanType string

const (
	PlanTypeIEP      PlanType = "IEP"
	PlanType504      PlanType = "PLAN_504"
	PlanTypeBehavior PlanType = "BEHAVIOR"
	PlanTypeAll      PlanType = "ALL"
)

// ParsePlanType accepts the concrete plan types; ALL is only valid where a
// wildcard makes sense (pack scoping, evidence-type filters).
func ParsePlanType(raw string, allowAll bool) (PlanType, error) {
	switch PlanType(strings.ToUpper(strings.TrimSpace(raw))) {
	case PlanTypeIEP:
		return PlanTypeIEP, nil
	case PlanType504:
		return PlanType504, nil
	case PlanTypeBehavior:
		return PlanTypeBehavior, nil
	case PlanTypeAll:
		if allowAll {
			return PlanTypeAll, nil
		}
		return "", httperr.NewBadRequest("plan_type ALL not allowed here")
	default:
		return "", httperr.NewBadRequest("invalid plan_type (expected IEP|PLAN_504|BEHAVIOR|ALL)")
	}
}

// Matches reports whether a pack bound to p applies to a query for q.
func (p PlanType) Matches(q PlanType) bool {
	return p == q || p == PlanTypeAll
}

type ScopeRef struct {
	Type ScopeType
	ID   string
}

// ScopeQuery identifies the jurisdiction a resolution starts from. DistrictID
// and StateCode are optional overrides; when empty they are derived from the
// scope id.
type ScopeQuery struct {
	Type       ScopeType
	ID         string
	DistrictID string
	StateCode  string
}

// FallbackChain orders candidate scopes most specific first. A SCHOOL query
// tries the school itself, then its district, then the state; a DISTRICT query
// skips the school level; a STATE query has a single candidate.
func (q ScopeQuery) FallbackChain() ([]ScopeRef, error) {
	id := strings.TrimSpace(q.ID)
	if id == "" {
		return nil, httperr.NewBadRequest("scope_id required")
	}

	state := strings.ToUpper(strings.TrimSpace(q.StateCode))
	if state == "" {
		state = StateCodeForScope(id)
	}
	if state == "" {
		return nil, httperr.NewBadRequest("scope_id too short to derive a state code")
	}

	switch q.Type {
	case ScopeTypeState:
		return []ScopeRef{{Type: ScopeTypeState, ID: state}}, nil
	case ScopeTypeDistrict:
		return []ScopeRef{
			{Type: ScopeTypeDistrict, ID: id},
			{Type: ScopeTypeState, ID: state},
		}, nil
	case ScopeTypeSchool:
		district := strings.TrimSpace(q.DistrictID)
		if district == "" {
			district = DistrictIDForSchool(id)
		}
		return []ScopeRef{
			{Type: ScopeTypeSchool, ID: id},
			{Type: ScopeTypeDistrict, ID: district},
			{Type: ScopeTypeState, ID: state},
		}, nil
	default:
		return nil, httperr.NewBadRequest("invalid scope_type (expected STATE|DISTRICT|SCHOOL)")
	}
}

// DistrictIDForSchool derives the district identity from a district-prefixed
// school code ("HCPSS-001" belongs to "HCPSS"). Ids without a separator are
// their own district identity.
func DistrictIDForSchool(schoolID string) string {
	if i := strings.LastIndex(schoolID, "-"); i > 0 {
		return schoolID[:i]
	}
	return schoolID
}

// StateCodeForScope is the last-resort state derivation: the first two
// characters of the scope id, uppercased.
func StateCodeForScope(scopeID string) string {
	scopeID = strings.TrimSpace(scopeID)
	if len(scopeID) < 2 {
		return ""
	}
	return strings.ToUpper(scopeID[:2])
}
