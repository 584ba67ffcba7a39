package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/harpervoss/caseplan/internal/routing"
	ctypes "github.com/harpervoss/caseplan/modules/compliance/domain/types"
	"github.com/harpervoss/caseplan/modules/compliance/services"
)

type rulesEvaluatePayload struct {
	ScopeType  string            `json:"scope_type"`
	ScopeID    string            `json:"scope_id"`
	PlanType   string            `json:"plan_type"`
	AsOf       string            `json:"as_of"`
	DistrictID string            `json:"district_id"`
	StateCode  string            `json:"state_code"`
	Context    map[string]string `json:"context"`
}

type evaluatedRuleAPIItem struct {
	PackRuleID string            `json:"pack_rule_id"`
	RuleKey    string            `json:"rule_key"`
	ConfigKind string            `json:"config_kind"`
	Config     ctypes.RuleConfig `json:"config"`
	SortOrder  int               `json:"sort_order"`
}

type rulesEvaluateResponse struct {
	Matched      bool                   `json:"matched"`
	MatchedLevel string                 `json:"matched_level,omitempty"`
	AsOf         string                 `json:"as_of"`
	PackID       string                 `json:"pack_id,omitempty"`
	PackVersion  int                    `json:"pack_version,omitempty"`
	Rules        []evaluatedRuleAPIItem `json:"rules"`
}

// handleRulesEvaluateAPI resolves the active pack for a jurisdiction and
// returns its enabled rules with their effective configs. Conditional rules
// are evaluated against the submitted context plus the caller's identity;
// the ones that come back false are dropped.
func handleRulesEvaluateAPI(w http.ResponseWriter, r *http.Request, packs rulePackStore, catalog ruleCatalogStore) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	principal, ok := currentPrincipal(r.Context())
	if !ok {
		writePrincipalMissing(w, r)
		return
	}

	var req rulesEvaluatePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "bad json")
		return
	}

	scopeType, err := ctypes.ParseScopeType(req.ScopeType)
	if err != nil {
		writeAPIError(w, r, err, "rule_evaluate_failed")
		return
	}
	scopeID := strings.TrimSpace(req.ScopeID)
	if scopeID == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "scope_id_required", "scope_id required")
		return
	}
	planType, err := ctypes.ParsePlanType(req.PlanType, false)
	if err != nil {
		writeAPIError(w, r, err, "rule_evaluate_failed")
		return
	}
	asOf, err := optionalAsOf(req.AsOf)
	if err != nil {
		writeAPIError(w, r, err, "rule_evaluate_failed")
		return
	}

	query := ctypes.ScopeQuery{
		Type:       scopeType,
		ID:         scopeID,
		DistrictID: strings.TrimSpace(req.DistrictID),
		StateCode:  strings.TrimSpace(req.StateCode),
	}
	result, matched, err := services.ResolveActivePack(r.Context(), packs, query, planType, asOf)
	if err != nil {
		writeAPIError(w, r, err, "rule_evaluate_failed")
		return
	}

	resp := rulesEvaluateResponse{Matched: matched, AsOf: asOf, Rules: []evaluatedRuleAPIItem{}}
	if !matched {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.MatchedLevel = string(result.MatchedLevel)
	resp.PackID = result.Pack.ID
	resp.PackVersion = result.Pack.Version

	rules, err := packs.ListPackRules(r.Context(), result.Pack.ID)
	if err != nil {
		writeAPIError(w, r, err, "rule_evaluate_failed")
		return
	}

	ctxMap := make(map[string]string, len(req.Context)+4)
	for k, v := range req.Context {
		ctxMap[k] = v
	}
	ctxMap["actor_id"] = principal.ID
	ctxMap["actor_role"] = principal.RoleSlug
	ctxMap["plan_type"] = string(planType)
	ctxMap["as_of"] = asOf

	for _, rule := range rules {
		if !rule.IsEnabled {
			continue
		}
		def, ok, err := catalog.GetRuleDefinition(r.Context(), rule.RuleDefinitionID)
		if err != nil {
			writeAPIError(w, r, err, "rule_evaluate_failed")
			return
		}
		if !ok {
			continue
		}

		cfg := def.DefaultConfig
		if rule.Config != nil {
			cfg = *rule.Config
		}
		if cfg.Kind == ctypes.ConfigKindConditional {
			applies, err := services.EvaluateConditional(cfg.Expr, ctxMap)
			if err != nil {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusUnprocessableEntity, "rule_expression_failed", "conditional expression evaluation failed")
				return
			}
			if !applies {
				continue
			}
		}

		resp.Rules = append(resp.Rules, evaluatedRuleAPIItem{
			PackRuleID: rule.ID,
			RuleKey:    def.Key,
			ConfigKind: string(cfg.Kind),
			Config:     cfg,
			SortOrder:  rule.SortOrder,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
