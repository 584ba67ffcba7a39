package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/harpervoss/caseplan/internal/routing"
	ctypes "github.com/harpervoss/caseplan/modules/compliance/domain/types"
	"github.com/harpervoss/caseplan/modules/compliance/services"
	"github.com/harpervoss/caseplan/pkg/httperr"
)

type rulePackAPIItem struct {
	ID            string `json:"id"`
	ScopeType     string `json:"scope_type"`
	ScopeID       string `json:"scope_id"`
	PlanType      string `json:"plan_type"`
	Version       int    `json:"version"`
	Name          string `json:"name"`
	IsActive      bool   `json:"is_active"`
	EffectiveFrom string `json:"effective_from"`
	EffectiveTo   string `json:"effective_to,omitempty"`
	CreatedBy     string `json:"created_by"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func rulePackAPIItemFrom(p ctypes.RulePack) rulePackAPIItem {
	return rulePackAPIItem{
		ID:            p.ID,
		ScopeType:     string(p.ScopeType),
		ScopeID:       p.ScopeID,
		PlanType:      string(p.PlanType),
		Version:       p.Version,
		Name:          p.Name,
		IsActive:      p.IsActive,
		EffectiveFrom: p.EffectiveFrom,
		EffectiveTo:   p.EffectiveTo,
		CreatedBy:     p.CreatedBy,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

type rulePackListResponse struct {
	Packs []rulePackAPIItem `json:"packs"`
}

type rulePackCreatePayload struct {
	ScopeType     string `json:"scope_type"`
	ScopeID       string `json:"scope_id"`
	PlanType      string `json:"plan_type"`
	Name          string `json:"name"`
	IsActive      *bool  `json:"is_active"`
	EffectiveFrom string `json:"effective_from"`
	EffectiveTo   string `json:"effective_to"`
}

type rulePackUpdatePayload struct {
	PackID        string  `json:"pack_id"`
	Name          *string `json:"name"`
	IsActive      *bool   `json:"is_active"`
	EffectiveFrom *string `json:"effective_from"`
	EffectiveTo   *string `json:"effective_to"`
}

type rulePackDeletePayload struct {
	PackID string `json:"pack_id"`
}

type activePackResponse struct {
	Matched      bool             `json:"matched"`
	MatchedLevel string           `json:"matched_level,omitempty"`
	AsOf         string           `json:"as_of"`
	Pack         *rulePackAPIItem `json:"pack,omitempty"`
}

type packRuleAPIItem struct {
	ID               string             `json:"id"`
	PackID           string             `json:"pack_id"`
	RuleDefinitionID string             `json:"rule_definition_id"`
	IsEnabled        bool               `json:"is_enabled"`
	Config           *ctypes.RuleConfig `json:"config,omitempty"`
	SortOrder        int                `json:"sort_order"`
	CreatedBy        string             `json:"created_by"`
}

func packRuleAPIItemFrom(r ctypes.RulePackRule) packRuleAPIItem {
	return packRuleAPIItem{
		ID:               r.ID,
		PackID:           r.PackID,
		RuleDefinitionID: r.RuleDefinitionID,
		IsEnabled:        r.IsEnabled,
		Config:           r.Config,
		SortOrder:        r.SortOrder,
		CreatedBy:        r.CreatedBy,
	}
}

type packRuleListResponse struct {
	PackID string            `json:"pack_id"`
	Rules  []packRuleAPIItem `json:"rules"`
}

type packRuleAttachPayload struct {
	PackID           string          `json:"pack_id"`
	RuleDefinitionID string          `json:"rule_definition_id"`
	IsEnabled        *bool           `json:"is_enabled"`
	Config           json.RawMessage `json:"config"`
	SortOrder        int             `json:"sort_order"`
}

type packRuleDetachPayload struct {
	PackRuleID string `json:"pack_rule_id"`
}

type packEvidenceAPIItem struct {
	RequirementID string `json:"requirement_id"`
	PackRuleID    string `json:"pack_rule_id"`
	RuleKey       string `json:"rule_key"`
	SortOrder     int    `json:"sort_order"`
	EvidenceKey   string `json:"evidence_key"`
	EvidenceName  string `json:"evidence_name"`
	IsRequired    bool   `json:"is_required"`
}

type packEvidenceListResponse struct {
	PackID string                `json:"pack_id"`
	Items  []packEvidenceAPIItem `json:"items"`
}

type packEvidenceAttachPayload struct {
	PackRuleID     string `json:"pack_rule_id"`
	EvidenceTypeID string `json:"evidence_type_id"`
	IsRequired     *bool  `json:"is_required"`
}

type packEvidenceDetachPayload struct {
	RequirementID string `json:"requirement_id"`
}

func handleRulePacksAPI(w http.ResponseWriter, r *http.Request, store rulePackStore) {
	switch r.Method {
	case http.MethodGet:
		handleRulePacksListAPI(w, r, store)
	case http.MethodPost:
		handleRulePacksCreateAPI(w, r, store)
	default:
		writeMethodNotAllowed(w, r)
	}
}

func handleRulePacksListAPI(w http.ResponseWriter, r *http.Request, store rulePackStore) {
	q := r.URL.Query()
	var f packFilter
	if raw := strings.TrimSpace(q.Get("scope_type")); raw != "" {
		st, err := ctypes.ParseScopeType(raw)
		if err != nil {
			writeAPIError(w, r, err, "rule_pack_list_failed")
			return
		}
		f.scopeType = st
	}
	f.scopeID = strings.TrimSpace(q.Get("scope_id"))
	if raw := strings.TrimSpace(q.Get("plan_type")); raw != "" {
		pt, err := ctypes.ParsePlanType(raw, true)
		if err != nil {
			writeAPIError(w, r, err, "rule_pack_list_failed")
			return
		}
		f.planType = pt
	}
	switch strings.TrimSpace(q.Get("is_active")) {
	case "":
	case "true":
		v := true
		f.isActive = &v
	case "false":
		v := false
		f.isActive = &v
	default:
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "invalid_is_active", "is_active must be true or false")
		return
	}

	packs, err := store.ListPacks(r.Context(), f)
	if err != nil {
		writeAPIError(w, r, err, "rule_pack_list_failed")
		return
	}
	items := make([]rulePackAPIItem, 0, len(packs))
	for _, p := range packs {
		items = append(items, rulePackAPIItemFrom(p))
	}
	writeJSON(w, http.StatusOK, rulePackListResponse{Packs: items})
}

func handleRulePacksCreateAPI(w http.ResponseWriter, r *http.Request, store rulePackStore) {
	principal, ok := currentPrincipal(r.Context())
	if !ok {
		writePrincipalMissing(w, r)
		return
	}

	var req rulePackCreatePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "bad json")
		return
	}

	scopeType, err := ctypes.ParseScopeType(req.ScopeType)
	if err != nil {
		writeAPIError(w, r, err, "rule_pack_create_failed")
		return
	}
	scopeID := strings.TrimSpace(req.ScopeID)
	if scopeID == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "scope_id_required", "scope_id required")
		return
	}
	planType, err := ctypes.ParsePlanType(req.PlanType, true)
	if err != nil {
		writeAPIError(w, r, err, "rule_pack_create_failed")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "pack_name_required", "name required")
		return
	}
	effectiveFrom, err := requireDate("effective_from", req.EffectiveFrom)
	if err != nil {
		writeAPIError(w, r, err, "rule_pack_create_failed")
		return
	}
	effectiveTo, err := optionalDate("effective_to", req.EffectiveTo)
	if err != nil {
		writeAPIError(w, r, err, "rule_pack_create_failed")
		return
	}
	if effectiveTo != "" && effectiveTo < effectiveFrom {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "effective_window_invalid", "effective_to before effective_from")
		return
	}
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	created, err := store.CreatePack(r.Context(), principal.ID, ctypes.RulePack{
		ScopeType:     scopeType,
		ScopeID:       scopeID,
		PlanType:      planType,
		Name:          name,
		IsActive:      isActive,
		EffectiveFrom: effectiveFrom,
		EffectiveTo:   effectiveTo,
	})
	if err != nil {
		writeAPIError(w, r, err, "rule_pack_create_failed")
		return
	}
	writeJSON(w, http.StatusCreated, rulePackAPIItemFrom(created))
}

func handleRulePacksActiveAPI(w http.ResponseWriter, r *http.Request, store rulePackStore) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r)
		return
	}

	q := r.URL.Query()
	scopeType, err := ctypes.ParseScopeType(q.Get("scope_type"))
	if err != nil {
		writeAPIError(w, r, err, "active_pack_lookup_failed")
		return
	}
	scopeID := strings.TrimSpace(q.Get("scope_id"))
	if scopeID == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "scope_id_required", "scope_id required")
		return
	}
	planType, err := ctypes.ParsePlanType(q.Get("plan_type"), false)
	if err != nil {
		writeAPIError(w, r, err, "active_pack_lookup_failed")
		return
	}
	asOf, err := optionalAsOf(q.Get("as_of"))
	if err != nil {
		writeAPIError(w, r, err, "active_pack_lookup_failed")
		return
	}

	query := ctypes.ScopeQuery{
		Type:       scopeType,
		ID:         scopeID,
		DistrictID: strings.TrimSpace(q.Get("district_id")),
		StateCode:  strings.TrimSpace(q.Get("state_code")),
	}
	result, matched, err := services.ResolveActivePack(r.Context(), store, query, planType, asOf)
	if err != nil {
		writeAPIError(w, r, err, "active_pack_lookup_failed")
		return
	}

	resp := activePackResponse{Matched: matched, AsOf: asOf}
	if matched {
		item := rulePackAPIItemFrom(result.Pack)
		resp.Pack = &item
		resp.MatchedLevel = string(result.MatchedLevel)
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleRulePacksUpdateAPI(w http.ResponseWriter, r *http.Request, store rulePackStore) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	principal, ok := currentPrincipal(r.Context())
	if !ok {
		writePrincipalMissing(w, r)
		return
	}

	var req rulePackUpdatePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	packID := strings.TrimSpace(req.PackID)
	if packID == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "pack_id_required", "pack_id required")
		return
	}

	var patch packPatch
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "pack_name_required", "name required")
			return
		}
		patch.name = &name
	}
	patch.isActive = req.IsActive
	if req.EffectiveFrom != nil {
		from, err := requireDate("effective_from", *req.EffectiveFrom)
		if err != nil {
			writeAPIError(w, r, err, "rule_pack_update_failed")
			return
		}
		patch.effectiveFrom = &from
	}
	if req.EffectiveTo != nil {
		to, err := optionalDate("effective_to", *req.EffectiveTo)
		if err != nil {
			writeAPIError(w, r, err, "rule_pack_update_failed")
			return
		}
		patch.effectiveTo = &to
	}

	updated, err := store.UpdatePack(r.Context(), principal.ID, packID, patch)
	if err != nil {
		writeAPIError(w, r, err, "rule_pack_update_failed")
		return
	}
	writeJSON(w, http.StatusOK, rulePackAPIItemFrom(updated))
}

func handleRulePacksDeleteAPI(w http.ResponseWriter, r *http.Request, store rulePackStore) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	principal, ok := currentPrincipal(r.Context())
	if !ok {
		writePrincipalMissing(w, r)
		return
	}

	var req rulePackDeletePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	packID := strings.TrimSpace(req.PackID)
	if packID == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "pack_id_required", "pack_id required")
		return
	}

	if err := store.DeletePack(r.Context(), principal.ID, packID); err != nil {
		writeAPIError(w, r, err, "rule_pack_delete_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "pack_id": packID})
}

func handleRulePackRulesAPI(w http.ResponseWriter, r *http.Request, packs rulePackStore, catalog ruleCatalogStore) {
	switch r.Method {
	case http.MethodGet:
		handleRulePackRulesListAPI(w, r, packs)
	case http.MethodPost:
		handleRulePackRulesAttachAPI(w, r, packs, catalog)
	default:
		writeMethodNotAllowed(w, r)
	}
}

func handleRulePackRulesListAPI(w http.ResponseWriter, r *http.Request, packs rulePackStore) {
	packID := strings.TrimSpace(r.URL.Query().Get("pack_id"))
	if packID == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "pack_id_required", "pack_id required")
		return
	}
	if _, ok, err := packs.GetPack(r.Context(), packID); err != nil {
		writeAPIError(w, r, err, "pack_rule_list_failed")
		return
	} else if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "rule_pack_not_found", "rule pack not found")
		return
	}

	rules, err := packs.ListPackRules(r.Context(), packID)
	if err != nil {
		writeAPIError(w, r, err, "pack_rule_list_failed")
		return
	}
	items := make([]packRuleAPIItem, 0, len(rules))
	for _, rule := range rules {
		items = append(items, packRuleAPIItemFrom(rule))
	}
	writeJSON(w, http.StatusOK, packRuleListResponse{PackID: packID, Rules: items})
}

func handleRulePackRulesAttachAPI(w http.ResponseWriter, r *http.Request, packs rulePackStore, catalog ruleCatalogStore) {
	principal, ok := currentPrincipal(r.Context())
	if !ok {
		writePrincipalMissing(w, r)
		return
	}

	var req packRuleAttachPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	packID := strings.TrimSpace(req.PackID)
	defID := strings.TrimSpace(req.RuleDefinitionID)
	if packID == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "pack_id_required", "pack_id required")
		return
	}
	if defID == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "rule_definition_id_required", "rule_definition_id required")
		return
	}
	if req.SortOrder < 0 {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "sort_order_invalid", "sort_order must be >= 0")
		return
	}

	def, ok, err := catalog.GetRuleDefinition(r.Context(), defID)
	if err != nil {
		writeAPIError(w, r, err, "pack_rule_attach_failed")
		return
	}
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "rule_definition_not_found", "rule definition not found")
		return
	}

	var cfg *ctypes.RuleConfig
	if len(req.Config) > 0 && string(req.Config) != "null" {
		parsed, err := ctypes.ParseRuleConfig(def.ConfigKind, req.Config)
		if err != nil {
			writeAPIError(w, r, err, "pack_rule_attach_failed")
			return
		}
		if err := services.ValidateConfig(parsed); err != nil {
			writeAPIError(w, r, err, "pack_rule_attach_failed")
			return
		}
		cfg = &parsed
	}
	isEnabled := true
	if req.IsEnabled != nil {
		isEnabled = *req.IsEnabled
	}

	attached, err := packs.AttachRule(r.Context(), principal.ID, ctypes.RulePackRule{
		PackID:           packID,
		RuleDefinitionID: defID,
		IsEnabled:        isEnabled,
		Config:           cfg,
		SortOrder:        req.SortOrder,
	})
	if err != nil {
		writeAPIError(w, r, err, "pack_rule_attach_failed")
		return
	}
	writeJSON(w, http.StatusCreated, packRuleAPIItemFrom(attached))
}

func handleRulePackRulesDetachAPI(w http.ResponseWriter, r *http.Request, packs rulePackStore) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	principal, ok := currentPrincipal(r.Context())
	if !ok {
		writePrincipalMissing(w, r)
		return
	}

	var req packRuleDetachPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	packRuleID := strings.TrimSpace(req.PackRuleID)
	if packRuleID == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "pack_rule_id_required", "pack_rule_id required")
		return
	}

	if err := packs.DetachRule(r.Context(), principal.ID, packRuleID); err != nil {
		writeAPIError(w, r, err, "pack_rule_detach_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"detached": true, "pack_rule_id": packRuleID})
}

func handleRulePackEvidenceAPI(w http.ResponseWriter, r *http.Request, packs rulePackStore, catalog ruleCatalogStore) {
	switch r.Method {
	case http.MethodGet:
		handleRulePackEvidenceListAPI(w, r, packs)
	case http.MethodPost:
		handleRulePackEvidenceAttachAPI(w, r, packs, catalog)
	default:
		writeMethodNotAllowed(w, r)
	}
}

func handleRulePackEvidenceListAPI(w http.ResponseWriter, r *http.Request, packs rulePackStore) {
	packID := strings.TrimSpace(r.URL.Query().Get("pack_id"))
	if packID == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "pack_id_required", "pack_id required")
		return
	}
	if _, ok, err := packs.GetPack(r.Context(), packID); err != nil {
		writeAPIError(w, r, err, "pack_evidence_list_failed")
		return
	} else if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "rule_pack_not_found", "rule pack not found")
		return
	}

	items, err := packs.ListPackEvidence(r.Context(), packID)
	if err != nil {
		writeAPIError(w, r, err, "pack_evidence_list_failed")
		return
	}
	out := make([]packEvidenceAPIItem, 0, len(items))
	for _, it := range items {
		out = append(out, packEvidenceAPIItem{
			RequirementID: it.RequirementID,
			PackRuleID:    it.PackRuleID,
			RuleKey:       it.RuleKey,
			SortOrder:     it.SortOrder,
			EvidenceKey:   it.EvidenceKey,
			EvidenceName:  it.EvidenceName,
			IsRequired:    it.IsRequired,
		})
	}
	writeJSON(w, http.StatusOK, packEvidenceListResponse{PackID: packID, Items: out})
}

func handleRulePackEvidenceAttachAPI(w http.ResponseWriter, r *http.Request, packs rulePackStore, catalog ruleCatalogStore) {
	principal, ok := currentPrincipal(r.Context())
	if !ok {
		writePrincipalMissing(w, r)
		return
	}

	var req packEvidenceAttachPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	packRuleID := strings.TrimSpace(req.PackRuleID)
	evidenceTypeID := strings.TrimSpace(req.EvidenceTypeID)
	if packRuleID == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "pack_rule_id_required", "pack_rule_id required")
		return
	}
	if evidenceTypeID == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "evidence_type_id_required", "evidence_type_id required")
		return
	}

	rule, ok, err := packs.GetPackRule(r.Context(), packRuleID)
	if err != nil {
		writeAPIError(w, r, err, "pack_evidence_attach_failed")
		return
	}
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "pack_rule_not_found", "pack rule not found")
		return
	}
	et, ok, err := catalog.GetEvidenceType(r.Context(), evidenceTypeID)
	if err != nil {
		writeAPIError(w, r, err, "pack_evidence_attach_failed")
		return
	}
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "evidence_type_not_found", "evidence type not found")
		return
	}
	pack, ok, err := packs.GetPack(r.Context(), rule.PackID)
	if err != nil {
		writeAPIError(w, r, err, "pack_evidence_attach_failed")
		return
	}
	if !ok {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusNotFound, "rule_pack_not_found", "rule pack not found")
		return
	}
	if !evidencePlanCompatible(et.PlanType, pack.PlanType) {
		writeAPIError(w, r, httperr.NewBadRequest("evidence type plan_type does not cover the pack plan_type"), "pack_evidence_attach_failed")
		return
	}

	isRequired := true
	if req.IsRequired != nil {
		isRequired = *req.IsRequired
	}
	attached, err := packs.AttachEvidence(r.Context(), principal.ID, ctypes.EvidenceRequirement{
		PackRuleID:     packRuleID,
		EvidenceTypeID: evidenceTypeID,
		IsRequired:     isRequired,
	})
	if err != nil {
		writeAPIError(w, r, err, "pack_evidence_attach_failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"requirement_id":   attached.ID,
		"pack_rule_id":     attached.PackRuleID,
		"evidence_type_id": attached.EvidenceTypeID,
		"is_required":      attached.IsRequired,
	})
}

// evidencePlanCompatible: an evidence type bound to a concrete plan type can
// only serve packs of that plan type; ALL serves any pack.
func evidencePlanCompatible(evidence, pack ctypes.PlanType) bool {
	if evidence == ctypes.PlanTypeAll {
		return true
	}
	return evidence == pack
}

func handleRulePackEvidenceDetachAPI(w http.ResponseWriter, r *http.Request, packs rulePackStore) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r)
		return
	}
	principal, ok := currentPrincipal(r.Context())
	if !ok {
		writePrincipalMissing(w, r)
		return
	}

	var req packEvidenceDetachPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	requirementID := strings.TrimSpace(req.RequirementID)
	if requirementID == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "requirement_id_required", "requirement_id required")
		return
	}

	if err := packs.DetachEvidence(r.Context(), principal.ID, requirementID); err != nil {
		writeAPIError(w, r, err, "pack_evidence_detach_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"detached": true, "requirement_id": requirementID})
}
