package server

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/harpervoss/caseplan/internal/routing"
	ctypes "github.com/harpervoss/caseplan/modules/compliance/domain/types"
	"github.com/harpervoss/caseplan/modules/compliance/services"
)

var catalogKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

type ruleDefinitionAPIItem struct {
	ID            string            `json:"id"`
	Key           string            `json:"key"`
	Name          string            `json:"name"`
	ConfigKind    string            `json:"config_kind"`
	DefaultConfig ctypes.RuleConfig `json:"default_config"`
	CreatedBy     string            `json:"created_by"`
	CreatedAt     string            `json:"created_at"`
}

func ruleDefinitionAPIItemFrom(d ctypes.RuleDefinition) ruleDefinitionAPIItem {
	return ruleDefinitionAPIItem{
		ID:            d.ID,
		Key:           d.Key,
		Name:          d.Name,
		ConfigKind:    string(d.ConfigKind),
		DefaultConfig: d.DefaultConfig,
		CreatedBy:     d.CreatedBy,
		CreatedAt:     d.CreatedAt,
	}
}

type ruleDefinitionListResponse struct {
	Definitions []ruleDefinitionAPIItem `json:"definitions"`
}

type ruleDefinitionCreatePayload struct {
	Key           string          `json:"key"`
	Name          string          `json:"name"`
	ConfigKind    string          `json:"config_kind"`
	DefaultConfig json.RawMessage `json:"default_config"`
}

type evidenceTypeAPIItem struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	Name      string `json:"name"`
	PlanType  string `json:"plan_type"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at"`
}

func evidenceTypeAPIItemFrom(e ctypes.EvidenceType) evidenceTypeAPIItem {
	return evidenceTypeAPIItem{
		ID:        e.ID,
		Key:       e.Key,
		Name:      e.Name,
		PlanType:  string(e.PlanType),
		CreatedBy: e.CreatedBy,
		CreatedAt: e.CreatedAt,
	}
}

type evidenceTypeListResponse struct {
	EvidenceTypes []evidenceTypeAPIItem `json:"evidence_types"`
}

type evidenceTypeCreatePayload struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	PlanType string `json:"plan_type"`
}

func handleRuleDefinitionsAPI(w http.ResponseWriter, r *http.Request, store ruleCatalogStore) {
	switch r.Method {
	case http.MethodGet:
		handleRuleDefinitionsListAPI(w, r, store)
	case http.MethodPost:
		handleRuleDefinitionsCreateAPI(w, r, store)
	default:
		writeMethodNotAllowed(w, r)
	}
}

func handleRuleDefinitionsListAPI(w http.ResponseWriter, r *http.Request, store ruleCatalogStore) {
	defs, err := store.ListRuleDefinitions(r.Context())
	if err != nil {
		writeAPIError(w, r, err, "rule_definition_list_failed")
		return
	}

	items := make([]ruleDefinitionAPIItem, 0, len(defs))
	for _, d := range defs {
		items = append(items, ruleDefinitionAPIItemFrom(d))
	}
	writeJSON(w, http.StatusOK, ruleDefinitionListResponse{Definitions: items})
}

func handleRuleDefinitionsCreateAPI(w http.ResponseWriter, r *http.Request, store ruleCatalogStore) {
	principal, ok := currentPrincipal(r.Context())
	if !ok {
		writePrincipalMissing(w, r)
		return
	}

	var req ruleDefinitionCreatePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "bad json")
		return
	}

	req.Key = strings.TrimSpace(req.Key)
	req.Name = strings.TrimSpace(req.Name)
	if !catalogKeyPattern.MatchString(req.Key) {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "rule_key_invalid", "key must be a lowercase slug")
		return
	}
	if req.Name == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "rule_name_required", "name required")
		return
	}
	kind, err := ctypes.ParseConfigKind(req.ConfigKind)
	if err != nil {
		writeAPIError(w, r, err, "rule_definition_create_failed")
		return
	}
	cfg, err := ctypes.ParseRuleConfig(kind, req.DefaultConfig)
	if err != nil {
		writeAPIError(w, r, err, "rule_definition_create_failed")
		return
	}
	if err := services.ValidateConfig(cfg); err != nil {
		writeAPIError(w, r, err, "rule_definition_create_failed")
		return
	}

	created, err := store.CreateRuleDefinition(r.Context(), principal.ID, ctypes.RuleDefinition{
		Key:           req.Key,
		Name:          req.Name,
		ConfigKind:    kind,
		DefaultConfig: cfg,
	})
	if err != nil {
		writeAPIError(w, r, err, "rule_definition_create_failed")
		return
	}
	writeJSON(w, http.StatusCreated, ruleDefinitionAPIItemFrom(created))
}

func handleEvidenceTypesAPI(w http.ResponseWriter, r *http.Request, store ruleCatalogStore) {
	switch r.Method {
	case http.MethodGet:
		handleEvidenceTypesListAPI(w, r, store)
	case http.MethodPost:
		handleEvidenceTypesCreateAPI(w, r, store)
	default:
		writeMethodNotAllowed(w, r)
	}
}

func handleEvidenceTypesListAPI(w http.ResponseWriter, r *http.Request, store ruleCatalogStore) {
	var planType ctypes.PlanType
	if raw := strings.TrimSpace(r.URL.Query().Get("plan_type")); raw != "" {
		parsed, err := ctypes.ParsePlanType(raw, false)
		if err != nil {
			writeAPIError(w, r, err, "evidence_type_list_failed")
			return
		}
		planType = parsed
	}

	items, err := store.ListEvidenceTypes(r.Context(), planType)
	if err != nil {
		writeAPIError(w, r, err, "evidence_type_list_failed")
		return
	}

	out := make([]evidenceTypeAPIItem, 0, len(items))
	for _, e := range items {
		out = append(out, evidenceTypeAPIItemFrom(e))
	}
	writeJSON(w, http.StatusOK, evidenceTypeListResponse{EvidenceTypes: out})
}

func handleEvidenceTypesCreateAPI(w http.ResponseWriter, r *http.Request, store ruleCatalogStore) {
	principal, ok := currentPrincipal(r.Context())
	if !ok {
		writePrincipalMissing(w, r)
		return
	}

	var req evidenceTypeCreatePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "bad_json", "bad json")
		return
	}

	req.Key = strings.TrimSpace(req.Key)
	req.Name = strings.TrimSpace(req.Name)
	if !catalogKeyPattern.MatchString(req.Key) {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "evidence_key_invalid", "key must be a lowercase slug")
		return
	}
	if req.Name == "" {
		routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusBadRequest, "evidence_name_required", "name required")
		return
	}
	planType, err := ctypes.ParsePlanType(req.PlanType, true)
	if err != nil {
		writeAPIError(w, r, err, "evidence_type_create_failed")
		return
	}

	created, err := store.CreateEvidenceType(r.Context(), principal.ID, ctypes.EvidenceType{
		Key:      req.Key,
		Name:     req.Name,
		PlanType: planType,
	})
	if err != nil {
		writeAPIError(w, r, err, "evidence_type_create_failed")
		return
	}
	writeJSON(w, http.StatusCreated, evidenceTypeAPIItemFrom(created))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
