package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	ctypes "github.com/harpervoss/caseplan/modules/compliance/domain/types"
	"github.com/harpervoss/caseplan/pkg/authz"
)

var testAdmin = Principal{
	ID:       "0198c5a0-0000-7000-8000-000000000001",
	Email:    "admin@example.test",
	RoleSlug: authz.RoleAdmin,
	Status:   "active",
}

func asPrincipal(r *http.Request, p Principal) *http.Request {
	return r.WithContext(withPrincipal(r.Context(), p))
}

func jsonRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	return httptest.NewRequest(method, target, &buf)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode body: %v (%s)", err, rec.Body.String())
	}
	return v
}

type errBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errBody {
	t.Helper()
	return decodeBody[errBody](t, rec)
}

func newPackFixture() (*ruleCatalogMemoryStore, *rulePackMemoryStore) {
	catalog := newRuleCatalogMemoryStore()
	return catalog, newRulePackMemoryStore(catalog)
}

func mustCreateDefinition(t *testing.T, catalog ruleCatalogStore, key string, cfg ctypes.RuleConfig) ctypes.RuleDefinition {
	t.Helper()
	d, err := catalog.CreateRuleDefinition(context.Background(), testAdmin.ID, ctypes.RuleDefinition{
		Key:           key,
		Name:          key,
		ConfigKind:    cfg.Kind,
		DefaultConfig: cfg,
	})
	if err != nil {
		t.Fatalf("create definition %s: %v", key, err)
	}
	return d
}

func mustCreateEvidenceType(t *testing.T, catalog ruleCatalogStore, key string, planType ctypes.PlanType) ctypes.EvidenceType {
	t.Helper()
	e, err := catalog.CreateEvidenceType(context.Background(), testAdmin.ID, ctypes.EvidenceType{
		Key:      key,
		Name:     key,
		PlanType: planType,
	})
	if err != nil {
		t.Fatalf("create evidence type %s: %v", key, err)
	}
	return e
}

func mustCreatePack(t *testing.T, packs rulePackStore, scopeType ctypes.ScopeType, scopeID string, planType ctypes.PlanType, from, to string) ctypes.RulePack {
	t.Helper()
	p, err := packs.CreatePack(context.Background(), testAdmin.ID, ctypes.RulePack{
		ScopeType:     scopeType,
		ScopeID:       scopeID,
		PlanType:      planType,
		Name:          string(scopeType) + " pack",
		IsActive:      true,
		EffectiveFrom: from,
		EffectiveTo:   to,
	})
	if err != nil {
		t.Fatalf("create pack %s/%s: %v", scopeType, scopeID, err)
	}
	return p
}

func mustAttachRule(t *testing.T, packs rulePackStore, packID, defID string, sortOrder int) ctypes.RulePackRule {
	t.Helper()
	r, err := packs.AttachRule(context.Background(), testAdmin.ID, ctypes.RulePackRule{
		PackID:           packID,
		RuleDefinitionID: defID,
		IsEnabled:        true,
		SortOrder:        sortOrder,
	})
	if err != nil {
		t.Fatalf("attach rule: %v", err)
	}
	return r
}
