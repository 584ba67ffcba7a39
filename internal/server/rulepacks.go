package server

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	ctypes "github.com/harpervoss/caseplan/modules/compliance/domain/types"
	"github.com/harpervoss/caseplan/pkg/httperr"
	"github.com/harpervoss/caseplan/pkg/uuidv7"
)

type packFilter struct {
	scopeType ctypes.ScopeType
	scopeID   string
	planType  ctypes.PlanType
	isActive  *bool
}

type packPatch struct {
	name          *string
	isActive      *bool
	effectiveFrom *string
	effectiveTo   *string // non-nil empty string clears the end date
}

type rulePackStore interface {
	ListPacks(ctx context.Context, f packFilter) ([]ctypes.RulePack, error)
	GetPack(ctx context.Context, packID string) (ctypes.RulePack, bool, error)
	CreatePack(ctx context.Context, actorID string, p ctypes.RulePack) (ctypes.RulePack, error)
	UpdatePack(ctx context.Context, actorID string, packID string, patch packPatch) (ctypes.RulePack, error)
	DeletePack(ctx context.Context, actorID string, packID string) error
	AttachRule(ctx context.Context, actorID string, r ctypes.RulePackRule) (ctypes.RulePackRule, error)
	DetachRule(ctx context.Context, actorID string, packRuleID string) error
	ListPackRules(ctx context.Context, packID string) ([]ctypes.RulePackRule, error)
	GetPackRule(ctx context.Context, packRuleID string) (ctypes.RulePackRule, bool, error)
	AttachEvidence(ctx context.Context, actorID string, req ctypes.EvidenceRequirement) (ctypes.EvidenceRequirement, error)
	DetachEvidence(ctx context.Context, actorID string, requirementID string) error
	ListPackEvidence(ctx context.Context, packID string) ([]ctypes.PackEvidenceItem, error)
	FindActivePack(ctx context.Context, scope ctypes.ScopeRef, planType ctypes.PlanType, asOf string) (ctypes.RulePack, bool, error)
}

type rulePackPGStore struct {
	pool *pgxpool.Pool
}

func newRulePackPGStore(pool *pgxpool.Pool) *rulePackPGStore {
	return &rulePackPGStore{pool: pool}
}

func (s *rulePackPGStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const packColumns = `id::text, scope_type, scope_id, plan_type, version, name, is_active,
  effective_from::text, COALESCE(effective_to::text, ''), created_by::text, created_at::text, updated_at::text`

func scanPack(row pgx.Row) (ctypes.RulePack, error) {
	var p ctypes.RulePack
	var st, pt string
	if err := row.Scan(&p.ID, &st, &p.ScopeID, &pt, &p.Version, &p.Name, &p.IsActive,
		&p.EffectiveFrom, &p.EffectiveTo, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return ctypes.RulePack{}, err
	}
	p.ScopeType = ctypes.ScopeType(st)
	p.PlanType = ctypes.PlanType(pt)
	return p, nil
}

func (s *rulePackPGStore) ListPacks(ctx context.Context, f packFilter) ([]ctypes.RulePack, error) {
	sql := `SELECT ` + packColumns + `
FROM compliance.rule_packs
WHERE 1=1`
	args := []any{}
	if f.scopeType != "" {
		args = append(args, string(f.scopeType))
		sql += ` AND scope_type = $` + strconv.Itoa(len(args))
	}
	if f.scopeID != "" {
		args = append(args, f.scopeID)
		sql += ` AND scope_id = $` + strconv.Itoa(len(args))
	}
	if f.planType != "" {
		args = append(args, string(f.planType))
		sql += ` AND plan_type = $` + strconv.Itoa(len(args))
	}
	if f.isActive != nil {
		args = append(args, *f.isActive)
		sql += ` AND is_active = $` + strconv.Itoa(len(args))
	}
	sql += `
ORDER BY scope_type, scope_id, plan_type, version DESC;`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ctypes.RulePack, 0, 16)
	for rows.Next() {
		p, err := scanPack(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *rulePackPGStore) GetPack(ctx context.Context, packID string) (ctypes.RulePack, bool, error) {
	p, err := scanPack(s.pool.QueryRow(ctx, `SELECT `+packColumns+`
FROM compliance.rule_packs
WHERE id = $1;`, packID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isPgInvalidInput(err) {
			return ctypes.RulePack{}, false, nil
		}
		return ctypes.RulePack{}, false, err
	}
	return p, true, nil
}

// CreatePack assigns version = 1 + max(version) per (scope_type, scope_id,
// plan_type) inside a transaction. Concurrent creators are arbitrated by the
// unique constraint; one re-read retry absorbs a lost race.
func (s *rulePackPGStore) CreatePack(ctx context.Context, actorID string, p ctypes.RulePack) (ctypes.RulePack, error) {
	var out ctypes.RulePack
	for attempt := 0; attempt < 2; attempt++ {
		err := s.withTx(ctx, func(tx pgx.Tx) error {
			id, err := uuidv7.NewString()
			if err != nil {
				return err
			}
			var version int
			if err := tx.QueryRow(ctx, `
SELECT COALESCE(MAX(version), 0) + 1
FROM compliance.rule_packs
WHERE scope_type = $1 AND scope_id = $2 AND plan_type = $3;
`, string(p.ScopeType), p.ScopeID, string(p.PlanType)).Scan(&version); err != nil {
				return err
			}

			var effectiveTo any
			if p.EffectiveTo != "" {
				effectiveTo = p.EffectiveTo
			}
			created, err := scanPack(tx.QueryRow(ctx, `
INSERT INTO compliance.rule_packs
  (id, scope_type, scope_id, plan_type, version, name, is_active, effective_from, effective_to, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::date, $9::date, $10)
RETURNING `+packColumns+`;
`, id, string(p.ScopeType), p.ScopeID, string(p.PlanType), version, p.Name, p.IsActive, p.EffectiveFrom, effectiveTo, actorID))
			if err != nil {
				return err
			}
			out = created
			return nil
		})
		if err == nil {
			return out, nil
		}
		if attempt == 0 && isPgUniqueViolation(err, "rule_packs_scope_plan_version_unique") {
			continue
		}
		return ctypes.RulePack{}, err
	}
	return ctypes.RulePack{}, errors.New("RULE_PACK_VERSION_TAKEN")
}

func (s *rulePackPGStore) UpdatePack(ctx context.Context, actorID string, packID string, patch packPatch) (ctypes.RulePack, error) {
	var out ctypes.RulePack
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		current, err := scanPack(tx.QueryRow(ctx, `SELECT `+packColumns+`
FROM compliance.rule_packs
WHERE id = $1
FOR UPDATE;`, packID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) || isPgInvalidInput(err) {
				return httperr.NewNotFound("rule pack not found")
			}
			return err
		}

		name := current.Name
		if patch.name != nil {
			name = *patch.name
		}
		isActive := current.IsActive
		if patch.isActive != nil {
			isActive = *patch.isActive
		}
		effectiveFrom := current.EffectiveFrom
		if patch.effectiveFrom != nil {
			effectiveFrom = *patch.effectiveFrom
		}
		effectiveTo := current.EffectiveTo
		if patch.effectiveTo != nil {
			effectiveTo = *patch.effectiveTo
		}
		if effectiveTo != "" && effectiveTo < effectiveFrom {
			return httperr.NewBadRequest("effective_to before effective_from")
		}
		var effectiveToArg any
		if effectiveTo != "" {
			effectiveToArg = effectiveTo
		}

		updated, err := scanPack(tx.QueryRow(ctx, `
UPDATE compliance.rule_packs
SET name = $2, is_active = $3, effective_from = $4::date, effective_to = $5::date, updated_at = now()
WHERE id = $1
RETURNING `+packColumns+`;
`, packID, name, isActive, effectiveFrom, effectiveToArg))
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return ctypes.RulePack{}, err
	}
	_ = actorID
	return out, nil
}

// DeletePack removes the pack's evidence requirements, then its rules, then
// the pack itself, in one transaction.
func (s *rulePackPGStore) DeletePack(ctx context.Context, actorID string, packID string) error {
	_ = actorID
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
DELETE FROM compliance.rule_pack_evidence
WHERE pack_rule_id IN (SELECT id FROM compliance.rule_pack_rules WHERE pack_id = $1);
`, packID); err != nil {
			if isPgInvalidInput(err) {
				return httperr.NewNotFound("rule pack not found")
			}
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM compliance.rule_pack_rules WHERE pack_id = $1;`, packID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM compliance.rule_packs WHERE id = $1;`, packID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return httperr.NewNotFound("rule pack not found")
		}
		return nil
	})
}

const packRuleColumns = `id::text, pack_id::text, rule_definition_id::text, is_enabled, config, sort_order, created_by::text`

func scanPackRule(row pgx.Row) (ctypes.RulePackRule, error) {
	var r ctypes.RulePackRule
	var cfg []byte
	if err := row.Scan(&r.ID, &r.PackID, &r.RuleDefinitionID, &r.IsEnabled, &cfg, &r.SortOrder, &r.CreatedBy); err != nil {
		return ctypes.RulePackRule{}, err
	}
	if len(cfg) > 0 {
		var c ctypes.RuleConfig
		if err := json.Unmarshal(cfg, &c); err != nil {
			return ctypes.RulePackRule{}, err
		}
		r.Config = &c
	}
	return r, nil
}

func (s *rulePackPGStore) AttachRule(ctx context.Context, actorID string, r ctypes.RulePackRule) (ctypes.RulePackRule, error) {
	id, err := uuidv7.NewString()
	if err != nil {
		return ctypes.RulePackRule{}, err
	}
	var cfg any
	if r.Config != nil {
		b, err := json.Marshal(r.Config)
		if err != nil {
			return ctypes.RulePackRule{}, err
		}
		cfg = b
	}

	var out ctypes.RulePackRule
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM compliance.rule_packs WHERE id = $1);`, r.PackID).Scan(&exists); err != nil {
			if isPgInvalidInput(err) {
				return httperr.NewNotFound("rule pack not found")
			}
			return err
		}
		if !exists {
			return httperr.NewNotFound("rule pack not found")
		}

		attached, err := scanPackRule(tx.QueryRow(ctx, `
INSERT INTO compliance.rule_pack_rules (id, pack_id, rule_definition_id, is_enabled, config, sort_order, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+packRuleColumns+`;
`, id, r.PackID, r.RuleDefinitionID, r.IsEnabled, cfg, r.SortOrder, actorID))
		if err != nil {
			return err
		}
		out = attached
		return nil
	})
	if err != nil {
		return ctypes.RulePackRule{}, err
	}
	return out, nil
}

// DetachRule removes the rule and its evidence requirements together.
func (s *rulePackPGStore) DetachRule(ctx context.Context, actorID string, packRuleID string) error {
	_ = actorID
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM compliance.rule_pack_evidence WHERE pack_rule_id = $1;`, packRuleID); err != nil {
			if isPgInvalidInput(err) {
				return httperr.NewNotFound("pack rule not found")
			}
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM compliance.rule_pack_rules WHERE id = $1;`, packRuleID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return httperr.NewNotFound("pack rule not found")
		}
		return nil
	})
}

func (s *rulePackPGStore) ListPackRules(ctx context.Context, packID string) ([]ctypes.RulePackRule, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+packRuleColumns+`
FROM compliance.rule_pack_rules
WHERE pack_id = $1
ORDER BY sort_order, id;`, packID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ctypes.RulePackRule, 0, 16)
	for rows.Next() {
		r, err := scanPackRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *rulePackPGStore) GetPackRule(ctx context.Context, packRuleID string) (ctypes.RulePackRule, bool, error) {
	r, err := scanPackRule(s.pool.QueryRow(ctx, `SELECT `+packRuleColumns+`
FROM compliance.rule_pack_rules
WHERE id = $1;`, packRuleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isPgInvalidInput(err) {
			return ctypes.RulePackRule{}, false, nil
		}
		return ctypes.RulePackRule{}, false, err
	}
	return r, true, nil
}

func (s *rulePackPGStore) AttachEvidence(ctx context.Context, actorID string, req ctypes.EvidenceRequirement) (ctypes.EvidenceRequirement, error) {
	id, err := uuidv7.NewString()
	if err != nil {
		return ctypes.EvidenceRequirement{}, err
	}

	var out ctypes.EvidenceRequirement
	err = s.withTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM compliance.rule_pack_rules WHERE id = $1);`, req.PackRuleID).Scan(&exists); err != nil {
			if isPgInvalidInput(err) {
				return httperr.NewNotFound("pack rule not found")
			}
			return err
		}
		if !exists {
			return httperr.NewNotFound("pack rule not found")
		}

		return tx.QueryRow(ctx, `
INSERT INTO compliance.rule_pack_evidence (id, pack_rule_id, evidence_type_id, is_required, created_by)
VALUES ($1, $2, $3, $4, $5)
RETURNING id::text, pack_rule_id::text, evidence_type_id::text, is_required, created_by::text;
`, id, req.PackRuleID, req.EvidenceTypeID, req.IsRequired, actorID).
			Scan(&out.ID, &out.PackRuleID, &out.EvidenceTypeID, &out.IsRequired, &out.CreatedBy)
	})
	if err != nil {
		return ctypes.EvidenceRequirement{}, err
	}
	return out, nil
}

func (s *rulePackPGStore) DetachEvidence(ctx context.Context, actorID string, requirementID string) error {
	_ = actorID
	tag, err := s.pool.Exec(ctx, `DELETE FROM compliance.rule_pack_evidence WHERE id = $1;`, requirementID)
	if err != nil {
		if isPgInvalidInput(err) {
			return httperr.NewNotFound("evidence requirement not found")
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return httperr.NewNotFound("evidence requirement not found")
	}
	return nil
}

func (s *rulePackPGStore) ListPackEvidence(ctx context.Context, packID string) ([]ctypes.PackEvidenceItem, error) {
	rows, err := s.pool.Query(ctx, `
SELECT e.id::text, r.id::text, d.key, r.sort_order, t.key, t.name, e.is_required
FROM compliance.rule_pack_evidence e
JOIN compliance.rule_pack_rules r ON r.id = e.pack_rule_id
JOIN compliance.rule_definitions d ON d.id = r.rule_definition_id
JOIN compliance.evidence_types t ON t.id = e.evidence_type_id
WHERE r.pack_id = $1 AND r.is_enabled
ORDER BY r.sort_order, t.key;
`, packID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ctypes.PackEvidenceItem, 0, 16)
	for rows.Next() {
		var it ctypes.PackEvidenceItem
		if err := rows.Scan(&it.RequirementID, &it.PackRuleID, &it.RuleKey, &it.SortOrder, &it.EvidenceKey, &it.EvidenceName, &it.IsRequired); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *rulePackPGStore) FindActivePack(ctx context.Context, scope ctypes.ScopeRef, planType ctypes.PlanType, asOf string) (ctypes.RulePack, bool, error) {
	p, err := scanPack(s.pool.QueryRow(ctx, `SELECT `+packColumns+`
FROM compliance.rule_packs
WHERE scope_type = $1 AND scope_id = $2
  AND (plan_type = $3 OR plan_type = 'ALL')
  AND is_active
  AND effective_from <= $4::date
  AND (effective_to IS NULL OR effective_to >= $4::date)
ORDER BY version DESC
LIMIT 1;`, string(scope.Type), scope.ID, string(planType), asOf))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ctypes.RulePack{}, false, nil
		}
		return ctypes.RulePack{}, false, err
	}
	return p, true, nil
}

type rulePackMemoryStore struct {
	mu       sync.Mutex
	catalog  ruleCatalogStore
	packs    map[string]ctypes.RulePack
	rules    map[string]ctypes.RulePackRule
	evidence map[string]ctypes.EvidenceRequirement
}

func newRulePackMemoryStore(catalog ruleCatalogStore) *rulePackMemoryStore {
	return &rulePackMemoryStore{
		catalog:  catalog,
		packs:    map[string]ctypes.RulePack{},
		rules:    map[string]ctypes.RulePackRule{},
		evidence: map[string]ctypes.EvidenceRequirement{},
	}
}

func (s *rulePackMemoryStore) ListPacks(_ context.Context, f packFilter) ([]ctypes.RulePack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ctypes.RulePack, 0, len(s.packs))
	for _, p := range s.packs {
		if f.scopeType != "" && p.ScopeType != f.scopeType {
			continue
		}
		if f.scopeID != "" && p.ScopeID != f.scopeID {
			continue
		}
		if f.planType != "" && p.PlanType != f.planType {
			continue
		}
		if f.isActive != nil && p.IsActive != *f.isActive {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ScopeType != b.ScopeType {
			return a.ScopeType < b.ScopeType
		}
		if a.ScopeID != b.ScopeID {
			return a.ScopeID < b.ScopeID
		}
		if a.PlanType != b.PlanType {
			return a.PlanType < b.PlanType
		}
		return a.Version > b.Version
	})
	return out, nil
}

func (s *rulePackMemoryStore) GetPack(_ context.Context, packID string) (ctypes.RulePack, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.packs[packID]
	return p, ok, nil
}

func (s *rulePackMemoryStore) CreatePack(_ context.Context, actorID string, p ctypes.RulePack) (ctypes.RulePack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := 0
	for _, existing := range s.packs {
		if existing.ScopeType == p.ScopeType && existing.ScopeID == p.ScopeID && existing.PlanType == p.PlanType && existing.Version > version {
			version = existing.Version
		}
	}
	id, err := uuidv7.NewString()
	if err != nil {
		return ctypes.RulePack{}, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	p.ID = id
	p.Version = version + 1
	p.CreatedBy = actorID
	p.CreatedAt = now
	p.UpdatedAt = now
	s.packs[id] = p
	return p, nil
}

func (s *rulePackMemoryStore) UpdatePack(_ context.Context, _ string, packID string, patch packPatch) (ctypes.RulePack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.packs[packID]
	if !ok {
		return ctypes.RulePack{}, httperr.NewNotFound("rule pack not found")
	}
	if patch.name != nil {
		p.Name = *patch.name
	}
	if patch.isActive != nil {
		p.IsActive = *patch.isActive
	}
	if patch.effectiveFrom != nil {
		p.EffectiveFrom = *patch.effectiveFrom
	}
	if patch.effectiveTo != nil {
		p.EffectiveTo = *patch.effectiveTo
	}
	if p.EffectiveTo != "" && p.EffectiveTo < p.EffectiveFrom {
		return ctypes.RulePack{}, httperr.NewBadRequest("effective_to before effective_from")
	}
	p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	s.packs[packID] = p
	return p, nil
}

func (s *rulePackMemoryStore) DeletePack(_ context.Context, _ string, packID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.packs[packID]; !ok {
		return httperr.NewNotFound("rule pack not found")
	}
	for ruleID, r := range s.rules {
		if r.PackID != packID {
			continue
		}
		for reqID, req := range s.evidence {
			if req.PackRuleID == ruleID {
				delete(s.evidence, reqID)
			}
		}
		delete(s.rules, ruleID)
	}
	delete(s.packs, packID)
	return nil
}

func (s *rulePackMemoryStore) AttachRule(_ context.Context, actorID string, r ctypes.RulePackRule) (ctypes.RulePackRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.packs[r.PackID]; !ok {
		return ctypes.RulePackRule{}, httperr.NewNotFound("rule pack not found")
	}
	for _, existing := range s.rules {
		if existing.PackID == r.PackID && existing.RuleDefinitionID == r.RuleDefinitionID {
			return ctypes.RulePackRule{}, errors.New("RULE_ALREADY_ATTACHED")
		}
	}
	id, err := uuidv7.NewString()
	if err != nil {
		return ctypes.RulePackRule{}, err
	}
	r.ID = id
	r.CreatedBy = actorID
	s.rules[id] = r
	return r, nil
}

func (s *rulePackMemoryStore) DetachRule(_ context.Context, _ string, packRuleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[packRuleID]; !ok {
		return httperr.NewNotFound("pack rule not found")
	}
	for reqID, req := range s.evidence {
		if req.PackRuleID == packRuleID {
			delete(s.evidence, reqID)
		}
	}
	delete(s.rules, packRuleID)
	return nil
}

func (s *rulePackMemoryStore) ListPackRules(_ context.Context, packID string) ([]ctypes.RulePackRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ctypes.RulePackRule, 0, 8)
	for _, r := range s.rules {
		if r.PackID == packID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *rulePackMemoryStore) GetPackRule(_ context.Context, packRuleID string) (ctypes.RulePackRule, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[packRuleID]
	return r, ok, nil
}

func (s *rulePackMemoryStore) AttachEvidence(_ context.Context, actorID string, req ctypes.EvidenceRequirement) (ctypes.EvidenceRequirement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[req.PackRuleID]; !ok {
		return ctypes.EvidenceRequirement{}, httperr.NewNotFound("pack rule not found")
	}
	for _, existing := range s.evidence {
		if existing.PackRuleID == req.PackRuleID && existing.EvidenceTypeID == req.EvidenceTypeID {
			return ctypes.EvidenceRequirement{}, errors.New("EVIDENCE_ALREADY_ATTACHED")
		}
	}
	id, err := uuidv7.NewString()
	if err != nil {
		return ctypes.EvidenceRequirement{}, err
	}
	req.ID = id
	req.CreatedBy = actorID
	s.evidence[id] = req
	return req, nil
}

func (s *rulePackMemoryStore) DetachEvidence(_ context.Context, _ string, requirementID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.evidence[requirementID]; !ok {
		return httperr.NewNotFound("evidence requirement not found")
	}
	delete(s.evidence, requirementID)
	return nil
}

func (s *rulePackMemoryStore) ListPackEvidence(ctx context.Context, packID string) ([]ctypes.PackEvidenceItem, error) {
	s.mu.Lock()
	rules := map[string]ctypes.RulePackRule{}
	for id, r := range s.rules {
		if r.PackID == packID && r.IsEnabled {
			rules[id] = r
		}
	}
	reqs := make([]ctypes.EvidenceRequirement, 0, 8)
	for _, req := range s.evidence {
		if _, ok := rules[req.PackRuleID]; ok {
			reqs = append(reqs, req)
		}
	}
	s.mu.Unlock()

	out := make([]ctypes.PackEvidenceItem, 0, len(reqs))
	for _, req := range reqs {
		rule := rules[req.PackRuleID]
		def, ok, err := s.catalog.GetRuleDefinition(ctx, rule.RuleDefinitionID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		et, ok, err := s.catalog.GetEvidenceType(ctx, req.EvidenceTypeID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, ctypes.PackEvidenceItem{
			RequirementID: req.ID,
			PackRuleID:    req.PackRuleID,
			RuleKey:       def.Key,
			SortOrder:     rule.SortOrder,
			EvidenceKey:   et.Key,
			EvidenceName:  et.Name,
			IsRequired:    req.IsRequired,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].EvidenceKey < out[j].EvidenceKey
	})
	return out, nil
}

func (s *rulePackMemoryStore) FindActivePack(_ context.Context, scope ctypes.ScopeRef, planType ctypes.PlanType, asOf string) (ctypes.RulePack, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best ctypes.RulePack
	found := false
	for _, p := range s.packs {
		if p.ScopeType != scope.Type || p.ScopeID != scope.ID {
			continue
		}
		if !p.PlanType.Matches(planType) {
			continue
		}
		if !p.IsActive {
			continue
		}
		if p.EffectiveFrom > asOf {
			continue
		}
		if p.EffectiveTo != "" && p.EffectiveTo < asOf {
			continue
		}
		if !found || p.Version > best.Version {
			best = p
			found = true
		}
	}
	return best, found, nil
}
