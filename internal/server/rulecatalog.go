package server

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	ctypes "github.com/harpervoss/caseplan/modules/compliance/domain/types"
	"github.com/harpervoss/caseplan/pkg/uuidv7"
)

type ruleCatalogStore interface {
	ListRuleDefinitions(ctx context.Context) ([]ctypes.RuleDefinition, error)
	GetRuleDefinition(ctx context.Context, id string) (ctypes.RuleDefinition, bool, error)
	CreateRuleDefinition(ctx context.Context, actorID string, d ctypes.RuleDefinition) (ctypes.RuleDefinition, error)
	ListEvidenceTypes(ctx context.Context, planType ctypes.PlanType) ([]ctypes.EvidenceType, error)
	GetEvidenceType(ctx context.Context, id string) (ctypes.EvidenceType, bool, error)
	CreateEvidenceType(ctx context.Context, actorID string, e ctypes.EvidenceType) (ctypes.EvidenceType, error)
}

type ruleCatalogPGStore struct {
	pool *pgxpool.Pool
}

func newRuleCatalogPGStore(pool *pgxpool.Pool) *ruleCatalogPGStore {
	return &ruleCatalogPGStore{pool: pool}
}

func (s *ruleCatalogPGStore) ListRuleDefinitions(ctx context.Context) ([]ctypes.RuleDefinition, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id::text, key, name, config_kind, default_config, created_by::text, created_at::text
FROM compliance.rule_definitions
ORDER BY key;
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ctypes.RuleDefinition, 0, 16)
	for rows.Next() {
		d, err := scanRuleDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *ruleCatalogPGStore) GetRuleDefinition(ctx context.Context, id string) (ctypes.RuleDefinition, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id::text, key, name, config_kind, default_config, created_by::text, created_at::text
FROM compliance.rule_definitions
WHERE id = $1;
`, id)
	d, err := scanRuleDefinition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ctypes.RuleDefinition{}, false, nil
		}
		if isPgInvalidInput(err) {
			return ctypes.RuleDefinition{}, false, nil
		}
		return ctypes.RuleDefinition{}, false, err
	}
	return d, true, nil
}

func (s *ruleCatalogPGStore) CreateRuleDefinition(ctx context.Context, actorID string, d ctypes.RuleDefinition) (ctypes.RuleDefinition, error) {
	id, err := uuidv7.NewString()
	if err != nil {
		return ctypes.RuleDefinition{}, err
	}
	cfg, err := json.Marshal(d.DefaultConfig)
	if err != nil {
		return ctypes.RuleDefinition{}, err
	}

	row := s.pool.QueryRow(ctx, `
INSERT INTO compliance.rule_definitions (id, key, name, config_kind, default_config, created_by)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id::text, key, name, config_kind, default_config, created_by::text, created_at::text;
`, id, d.Key, d.Name, string(d.ConfigKind), cfg, actorID)
	out, err := scanRuleDefinition(row)
	if err != nil {
		return ctypes.RuleDefinition{}, err
	}
	return out, nil
}

func (s *ruleCatalogPGStore) ListEvidenceTypes(ctx context.Context, planType ctypes.PlanType) ([]ctypes.EvidenceType, error) {
	sql := `
SELECT id::text, key, name, plan_type, created_by::text, created_at::text
FROM compliance.evidence_types
`
	args := []any{}
	if planType != "" {
		sql += `WHERE plan_type = $1 OR plan_type = 'ALL'
`
		args = append(args, string(planType))
	}
	sql += `ORDER BY key;`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ctypes.EvidenceType, 0, 16)
	for rows.Next() {
		var e ctypes.EvidenceType
		var pt string
		if err := rows.Scan(&e.ID, &e.Key, &e.Name, &pt, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.PlanType = ctypes.PlanType(pt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *ruleCatalogPGStore) GetEvidenceType(ctx context.Context, id string) (ctypes.EvidenceType, bool, error) {
	var e ctypes.EvidenceType
	var pt string
	err := s.pool.QueryRow(ctx, `
SELECT id::text, key, name, plan_type, created_by::text, created_at::text
FROM compliance.evidence_types
WHERE id = $1;
`, id).Scan(&e.ID, &e.Key, &e.Name, &pt, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isPgInvalidInput(err) {
			return ctypes.EvidenceType{}, false, nil
		}
		return ctypes.EvidenceType{}, false, err
	}
	e.PlanType = ctypes.PlanType(pt)
	return e, true, nil
}

func (s *ruleCatalogPGStore) CreateEvidenceType(ctx context.Context, actorID string, e ctypes.EvidenceType) (ctypes.EvidenceType, error) {
	id, err := uuidv7.NewString()
	if err != nil {
		return ctypes.EvidenceType{}, err
	}

	var out ctypes.EvidenceType
	var pt string
	err = s.pool.QueryRow(ctx, `
INSERT INTO compliance.evidence_types (id, key, name, plan_type, created_by)
VALUES ($1, $2, $3, $4, $5)
RETURNING id::text, key, name, plan_type, created_by::text, created_at::text;
`, id, e.Key, e.Name, string(e.PlanType), actorID).Scan(&out.ID, &out.Key, &out.Name, &pt, &out.CreatedBy, &out.CreatedAt)
	if err != nil {
		return ctypes.EvidenceType{}, err
	}
	out.PlanType = ctypes.PlanType(pt)
	return out, nil
}

func scanRuleDefinition(row pgx.Row) (ctypes.RuleDefinition, error) {
	var d ctypes.RuleDefinition
	var kind string
	var cfg []byte
	if err := row.Scan(&d.ID, &d.Key, &d.Name, &kind, &cfg, &d.CreatedBy, &d.CreatedAt); err != nil {
		return ctypes.RuleDefinition{}, err
	}
	d.ConfigKind = ctypes.ConfigKind(kind)
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &d.DefaultConfig); err != nil {
			return ctypes.RuleDefinition{}, err
		}
	}
	return d, nil
}

type ruleCatalogMemoryStore struct {
	mu            sync.Mutex
	definitions   map[string]ctypes.RuleDefinition
	evidenceTypes map[string]ctypes.EvidenceType
}

func newRuleCatalogMemoryStore() *ruleCatalogMemoryStore {
	return &ruleCatalogMemoryStore{
		definitions:   map[string]ctypes.RuleDefinition{},
		evidenceTypes: map[string]ctypes.EvidenceType{},
	}
}

func (s *ruleCatalogMemoryStore) ListRuleDefinitions(_ context.Context) ([]ctypes.RuleDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ctypes.RuleDefinition, 0, len(s.definitions))
	for _, d := range s.definitions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *ruleCatalogMemoryStore) GetRuleDefinition(_ context.Context, id string) (ctypes.RuleDefinition, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.definitions[id]
	return d, ok, nil
}

func (s *ruleCatalogMemoryStore) CreateRuleDefinition(_ context.Context, actorID string, d ctypes.RuleDefinition) (ctypes.RuleDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.definitions {
		if strings.EqualFold(existing.Key, d.Key) {
			return ctypes.RuleDefinition{}, errors.New("RULE_KEY_ALREADY_EXISTS")
		}
	}
	id, err := uuidv7.NewString()
	if err != nil {
		return ctypes.RuleDefinition{}, err
	}
	d.ID = id
	d.CreatedBy = actorID
	d.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	s.definitions[id] = d
	return d, nil
}

func (s *ruleCatalogMemoryStore) ListEvidenceTypes(_ context.Context, planType ctypes.PlanType) ([]ctypes.EvidenceType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ctypes.EvidenceType, 0, len(s.evidenceTypes))
	for _, e := range s.evidenceTypes {
		if planType != "" && e.PlanType != planType && e.PlanType != ctypes.PlanTypeAll {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *ruleCatalogMemoryStore) GetEvidenceType(_ context.Context, id string) (ctypes.EvidenceType, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.evidenceTypes[id]
	return e, ok, nil
}

func (s *ruleCatalogMemoryStore) CreateEvidenceType(_ context.Context, actorID string, e ctypes.EvidenceType) (ctypes.EvidenceType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.evidenceTypes {
		if strings.EqualFold(existing.Key, e.Key) {
			return ctypes.EvidenceType{}, errors.New("EVIDENCE_KEY_ALREADY_EXISTS")
		}
	}
	id, err := uuidv7.NewString()
	if err != nil {
		return ctypes.EvidenceType{}, err
	}
	e.ID = id
	e.CreatedBy = actorID
	e.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	s.evidenceTypes[id] = e
	return e, nil
}
