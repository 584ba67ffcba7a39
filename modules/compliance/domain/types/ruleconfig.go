package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harpervoss/caseplan/pkg/httperr"
)

type ConfigKind string

const (
	ConfigKindLeadDays      ConfigKind = "lead_days"
	ConfigKindRequiredRoles ConfigKind = "required_roles"
	ConfigKindMinEvidence   ConfigKind = "min_evidence"
	ConfigKindConditional   ConfigKind = "conditional"
)

func ParseConfigKind(raw string) (ConfigKind, error) {
	switch ConfigKind(strings.ToLower(strings.TrimSpace(raw))) {
	case ConfigKindLeadDays:
		return ConfigKindLeadDays, nil
	case ConfigKindRequiredRoles:
		return ConfigKindRequiredRoles, nil
	case ConfigKindMinEvidence:
		return ConfigKindMinEvidence, nil
	case ConfigKindConditional:
		return ConfigKindConditional, nil
	default:
		return "", httperr.NewBadRequest("invalid config_kind (expected lead_days|required_roles|min_evidence|conditional)")
	}
}

// RuleConfig is the tagged union of rule configuration payloads. Exactly the
// fields of the selected kind are meaningful; the rest stay zero.
type RuleConfig struct {
	Kind  ConfigKind `json:"kind"`
	Days  int        `json:"days,omitempty"`
	Roles []string   `json:"roles,omitempty"`
	Count int        `json:"count,omitempty"`
	Expr  string     `json:"expr,omitempty"`
}

// ParseRuleConfig decodes a config payload and checks it structurally against
// kind. CEL compilation of conditional expressions happens in the services
// layer, which owns the evaluation environment.
func ParseRuleConfig(kind ConfigKind, raw json.RawMessage) (RuleConfig, error) {
	if len(raw) == 0 {
		return RuleConfig{}, httperr.NewBadRequest("config required")
	}
	var c RuleConfig
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return RuleConfig{}, httperr.NewBadRequest("invalid config json")
	}
	if c.Kind == "" {
		c.Kind = kind
	}
	if c.Kind != kind {
		return RuleConfig{}, httperr.NewBadRequest(fmt.Sprintf("config kind %q does not match definition kind %q", c.Kind, kind))
	}
	if err := c.Validate(); err != nil {
		return RuleConfig{}, err
	}
	return c, nil
}

func (c RuleConfig) Validate() error {
	switch c.Kind {
	case ConfigKindLeadDays:
		if c.Days < 1 || c.Days > 365 {
			return httperr.NewBadRequest("lead_days config: days must be 1..365")
		}
		if len(c.Roles) > 0 || c.Count != 0 || c.Expr != "" {
			return httperr.NewBadRequest("lead_days config: unexpected fields")
		}
	case ConfigKindRequiredRoles:
		if len(c.Roles) == 0 {
			return httperr.NewBadRequest("required_roles config: roles must be non-empty")
		}
		for _, role := range c.Roles {
			if role == "" || role != strings.ToLower(strings.TrimSpace(role)) {
				return httperr.NewBadRequest("required_roles config: roles must be lowercase slugs")
			}
		}
		if c.Days != 0 || c.Count != 0 || c.Expr != "" {
			return httperr.NewBadRequest("required_roles config: unexpected fields")
		}
	case ConfigKindMinEvidence:
		if c.Count < 1 || c.Count > 50 {
			return httperr.NewBadRequest("min_evidence config: count must be 1..50")
		}
		if c.Days != 0 || len(c.Roles) > 0 || c.Expr != "" {
			return httperr.NewBadRequest("min_evidence config: unexpected fields")
		}
	case ConfigKindConditional:
		if strings.TrimSpace(c.Expr) == "" {
			return httperr.NewBadRequest("conditional config: expr required")
		}
		if c.Days != 0 || len(c.Roles) > 0 || c.Count != 0 {
			return httperr.NewBadRequest("conditional config: unexpected fields")
		}
	default:
		return httperr.NewBadRequest("invalid config kind")
	}
	return nil
}
