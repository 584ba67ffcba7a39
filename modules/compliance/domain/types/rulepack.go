package types

type RuleDefinition struct {
	ID            string
	Key           string
	Name          string
	ConfigKind    ConfigKind
	DefaultConfig RuleConfig
	CreatedBy     string
	CreatedAt     string
}

type EvidenceType struct {
	ID        string
	Key       string
	Name      string
	PlanType  PlanType
	CreatedBy string
	CreatedAt string
}

// RulePack is a versioned bundle of compliance rules bound to one scope and
// plan type. Versions are separate rows; only name/isActive/effective window
// are patched in place.
type RulePack struct {
	ID            string
	ScopeType     ScopeType
	ScopeID       string
	PlanType      PlanType
	Version       int
	Name          string
	IsActive      bool
	EffectiveFrom string
	EffectiveTo   string // empty = open-ended
	CreatedBy     string
	CreatedAt     string
	UpdatedAt     string
}

type RulePackRule struct {
	ID               string
	PackID           string
	RuleDefinitionID string
	IsEnabled        bool
	Config           *RuleConfig // nil = use the definition default
	SortOrder        int
	CreatedBy        string
}

type EvidenceRequirement struct {
	ID             string
	PackRuleID     string
	EvidenceTypeID string
	IsRequired     bool
	CreatedBy      string
}

// PackEvidenceItem is a row of the resolved evidence listing: an evidence
// requirement joined with the rule and evidence type that carry it.
type PackEvidenceItem struct {
	RequirementID string
	PackRuleID    string
	RuleKey       string
	SortOrder     int
	EvidenceKey   string
	EvidenceName  string
	IsRequired    bool
}
