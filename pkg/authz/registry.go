package authz

const (
	RoleAdmin       = "admin"
	RoleCaseManager = "case-manager"
	RoleViewer      = "viewer"
	RoleAnonymous   = "anonymous"
)

const (
	ActionRead  = "read"
	ActionWrite = "write"
	ActionAdmin = "admin"
)

const DomainGlobal = "global"

const (
	ObjectIAMSession         = "iam.session"
	ObjectComplianceCatalog  = "compliance.catalog"
	ObjectCompliancePacks    = "compliance.rule-packs"
	ObjectComplianceEvaluate = "compliance.evaluate"
	ObjectReviewSchedules    = "review.schedules"
	ObjectReviewTasks        = "review.tasks"
)
