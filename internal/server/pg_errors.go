package server

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

func pgErrorMessage(err error) string {
	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok && pgErr != nil {
		msg := strings.TrimSpace(pgErr.Message)
		if msg != "" {
			return msg
		}
	}
	return "UNKNOWN"
}

func pgErrorCode(err error) string {
	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok && pgErr != nil {
		return strings.TrimSpace(pgErr.Code)
	}
	return ""
}

func isPgInvalidInput(err error) bool {
	switch pgErrorCode(err) {
	case "22P02", "22003", "22007", "22008":
		return true
	default:
		return false
	}
}

const pgUniqueViolation = "23505"

func isPgUniqueViolation(err error, constraint string) bool {
	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok && pgErr != nil {
		return pgErr.Code == pgUniqueViolation && strings.TrimSpace(pgErr.ConstraintName) == constraint
	}
	return false
}

// stablePgMessage maps pg failures onto the UPPER_SNAKE codes the API
// surfaces. Raised pg messages that are already stable codes pass through;
// named constraint violations get their own code.
func stablePgMessage(err error) string {
	msg := pgErrorMessage(err)
	if isStableDBCode(msg) {
		return msg
	}

	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok && pgErr != nil {
		switch strings.TrimSpace(pgErr.ConstraintName) {
		case "rule_packs_scope_plan_version_unique":
			return "RULE_PACK_VERSION_TAKEN"
		case "rule_pack_rules_pack_rule_unique":
			return "RULE_ALREADY_ATTACHED"
		case "rule_pack_evidence_rule_type_unique":
			return "EVIDENCE_ALREADY_ATTACHED"
		case "rule_definitions_key_unique":
			return "RULE_KEY_ALREADY_EXISTS"
		case "evidence_types_key_unique":
			return "EVIDENCE_KEY_ALREADY_EXISTS"
		}
	}
	return err.Error()
}

func isStableDBCode(code string) bool {
	code = strings.TrimSpace(code)
	if code == "" || code == "UNKNOWN" {
		return false
	}
	for i := 0; i < len(code); i++ {
		ch := code[i]
		if ch >= 'A' && ch <= 'Z' {
			continue
		}
		if ch >= '0' && ch <= '9' {
			continue
		}
		if ch == '_' {
			continue
		}
		return false
	}
	return true
}
