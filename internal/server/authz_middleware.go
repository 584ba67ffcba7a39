package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/harpervoss/caseplan/internal/routing"
	"github.com/harpervoss/caseplan/pkg/authz"
)

func loadAuthorizer() (*authz.Authorizer, error) {
	modelPath := os.Getenv("AUTHZ_MODEL_PATH")
	if modelPath == "" {
		p, err := defaultAuthzModelPath()
		if err != nil {
			return nil, err
		}
		modelPath = p
	}

	policyPath := os.Getenv("AUTHZ_POLICY_PATH")
	if policyPath == "" {
		p, err := defaultAuthzPolicyPath()
		if err != nil {
			return nil, err
		}
		policyPath = p
	}

	mode, err := authz.ModeFromEnv()
	if err != nil {
		return nil, err
	}

	return authz.NewAuthorizer(modelPath, policyPath, mode)
}

func defaultAuthzModelPath() (string, error) {
	path := "config/access/model.conf"
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("server: authz model not found")
}

func defaultAuthzPolicyPath() (string, error) {
	path := "config/access/policy.csv"
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("server: authz policy not found")
}

type authorizer interface {
	Authorize(subject string, domain string, object string, action string) (allowed bool, enforced bool, err error)
}

func withAuthz(classifier *routing.Classifier, a authorizer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		rc := routing.RouteClassUI
		if classifier != nil {
			rc = classifier.Classify(path)
		}

		if path == "/health" || path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		roleSlug := authz.RoleAnonymous
		if p, ok := currentPrincipal(r.Context()); ok {
			roleSlug = p.RoleSlug
		}
		subject := authz.SubjectFromRoleSlug(roleSlug)

		object, action, shouldCheck := authzRequirementForRoute(r.Method, path)
		if !shouldCheck {
			next.ServeHTTP(w, r)
			return
		}

		allowed, enforced, err := a.Authorize(subject, authz.DomainGlobal, object, action)
		if err != nil {
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "authz_error", "authz error")
			return
		}
		if enforced && !allowed {
			routing.WriteError(w, r, rc, http.StatusForbidden, "forbidden", "forbidden")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func authzRequirementForRoute(method string, path string) (object string, action string, ok bool) {
	switch path {
	case "/iam/api/sessions", "/logout":
		if method == http.MethodPost {
			return authz.ObjectIAMSession, authz.ActionAdmin, true
		}
		return "", "", false
	case "/compliance/api/rule-definitions", "/compliance/api/evidence-types":
		if method == http.MethodGet {
			return authz.ObjectComplianceCatalog, authz.ActionRead, true
		}
		if method == http.MethodPost {
			return authz.ObjectComplianceCatalog, authz.ActionAdmin, true
		}
		return "", "", false
	case "/compliance/api/rule-packs":
		if method == http.MethodGet {
			return authz.ObjectCompliancePacks, authz.ActionRead, true
		}
		if method == http.MethodPost {
			return authz.ObjectCompliancePacks, authz.ActionAdmin, true
		}
		return "", "", false
	case "/compliance/api/rule-packs/active":
		if method == http.MethodGet {
			return authz.ObjectCompliancePacks, authz.ActionRead, true
		}
		return "", "", false
	case "/compliance/api/rule-packs:update", "/compliance/api/rule-packs:delete",
		"/compliance/api/rule-packs/rules:detach", "/compliance/api/rule-packs/evidence:detach":
		if method == http.MethodPost {
			return authz.ObjectCompliancePacks, authz.ActionAdmin, true
		}
		return "", "", false
	case "/compliance/api/rule-packs/rules", "/compliance/api/rule-packs/evidence":
		if method == http.MethodGet {
			return authz.ObjectCompliancePacks, authz.ActionRead, true
		}
		if method == http.MethodPost {
			return authz.ObjectCompliancePacks, authz.ActionAdmin, true
		}
		return "", "", false
	case "/compliance/api/rules:evaluate":
		if method == http.MethodPost {
			return authz.ObjectComplianceEvaluate, authz.ActionRead, true
		}
		return "", "", false
	case "/review/api/schedules":
		if method == http.MethodGet {
			return authz.ObjectReviewSchedules, authz.ActionRead, true
		}
		if method == http.MethodPost {
			return authz.ObjectReviewSchedules, authz.ActionWrite, true
		}
		return "", "", false
	case "/review/api/schedules:update", "/review/api/schedules:complete":
		if method == http.MethodPost {
			return authz.ObjectReviewSchedules, authz.ActionWrite, true
		}
		return "", "", false
	case "/review/api/schedules:delete":
		if method == http.MethodPost {
			return authz.ObjectReviewSchedules, authz.ActionAdmin, true
		}
		return "", "", false
	case "/review/api/schedules/dashboard":
		if method == http.MethodGet {
			return authz.ObjectReviewSchedules, authz.ActionRead, true
		}
		return "", "", false
	case "/review/api/tasks":
		if method == http.MethodGet {
			return authz.ObjectReviewTasks, authz.ActionRead, true
		}
		return "", "", false
	case "/review/api/tasks:status":
		if method == http.MethodPost {
			return authz.ObjectReviewTasks, authz.ActionWrite, true
		}
		return "", "", false
	default:
		return "", "", false
	}
}
