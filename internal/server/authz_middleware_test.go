package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harpervoss/caseplan/pkg/authz"
)

var errTestAuthz = errors.New("authz backend unavailable")

type fakeAuthorizer struct {
	allowed  bool
	enforced bool
	err      error

	subject string
	object  string
	action  string
}

func (f *fakeAuthorizer) Authorize(subject, _, object, action string) (bool, bool, error) {
	f.subject = subject
	f.object = object
	f.action = action
	return f.allowed, f.enforced, f.err
}

func TestAuthzRequirementForRoute(t *testing.T) {
	t.Parallel()

	cases := []struct {
		method string
		path   string
		object string
		action string
		ok     bool
	}{
		{http.MethodPost, "/iam/api/sessions", authz.ObjectIAMSession, authz.ActionAdmin, true},
		{http.MethodPost, "/logout", authz.ObjectIAMSession, authz.ActionAdmin, true},
		{http.MethodGet, "/logout", "", "", false},
		{http.MethodGet, "/compliance/api/rule-definitions", authz.ObjectComplianceCatalog, authz.ActionRead, true},
		{http.MethodPost, "/compliance/api/rule-definitions", authz.ObjectComplianceCatalog, authz.ActionAdmin, true},
		{http.MethodGet, "/compliance/api/evidence-types", authz.ObjectComplianceCatalog, authz.ActionRead, true},
		{http.MethodPost, "/compliance/api/evidence-types", authz.ObjectComplianceCatalog, authz.ActionAdmin, true},
		{http.MethodGet, "/compliance/api/rule-packs", authz.ObjectCompliancePacks, authz.ActionRead, true},
		{http.MethodPost, "/compliance/api/rule-packs", authz.ObjectCompliancePacks, authz.ActionAdmin, true},
		{http.MethodGet, "/compliance/api/rule-packs/active", authz.ObjectCompliancePacks, authz.ActionRead, true},
		{http.MethodPost, "/compliance/api/rule-packs:update", authz.ObjectCompliancePacks, authz.ActionAdmin, true},
		{http.MethodPost, "/compliance/api/rule-packs:delete", authz.ObjectCompliancePacks, authz.ActionAdmin, true},
		{http.MethodGet, "/compliance/api/rule-packs/rules", authz.ObjectCompliancePacks, authz.ActionRead, true},
		{http.MethodPost, "/compliance/api/rule-packs/rules", authz.ObjectCompliancePacks, authz.ActionAdmin, true},
		{http.MethodPost, "/compliance/api/rule-packs/rules:detach", authz.ObjectCompliancePacks, authz.ActionAdmin, true},
		{http.MethodGet, "/compliance/api/rule-packs/evidence", authz.ObjectCompliancePacks, authz.ActionRead, true},
		{http.MethodPost, "/compliance/api/rule-packs/evidence", authz.ObjectCompliancePacks, authz.ActionAdmin, true},
		{http.MethodPost, "/compliance/api/rule-packs/evidence:detach", authz.ObjectCompliancePacks, authz.ActionAdmin, true},
		{http.MethodPost, "/compliance/api/rules:evaluate", authz.ObjectComplianceEvaluate, authz.ActionRead, true},
		{http.MethodGet, "/review/api/schedules", authz.ObjectReviewSchedules, authz.ActionRead, true},
		{http.MethodPost, "/review/api/schedules", authz.ObjectReviewSchedules, authz.ActionWrite, true},
		{http.MethodPost, "/review/api/schedules:update", authz.ObjectReviewSchedules, authz.ActionWrite, true},
		{http.MethodPost, "/review/api/schedules:complete", authz.ObjectReviewSchedules, authz.ActionWrite, true},
		{http.MethodPost, "/review/api/schedules:delete", authz.ObjectReviewSchedules, authz.ActionAdmin, true},
		{http.MethodGet, "/review/api/schedules/dashboard", authz.ObjectReviewSchedules, authz.ActionRead, true},
		{http.MethodGet, "/review/api/tasks", authz.ObjectReviewTasks, authz.ActionRead, true},
		{http.MethodPost, "/review/api/tasks:status", authz.ObjectReviewTasks, authz.ActionWrite, true},
		{http.MethodGet, "/", "", "", false},
		{http.MethodGet, "/plans/abc", "", "", false},
	}
	for _, tc := range cases {
		object, action, ok := authzRequirementForRoute(tc.method, tc.path)
		if object != tc.object || action != tc.action || ok != tc.ok {
			t.Fatalf("%s %s: got (%q, %q, %v) want (%q, %q, %v)",
				tc.method, tc.path, object, action, ok, tc.object, tc.action, tc.ok)
		}
	}
}

func withAuthzRequest(method, path string, p *Principal) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Accept", "application/json")
	if p != nil {
		req = asPrincipal(req, *p)
	}
	return req
}

func TestWithAuthz_Denied(t *testing.T) {
	t.Parallel()

	a := &fakeAuthorizer{allowed: false, enforced: true}
	h := withAuthz(nil, a, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withAuthzRequest(http.MethodPost, "/compliance/api/rule-definitions", &testAdmin))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d", rec.Code)
	}
	if got := decodeError(t, rec).Code; got != "forbidden" {
		t.Fatalf("code=%q", got)
	}
	if a.subject != "role:admin" || a.object != authz.ObjectComplianceCatalog || a.action != authz.ActionAdmin {
		t.Fatalf("authorize call: subject=%q object=%q action=%q", a.subject, a.object, a.action)
	}
}

func TestWithAuthz_ShadowMode(t *testing.T) {
	t.Parallel()

	a := &fakeAuthorizer{allowed: false, enforced: false}
	h := withAuthz(nil, a, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withAuthzRequest(http.MethodPost, "/compliance/api/rule-definitions", &testAdmin))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestWithAuthz_Error(t *testing.T) {
	t.Parallel()

	a := &fakeAuthorizer{err: errTestAuthz}
	h := withAuthz(nil, a, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withAuthzRequest(http.MethodGet, "/review/api/tasks", &testAdmin))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rec.Code)
	}
	if got := decodeError(t, rec).Code; got != "authz_error" {
		t.Fatalf("code=%q", got)
	}
}

func TestWithAuthz_AnonymousSubject(t *testing.T) {
	t.Parallel()

	a := &fakeAuthorizer{allowed: true, enforced: true}
	h := withAuthz(nil, a, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withAuthzRequest(http.MethodPost, "/iam/api/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if a.subject != "role:anonymous" {
		t.Fatalf("subject=%q", a.subject)
	}
}

func TestWithAuthz_SkipsUnlistedAndHealth(t *testing.T) {
	t.Parallel()

	a := &fakeAuthorizer{allowed: false, enforced: true, err: errTestAuthz}
	h := withAuthz(nil, a, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/health", "/healthz", "/plans/abc"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, withAuthzRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("path=%s status=%d", path, rec.Code)
		}
	}
}
