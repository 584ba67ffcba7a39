package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harpervoss/caseplan/internal/routing"
)

func NewHandler() (http.Handler, error) {
	return NewHandlerWithOptions(HandlerOptions{})
}

type HandlerOptions struct {
	RuleCatalogStore ruleCatalogStore
	RulePackStore    rulePackStore
	ReviewStore      reviewStore
	PrincipalStore   principalStore
	SessionStore     sessionStore
}

func NewHandlerWithOptions(opts HandlerOptions) (http.Handler, error) {
	allowlistPath := os.Getenv("ALLOWLIST_PATH")
	if allowlistPath == "" {
		p, err := defaultAllowlistPath()
		if err != nil {
			return nil, err
		}
		allowlistPath = p
	}

	a, err := routing.LoadAllowlist(allowlistPath)
	if err != nil {
		return nil, err
	}

	classifier, err := routing.NewClassifier(a, "server")
	if err != nil {
		return nil, err
	}

	catalogStore := opts.RuleCatalogStore
	packStore := opts.RulePackStore
	reviewStore := opts.ReviewStore
	principals := opts.PrincipalStore
	sessions := opts.SessionStore

	var pgPool *pgxpool.Pool
	if catalogStore == nil {
		dsn := dbDSNFromEnv()
		pool, err := pgxpool.New(context.Background(), dsn)
		if err != nil {
			return nil, err
		}
		pgPool = pool
		catalogStore = newRuleCatalogPGStore(pgPool)
	}
	if packStore == nil {
		if pgPool != nil {
			packStore = newRulePackPGStore(pgPool)
		} else {
			packStore = newRulePackMemoryStore(catalogStore)
		}
	}
	if reviewStore == nil {
		if pgPool != nil {
			reviewStore = newReviewPGStore(pgPool)
		} else {
			reviewStore = newReviewMemoryStore()
		}
	}
	if principals == nil {
		principals = newPrincipalStore(pgPool)
	}
	if sessions == nil {
		sessions = newSessionStore(pgPool)
	}

	if err := bootstrapPrincipalFromEnv(context.Background(), principals); err != nil {
		return nil, err
	}

	authorizer, err := loadAuthorizer()
	if err != nil {
		return nil, err
	}

	router := routing.NewRouter(classifier)

	router.Handle(routing.RouteClassOps, http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}))
	router.Handle(routing.RouteClassOps, http.MethodGet, "/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}))

	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/iam/api/sessions", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusUnprocessableEntity, "invalid_json", "invalid json")
			return
		}
		email := strings.ToLower(strings.TrimSpace(req.Email))
		password := req.Password
		if email == "" || strings.TrimSpace(password) == "" {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusUnprocessableEntity, "invalid_form", "email and password required")
			return
		}

		p, err := principals.Authenticate(r.Context(), email, password)
		if err != nil {
			if errors.Is(err, errInvalidCredentials) {
				routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusUnprocessableEntity, "invalid_credentials", "invalid credentials")
				return
			}
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "identity_error", "identity error")
			return
		}

		expiresAt := time.Now().Add(sidTTLFromEnv())
		sid, err := sessions.Create(r.Context(), p.ID, expiresAt, r.RemoteAddr, r.UserAgent())
		if err != nil {
			routing.WriteError(w, r, routing.RouteClassInternalAPI, http.StatusInternalServerError, "session_error", "session error")
			return
		}
		setSIDCookie(w, sid)
		w.WriteHeader(http.StatusNoContent)
	}))
	router.Handle(routing.RouteClassAuthn, http.MethodPost, "/logout", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sid, ok := readSID(r); ok {
			_ = sessions.Revoke(r.Context(), sid)
		}
		clearSIDCookie(w)
		w.WriteHeader(http.StatusNoContent)
	}))

	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/compliance/api/rule-definitions", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleRuleDefinitionsAPI(w, r, catalogStore)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/compliance/api/rule-definitions", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleRuleDefinitionsAPI(w, r, catalogStore)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/compliance/api/evidence-types", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleEvidenceTypesAPI(w, r, catalogStore)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/compliance/api/evidence-types", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleEvidenceTypesAPI(w, r, catalogStore)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/compliance/api/rule-packs", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleRulePacksAPI(w, r, packStore)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/compliance/api/rule-packs", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleRulePacksAPI(w, r, packStore)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/compliance/api/rule-packs/active", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleRulePacksActiveAPI(w, r, packStore)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/compliance/api/rule-packs:update", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleRulePacksUpdateAPI(w, r, packStore)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/compliance/api/rule-packs:delete", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleRulePacksDeleteAPI(w, r, packStore)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/compliance/api/rule-packs/rules", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleRulePackRulesAPI(w, r, packStore, catalogStore)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/compliance/api/rule-packs/rules", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleRulePackRulesAPI(w, r, packStore, catalogStore)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/compliance/api/rule-packs/rules:detach", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleRulePackRulesDetachAPI(w, r, packStore)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/compliance/api/rule-packs/evidence", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleRulePackEvidenceAPI(w, r, packStore, catalogStore)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/compliance/api/rule-packs/evidence", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleRulePackEvidenceAPI(w, r, packStore, catalogStore)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/compliance/api/rule-packs/evidence:detach", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleRulePackEvidenceDetachAPI(w, r, packStore)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/compliance/api/rules:evaluate", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleRulesEvaluateAPI(w, r, packStore, catalogStore)
	}))

	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/review/api/schedules", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleSchedulesAPI(w, r, reviewStore)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/review/api/schedules", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleSchedulesAPI(w, r, reviewStore)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/review/api/schedules:update", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleSchedulesUpdateAPI(w, r, reviewStore)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/review/api/schedules:complete", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleSchedulesCompleteAPI(w, r, reviewStore)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/review/api/schedules:delete", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleSchedulesDeleteAPI(w, r, reviewStore)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/review/api/schedules/dashboard", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleDashboardAPI(w, r, reviewStore)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodGet, "/review/api/tasks", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleTasksAPI(w, r, reviewStore)
	}))
	router.Handle(routing.RouteClassInternalAPI, http.MethodPost, "/review/api/tasks:status", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleTasksStatusAPI(w, r, reviewStore)
	}))

	guarded := withSession(classifier, principals, sessions, withAuthz(classifier, authorizer, router))
	return guarded, nil
}

func MustNewHandler() http.Handler {
	h, err := NewHandler()
	if err != nil {
		panic(errors.New("server: failed to build handler: " + err.Error()))
	}
	return h
}

func defaultAllowlistPath() (string, error) {
	path := "config/routing/allowlist.yaml"
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("server: allowlist not found")
}

// withSession resolves the sid cookie into a principal on the request
// context. Ops routes and the login endpoint pass through; everything else
// requires an active session.
func withSession(classifier *routing.Classifier, principals principalStore, sessions sessionStore, next http.Handler) http.Handler {
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
		if path == "/iam/api/sessions" && r.Method == http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}

		sid, ok := readSID(r)
		if !ok {
			routing.WriteError(w, r, rc, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}

		sess, ok, err := sessions.Lookup(r.Context(), sid)
		if err != nil {
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "session_lookup_error", "session lookup error")
			return
		}
		if !ok {
			clearSIDCookie(w)
			routing.WriteError(w, r, rc, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}

		p, ok, err := principals.GetByID(r.Context(), sess.PrincipalID)
		if err != nil {
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "principal_lookup_error", "principal lookup error")
			return
		}
		if !ok || p.Status != "active" {
			clearSIDCookie(w)
			routing.WriteError(w, r, rc, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}
		r = r.WithContext(withPrincipal(r.Context(), p))

		next.ServeHTTP(w, r)
	})
}
