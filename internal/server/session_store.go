package server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harpervoss/caseplan/pkg/authz"
)

const sidCookieName = "sid"

var sidRandReader io.Reader = rand.Reader

var errInvalidCredentials = errors.New("server: invalid credentials")

type Session struct {
	PrincipalID string
	ExpiresAt   time.Time
	RevokedAt   *time.Time
}

type sessionStore interface {
	Create(ctx context.Context, principalID string, expiresAt time.Time, ip string, userAgent string) (sid string, err error)
	Lookup(ctx context.Context, sid string) (Session, bool, error)
	Revoke(ctx context.Context, sid string) error
}

type principalStore interface {
	Ensure(ctx context.Context, email string, password string, roleSlug string) (Principal, error)
	Authenticate(ctx context.Context, email string, password string) (Principal, error)
	GetByID(ctx context.Context, principalID string) (Principal, bool, error)
}

func sidTTLFromEnv() time.Duration {
	const defaultHours = 24 * 14

	v := os.Getenv("SID_TTL_HOURS")
	if v == "" {
		return time.Hour * defaultHours
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return time.Hour * defaultHours
	}
	return time.Hour * time.Duration(n)
}

func newSID() (sid string, tokenSha256 []byte, err error) {
	var b [32]byte
	if _, err := sidRandReader.Read(b[:]); err != nil {
		return "", nil, err
	}
	sid = base64.RawURLEncoding.EncodeToString(b[:])
	sum := sha256.Sum256([]byte(sid))
	return sid, sum[:], nil
}

func readSID(r *http.Request) (string, bool) {
	c, err := r.Cookie(sidCookieName)
	if err != nil {
		return "", false
	}
	if c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func setSIDCookie(w http.ResponseWriter, sid string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sidCookieName,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSIDCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sidCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func passwordSha256(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return sum[:]
}

type memoryPrincipalRecord struct {
	principal      Principal
	passwordSha256 []byte
}

type memoryPrincipalStore struct {
	mu      sync.Mutex
	byEmail map[string]memoryPrincipalRecord
	byID    map[string]memoryPrincipalRecord
}

func newMemoryPrincipalStore() *memoryPrincipalStore {
	return &memoryPrincipalStore{
		byEmail: map[string]memoryPrincipalRecord{},
		byID:    map[string]memoryPrincipalRecord{},
	}
}

func (s *memoryPrincipalStore) Ensure(_ context.Context, email string, password string, roleSlug string) (Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.byEmail[email]; ok {
		rec.passwordSha256 = passwordSha256(password)
		rec.principal.RoleSlug = roleSlug
		s.byEmail[email] = rec
		s.byID[rec.principal.ID] = rec
		return rec.principal, nil
	}

	var idb [16]byte
	if _, err := sidRandReader.Read(idb[:]); err != nil {
		return Principal{}, err
	}
	p := Principal{
		ID:       base64.RawURLEncoding.EncodeToString(idb[:]),
		Email:    email,
		RoleSlug: roleSlug,
		Status:   "active",
	}
	rec := memoryPrincipalRecord{principal: p, passwordSha256: passwordSha256(password)}
	s.byEmail[email] = rec
	s.byID[p.ID] = rec
	return p, nil
}

func (s *memoryPrincipalStore) Authenticate(_ context.Context, email string, password string) (Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byEmail[email]
	if !ok {
		return Principal{}, errInvalidCredentials
	}
	if subtle.ConstantTimeCompare(rec.passwordSha256, passwordSha256(password)) != 1 {
		return Principal{}, errInvalidCredentials
	}
	if rec.principal.Status != "active" {
		return Principal{}, errInvalidCredentials
	}
	return rec.principal, nil
}

func (s *memoryPrincipalStore) GetByID(_ context.Context, principalID string) (Principal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[principalID]
	if !ok {
		return Principal{}, false, nil
	}
	return rec.principal, true, nil
}

type memorySessionStore struct {
	mu    sync.Mutex
	bySID map[string]Session
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{
		bySID: map[string]Session{},
	}
}

func (s *memorySessionStore) Create(_ context.Context, principalID string, expiresAt time.Time, _ string, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sid, _, err := newSID()
	if err != nil {
		return "", err
	}
	s.bySID[sid] = Session{
		PrincipalID: principalID,
		ExpiresAt:   expiresAt,
	}
	return sid, nil
}

func (s *memorySessionStore) Lookup(_ context.Context, sid string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.bySID[sid]
	if !ok {
		return Session{}, false, nil
	}
	if v.RevokedAt != nil {
		return Session{}, false, nil
	}
	if time.Now().After(v.ExpiresAt) {
		return Session{}, false, nil
	}
	return v, true, nil
}

func (s *memorySessionStore) Revoke(_ context.Context, sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.bySID, sid)
	return nil
}

type queryExecer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type pgPrincipalStore struct {
	q queryExecer
}

func newPrincipalStore(pool *pgxpool.Pool) principalStore {
	if pool == nil {
		return newMemoryPrincipalStore()
	}
	return &pgPrincipalStore{q: pool}
}

func (s *pgPrincipalStore) Ensure(ctx context.Context, email string, password string, roleSlug string) (Principal, error) {
	var p Principal
	p.Email = email
	err := s.q.QueryRow(ctx, `
INSERT INTO iam.principals (email, role_slug, status, password_sha256)
VALUES ($1, $2, 'active', $3)
ON CONFLICT (email) DO UPDATE SET
  role_slug = EXCLUDED.role_slug,
  password_sha256 = EXCLUDED.password_sha256,
  updated_at = now()
RETURNING id::text, role_slug, status;
`, email, roleSlug, passwordSha256(password)).Scan(&p.ID, &p.RoleSlug, &p.Status)
	if err != nil {
		return Principal{}, err
	}
	if p.Status != "active" {
		return Principal{}, errors.New("server: principal is not active")
	}
	return p, nil
}

func (s *pgPrincipalStore) Authenticate(ctx context.Context, email string, password string) (Principal, error) {
	var p Principal
	var stored []byte
	err := s.q.QueryRow(ctx, `
SELECT id::text, email, role_slug, status, password_sha256
FROM iam.principals
WHERE email = $1;
`, email).Scan(&p.ID, &p.Email, &p.RoleSlug, &p.Status, &stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, errInvalidCredentials
		}
		return Principal{}, err
	}
	if subtle.ConstantTimeCompare(stored, passwordSha256(password)) != 1 {
		return Principal{}, errInvalidCredentials
	}
	if p.Status != "active" {
		return Principal{}, errInvalidCredentials
	}
	return p, nil
}

func (s *pgPrincipalStore) GetByID(ctx context.Context, principalID string) (Principal, bool, error) {
	var p Principal
	err := s.q.QueryRow(ctx, `
SELECT id::text, email, role_slug, status
FROM iam.principals
WHERE id = $1;
`, principalID).Scan(&p.ID, &p.Email, &p.RoleSlug, &p.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, false, nil
		}
		return Principal{}, false, err
	}
	return p, true, nil
}

type pgSessionStore struct {
	q queryExecer
}

func newSessionStore(pool *pgxpool.Pool) sessionStore {
	if pool == nil {
		return newMemorySessionStore()
	}
	return &pgSessionStore{q: pool}
}

func (s *pgSessionStore) Create(ctx context.Context, principalID string, expiresAt time.Time, ip string, userAgent string) (string, error) {
	sid, tokenSha256, err := newSID()
	if err != nil {
		return "", err
	}
	_, err = s.q.Exec(ctx, `
INSERT INTO iam.sessions (token_sha256, principal_id, expires_at, ip, user_agent)
VALUES ($1, $2, $3, $4, $5);
`, tokenSha256, principalID, expiresAt, ip, userAgent)
	if err != nil {
		return "", err
	}
	return sid, nil
}

func (s *pgSessionStore) Lookup(ctx context.Context, sid string) (Session, bool, error) {
	sum := sha256.Sum256([]byte(sid))
	var out Session
	var revokedAt *time.Time
	err := s.q.QueryRow(ctx, `
SELECT principal_id::text, expires_at, revoked_at
FROM iam.sessions
WHERE token_sha256 = $1;
`, sum[:]).Scan(&out.PrincipalID, &out.ExpiresAt, &revokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, false, nil
		}
		return Session{}, false, err
	}
	out.RevokedAt = revokedAt
	if out.RevokedAt != nil {
		return Session{}, false, nil
	}
	if time.Now().After(out.ExpiresAt) {
		return Session{}, false, nil
	}
	return out, true, nil
}

func (s *pgSessionStore) Revoke(ctx context.Context, sid string) error {
	if sid == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(sid))
	_, err := s.q.Exec(ctx, `DELETE FROM iam.sessions WHERE token_sha256 = $1;`, sum[:])
	return err
}

func bootstrapPrincipalFromEnv(ctx context.Context, principals principalStore) error {
	email := os.Getenv("BOOTSTRAP_ADMIN_EMAIL")
	password := os.Getenv("BOOTSTRAP_ADMIN_PASSWORD")
	if email == "" || password == "" {
		return nil
	}
	_, err := principals.Ensure(ctx, email, password, authz.RoleAdmin)
	return err
}
