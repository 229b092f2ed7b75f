package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bher20/rentledger/internal/storage"
)

func newService(t *testing.T) (*Service, storage.Storage) {
	t.Helper()
	st := storage.NewMemory()
	svc, err := NewService(st, nil)
	require.NoError(t, err)
	return svc, st
}

func TestRolePermissions(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	admin, err := svc.Register(ctx, "root", "pw", RoleAdmin, "")
	require.NoError(t, err)
	manager, err := svc.Register(ctx, "mgr", "pw", RoleManager, "")
	require.NoError(t, err)
	tenant, err := svc.Register(ctx, "ama", "pw", RoleTenant, "t1")
	require.NoError(t, err)

	tests := []struct {
		user     string
		obj, act string
		want     bool
	}{
		{admin.ID, ObjJobs, ActWrite, true},
		{manager.ID, ObjBills, ActWrite, true},
		{manager.ID, ObjProperties, ActRead, true},
		{manager.ID, ObjProperties, ActWrite, false},
		{manager.ID, ObjJobs, ActWrite, false},
		{tenant.ID, ObjBills, ActRead, true},
		{tenant.ID, ObjBills, ActWrite, false},
		{tenant.ID, ObjCharges, ActRead, false},
	}
	for _, tt := range tests {
		got, err := svc.Enforce(tt.user, tt.obj, tt.act)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s %s %s", tt.user, tt.obj, tt.act)
	}
}

func TestPoliciesPersistAcrossRestart(t *testing.T) {
	svc, st := newService(t)
	u, err := svc.Register(context.Background(), "mgr", "pw", RoleManager, "")
	require.NoError(t, err)

	again, err := NewService(st, nil)
	require.NoError(t, err)
	ok, err := again.Enforce(u.ID, ObjReadings, ActWrite)
	require.NoError(t, err)
	assert.True(t, ok)

	rules, err := st.LoadCasbinRules(context.Background())
	require.NoError(t, err)
	assert.Len(t, rules, len(defaultPolicies)+1, "default policies must not be seeded twice")
}

func TestRegisterRules(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "x", "pw", "OWNER", "")
	assert.Error(t, err)
	_, err = svc.Register(ctx, "x", "pw", RoleTenant, "")
	assert.Error(t, err)

	_, err = svc.Register(ctx, "x", "pw", RoleManager, "")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "x", "pw", RoleManager, "")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestAuthenticateAndTokens(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	u, err := svc.Register(ctx, "mgr", "s3cret", RoleManager, "")
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "mgr", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	got, err := svc.Authenticate(ctx, "mgr", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	tok, raw, err := svc.CreateToken(ctx, u, "cli", nil)
	require.NoError(t, err)
	assert.NotEqual(t, raw, tok.TokenHash)

	valid, err := svc.ValidateToken(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, tok.ID, valid.ID)

	_, err = svc.ValidateToken(ctx, "bogus")
	assert.ErrorIs(t, err, ErrInvalidToken)

	past := time.Now().Add(-time.Hour)
	_, expiredRaw, err := svc.CreateToken(ctx, u, "old", &past)
	require.NoError(t, err)
	_, err = svc.ValidateToken(ctx, expiredRaw)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestIssueTokenUsesServiceClock(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return now })
	u, err := svc.Register(ctx, "mgr", "s3cret", RoleManager, "")
	require.NoError(t, err)

	tok, raw, err := svc.IssueToken(ctx, u, "login", "30d")
	require.NoError(t, err)
	require.NotNil(t, tok.ExpiresAt)
	assert.Equal(t, now.AddDate(0, 0, 30), *tok.ExpiresAt)

	_, err = svc.ValidateToken(ctx, raw)
	require.NoError(t, err)

	now = now.AddDate(0, 0, 31)
	_, err = svc.ValidateToken(ctx, raw)
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, _, err = svc.IssueToken(ctx, u, "login", "soon")
	assert.ErrorIs(t, err, ErrInvalidExpiry)
}

func TestMiddlewareAndPermission(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	tenant, err := svc.Register(ctx, "ama", "pw", RoleTenant, "t1")
	require.NoError(t, err)
	_, raw, err := svc.CreateToken(ctx, tenant, "web", nil)
	require.NoError(t, err)

	var seen *Principal
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	read := svc.Middleware(svc.RequirePermission(ObjBills, ActRead, ok))
	write := svc.Middleware(svc.RequirePermission(ObjBills, ActWrite, ok))

	do := func(h http.Handler, header string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, do(read, ""))
	assert.Equal(t, http.StatusUnauthorized, do(read, "Basic abc"))
	assert.Equal(t, http.StatusUnauthorized, do(read, "Bearer nope"))
	assert.Equal(t, http.StatusForbidden, do(write, "Bearer "+raw))
	assert.Equal(t, http.StatusNoContent, do(read, "Bearer "+raw))
	require.NotNil(t, seen)
	assert.Equal(t, "t1", seen.TenantID)
	assert.Equal(t, RoleTenant, seen.Role)
}

func TestParseExpiry(t *testing.T) {
	now := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	got, err := ParseExpiry("never", now)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = ParseExpiry("30d", now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, 30), *got)

	got, err = ParseExpiry("2w", now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, 14), *got)

	got, err = ParseExpiry("90m", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(90*time.Minute), *got)

	got, err = ParseExpiry("2026-01-31", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), *got)

	for _, bad := range []string{"2020-01-01", "soon", "0d", "-5m"} {
		_, err := ParseExpiry(bad, now)
		assert.Error(t, err, bad)
	}
}
