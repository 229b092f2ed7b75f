package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/bher20/rentledger/internal/storage"
)

// Roles.
const (
	RoleAdmin   = "ADMIN"
	RoleManager = "MANAGER"
	RoleTenant  = "TENANT"
)

// Objects and actions checked by RequirePermission.
const (
	ObjReadings   = "readings"
	ObjBills      = "bills"
	ObjCharges    = "charges"
	ObjGarbage    = "garbage"
	ObjProperties = "properties"
	ObjJobs       = "jobs"
	ObjUsers      = "users"
	ObjSettings   = "settings"

	ActRead  = "read"
	ActWrite = "write"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidExpiry      = errors.New("invalid token expiry")
)

const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (r.obj == p.obj || p.obj == "*") && (r.act == p.act || p.act == "*")
`

var defaultPolicies = [][]string{
	{RoleAdmin, "*", "*"},
	{RoleManager, ObjReadings, "*"},
	{RoleManager, ObjBills, "*"},
	{RoleManager, ObjCharges, "*"},
	{RoleManager, ObjGarbage, "*"},
	{RoleManager, ObjProperties, ActRead},
	{RoleTenant, ObjBills, ActRead},
	{RoleTenant, ObjReadings, ActRead},
}

type Service struct {
	storage  storage.Storage
	enforcer *casbin.Enforcer
	log      *zap.Logger
	now      func() time.Time
}

// NewService loads the RBAC policy from storage and seeds the default role
// permissions on first start.
func NewService(s storage.Storage, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	e, err := casbin.NewEnforcer(m, NewAdapter(s))
	if err != nil {
		return nil, fmt.Errorf("casbin enforcer: %w", err)
	}
	for _, p := range defaultPolicies {
		has, err := e.HasPolicy(p[0], p[1], p[2])
		if err != nil {
			return nil, err
		}
		if has {
			continue
		}
		if _, err := e.AddPolicy(p[0], p[1], p[2]); err != nil {
			return nil, fmt.Errorf("seed policy %v: %w", p, err)
		}
	}
	return &Service{storage: s, enforcer: e, log: log, now: time.Now}, nil
}

// WithClock replaces the clock used for token issue and expiry checks.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func validRole(role string) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleTenant:
		return true
	}
	return false
}

func (s *Service) Authenticate(ctx context.Context, username, password string) (*storage.User, error) {
	u, err := s.storage.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// Register creates a user and assigns its role. TENANT users are bound to a
// tenant record and may only see that tenant's bills.
func (s *Service) Register(ctx context.Context, username, password, role, tenantID string) (*storage.User, error) {
	if !validRole(role) {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	if role == RoleTenant && tenantID == "" {
		return nil, errors.New("tenant users need a tenant id")
	}
	existing, err := s.storage.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	u := storage.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		TenantID:     tenantID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.storage.CreateUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	if _, err := s.enforcer.AddGroupingPolicy(u.ID, role); err != nil {
		return nil, fmt.Errorf("assign role: %w", err)
	}
	s.log.Info("user registered", zap.String("username", username), zap.String("role", role))
	return &u, nil
}

// EnsureAdmin creates the "admin" account when no users exist yet.
func (s *Service) EnsureAdmin(ctx context.Context, password string) error {
	users, err := s.storage.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 || password == "" {
		return nil
	}
	_, err = s.Register(ctx, "admin", password, RoleAdmin, "")
	return err
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// CreateToken issues a bearer token. Only its hash is stored; the raw value
// is returned once.
func (s *Service) CreateToken(ctx context.Context, user *storage.User, name string, expiresAt *time.Time) (*storage.Token, string, error) {
	raw := uuid.NewString() + uuid.NewString()
	t := storage.Token{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Name:      name,
		TokenHash: hashToken(raw),
		Role:      user.Role,
		CreatedAt: s.now().UTC(),
		ExpiresAt: expiresAt,
	}
	if err := s.storage.CreateToken(ctx, t); err != nil {
		return nil, "", err
	}
	return &t, raw, nil
}

// IssueToken creates a token whose lifetime ("30d", "never", a date) is
// measured on the same clock ValidateToken checks it against.
func (s *Service) IssueToken(ctx context.Context, user *storage.User, name, expiresIn string) (*storage.Token, string, error) {
	expiresAt, err := ParseExpiry(expiresIn, s.now())
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidExpiry, err)
	}
	return s.CreateToken(ctx, user, name, expiresAt)
}

func (s *Service) ValidateToken(ctx context.Context, raw string) (*storage.Token, error) {
	t, err := s.storage.GetTokenByHash(ctx, hashToken(raw))
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrInvalidToken
	}
	if t.ExpiresAt != nil && t.ExpiresAt.Before(s.now()) {
		return nil, ErrTokenExpired
	}
	if err := s.storage.UpdateTokenLastUsed(ctx, t.ID); err != nil {
		s.log.Warn("token last-used update failed", zap.String("token", t.ID), zap.Error(err))
	}
	return t, nil
}

func (s *Service) Enforce(sub, obj, act string) (bool, error) {
	return s.enforcer.Enforce(sub, obj, act)
}
