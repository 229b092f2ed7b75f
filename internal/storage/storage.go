package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by update operations whose target row does not exist.
	// Get/Find lookups return (nil, nil) instead.
	ErrNotFound = errors.New("storage: record not found")
	// ErrDuplicate is returned when a write violates a uniqueness constraint.
	ErrDuplicate = errors.New("storage: duplicate record")
)

// ReadingFilter narrows ListReadings. Zero values are ignored.
type ReadingFilter struct {
	TenantID   string
	PropertyID string
	Month      int
	Year       int
}

// ChargeFilter narrows ListRecurringCharges.
type ChargeFilter struct {
	PropertyID string
	ActiveOnly bool
}

// BillFilter narrows ListBills.
type BillFilter struct {
	PropertyID string
	TenantID   string
	Period     string
	Status     BillStatus
}

// TenancyStore holds properties, units, tenants and leases.
type TenancyStore interface {
	CreateProperty(ctx context.Context, p Property) error
	GetProperty(ctx context.Context, id string) (*Property, error)
	ListProperties(ctx context.Context) ([]Property, error)
	UpdateProperty(ctx context.Context, p Property) error

	CreateUnit(ctx context.Context, u Unit) error
	GetUnit(ctx context.Context, id string) (*Unit, error)
	ListUnits(ctx context.Context, propertyID string) ([]Unit, error)

	CreateTenant(ctx context.Context, t Tenant) error
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	// ListOccupiedTenants returns every tenant whose unit in the property is OCCUPIED.
	ListOccupiedTenants(ctx context.Context, propertyID string) ([]TenantUnit, error)

	CreateLease(ctx context.Context, l Lease) error
	ListLeases(ctx context.Context, tenantID string) ([]Lease, error)
	// ListLeasesEndingBefore returns ACTIVE leases whose end date is before t.
	ListLeasesEndingBefore(ctx context.Context, t time.Time) ([]Lease, error)
	// ExpireLease marks the lease EXPIRED and its unit VACANT atomically.
	ExpireLease(ctx context.Context, leaseID string, at time.Time) error
}

// UtilityStore holds water readings and garbage fees.
type UtilityStore interface {
	CreateReading(ctx context.Context, r WaterReading) error
	UpdateReading(ctx context.Context, r WaterReading) error
	GetReading(ctx context.Context, id string) (*WaterReading, error)
	FindReading(ctx context.Context, tenantID string, month, year int) (*WaterReading, error)
	ListReadings(ctx context.Context, f ReadingFilter) ([]WaterReading, error)

	CreateGarbageFee(ctx context.Context, f GarbageFee) error
	FindGarbageFee(ctx context.Context, tenantID, period string) (*GarbageFee, error)
	ListGarbageFees(ctx context.Context, tenantID string) ([]GarbageFee, error)
}

// ChargeStore holds recurring charge configuration.
type ChargeStore interface {
	CreateRecurringCharge(ctx context.Context, c RecurringCharge) error
	UpdateRecurringCharge(ctx context.Context, c RecurringCharge) error
	GetRecurringCharge(ctx context.Context, id string) (*RecurringCharge, error)
	DeleteRecurringCharge(ctx context.Context, id string) error
	ListRecurringCharges(ctx context.Context, f ChargeFilter) ([]RecurringCharge, error)
}

// BillStore holds monthly bills.
type BillStore interface {
	CreateBill(ctx context.Context, b Bill) error
	GetBill(ctx context.Context, id string) (*Bill, error)
	FindBill(ctx context.Context, tenantID, period string) (*Bill, error)
	ListBills(ctx context.Context, f BillFilter) ([]Bill, error)
	MarkBillPaid(ctx context.Context, id string, at time.Time) (*Bill, error)
	// MarkOverdueBills flips PENDING bills due before now to OVERDUE.
	MarkOverdueBills(ctx context.Context, now time.Time) (int64, error)
}

// AccountStore holds users, API tokens, RBAC rules and notification settings.
type AccountStore interface {
	CreateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)

	CreateToken(ctx context.Context, token Token) error
	GetTokenByHash(ctx context.Context, hash string) (*Token, error)
	DeleteToken(ctx context.Context, id string) error
	UpdateTokenLastUsed(ctx context.Context, id string) error

	LoadCasbinRules(ctx context.Context) ([]CasbinRule, error)
	AddCasbinRule(ctx context.Context, rule CasbinRule) error
	RemoveCasbinRule(ctx context.Context, rule CasbinRule) error

	GetEmailConfig(ctx context.Context) (*EmailConfig, error)
	SaveEmailConfig(ctx context.Context, cfg EmailConfig) error
}

// JobStore supports the background scheduler.
type JobStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error
	ListScheduledJobs(ctx context.Context) ([]ScheduledJob, error)
	// TryAdvisoryLock takes the lock for key without waiting. When ok is true
	// the caller must call release exactly once; release unlocks on the same
	// database session that took the lock.
	TryAdvisoryLock(ctx context.Context, key int64) (release func() error, ok bool, err error)
}

// Storage abstracts persistence for the whole service.
type Storage interface {
	TenancyStore
	UtilityStore
	ChargeStore
	BillStore
	AccountStore
	JobStore

	Ping(ctx context.Context) error
	// Close releases any resources (no-op for in-memory).
	Close() error
}
