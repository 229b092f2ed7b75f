package storage

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStorage is an in-memory Storage implementation, useful for tests and
// simple single-process deployments.
type MemoryStorage struct {
	mu          sync.RWMutex
	properties  map[string]Property
	units       map[string]Unit
	tenants     map[string]Tenant
	leases      map[string]Lease
	readings    map[string]WaterReading
	garbageFees map[string]GarbageFee
	charges     map[string]RecurringCharge
	bills       map[string]Bill
	settings    map[string]string
	users       map[string]User
	tokens      map[string]Token
	rules       []CasbinRule
	emailConfig *EmailConfig
	jobs        map[string]ScheduledJob
	locks       map[int64]bool
}

// NewMemory returns an empty MemoryStorage.
func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		properties:  make(map[string]Property),
		units:       make(map[string]Unit),
		tenants:     make(map[string]Tenant),
		leases:      make(map[string]Lease),
		readings:    make(map[string]WaterReading),
		garbageFees: make(map[string]GarbageFee),
		charges:     make(map[string]RecurringCharge),
		bills:       make(map[string]Bill),
		settings:    make(map[string]string),
		users:       make(map[string]User),
		tokens:      make(map[string]Token),
		jobs:        make(map[string]ScheduledJob),
		locks:       make(map[int64]bool),
	}
}

func (m *MemoryStorage) Close() error { return nil }

func (m *MemoryStorage) Ping(ctx context.Context) error { return nil }

// Properties

func (m *MemoryStorage) CreateProperty(ctx context.Context, p Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.properties[p.ID]; ok {
		return ErrDuplicate
	}
	m.properties[p.ID] = p
	return nil
}

func (m *MemoryStorage) GetProperty(ctx context.Context, id string) (*Property, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.properties[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryStorage) ListProperties(ctx context.Context) ([]Property, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Property, 0, len(m.properties))
	for _, p := range m.properties {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStorage) UpdateProperty(ctx context.Context, p Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.properties[p.ID]
	if !ok {
		return ErrNotFound
	}
	p.CreatedAt = old.CreatedAt
	m.properties[p.ID] = p
	return nil
}

// Units

func (m *MemoryStorage) CreateUnit(ctx context.Context, u Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.units[u.ID]; ok {
		return ErrDuplicate
	}
	m.units[u.ID] = u
	return nil
}

func (m *MemoryStorage) GetUnit(ctx context.Context, id string) (*Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.units[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *MemoryStorage) ListUnits(ctx context.Context, propertyID string) ([]Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Unit
	for _, u := range m.units {
		if u.PropertyID == propertyID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitNumber < out[j].UnitNumber })
	return out, nil
}

// Tenants

func (m *MemoryStorage) CreateTenant(ctx context.Context, t Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[t.ID]; ok {
		return ErrDuplicate
	}
	m.tenants[t.ID] = t
	return nil
}

func (m *MemoryStorage) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *MemoryStorage) ListOccupiedTenants(ctx context.Context, propertyID string) ([]TenantUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []TenantUnit
	for _, t := range m.tenants {
		u, ok := m.units[t.UnitID]
		if !ok || u.PropertyID != propertyID || u.Status != UnitOccupied {
			continue
		}
		out = append(out, TenantUnit{Tenant: t, Unit: u})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Unit.UnitNumber != out[j].Unit.UnitNumber {
			return out[i].Unit.UnitNumber < out[j].Unit.UnitNumber
		}
		return out[i].Tenant.ID < out[j].Tenant.ID
	})
	return out, nil
}

// Leases

func (m *MemoryStorage) CreateLease(ctx context.Context, l Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.leases[l.ID]; ok {
		return ErrDuplicate
	}
	m.leases[l.ID] = l
	return nil
}

func (m *MemoryStorage) ListLeases(ctx context.Context, tenantID string) ([]Lease, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Lease
	for _, l := range m.leases {
		if l.TenantID == tenantID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (m *MemoryStorage) ListLeasesEndingBefore(ctx context.Context, t time.Time) ([]Lease, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Lease
	for _, l := range m.leases {
		if l.Status == LeaseActive && l.EndDate.Before(t) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndDate.Before(out[j].EndDate) })
	return out, nil
}

func (m *MemoryStorage) ExpireLease(ctx context.Context, leaseID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[leaseID]
	if !ok {
		return ErrNotFound
	}
	l.Status = LeaseExpired
	l.UpdatedAt = at
	m.leases[leaseID] = l
	if u, ok := m.units[l.UnitID]; ok {
		u.Status = UnitVacant
		u.UpdatedAt = at
		m.units[u.ID] = u
	}
	return nil
}

// Water readings

func (m *MemoryStorage) CreateReading(ctx context.Context, r WaterReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.readings[r.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range m.readings {
		if existing.TenantID == r.TenantID && existing.Month == r.Month && existing.Year == r.Year {
			return ErrDuplicate
		}
	}
	m.readings[r.ID] = r
	return nil
}

func (m *MemoryStorage) UpdateReading(ctx context.Context, r WaterReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.readings[r.ID]
	if !ok {
		return ErrNotFound
	}
	r.CreatedAt = old.CreatedAt
	m.readings[r.ID] = r
	return nil
}

func (m *MemoryStorage) GetReading(ctx context.Context, id string) (*WaterReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.readings[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *MemoryStorage) FindReading(ctx context.Context, tenantID string, month, year int) (*WaterReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.readings {
		if r.TenantID == tenantID && r.Month == month && r.Year == year {
			cp := r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) ListReadings(ctx context.Context, f ReadingFilter) ([]WaterReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []WaterReading
	for _, r := range m.readings {
		if f.TenantID != "" && r.TenantID != f.TenantID {
			continue
		}
		if f.PropertyID != "" {
			u, ok := m.units[r.UnitID]
			if !ok || u.PropertyID != f.PropertyID {
				continue
			}
		}
		if f.Month != 0 && r.Month != f.Month {
			continue
		}
		if f.Year != 0 && r.Year != f.Year {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		return a.TenantID < b.TenantID
	})
	return out, nil
}

// Garbage fees

func (m *MemoryStorage) CreateGarbageFee(ctx context.Context, f GarbageFee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.garbageFees[f.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range m.garbageFees {
		if existing.TenantID == f.TenantID && existing.Period == f.Period {
			return ErrDuplicate
		}
	}
	m.garbageFees[f.ID] = f
	return nil
}

func (m *MemoryStorage) FindGarbageFee(ctx context.Context, tenantID, period string) (*GarbageFee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.garbageFees {
		if f.TenantID == tenantID && f.Period == period {
			cp := f
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) ListGarbageFees(ctx context.Context, tenantID string) ([]GarbageFee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []GarbageFee
	for _, f := range m.garbageFees {
		if f.TenantID == tenantID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

// Recurring charges

// cloneCharge copies the set-valued fields so callers never share backing arrays.
func cloneCharge(c RecurringCharge) RecurringCharge {
	c.PropertyIDs = append([]string{}, c.PropertyIDs...)
	c.SpecificUnits = append([]string{}, c.SpecificUnits...)
	c.UnitTypes = append([]string{}, c.UnitTypes...)
	return c
}

func (m *MemoryStorage) CreateRecurringCharge(ctx context.Context, c RecurringCharge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.charges[c.ID]; ok {
		return ErrDuplicate
	}
	m.charges[c.ID] = cloneCharge(c)
	return nil
}

func (m *MemoryStorage) UpdateRecurringCharge(ctx context.Context, c RecurringCharge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.charges[c.ID]
	if !ok {
		return ErrNotFound
	}
	c.CreatedAt = old.CreatedAt
	c.CreatedBy = old.CreatedBy
	m.charges[c.ID] = cloneCharge(c)
	return nil
}

func (m *MemoryStorage) GetRecurringCharge(ctx context.Context, id string) (*RecurringCharge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.charges[id]
	if !ok {
		return nil, nil
	}
	cp := cloneCharge(c)
	return &cp, nil
}

func (m *MemoryStorage) DeleteRecurringCharge(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.charges[id]; !ok {
		return ErrNotFound
	}
	delete(m.charges, id)
	return nil
}

func (m *MemoryStorage) ListRecurringCharges(ctx context.Context, f ChargeFilter) ([]RecurringCharge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []RecurringCharge
	for _, c := range m.charges {
		if f.ActiveOnly && !c.IsActive {
			continue
		}
		if f.PropertyID != "" && !slices.Contains(c.PropertyIDs, f.PropertyID) {
			continue
		}
		out = append(out, cloneCharge(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Bills

func (m *MemoryStorage) CreateBill(ctx context.Context, b Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bills[b.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range m.bills {
		if existing.TenantID == b.TenantID && existing.Period == b.Period {
			return ErrDuplicate
		}
	}
	m.bills[b.ID] = b
	return nil
}

func (m *MemoryStorage) GetBill(ctx context.Context, id string) (*Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bills[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *MemoryStorage) FindBill(ctx context.Context, tenantID, period string) (*Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bills {
		if b.TenantID == tenantID && b.Period == period {
			cp := b
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) ListBills(ctx context.Context, f BillFilter) ([]Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Bill
	for _, b := range m.bills {
		if f.PropertyID != "" && b.PropertyID != f.PropertyID {
			continue
		}
		if f.TenantID != "" && b.TenantID != f.TenantID {
			continue
		}
		if f.Period != "" && b.Period != f.Period {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Period != out[j].Period {
			return out[i].Period < out[j].Period
		}
		return out[i].TenantID < out[j].TenantID
	})
	return out, nil
}

func (m *MemoryStorage) MarkBillPaid(ctx context.Context, id string, at time.Time) (*Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bills[id]
	if !ok {
		return nil, ErrNotFound
	}
	b.Status = BillPaid
	paid := at
	b.PaidDate = &paid
	b.UpdatedAt = at
	m.bills[id] = b
	return &b, nil
}

func (m *MemoryStorage) MarkOverdueBills(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, b := range m.bills {
		if b.Status == BillPending && b.DueDate.Before(now) {
			b.Status = BillOverdue
			b.UpdatedAt = now
			m.bills[id] = b
			n++
		}
	}
	return n, nil
}

// Settings

func (m *MemoryStorage) GetSetting(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings[key], nil
}

func (m *MemoryStorage) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

// Users

func (m *MemoryStorage) CreateUser(ctx context.Context, user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == user.Username {
			return ErrDuplicate
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *MemoryStorage) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *MemoryStorage) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) ListUsers(ctx context.Context) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// Tokens

func (m *MemoryStorage) CreateToken(ctx context.Context, token Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token.ID] = token
	return nil
}

func (m *MemoryStorage) GetTokenByHash(ctx context.Context, hash string) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tokens {
		if t.TokenHash == hash {
			return &t, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) DeleteToken(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, id)
	return nil
}

func (m *MemoryStorage) UpdateTokenLastUsed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[id]; ok {
		now := time.Now()
		t.LastUsedAt = &now
		m.tokens[id] = t
	}
	return nil
}

// Casbin Rules

func (m *MemoryStorage) LoadCasbinRules(ctx context.Context) ([]CasbinRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]CasbinRule(nil), m.rules...), nil
}

func (m *MemoryStorage) AddCasbinRule(ctx context.Context, rule CasbinRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule.ID = uint(len(m.rules) + 1)
	m.rules = append(m.rules, rule)
	return nil
}

func (m *MemoryStorage) RemoveCasbinRule(ctx context.Context, rule CasbinRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rules[:0]
	for _, r := range m.rules {
		if r.PType == rule.PType && r.V0 == rule.V0 && r.V1 == rule.V1 && r.V2 == rule.V2 &&
			r.V3 == rule.V3 && r.V4 == rule.V4 && r.V5 == rule.V5 {
			continue
		}
		kept = append(kept, r)
	}
	m.rules = kept
	return nil
}

// Email Config

func (m *MemoryStorage) GetEmailConfig(ctx context.Context) (*EmailConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.emailConfig == nil {
		return nil, nil
	}
	cp := *m.emailConfig
	return &cp, nil
}

func (m *MemoryStorage) SaveEmailConfig(ctx context.Context, cfg EmailConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.ID == "" {
		cfg.ID = "default"
	}
	m.emailConfig = &cfg
	return nil
}

// Scheduled jobs

// TryAdvisoryLock locks key within this process.
func (m *MemoryStorage) TryAdvisoryLock(ctx context.Context, key int64) (func() error, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] {
		return nil, false, nil
	}
	m.locks[key] = true
	return func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.locks, key)
		return nil
	}, true, nil
}

func (m *MemoryStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := 0
	if success {
		status = 1
	}
	m.jobs[name] = ScheduledJob{
		Name:           name,
		LastRunAt:      started,
		LastDurationMs: dur.Milliseconds(),
		LastSuccess:    status,
		LastError:      errMsg,
	}
	return nil
}

func (m *MemoryStorage) ListScheduledJobs(ctx context.Context) ([]ScheduledJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ScheduledJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
