package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/bher20/rentledger/internal/migrate"
)

type GormStorage struct {
	db      *gorm.DB
	dialect string
}

func NewGormStorage(driver, dsn string) (*GormStorage, error) {
	var gormDialector gorm.Dialector
	dialect := driver
	switch driver {
	case "postgres", "postgrespool":
		gormDialector = postgres.Open(dsn)
		dialect = "postgres"
	case "sqlite":
		gormDialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := gorm.Open(gormDialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	return &GormStorage{db: db, dialect: dialect}, nil
}

// Migrate applies the embedded goose migrations for the active dialect.
func (s *GormStorage) Migrate(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return migrate.UpDB(ctx, s.dialect, sqlDB)
}

// isDuplicate recognises unique violations from every supported driver.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func mapWriteErr(err error) error {
	if isDuplicate(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// first loads a single row, returning (false, nil) when nothing matches.
func (s *GormStorage) first(ctx context.Context, dest any, query string, args ...any) (bool, error) {
	result := s.db.WithContext(ctx).Where(query, args...).First(dest)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, result.Error
	}
	return true, nil
}

// Properties

func (s *GormStorage) CreateProperty(ctx context.Context, p Property) error {
	return mapWriteErr(s.db.WithContext(ctx).Create(&p).Error)
}

func (s *GormStorage) GetProperty(ctx context.Context, id string) (*Property, error) {
	var p Property
	ok, err := s.first(ctx, &p, "id = ?", id)
	if !ok || err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *GormStorage) ListProperties(ctx context.Context) ([]Property, error) {
	var props []Property
	result := s.db.WithContext(ctx).Order("name").Find(&props)
	return props, result.Error
}

func (s *GormStorage) UpdateProperty(ctx context.Context, p Property) error {
	result := s.db.WithContext(ctx).Model(&Property{}).Where("id = ?", p.ID).
		Select("*").Omit("id", "created_at").Updates(&p)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Units

func (s *GormStorage) CreateUnit(ctx context.Context, u Unit) error {
	return mapWriteErr(s.db.WithContext(ctx).Create(&u).Error)
}

func (s *GormStorage) GetUnit(ctx context.Context, id string) (*Unit, error) {
	var u Unit
	ok, err := s.first(ctx, &u, "id = ?", id)
	if !ok || err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *GormStorage) ListUnits(ctx context.Context, propertyID string) ([]Unit, error) {
	var units []Unit
	result := s.db.WithContext(ctx).Where("property_id = ?", propertyID).Order("unit_number").Find(&units)
	return units, result.Error
}

// Tenants

func (s *GormStorage) CreateTenant(ctx context.Context, t Tenant) error {
	return mapWriteErr(s.db.WithContext(ctx).Create(&t).Error)
}

func (s *GormStorage) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	var t Tenant
	ok, err := s.first(ctx, &t, "id = ?", id)
	if !ok || err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *GormStorage) ListOccupiedTenants(ctx context.Context, propertyID string) ([]TenantUnit, error) {
	var units []Unit
	if err := s.db.WithContext(ctx).
		Where("property_id = ? AND status = ?", propertyID, UnitOccupied).
		Order("unit_number").Find(&units).Error; err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, nil
	}

	byID := make(map[string]Unit, len(units))
	ids := make([]string, 0, len(units))
	for _, u := range units {
		byID[u.ID] = u
		ids = append(ids, u.ID)
	}

	var tenants []Tenant
	if err := s.db.WithContext(ctx).Where("unit_id IN ?", ids).Order("created_at, id").Find(&tenants).Error; err != nil {
		return nil, err
	}

	out := make([]TenantUnit, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, TenantUnit{Tenant: t, Unit: byID[t.UnitID]})
	}
	return out, nil
}

// Leases

func (s *GormStorage) CreateLease(ctx context.Context, l Lease) error {
	return mapWriteErr(s.db.WithContext(ctx).Create(&l).Error)
}

func (s *GormStorage) ListLeases(ctx context.Context, tenantID string) ([]Lease, error) {
	var leases []Lease
	result := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("start_date").Find(&leases)
	return leases, result.Error
}

func (s *GormStorage) ListLeasesEndingBefore(ctx context.Context, t time.Time) ([]Lease, error) {
	var leases []Lease
	result := s.db.WithContext(ctx).
		Where("status = ? AND end_date < ?", LeaseActive, t).
		Order("end_date").Find(&leases)
	return leases, result.Error
}

func (s *GormStorage) ExpireLease(ctx context.Context, leaseID string, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lease Lease
		if err := tx.First(&lease, "id = ?", leaseID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := tx.Model(&Lease{}).Where("id = ?", leaseID).
			Updates(map[string]any{"status": LeaseExpired, "updated_at": at}).Error; err != nil {
			return err
		}
		return tx.Model(&Unit{}).Where("id = ?", lease.UnitID).
			Updates(map[string]any{"status": UnitVacant, "updated_at": at}).Error
	})
}

// Water readings

func (s *GormStorage) CreateReading(ctx context.Context, r WaterReading) error {
	return mapWriteErr(s.db.WithContext(ctx).Create(&r).Error)
}

func (s *GormStorage) UpdateReading(ctx context.Context, r WaterReading) error {
	result := s.db.WithContext(ctx).Model(&WaterReading{}).Where("id = ?", r.ID).
		Select("*").Omit("id", "created_at").Updates(&r)
	if result.Error != nil {
		return mapWriteErr(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStorage) GetReading(ctx context.Context, id string) (*WaterReading, error) {
	var r WaterReading
	ok, err := s.first(ctx, &r, "id = ?", id)
	if !ok || err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *GormStorage) FindReading(ctx context.Context, tenantID string, month, year int) (*WaterReading, error) {
	var r WaterReading
	ok, err := s.first(ctx, &r, "tenant_id = ? AND month = ? AND year = ?", tenantID, month, year)
	if !ok || err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *GormStorage) ListReadings(ctx context.Context, f ReadingFilter) ([]WaterReading, error) {
	q := s.db.WithContext(ctx).Model(&WaterReading{})
	if f.TenantID != "" {
		q = q.Where("tenant_id = ?", f.TenantID)
	}
	if f.PropertyID != "" {
		q = q.Where("unit_id IN (?)", s.db.Model(&Unit{}).Select("id").Where("property_id = ?", f.PropertyID))
	}
	if f.Month != 0 {
		q = q.Where("month = ?", f.Month)
	}
	if f.Year != 0 {
		q = q.Where("year = ?", f.Year)
	}
	var readings []WaterReading
	result := q.Order("year, month, tenant_id").Find(&readings)
	return readings, result.Error
}

// Garbage fees

func (s *GormStorage) CreateGarbageFee(ctx context.Context, f GarbageFee) error {
	return mapWriteErr(s.db.WithContext(ctx).Create(&f).Error)
}

func (s *GormStorage) FindGarbageFee(ctx context.Context, tenantID, period string) (*GarbageFee, error) {
	var f GarbageFee
	ok, err := s.first(ctx, &f, "tenant_id = ? AND period = ?", tenantID, period)
	if !ok || err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *GormStorage) ListGarbageFees(ctx context.Context, tenantID string) ([]GarbageFee, error) {
	var fees []GarbageFee
	result := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("period").Find(&fees)
	return fees, result.Error
}

// Recurring charges

func writeChargeLinks(tx *gorm.DB, c RecurringCharge) error {
	if len(c.PropertyIDs) > 0 {
		links := make([]RecurringChargeProperty, 0, len(c.PropertyIDs))
		for _, id := range c.PropertyIDs {
			links = append(links, RecurringChargeProperty{ChargeID: c.ID, PropertyID: id})
		}
		if err := tx.Create(&links).Error; err != nil {
			return err
		}
	}
	if len(c.SpecificUnits) > 0 {
		links := make([]RecurringChargeUnit, 0, len(c.SpecificUnits))
		for _, id := range c.SpecificUnits {
			links = append(links, RecurringChargeUnit{ChargeID: c.ID, UnitID: id})
		}
		if err := tx.Create(&links).Error; err != nil {
			return err
		}
	}
	if len(c.UnitTypes) > 0 {
		links := make([]RecurringChargeUnitType, 0, len(c.UnitTypes))
		for _, t := range c.UnitTypes {
			links = append(links, RecurringChargeUnitType{ChargeID: c.ID, UnitType: t})
		}
		if err := tx.Create(&links).Error; err != nil {
			return err
		}
	}
	return nil
}

func deleteChargeLinks(tx *gorm.DB, chargeID string) error {
	for _, model := range []any{&RecurringChargeProperty{}, &RecurringChargeUnit{}, &RecurringChargeUnitType{}} {
		if err := tx.Where("charge_id = ?", chargeID).Delete(model).Error; err != nil {
			return err
		}
	}
	return nil
}

// loadChargeLinks fills the set-valued fields of charges from the join tables.
func (s *GormStorage) loadChargeLinks(ctx context.Context, charges []RecurringCharge) error {
	if len(charges) == 0 {
		return nil
	}
	ids := make([]string, 0, len(charges))
	idx := make(map[string]int, len(charges))
	for i, c := range charges {
		ids = append(ids, c.ID)
		idx[c.ID] = i
		charges[i].PropertyIDs = []string{}
		charges[i].SpecificUnits = []string{}
		charges[i].UnitTypes = []string{}
	}

	var props []RecurringChargeProperty
	if err := s.db.WithContext(ctx).Where("charge_id IN ?", ids).Order("property_id").Find(&props).Error; err != nil {
		return err
	}
	for _, l := range props {
		i := idx[l.ChargeID]
		charges[i].PropertyIDs = append(charges[i].PropertyIDs, l.PropertyID)
	}

	var units []RecurringChargeUnit
	if err := s.db.WithContext(ctx).Where("charge_id IN ?", ids).Order("unit_id").Find(&units).Error; err != nil {
		return err
	}
	for _, l := range units {
		i := idx[l.ChargeID]
		charges[i].SpecificUnits = append(charges[i].SpecificUnits, l.UnitID)
	}

	var types []RecurringChargeUnitType
	if err := s.db.WithContext(ctx).Where("charge_id IN ?", ids).Order("unit_type").Find(&types).Error; err != nil {
		return err
	}
	for _, l := range types {
		i := idx[l.ChargeID]
		charges[i].UnitTypes = append(charges[i].UnitTypes, l.UnitType)
	}
	return nil
}

func (s *GormStorage) CreateRecurringCharge(ctx context.Context, c RecurringCharge) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&c).Error; err != nil {
			return err
		}
		return writeChargeLinks(tx, c)
	})
	return mapWriteErr(err)
}

func (s *GormStorage) UpdateRecurringCharge(ctx context.Context, c RecurringCharge) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&RecurringCharge{}).Where("id = ?", c.ID).
			Select("*").Omit("id", "created_at", "created_by").Updates(&c)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := deleteChargeLinks(tx, c.ID); err != nil {
			return err
		}
		return writeChargeLinks(tx, c)
	})
	return mapWriteErr(err)
}

func (s *GormStorage) GetRecurringCharge(ctx context.Context, id string) (*RecurringCharge, error) {
	var c RecurringCharge
	ok, err := s.first(ctx, &c, "id = ?", id)
	if !ok || err != nil {
		return nil, err
	}
	list := []RecurringCharge{c}
	if err := s.loadChargeLinks(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

func (s *GormStorage) DeleteRecurringCharge(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteChargeLinks(tx, id); err != nil {
			return err
		}
		result := tx.Delete(&RecurringCharge{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *GormStorage) ListRecurringCharges(ctx context.Context, f ChargeFilter) ([]RecurringCharge, error) {
	q := s.db.WithContext(ctx).Model(&RecurringCharge{})
	if f.PropertyID != "" {
		q = q.Where("id IN (?)", s.db.Model(&RecurringChargeProperty{}).Select("charge_id").Where("property_id = ?", f.PropertyID))
	}
	if f.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	var charges []RecurringCharge
	if err := q.Order("created_at, id").Find(&charges).Error; err != nil {
		return nil, err
	}
	if err := s.loadChargeLinks(ctx, charges); err != nil {
		return nil, err
	}
	return charges, nil
}

// Bills

func (s *GormStorage) CreateBill(ctx context.Context, b Bill) error {
	return mapWriteErr(s.db.WithContext(ctx).Create(&b).Error)
}

func (s *GormStorage) GetBill(ctx context.Context, id string) (*Bill, error) {
	var b Bill
	ok, err := s.first(ctx, &b, "id = ?", id)
	if !ok || err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *GormStorage) FindBill(ctx context.Context, tenantID, period string) (*Bill, error) {
	var b Bill
	ok, err := s.first(ctx, &b, "tenant_id = ? AND period = ?", tenantID, period)
	if !ok || err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *GormStorage) ListBills(ctx context.Context, f BillFilter) ([]Bill, error) {
	q := s.db.WithContext(ctx).Model(&Bill{})
	if f.PropertyID != "" {
		q = q.Where("property_id = ?", f.PropertyID)
	}
	if f.TenantID != "" {
		q = q.Where("tenant_id = ?", f.TenantID)
	}
	if f.Period != "" {
		q = q.Where("period = ?", f.Period)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var bills []Bill
	result := q.Order("period, tenant_id").Find(&bills)
	return bills, result.Error
}

func (s *GormStorage) MarkBillPaid(ctx context.Context, id string, at time.Time) (*Bill, error) {
	result := s.db.WithContext(ctx).Model(&Bill{}).Where("id = ?", id).
		Updates(map[string]any{"status": BillPaid, "paid_date": at, "updated_at": at})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetBill(ctx, id)
}

func (s *GormStorage) MarkOverdueBills(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&Bill{}).
		Where("status = ? AND due_date < ?", BillPending, now).
		Updates(map[string]any{"status": BillOverdue, "updated_at": now})
	return result.RowsAffected, result.Error
}

// Settings

func (s *GormStorage) GetSetting(ctx context.Context, key string) (string, error) {
	var setting Setting
	ok, err := s.first(ctx, &setting, "key = ?", key)
	if !ok || err != nil {
		return "", err
	}
	return setting.Value, nil
}

func (s *GormStorage) SetSetting(ctx context.Context, key, value string) error {
	setting := Setting{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&setting).Error
}

// Users

func (s *GormStorage) CreateUser(ctx context.Context, user User) error {
	return mapWriteErr(s.db.WithContext(ctx).Create(&user).Error)
}

func (s *GormStorage) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	ok, err := s.first(ctx, &user, "id = ?", id)
	if !ok || err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *GormStorage) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	ok, err := s.first(ctx, &user, "username = ?", username)
	if !ok || err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *GormStorage) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	result := s.db.WithContext(ctx).Order("username").Find(&users)
	return users, result.Error
}

// Tokens

func (s *GormStorage) CreateToken(ctx context.Context, token Token) error {
	return s.db.WithContext(ctx).Create(&token).Error
}

func (s *GormStorage) GetTokenByHash(ctx context.Context, hash string) (*Token, error) {
	var token Token
	ok, err := s.first(ctx, &token, "token_hash = ?", hash)
	if !ok || err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *GormStorage) DeleteToken(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&Token{}, "id = ?", id).Error
}

func (s *GormStorage) UpdateTokenLastUsed(ctx context.Context, id string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&Token{}).Where("id = ?", id).Update("last_used_at", now).Error
}

// Casbin Rules

func (s *GormStorage) LoadCasbinRules(ctx context.Context) ([]CasbinRule, error) {
	var rules []CasbinRule
	result := s.db.WithContext(ctx).Find(&rules)
	return rules, result.Error
}

func (s *GormStorage) AddCasbinRule(ctx context.Context, rule CasbinRule) error {
	return s.db.WithContext(ctx).Create(&rule).Error
}

func (s *GormStorage) RemoveCasbinRule(ctx context.Context, rule CasbinRule) error {
	return s.db.WithContext(ctx).Where(&rule).Delete(&CasbinRule{}).Error
}

// Email Config

func (s *GormStorage) GetEmailConfig(ctx context.Context) (*EmailConfig, error) {
	var config EmailConfig
	result := s.db.WithContext(ctx).First(&config)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &config, nil
}

func (s *GormStorage) SaveEmailConfig(ctx context.Context, config EmailConfig) error {
	if config.ID == "" {
		config.ID = "default" // single row
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&config).Error
}

// Close & Ping

func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStorage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Scheduled Jobs & Locking

// TryAdvisoryLock takes a postgres session lock on a connection pinned for the
// lifetime of the lock, so the unlock runs on the session that holds it. If
// the unlock fails the connection is discarded, which ends the session and
// drops the lock with it.
func (s *GormStorage) TryAdvisoryLock(ctx context.Context, key int64) (func() error, bool, error) {
	if s.db.Dialector.Name() != "postgres" {
		// SQLite has no advisory locks; a single instance always wins.
		return func() error { return nil }, true, nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, false, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("pin connection: %w", err)
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok); err != nil {
		conn.Close()
		return nil, false, err
	}
	if !ok {
		conn.Close()
		return nil, false, nil
	}
	release := func() error {
		// The caller's context may already be cancelled when the job ends.
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		var unlocked bool
		err := conn.QueryRowContext(uctx, "SELECT pg_advisory_unlock($1)", key).Scan(&unlocked)
		if err == nil && !unlocked {
			err = fmt.Errorf("advisory lock %d was not held by this session", key)
		}
		if err != nil {
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		if cerr := conn.Close(); err == nil {
			err = cerr
		}
		return err
	}
	return release, true, nil
}

func (s *GormStorage) UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error {
	status := 0
	if success {
		status = 1
	}
	job := ScheduledJob{
		Name:           name,
		LastRunAt:      started,
		LastDurationMs: dur.Milliseconds(),
		LastSuccess:    status,
		LastError:      errMsg,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		UpdateAll: true,
	}).Create(&job).Error
}

func (s *GormStorage) ListScheduledJobs(ctx context.Context) ([]ScheduledJob, error) {
	var jobs []ScheduledJob
	result := s.db.WithContext(ctx).Order("name").Find(&jobs)
	return jobs, result.Error
}
