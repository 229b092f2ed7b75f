package storage

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// UnitStatus is the occupancy state of a unit.
type UnitStatus string

const (
	UnitVacant   UnitStatus = "VACANT"
	UnitOccupied UnitStatus = "OCCUPIED"
)

// LeaseStatus is the lifecycle state of a lease agreement.
type LeaseStatus string

const (
	LeasePending    LeaseStatus = "PENDING"
	LeaseActive     LeaseStatus = "ACTIVE"
	LeaseExpired    LeaseStatus = "EXPIRED"
	LeaseTerminated LeaseStatus = "TERMINATED"
)

// BillStatus is the payment state of a monthly bill.
type BillStatus string

const (
	BillPending BillStatus = "PENDING"
	BillPaid    BillStatus = "PAID"
	BillOverdue BillStatus = "OVERDUE"
)

// ChargeScope selects which units of a property a recurring charge applies to.
type ChargeScope string

const (
	ScopeAllUnits      ChargeScope = "ALL_UNITS"
	ScopeSpecificUnits ChargeScope = "SPECIFIC_UNITS"
	ScopeUnitTypes     ChargeScope = "UNIT_TYPES"
)

// ChargeFrequency is how often a recurring charge is levied.
type ChargeFrequency string

const (
	FrequencyMonthly   ChargeFrequency = "MONTHLY"
	FrequencyQuarterly ChargeFrequency = "QUARTERLY"
	FrequencyAnnual    ChargeFrequency = "ANNUAL"
)

// PeriodKey formats a billing month as "YYYY-MM". Bills and garbage fees are
// unique per tenant and period key.
func PeriodKey(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

// Property is a managed building or estate.
type Property struct {
	ID                string          `json:"id" gorm:"primaryKey;column:id"`
	Name              string          `json:"name" gorm:"column:name"`
	Address           string          `json:"address,omitempty" gorm:"column:address"`
	ChargesGarbageFee bool            `json:"chargesGarbageFee" gorm:"column:charges_garbage_fee"`
	DefaultGarbageFee decimal.Decimal `json:"defaultGarbageFee" gorm:"column:default_garbage_fee;type:numeric(14,2)"`
	WaterRatePerUnit  decimal.Decimal `json:"waterRatePerUnit" gorm:"column:water_rate_per_unit;type:numeric(14,4)"`
	Archived          bool            `json:"archived" gorm:"column:archived"`
	CreatedAt         time.Time       `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt         time.Time       `json:"updatedAt" gorm:"column:updated_at"`
}

// Unit is a rentable space inside a property.
type Unit struct {
	ID         string          `json:"id" gorm:"primaryKey;column:id"`
	PropertyID string          `json:"propertyId" gorm:"column:property_id;index"`
	UnitNumber string          `json:"unitNumber" gorm:"column:unit_number"`
	Type       string          `json:"type" gorm:"column:type"`
	RentAmount decimal.Decimal `json:"rentAmount" gorm:"column:rent_amount;type:numeric(14,2)"`
	Status     UnitStatus      `json:"status" gorm:"column:status"`
	CreatedAt  time.Time       `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt  time.Time       `json:"updatedAt" gorm:"column:updated_at"`
}

// Tenant is a person occupying a unit.
type Tenant struct {
	ID            string          `json:"id" gorm:"primaryKey;column:id"`
	UnitID        string          `json:"unitId" gorm:"column:unit_id;index"`
	FirstName     string          `json:"firstName" gorm:"column:first_name"`
	LastName      string          `json:"lastName" gorm:"column:last_name"`
	Email         string          `json:"email" gorm:"column:email"`
	Phone         string          `json:"phone,omitempty" gorm:"column:phone"`
	RentAmount    decimal.Decimal `json:"rentAmount" gorm:"column:rent_amount;type:numeric(14,2)"`
	DepositAmount decimal.Decimal `json:"depositAmount" gorm:"column:deposit_amount;type:numeric(14,2)"`
	CreatedAt     time.Time       `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt     time.Time       `json:"updatedAt" gorm:"column:updated_at"`
}

// FullName joins first and last name.
func (t Tenant) FullName() string {
	if t.LastName == "" {
		return t.FirstName
	}
	return t.FirstName + " " + t.LastName
}

// TenantUnit pairs a tenant with the unit it occupies.
type TenantUnit struct {
	Tenant Tenant `json:"tenant"`
	Unit   Unit   `json:"unit"`
}

// Lease is a lease agreement between a tenant and the operator.
type Lease struct {
	ID            string          `json:"id" gorm:"primaryKey;column:id"`
	TenantID      string          `json:"tenantId" gorm:"column:tenant_id;index"`
	UnitID        string          `json:"unitId" gorm:"column:unit_id"`
	StartDate     time.Time       `json:"startDate" gorm:"column:start_date"`
	EndDate       time.Time       `json:"endDate" gorm:"column:end_date"`
	RentAmount    decimal.Decimal `json:"rentAmount" gorm:"column:rent_amount;type:numeric(14,2)"`
	DepositAmount decimal.Decimal `json:"depositAmount" gorm:"column:deposit_amount;type:numeric(14,2)"`
	Status        LeaseStatus     `json:"status" gorm:"column:status"`
	CreatedAt     time.Time       `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt     time.Time       `json:"updatedAt" gorm:"column:updated_at"`
}

func (Lease) TableName() string { return "lease_agreements" }

// WaterReading is one meter reading for a tenant and billing period.
type WaterReading struct {
	ID              string          `json:"id" gorm:"primaryKey;column:id"`
	TenantID        string          `json:"tenantId" gorm:"column:tenant_id;uniqueIndex:idx_water_readings_period"`
	UnitID          string          `json:"unitId" gorm:"column:unit_id;index"`
	PreviousReading decimal.Decimal `json:"previousReading" gorm:"column:previous_reading;type:numeric(14,2)"`
	CurrentReading  decimal.Decimal `json:"currentReading" gorm:"column:current_reading;type:numeric(14,2)"`
	UnitsConsumed   decimal.Decimal `json:"unitsConsumed" gorm:"column:units_consumed;type:numeric(14,2)"`
	RatePerUnit     decimal.Decimal `json:"ratePerUnit" gorm:"column:rate_per_unit;type:numeric(14,4)"`
	AmountDue       decimal.Decimal `json:"amountDue" gorm:"column:amount_due;type:numeric(14,2)"`
	Month           int             `json:"month" gorm:"column:month;uniqueIndex:idx_water_readings_period"`
	Year            int             `json:"year" gorm:"column:year;uniqueIndex:idx_water_readings_period"`
	RecordedBy      string          `json:"recordedBy,omitempty" gorm:"column:recorded_by"`
	CreatedAt       time.Time       `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt       time.Time       `json:"updatedAt" gorm:"column:updated_at"`
}

// GarbageFee is a monthly garbage collection fee for a tenant.
type GarbageFee struct {
	ID        string          `json:"id" gorm:"primaryKey;column:id"`
	TenantID  string          `json:"tenantId" gorm:"column:tenant_id;uniqueIndex:idx_garbage_fees_period"`
	UnitID    string          `json:"unitId" gorm:"column:unit_id"`
	Period    string          `json:"period" gorm:"column:period;uniqueIndex:idx_garbage_fees_period"`
	Month     time.Time       `json:"month" gorm:"column:month"`
	Amount    decimal.Decimal `json:"amount" gorm:"column:amount;type:numeric(14,2)"`
	Status    BillStatus      `json:"status" gorm:"column:status"`
	CreatedAt time.Time       `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt time.Time       `json:"updatedAt" gorm:"column:updated_at"`
}

// RecurringCharge is a periodic fee configured across one or more properties.
// The set-valued fields are persisted in join tables.
type RecurringCharge struct {
	ID            string          `json:"id" gorm:"primaryKey;column:id"`
	Name          string          `json:"name" gorm:"column:name"`
	Description   string          `json:"description,omitempty" gorm:"column:description"`
	Category      string          `json:"category" gorm:"column:category"`
	Amount        decimal.Decimal `json:"amount" gorm:"column:amount;type:numeric(14,2)"`
	Frequency     ChargeFrequency `json:"frequency" gorm:"column:frequency"`
	BillingDay    int             `json:"billingDay" gorm:"column:billing_day"`
	AppliesTo     ChargeScope     `json:"appliesTo" gorm:"column:applies_to"`
	IsActive      bool            `json:"isActive" gorm:"column:is_active"`
	CreatedBy     string          `json:"createdBy,omitempty" gorm:"column:created_by"`
	CreatedAt     time.Time       `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt     time.Time       `json:"updatedAt" gorm:"column:updated_at"`
	PropertyIDs   []string        `json:"propertyIds" gorm:"-"`
	SpecificUnits []string        `json:"specificUnits" gorm:"-"`
	UnitTypes     []string        `json:"unitTypes" gorm:"-"`
}

// RecurringChargeProperty links a charge to a property.
type RecurringChargeProperty struct {
	ChargeID   string `gorm:"primaryKey;column:charge_id"`
	PropertyID string `gorm:"primaryKey;column:property_id;index"`
}

// RecurringChargeUnit links a SPECIFIC_UNITS charge to a unit.
type RecurringChargeUnit struct {
	ChargeID string `gorm:"primaryKey;column:charge_id"`
	UnitID   string `gorm:"primaryKey;column:unit_id"`
}

// RecurringChargeUnitType links a UNIT_TYPES charge to a unit type tag.
type RecurringChargeUnitType struct {
	ChargeID string `gorm:"primaryKey;column:charge_id"`
	UnitType string `gorm:"primaryKey;column:unit_type"`
}

// Bill is the monthly statement for one tenant.
type Bill struct {
	ID                    string          `json:"id" gorm:"primaryKey;column:id"`
	TenantID              string          `json:"tenantId" gorm:"column:tenant_id;uniqueIndex:idx_monthly_bills_period"`
	UnitID                string          `json:"unitId" gorm:"column:unit_id"`
	PropertyID            string          `json:"propertyId" gorm:"column:property_id;index"`
	Period                string          `json:"period" gorm:"column:period;uniqueIndex:idx_monthly_bills_period"`
	Month                 time.Time       `json:"month" gorm:"column:month"`
	RentAmount            decimal.Decimal `json:"rentAmount" gorm:"column:rent_amount;type:numeric(14,2)"`
	WaterAmount           decimal.Decimal `json:"waterAmount" gorm:"column:water_amount;type:numeric(14,2)"`
	GarbageAmount         decimal.Decimal `json:"garbageAmount" gorm:"column:garbage_amount;type:numeric(14,2)"`
	RecurringChargesTotal decimal.Decimal `json:"recurringChargesTotal" gorm:"column:recurring_charges_total;type:numeric(14,2)"`
	TotalAmount           decimal.Decimal `json:"totalAmount" gorm:"column:total_amount;type:numeric(14,2)"`
	Status                BillStatus      `json:"status" gorm:"column:status;index"`
	DueDate               time.Time       `json:"dueDate" gorm:"column:due_date"`
	PaidDate              *time.Time      `json:"paidDate,omitempty" gorm:"column:paid_date"`
	CreatedAt             time.Time       `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt             time.Time       `json:"updatedAt" gorm:"column:updated_at"`
}

func (Bill) TableName() string { return "monthly_bills" }

// User represents an operator account.
type User struct {
	ID           string    `json:"id" gorm:"primaryKey;column:id"`
	Username     string    `json:"username" gorm:"unique;column:username"`
	FirstName    string    `json:"firstName" gorm:"column:first_name"`
	LastName     string    `json:"lastName" gorm:"column:last_name"`
	Email        string    `json:"email" gorm:"column:email"`
	PasswordHash string    `json:"-" gorm:"column:password_hash"`
	Role         string    `json:"role" gorm:"column:role"`
	TenantID     string    `json:"tenantId,omitempty" gorm:"column:tenant_id"`
	CreatedAt    time.Time `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt    time.Time `json:"updatedAt" gorm:"column:updated_at"`
}

// Token represents an API access token.
type Token struct {
	ID         string     `json:"id" gorm:"primaryKey;column:id"`
	UserID     string     `json:"userId" gorm:"column:user_id"`
	Name       string     `json:"name" gorm:"column:name"`
	TokenHash  string     `json:"-" gorm:"column:token_hash;index"`
	Role       string     `json:"role" gorm:"column:role"`
	CreatedAt  time.Time  `json:"createdAt" gorm:"column:created_at"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty" gorm:"column:expires_at"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty" gorm:"column:last_used_at"`
}

// CasbinRule represents a policy rule for RBAC.
type CasbinRule struct {
	ID    uint   `gorm:"primaryKey"`
	PType string `json:"ptype" gorm:"column:ptype"`
	V0    string `json:"v0" gorm:"column:v0"`
	V1    string `json:"v1" gorm:"column:v1"`
	V2    string `json:"v2" gorm:"column:v2"`
	V3    string `json:"v3" gorm:"column:v3"`
	V4    string `json:"v4" gorm:"column:v4"`
	V5    string `json:"v5" gorm:"column:v5"`
}

// EmailConfig holds configuration for outgoing mail.
type EmailConfig struct {
	ID          string    `json:"id" gorm:"primaryKey;column:id"`
	Provider    string    `json:"provider" gorm:"column:provider"` // "smtp", "sendgrid", "resend"
	Host        string    `json:"host,omitempty" gorm:"column:host"`
	Port        int       `json:"port,omitempty" gorm:"column:port"`
	Username    string    `json:"username,omitempty" gorm:"column:username"`
	Password    string    `json:"password,omitempty" gorm:"column:password"`
	FromAddress string    `json:"fromAddress" gorm:"column:from_address"`
	FromName    string    `json:"fromName" gorm:"column:from_name"`
	APIKey      string    `json:"apiKey,omitempty" gorm:"column:api_key"`
	Encryption  string    `json:"encryption,omitempty" gorm:"column:encryption"` // "none", "ssl", "tls"
	Enabled     bool      `json:"enabled" gorm:"column:enabled"`
	CreatedAt   time.Time `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt   time.Time `json:"updatedAt" gorm:"column:updated_at"`
}

// Setting is a key/value runtime setting.
type Setting struct {
	Key       string    `gorm:"primaryKey;column:key"`
	Value     string    `gorm:"column:value"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// ScheduledJob records the outcome of the last run of a background job.
type ScheduledJob struct {
	Name           string    `json:"name" gorm:"primaryKey;column:name"`
	LastRunAt      time.Time `json:"lastRunAt" gorm:"column:last_run_at"`
	LastDurationMs int64     `json:"lastDurationMs" gorm:"column:last_duration_ms"`
	LastSuccess    int       `json:"lastSuccess" gorm:"column:last_success"`
	LastError      string    `json:"lastError" gorm:"column:last_error"`
}
