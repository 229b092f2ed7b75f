package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bher20/rentledger/internal/auth"
	"github.com/bher20/rentledger/internal/billing"
	"github.com/bher20/rentledger/internal/storage"
)

var testNow = time.Date(2025, 3, 15, 9, 30, 0, 0, time.UTC)

func seedStore(t *testing.T) storage.Storage {
	t.Helper()
	ctx := context.Background()
	st := storage.NewMemory()
	march := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, p := range []string{"p1", "p2"} {
		require.NoError(t, st.CreateProperty(ctx, storage.Property{ID: p, Name: p, WaterRatePerUnit: decimal.NewFromInt(50)}))
	}
	add := func(prop, id string) {
		unit := "unit-" + id
		require.NoError(t, st.CreateUnit(ctx, storage.Unit{ID: unit, PropertyID: prop, UnitNumber: id, RentAmount: decimal.NewFromInt(9000), Status: storage.UnitOccupied}))
		require.NoError(t, st.CreateTenant(ctx, storage.Tenant{ID: id, UnitID: unit, FirstName: id, Email: id + "@example.com", RentAmount: decimal.NewFromInt(10000), CreatedAt: march}))
		require.NoError(t, st.CreateLease(ctx, storage.Lease{ID: "lease-" + id, TenantID: id, UnitID: unit, Status: storage.LeaseActive,
			StartDate: march, EndDate: march.AddDate(1, 0, -1)}))
	}
	add("p1", "t1")
	add("p1", "t2")
	add("p1", "t3")
	add("p2", "t4")

	require.NoError(t, st.CreateBill(ctx, storage.Bill{ID: "b-t3", TenantID: "t3", UnitID: "unit-t3", PropertyID: "p1", Period: "2025-03",
		Month: march, TotalAmount: decimal.NewFromInt(10000), Status: storage.BillPending, DueDate: march.AddDate(0, 0, 4)}))
	return st
}

func newTestServer(t *testing.T, st storage.Storage, authSvc *auth.Service) http.Handler {
	t.Helper()
	return NewServer(Deps{
		Store:     st,
		Options:   billing.Options{Workers: 2, Now: func() time.Time { return testNow }},
		Auth:      authSvc,
		TariffDir: t.TempDir(),
	}).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestCreateReading(t *testing.T) {
	h := newTestServer(t, seedStore(t), nil)
	body := map[string]any{"tenantId": "t1", "previousReading": 0, "currentReading": 12, "ratePerUnit": 50, "month": 3, "year": 2025}

	rec := do(t, h, http.MethodPost, "/api/v1/water-readings/create", body, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var reading storage.WaterReading
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reading))
	assert.True(t, decimal.NewFromInt(600).Equal(reading.AmountDue))
	assert.Equal(t, "unit-t1", reading.UnitID)

	rec = do(t, h, http.MethodPost, "/api/v1/water-readings/create", body, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	dup := decodeBody(t, rec)
	assert.Equal(t, "DUPLICATE", dup["code"])
	assert.NotNil(t, dup["existing"])
}

func TestCreateReadingErrors(t *testing.T) {
	h := newTestServer(t, seedStore(t), nil)

	rec := do(t, h, http.MethodPost, "/api/v1/water-readings/create",
		map[string]any{"tenantId": "ghost", "currentReading": 5, "month": 3, "year": 2025}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/water-readings/create",
		map[string]any{"tenantId": "t1", "currentReading": 5, "month": 13, "year": 2025}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeBody(t, rec)["code"])

	rec = do(t, h, http.MethodPost, "/api/v1/water-readings/create",
		map[string]any{"currentReading": 5, "month": 3, "year": 2025}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "tenantId")
}

func TestReconcileAndPrepare(t *testing.T) {
	h := newTestServer(t, seedStore(t), nil)

	rec := do(t, h, http.MethodGet, "/api/v1/water-readings/reconcile?tenantId=t1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var recon billing.Reconciliation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recon))
	require.NotNil(t, recon.Next)
	assert.Equal(t, billing.Period{Month: 3, Year: 2025}, *recon.Next)

	rec = do(t, h, http.MethodPost, "/api/v1/water-readings/prepare", map[string]any{"tenantId": "t1"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var draft billing.ReadingDraft
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &draft))
	assert.Equal(t, billing.Period{Month: 3, Year: 2025}, draft.Period)
	assert.True(t, draft.PreviousEditable)
}

func TestGenerateBillsSkipsExisting(t *testing.T) {
	st := seedStore(t)
	h := newTestServer(t, st, nil)
	body := map[string]any{"propertyId": "p1", "month": 3, "year": 2025}

	rec := do(t, h, http.MethodPost, "/api/v1/bills/preview", body, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decodeBody(t, rec)
	summary := preview["summary"].(map[string]any)
	assert.Equal(t, float64(3), summary["totalTenants"])
	assert.Equal(t, float64(1), summary["tenantsWithExistingBills"])

	rec = do(t, h, http.MethodPost, "/api/v1/bills/generate", body, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody(t, rec)
	assert.Equal(t, float64(2), res["count"])
	assert.Equal(t, float64(1), res["skipped"])
	assert.Empty(t, res["failures"])

	rec = do(t, h, http.MethodPost, "/api/v1/bills/generate", body, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decodeBody(t, rec)["count"])

	other, err := st.ListBills(context.Background(), storage.BillFilter{PropertyID: "p2"})
	require.NoError(t, err)
	assert.Empty(t, other)

	rec = do(t, h, http.MethodPost, "/api/v1/bills/generate", map[string]any{"propertyId": "nope", "month": 3, "year": 2025}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarkPaidAndOverdue(t *testing.T) {
	st := seedStore(t)
	h := newTestServer(t, st, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/bills/overdue/mark", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])

	rec = do(t, h, http.MethodPatch, "/api/v1/bills/b-t3/mark-paid", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "PAID", decodeBody(t, rec)["status"])

	rec = do(t, h, http.MethodPatch, "/api/v1/bills/missing/mark-paid", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecurringChargeRoutes(t *testing.T) {
	h := newTestServer(t, seedStore(t), nil)

	rec := do(t, h, http.MethodPost, "/api/v1/recurring-charges/create", map[string]any{
		"propertyIds": []string{"p1"}, "name": "Security", "category": "SECURITY",
		"amount": 250, "frequency": "MONTHLY", "appliesTo": "SPECIFIC_UNITS", "specificUnits": []string{"unit-t1"},
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeBody(t, rec)["id"].(string)

	rec = do(t, h, http.MethodPost, "/api/v1/recurring-charges/create", map[string]any{
		"propertyIds": []string{"p1"}, "name": "Bad", "category": "X", "amount": 1, "frequency": "WEEKLY",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/recurring-charges/list?propertyId=p1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = do(t, h, http.MethodPost, "/api/v1/bills/preview", map[string]any{"propertyId": "p1", "month": 3, "year": 2025}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	lines := decodeBody(t, rec)["preview"].([]any)
	for _, l := range lines {
		line := l.(map[string]any)
		charges := line["recurringCharges"].([]any)
		if line["tenantId"] == "t1" {
			assert.Len(t, charges, 1)
		} else {
			assert.Empty(t, charges)
		}
	}

	rec = do(t, h, http.MethodDelete, "/api/v1/recurring-charges/delete?id="+id, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodDelete, "/api/v1/recurring-charges/delete?id="+id, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImportWaterRatePaths(t *testing.T) {
	h := newTestServer(t, seedStore(t), nil)

	rec := do(t, h, http.MethodPost, "/api/v1/properties/p1/water-rate/import", map[string]any{"path": "none.pdf"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	for _, path := range []string{"/etc/passwd", "../outside.pdf", "sub/../../outside.pdf"} {
		rec = do(t, h, http.MethodPost, "/api/v1/properties/p1/water-rate/import", map[string]any{"path": path}, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Contains(t, decodeBody(t, rec)["error"], "inside the tariff directory", path)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/properties/nope/water-rate/import", map[string]any{"path": "x.pdf"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthScopesTenantUsers(t *testing.T) {
	ctx := context.Background()
	st := seedStore(t)
	authSvc, err := auth.NewService(st, nil)
	require.NoError(t, err)
	authSvc.WithClock(func() time.Time { return testNow })
	require.NoError(t, authSvc.EnsureAdmin(ctx, "admin-secret"))
	h := newTestServer(t, st, authSvc)

	rec := do(t, h, http.MethodGet, "/api/v1/bills", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	login := func(user, pass string) string {
		rec := do(t, h, http.MethodPost, "/api/v1/auth/login", map[string]any{"username": user, "password": pass}, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decodeBody(t, rec)["token"].(string)
	}
	admin := login("admin", "admin-secret")

	rec = do(t, h, http.MethodPost, "/api/v1/auth/login", map[string]any{"username": "admin", "password": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/auth/users",
		map[string]any{"username": "tenant-one", "password": "tenant-pass", "role": "TENANT", "tenantId": "t1"}, admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/v1/bills/generate", map[string]any{"propertyId": "p1", "month": 3, "year": 2025}, admin)
	require.Equal(t, http.StatusOK, rec.Code)

	tenant := login("tenant-one", "tenant-pass")
	rec = do(t, h, http.MethodGet, "/api/v1/bills?propertyId=p1", nil, tenant)
	require.Equal(t, http.StatusOK, rec.Code)
	var bills []storage.Bill
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bills))
	require.Len(t, bills, 1)
	assert.Equal(t, "t1", bills[0].TenantID)

	rec = do(t, h, http.MethodGet, "/api/v1/bills/b-t3", nil, tenant)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/bills/generate", map[string]any{"propertyId": "p1", "month": 4, "year": 2025}, tenant)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAmbientEndpoints(t *testing.T) {
	h := newTestServer(t, seedStore(t), nil)

	for _, path := range []string{"/healthz", "/livez", "/readyz", "/metrics"} {
		rec := do(t, h, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := do(t, h, http.MethodGet, "/swagger/doc.json", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decodeBody(t, rec)
	assert.Equal(t, "/api/v1", doc["basePath"])
	assert.Contains(t, doc["paths"], "/bills/generate")
}
