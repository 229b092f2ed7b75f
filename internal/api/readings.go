package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/bher20/rentledger/internal/auth"
	"github.com/bher20/rentledger/internal/billing"
	"github.com/bher20/rentledger/internal/storage"
)

type createReadingRequest struct {
	TenantID        string          `json:"tenantId" validate:"required"`
	UnitID          string          `json:"unitId"`
	PreviousReading decimal.Decimal `json:"previousReading"`
	CurrentReading  decimal.Decimal `json:"currentReading"`
	RatePerUnit     decimal.Decimal `json:"ratePerUnit"`
	Month           int             `json:"month" validate:"min=1,max=12"`
	Year            int             `json:"year" validate:"min=1900,max=9999"`
	Override        bool            `json:"override"`
}

type updateReadingRequest struct {
	ID              string           `json:"id" validate:"required"`
	PreviousReading *decimal.Decimal `json:"previousReading"`
	CurrentReading  *decimal.Decimal `json:"currentReading"`
	RatePerUnit     *decimal.Decimal `json:"ratePerUnit"`
}

type prepareReadingRequest struct {
	TenantID string `json:"tenantId" validate:"required"`
	Month    int    `json:"month" validate:"omitempty,min=1,max=12"`
	Year     int    `json:"year" validate:"omitempty,min=1900,max=9999"`
}

// callerID names the user recording a change, or "" when auth is off.
func callerID(r *http.Request) string {
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		return p.UserID
	}
	return ""
}

// tenantScope returns the tenant a TENANT caller is restricted to.
func tenantScope(r *http.Request) (string, bool) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok || p.Role != auth.RoleTenant {
		return "", false
	}
	return p.TenantID, true
}

// @Summary Record a water reading
// @Tags water-readings
// @Accept json
// @Produce json
// @Success 201 {object} storage.WaterReading
// @Failure 409 {object} map[string]any
// @Router /water-readings/create [post]
func (s *Server) createReading(w http.ResponseWriter, r *http.Request) {
	var req createReadingRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	reading, err := s.readings.Record(r.Context(), billing.ReadingInput{
		TenantID:        req.TenantID,
		UnitID:          req.UnitID,
		PreviousReading: req.PreviousReading,
		CurrentReading:  req.CurrentReading,
		RatePerUnit:     req.RatePerUnit,
		Month:           req.Month,
		Year:            req.Year,
		RecordedBy:      callerID(r),
	}, req.Override)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reading)
}

func (s *Server) updateReading(w http.ResponseWriter, r *http.Request) {
	var req updateReadingRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	reading, err := s.readings.Update(r.Context(), req.ID, billing.ReadingUpdate{
		PreviousReading: req.PreviousReading,
		CurrentReading:  req.CurrentReading,
		RatePerUnit:     req.RatePerUnit,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func (s *Server) listReadings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.ReadingFilter{TenantID: q.Get("tenantId"), PropertyID: q.Get("propertyId")}
	var err error
	if f.Month, err = queryInt(r, "month"); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if f.Year, err = queryInt(r, "year"); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if tid, scoped := tenantScope(r); scoped {
		f.TenantID = tid
	}
	list, err := s.readings.List(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []storage.WaterReading{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) reconcileReadings(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenantId")
	if tid, scoped := tenantScope(r); scoped {
		tenantID = tid
	}
	rec, err := s.readings.Reconcile(r.Context(), tenantID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) prepareReading(w http.ResponseWriter, r *http.Request) {
	var req prepareReadingRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var period *billing.Period
	if req.Month != 0 {
		period = &billing.Period{Month: req.Month, Year: req.Year}
	}
	draft, err := s.readings.Prepare(r.Context(), req.TenantID, period)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (s *Server) readingStats(w http.ResponseWriter, r *http.Request) {
	month, err := queryInt(r, "month")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	year, err := queryInt(r, "year")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	p := billing.PeriodOf(s.now())
	if month != 0 {
		p = billing.Period{Month: month, Year: year}
	}
	stats, err := s.readings.Stats(r.Context(), r.URL.Query().Get("propertyId"), p)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
