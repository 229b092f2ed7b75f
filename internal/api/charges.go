package api

import (
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/bher20/rentledger/internal/billing"
	"github.com/bher20/rentledger/internal/storage"
)

type chargeRequest struct {
	ID            string                  `json:"id"`
	PropertyIDs   []string                `json:"propertyIds" validate:"required,min=1,dive,required"`
	Name          string                  `json:"name" validate:"required"`
	Description   string                  `json:"description"`
	Category      string                  `json:"category" validate:"required"`
	Amount        decimal.Decimal         `json:"amount"`
	Frequency     storage.ChargeFrequency `json:"frequency" validate:"required,oneof=MONTHLY QUARTERLY ANNUAL"`
	BillingDay    int                     `json:"billingDay" validate:"omitempty,min=1,max=28"`
	AppliesTo     storage.ChargeScope     `json:"appliesTo" validate:"omitempty,oneof=ALL_UNITS SPECIFIC_UNITS UNIT_TYPES"`
	SpecificUnits []string                `json:"specificUnits"`
	UnitTypes     []string                `json:"unitTypes"`
	IsActive      *bool                   `json:"isActive"`
}

func (c chargeRequest) input(createdBy string) billing.ChargeInput {
	return billing.ChargeInput{
		PropertyIDs:   c.PropertyIDs,
		Name:          c.Name,
		Description:   c.Description,
		Category:      c.Category,
		Amount:        c.Amount,
		Frequency:     c.Frequency,
		BillingDay:    c.BillingDay,
		AppliesTo:     c.AppliesTo,
		SpecificUnits: c.SpecificUnits,
		UnitTypes:     c.UnitTypes,
		IsActive:      c.IsActive,
		CreatedBy:     createdBy,
	}
}

// @Summary Create a recurring charge
// @Tags recurring-charges
// @Accept json
// @Produce json
// @Success 201 {object} storage.RecurringCharge
// @Router /recurring-charges/create [post]
func (s *Server) createCharge(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	c, err := s.charges.Create(r.Context(), req.input(callerID(r)))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) updateCharge(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if req.ID == "" {
		s.writeServiceError(w, r, &billing.ValidationError{Field: "id", Msg: "is required"})
		return
	}
	c, err := s.charges.Update(r.Context(), req.ID, req.input(""))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) listCharges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	activeOnly, _ := strconv.ParseBool(q.Get("activeOnly"))
	list, err := s.charges.List(r.Context(), q.Get("propertyId"), activeOnly)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []storage.RecurringCharge{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) deleteCharge(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if err := s.charges.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Recurring charge deleted"})
}
