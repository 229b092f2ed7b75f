package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bher20/rentledger/internal/alerting"
	"github.com/bher20/rentledger/internal/billing"
	"github.com/bher20/rentledger/internal/storage"
)

type billPeriodRequest struct {
	PropertyID string `json:"propertyId" validate:"required"`
	Month      int    `json:"month" validate:"min=1,max=12"`
	Year       int    `json:"year" validate:"min=1900,max=9999"`
}

type generateResponse struct {
	Message     string            `json:"message"`
	Count       int               `json:"count"`
	TotalAmount decimal.Decimal   `json:"totalAmount"`
	Skipped     int               `json:"skipped"`
	Failures    []billing.Failure `json:"failures"`
	Bills       []storage.Bill    `json:"bills"`
}

type markPaidRequest struct {
	PaidAt *time.Time `json:"paidAt"`
}

type remindersRequest struct {
	PropertyID string `json:"propertyId" validate:"required"`
	Period     string `json:"period"`
}

// @Summary Preview bills for a property and month
// @Tags bills
// @Accept json
// @Produce json
// @Success 200 {object} billing.Preview
// @Router /bills/preview [post]
func (s *Server) previewBills(w http.ResponseWriter, r *http.Request) {
	var req billPeriodRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	preview, err := s.composer.Preview(r.Context(), req.PropertyID, billing.Period{Month: req.Month, Year: req.Year})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// @Summary Generate bills for every occupied unit without one
// @Tags bills
// @Accept json
// @Produce json
// @Success 200 {object} generateResponse
// @Router /bills/generate [post]
func (s *Server) generateBills(w http.ResponseWriter, r *http.Request) {
	var req billPeriodRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	started := time.Now()
	res, err := s.composer.Generate(r.Context(), req.PropertyID, billing.Period{Month: req.Month, Year: req.Year})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if len(res.Failures) > 0 {
		s.alertGenerateFailures(r.Context(), res, time.Since(started))
	}

	failures := res.Failures
	if failures == nil {
		failures = []billing.Failure{}
	}
	writeJSON(w, http.StatusOK, generateResponse{
		Message:     fmt.Sprintf("Generated %d bills for %s", res.Count, res.Period),
		Count:       res.Count,
		TotalAmount: res.TotalAmount,
		Skipped:     res.Skipped,
		Failures:    failures,
		Bills:       res.Bills,
	})
}

func (s *Server) alertGenerateFailures(ctx context.Context, res *billing.GenerateResult, dur time.Duration) {
	alert := alerting.BatchAlert{
		JobName:      fmt.Sprintf("generate-bills %s %s", res.PropertyID, res.Period.Key()),
		TotalCount:   res.Count + res.Skipped + len(res.Failures),
		SuccessCount: res.Count + res.Skipped,
		FailedCount:  len(res.Failures),
		Duration:     dur,
		Timestamp:    s.now().UTC(),
	}
	for _, f := range res.Failures {
		alert.Failures = append(alert.Failures, alerting.Failure{Item: "tenant " + f.TenantID, Error: f.Error})
	}
	if err := s.alerter.SendBatchAlert(ctx, alert); err != nil {
		s.log.Warn("bill generation alert failed", zap.Error(err))
	}
}

func (s *Server) listBills(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.BillFilter{
		PropertyID: q.Get("propertyId"),
		TenantID:   q.Get("tenantId"),
		Period:     q.Get("period"),
		Status:     storage.BillStatus(q.Get("status")),
	}
	if tid, scoped := tenantScope(r); scoped {
		f.TenantID = tid
	}
	bills, err := s.bills.List(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if bills == nil {
		bills = []storage.Bill{}
	}
	writeJSON(w, http.StatusOK, bills)
}

func (s *Server) getBill(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	b, err := s.bills.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if tid, scoped := tenantScope(r); scoped && b.TenantID != tid {
		s.writeServiceError(w, r, &billing.NotFoundError{Entity: "bill", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) markBillPaid(w http.ResponseWriter, r *http.Request) {
	var req markPaidRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
	}
	at := s.now()
	if req.PaidAt != nil {
		at = *req.PaidAt
	}
	b, err := s.bills.MarkPaid(r.Context(), r.PathValue("id"), at)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) markOverdue(w http.ResponseWriter, r *http.Request) {
	n, err := s.bills.MarkOverdue(r.Context(), s.now())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Marked %d bills as overdue", n),
		"count":   n,
	})
}

func (s *Server) remindBill(w http.ResponseWriter, r *http.Request) {
	if s.notifier == nil {
		writeError(w, http.StatusServiceUnavailable, "EMAIL_NOT_CONFIGURED", "notifications are not enabled")
		return
	}
	b, err := s.bills.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	t, err := s.store.GetTenant(r.Context(), b.TenantID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if t == nil {
		s.writeServiceError(w, r, &billing.NotFoundError{Entity: "tenant", ID: b.TenantID})
		return
	}
	if b.Status == storage.BillPaid {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "bill is already paid")
		return
	}
	if err := s.notifier.SendBillReminder(r.Context(), *b, *t); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Reminder sent to " + t.Email})
}

func (s *Server) remindBills(w http.ResponseWriter, r *http.Request) {
	if s.notifier == nil {
		writeError(w, http.StatusServiceUnavailable, "EMAIL_NOT_CONFIGURED", "notifications are not enabled")
		return
	}
	var req remindersRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	res, err := s.notifier.SendReminders(r.Context(), storage.BillFilter{PropertyID: req.PropertyID, Period: req.Period})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
