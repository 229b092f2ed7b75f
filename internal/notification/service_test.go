package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bher20/rentledger/internal/storage"
)

func seed(t *testing.T) (storage.Storage, storage.Bill, storage.Tenant) {
	t.Helper()
	ctx := context.Background()
	st := storage.NewMemory()

	require.NoError(t, st.CreateProperty(ctx, storage.Property{ID: "p1", Name: "Riverside"}))
	require.NoError(t, st.CreateUnit(ctx, storage.Unit{ID: "u1", PropertyID: "p1", UnitNumber: "A1", Status: storage.UnitOccupied}))
	tn := storage.Tenant{ID: "t1", UnitID: "u1", FirstName: "Ama", LastName: "Owusu", Email: "ama@example.com"}
	require.NoError(t, st.CreateTenant(ctx, tn))

	bill := storage.Bill{
		ID: "b1", TenantID: "t1", UnitID: "u1", PropertyID: "p1", Period: "2025-03",
		Month:                 time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		RentAmount:            decimal.NewFromInt(10000),
		WaterAmount:           decimal.NewFromInt(250),
		GarbageAmount:         decimal.NewFromInt(300),
		RecurringChargesTotal: decimal.Zero,
		TotalAmount:           decimal.NewFromInt(10550),
		Status:                storage.BillPending,
		DueDate:               time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, st.CreateBill(ctx, bill))
	return st, bill, tn
}

type recorder struct {
	sent []Message
	err  error
}

func (r *recorder) Send(_ context.Context, _ *storage.EmailConfig, msg Message) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func TestSendEmailRequiresConfig(t *testing.T) {
	st, _, _ := seed(t)
	svc := NewService(st, nil)

	err := svc.SendEmail(context.Background(), Message{To: "x@example.com"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	require.NoError(t, svc.SaveConfig(context.Background(), storage.EmailConfig{Provider: "smtp", FromAddress: "billing@example.com"}))
	err = svc.SendEmail(context.Background(), Message{To: "x@example.com"})
	assert.ErrorIs(t, err, ErrNotConfigured, "saved config is disabled")
}

func TestSeedConfigKeepsExisting(t *testing.T) {
	st, _, _ := seed(t)
	svc := NewService(st, nil)
	ctx := context.Background()

	require.NoError(t, svc.SeedConfig(ctx, storage.EmailConfig{Provider: "smtp", FromAddress: "first@example.com"}))
	require.NoError(t, svc.SeedConfig(ctx, storage.EmailConfig{Provider: "sendgrid", FromAddress: "second@example.com"}))

	cfg, err := svc.GetConfig(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "first@example.com", cfg.FromAddress)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "default", cfg.ID)
}

func TestReminderMessage(t *testing.T) {
	_, bill, tn := seed(t)

	msg, err := ReminderMessage(bill, tn, "A1")
	require.NoError(t, err)
	assert.Equal(t, "ama@example.com", msg.To)
	assert.Equal(t, "Rent bill for March 2025: 10550.00 due 5 Mar 2025", msg.Subject)
	assert.Contains(t, msg.HTML, "Dear Ama Owusu")
	assert.Contains(t, msg.HTML, "<td>250.00</td>")
	assert.Contains(t, msg.HTML, "5 March 2025")

	bill.Status = storage.BillOverdue
	msg, err = ReminderMessage(bill, tn, "A1")
	require.NoError(t, err)
	assert.Contains(t, msg.Subject, "OVERDUE: ")
}

func TestReminderMessageEscapesNames(t *testing.T) {
	_, bill, tn := seed(t)
	tn.FirstName = "<script>"
	msg, err := ReminderMessage(bill, tn, "A1")
	require.NoError(t, err)
	assert.NotContains(t, msg.HTML, "<script>")
}

func TestSendBillReminder(t *testing.T) {
	st, bill, tn := seed(t)
	rec := &recorder{}
	svc := NewService(st, nil).WithSender("smtp", rec)
	ctx := context.Background()
	require.NoError(t, svc.SeedConfig(ctx, storage.EmailConfig{Provider: "smtp", FromAddress: "billing@example.com"}))

	require.NoError(t, svc.SendBillReminder(ctx, bill, tn))
	require.Len(t, rec.sent, 1)
	assert.Contains(t, rec.sent[0].HTML, "unit A1")

	bill.Status = storage.BillPaid
	assert.Error(t, svc.SendBillReminder(ctx, bill, tn))

	bill.Status = storage.BillPending
	tn.Email = ""
	assert.Error(t, svc.SendBillReminder(ctx, bill, tn))
	assert.Len(t, rec.sent, 1)
}

func TestSendReminders(t *testing.T) {
	st, _, _ := seed(t)
	ctx := context.Background()
	require.NoError(t, st.CreateBill(ctx, storage.Bill{ID: "b0", TenantID: "t1", PropertyID: "p1", Period: "2025-02", Status: storage.BillPaid}))
	require.NoError(t, st.CreateBill(ctx, storage.Bill{ID: "ghost", TenantID: "gone", PropertyID: "p1", Period: "2025-03", Status: storage.BillOverdue}))

	rec := &recorder{}
	svc := NewService(st, nil).WithSender("sendgrid", rec)
	require.NoError(t, svc.SeedConfig(ctx, storage.EmailConfig{Provider: "sendgrid", FromAddress: "billing@example.com"}))

	res, err := svc.SendReminders(ctx, storage.BillFilter{PropertyID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Contains(t, res.Failures, "ghost")
	assert.NotContains(t, res.Failures, "b0")
}

func TestSendRemindersStopsWhenUnconfigured(t *testing.T) {
	st, _, _ := seed(t)
	svc := NewService(st, nil)

	res, err := svc.SendReminders(context.Background(), storage.BillFilter{PropertyID: "p1"})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, 0, res.Sent)
}

func TestSenderErrorIsRecorded(t *testing.T) {
	st, bill, tn := seed(t)
	boom := errors.New("smtp down")
	svc := NewService(st, nil).WithSender("smtp", &recorder{err: boom})
	ctx := context.Background()
	require.NoError(t, svc.SeedConfig(ctx, storage.EmailConfig{Provider: "smtp", FromAddress: "billing@example.com"}))

	assert.ErrorIs(t, svc.SendBillReminder(ctx, bill, tn), boom)
}
