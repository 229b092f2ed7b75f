package notification

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/smtp"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/bher20/rentledger/internal/metrics"
	"github.com/bher20/rentledger/internal/storage"
)

// ErrNotConfigured is returned when no enabled email configuration exists.
var ErrNotConfigured = errors.New("email not configured or disabled")

// Message is one outgoing email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers a message using the given provider settings.
type Sender interface {
	Send(ctx context.Context, cfg *storage.EmailConfig, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, cfg *storage.EmailConfig, msg Message) error

func (f SenderFunc) Send(ctx context.Context, cfg *storage.EmailConfig, msg Message) error {
	return f(ctx, cfg, msg)
}

type Service struct {
	storage storage.Storage
	log     *zap.Logger
	senders map[string]Sender
}

func NewService(s storage.Storage, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		storage: s,
		log:     log,
		senders: map[string]Sender{
			"smtp":     SenderFunc(sendSMTP),
			"sendgrid": SenderFunc(sendSendgrid),
			"resend":   SenderFunc(sendResend),
		},
	}
}

// WithSender replaces the sender used for a provider.
func (s *Service) WithSender(provider string, snd Sender) *Service {
	s.senders[provider] = snd
	return s
}

func (s *Service) GetConfig(ctx context.Context) (*storage.EmailConfig, error) {
	return s.storage.GetEmailConfig(ctx)
}

func (s *Service) SaveConfig(ctx context.Context, cfg storage.EmailConfig) error {
	if cfg.ID == "" {
		cfg.ID = "default"
	}
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	return s.storage.SaveEmailConfig(ctx, cfg)
}

// SeedConfig stores cfg when no configuration has been saved yet.
func (s *Service) SeedConfig(ctx context.Context, cfg storage.EmailConfig) error {
	current, err := s.storage.GetEmailConfig(ctx)
	if err != nil {
		return err
	}
	if current != nil || cfg.FromAddress == "" {
		return nil
	}
	cfg.Enabled = true
	return s.SaveConfig(ctx, cfg)
}

func (s *Service) SendEmail(ctx context.Context, msg Message) error {
	cfg, err := s.storage.GetEmailConfig(ctx)
	if err != nil {
		return err
	}
	if cfg == nil || !cfg.Enabled {
		return ErrNotConfigured
	}
	snd, ok := s.senders[cfg.Provider]
	if !ok {
		return fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
	return snd.Send(ctx, cfg, msg)
}

var reminderTmpl = template.Must(template.New("reminder").Parse(`<p>Dear {{.Name}},</p>
<p>Your bill for {{.Period}} (unit {{.Unit}}) is <strong>{{.Status}}</strong>.</p>
<table>
<tr><td>Rent</td><td>{{.Rent}}</td></tr>
<tr><td>Water</td><td>{{.Water}}</td></tr>
<tr><td>Garbage</td><td>{{.Garbage}}</td></tr>
<tr><td>Other charges</td><td>{{.Recurring}}</td></tr>
<tr><td><strong>Total</strong></td><td><strong>{{.Total}}</strong></td></tr>
</table>
<p>Payment is due on {{.Due}}.</p>`))

// ReminderMessage renders the reminder email for a bill.
func ReminderMessage(bill storage.Bill, tenant storage.Tenant, unitNumber string) (Message, error) {
	var buf bytes.Buffer
	err := reminderTmpl.Execute(&buf, map[string]string{
		"Name":      tenant.FullName(),
		"Period":    bill.Month.Format("January 2006"),
		"Unit":      unitNumber,
		"Status":    string(bill.Status),
		"Rent":      bill.RentAmount.StringFixed(2),
		"Water":     bill.WaterAmount.StringFixed(2),
		"Garbage":   bill.GarbageAmount.StringFixed(2),
		"Recurring": bill.RecurringChargesTotal.StringFixed(2),
		"Total":     bill.TotalAmount.StringFixed(2),
		"Due":       bill.DueDate.Format("2 January 2006"),
	})
	if err != nil {
		return Message{}, err
	}
	subject := fmt.Sprintf("Rent bill for %s: %s due %s",
		bill.Month.Format("January 2006"), bill.TotalAmount.StringFixed(2), bill.DueDate.Format("2 Jan 2006"))
	if bill.Status == storage.BillOverdue {
		subject = "OVERDUE: " + subject
	}
	return Message{To: tenant.Email, Subject: subject, HTML: buf.String()}, nil
}

// SendBillReminder emails the tenant a summary of an unpaid bill.
func (s *Service) SendBillReminder(ctx context.Context, bill storage.Bill, tenant storage.Tenant) error {
	if bill.Status == storage.BillPaid {
		return fmt.Errorf("bill %s is already paid", bill.ID)
	}
	if tenant.Email == "" {
		return fmt.Errorf("tenant %s has no email address", tenant.ID)
	}
	unitNumber := bill.UnitID
	if u, err := s.storage.GetUnit(ctx, bill.UnitID); err == nil && u != nil {
		unitNumber = u.UnitNumber
	}
	msg, err := ReminderMessage(bill, tenant, unitNumber)
	if err != nil {
		return err
	}
	if err := s.SendEmail(ctx, msg); err != nil {
		metrics.RemindersSentTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.RemindersSentTotal.WithLabelValues("sent").Inc()
	s.log.Info("bill reminder sent", zap.String("bill", bill.ID), zap.String("tenant", tenant.ID))
	return nil
}

// ReminderResult reports a bulk reminder run.
type ReminderResult struct {
	Sent     int               `json:"sent"`
	Failures map[string]string `json:"failures,omitempty"`
}

// SendReminders emails every unpaid bill matching the filter.
func (s *Service) SendReminders(ctx context.Context, f storage.BillFilter) (*ReminderResult, error) {
	bills, err := s.storage.ListBills(ctx, f)
	if err != nil {
		return nil, err
	}
	res := &ReminderResult{Failures: map[string]string{}}
	for _, b := range bills {
		if b.Status == storage.BillPaid {
			continue
		}
		t, err := s.storage.GetTenant(ctx, b.TenantID)
		if err != nil || t == nil {
			res.Failures[b.ID] = fmt.Sprintf("tenant %s not found", b.TenantID)
			continue
		}
		if err := s.SendBillReminder(ctx, b, *t); err != nil {
			if errors.Is(err, ErrNotConfigured) {
				return res, err
			}
			res.Failures[b.ID] = err.Error()
			continue
		}
		res.Sent++
	}
	return res, nil
}

func buildMIME(cfg *storage.EmailConfig, msg Message) []byte {
	return []byte(fmt.Sprintf("From: %s <%s>\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/html; charset=\"UTF-8\"\r\n"+
		"\r\n"+
		"%s\r\n", cfg.FromName, cfg.FromAddress, msg.To, msg.Subject, msg.HTML))
}

func sendSMTP(ctx context.Context, cfg *storage.EmailConfig, msg Message) error {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	body := buildMIME(cfg, msg)

	if cfg.Encryption == "none" {
		var auth smtp.Auth
		if cfg.Username != "" {
			auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		}
		return smtp.SendMail(addr, auth, cfg.FromAddress, []string{msg.To}, body)
	}

	var c *smtp.Client
	if cfg.Encryption == "ssl" {
		conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: cfg.Host})
		if err != nil {
			return err
		}
		c, err = smtp.NewClient(conn, cfg.Host)
		if err != nil {
			conn.Close()
			return err
		}
	} else {
		var err error
		c, err = smtp.Dial(addr)
		if err != nil {
			return err
		}
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
				c.Close()
				return err
			}
		}
	}
	defer c.Quit()

	if cfg.Username != "" && cfg.Password != "" {
		if err := c.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
			return err
		}
	}
	if err := c.Mail(cfg.FromAddress); err != nil {
		return err
	}
	if err := c.Rcpt(msg.To); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	return w.Close()
}

func sendSendgrid(ctx context.Context, cfg *storage.EmailConfig, msg Message) error {
	from := mail.NewEmail(cfg.FromName, cfg.FromAddress)
	to := mail.NewEmail("", msg.To)
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Subject, msg.HTML)
	resp, err := sendgrid.NewSendClient(cfg.APIKey).SendWithContext(ctx, message)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: %d %s", resp.StatusCode, resp.Body)
	}
	return nil
}

var resendURL = "https://api.resend.com/emails"

func sendResend(ctx context.Context, cfg *storage.EmailConfig, msg Message) error {
	payload, err := json.Marshal(map[string]string{
		"from":    fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromAddress),
		"to":      msg.To,
		"subject": msg.Subject,
		"html":    msg.HTML,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, resendURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("resend error: %d %s", resp.StatusCode, string(b))
	}
	return nil
}
