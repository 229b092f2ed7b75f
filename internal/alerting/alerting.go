package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bher20/rentledger/internal/config"
)

// Alerter posts batch failure summaries to a chat or generic webhook.
type Alerter struct {
	url         string
	kind        string
	minFailures int
	client      *http.Client
	log         *zap.Logger
}

// NewAlerter builds an alerter from config. An empty webhook URL disables it.
func NewAlerter(cfg config.AlertConfig, log *zap.Logger) *Alerter {
	if log == nil {
		log = zap.NewNop()
	}
	kind := cfg.WebhookType
	if kind == "" {
		switch {
		case strings.Contains(cfg.WebhookURL, "slack.com"):
			kind = "slack"
		case strings.Contains(cfg.WebhookURL, "discord.com"):
			kind = "discord"
		default:
			kind = "generic"
		}
	}
	threshold := cfg.MinFailures
	if threshold < 1 {
		threshold = 1
	}
	return &Alerter{
		url:         cfg.WebhookURL,
		kind:        kind,
		minFailures: threshold,
		client:      &http.Client{Timeout: 10 * time.Second},
		log:         log,
	}
}

func (a *Alerter) Enabled() bool { return a != nil && a.url != "" }

// BatchAlert summarises one run of a job over many items (tenants, leases, bills).
type BatchAlert struct {
	JobName      string
	TotalCount   int
	SuccessCount int
	FailedCount  int
	Duration     time.Duration
	Failures     []Failure
	Timestamp    time.Time
}

// Failure is one item that failed in a batch.
type Failure struct {
	Item  string `json:"item"`
	Error string `json:"error"`
}

// SendBatchAlert posts the alert when enough items failed.
func (a *Alerter) SendBatchAlert(ctx context.Context, alert BatchAlert) error {
	if !a.Enabled() {
		return nil
	}
	if alert.FailedCount < a.minFailures {
		a.log.Debug("alert below threshold",
			zap.String("job", alert.JobName), zap.Int("failed", alert.FailedCount), zap.Int("threshold", a.minFailures))
		return nil
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	var payload []byte
	var err error
	switch a.kind {
	case "slack":
		payload, err = slackPayload(alert)
	case "discord":
		payload, err = discordPayload(alert)
	default:
		payload, err = genericPayload(alert)
	}
	if err != nil {
		return fmt.Errorf("build payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	a.log.Info("alert sent", zap.String("job", alert.JobName), zap.Int("failed", alert.FailedCount))
	return nil
}

func failureList(alert BatchAlert, bold string) string {
	var b strings.Builder
	for _, f := range alert.Failures {
		fmt.Fprintf(&b, "• %s%s%s: %s\n", bold, f.Item, bold, f.Error)
	}
	return b.String()
}

func slackPayload(alert BatchAlert) ([]byte, error) {
	emoji := ":warning:"
	if alert.FailedCount == alert.TotalCount {
		emoji = ":x:"
	}
	return json.Marshal(map[string]any{
		"blocks": []map[string]any{
			{
				"type": "header",
				"text": map[string]string{
					"type": "plain_text",
					"text": fmt.Sprintf("%s Job Alert: %s", emoji, alert.JobName),
				},
			},
			{
				"type": "section",
				"fields": []map[string]string{
					{"type": "mrkdwn", "text": fmt.Sprintf("*Status:*\n%d/%d failed", alert.FailedCount, alert.TotalCount)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Duration:*\n%s", alert.Duration.Round(time.Millisecond))},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Success:*\n%d", alert.SuccessCount)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Timestamp:*\n%s", alert.Timestamp.Format(time.RFC3339))},
				},
			},
			{
				"type": "section",
				"text": map[string]string{
					"type": "mrkdwn",
					"text": "*Failures:*\n" + failureList(alert, "*"),
				},
			},
		},
	})
}

func discordPayload(alert BatchAlert) ([]byte, error) {
	color := 16776960 // yellow
	if alert.FailedCount == alert.TotalCount {
		color = 16711680 // red
	}
	return json.Marshal(map[string]any{
		"embeds": []map[string]any{
			{
				"title":       "Job Alert: " + alert.JobName,
				"description": fmt.Sprintf("%d/%d items failed", alert.FailedCount, alert.TotalCount),
				"color":       color,
				"fields": []map[string]any{
					{"name": "Success", "value": fmt.Sprintf("%d", alert.SuccessCount), "inline": true},
					{"name": "Failed", "value": fmt.Sprintf("%d", alert.FailedCount), "inline": true},
					{"name": "Duration", "value": alert.Duration.Round(time.Millisecond).String(), "inline": true},
					{"name": "Failures", "value": failureList(alert, "**"), "inline": false},
				},
				"timestamp": alert.Timestamp.Format(time.RFC3339),
			},
		},
	})
}

func genericPayload(alert BatchAlert) ([]byte, error) {
	return json.Marshal(map[string]any{
		"alert_type":    "batch_job_failure",
		"job_name":      alert.JobName,
		"total_count":   alert.TotalCount,
		"success_count": alert.SuccessCount,
		"failed_count":  alert.FailedCount,
		"duration_ms":   alert.Duration.Milliseconds(),
		"timestamp":     alert.Timestamp.Format(time.RFC3339),
		"failures":      alert.Failures,
	})
}
