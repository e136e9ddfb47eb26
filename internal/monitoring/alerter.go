package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/report-tracker/internal/config"
	"github.com/sells-group/report-tracker/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate   AlertType = "ingest_failure_rate"
	AlertStorageErrors AlertType = "storage_errors"
	AlertStaleReports  AlertType = "stale_reports"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// maxListedKeys caps how many stale keys an alert message names.
const maxListedKeys = 10

// Alerter evaluates a Snapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.Policy
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	if cfg.MinAttempts <= 0 {
		cfg.MinAttempts = 5
	}
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.DefaultPolicy(),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Check failure rate.
	failed := snap.ParseErrors + snap.FetchErrors + snap.StorageErrors
	if snap.Attempts >= a.cfg.MinAttempts && snap.FailureRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Ingest failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d attempts in last %dh)",
				snap.FailureRate*100, a.cfg.FailureRateThreshold*100,
				failed, snap.Attempts, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailureRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"parse_errors": snap.ParseErrors,
				"fetch_errors": snap.FetchErrors,
				"attempts":     snap.Attempts,
			},
			Timestamp: now,
		})
	}

	// Any storage error means committed history may be lagging.
	if snap.StorageErrors > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertStorageErrors,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d storage error(s) in last %dh",
				snap.StorageErrors, snap.LookbackHours,
			),
			Details: map[string]any{
				"storage_errors": snap.StorageErrors,
				"attempts":       snap.Attempts,
			},
			Timestamp: now,
		})
	}

	// Check stale reports.
	if len(snap.Stale) > 0 {
		listed := snap.Stale
		if len(listed) > maxListedKeys {
			listed = listed[:maxListedKeys]
		}
		msg := fmt.Sprintf(
			"%d of %d report(s) had no successful ingest in last %dh: %s",
			len(snap.Stale), snap.Reports, snap.LookbackHours, strings.Join(listed, ", "),
		)
		if len(snap.Stale) > len(listed) {
			msg += fmt.Sprintf(" (+%d more)", len(snap.Stale)-len(listed))
		}
		alerts = append(alerts, Alert{
			Type:     AlertStaleReports,
			Severity: "medium",
			Message:  msg,
			Details: map[string]any{
				"stale":   len(snap.Stale),
				"reports": snap.Reports,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		policy := a.retry
		policy.OnRetry = resilience.RetryLogger("alert webhook", a.cfg.WebhookURL)
		if _, err := policy.Do(ctx, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		}); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return &resilience.StatusError{StatusCode: resp.StatusCode, URL: a.cfg.WebhookURL}
	}
	return nil
}
