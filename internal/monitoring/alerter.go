package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/reconcile-cli/internal/config"
	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertLowConfidence  AlertType = "low_avg_confidence"
	AlertReviewBacklog  AlertType = "urgent_review_backlog"
	AlertQualityEroding AlertType = "quality_eroding"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 250 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
		},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Average confidence across the fleet has sunk below the floor.
	if snap.ResolvedTotal >= 5 && snap.AvgConfidence < a.cfg.MinAvgConfidence {
		alerts = append(alerts, Alert{
			Type:     AlertLowConfidence,
			Severity: "high",
			Message: fmt.Sprintf(
				"Average confidence %.3f below floor %.3f across %d resolved metrics",
				snap.AvgConfidence, a.cfg.MinAvgConfidence, snap.ResolvedTotal,
			),
			Details: map[string]any{
				"avg_confidence": snap.AvgConfidence,
				"floor":          a.cfg.MinAvgConfidence,
				"resolved_total": snap.ResolvedTotal,
			},
			Timestamp: now,
		})
	}

	// The urgent review queue is backing up.
	urgent := snap.PendingReviews[model.PriorityUrgent]
	if a.cfg.MaxUrgentReviews > 0 && urgent > a.cfg.MaxUrgentReviews {
		alerts = append(alerts, Alert{
			Type:     AlertReviewBacklog,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d urgent review tasks pending, above limit %d",
				urgent, a.cfg.MaxUrgentReviews,
			),
			Details: map[string]any{
				"urgent_pending": urgent,
				"limit":          a.cfg.MaxUrgentReviews,
				"total_pending":  snap.PendingTotal,
			},
			Timestamp: now,
		})
	}

	// Too many units graded D.
	if snap.ResolvedTotal >= 5 && a.cfg.MaxDGradeShare > 0 && snap.DGradeShare > a.cfg.MaxDGradeShare {
		alerts = append(alerts, Alert{
			Type:     AlertQualityEroding,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%.1f%% of resolved metrics graded D, above limit %.1f%%",
				snap.DGradeShare*100, a.cfg.MaxDGradeShare*100,
			),
			Details: map[string]any{
				"d_grade_share":  snap.DGradeShare,
				"limit":          a.cfg.MaxDGradeShare,
				"resolved_total": snap.ResolvedTotal,
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
		if err := a.sendWebhook(ctx, alert); err != nil {
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

// sendWebhook posts a single alert to the webhook URL, retrying transient
// failures (network errors, 5xx, 429) with exponential backoff.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	return resilience.Do(ctx, a.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "monitoring: create webhook request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return resilience.NewTransientError(eris.Wrap(err, "monitoring: webhook request"), 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode >= 400 {
			statusErr := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(statusErr, resp.StatusCode)
			}
			return statusErr
		}
		return nil
	})
}
