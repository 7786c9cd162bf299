package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verifymyprovider/vmp/internal/config"
	"github.com/verifymyprovider/vmp/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertStaleAcceptances AlertType = "stale_acceptances"
	AlertPendingReviews   AlertType = "pending_reviews"
	AlertLowConfidence    AlertType = "low_confidence"
	AlertJobFailures      AlertType = "job_failures"
)

// minSample is the smallest acceptance count the ratio alerts fire on.
const minSample = 20

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds and
// posts breaches to a webhook. An alert type that was delivered within the
// cooldown is not sent again.
type Alerter struct {
	cfg     config.MonitoringConfig
	client  *http.Client
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	now     func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("webhook", "send_alert")

	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	breakerCfg.ResetTimeout = 5 * time.Minute
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("monitoring: webhook circuit changed",
			zap.Stringer("from", from), zap.Stringer("to", to))
	}

	return &Alerter{
		cfg:      cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		retry:    retry,
		breaker:  resilience.NewCircuitBreaker(breakerCfg),
		now:      time.Now,
		lastSent: make(map[AlertType]time.Time),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	if snap.Acceptances >= minSample && a.cfg.StaleRatioThreshold > 0 && snap.StaleRatio > a.cfg.StaleRatioThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertStaleAcceptances,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%.1f%% of plan acceptances are stale, above the %.1f%% threshold (%d of %d)",
				snap.StaleRatio*100, a.cfg.StaleRatioThreshold*100,
				snap.StaleAcceptances, snap.Acceptances,
			),
			Details: map[string]any{
				"stale_ratio":  snap.StaleRatio,
				"threshold":    a.cfg.StaleRatioThreshold,
				"stale":        snap.StaleAcceptances,
				"acceptances":  snap.Acceptances,
				"by_freshness": snap.ByFreshness,
			},
			Timestamp: now,
		})
	}

	if a.cfg.PendingReviewThreshold > 0 && snap.PendingVerifications >= a.cfg.PendingReviewThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertPendingReviews,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d verifications are waiting for review (threshold %d)",
				snap.PendingVerifications, a.cfg.PendingReviewThreshold,
			),
			Details: map[string]any{
				"pending":   snap.PendingVerifications,
				"threshold": a.cfg.PendingReviewThreshold,
			},
			Timestamp: now,
		})
	}

	if snap.Acceptances >= minSample && a.cfg.LowConfidenceThreshold > 0 && snap.LowConfidenceRatio > a.cfg.LowConfidenceThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertLowConfidence,
			Severity: "low",
			Message: fmt.Sprintf(
				"%.1f%% of plan acceptances score below MEDIUM confidence, above the %.1f%% threshold",
				snap.LowConfidenceRatio*100, a.cfg.LowConfidenceThreshold*100,
			),
			Details: map[string]any{
				"low_confidence_ratio": snap.LowConfidenceRatio,
				"threshold":            a.cfg.LowConfidenceThreshold,
				"low_confidence":       snap.LowConfidence,
				"acceptances":          snap.Acceptances,
			},
			Timestamp: now,
		})
	}

	if a.cfg.JobFailureThreshold > 0 && snap.JobRunsFailed >= a.cfg.JobFailureThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertJobFailures,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d job run(s) failed in last %dh",
				snap.JobRunsFailed, snap.LookbackHours,
			),
			Details: map[string]any{
				"failed_count": snap.JobRunsFailed,
				"total_runs":   snap.JobRunsTotal,
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
		if a.coolingDown(alert.Type) {
			zap.L().Debug("monitoring: alert suppressed by cooldown",
				zap.String("type", string(alert.Type)),
			)
			continue
		}
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.breaker.Execute(ctx, func(ctx context.Context) error {
				return a.sendWebhook(ctx, alert)
			})
		})
		if err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		a.markSent(alert.Type)
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) coolingDown(t AlertType) bool {
	if a.cfg.AlertCooldownMinutes <= 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	last, ok := a.lastSent[t]
	return ok && a.now().Sub(last) < time.Duration(a.cfg.AlertCooldownMinutes)*time.Minute
}

func (a *Alerter) markSent(t AlertType) {
	a.mu.Lock()
	a.lastSent[t] = a.now()
	a.mu.Unlock()
}

// sendWebhook posts a single alert to the webhook URL. Non-2xx responses
// come back as a WebhookError.
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

	if resp.StatusCode >= 300 {
		return eris.Wrap(&resilience.WebhookError{StatusCode: resp.StatusCode}, "monitoring: send alert")
	}
	return nil
}
