package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/verifymyprovider/vmp/internal/freshness"
	"github.com/verifymyprovider/vmp/internal/monitoring"
)

func TestFormatSnapshot(t *testing.T) {
	snap := &monitoring.MetricsSnapshot{
		Acceptances: 40,
		ByFreshness: map[freshness.Level]int{
			freshness.LevelFresh:   10,
			freshness.LevelWarning: 5,
			freshness.LevelStale:   25,
		},
		StaleRatio:           0.625,
		LowConfidenceRatio:   0.25,
		PendingVerifications: 3,
		JobRunsTotal:         4,
		JobRunsFailed:        1,
		LookbackHours:        24,
	}
	alerts := []monitoring.Alert{{
		Type:     monitoring.AlertStaleAcceptances,
		Severity: "medium",
		Message:  "62.5% of plan acceptances are stale",
	}}

	var buf bytes.Buffer
	formatSnapshot(&buf, snap, alerts)

	output := buf.String()
	assert.Contains(t, output, "Acceptances:")
	assert.Contains(t, output, "STALE:")
	assert.Contains(t, output, "62.5%")
	assert.Contains(t, output, "25.0%")
	assert.Contains(t, output, "4 total, 1 failed")
	assert.Contains(t, output, "[medium] stale_acceptances:")
	assert.NotContains(t, output, "No alerts.")
}

func TestFormatSnapshot_NoAlerts(t *testing.T) {
	var buf bytes.Buffer
	formatSnapshot(&buf, &monitoring.MetricsSnapshot{ByFreshness: map[freshness.Level]int{}}, nil)
	assert.Contains(t, buf.String(), "No alerts.")
	assert.Contains(t, buf.String(), "FRESH:")
}
