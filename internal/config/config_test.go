package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 300, cfg.Server.CacheTTLSecs)
	assert.Equal(t, 10, cfg.Server.VerifyPerHour)
	assert.Equal(t, 30, cfg.Server.SybilWindowDays)
	assert.Empty(t, cfg.Server.TrustedProxies)
	assert.Equal(t, 180, cfg.Confidence.RecencyMaxAgeDays)
	assert.Equal(t, 5, cfg.Confidence.VerificationCap)
	assert.InDelta(t, 5.0, cfg.Confidence.VerificationStep, 0.001)
	assert.InDelta(t, 25.0, cfg.Confidence.SourceScores["cms_data"], 0.001)
	assert.InDelta(t, 15.0, cfg.Confidence.SourceScores["crowdsource"], 0.001)
	assert.Equal(t, 30, cfg.Freshness.MentalHealthDays)
	assert.Equal(t, 60, cfg.Freshness.PrimaryCareDays)
	assert.Equal(t, 60, cfg.Freshness.SpecialistDays)
	assert.Equal(t, 90, cfg.Freshness.HospitalBasedDays)
	assert.Equal(t, 60, cfg.Freshness.OtherDays)
	assert.Equal(t, 500, cfg.Maintenance.BatchSize)
	assert.Equal(t, 2, cfg.Maintenance.EnrichMinMembers)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
  format: console
server:
  port: 9090
  trusted_proxies: ["10.0.0.0/8", "127.0.0.1"]
freshness:
  mental_health_days: 21
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.Server.TrustedProxies)
	assert.Equal(t, 21, cfg.Freshness.MentalHealthDays)
	// Defaults still apply for unset values
	assert.Equal(t, 90, cfg.Freshness.HospitalBasedDays)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("VMP_STORE_DRIVER", "postgres")
	t.Setenv("VMP_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("VMP_SERVER_PORT", "3000")
	t.Setenv("VMP_MAINTENANCE_BATCH_SIZE", "50")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Maintenance.BatchSize)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		scope   string
		wantErr string
	}{
		{"directory ok", Config{Directory: DirectoryConfig{DatabaseURL: "postgres://x"}}, "directory", ""},
		{"directory missing", Config{}, "directory", "directory.database_url"},
		{"serve missing salt", Config{Directory: DirectoryConfig{DatabaseURL: "postgres://x"}}, "serve", "server.hash_salt"},
		{"serve ok", Config{
			Directory: DirectoryConfig{DatabaseURL: "postgres://x"},
			Server:    ServerConfig{HashSalt: "pepper"},
		}, "serve", ""},
		{"store sqlite needs nothing", Config{Store: StoreConfig{Driver: "sqlite"}}, "store", ""},
		{"store postgres falls back to directory", Config{
			Store:     StoreConfig{Driver: "postgres"},
			Directory: DirectoryConfig{DatabaseURL: "postgres://x"},
		}, "store", ""},
		{"store postgres missing", Config{Store: StoreConfig{Driver: "postgres"}}, "store", "store.database_url"},
		{"monitoring missing webhook", Config{}, "monitoring", "monitoring.webhook_url"},
		{"unknown scope", Config{}, "bogus", "unknown validation scope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate(tt.scope)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApplyPolicyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	policy := `
confidence:
  source_scores:
    phone_call: 18
  recency_max_age_days: 120
freshness:
  mental_health_days: 14
`
	require.NoError(t, os.WriteFile(path, []byte(policy), 0644))

	cfg := &Config{
		Confidence: ConfidenceConfig{
			SourceScores:      DefaultSourceScores(),
			RecencyMaxAgeDays: 180,
			VerificationCap:   5,
		},
		Freshness: FreshnessConfig{MentalHealthDays: 30, PrimaryCareDays: 60},
	}
	require.NoError(t, ApplyPolicyFile(cfg, path))

	assert.InDelta(t, 18.0, cfg.Confidence.SourceScores["phone_call"], 0.001)
	assert.InDelta(t, 25.0, cfg.Confidence.SourceScores["cms_data"], 0.001)
	assert.Equal(t, 120, cfg.Confidence.RecencyMaxAgeDays)
	assert.Equal(t, 5, cfg.Confidence.VerificationCap)
	assert.Equal(t, 14, cfg.Freshness.MentalHealthDays)
	assert.Equal(t, 60, cfg.Freshness.PrimaryCareDays)
}

func TestApplyPolicyFile_EmptyPath(t *testing.T) {
	cfg := &Config{}
	assert.NoError(t, ApplyPolicyFile(cfg, ""))
}

func TestApplyPolicyFile_Missing(t *testing.T) {
	err := ApplyPolicyFile(&Config{}, filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read policy")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
}

func TestInitLoggerBadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "loud", Format: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}
