package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Cache.InvoiceTTL)
	assert.Equal(t, 12, cfg.Enrollment.RegularMinUnits)
	assert.Equal(t, 9, cfg.Enrollment.SummerMaxUnits)
	assert.True(t, decimal.NewFromInt(500).Equal(cfg.Tuition.PerUnitRate))
	assert.Equal(t, 4, cfg.Tuition.InstallmentCount)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ENABLE_CACHE", "false")
	t.Setenv("INVOICE_CACHE_TTL", "90s")
	t.Setenv("TUITION_PER_UNIT_RATE", "612.50")
	t.Setenv("TUITION_INSTALLMENT_COUNT", "3")
	t.Setenv("ALLOWED_ORIGINS", "https://portal.example.edu, ,https://admin.example.edu")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 90*time.Second, cfg.Cache.InvoiceTTL)
	assert.True(t, decimal.RequireFromString("612.50").Equal(cfg.Tuition.PerUnitRate))
	assert.Equal(t, 3, cfg.Tuition.InstallmentCount)
	assert.Equal(t, []string{"https://portal.example.edu", "https://admin.example.edu"}, cfg.CORS.AllowedOrigins)
}

func TestParseFallbacks(t *testing.T) {
	fallback := decimal.NewFromInt(5)
	assert.True(t, fallback.Equal(parseDecimal("", fallback)))
	assert.True(t, fallback.Equal(parseDecimal("five", fallback)))
	assert.True(t, fallback.Equal(parseDecimal("-1", fallback)))
	assert.True(t, decimal.RequireFromString("7.5").Equal(parseDecimal(" 7.5 ", fallback)))

	assert.Equal(t, time.Minute, parseDuration("soon", time.Minute))
	assert.Equal(t, 2*time.Hour, parseDuration("2h", time.Minute))
}
