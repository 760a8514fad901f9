package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Cache      CacheConfig
	Enrollment EnrollmentConfig
	Tuition    TuitionConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds the verification settings for tokens minted by the identity service.
type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CacheConfig toggles Redis caching of invoices and catalog subjects.
type CacheConfig struct {
	Enabled    bool
	InvoiceTTL time.Duration
	CatalogTTL time.Duration
}

// EnrollmentConfig bounds the unit load a student may carry per term.
type EnrollmentConfig struct {
	RegularMinUnits int
	RegularMaxUnits int
	SummerMaxUnits  int
}

// TuitionConfig is the institution-wide fee schedule.
type TuitionConfig struct {
	PerUnitRate                decimal.Decimal
	MiscFee                    decimal.Decimal
	LabFee                     decimal.Decimal
	FullPaymentDiscountPercent decimal.Decimal
	InstallmentCount           int
	FullPaymentDueDays         int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Cache = CacheConfig{
		Enabled:    v.GetBool("ENABLE_CACHE"),
		InvoiceTTL: parseDuration(v.GetString("INVOICE_CACHE_TTL"), 5*time.Minute),
		CatalogTTL: parseDuration(v.GetString("CATALOG_CACHE_TTL"), 30*time.Minute),
	}

	cfg.Enrollment = EnrollmentConfig{
		RegularMinUnits: v.GetInt("ENROLLMENT_REGULAR_MIN_UNITS"),
		RegularMaxUnits: v.GetInt("ENROLLMENT_REGULAR_MAX_UNITS"),
		SummerMaxUnits:  v.GetInt("ENROLLMENT_SUMMER_MAX_UNITS"),
	}

	cfg.Tuition = TuitionConfig{
		PerUnitRate:                parseDecimal(v.GetString("TUITION_PER_UNIT_RATE"), decimal.NewFromInt(500)),
		MiscFee:                    parseDecimal(v.GetString("TUITION_MISC_FEE"), decimal.NewFromInt(5000)),
		LabFee:                     parseDecimal(v.GetString("TUITION_LAB_FEE"), decimal.NewFromInt(1000)),
		FullPaymentDiscountPercent: parseDecimal(v.GetString("TUITION_FULL_PAYMENT_DISCOUNT_PERCENT"), decimal.NewFromInt(5)),
		InstallmentCount:           v.GetInt("TUITION_INSTALLMENT_COUNT"),
		FullPaymentDueDays:         v.GetInt("TUITION_FULL_PAYMENT_DUE_DAYS"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "enrollment_billing")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_CACHE", true)
	v.SetDefault("INVOICE_CACHE_TTL", "5m")
	v.SetDefault("CATALOG_CACHE_TTL", "30m")

	v.SetDefault("ENROLLMENT_REGULAR_MIN_UNITS", 12)
	v.SetDefault("ENROLLMENT_REGULAR_MAX_UNITS", 24)
	v.SetDefault("ENROLLMENT_SUMMER_MAX_UNITS", 9)

	v.SetDefault("TUITION_PER_UNIT_RATE", "500")
	v.SetDefault("TUITION_MISC_FEE", "5000")
	v.SetDefault("TUITION_LAB_FEE", "1000")
	v.SetDefault("TUITION_FULL_PAYMENT_DISCOUNT_PERCENT", "5")
	v.SetDefault("TUITION_INSTALLMENT_COUNT", 4)
	v.SetDefault("TUITION_FULL_PAYMENT_DUE_DAYS", 30)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func parseDecimal(raw string, fallback decimal.Decimal) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
