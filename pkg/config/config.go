package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config carries everything the agent needs for one process lifetime.
// It is rebuilt from the environment on every boot and never written to
// the local snapshot; the snapshot holds dynamic kiosk data only.
type Config struct {
	Env  string
	Port int

	Device     DeviceConfig
	Kiosk      KioskConfig
	Backend    BackendConfig
	Sync       SyncConfig
	Withdrawal WithdrawalConfig
	Store      StoreConfig
	CORS       CORSConfig
	Log        LogConfig
}

// DeviceConfig identifies this kiosk to the backend. Device and gate ids
// are stamped onto every queued event at creation time.
type DeviceConfig struct {
	DeviceID string
	GateID   string
	Online   bool
}

// KioskConfig holds deployment settings surfaced to the UI shell.
type KioskConfig struct {
	PhotoEnabled bool
	SchoolName   string
}

// BackendConfig points the sync client at the school backend.
type BackendConfig struct {
	BaseURL     string
	TokenSecret string
	TokenTTL    time.Duration
	Timeout     time.Duration
}

// SyncConfig is the retry policy for the event drain loop, injected as
// configuration rather than hard-coded in the queue.
type SyncConfig struct {
	Interval          time.Duration
	MaxEventRetries   int
	MaxPhotoRetries   int
	PressureThreshold int
}

// WithdrawalConfig configures the supervised pickup flow.
type WithdrawalConfig struct {
	OverridePINHash string
}

// StoreConfig locates the persisted snapshot file.
type StoreConfig struct {
	Path string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
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
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")

	cfg.Device = DeviceConfig{
		DeviceID: v.GetString("DEVICE_ID"),
		GateID:   v.GetString("GATE_ID"),
		Online:   v.GetBool("DEVICE_ONLINE"),
	}

	cfg.Kiosk = KioskConfig{
		PhotoEnabled: v.GetBool("KIOSK_PHOTO_ENABLED"),
		SchoolName:   v.GetString("KIOSK_SCHOOL_NAME"),
	}

	cfg.Backend = BackendConfig{
		BaseURL:     v.GetString("BACKEND_BASE_URL"),
		TokenSecret: v.GetString("BACKEND_TOKEN_SECRET"),
		TokenTTL:    parseDuration(v.GetString("BACKEND_TOKEN_TTL"), time.Hour),
		Timeout:     parseDuration(v.GetString("BACKEND_TIMEOUT"), 30*time.Second),
	}

	cfg.Sync = SyncConfig{
		Interval:          parseDuration(v.GetString("SYNC_INTERVAL"), time.Minute),
		MaxEventRetries:   v.GetInt("SYNC_MAX_EVENT_RETRIES"),
		MaxPhotoRetries:   v.GetInt("SYNC_MAX_PHOTO_RETRIES"),
		PressureThreshold: v.GetInt("SYNC_QUEUE_PRESSURE_THRESHOLD"),
	}

	cfg.Withdrawal = WithdrawalConfig{
		OverridePINHash: v.GetString("WITHDRAWAL_OVERRIDE_PIN_HASH"),
	}

	cfg.Store = StoreConfig{
		Path: v.GetString("STORE_PATH"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 7070)

	v.SetDefault("DEVICE_ID", "kiosk-dev")
	v.SetDefault("GATE_ID", "gate-1")
	v.SetDefault("DEVICE_ONLINE", true)

	v.SetDefault("KIOSK_PHOTO_ENABLED", true)
	v.SetDefault("KIOSK_SCHOOL_NAME", "")

	v.SetDefault("BACKEND_BASE_URL", "http://localhost:8080/api/v1")
	v.SetDefault("BACKEND_TOKEN_SECRET", "dev_secret")
	v.SetDefault("BACKEND_TOKEN_TTL", "1h")
	v.SetDefault("BACKEND_TIMEOUT", "30s")

	v.SetDefault("SYNC_INTERVAL", "1m")
	v.SetDefault("SYNC_MAX_EVENT_RETRIES", 10)
	v.SetDefault("SYNC_MAX_PHOTO_RETRIES", 5)
	v.SetDefault("SYNC_QUEUE_PRESSURE_THRESHOLD", 500)

	v.SetDefault("WITHDRAWAL_OVERRIDE_PIN_HASH", "")

	v.SetDefault("STORE_PATH", "./data/kiosk-snapshot.json")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
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
