package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the node configuration, loaded from environment variables with
// sensible bench defaults. Build/flash configuration stays outside the
// pipeline; everything here is runtime tuning.
type Config struct {
	Log struct {
		Level  string
		Format string
	}

	Store struct {
		Path string
	}

	Ring struct {
		SampleCapacity int
	}

	// Window holds the consolidation and step-detector tuning. The detector
	// constants depend on the sensor and wrist placement, so they are
	// deployment configuration, not code.
	Window struct {
		Size               int
		SmoothingAlpha     float64
		SensitivityMargin  float64
		AutoMarginRatio    float64
		DebounceSamples    int
		StreakConfirm      int
		StreakResetSamples int
	}

	Pipeline struct {
		Interval time.Duration
		MaxPass  int
	}

	// Sampler is the synthetic sample source, used when the sensor
	// subsystem link is disabled.
	Sampler struct {
		Enabled  bool
		Interval time.Duration
		StepHz   float64
	}

	// Ingest is the sensor subsystem link (raw acquisition pages over MQTT).
	Ingest struct {
		Enabled         bool
		Broker          string
		Port            int
		Username        string
		Password        string
		UseTLS          bool
		InsecureSkipTLS bool
		ClientID        string
		PageTopic       string
	}

	// Transfer is the companion channel.
	Transfer struct {
		Mode            string // "mqtt" or "websocket"
		Broker          string
		Port            int
		Username        string
		Password        string
		UseTLS          bool
		InsecureSkipTLS bool
		ClientID        string
		DataTopic       string
		ControlTopic    string
		NotifyTimeout   time.Duration
		MaxPayload      int
		PaceBase        time.Duration
		PaceStep        time.Duration
		PaceEvery       int
		PaceMax         time.Duration
		WSAddr          string
		WSWriteTimeout  time.Duration
	}
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.Store.Path = getEnv("STORE_PATH", "data/consolidated.dat")

	cfg.Ring.SampleCapacity = getEnvInt("RING_CAPACITY", 256)

	cfg.Window.Size = getEnvInt("WINDOW_SIZE", 125)
	cfg.Window.SmoothingAlpha = getEnvFloat("STEP_SMOOTHING_ALPHA", 0.1)
	cfg.Window.SensitivityMargin = getEnvFloat("STEP_SENSITIVITY_MARGIN", 0)
	cfg.Window.AutoMarginRatio = getEnvFloat("STEP_AUTO_MARGIN_RATIO", 0.12)
	cfg.Window.DebounceSamples = getEnvInt("STEP_DEBOUNCE_SAMPLES", 8)
	cfg.Window.StreakConfirm = getEnvInt("STEP_STREAK_CONFIRM", 3)
	cfg.Window.StreakResetSamples = getEnvInt("STEP_STREAK_RESET_SAMPLES", 50)

	cfg.Pipeline.Interval = getEnvDuration("PIPELINE_INTERVAL", 500*time.Millisecond)
	cfg.Pipeline.MaxPass = getEnvInt("PIPELINE_MAX_PASS", 4)

	cfg.Sampler.Enabled = getEnvBool("SAMPLER_ENABLED", true)
	cfg.Sampler.Interval = getEnvDuration("SAMPLER_INTERVAL", 40*time.Millisecond)
	cfg.Sampler.StepHz = getEnvFloat("SAMPLER_STEP_HZ", 1.8)

	cfg.Ingest.Enabled = getEnvBool("INGEST_ENABLED", false)
	cfg.Ingest.Broker = getEnv("INGEST_BROKER", "localhost")
	cfg.Ingest.Port = getEnvInt("INGEST_PORT", 1883)
	cfg.Ingest.Username = getEnv("INGEST_USERNAME", "")
	cfg.Ingest.Password = getEnv("INGEST_PASSWORD", "")
	cfg.Ingest.UseTLS = getEnvBool("INGEST_TLS", false)
	cfg.Ingest.InsecureSkipTLS = getEnvBool("INGEST_TLS_INSECURE", false)
	cfg.Ingest.ClientID = getEnv("INGEST_CLIENT_ID", "wristnode-ingest")
	cfg.Ingest.PageTopic = getEnv("INGEST_PAGE_TOPIC", "wristnode/+/pages")

	cfg.Transfer.Mode = getEnv("TRANSFER_MODE", "websocket")
	cfg.Transfer.Broker = getEnv("TRANSFER_BROKER", "localhost")
	cfg.Transfer.Port = getEnvInt("TRANSFER_PORT", 1883)
	cfg.Transfer.Username = getEnv("TRANSFER_USERNAME", "")
	cfg.Transfer.Password = getEnv("TRANSFER_PASSWORD", "")
	cfg.Transfer.UseTLS = getEnvBool("TRANSFER_TLS", false)
	cfg.Transfer.InsecureSkipTLS = getEnvBool("TRANSFER_TLS_INSECURE", false)
	cfg.Transfer.ClientID = getEnv("TRANSFER_CLIENT_ID", "wristnode-transfer")
	cfg.Transfer.DataTopic = getEnv("TRANSFER_DATA_TOPIC", "wristnode/dev01/data")
	cfg.Transfer.ControlTopic = getEnv("TRANSFER_CONTROL_TOPIC", "wristnode/dev01/control")
	cfg.Transfer.NotifyTimeout = getEnvDuration("TRANSFER_NOTIFY_TIMEOUT", 2*time.Second)
	cfg.Transfer.MaxPayload = getEnvInt("TRANSFER_MAX_PAYLOAD", 200)
	cfg.Transfer.PaceBase = getEnvDuration("TRANSFER_PACE_BASE", 10*time.Millisecond)
	cfg.Transfer.PaceStep = getEnvDuration("TRANSFER_PACE_STEP", 10*time.Millisecond)
	cfg.Transfer.PaceEvery = getEnvInt("TRANSFER_PACE_EVERY", 50)
	cfg.Transfer.PaceMax = getEnvDuration("TRANSFER_PACE_MAX", 60*time.Millisecond)
	cfg.Transfer.WSAddr = getEnv("TRANSFER_WS_ADDR", ":8720")
	cfg.Transfer.WSWriteTimeout = getEnvDuration("TRANSFER_WS_WRITE_TIMEOUT", 2*time.Second)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Window.Size <= 2 {
		return fmt.Errorf("WINDOW_SIZE must be at least 3, got %d", c.Window.Size)
	}
	if c.Ring.SampleCapacity < c.Window.Size {
		return fmt.Errorf("RING_CAPACITY (%d) must hold at least one window (%d)",
			c.Ring.SampleCapacity, c.Window.Size)
	}
	switch c.Transfer.Mode {
	case "mqtt", "websocket", "none":
	default:
		return fmt.Errorf("TRANSFER_MODE must be mqtt, websocket or none, got %q", c.Transfer.Mode)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
