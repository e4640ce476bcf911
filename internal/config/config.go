package config

import (
	"fmt"
	"os"
	"strconv"
)

// Instance kinds for handler-lease arbitration. An installed agent is the
// device's resident app shell; a browser agent is a transient tab instance.
const (
	InstanceInstalled = "installed"
	InstanceBrowser   = "browser"
)

// Host modes. Embedded means the agent runs inside an app-shell wrapper with
// unreliable permission queries; standalone talks to the host bridge directly.
const (
	HostEmbedded   = "embedded"
	HostStandalone = "standalone"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Instance identity
	InstanceKind string // installed | browser
	HostMode     string // embedded | standalone

	// Database (firing-record audit)
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (shared durable store: history, lease, counters)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Background delivery queue (SQS)
	QueueRegion string
	QueueURL    string

	// Host bridge (direct foreground delivery)
	BridgeURL     string
	BridgeTimeout int // seconds

	// Quiet hours window, local hours [start, 24) ∪ [0, end)
	QuietHoursStart int
	QuietHoursEnd   int
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		InstanceKind: InstanceInstalled,
		HostMode:     HostStandalone,

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "pulse",
		DBPassword: "",
		DBName:     "pulse",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		QueueRegion: "us-east-1",

		BridgeURL:     "http://localhost:9123",
		BridgeTimeout: 10,

		QuietHoursStart: 22,
		QuietHoursEnd:   9,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if kind := os.Getenv("INSTANCE_KIND"); kind != "" {
		if kind != InstanceInstalled && kind != InstanceBrowser {
			return nil, fmt.Errorf("invalid INSTANCE_KIND: %q (want installed or browser)", kind)
		}
		cfg.InstanceKind = kind
	}

	if mode := os.Getenv("HOST_MODE"); mode != "" {
		if mode != HostEmbedded && mode != HostStandalone {
			return nil, fmt.Errorf("invalid HOST_MODE: %q (want embedded or standalone)", mode)
		}
		cfg.HostMode = mode
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// Queue config
	if region := os.Getenv("QUEUE_REGION"); region != "" {
		cfg.QueueRegion = region
	}

	if url := os.Getenv("QUEUE_URL"); url != "" {
		cfg.QueueURL = url
	}

	// Bridge config
	if url := os.Getenv("BRIDGE_URL"); url != "" {
		cfg.BridgeURL = url
	}

	if timeout := os.Getenv("BRIDGE_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid BRIDGE_TIMEOUT: %w", err)
		}
		cfg.BridgeTimeout = t
	}

	// Quiet hours
	if start := os.Getenv("QUIET_HOURS_START"); start != "" {
		h, err := strconv.Atoi(start)
		if err != nil || h < 0 || h > 23 {
			return nil, fmt.Errorf("invalid QUIET_HOURS_START: %q", start)
		}
		cfg.QuietHoursStart = h
	}

	if end := os.Getenv("QUIET_HOURS_END"); end != "" {
		h, err := strconv.Atoi(end)
		if err != nil || h < 0 || h > 23 {
			return nil, fmt.Errorf("invalid QUIET_HOURS_END: %q", end)
		}
		cfg.QuietHoursEnd = h
	}

	return cfg, nil
}
