package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/smartqueue/reminderd/internal/db"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database (shared with the booking system's appointment tables)
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (entity cache + admin API rate limiting; optional)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Email gateway
	EmailGateway string // "ses" or "log"
	AWSRegion    string
	SESFromEmail string

	// Scanner
	ScanInterval    time.Duration
	LeadTime        time.Duration
	WindowTolerance time.Duration
	Category        db.ReminderCategory
	WorkerCount     int

	// Retention sweeper
	RetentionDays int
	SweepHourUTC  int

	// Entity cache
	EntityCacheTTL time.Duration
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "reminderd",
		DBPassword: "",
		DBName:     "smartqueue",
		DBSSLMode:  "disable",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		EmailGateway: "log",
		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@smartqueue.local",

		ScanInterval:    60 * time.Second,
		LeadTime:        15 * time.Minute,
		WindowTolerance: 1 * time.Minute,
		Category:        db.Category15Min,
		WorkerCount:     4,

		RetentionDays: 30,
		SweepHourUTC:  2,

		EntityCacheTTL: 10 * time.Minute,
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

	if rdb := os.Getenv("REDIS_DB"); rdb != "" {
		d, err := strconv.Atoi(rdb)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// Email gateway config
	if gw := os.Getenv("EMAIL_GATEWAY"); gw != "" {
		cfg.EmailGateway = gw
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	// Scanner config
	if interval := os.Getenv("SCAN_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid SCAN_INTERVAL: %w", err)
		}
		cfg.ScanInterval = d
	}

	if lead := os.Getenv("LEAD_TIME"); lead != "" {
		d, err := time.ParseDuration(lead)
		if err != nil {
			return nil, fmt.Errorf("invalid LEAD_TIME: %w", err)
		}
		cfg.LeadTime = d
	}

	if tol := os.Getenv("WINDOW_TOLERANCE"); tol != "" {
		d, err := time.ParseDuration(tol)
		if err != nil {
			return nil, fmt.Errorf("invalid WINDOW_TOLERANCE: %w", err)
		}
		cfg.WindowTolerance = d
	}

	if category := os.Getenv("REMINDER_CATEGORY"); category != "" {
		cfg.Category = db.ReminderCategory(category)
	}

	if workers := os.Getenv("WORKER_COUNT"); workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil {
			return nil, fmt.Errorf("invalid WORKER_COUNT: %w", err)
		}
		cfg.WorkerCount = n
	}

	// Retention config
	if days := os.Getenv("RETENTION_DAYS"); days != "" {
		n, err := strconv.Atoi(days)
		if err != nil {
			return nil, fmt.Errorf("invalid RETENTION_DAYS: %w", err)
		}
		cfg.RetentionDays = n
	}

	if hour := os.Getenv("SWEEP_HOUR_UTC"); hour != "" {
		n, err := strconv.Atoi(hour)
		if err != nil {
			return nil, fmt.Errorf("invalid SWEEP_HOUR_UTC: %w", err)
		}
		cfg.SweepHourUTC = n
	}

	if ttl := os.Getenv("ENTITY_CACHE_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid ENTITY_CACHE_TTL: %w", err)
		}
		cfg.EntityCacheTTL = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects window parameters that could let appointments slip
// between adjacent scan ticks, plus plainly broken values.
func (c *Config) Validate() error {
	if !c.Category.Valid() {
		return fmt.Errorf("invalid REMINDER_CATEGORY %q: must be one of 15min, 1hour, 1day", c.Category)
	}

	if c.ScanInterval <= 0 {
		return fmt.Errorf("SCAN_INTERVAL must be positive, got %s", c.ScanInterval)
	}

	if c.WindowTolerance <= 0 {
		return fmt.Errorf("WINDOW_TOLERANCE must be positive, got %s", c.WindowTolerance)
	}

	// The window is 2*tolerance wide and advances by one interval per
	// tick; anything narrower leaves gaps no scan ever covers.
	if 2*c.WindowTolerance < c.ScanInterval {
		return fmt.Errorf("WINDOW_TOLERANCE %s too small for SCAN_INTERVAL %s: tolerance must be at least half the interval",
			c.WindowTolerance, c.ScanInterval)
	}

	if c.LeadTime <= c.WindowTolerance {
		return fmt.Errorf("LEAD_TIME %s must exceed WINDOW_TOLERANCE %s", c.LeadTime, c.WindowTolerance)
	}

	if c.RetentionDays <= 0 {
		return fmt.Errorf("RETENTION_DAYS must be positive, got %d", c.RetentionDays)
	}

	if c.SweepHourUTC < 0 || c.SweepHourUTC > 23 {
		return fmt.Errorf("SWEEP_HOUR_UTC must be 0-23, got %d", c.SweepHourUTC)
	}

	if c.EmailGateway != "ses" && c.EmailGateway != "log" {
		return fmt.Errorf("EMAIL_GATEWAY must be \"ses\" or \"log\", got %q", c.EmailGateway)
	}

	return nil
}
