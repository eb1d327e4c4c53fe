package config

import (
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	ClinicTimezone string
	UseMemoryStore bool
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	AppointmentsTable   string
	EventsQueueURL      string
	ArchiveBucket       string

	// Queue engine tuning
	WalkInAllotment          int
	ReservationLease         time.Duration
	PreOpenBuffer            time.Duration
	CloseGraceWindow         time.Duration
	StatusSweepInterval      time.Duration
	QueueStreamInterval      time.Duration
	StoreTimeout             time.Duration
	PersistPerceivedEstimate bool
	OutboxPollInterval       time.Duration
	// EstimatePolicy picks the patient-facing estimate: "literal" or "queue_depth".
	EstimatePolicy string

	CORSAllowedOrigins []string
	WalkInRateLimit    float64 // requests/sec per client, 0 disables
	WalkInRateBurst    int
	// SeedDoctorsFile is a JSON array of doctors loaded in memory mode.
	SeedDoctorsFile string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		ClinicTimezone: getEnv("CLINIC_TIMEZONE", "Asia/Kolkata"),
		UseMemoryStore: getEnvAsBool("USE_MEMORY_STORE", false),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "ap-south-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		AppointmentsTable:   getEnv("APPOINTMENTS_TABLE", "appointments"),
		EventsQueueURL:      getEnv("EVENTS_QUEUE_URL", ""),
		ArchiveBucket:       getEnv("ARCHIVE_BUCKET", ""),

		WalkInAllotment:          getEnvAsInt("WALKIN_ALLOTMENT", 5),
		ReservationLease:         getEnvAsDuration("RESERVATION_LEASE", 5*time.Second),
		PreOpenBuffer:            getEnvAsDuration("PRE_OPEN_BUFFER", 30*time.Minute),
		CloseGraceWindow:         getEnvAsDuration("CLOSE_GRACE_WINDOW", 15*time.Minute),
		StatusSweepInterval:      getEnvAsDuration("STATUS_SWEEP_INTERVAL", time.Minute),
		QueueStreamInterval:      getEnvAsDuration("QUEUE_STREAM_INTERVAL", 15*time.Second),
		StoreTimeout:             getEnvAsDuration("STORE_TIMEOUT", 5*time.Second),
		PersistPerceivedEstimate: getEnvAsBool("PERSIST_PERCEIVED_ESTIMATE", false),
		OutboxPollInterval:       getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		EstimatePolicy:           strings.ToLower(getEnv("ESTIMATE_POLICY", "literal")),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		WalkInRateLimit:    getEnvAsFloat("WALKIN_RATE_LIMIT", 2),
		WalkInRateBurst:    getEnvAsInt("WALKIN_RATE_BURST", 5),
		SeedDoctorsFile:    getEnv("SEED_DOCTORS_FILE", ""),
	}
}

// Location resolves the clinic time zone, falling back to UTC when the name is unknown.
func (c *Config) Location() *time.Location {
	if c == nil {
		return time.UTC
	}
	loc, err := time.LoadLocation(strings.TrimSpace(c.ClinicTimezone))
	if err != nil {
		return time.UTC
	}
	return loc
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping empty entries.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
