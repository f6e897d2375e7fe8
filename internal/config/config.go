package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration from environment variables.
type Config struct {
	DBDSN        string
	HTTPAddr     string
	MaxBodyBytes int64

	IssuerDID  string
	SigningKey string

	DirectoryURL      string
	DirectoryHandle   string
	DirectoryPassword string
	PollInterval      time.Duration

	AdminToken string
	OverrideTZ string

	QueryMaxLimit     int
	SubscriberBuffer  int
	ReconcileThrottle time.Duration
	MigrationThrottle time.Duration
	GatePoll          time.Duration
	GateTimeout       time.Duration
	LegacyValues      []string

	PublishRevocations bool
	RunBatchOnStart    bool

	LogFormat string
	LogLevel  string
}

// DefaultLegacyValues are value encodings used by earlier releases.
var DefaultLegacyValues = []string{"testing123", "testing", "sample123", "test"}

// Load reads configuration from environment variables with defaults.
// LABELER_DID and LABELER_SIGNING_KEY are required.
func Load() (Config, error) {
	var errs []error
	c := Config{
		DBDSN:        envOr("LABELER_DB_DSN", envOr("DATABASE_URL", "sqlite://labeler.db")),
		HTTPAddr:     envOr("LABELER_HTTP_ADDR", ":8080"),
		MaxBodyBytes: 64 * 1024,

		IssuerDID:  os.Getenv("LABELER_DID"),
		SigningKey: os.Getenv("LABELER_SIGNING_KEY"),

		DirectoryURL:      envOr("LABELER_DIRECTORY_URL", "https://bsky.social"),
		DirectoryHandle:   os.Getenv("LABELER_HANDLE"),
		DirectoryPassword: os.Getenv("LABELER_PASSWORD"),

		AdminToken: os.Getenv("LABELER_ADMIN_TOKEN"),
		OverrideTZ: envOr("LABELER_OVERRIDE_TZ", "Asia/Tokyo"),

		LegacyValues: envList("LABELER_LEGACY_VALUES", DefaultLegacyValues),

		LogFormat: envOr("LABELER_LOG_FORMAT", "text"),
		LogLevel:  envOr("LABELER_LOG_LEVEL", "info"),
	}

	c.MaxBodyBytes = int64(envInt("LABELER_MAX_BODY_BYTES", int(c.MaxBodyBytes), &errs))
	c.QueryMaxLimit = envInt("LABELER_QUERY_MAX_LIMIT", 250, &errs)
	c.SubscriberBuffer = envInt("LABELER_SUBSCRIBER_BUFFER", 256, &errs)
	c.PollInterval = envDuration("LABELER_POLL_INTERVAL", 10*time.Second, &errs)
	c.ReconcileThrottle = envDuration("LABELER_RECONCILE_THROTTLE", 50*time.Millisecond, &errs)
	c.MigrationThrottle = envDuration("LABELER_MIGRATION_THROTTLE", 20*time.Millisecond, &errs)
	c.GatePoll = envDuration("LABELER_SUBSCRIBER_WAIT_POLL", 100*time.Millisecond, &errs)
	c.GateTimeout = envDuration("LABELER_SUBSCRIBER_WAIT_TIMEOUT", 30*time.Second, &errs)
	c.PublishRevocations = envBool("LABELER_PUBLISH_REVOCATIONS", false, &errs)
	c.RunBatchOnStart = envBool("LABELER_RUN_BATCH_ON_START", false, &errs)

	if c.IssuerDID == "" {
		errs = append(errs, errors.New("LABELER_DID is required"))
	} else if !strings.HasPrefix(c.IssuerDID, "did:") {
		errs = append(errs, fmt.Errorf("LABELER_DID %q is not a DID", c.IssuerDID))
	}
	if c.SigningKey == "" {
		errs = append(errs, errors.New("LABELER_SIGNING_KEY is required"))
	}
	if c.DirectoryHandle == "" {
		c.DirectoryHandle = c.IssuerDID
	}
	if c.QueryMaxLimit < 1 {
		errs = append(errs, errors.New("LABELER_QUERY_MAX_LIMIT must be positive"))
	}
	if c.SubscriberBuffer < 1 {
		errs = append(errs, errors.New("LABELER_SUBSCRIBER_BUFFER must be positive"))
	}
	if len(errs) > 0 {
		return c, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return c, nil
}

// Location resolves OverrideTZ. Names that are not in the zone database
// fall back to a fixed UTC+9 zone.
func (c Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.OverrideTZ); err == nil {
		return loc
	}
	return time.FixedZone("JST", 9*60*60)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func envBool(key string, fallback bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}

func envList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
