package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownGrace   time.Duration
	MaxRequestBytes int64
}

type FetchConfig struct {
	RequestTimeout       time.Duration
	MaxRetries           int
	BackoffBase          time.Duration
	BackoffFactor        float64
	JitterMaxFactor      float64
	MaxBackoff           time.Duration
	AllowPrivateNetworks bool
	UserAgent            string
}

type ParserConfig struct {
	MaxIterations int
	MaxParseTime  time.Duration
}

type ExpanderConfig struct {
	Concurrency           int
	MaxOccurrencesPerRule int
	ExpansionDays         int
	TimeBudgetPerRule     time.Duration
	YieldFrequency        int
}

type RefreshConfig struct {
	Interval         time.Duration
	FetchConcurrency int
	EventWindowSize  int
}

type CacheConfig struct {
	MaxEntries int
}

type AuthConfig struct {
	BearerToken string
	JWKSURL     string
	Issuer      string
	Audience    string
}

type SkippedStoreConfig struct {
	Type        string // null | memory | sqlite | postgres
	SeedIDs     []string
	SQLitePath  string
	PostgresURL string
}

type Config struct {
	Sources         []string
	DefaultTimezone string
	SpeechSSML      bool
	LogLevel        string
	Debug           bool

	HTTP     HTTPConfig
	Fetch    FetchConfig
	Parser   ParserConfig
	Expander ExpanderConfig
	Refresh  RefreshConfig
	Cache    CacheConfig
	Auth     AuthConfig
	Skipped  SkippedStoreConfig
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getseconds(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadSources resolves the configured ICS feed URLs. CALENDARBOT_ICS_URL is
// authoritative; ICS_SOURCE is the legacy spelling kept for old deployments.
func loadSources() []string {
	if v := os.Getenv("CALENDARBOT_ICS_URL"); v != "" {
		return splitList(v)
	}
	return splitList(os.Getenv("ICS_SOURCE"))
}

// ResolveTimezone validates a configured IANA timezone name, walking the
// fallback chain configured -> America/Los_Angeles -> UTC.
func ResolveTimezone(name string) string {
	for _, candidate := range []string{name, "America/Los_Angeles"} {
		if candidate == "" {
			continue
		}
		if _, err := time.LoadLocation(candidate); err == nil {
			return candidate
		}
	}
	return "UTC"
}

func Load() (*Config, error) {
	cfg := &Config{
		Sources:         loadSources(),
		DefaultTimezone: ResolveTimezone(getenv("CALENDARBOT_DEFAULT_TIMEZONE", "America/Los_Angeles")),
		SpeechSSML:      truthy(getenv("CALENDARBOT_SSML", "true")),
		LogLevel:        getenv("CALENDARBOT_LOG_LEVEL", "info"),
		Debug:           truthy(os.Getenv("CALENDARBOT_DEBUG")),
		HTTP: HTTPConfig{
			Addr:            getenv("CALENDARBOT_HTTP_ADDR", ":8080"),
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownGrace:   getseconds("CALENDARBOT_SHUTDOWN_GRACE", 10*time.Second),
			MaxRequestBytes: 1 << 20,
		},
		Fetch: FetchConfig{
			RequestTimeout:       getseconds("CALENDARBOT_REQUEST_TIMEOUT", 30*time.Second),
			MaxRetries:           getint("CALENDARBOT_FETCH_MAX_RETRIES", 3),
			BackoffBase:          time.Second,
			BackoffFactor:        1.0,
			JitterMaxFactor:      0.1,
			MaxBackoff:           60 * time.Second,
			AllowPrivateNetworks: truthy(os.Getenv("CALENDARBOT_FETCH_ALLOW_PRIVATE")),
			UserAgent:            "calendarbot/1.0",
		},
		Parser: ParserConfig{
			MaxIterations: getint("CALENDARBOT_PARSER_MAX_ITERATIONS", 10000),
			MaxParseTime:  getseconds("CALENDARBOT_PARSER_MAX_SECONDS", 30*time.Second),
		},
		Expander: ExpanderConfig{
			Concurrency:           getint("CALENDARBOT_EXPANDER_CONCURRENCY", 1),
			MaxOccurrencesPerRule: getint("CALENDARBOT_EXPANDER_MAX_OCCURRENCES", 250),
			ExpansionDays:         getint("CALENDARBOT_EXPANSION_DAYS", 365),
			TimeBudgetPerRule:     time.Duration(getint("CALENDARBOT_EXPANDER_BUDGET_MS", 200)) * time.Millisecond,
			YieldFrequency:        getint("CALENDARBOT_EXPANDER_YIELD_FREQUENCY", 50),
		},
		Refresh: RefreshConfig{
			Interval:         getseconds("CALENDARBOT_REFRESH_INTERVAL", 300*time.Second),
			FetchConcurrency: getint("CALENDARBOT_FETCH_CONCURRENCY", 2),
			EventWindowSize:  getint("CALENDARBOT_EVENT_WINDOW_SIZE", 200),
		},
		Cache: CacheConfig{
			MaxEntries: getint("CALENDARBOT_CACHE_MAX_ENTRIES", 256),
		},
		Auth: AuthConfig{
			BearerToken: os.Getenv("CALENDARBOT_ALEXA_BEARER_TOKEN"),
			JWKSURL:     os.Getenv("CALENDARBOT_AUTH_JWKS_URL"),
			Issuer:      os.Getenv("CALENDARBOT_AUTH_ISSUER"),
			Audience:    os.Getenv("CALENDARBOT_AUTH_AUDIENCE"),
		},
		Skipped: SkippedStoreConfig{
			Type:        getenv("CALENDARBOT_SKIPPED_STORE", "null"),
			SeedIDs:     splitList(os.Getenv("CALENDARBOT_SKIPPED_IDS")),
			SQLitePath:  getenv("CALENDARBOT_SQLITE_PATH", "./data/calendarbot.db"),
			PostgresURL: os.Getenv("CALENDARBOT_PG_URL"),
		},
	}

	if cfg.Refresh.EventWindowSize < 1 {
		cfg.Refresh.EventWindowSize = 200
	}
	if cfg.Expander.Concurrency < 1 {
		cfg.Expander.Concurrency = 1
	}
	if cfg.Parser.MaxIterations < 1 {
		cfg.Parser.MaxIterations = 10000
	}

	return cfg, nil
}
