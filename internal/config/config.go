// Package config loads runtime settings from the environment, an optional
// .env file and an optional YAML merchant file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ahmethakanbesel/pricewatch/internal/catalog"
	"github.com/ahmethakanbesel/pricewatch/internal/scraper"
	"github.com/ahmethakanbesel/pricewatch/internal/vtex"
)

// Error reports an invalid or missing setting.
type Error struct {
	Field string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

type Config struct {
	Port    string `validate:"required,numeric"`
	DBPath  string `validate:"required"`
	Workers int    `validate:"min=1,max=64"`

	VTEX    VTEX
	Sync    Sync
	Refresh Refresh
	Notify  Notify
	Jobs    Jobs
	Log     Log

	Merchants []scraper.Merchant `validate:"required,min=1,dive"`
}

type VTEX struct {
	QueryHash    string        `validate:"required"`
	Locale       string        `validate:"required"`
	QueryTimeout time.Duration `validate:"gt=0"`
}

type Sync struct {
	TermDelay      time.Duration `validate:"gte=0"`
	ProductCodes   []string      `validate:"dive,required"`
	ExcludedBrands []string
}

type Refresh struct {
	BatchSize  int           `validate:"min=1,max=10000"`
	GroupSize  int           `validate:"min=1,max=100"`
	GroupDelay time.Duration `validate:"gte=0"`
	Epsilon    float64       `validate:"gte=0"`
}

type Notify struct {
	WebhookURL      string        `validate:"omitempty,url"`
	SlackWebhookURL string        `validate:"omitempty,url"`
	Timeout         time.Duration `validate:"gt=0"`
}

type Jobs struct {
	Retention       time.Duration `validate:"gt=0"`
	CleanupInterval time.Duration `validate:"gt=0"`
}

type Log struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json text"`
}

// Load reads .env (if present), then the process environment. Values
// already set in the environment win over .env.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, &Error{Field: ".env", Msg: err.Error()}
	}
	return FromEnv()
}

// FromEnv builds and validates a Config from the process environment only.
func FromEnv() (Config, error) {
	r := &reader{}

	cfg := Config{
		Port:    getEnv("PORT", "8080"),
		DBPath:  getEnv("DB_PATH", "pricewatch.db"),
		Workers: r.getInt("WORKERS", 4),
		VTEX: VTEX{
			QueryHash:    os.Getenv("VTEX_SHA256_HASH"),
			Locale:       getEnv("VTEX_LOCALE", "es-AR"),
			QueryTimeout: r.getDuration("QUERY_TIMEOUT", 15*time.Second),
		},
		Sync: Sync{
			TermDelay:      r.getDuration("TERM_DELAY", 200*time.Millisecond),
			ProductCodes:   r.codes(),
			ExcludedBrands: splitList(os.Getenv("EXCLUDED_BRANDS")),
		},
		Refresh: Refresh{
			BatchSize:  r.getInt("REFRESH_BATCH_SIZE", 500),
			GroupSize:  r.getInt("REFRESH_GROUP_SIZE", 10),
			GroupDelay: r.getDuration("REFRESH_GROUP_DELAY", 500*time.Millisecond),
			Epsilon:    r.getFloat("PRICE_EPSILON", 0.01),
		},
		Notify: Notify{
			WebhookURL:      os.Getenv("WEBHOOK_URL"),
			SlackWebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),
			Timeout:         r.getDuration("NOTIFY_TIMEOUT", 10*time.Second),
		},
		Jobs: Jobs{
			Retention:       r.getDuration("JOB_RETENTION", 24*time.Hour),
			CleanupInterval: r.getDuration("JOB_CLEANUP_INTERVAL", time.Hour),
		},
		Log: Log{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
	}
	if r.err != nil {
		return Config{}, r.err
	}
	if len(cfg.Sync.ExcludedBrands) == 0 {
		cfg.Sync.ExcludedBrands = vtex.DefaultExcludedBrands
	}

	merchants, err := loadMerchants(os.Getenv("MERCHANTS_FILE"))
	if err != nil {
		return Config{}, err
	}
	cfg.Merchants = merchants

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that exactly one merchant is the
// catalog master.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &Error{Field: fe.Namespace(), Msg: fmt.Sprintf("failed %q check", fe.Tag())}
		}
		return &Error{Field: "config", Msg: err.Error()}
	}

	masters := 0
	seen := make(map[string]bool, len(c.Merchants))
	for _, m := range c.Merchants {
		if seen[m.Key] {
			return &Error{Field: "Merchants", Msg: fmt.Sprintf("duplicate key %q", m.Key)}
		}
		seen[m.Key] = true
		if m.Role == catalog.RoleMaster {
			masters++
		}
	}
	if masters != 1 {
		return &Error{Field: "Merchants", Msg: fmt.Sprintf("exactly one master required, got %d", masters)}
	}
	return nil
}

type merchantFile struct {
	Merchants []scraper.Merchant `yaml:"merchants"`
}

func loadMerchants(path string) ([]scraper.Merchant, error) {
	if path == "" {
		return scraper.DefaultMerchants(), nil
	}
	raw, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, &Error{Field: "MERCHANTS_FILE", Msg: err.Error()}
	}
	var f merchantFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, &Error{Field: "MERCHANTS_FILE", Msg: err.Error()}
	}
	return f.Merchants, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// reader parses typed values and keeps the first parse failure.
type reader struct {
	err error
}

func (r *reader) fail(key, msg string) {
	if r.err == nil {
		r.err = &Error{Field: key, Msg: msg}
	}
}

func (r *reader) getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, "not an integer")
		return fallback
	}
	return n
}

func (r *reader) getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, "not a number")
		return fallback
	}
	return f
}

// getDuration accepts Go duration syntax ("1m30s") or a bare integer in
// milliseconds.
func (r *reader) getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, "not a duration")
		return fallback
	}
	return d
}

// codes reads PRODUCT_CODES, falling back to PRODUCT_EANS. Both accept a
// JSON array or a comma separated list.
func (r *reader) codes() []string {
	key := "PRODUCT_CODES"
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		key = "PRODUCT_EANS"
		v = strings.TrimSpace(os.Getenv(key))
	}
	if v == "" {
		return nil
	}
	if strings.HasPrefix(v, "[") {
		var codes []string
		if err := json.Unmarshal([]byte(v), &codes); err != nil {
			r.fail(key, "invalid JSON array")
			return nil
		}
		return splitList(strings.Join(codes, ","))
	}
	return splitList(v)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
