package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/axelsamuelson/crowdvine-sub005/internal/rules"
)

// Config is the static configuration of the API, the worker and palletctl.
type Config struct {
	Port        string   `env:"PORT" envDefault:"8080"`
	DatabaseURL string   `env:"DATABASE_URL,required"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"LOG_FORMAT" envDefault:"json"`
	AuditLogFile  string `env:"AUDIT_LOG_FILE" envDefault:"logs/audit.log"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"10"`
	LogMaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"90"`

	PaymentWindow time.Duration `env:"PAYMENT_WINDOW" envDefault:"72h"`
	CheckInterval time.Duration `env:"CHECK_INTERVAL" envDefault:"1m"`

	GeocoderURL        string        `env:"GEOCODER_URL" envDefault:"https://nominatim.openstreetmap.org"`
	GeocoderUserAgent  string        `env:"GEOCODER_USER_AGENT" envDefault:"crowdvine-pallets/1.0"`
	GeocoderMaxElapsed time.Duration `env:"GEOCODER_MAX_ELAPSED" envDefault:"30s"`

	// An empty PAYMENT_GATEWAY_URL selects the in-memory sandbox.
	PaymentGatewayURL   string `env:"PAYMENT_GATEWAY_URL"`
	PaymentGatewayToken string `env:"PAYMENT_GATEWAY_TOKEN"`

	DefaultRulesFile string `env:"DEFAULT_RULES_FILE"`
}

// Load reads the given .env files, when they exist, then the environment.
// Variables already set in the environment win over the files.
func Load(files ...string) (Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if c.PaymentWindow <= 0 {
		return errors.New("PAYMENT_WINDOW must be positive")
	}
	if c.CheckInterval <= 0 {
		return errors.New("CHECK_INTERVAL must be positive")
	}
	if c.PaymentGatewayURL != "" && c.PaymentGatewayToken == "" {
		return errors.New("PAYMENT_GATEWAY_TOKEN is required with PAYMENT_GATEWAY_URL")
	}
	return nil
}

func (c Config) Addr() string {
	return ":" + c.Port
}

// DefaultRules loads the rule set given to pallets created without one. No
// file means no rules, which evaluates as indeterminate.
func (c Config) DefaultRules() (rules.RuleSet, error) {
	if c.DefaultRulesFile == "" {
		return rules.RuleSet{}, nil
	}
	data, err := os.ReadFile(c.DefaultRulesFile)
	if err != nil {
		return rules.RuleSet{}, fmt.Errorf("read default rules: %w", err)
	}
	rs, err := rules.ParseYAML(data)
	if err != nil {
		return rules.RuleSet{}, fmt.Errorf("%s: %w", c.DefaultRulesFile, err)
	}
	return rs, nil
}

// FindEnvFile looks for a .env file in dir and up to five of its parents. It
// returns "" when there is none.
func FindEnvFile(dir string) string {
	for i := 0; i < 6; i++ {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
