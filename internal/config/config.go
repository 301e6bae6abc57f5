// Package config loads the storefront's AppConfig and holds the subset of
// it that the back-office may change at runtime.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dukkan-app/dukkan/internal/whatsapp"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Duration is a time.Duration written as "90s" or "12h" in YAML and JSON.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", node.Line, err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d.Duration = v
	return nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// PushConfig configures the push-notification gateway.
type PushConfig struct {
	URL        string   `yaml:"url" json:"url"`
	AppID      string   `yaml:"app_id" json:"app_id"`
	APIKey     string   `yaml:"api_key" json:"api_key"`
	Segments   []string `yaml:"segments" json:"segments"`
	MaxRetries int      `yaml:"max_retries" json:"max_retries"`
	RetryDelay Duration `yaml:"retry_delay" json:"retry_delay"`
}

// DatabaseConfig selects the persistence backend. An empty DSN keeps
// everything in memory.
type DatabaseConfig struct {
	DSN  string `yaml:"dsn" json:"dsn"`
	Seed bool   `yaml:"seed" json:"seed"`
}

// AppConfig is the storefront's configuration, built once at startup and
// passed explicitly to whatever needs it.
type AppConfig struct {
	StoreName       string         `yaml:"store_name" json:"store_name"`
	StoreNameEn     string         `yaml:"store_name_en" json:"store_name_en"`
	Currency        string         `yaml:"currency" json:"currency"`
	CountryCode     string         `yaml:"country_code" json:"country_code"`
	WhatsAppNumber  string         `yaml:"whatsapp_number" json:"whatsapp_number"`
	Open            bool           `yaml:"open" json:"open"`
	ClosedMessage   string         `yaml:"closed_message" json:"closed_message"`
	ClosedMessageEn string         `yaml:"closed_message_en" json:"closed_message_en"`
	AdminPassword   string         `yaml:"admin_password" json:"admin_password"`
	StatsPassword   string         `yaml:"stats_password" json:"stats_password"`
	JWTSecret       string         `yaml:"jwt_secret" json:"jwt_secret"`
	TokenTTL        Duration       `yaml:"token_ttl" json:"token_ttl"`
	Push            PushConfig     `yaml:"push" json:"push"`
	Database        DatabaseConfig `yaml:"database" json:"database"`
}

// Default returns the configuration used when no file is given.
func Default() AppConfig {
	return AppConfig{
		StoreName:       "دكان",
		StoreNameEn:     "Dukkan",
		Currency:        "IQD",
		CountryCode:     "964",
		Open:            true,
		ClosedMessage:   "المحل مغلق حالياً، نرجو المحاولة لاحقاً",
		ClosedMessageEn: "The store is closed right now, please try again later",
		TokenTTL:        Duration{12 * time.Hour},
		Push: PushConfig{
			MaxRetries: 3,
			RetryDelay: Duration{time.Second},
		},
	}
}

// Load reads the file at path over the defaults. YAML and JSON are chosen
// by extension. A missing file yields the defaults. Environment variables
// override secrets afterwards.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return AppConfig{}, fmt.Errorf("reading config %s: %w", path, err)
		default:
			if err := decode(path, data, &cfg); err != nil {
				return AppConfig{}, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func decode(path string, data []byte, cfg *AppConfig) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return json.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *AppConfig) {
	overrides := map[string]*string{
		"DUKKAN_ADMIN_PASSWORD": &cfg.AdminPassword,
		"DUKKAN_STATS_PASSWORD": &cfg.StatsPassword,
		"DUKKAN_JWT_SECRET":     &cfg.JWTSecret,
		"DUKKAN_MYSQL_DSN":      &cfg.Database.DSN,
		"DUKKAN_PUSH_API_KEY":   &cfg.Push.APIKey,
	}
	for env, field := range overrides {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}
}

// Validate reports every problem with cfg at once.
func (c AppConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.StoreName) == "" {
		errs = append(errs, errors.New("store_name is required"))
	}
	if len(c.Currency) != 3 {
		errs = append(errs, fmt.Errorf("currency %q must be a 3-letter code", c.Currency))
	}
	if c.WhatsAppNumber != "" {
		if _, err := whatsapp.NormalizePhone(c.WhatsAppNumber, c.CountryCode); err != nil {
			errs = append(errs, fmt.Errorf("whatsapp_number: %w", err))
		}
	}
	if c.AdminPassword == "" {
		errs = append(errs, errors.New("admin_password is required"))
	}
	if c.StatsPassword != "" && c.StatsPassword == c.AdminPassword {
		errs = append(errs, errors.New("stats_password must differ from admin_password"))
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("jwt_secret must be at least 16 characters"))
	}
	if c.TokenTTL.Duration <= 0 {
		errs = append(errs, errors.New("token_ttl must be positive"))
	}
	if c.Push.MaxRetries < 0 {
		errs = append(errs, errors.New("push.max_retries must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// EnsureSecret fills an empty JWT secret with a random one. Tokens signed
// with it do not survive a restart.
func (c *AppConfig) EnsureSecret() bool {
	if c.JWTSecret != "" {
		return false
	}
	c.JWTSecret = strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	return true
}
