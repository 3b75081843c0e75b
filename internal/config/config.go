// Package config loads CarePipe settings.
//
// Values are layered: built-in defaults, then an optional YAML file, then the environment
// (including a .env file), then command line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/CarePipe/internal/appointments"
	"github.com/BTreeMap/CarePipe/internal/flow"
	"github.com/BTreeMap/CarePipe/internal/genai"
	"github.com/BTreeMap/CarePipe/internal/notify"
	"github.com/BTreeMap/CarePipe/internal/util"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default configuration constants
const (
	DefaultAPIAddr         = ":8080"
	DefaultAppointmentsDSN = "appointments.json"
	DefaultStateDir        = "."
	DefaultRateLimit       = 5.0
	DefaultRateBurst       = 1
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	// PlaceholderAPIKey is the sample value shipped in example .env files.
	PlaceholderAPIKey = "your-key-here"
)

// Validation errors.
var (
	ErrMissingAPIKey     = errors.New("no OpenAI API key found: set OPENAI_API_KEY in the environment or .env file")
	ErrPlaceholderAPIKey = errors.New("OPENAI_API_KEY still holds the placeholder value")
	ErrNonPositiveLimit  = errors.New("limit must be positive")
	ErrInvalidSampling   = errors.New("invalid sampling parameters")
	ErrInvalidNotifier   = errors.New("invalid notifier channel")
	ErrInvalidLogFormat  = errors.New("log format must be text or json")
)

// Sampling holds the generation settings of one call site.
type Sampling struct {
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// TwilioConfig holds Twilio credentials.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
}

// Config is the complete application configuration.
type Config struct {
	ClinicName      string       `yaml:"clinic_name"`
	ClinicEmail     string       `yaml:"clinic_email"`
	OpenAIKey       string       `yaml:"openai_api_key"`
	Model           string       `yaml:"model"`
	MaxCalls        int          `yaml:"max_calls"`
	MaxChars        int          `yaml:"max_chars"`
	Chat            Sampling     `yaml:"chat"`
	Draft           Sampling     `yaml:"draft"`
	Email           Sampling     `yaml:"email"`
	RateLimit       float64      `yaml:"rate_limit"`
	RateBurst       int          `yaml:"rate_burst"`
	APIAddr         string       `yaml:"api_addr"`
	AllowedOrigin   string       `yaml:"allowed_origin"`
	AppointmentsDSN string       `yaml:"appointments_dsn"`
	StateDir        string       `yaml:"state_dir"`
	Notifier        string       `yaml:"notifier"`
	StaffNumber     string       `yaml:"staff_number"`
	Twilio          TwilioConfig `yaml:"twilio"`
	WhatsAppDSN     string       `yaml:"whatsapp_dsn"`
	LogLevel        string       `yaml:"log_level"`
	LogFormat       string       `yaml:"log_format"`
	Debug           bool         `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() Config {
	s := flow.DefaultSettings()
	return Config{
		ClinicName:      s.ClinicName,
		ClinicEmail:     s.ClinicEmail,
		Model:           genai.DefaultModel,
		MaxCalls:        s.MaxCalls,
		MaxChars:        s.MaxChars,
		Chat:            Sampling(s.Chat),
		Draft:           Sampling(s.Draft),
		Email:           Sampling(s.Email),
		RateLimit:       DefaultRateLimit,
		RateBurst:       DefaultRateBurst,
		APIAddr:         DefaultAPIAddr,
		AllowedOrigin:   "*",
		AppointmentsDSN: DefaultAppointmentsDSN,
		StateDir:        DefaultStateDir,
		Notifier:        notify.ChannelLog,
		WhatsAppDSN:     notify.DefaultWhatsAppDBPath,
		LogLevel:        DefaultLogLevel,
		LogFormat:       DefaultLogFormat,
	}
}

// Load builds a configuration from defaults, the YAML file at path (skipped when empty), a .env
// file in the working directory if present, and the process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := godotenv.Load(); err != nil {
		slog.Debug("Config.Load: no .env file loaded", "error", err)
	} else {
		slog.Debug("Config.Load: loaded .env file")
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// LoadFile overlays the YAML file at path. Unknown keys are rejected.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	slog.Debug("Config.LoadFile: loaded", "path", path)
	return nil
}

func setString(dst *string, keys ...string) {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			*dst = v
			return
		}
	}
}

// ApplyEnv overlays environment variables.
func (c *Config) ApplyEnv() {
	setString(&c.OpenAIKey, "OPENAI_API_KEY")
	setString(&c.Model, "CAREPIPE_MODEL", "OPENAI_MODEL")
	setString(&c.ClinicName, "CAREPIPE_CLINIC_NAME", "CLINIC_NAME")
	setString(&c.ClinicEmail, "CAREPIPE_CLINIC_EMAIL", "CLINIC_EMAIL")
	setString(&c.APIAddr, "CAREPIPE_API_ADDR", "API_ADDR")
	setString(&c.AllowedOrigin, "CAREPIPE_ALLOWED_ORIGIN")
	setString(&c.AppointmentsDSN, "CAREPIPE_APPOINTMENTS_DSN", "DATABASE_URL")
	setString(&c.StateDir, "CAREPIPE_STATE_DIR")
	setString(&c.Notifier, "CAREPIPE_NOTIFIER")
	setString(&c.StaffNumber, "CAREPIPE_STAFF_NUMBER")
	setString(&c.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	setString(&c.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	setString(&c.Twilio.From, "TWILIO_FROM_NUMBER")
	setString(&c.WhatsAppDSN, "WHATSAPP_DB_DSN")
	setString(&c.LogLevel, "CAREPIPE_LOG_LEVEL")
	setString(&c.LogFormat, "CAREPIPE_LOG_FORMAT")

	c.MaxCalls = util.ParseIntEnv("CAREPIPE_MAX_CALLS", c.MaxCalls)
	c.MaxChars = util.ParseIntEnv("CAREPIPE_MAX_CHARS", c.MaxChars)
	c.RateLimit = util.ParseFloatEnv("CAREPIPE_RATE_LIMIT", c.RateLimit)
	c.RateBurst = util.ParseIntEnv("CAREPIPE_RATE_BURST", c.RateBurst)
	c.Debug = util.ParseBoolEnv("CAREPIPE_DEBUG", c.Debug)

	slog.Debug("Config.ApplyEnv: environment applied",
		"OPENAI_API_KEY_SET", c.OpenAIKey != "",
		"model", c.Model,
		"api_addr", c.APIAddr,
		"appointments_dsn_type", util.DetectDSNType(c.AppointmentsDSN),
		"notifier", c.Notifier)
}

func (s Sampling) validate(name string) error {
	if s.MaxTokens <= 0 {
		return fmt.Errorf("%s.max_tokens %d: %w", name, s.MaxTokens, ErrNonPositiveLimit)
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		return fmt.Errorf("%s.temperature %.2f outside [0, 2]: %w", name, s.Temperature, ErrInvalidSampling)
	}
	return nil
}

func (c Config) validateCommon() []error {
	var errs []error
	if c.MaxCalls <= 0 {
		errs = append(errs, fmt.Errorf("max_calls %d: %w", c.MaxCalls, ErrNonPositiveLimit))
	}
	if c.MaxChars <= 0 {
		errs = append(errs, fmt.Errorf("max_chars %d: %w", c.MaxChars, ErrNonPositiveLimit))
	}
	if c.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit %.2f: %w", c.RateLimit, ErrNonPositiveLimit))
	}
	for name, s := range map[string]Sampling{"chat": c.Chat, "draft": c.Draft, "email": c.Email} {
		if err := s.validate(name); err != nil {
			errs = append(errs, err)
		}
	}
	if !notify.IsValidChannel(c.Notifier) {
		errs = append(errs, fmt.Errorf("%q: %w", c.Notifier, ErrInvalidNotifier))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("%q: %w", c.LogFormat, ErrInvalidLogFormat))
	}
	if c.AppointmentsDSN == "" {
		errs = append(errs, fmt.Errorf("appointments_dsn: %w", appointments.ErrDSNNotSet))
	}
	return errs
}

// Validate reports every configuration problem at once. A missing or placeholder API key is
// always an error.
func (c Config) Validate() error {
	errs := c.validateCommon()
	switch strings.TrimSpace(c.OpenAIKey) {
	case "":
		errs = append(errs, ErrMissingAPIKey)
	case PlaceholderAPIKey:
		errs = append(errs, ErrPlaceholderAPIKey)
	}
	return errors.Join(errs...)
}

// ValidateOffline is Validate without the API key check, for commands that never call the model.
func (c Config) ValidateOffline() error {
	return errors.Join(c.validateCommon()...)
}

// Settings converts the configuration into the stage library settings.
func (c Config) Settings() flow.Settings {
	return flow.Settings{
		ClinicName:  c.ClinicName,
		ClinicEmail: c.ClinicEmail,
		MaxCalls:    c.MaxCalls,
		MaxChars:    c.MaxChars,
		Chat:        flow.GenerationParams(c.Chat),
		Draft:       flow.GenerationParams(c.Draft),
		Email:       flow.GenerationParams(c.Email),
	}
}

// GenAIOptions returns the client options for this configuration.
func (c Config) GenAIOptions() []genai.Option {
	opts := []genai.Option{
		genai.WithAPIKey(c.OpenAIKey),
		genai.WithModel(c.Model),
		genai.WithRateLimit(c.RateLimit, c.RateBurst),
	}
	if c.Debug {
		opts = append(opts, genai.WithDebug(c.StateDir))
	}
	return opts
}

// ResolvePath places a relative file path inside the state directory. DSNs for network
// databases and absolute paths are returned unchanged.
func (c Config) ResolvePath(dsn string) string {
	switch util.DetectDSNType(dsn) {
	case util.DSNTypePostgres, util.DSNTypeMemory:
		return dsn
	}
	if filepath.IsAbs(dsn) || c.StateDir == "" || c.StateDir == "." {
		return dsn
	}
	return filepath.Join(c.StateDir, dsn)
}
