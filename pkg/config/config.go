// Package config loads the engine's Config with layered precedence:
// environment variables override a YAML file, which overrides built-in
// defaults. A .env file (if present) is loaded into the environment before
// anything else is read.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ironfly/btcfly-engine/internal/apperr"
)

// Config is every tunable named in the venue/session/risk configuration
// surface. All decimal fields use shopspring/decimal for exactness.
type Config struct {
	SessionStart string `yaml:"session_start"` // "HH:MM" local time
	SessionEnd   string `yaml:"session_end"`

	CycleIntervalMinutes int `yaml:"cycle_interval_minutes"`
	NumberOfCycles       int `yaml:"number_of_cycles"`

	PositionQuantity decimal.Decimal `yaml:"position_quantity"`
	StrikeDistance   int             `yaml:"strike_distance"`

	StopLossPct      decimal.Decimal `yaml:"stop_loss_pct"`
	ProfitTargetPct  decimal.Decimal `yaml:"profit_target_pct"`
	PortfolioRiskPct decimal.Decimal `yaml:"portfolio_risk_pct"`

	OrderTimeoutSeconds         int `yaml:"order_timeout_seconds"`
	OrderUpdateIntervalSeconds int `yaml:"order_update_interval_seconds"`

	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	AlertWebhookURL string `yaml:"alert_webhook_url"`
	AlertToken      string `yaml:"alert_token"`

	VenueBaseURL string `yaml:"venue_base_url"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

func defaults() Config {
	return Config{
		CycleIntervalMinutes:       15,
		NumberOfCycles:             4,
		StrikeDistance:             1,
		OrderTimeoutSeconds:        60,
		OrderUpdateIntervalSeconds: 1,
		LogLevel:                   "info",
	}
}

// fileSchema mirrors Config field-for-field but keeps plain strings for the
// decimal fields so a YAML document can write them unquoted or quoted.
type fileSchema struct {
	SessionStart                string `yaml:"session_start"`
	SessionEnd                  string `yaml:"session_end"`
	CycleIntervalMinutes        *int   `yaml:"cycle_interval_minutes"`
	NumberOfCycles               *int   `yaml:"number_of_cycles"`
	PositionQuantity            string `yaml:"position_quantity"`
	StrikeDistance              *int   `yaml:"strike_distance"`
	StopLossPct                 string `yaml:"stop_loss_pct"`
	ProfitTargetPct              string `yaml:"profit_target_pct"`
	PortfolioRiskPct             string `yaml:"portfolio_risk_pct"`
	OrderTimeoutSeconds          *int   `yaml:"order_timeout_seconds"`
	OrderUpdateIntervalSeconds   *int   `yaml:"order_update_interval_seconds"`
	APIKey                       string `yaml:"api_key"`
	APISecret                    string `yaml:"api_secret"`
	AlertWebhookURL              string `yaml:"alert_webhook_url"`
	AlertToken                   string `yaml:"alert_token"`
	VenueBaseURL                 string `yaml:"venue_base_url"`
	LogLevel                     string `yaml:"log_level"`
	LogFile                      string `yaml:"log_file"`
}

// Load reads .env (if present), then filePath (if non-empty and present),
// then applies environment variable overrides, layering over built-in
// defaults, and validates the result. It never panics and never calls
// os.Exit — the caller decides how to react to a non-nil error.
func Load(filePath string) (Config, error) {
	_ = godotenv.Load() // optional; absence is not an error

	cfg := defaults()

	if filePath != "" {
		if data, err := os.ReadFile(filePath); err == nil {
			var fs fileSchema
			if err := yaml.Unmarshal(data, &fs); err != nil {
				return Config{}, apperr.Config("file", "failed to parse config file: "+err.Error())
			}
			applyFile(&cfg, fs)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, fs fileSchema) {
	if fs.SessionStart != "" {
		cfg.SessionStart = fs.SessionStart
	}
	if fs.SessionEnd != "" {
		cfg.SessionEnd = fs.SessionEnd
	}
	if fs.CycleIntervalMinutes != nil {
		cfg.CycleIntervalMinutes = *fs.CycleIntervalMinutes
	}
	if fs.NumberOfCycles != nil {
		cfg.NumberOfCycles = *fs.NumberOfCycles
	}
	if d, err := decimal.NewFromString(strings.TrimSpace(fs.PositionQuantity)); err == nil {
		cfg.PositionQuantity = d
	}
	if fs.StrikeDistance != nil {
		cfg.StrikeDistance = *fs.StrikeDistance
	}
	if d, err := decimal.NewFromString(strings.TrimSpace(fs.StopLossPct)); err == nil {
		cfg.StopLossPct = d
	}
	if d, err := decimal.NewFromString(strings.TrimSpace(fs.ProfitTargetPct)); err == nil {
		cfg.ProfitTargetPct = d
	}
	if d, err := decimal.NewFromString(strings.TrimSpace(fs.PortfolioRiskPct)); err == nil {
		cfg.PortfolioRiskPct = d
	}
	if fs.OrderTimeoutSeconds != nil {
		cfg.OrderTimeoutSeconds = *fs.OrderTimeoutSeconds
	}
	if fs.OrderUpdateIntervalSeconds != nil {
		cfg.OrderUpdateIntervalSeconds = *fs.OrderUpdateIntervalSeconds
	}
	if fs.APIKey != "" {
		cfg.APIKey = fs.APIKey
	}
	if fs.APISecret != "" {
		cfg.APISecret = fs.APISecret
	}
	if fs.AlertWebhookURL != "" {
		cfg.AlertWebhookURL = fs.AlertWebhookURL
	}
	if fs.AlertToken != "" {
		cfg.AlertToken = fs.AlertToken
	}
	if fs.VenueBaseURL != "" {
		cfg.VenueBaseURL = fs.VenueBaseURL
	}
	if fs.LogLevel != "" {
		cfg.LogLevel = fs.LogLevel
	}
	if fs.LogFile != "" {
		cfg.LogFile = fs.LogFile
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BTCFLY_SESSION_START"); v != "" {
		cfg.SessionStart = v
	}
	if v := os.Getenv("BTCFLY_SESSION_END"); v != "" {
		cfg.SessionEnd = v
	}
	if v, ok := envInt("BTCFLY_CYCLE_INTERVAL_MINUTES"); ok {
		cfg.CycleIntervalMinutes = v
	}
	if v, ok := envInt("BTCFLY_NUMBER_OF_CYCLES"); ok {
		cfg.NumberOfCycles = v
	}
	if v, ok := envDecimal("BTCFLY_POSITION_QUANTITY"); ok {
		cfg.PositionQuantity = v
	}
	if v, ok := envInt("BTCFLY_STRIKE_DISTANCE"); ok {
		cfg.StrikeDistance = v
	}
	if v, ok := envDecimal("BTCFLY_STOP_LOSS_PCT"); ok {
		cfg.StopLossPct = v
	}
	if v, ok := envDecimal("BTCFLY_PROFIT_TARGET_PCT"); ok {
		cfg.ProfitTargetPct = v
	}
	if v, ok := envDecimal("BTCFLY_PORTFOLIO_RISK_PCT"); ok {
		cfg.PortfolioRiskPct = v
	}
	if v, ok := envInt("BTCFLY_ORDER_TIMEOUT_SECONDS"); ok {
		cfg.OrderTimeoutSeconds = v
	}
	if v, ok := envInt("BTCFLY_ORDER_UPDATE_INTERVAL_SECONDS"); ok {
		cfg.OrderUpdateIntervalSeconds = v
	}
	if v := os.Getenv("BTCFLY_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("BTCFLY_API_SECRET"); v != "" {
		cfg.APISecret = v
	}
	if v := os.Getenv("BTCFLY_ALERT_WEBHOOK_URL"); v != "" {
		cfg.AlertWebhookURL = v
	}
	if v := os.Getenv("BTCFLY_ALERT_TOKEN"); v != "" {
		cfg.AlertToken = v
	}
	if v := os.Getenv("BTCFLY_VENUE_BASE_URL"); v != "" {
		cfg.VenueBaseURL = v
	}
	if v := os.Getenv("BTCFLY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BTCFLY_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envDecimal(key string) (decimal.Decimal, bool) {
	v := os.Getenv(key)
	if v == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// Validate enforces every constraint in the configuration surface and
// returns the first violation found as an apperr.Error of KindConfig. The
// process must refuse to start on any violation.
func (c Config) Validate() error {
	if _, err := parseClock(c.SessionStart); err != nil {
		return apperr.Config("session_start", "must be HH:MM: "+err.Error())
	}
	if _, err := parseClock(c.SessionEnd); err != nil {
		return apperr.Config("session_end", "must be HH:MM: "+err.Error())
	}
	if c.CycleIntervalMinutes <= 0 {
		return apperr.Config("cycle_interval_minutes", "must be positive")
	}
	if c.NumberOfCycles <= 0 {
		return apperr.Config("number_of_cycles", "must be positive")
	}
	if c.PositionQuantity.Sign() <= 0 {
		return apperr.Config("position_quantity", "must be a positive decimal")
	}
	if c.StrikeDistance <= 0 {
		return apperr.Config("strike_distance", "must be a positive integer")
	}
	if c.StopLossPct.Sign() < 0 || c.StopLossPct.Cmp(decimal.NewFromInt(100)) >= 0 {
		return apperr.Config("stop_loss_pct", "must satisfy 0 <= x < 100")
	}
	if c.ProfitTargetPct.Sign() <= 0 {
		return apperr.Config("profit_target_pct", "must be > 0")
	}
	if c.PortfolioRiskPct.Sign() < 0 || c.PortfolioRiskPct.Cmp(decimal.NewFromInt(100)) >= 0 {
		return apperr.Config("portfolio_risk_pct", "must satisfy 0 <= x < 100")
	}
	if c.OrderTimeoutSeconds <= 0 {
		return apperr.Config("order_timeout_seconds", "must be positive")
	}
	if c.OrderUpdateIntervalSeconds <= 0 {
		return apperr.Config("order_update_interval_seconds", "must be positive")
	}
	if len(c.APIKey) < 10 {
		return apperr.Config("api_key", "must be a non-empty string of at least 10 characters")
	}
	if len(c.APISecret) < 10 {
		return apperr.Config("api_secret", "must be a non-empty string of at least 10 characters")
	}
	if (c.AlertWebhookURL == "") != (c.AlertToken == "") {
		return apperr.Config("alert_webhook_url/alert_token", "if one alert credential is set, both must be")
	}
	return nil
}

// SessionWindow returns the configured [start, end) times resolved against
// the given day in the host's local time zone.
func (c Config) SessionWindow(day time.Time) (start, end time.Time, err error) {
	st, err := parseClock(c.SessionStart)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	et, err := parseClock(c.SessionEnd)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	y, m, d := day.Date()
	loc := day.Location()
	start = time.Date(y, m, d, st.hour, st.minute, 0, 0, loc)
	end = time.Date(y, m, d, et.hour, et.minute, 0, 0, loc)
	return start, end, nil
}

type clock struct{ hour, minute int }

func parseClock(s string) (clock, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return clock{}, errBadClock(s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return clock{}, errBadClock(s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return clock{}, errBadClock(s)
	}
	return clock{hour: h, minute: m}, nil
}

func errBadClock(s string) error {
	return &clockError{s}
}

type clockError struct{ value string }

func (e *clockError) Error() string { return "invalid HH:MM time: " + e.value }
