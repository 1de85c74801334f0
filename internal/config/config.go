package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"calldesk/internal/calls"
)

// APIConfig holds everything the record store service needs.
// All values come from env; no business logic reads raw environment variables.
type APIConfig struct {
	App  AppConfig
	DB   DBConfig
	Auth AuthConfig
	CORS CORSConfig
}

// DeskConfig holds everything the agent console needs.
type DeskConfig struct {
	Env   string
	Calls CallsAPIConfig
	Redis RedisConfig
	Desk  DeskSettings
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for production posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

// CallsAPIConfig points the desk at the remote record store.
// An empty Token selects local mode.
type CallsAPIConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

type DeskSettings struct {
	AgentID         string
	HistoryKey      string
	DraftKey        string
	EventsChannel   string
	HoldTickOnStart bool
	// CustomFields is the raw JSON field descriptor; Schema is its parsed form.
	CustomFields string
	Schema       calls.Schema
}

func LoadAPI() (APIConfig, error) {
	c := APIConfig{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Auth = loadAuth()
	c.CORS.AllowedOrigins = splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))

	if err := joinErrors(parseErrs); err != nil {
		return APIConfig{}, err
	}
	if err := c.Validate(); err != nil {
		return APIConfig{}, err
	}
	return c, nil
}

// Validate reports every problem at once and fills non-production defaults.
func (c *APIConfig) Validate() error {
	var errs []error

	errs = append(errs, validateEnv(c.App.Env)...)
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	errs = append(errs, c.Auth.validate(c.IsProduction())...)

	if len(c.CORS.AllowedOrigins) == 0 && !c.IsProduction() {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	for _, o := range c.CORS.AllowedOrigins {
		if o == "*" && c.IsProduction() {
			errs = append(errs, errors.New("CORS_ALLOWED_ORIGINS must not be * in production"))
		}
	}

	return joinErrors(errs)
}

func (c APIConfig) IsProduction() bool {
	return c.App.Env == "production"
}

func (c APIConfig) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c APIConfig) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

// LoadAuth reads only the JWT settings; used by the token tool.
func LoadAuth() (AuthConfig, error) {
	a := loadAuth()
	if err := joinErrors(a.validate(false)); err != nil {
		return AuthConfig{}, err
	}
	return a, nil
}

func loadAuth() AuthConfig {
	return AuthConfig{
		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTIssuer:   strings.TrimSpace(os.Getenv("JWT_ISSUER")),
		JWTAudience: strings.TrimSpace(os.Getenv("JWT_AUDIENCE")),
		// Duration env vars are optional; defaults applied in validate().
		AccessTokenTTL:  mustDuration("JWT_ACCESS_TTL"),
		RefreshTokenTTL: mustDuration("JWT_REFRESH_TTL"),
	}
}

func (a *AuthConfig) validate(production bool) []error {
	var errs []error
	if a.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if production {
		if a.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if a.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if a.AccessTokenTTL <= 0 {
		// A desk shift.
		a.AccessTokenTTL = 12 * time.Hour
	}
	if a.RefreshTokenTTL <= 0 {
		a.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if a.RefreshTokenTTL <= a.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}
	return errs
}

func LoadDesk() (DeskConfig, error) {
	c := DeskConfig{}
	var parseErrs []error

	c.Env = strings.TrimSpace(os.Getenv("APP_ENV"))

	c.Calls.URL = strings.TrimSpace(os.Getenv("CALLS_API_URL"))
	c.Calls.Token = strings.TrimSpace(os.Getenv("CALLS_API_TOKEN"))
	c.Calls.Timeout = mustDuration("CALLS_API_TIMEOUT")

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if v := strings.TrimSpace(os.Getenv("REDIS_PORT")); v != "" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Desk.AgentID = strings.TrimSpace(os.Getenv("DESK_AGENT_ID"))
	c.Desk.HistoryKey = strings.TrimSpace(os.Getenv("DESK_HISTORY_KEY"))
	c.Desk.DraftKey = strings.TrimSpace(os.Getenv("DESK_DRAFT_KEY"))
	c.Desk.EventsChannel = strings.TrimSpace(os.Getenv("DESK_EVENTS_CHANNEL"))
	if v := strings.TrimSpace(os.Getenv("DESK_HOLD_TICK_ON_START")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("DESK_HOLD_TICK_ON_START must be a boolean, got %q", v))
		}
		c.Desk.HoldTickOnStart = b
	}
	c.Desk.CustomFields = strings.TrimSpace(os.Getenv("DESK_CUSTOM_FIELDS"))

	if err := joinErrors(parseErrs); err != nil {
		return DeskConfig{}, err
	}
	if err := c.Validate(); err != nil {
		return DeskConfig{}, err
	}
	return c, nil
}

func (c *DeskConfig) Validate() error {
	var errs []error

	errs = append(errs, validateEnv(c.Env)...)

	if c.Calls.URL != "" {
		u, err := url.Parse(c.Calls.URL)
		if err != nil || !u.IsAbs() {
			errs = append(errs, fmt.Errorf("CALLS_API_URL must be an absolute URL, got %q", c.Calls.URL))
		}
	}
	if c.Calls.Token != "" && c.Calls.URL == "" {
		errs = append(errs, errors.New("CALLS_API_URL is required when CALLS_API_TOKEN is set"))
	}
	if c.Calls.Timeout <= 0 {
		c.Calls.Timeout = 15 * time.Second
	}

	if c.Redis.Host != "" && c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.Port < 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}
	if c.Redis.Host == "" && c.Env == "production" {
		errs = append(errs, errors.New("REDIS_HOST is required in production"))
	}

	if c.Desk.AgentID == "" {
		c.Desk.AgentID = "local"
	}
	if c.Desk.CustomFields != "" {
		var s calls.Schema
		if err := json.Unmarshal([]byte(c.Desk.CustomFields), &s); err != nil {
			errs = append(errs, fmt.Errorf("DESK_CUSTOM_FIELDS must be a JSON array of field definitions: %v", err))
		} else if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("DESK_CUSTOM_FIELDS: %v", err))
		} else {
			c.Desk.Schema = s
		}
	}

	return joinErrors(errs)
}

// RemoteMode reports whether the desk talks to the remote record store.
func (c DeskConfig) RemoteMode() bool {
	return c.Calls.Token != ""
}

// UsesRedis reports whether the local layout lives in Redis rather than memory.
func (c DeskConfig) UsesRedis() bool {
	return c.Redis.Host != ""
}

func (c DeskConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func validateEnv(env string) []error {
	if env == "" {
		return []error{errors.New("APP_ENV is required")}
	}
	if !isValidEnv(env) {
		return []error{fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", env)}
	}
	return nil
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
