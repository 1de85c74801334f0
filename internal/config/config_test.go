package config

import (
	"strings"
	"testing"
	"time"
)

func TestAPIValidate_ReportsMissingRequired(t *testing.T) {
	c := APIConfig{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"APP_ENV", "DB_HOST", "JWT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err.Error())
		}
	}
}

func TestAPIValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := APIConfig{
		App:  AppConfig{Env: "production", Port: 8080},
		DB:   DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "calldesk", SSLMode: ""},
		Auth: AuthConfig{JWTSecret: "secret", JWTIssuer: "calldesk", JWTAudience: "desk"},
		CORS: CORSConfig{AllowedOrigins: []string{"https://desk.example.com"}},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestAPIValidate_LocalDefaults(t *testing.T) {
	c := APIConfig{
		App:  AppConfig{Env: "local", Port: 8080},
		DB:   DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "calldesk"},
		Auth: AuthConfig{JWTSecret: "secret"},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if len(c.CORS.AllowedOrigins) != 1 || c.CORS.AllowedOrigins[0] != "*" {
		t.Fatalf("expected permissive local CORS, got %v", c.CORS.AllowedOrigins)
	}
	if c.Auth.AccessTokenTTL != 12*time.Hour {
		t.Fatalf("expected access ttl default, got %v", c.Auth.AccessTokenTTL)
	}
}

func TestAPIValidate_ProductionRejectsWildcardCORS(t *testing.T) {
	c := APIConfig{
		App:  AppConfig{Env: "production", Port: 8080},
		DB:   DBConfig{Host: "db", Port: 5432, User: "u", Name: "calldesk", SSLMode: "require"},
		Auth: AuthConfig{JWTSecret: "secret", JWTIssuer: "calldesk", JWTAudience: "desk"},
		CORS: CORSConfig{AllowedOrigins: []string{"*"}},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected wildcard CORS rejected in production")
	}
}

func TestLoadDesk_LocalModeWithoutToken(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("CALLS_API_URL", "")
	t.Setenv("CALLS_API_TOKEN", "")
	t.Setenv("REDIS_HOST", "")
	t.Setenv("REDIS_PORT", "")
	t.Setenv("DESK_CUSTOM_FIELDS", "")

	c, err := LoadDesk()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.RemoteMode() || c.UsesRedis() {
		t.Fatalf("expected local memory desk: %+v", c)
	}
	if c.Desk.AgentID != "local" || c.Calls.Timeout != 15*time.Second {
		t.Fatalf("expected defaults: %+v", c)
	}
}

func TestLoadDesk_RemoteModeAndSchema(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("CALLS_API_URL", "http://localhost:8080/v1")
	t.Setenv("CALLS_API_TOKEN", "tok")
	t.Setenv("REDIS_HOST", "localhost")
	t.Setenv("REDIS_PORT", "")
	t.Setenv("DESK_HOLD_TICK_ON_START", "true")
	t.Setenv("DESK_CUSTOM_FIELDS", `[{"id":"reason","label":"Reason","type":"select","options":["billing","tech"],"includeInNotes":true}]`)

	c, err := LoadDesk()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !c.RemoteMode() || !c.Desk.HoldTickOnStart {
		t.Fatalf("unexpected config: %+v", c)
	}
	if c.RedisAddr() != "localhost:6379" {
		t.Fatalf("expected default redis port, got %q", c.RedisAddr())
	}
	if len(c.Desk.Schema) != 1 || c.Desk.Schema[0].Label != "Reason" {
		t.Fatalf("expected parsed schema, got %+v", c.Desk.Schema)
	}
}

func TestDeskValidate_Problems(t *testing.T) {
	c := DeskConfig{
		Env:   "local",
		Calls: CallsAPIConfig{Token: "tok"},
		Desk:  DeskSettings{CustomFields: `[{"id":"x","type":"select"}]`},
	}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected errors")
	}
	if !strings.Contains(err.Error(), "CALLS_API_URL") || !strings.Contains(err.Error(), "DESK_CUSTOM_FIELDS") {
		t.Fatalf("expected both problems reported, got %q", err.Error())
	}
}
