package config

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
)

// TestLoadDefaults tests that a bare environment yields a runnable config
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ContainerName != "migverify-postgres" {
		t.Errorf("Expected default container name, got %s", cfg.ContainerName)
	}
	if cfg.PostgresPort != 5432 {
		t.Errorf("Expected default port 5432, got %d", cfg.PostgresPort)
	}
	if cfg.FixtureModule != "user_sessions" {
		t.Errorf("Expected default fixture module user_sessions, got %s", cfg.FixtureModule)
	}
	if cfg.FixtureCount != 3 {
		t.Errorf("Expected default fixture count 3, got %d", cfg.FixtureCount)
	}
}

// TestLoadEnvOverride tests MIGVERIFY_* environment overrides
func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MIGVERIFY_CONTAINER_NAME", "custom-pg")
	t.Setenv("MIGVERIFY_POSTGRES_PORT", "15432")
	t.Setenv("MIGVERIFY_FIXTURE_COUNT", "7")

	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ContainerName != "custom-pg" {
		t.Errorf("Expected container name custom-pg, got %s", cfg.ContainerName)
	}
	if cfg.PostgresPort != 15432 {
		t.Errorf("Expected port 15432, got %d", cfg.PostgresPort)
	}
	if cfg.FixtureCount != 7 {
		t.Errorf("Expected fixture count 7, got %d", cfg.FixtureCount)
	}
}

// TestDSN tests the lib/pq connection string
func TestDSN(t *testing.T) {
	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	dsn := cfg.DSN()
	for _, part := range []string{"host=localhost", "port=5432", "dbname=migverify", "sslmode=disable"} {
		if !strings.Contains(dsn, part) {
			t.Errorf("Expected DSN to contain %q, got %s", part, dsn)
		}
	}
}

// TestSubjectEnv tests the generated subject environment
func TestSubjectEnv(t *testing.T) {
	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	env := cfg.SubjectEnv()
	if env["ZO_META_STORE"] != "postgres" {
		t.Errorf("Expected postgres meta store, got %s", env["ZO_META_STORE"])
	}
	if env["ZO_LOCAL_MODE"] != "true" {
		t.Errorf("Expected local mode true, got %s", env["ZO_LOCAL_MODE"])
	}
	if !strings.Contains(env["ZO_META_POSTGRES_DSN"], "5432/migverify") {
		t.Errorf("Expected DSN with port and db, got %s", env["ZO_META_POSTGRES_DSN"])
	}
}

// TestValidate tests rejection of unusable configs
func TestValidate(t *testing.T) {
	base, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty container name", func(c *Config) { c.ContainerName = "" }},
		{"zero port", func(c *Config) { c.PostgresPort = 0 }},
		{"port out of range", func(c *Config) { c.PostgresPort = 70000 }},
		{"no build command", func(c *Config) { c.BuildCommand = nil }},
		{"no subject command", func(c *Config) { c.SubjectCommand = nil }},
		{"zero fixtures", func(c *Config) { c.FixtureCount = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}
