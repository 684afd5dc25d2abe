package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if len(cfg.Seed.Divisions) != 1 || len(cfg.Seed.Divisions[0].Blocks) != 3 {
		t.Fatalf("unexpected seed divisions: %+v", cfg.Seed.Divisions)
	}
	if cfg.FetchTimeout() != 10*time.Second || cfg.TokenTTL() != 24*time.Hour {
		t.Fatalf("durations: %v %v", cfg.FetchTimeout(), cfg.TokenTTL())
	}
}

func TestValidateRejectsBadSeed(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown division": func(c *Config) { c.Seed.Users[0].Division = "Nowhere" },
		"unknown block":    func(c *Config) { c.Seed.Users[1].Block = "Nowhere" },
		"bad role":         func(c *Config) { c.Seed.Users[0].Role = "ROOT" },
		"duplicate email":  func(c *Config) { c.Seed.Users[1].Email = c.Seed.Users[0].Email },
		"duplicate block": func(c *Config) {
			c.Seed.Divisions[0].Blocks = append(c.Seed.Divisions[0].Blocks, c.Seed.Divisions[0].Blocks[0])
		},
		"bad timeout":   func(c *Config) { c.Console.FetchTimeout = "soon" },
		"bad base path": func(c *Config) { c.Server.BasePath = "api" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "config init") {
		t.Fatalf("expected missing config hint, got %v", err)
	}
	cfg, err := LoadOptional(dir)
	if err != nil || cfg.Server.Addr == "" {
		t.Fatalf("load optional: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Seed.Users[1].Password != "123123" {
		t.Fatalf("numeric password should stay a string: %q", loaded.Seed.Users[1].Password)
	}
	out, err := loaded.YAML()
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if _, err := FromYAML([]byte(out)); err != nil {
		t.Fatalf("rendered yaml does not validate: %v", err)
	}
}
