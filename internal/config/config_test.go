package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("MOSAPI_URL", "https://mosapi.icann.org/mosapi/v1")
	t.Setenv("MOSAPI_TLDS", "example,test")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.EntityType != "ry" {
		t.Errorf("EntityType = %q, want ry", cfg.EntityType)
	}
	if len(cfg.TLDs) != 2 || cfg.TLDs[0] != "example" || cfg.TLDs[1] != "test" {
		t.Errorf("TLDs = %v", cfg.TLDs)
	}
	if len(cfg.Services) != 2 || cfg.Services[0] != "dns" {
		t.Errorf("Services = %v, want [dns rdds]", cfg.Services)
	}
	if cfg.TLDWorkers != 4 {
		t.Errorf("TLDWorkers = %d, want 4", cfg.TLDWorkers)
	}
	if cfg.StatePollInterval != 5*time.Minute {
		t.Errorf("StatePollInterval = %v", cfg.StatePollInterval)
	}
}

// mosapiUrl/mosapiServiceUrl and entityType/mosapiEntityType are synonyms;
// either spelling must be honoured.
func TestLoadSynonymKeys(t *testing.T) {
	t.Setenv("MOSAPI_SERVICE_URL", "https://alt.example.net/mosapi")
	t.Setenv("MOSAPI_ENTITY_TYPE", "rr")
	t.Setenv("MOSAPI_TLDS", "example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MosAPIURL != "https://alt.example.net/mosapi" {
		t.Errorf("MosAPIURL = %q", cfg.MosAPIURL)
	}
	if cfg.EntityType != "rr" {
		t.Errorf("EntityType = %q, want rr", cfg.EntityType)
	}
}

func TestLoadPrimarySpellingWins(t *testing.T) {
	setRequired(t)
	t.Setenv("MOSAPI_SERVICE_URL", "https://ignored.example.net")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MosAPIURL != "https://mosapi.icann.org/mosapi/v1" {
		t.Errorf("MosAPIURL = %q, want primary spelling", cfg.MosAPIURL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing url", func(c *Config) { c.MosAPIURL = "" }},
		{"bad entity type", func(c *Config) { c.EntityType = "registry" }},
		{"no tlds", func(c *Config) { c.TLDs = nil }},
		{"worker overrun", func(c *Config) { c.TLDWorkers = 5 }},
		{"zero workers", func(c *Config) { c.TLDWorkers = 0 }},
		{"zero metrics workers", func(c *Config) { c.MetricsWorkers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				MosAPIURL:      "https://mosapi.icann.org/mosapi/v1",
				EntityType:     "ry",
				TLDs:           []string{"example"},
				TLDWorkers:     4,
				MetricsWorkers: 4,
			}
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted an invalid config")
			}
		})
	}
}

func TestEnvStrSliceTrimsBlanks(t *testing.T) {
	t.Setenv("TEST_SLICE", " example , test ,,")
	got := envStrSlice("TEST_SLICE")
	if len(got) != 2 || got[0] != "example" || got[1] != "test" {
		t.Errorf("envStrSlice = %v", got)
	}
}
