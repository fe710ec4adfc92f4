package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type nested struct {
	Addr    string        `yaml:"addr"`
	Timeout time.Duration `yaml:"timeout"`
}

type sample struct {
	Name    string   `yaml:"name" env:"SAMPLE_NAME"`
	Retries int      `yaml:"retries"`
	Debug   bool     `yaml:"debug"`
	Tags    []string `yaml:"tags" env:"SAMPLE_TAGS"`
	Upper   nested   `yaml:"upper"`
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	yamlBody := "name: from-file\nretries: 2\nupper:\n  addr: file:1\n  timeout: 3s\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SAMPLE_NAME", "from-env")
	t.Setenv("SAMPLE_TAGS", "G, D,,K")
	t.Setenv("UPPER_TIMEOUT", "1500ms")
	t.Setenv("DEBUG", "true")

	var cfg sample
	if err := LoadConfig(&cfg); err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Name != "from-env" {
		t.Fatalf("expected env override, got %q", cfg.Name)
	}
	if cfg.Retries != 2 {
		t.Fatalf("expected retries from file, got %d", cfg.Retries)
	}
	if !cfg.Debug {
		t.Fatalf("expected debug from env")
	}
	if cfg.Upper.Addr != "file:1" {
		t.Fatalf("expected nested addr from file, got %q", cfg.Upper.Addr)
	}
	if cfg.Upper.Timeout != 1500*time.Millisecond {
		t.Fatalf("expected timeout 1.5s, got %s", cfg.Upper.Timeout)
	}
	if len(cfg.Tags) != 3 || cfg.Tags[0] != "G" || cfg.Tags[2] != "K" {
		t.Fatalf("unexpected tags %v", cfg.Tags)
	}
}

func TestLoadConfigBareSecondsDuration(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("UPPER_TIMEOUT", "7")

	var cfg sample
	if err := LoadConfig(&cfg); err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Upper.Timeout != 7*time.Second {
		t.Fatalf("expected 7s, got %s", cfg.Upper.Timeout)
	}
}

func TestLoadConfigRejectsNonPointer(t *testing.T) {
	if err := LoadConfig(sample{}); err == nil {
		t.Fatalf("expected error for non-pointer target")
	}
}

func TestLoadConfigReportsParseError(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("RETRIES", "many")

	var cfg sample
	if err := LoadConfig(&cfg); err == nil {
		t.Fatalf("expected parse error")
	}
}
