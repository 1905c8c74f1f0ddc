package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port %d, want 8080", cfg.Server.Port)
	}
	if cfg.RateLimit.MaxConcurrentPerIP != 2 || cfg.RateLimit.MinGap != 5*time.Second {
		t.Errorf("rate limit defaults: %+v", cfg.RateLimit)
	}
	if cfg.Cache.FlushInterval != 30*time.Minute {
		t.Errorf("flush interval %v, want 30m", cfg.Cache.FlushInterval)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoadYAMLWithExpansion(t *testing.T) {
	t.Setenv("TEST_STREAMGATE_HASH", "abc123")

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: 9090
upstream:
  api_hash: ${TEST_STREAMGATE_HASH}
domains:
  fqdn: media.example
  has_ssl: true
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port %d, want 9090", cfg.Server.Port)
	}
	if cfg.Upstream.APIHash != "abc123" {
		t.Errorf("api_hash %q, want expanded env value", cfg.Upstream.APIHash)
	}
	if cfg.Domains.FQDN != "media.example" || !cfg.Domains.HasSSL {
		t.Errorf("domains: %+v", cfg.Domains)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("PORT", "7777")
	t.Setenv("BOT_TOKEN", "tok-env")
	t.Setenv("BIN_CHANNEL", "-100999")
	t.Setenv("HAS_SSL", "True")
	t.Setenv("SERVE_DOMAIN", "webx")
	t.Setenv("SLEEP_THRESHOLD", "90")
	t.Setenv("OWNER_ID", "11 22")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("port %d, env must override the file", cfg.Server.Port)
	}
	if cfg.Upstream.BotToken != "tok-env" || cfg.Upstream.ArchiveChannel != -100999 {
		t.Errorf("upstream: %+v", cfg.Upstream)
	}
	if !cfg.Domains.HasSSL || cfg.Domains.ServeDomain != "webx" {
		t.Errorf("domains: %+v", cfg.Domains)
	}
	if cfg.Upstream.SleepThreshold != 90*time.Second {
		t.Errorf("sleep threshold %v, want 90s", cfg.Upstream.SleepThreshold)
	}
	if len(cfg.Upstream.OwnerIDs) != 2 || cfg.Upstream.OwnerIDs[0] != 11 {
		t.Errorf("owner ids %v", cfg.Upstream.OwnerIDs)
	}
}

func TestBotTokens(t *testing.T) {
	u := UpstreamConfig{BotToken: "a", ExtraTokens: []string{"b", "c"}, Workers: 2}

	if got := u.BotTokens(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("single client tokens %v, want [a]", got)
	}

	u.MultiClient = true
	if got := u.BotTokens(); len(got) != 2 || got[1] != "b" {
		t.Fatalf("multi client tokens %v, want capped at workers", got)
	}

	u.Workers = 0
	if got := u.BotTokens(); len(got) != 3 {
		t.Fatalf("uncapped tokens %v, want all 3", got)
	}
}

func TestDomainHost(t *testing.T) {
	d := DomainConfig{FQDN: "main.example", WebHost: "web.example", WebxHost: "webx.example"}

	if got := d.Host(); got != "main.example" {
		t.Errorf("no serve domain: %q", got)
	}
	d.ServeDomain = "web"
	if got := d.Host(); got != "web.example" {
		t.Errorf("web: %q", got)
	}
	d.ServeDomain = "webx"
	if got := d.Host(); got != "webx.example" {
		t.Errorf("webx: %q", got)
	}
	d.WebxHost = ""
	if got := d.Host(); got != "main.example" {
		t.Errorf("webx without host falls back: %q", got)
	}
}
