package sys

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv(EnvDiscordToken, "test-token")
	t.Setenv(EnvGuildID, "")
	t.Setenv(EnvDatabasePath, "")
	t.Setenv(EnvDownloadDir, "")
	t.Setenv(EnvIdleTimeout, "")
	t.Setenv(EnvCacheTTL, "")
	t.Setenv(EnvForceDownload, "")
	t.Setenv(EnvForceDownloadFragmented, "")
	t.Setenv(EnvMaxPlaylistItems, "")
	t.Setenv(EnvDownloadWorkers, "")
	t.Setenv(EnvOwnerIDs, "")
	t.Setenv(EnvSilent, "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.DownloadDir != ".tracks" {
		t.Errorf("DownloadDir = %q", cfg.DownloadDir)
	}
	if cfg.IdleTimeout != 30*time.Second {
		t.Errorf("IdleTimeout = %v", cfg.IdleTimeout)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL = %v", cfg.CacheTTL)
	}
	if cfg.ForceDownload {
		t.Error("ForceDownload should default to false")
	}
	if !cfg.ForceDownloadFragmented {
		t.Error("ForceDownloadFragmented should default to true")
	}
	if cfg.MaxPlaylistItems != 20 {
		t.Errorf("MaxPlaylistItems = %d", cfg.MaxPlaylistItems)
	}
	if cfg.DownloadWorkers != 3 {
		t.Errorf("DownloadWorkers = %d", cfg.DownloadWorkers)
	}
}

func TestLoadConfigClampsPlaylistItems(t *testing.T) {
	t.Setenv(EnvDiscordToken, "test-token")
	t.Setenv(EnvGuildID, "")
	t.Setenv(EnvMaxPlaylistItems, "500")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.MaxPlaylistItems != 50 {
		t.Errorf("expected clamp to 50, got %d", cfg.MaxPlaylistItems)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing token")
	}

	cfg.Token = "token"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	cfg.GuildID = "not-a-snowflake"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for malformed guild ID")
	}

	cfg.GuildID = "123456789012345678"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "45s")
	if d := envDuration("TEST_DUR", time.Minute); d != 45*time.Second {
		t.Errorf("expected 45s, got %v", d)
	}

	// Bare numbers mean seconds.
	t.Setenv("TEST_DUR", "90")
	if d := envDuration("TEST_DUR", time.Minute); d != 90*time.Second {
		t.Errorf("expected 90s, got %v", d)
	}

	t.Setenv("TEST_DUR", "garbage")
	if d := envDuration("TEST_DUR", time.Minute); d != time.Minute {
		t.Errorf("expected fallback, got %v", d)
	}
}

func TestIsOwner(t *testing.T) {
	cfg := &Config{OwnerIDs: []string{"111", "222"}}
	if !cfg.IsOwner("111") || !cfg.IsOwner("222") {
		t.Error("expected configured owners to match")
	}
	if cfg.IsOwner("333") {
		t.Error("expected unknown ID to not match")
	}
}
