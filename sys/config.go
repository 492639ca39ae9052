package sys

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names
const (
	EnvDiscordToken            = "DISCORD_TOKEN"
	EnvGuildID                 = "GUILD_ID"
	EnvDatabasePath            = "DATABASE_PATH"
	EnvDownloadDir             = "DOWNLOAD_DIR"
	EnvIdleTimeout             = "IDLE_TIMEOUT"
	EnvCacheTTL                = "CACHE_TTL"
	EnvForceDownload           = "FORCE_DOWNLOAD"
	EnvForceDownloadFragmented = "FORCE_DOWNLOAD_FRAGMENTED"
	EnvMaxPlaylistItems        = "MAX_PLAYLIST_ITEMS"
	EnvDownloadWorkers         = "DOWNLOAD_WORKERS"
	EnvOwnerIDs                = "OWNER_IDS"
	EnvSilent                  = "SILENT"
)

type Config struct {
	Token        string
	GuildID      string
	DatabasePath string
	OwnerIDs     []string

	// Playback
	DownloadDir             string
	IdleTimeout             time.Duration
	CacheTTL                time.Duration
	ForceDownload           bool
	ForceDownloadFragmented bool
	MaxPlaylistItems        int
	DownloadWorkers         int

	Silent bool
}

var GlobalConfig *Config

// LoadConfig reads .env if present, then the environment, and installs
// the result as GlobalConfig.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Token:                   os.Getenv(EnvDiscordToken),
		GuildID:                 os.Getenv(EnvGuildID),
		DatabasePath:            os.Getenv(EnvDatabasePath),
		DownloadDir:             envString(EnvDownloadDir, ".tracks"),
		IdleTimeout:             envDuration(EnvIdleTimeout, 30*time.Second),
		CacheTTL:                envDuration(EnvCacheTTL, 5*time.Minute),
		ForceDownload:           envBool(EnvForceDownload, false),
		ForceDownloadFragmented: envBool(EnvForceDownloadFragmented, true),
		MaxPlaylistItems:        envInt(EnvMaxPlaylistItems, 20),
		DownloadWorkers:         envInt(EnvDownloadWorkers, 3),
		Silent:                  envBool(EnvSilent, false),
	}

	if raw := os.Getenv(EnvOwnerIDs); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			id = strings.TrimSpace(id)
			if id != "" {
				cfg.OwnerIDs = append(cfg.OwnerIDs, id)
			}
		}
	}

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(".", GetProjectName()+".db")
	}
	if cfg.MaxPlaylistItems > 50 {
		cfg.MaxPlaylistItems = 50
	}
	if cfg.MaxPlaylistItems < 1 {
		cfg.MaxPlaylistItems = 1
	}
	if cfg.DownloadWorkers < 1 {
		cfg.DownloadWorkers = 1
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	GlobalConfig = cfg
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("%s is required", EnvDiscordToken)
	}
	if c.GuildID != "" {
		if len(c.GuildID) < 17 || len(c.GuildID) > 20 {
			return fmt.Errorf("%s does not look like a snowflake: %q", EnvGuildID, c.GuildID)
		}
	}
	return nil
}

func (c *Config) IsOwner(userID string) bool {
	for _, id := range c.OwnerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// GetProjectName returns the executable basename, falling back to the
// module name when running under `go run` style temp binaries.
func GetProjectName() string {
	name := "hootbot"
	if exe, err := os.Executable(); err == nil {
		base := filepath.Base(exe)
		base = strings.TrimSuffix(base, filepath.Ext(base))
		if base != "main" && !strings.HasPrefix(base, "go_build_") && base != "" {
			name = base
		}
	}
	return name
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	// bare number means seconds
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}
