package sys

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	sqlite3 "github.com/mattn/go-sqlite3"
)

const (
	MsgDatabasePragmaError = "pragma %q failed: %w"
	MsgDatabaseTableError  = "table creation failed: %w"
	MsgDBMigrationFail     = "migration failed: %w"
)

var DB *sql.DB

func InitDatabase(ctx context.Context, dataSourceName string) error {
	_ = sqlite3.SQLiteDriver{}

	var err error
	DB, err = sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return err
	}

	DB.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA cache_size=-2000;",
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, p := range pragmas {
		if _, err := DB.ExecContext(initCtx, p); err != nil {
			return fmt.Errorf(MsgDatabasePragmaError, p, err)
		}
	}

	tx, err := DB.BeginTx(initCtx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS bot_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS play_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			url TEXT NOT NULL,
			title TEXT NOT NULL,
			uploader TEXT,
			requester_id TEXT NOT NULL,
			played_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_play_history_guild_id ON play_history(guild_id)`,
	}

	for _, q := range tableQueries {
		if _, err := tx.ExecContext(initCtx, q); err != nil {
			return fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	migrations := []string{
		"ALTER TABLE play_history ADD COLUMN uploader TEXT",
		"CREATE INDEX IF NOT EXISTS idx_play_history_url ON play_history(url)",
	}

	for _, m := range migrations {
		if _, err := DB.ExecContext(initCtx, m); err != nil {
			if !strings.Contains(err.Error(), "duplicate column") {
				return fmt.Errorf(MsgDBMigrationFail, err)
			}
		}
	}

	return nil
}

func CloseDatabase() {
	if DB != nil {
		DB.Close()
	}
}

// BotConfig helpers are used by the loader for mode tracking and state.
func GetBotConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := DB.QueryRowContext(ctx, "SELECT value FROM bot_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func SetBotConfig(ctx context.Context, key, value string) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO bot_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// --- Play history ---

type PlayRecord struct {
	GuildID     snowflake.ID
	ChannelID   snowflake.ID
	URL         string
	Title       string
	Uploader    string
	RequesterID snowflake.ID
	PlayedAt    time.Time
}

func RecordPlay(ctx context.Context, r *PlayRecord) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO play_history (guild_id, channel_id, url, title, uploader, requester_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.GuildID.String(), r.ChannelID.String(), r.URL, r.Title, r.Uploader, r.RequesterID.String())
	return err
}

type TopTrack struct {
	URL      string
	Title    string
	Uploader string
	Plays    int
}

// GetTopTracks returns the most played tracks for a guild, most played first.
func GetTopTracks(ctx context.Context, guildID snowflake.ID, limit int) ([]TopTrack, error) {
	rows, err := DB.QueryContext(ctx, `
		SELECT url, title, COALESCE(uploader, ''), COUNT(*) as plays
		FROM play_history
		WHERE guild_id = ?
		GROUP BY url
		ORDER BY plays DESC, MAX(played_at) DESC
		LIMIT ?
	`, guildID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []TopTrack
	for rows.Next() {
		var t TopTrack
		if err := rows.Scan(&t.URL, &t.Title, &t.Uploader, &t.Plays); err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

func GetPlayCount(ctx context.Context, guildID snowflake.ID) (int, error) {
	var count int
	err := DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM play_history WHERE guild_id = ?", guildID.String()).Scan(&count)
	return count, err
}

func GetTotalPlayCount(ctx context.Context) (int, error) {
	var count int
	err := DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM play_history").Scan(&count)
	return count, err
}
