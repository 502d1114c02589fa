package commands

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mailflow/mailflow/internal/build"
	"github.com/mailflow/mailflow/internal/db"
)

// newLogger builds a text logger at the requested level. When a log
// directory is configured, output is mirrored to a rotating file there
// and the returned closer flushes it on shutdown.
func newLogger(level, dir string) (*slog.Logger, io.Closer, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("unknown log level %q", level)
	}

	var (
		out    io.Writer = os.Stderr
		closer io.Closer
	)
	if dir != "" {
		rotatorCfg := build.DefaultLogRotatorConfig()
		rotatorCfg.LogDir = dir

		writer := build.NewRotatingLogWriter()
		if err := writer.InitLogRotator(rotatorCfg); err != nil {
			return nil, nil, fmt.Errorf(
				"init log rotator: %w", err,
			)
		}

		out = io.MultiWriter(os.Stderr, writer)
		closer = writer
	}

	log := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: lvl,
	}))

	return log, closer, nil
}

// resolveDBPath returns the database path from the --db flag, expanding
// a leading ~, falling back to the default location.
func resolveDBPath() (string, error) {
	path := dbPath
	if path == "" {
		return db.DefaultDBPath()
	}

	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf(
				"failed to get home directory: %w", err,
			)
		}
		path = home + path[1:]
	}

	return path, nil
}

// openDatabase opens the SQLite database and applies pending migrations.
func openDatabase(log *slog.Logger) (*sql.DB, error) {
	path, err := resolveDBPath()
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.ApplyMigrations(sqlDB, log); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	log.Info("Database ready", "path", path)

	return sqlDB, nil
}
