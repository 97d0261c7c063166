package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
)

type Config struct {
	Port       string
	DBPath     string
	UpdatesDir string
	LogLevel   slog.Level

	LegacyGeoShim        bool
	DuplicateEventPolicy string

	MaxRoomHistory     int
	CompactionInterval time.Duration
	MaxUploadSize      int64

	MessagesPerSecond    float64
	MessageBurst         int
	ConnectionsPerMinute int
}

func Default() Config {
	return Config{
		Port:                 "8080",
		DBPath:               "./data/drawsync.db",
		UpdatesDir:           "./static/updates",
		LogLevel:             slog.LevelInfo,
		DuplicateEventPolicy: "suppress",
		MaxRoomHistory:       1000,
		CompactionInterval:   5 * time.Minute,
		MaxUploadSize:        100 << 20,
		MessagesPerSecond:    100,
		MessageBurst:         200,
		ConnectionsPerMinute: 30,
	}
}

// Load reads an optional .env file, then the process environment.
// Unset variables keep their defaults; malformed ones are an error.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function such as os.Getenv
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()
	var err error

	if v := getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := getenv("DRAWSYNC_DB_PATH"); v != "" {
		if cfg.DBPath, err = homedir.Expand(v); err != nil {
			return cfg, errors.Wrap(err, "DRAWSYNC_DB_PATH")
		}
	}
	if v := getenv("DRAWSYNC_UPDATES_DIR"); v != "" {
		if cfg.UpdatesDir, err = homedir.Expand(v); err != nil {
			return cfg, errors.Wrap(err, "DRAWSYNC_UPDATES_DIR")
		}
	}

	switch strings.ToLower(getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	}

	if v := getenv("LEGACY_GEO_SHIM"); v != "" {
		if cfg.LegacyGeoShim, err = strconv.ParseBool(v); err != nil {
			return cfg, errors.Wrap(err, "LEGACY_GEO_SHIM")
		}
	}

	if v := getenv("DUPLICATE_EVENT_POLICY"); v != "" {
		v = strings.ToLower(v)
		if v != "suppress" && v != "forward" {
			return cfg, errors.Errorf("DUPLICATE_EVENT_POLICY: unknown policy %q", v)
		}
		cfg.DuplicateEventPolicy = v
	}

	if v := getenv("MAX_ROOM_HISTORY"); v != "" {
		if cfg.MaxRoomHistory, err = strconv.Atoi(v); err != nil {
			return cfg, errors.Wrap(err, "MAX_ROOM_HISTORY")
		}
	}
	if v := getenv("COMPACTION_INTERVAL"); v != "" {
		if cfg.CompactionInterval, err = time.ParseDuration(v); err != nil {
			return cfg, errors.Wrap(err, "COMPACTION_INTERVAL")
		}
	}
	if v := getenv("MAX_UPLOAD_SIZE"); v != "" {
		if cfg.MaxUploadSize, err = strconv.ParseInt(v, 10, 64); err != nil {
			return cfg, errors.Wrap(err, "MAX_UPLOAD_SIZE")
		}
	}
	if v := getenv("MESSAGES_PER_SECOND"); v != "" {
		if cfg.MessagesPerSecond, err = strconv.ParseFloat(v, 64); err != nil {
			return cfg, errors.Wrap(err, "MESSAGES_PER_SECOND")
		}
	}
	if v := getenv("MESSAGE_BURST"); v != "" {
		if cfg.MessageBurst, err = strconv.Atoi(v); err != nil {
			return cfg, errors.Wrap(err, "MESSAGE_BURST")
		}
	}
	if v := getenv("CONNECTIONS_PER_MINUTE"); v != "" {
		if cfg.ConnectionsPerMinute, err = strconv.Atoi(v); err != nil {
			return cfg, errors.Wrap(err, "CONNECTIONS_PER_MINUTE")
		}
	}

	return cfg, nil
}
