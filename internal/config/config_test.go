package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.False(t, cfg.LegacyGeoShim)
	assert.Equal(t, "suppress", cfg.DuplicateEventPolicy)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"PORT":                   "9000",
		"DRAWSYNC_DB_PATH":       "~/drawsync/test.db",
		"LOG_LEVEL":              "DEBUG",
		"LEGACY_GEO_SHIM":        "true",
		"DUPLICATE_EVENT_POLICY": "forward",
		"MAX_ROOM_HISTORY":       "50",
		"COMPACTION_INTERVAL":    "30s",
		"MESSAGES_PER_SECOND":    "2.5",
	}))
	require.NoError(t, err)

	home, err := homedir.Dir()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, home+"/drawsync/test.db", cfg.DBPath)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.True(t, cfg.LegacyGeoShim)
	assert.Equal(t, "forward", cfg.DuplicateEventPolicy)
	assert.Equal(t, 50, cfg.MaxRoomHistory)
	assert.Equal(t, 30*time.Second, cfg.CompactionInterval)
	assert.Equal(t, 2.5, cfg.MessagesPerSecond)
}

func TestFromEnvRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"LEGACY_GEO_SHIM":        "maybe",
		"DUPLICATE_EVENT_POLICY": "drop",
		"MAX_ROOM_HISTORY":       "lots",
		"COMPACTION_INTERVAL":    "5 minutes",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			_, err := FromEnv(envMap(map[string]string{key: value}))
			assert.ErrorContains(t, err, key)
		})
	}
}
