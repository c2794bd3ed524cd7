package main

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"cert without key", func(c *Config) { c.tlsCert = "cert.pem" }, true},
		{"cert and key", func(c *Config) { c.tlsCert, c.tlsKey = "cert.pem", "key.pem" }, false},
		{"port zero", func(c *Config) { c.port = 0 }, true},
		{"port too high", func(c *Config) { c.port = 70000 }, true},
		{"log format", func(c *Config) { c.logFormat = "xml" }, true},
		{"one player", func(c *Config) { c.minPlayers = 1 }, true},
		{"no finalists", func(c *Config) { c.finalists = 0 }, true},
		{"finalists equal min players", func(c *Config) { c.finalists = 3 }, true},
		{"negative silver", func(c *Config) { c.startingSilver = -1 }, true},
		{"negative night", func(c *Config) { c.nightDuration = -time.Second }, true},
		{"no rate", func(c *Config) { c.rateLimit = 0 }, true},
		{"no burst", func(c *Config) { c.rateBurst = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			err := cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigTimeline(t *testing.T) {
	cfg := testConfig()
	cfg.minPlayers = 5
	cfg.finalists = 3
	cfg.startingSilver = 75
	cfg.nightDuration = time.Minute

	tl := cfg.timeline()
	assert.Equal(t, 5, tl.MinPlayers)
	assert.Equal(t, 3, tl.Finalists)
	assert.Equal(t, 75, tl.StartingSilver)
	assert.Equal(t, time.Minute, tl.NightDuration)
	assert.NotEmpty(t, tl.Days)
}

func TestCmdReadsEnvironment(t *testing.T) {
	t.Setenv("CASTAWAY_PORT", "9090")
	t.Setenv("CASTAWAY_MIN_PLAYERS", "6")
	t.Setenv("CASTAWAY_LOG_FORMAT", "json")

	cfg := &Config{}
	newCmd(cfg)

	assert.Equal(t, 9090, cfg.port)
	assert.Equal(t, 6, cfg.minPlayers)
	assert.Equal(t, "json", cfg.logFormat)
	assert.Equal(t, 2, cfg.finalists)
	require.NoError(t, cfg.validate())
}

func TestCmdDefaults(t *testing.T) {
	cfg := &Config{}
	newCmd(cfg)

	assert.Equal(t, "0.0.0.0", cfg.bind)
	assert.Equal(t, 8080, cfg.port)
	assert.Equal(t, "text", cfg.logFormat)
	assert.Equal(t, 3, cfg.minPlayers)
	assert.Equal(t, 50, cfg.startingSilver)
	assert.Empty(t, cfg.dbPath)
	require.NoError(t, cfg.validate())
}

func TestNewLogger(t *testing.T) {
	cfg := testConfig()

	log := newLogger(cfg)
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)

	cfg.verbose = true
	cfg.logFormat = "json"
	log = newLogger(cfg)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)
}
