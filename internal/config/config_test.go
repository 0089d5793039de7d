package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "remindbot/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(filepath.Join(t.TempDir(), "absent.yaml"))
	m.SetGetenv(envMap(nil))

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
	assert.Same(t, cfg, m.Get())

	d, err := cfg.Durations()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d.PollTimeout)
	assert.Equal(t, 3*time.Second, d.ConnectRetryDelay)
	assert.Equal(t, 60*time.Second, d.DeliveryTimeout)
}

func TestLoadYAMLOverlaysDefaultsAndEnvWins(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
telegram:
  token: from-file
  poll_timeout: 30s
storage:
  driver: file
  path: ./data/store
reminders:
  rate_per_sec: 5
log_retention:
  enabled: false
`), 0o600))

	m := NewConfigManager(path)
	m.SetGetenv(envMap(map[string]string{EnvToken: "from-env", EnvLogLevel: "debug"}))
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Telegram.Token)
	assert.Equal(t, "30s", cfg.Telegram.PollTimeout)
	assert.Equal(t, 5, cfg.Telegram.ConnectRetries)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, "./data/store", cfg.Storage.Path)
	assert.Equal(t, 5, cfg.Reminders.RatePerSec)
	assert.Equal(t, 1000, cfg.Reminders.RecoverLimit)
	assert.False(t, cfg.LogRetention.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"storage":{"driver":"sqlite","path":"x.db","cache":true}}`), 0o600))
	_, err := NewConfigManager(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache")
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"bad duration", func(c *Config) { c.Reminders.SendTimeout = "soon" }, "reminders.send_timeout"},
		{"negative duration", func(c *Config) { c.Telegram.PollTimeout = "-1s" }, "telegram.poll_timeout"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"postgres needs dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"retention days", func(c *Config) { c.LogRetention.DaysToKeep = 0 }, "log_retention.days_to_keep"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"ops addr", func(c *Config) { c.Ops.Enabled = true; c.Ops.Addr = "" }, "ops.addr"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mut(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
	require.NoError(t, Defaults().Validate())
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := Defaults()
	newCfg := Defaults()
	assert.True(t, SummarizeConfigChange(oldCfg, newCfg).Empty())

	newCfg.Logging.Level = "debug"
	newCfg.Storage.DSN = "postgres://secret@db/remindbot"
	newCfg.Storage.Driver = "postgres"
	ch := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"logging", "storage"}, ch.Sections)
	assert.Equal(t, []string{"storage"}, ch.RestartRequired)

	var buf bytes.Buffer
	logx.NewWriter(&buf, "info").Info("config changed", ch.Attrs...)
	assert.Contains(t, buf.String(), `"storage.dsn_set":true`)
	assert.NotContains(t, buf.String(), "secret")
}

func TestApplyEnvIgnoresBlank(t *testing.T) {
	t.Parallel()
	cfg := Defaults()
	ApplyEnv(cfg, envMap(map[string]string{EnvStorageDriver: "  ", EnvStoragePath: "/var/lib/remindbot.db"}))
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "/var/lib/remindbot.db", cfg.Storage.Path)
}

func TestLoadDotenvMissingIsNotAnError(t *testing.T) {
	t.Parallel()
	loaded, err := LoadDotenv(filepath.Join(t.TempDir(), "nope.env"))
	require.NoError(t, err)
	assert.False(t, loaded)
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600))

	m := NewConfigManager(path)
	m.SetGetenv(envMap(nil))
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register the directory.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: bogus\n"), 0o600))
	time.Sleep(500 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600))

	select {
	case cfg := <-ch:
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "debug", m.Get().Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw  string
		want time.Duration
		err  bool
	}{
		{"", 0, false},
		{"1m30s", 90 * time.Second, false},
		{" 15 ", 15 * time.Second, false},
		{"-2s", 0, true},
		{"-2", 0, true},
		{"later", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("x", tc.raw)
		if tc.err {
			assert.Error(t, err, tc.raw)
			continue
		}
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestDecodeWithoutExtension(t *testing.T) {
	t.Parallel()
	cfg := Defaults()
	require.NoError(t, decodeInto(cfg, "remindbot.conf", []byte("ops:\n  enabled: true\n")))
	assert.True(t, cfg.Ops.Enabled)

	require.NoError(t, decodeInto(cfg, "remindbot.conf", []byte(`{"ops":{"addr":"127.0.0.1:9000"}}`)))
	assert.Equal(t, "127.0.0.1:9000", cfg.Ops.Addr)

	assert.Error(t, decodeInto(cfg, "c.json", []byte(`{"ops":{}} {"ops":{}}`)))
}
