package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/price-watch/internal/config"
	"github.com/donaldgifford/price-watch/internal/notify"
	domain "github.com/donaldgifford/price-watch/pkg/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     config.DatabaseConfig
		wantErr string
	}{
		{name: "memory", cfg: config.DatabaseConfig{Driver: config.DriverMemory}},
		{name: "sqlite", cfg: config.DatabaseConfig{Driver: config.DriverSQLite}},
		{name: "unknown", cfg: config.DatabaseConfig{Driver: "mysql"}, wantErr: `unknown database driver "mysql"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := tt.cfg
			if cfg.Driver == config.DriverSQLite {
				cfg.Path = filepath.Join(t.TempDir(), "pw.db")
			}

			st, err := openStore(context.Background(), &cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })
			require.NoError(t, st.Migrate(context.Background()))
			require.NoError(t, st.Ping(context.Background()))
		})
	}
}

func TestNewNotifier(t *testing.T) {
	t.Parallel()

	email := config.EmailConfig{Enabled: true, Host: "smtp.example.com", Port: 587, From: "pw@example.com", To: []string{"me@example.com"}}
	discord := config.DiscordConfig{Enabled: true, WebhookURL: "https://discord.example.com/hook"}

	tests := []struct {
		name  string
		cfg   config.NotificationsConfig
		check func(t *testing.T, n notify.Notifier)
	}{
		{
			name: "none configured",
			check: func(t *testing.T, n notify.Notifier) {
				t.Helper()
				assert.IsType(t, &notify.NoOpNotifier{}, n)
			},
		},
		{
			name: "discord only",
			cfg:  config.NotificationsConfig{Discord: discord},
			check: func(t *testing.T, n notify.Notifier) {
				t.Helper()
				assert.IsType(t, &notify.DiscordNotifier{}, n)
			},
		},
		{
			name: "both",
			cfg:  config.NotificationsConfig{Discord: discord, Email: email},
			check: func(t *testing.T, n notify.Notifier) {
				t.Helper()
				m, ok := n.(notify.Multi)
				require.True(t, ok)
				assert.Len(t, m, 2)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.check(t, newNotifier(&tt.cfg, quietLogger()))
		})
	}
}

func TestLoadRegistry(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - name: shop
    domains: ["shop.example.com"]
    strategies:
      - name: price
        kind: css
        selector: ".price"
`), 0o600))

	reg, err := loadRegistry(&config.RulesConfig{Path: path, PromotionThreshold: 3}, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "shop", reg.Resolve("https://shop.example.com/widget").Name)

	_, err = loadRegistry(&config.RulesConfig{Path: filepath.Join(t.TempDir(), "missing.yaml"), PromotionThreshold: 3}, quietLogger())
	require.Error(t, err)
}

func TestNewApp_Memory(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Database: config.DatabaseConfig{Driver: config.DriverMemory},
		Rules:    config.RulesConfig{PromotionThreshold: 3},
		History:  config.HistoryConfig{DedupWindow: time.Minute},
		Scheduler: config.SchedulerConfig{
			Workers: 1, BrowserWorkers: 1,
			MinInterval: time.Minute, DefaultInterval: time.Hour,
			BackoffCeiling: time.Hour, DegradedThreshold: 3,
			ShutdownGrace: time.Second,
		},
	}

	a, err := newApp(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.pool, "browser pool is only built when enabled")

	p := &domain.TrackedProduct{URL: "https://shop.example.com/widget", Name: "Widget", Enabled: true}
	require.NoError(t, a.engine.AddProduct(context.Background(), p))
	assert.Equal(t, time.Hour, p.Interval)
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	c := versionCommand()
	c.SetOut(&out)
	require.NoError(t, c.Execute())
	assert.Equal(t, "price-watch dev\n", out.String())
}
