package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))
	return dir
}

// go test -v --run TestLoadDefaults
func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "MSFT", "TSLA"}, cfg.Relay.TrackedSymbols)
	assert.Equal(t, 600, cfg.Relay.HistoryCapacity)
	assert.Equal(t, 10*time.Second, cfg.Relay.FreshnessWindow)
	assert.Equal(t, 3*time.Second, cfg.Relay.PollInterval)
	assert.Equal(t, 30, cfg.Relay.Seed.PointCount)
	assert.Equal(t, "finnhub", cfg.Fallback.Provider)
	assert.Equal(t, "wss://ws.finnhub.io", cfg.Finnhub.WS.URL)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, 256, cfg.Hub.SendBuffer)
	assert.False(t, cfg.Postgres.Enabled)
}

// go test -v --run TestLoadFileNormalizesSymbols
func TestLoadFileNormalizesSymbols(t *testing.T) {
	dir := writeConfig(t, `
relay:
  tracked_symbols: [" aapl", btc]
  provider_symbols:
    btc: "BINANCE:BTCUSDT"
  seed:
    prices:
      aapl: 170
`)
	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "BTC"}, cfg.Relay.TrackedSymbols)
	assert.Equal(t, map[string]string{"BTC": "BINANCE:BTCUSDT"}, cfg.Relay.ProviderSymbols)
	assert.Equal(t, map[string]float64{"AAPL": 170}, cfg.Relay.Seed.Prices)
	assert.Equal(t, "BINANCE:BTCUSDT", cfg.Relay.ProviderSymbol("BTC"))
	assert.Equal(t, "AAPL", cfg.Relay.ProviderSymbol("AAPL"))
}

// go test -v --run TestLoadEnvOverrides
func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FINNHUB_TOKEN", "secret")
	t.Setenv("RELAY_POLL_INTERVAL", "750ms")
	t.Setenv("SERVER_PORT", "8081")

	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.Finnhub.APIKey)
	assert.Equal(t, 750*time.Millisecond, cfg.Relay.PollInterval)
	assert.Equal(t, 8081, cfg.Server.Port)
}

// go test -v --run TestLoadRejectsInvalid
func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown fallback": "fallback:\n  provider: carrier-pigeon\n",
		"zero capacity":    "relay:\n  history_capacity: 0\n",
		"bad port":         "server:\n  port: 70000\n",
		"redis no addr":    "redis:\n  enabled: true\n  addr: \"\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFrom(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

// go test -v --run TestLoadMalformedFile
func TestLoadMalformedFile(t *testing.T) {
	_, err := LoadFrom(writeConfig(t, "relay: [unclosed"))
	assert.Error(t, err)
}
