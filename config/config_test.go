package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaultsUnderOverrides(t *testing.T) {
	path := writeConfig(t, `{
		"accounts": [{
			"name": "main",
			"api_key": "k",
			"api_secret": "s",
			"bots": [{
				"name": "xrp_grid",
				"symbol": "XRPUSDT",
				"params": {"grid_size": 30, "commission_rate": 0.2}
			}]
		}]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	bot := cfg.Accounts[0].Bots[0]
	require.Equal(t, 30, bot.Params.GridSize, "file override wins")
	require.Equal(t, 0.2, bot.Params.CommissionRate)
	require.Equal(t, 0.006, bot.Params.ProfitTarget, "omitted params keep defaults")
	require.Equal(t, PolicyGeometric, bot.Policy)
	require.Equal(t, DirectionLong, bot.Direction)
	require.Equal(t, "bybit", cfg.Accounts[0].Exchange)
	require.Equal(t, "linear", bot.Category)
	require.Equal(t, "data", cfg.DataDir)
}

func TestLoadRejectsOutOfRangeParams(t *testing.T) {
	path := writeConfig(t, `{
		"accounts": [{
			"name": "main",
			"bots": [{
				"name": "bad",
				"symbol": "XRPUSDT",
				"params": {"grid_size": 0}
			}]
		}]
	}`)

	_, err := Load(path)
	require.ErrorContains(t, err, "grid_size")
}

func TestLoadRejectsDuplicateBots(t *testing.T) {
	path := writeConfig(t, `{
		"accounts": [{
			"name": "main",
			"bots": [
				{"name": "xrp_grid", "symbol": "XRPUSDT"},
				{"name": "xrp_grid", "symbol": "XRPUSDT"}
			]
		}]
	}`)

	_, err := Load(path)
	require.ErrorContains(t, err, "duplicate bot main/xrp_grid")
}

func TestLoadRejectsUnknownDirection(t *testing.T) {
	path := writeConfig(t, `{
		"accounts": [{
			"name": "main",
			"bots": [{"name": "x", "symbol": "XRPUSDT", "direction": "sideways"}]
		}]
	}`)

	_, err := Load(path)
	require.ErrorContains(t, err, "unknown direction")
}

func TestAPIKeysFallBackToEnvironment(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "env-key")
	t.Setenv("BYBIT_API_SECRET", "env-secret")

	path := writeConfig(t, `{
		"accounts": [{
			"name": "main",
			"bots": [{"name": "xrp_grid", "symbol": "XRPUSDT"}]
		}]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "env-key", cfg.Accounts[0].APIKey)
	require.Equal(t, "env-secret", cfg.Accounts[0].APISecret)
}

func TestTelegramEnvOverride(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("TELEGRAM_CHAT_ID", "12345")

	path := writeConfig(t, `{
		"accounts": [{
			"name": "main",
			"bots": [{"name": "xrp_grid", "symbol": "XRPUSDT"}]
		}]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "tok", cfg.Telegram.Token)
	require.Equal(t, int64(12345), cfg.Telegram.ChatID)
}
