package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gridbot/logger"
)

// Direction is the side a strategy trades. The grid, the take-profit and the
// wrong-side guard all derive their order sides from it.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// GridPolicy selects the grid construction algorithm.
type GridPolicy string

const (
	// PolicyScaledRange spreads martingale price steps across a fixed range
	// below the reference price (wide multi-step grids).
	PolicyScaledRange GridPolicy = "scaled_range"
	// PolicyGeometric uses fixed price spacing with geometric size growth
	// (tighter grids).
	PolicyGeometric GridPolicy = "geometric"
)

// StrategyParams are the per-bot tunables. Field names and defaults follow
// the parameter set the strategies were tuned with.
type StrategyParams struct {
	ProfitTarget     float64 `json:"profit_target"`      // TP markup over avg entry price
	GridSize         int     `json:"grid_size"`          // number of grid levels
	GridDistance     float64 `json:"grid_distance"`      // spacing between levels (fraction of price)
	Offset           float64 `json:"offset"`             // first level offset below reference price
	CapitalPercent   float64 `json:"capital_percent"`    // share of equity committed to the grid
	MartingaleStep   float64 `json:"martingale_step"`    // price-step growth ratio (scaled_range)
	MartingaleOrder  float64 `json:"martingale_order"`   // order-size growth ratio (scaled_range)
	MaxRange         float64 `json:"max_range"`          // total grid depth (scaled_range)
	SizeMultiplier   float64 `json:"size_multiplier"`    // order-size growth ratio (geometric)
	TPUpdateCooldown int     `json:"tp_update_cooldown"` // seconds between TP rebuilds
	ReorderThreshold float64 `json:"reorder_threshold"`  // price runaway fraction before regridding
	CommissionRate   float64 `json:"commission_rate"`    // virtual ledger commission on winning cycles
	MinNotional      float64 `json:"min_notional"`       // exchange minimum order value in quote units
}

// DefaultParams returns the parameter defaults.
func DefaultParams() StrategyParams {
	return StrategyParams{
		ProfitTarget:     0.006,
		GridSize:         10,
		GridDistance:     0.006,
		Offset:           0.0001,
		CapitalPercent:   1,
		MartingaleStep:   1.1,
		MartingaleOrder:  1.2,
		MaxRange:         0.10,
		SizeMultiplier:   1.05,
		TPUpdateCooldown: 120,
		ReorderThreshold: 0.002,
		CommissionRate:   0.1,
		MinNotional:      5,
	}
}

// Validate checks parameter ranges.
func (p *StrategyParams) Validate() error {
	if p.GridSize < 1 || p.GridSize > 200 {
		return fmt.Errorf("grid_size must be in [1, 200], got %d", p.GridSize)
	}
	if p.ProfitTarget <= 0 || p.ProfitTarget >= 1 {
		return fmt.Errorf("profit_target must be in (0, 1), got %v", p.ProfitTarget)
	}
	if p.GridDistance <= 0 || p.GridDistance >= 1 {
		return fmt.Errorf("grid_distance must be in (0, 1), got %v", p.GridDistance)
	}
	if p.Offset < 0 || p.Offset >= 1 {
		return fmt.Errorf("offset must be in [0, 1), got %v", p.Offset)
	}
	if p.CapitalPercent <= 0 || p.CapitalPercent > 1 {
		return fmt.Errorf("capital_percent must be in (0, 1], got %v", p.CapitalPercent)
	}
	if p.MartingaleStep < 1 {
		return fmt.Errorf("martingale_step must be >= 1, got %v", p.MartingaleStep)
	}
	if p.MartingaleOrder < 1 {
		return fmt.Errorf("martingale_order must be >= 1, got %v", p.MartingaleOrder)
	}
	if p.MaxRange <= 0 || p.MaxRange >= 1 {
		return fmt.Errorf("max_range must be in (0, 1), got %v", p.MaxRange)
	}
	if p.SizeMultiplier <= 1 {
		return fmt.Errorf("size_multiplier must be > 1, got %v", p.SizeMultiplier)
	}
	if p.TPUpdateCooldown < 0 {
		return fmt.Errorf("tp_update_cooldown must be >= 0, got %d", p.TPUpdateCooldown)
	}
	if p.ReorderThreshold < 0 || p.ReorderThreshold >= 1 {
		return fmt.Errorf("reorder_threshold must be in [0, 1), got %v", p.ReorderThreshold)
	}
	if p.CommissionRate < 0 || p.CommissionRate > 1 {
		return fmt.Errorf("commission_rate must be in [0, 1], got %v", p.CommissionRate)
	}
	if p.MinNotional < 0 {
		return fmt.Errorf("min_notional must be >= 0, got %v", p.MinNotional)
	}
	return nil
}

// BotConfig configures one strategy instance on one account.
type BotConfig struct {
	Name      string         `json:"name"`      // strategy name, e.g. "xrp_grid"
	Symbol    string         `json:"symbol"`    // e.g. "XRPUSDT"
	Category  string         `json:"category"`  // exchange product category, e.g. "linear"
	Direction Direction      `json:"direction"` // "long" (default) or "short"
	Policy    GridPolicy     `json:"policy"`    // "geometric" (default) or "scaled_range"
	Params    StrategyParams `json:"params"`
}

// Validate checks the bot configuration.
func (b *BotConfig) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("bot name is required")
	}
	if b.Symbol == "" {
		return fmt.Errorf("bot %s: symbol is required", b.Name)
	}
	if b.Category == "" {
		b.Category = "linear"
	}
	if b.Direction == "" {
		b.Direction = DirectionLong
	}
	if b.Direction != DirectionLong && b.Direction != DirectionShort {
		return fmt.Errorf("bot %s: unknown direction %q", b.Name, b.Direction)
	}
	if b.Policy == "" {
		b.Policy = PolicyGeometric
	}
	if b.Policy != PolicyGeometric && b.Policy != PolicyScaledRange {
		return fmt.Errorf("bot %s: unknown policy %q", b.Name, b.Policy)
	}
	if err := b.Params.Validate(); err != nil {
		return fmt.Errorf("bot %s: %w", b.Name, err)
	}
	return nil
}

// AccountConfig holds one exchange account and the bots that trade it.
type AccountConfig struct {
	Name      string      `json:"name"`
	Exchange  string      `json:"exchange"` // "bybit" (default) or "binance"
	APIKey    string      `json:"api_key"`
	APISecret string      `json:"api_secret"`
	Bots      []BotConfig `json:"bots"`
}

// TelegramConfig configures operator notifications. Empty token disables them.
type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

// Config is the process-level configuration loaded from accounts.json.
type Config struct {
	DataDir  string          `json:"data_dir"` // root for snapshot and ledger files
	DBPath   string          `json:"db_path"`  // sqlite journal path
	APIPort  int             `json:"api_port"` // status API port, 0 disables
	Log      *logger.Config  `json:"log"`
	Telegram TelegramConfig  `json:"telegram"`
	Accounts []AccountConfig `json:"accounts"`
}

// Load reads and validates the configuration file. Default parameters are
// applied before per-bot overrides, matching how the supervisor passed
// per-bot parameter maps over the shared defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Decode twice: the first pass discovers which bots exist, the second
	// overlays the file on top of defaults so omitted params keep defaults.
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	for ai := range cfg.Accounts {
		for bi := range cfg.Accounts[ai].Bots {
			cfg.Accounts[ai].Bots[bi].Params = DefaultParams()
		}
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "gridbot.db"
	}
	if v := strings.TrimSpace(os.Getenv("GRIDBOT_API_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.APIPort = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}

	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("config %s: no accounts defined", path)
	}
	seen := make(map[string]bool)
	for ai := range cfg.Accounts {
		acc := &cfg.Accounts[ai]
		if acc.Name == "" {
			return nil, fmt.Errorf("account #%d: name is required", ai)
		}
		if acc.Exchange == "" {
			acc.Exchange = "bybit"
		}
		// Keys may come from the environment instead of the file.
		if acc.APIKey == "" {
			acc.APIKey = os.Getenv(strings.ToUpper(acc.Exchange) + "_API_KEY")
		}
		if acc.APISecret == "" {
			acc.APISecret = os.Getenv(strings.ToUpper(acc.Exchange) + "_API_SECRET")
		}
		if len(acc.Bots) == 0 {
			return nil, fmt.Errorf("account %s: no bots defined", acc.Name)
		}
		for bi := range acc.Bots {
			bot := &acc.Bots[bi]
			if err := bot.Validate(); err != nil {
				return nil, fmt.Errorf("account %s: %w", acc.Name, err)
			}
			key := acc.Name + "/" + bot.Name
			if seen[key] {
				return nil, fmt.Errorf("duplicate bot %s", key)
			}
			seen[key] = true
		}
	}

	return &cfg, nil
}
