package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"gridbot/api"
	"gridbot/config"
	"gridbot/exchange"
	"gridbot/ledger"
	"gridbot/logger"
	"gridbot/manager"
	"gridbot/notify"
	"gridbot/store"
)

func main() {
	// Load environment variables from .env file if present (for local/dev
	// runs). In Docker Compose, variables are injected by the runtime and
	// this is harmless.
	_ = godotenv.Load()

	configPath := "accounts.json"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("❌ load config: %v", err)
	}
	logger.Init(cfg.Log)

	logger.Info("╔════════════════════════════════════════════╗")
	logger.Info("║    📈 Grid Trading Decision Engine         ║")
	logger.Info("╚════════════════════════════════════════════╝")

	st, err := store.New(cfg.DBPath)
	if err != nil {
		logger.Fatalf("❌ open journal: %v", err)
	}
	defer st.Close()

	notifier, err := notify.New(cfg.Telegram)
	if err != nil {
		logger.Fatalf("❌ telegram: %v", err)
	}

	mgr := manager.NewManager()
	for ai := range cfg.Accounts {
		acc := &cfg.Accounts[ai]
		for bi := range acc.Bots {
			bot := &acc.Bots[bi]

			gw, err := exchange.New(acc, bot)
			if err != nil {
				logger.Fatalf("❌ %s/%s: %v", acc.Name, bot.Name, err)
			}
			led := ledger.New(
				filepath.Join(cfg.DataDir, "accounts", acc.Name, bot.Name),
				bot.Params.CommissionRate)

			mgr.Add(acc, bot, gw, led, st, notifier, cfg.DataDir)
			logger.Infof("🤖 registered %s/%s: %s %s on %s",
				acc.Name, bot.Name, bot.Symbol, bot.Policy, acc.Exchange)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	var server *api.Server
	if cfg.APIPort > 0 {
		server = api.NewServer(mgr, st, cfg.APIPort)
		go func() {
			if err := server.Start(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("❌ API server: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("🛑 shutting down...")
	cancel()
	if server != nil {
		if err := server.Shutdown(); err != nil {
			logger.Warnf("⚠️ API shutdown: %v", err)
		}
	}
	mgr.Wait()
	logger.Info("👋 all bots stopped")
}
