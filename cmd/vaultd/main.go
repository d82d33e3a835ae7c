package main

import (
	"context"
	"os"
	"strconv"

	"github.com/purplewavefinance/vault-core/internal/config"
	"github.com/purplewavefinance/vault-core/internal/keeper"
	"github.com/purplewavefinance/vault-core/internal/logger"
	"github.com/purplewavefinance/vault-core/internal/platform"
	"github.com/purplewavefinance/vault-core/internal/state"
	"github.com/purplewavefinance/vault-core/internal/strategy"
	"github.com/purplewavefinance/vault-core/internal/vault"
	"github.com/purplewavefinance/vault-core/internal/web"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// main is the entry point for the vault daemon.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Vault Core Daemon Starting...")

	// Initialize Database Connection
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// --- 2. Vault and Strategy Initialization (with Safety Switch) ---
	vaultMode := os.Getenv("VAULT_MODE")
	if vaultMode != "sim" {
		log.Fatal().Msg("VAULT_MODE is not set to 'sim'. Halting to prevent accidental execution. Set VAULT_MODE=sim to run against the simulated platform.")
	}
	log.Info().Msg("Initializing vault in SIM mode. Positions are held on the in-memory simulated platform.")

	v, err := vault.New(vault.Config{
		ID:              config.VaultID,
		Want:            config.WantDenom,
		Manager:         config.Manager,
		Keeper:          config.Keeper,
		WithdrawMaxLoss: config.WithdrawMaxLossBps,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize vault")
	}

	sim := platform.NewSimulated("sim_platform_1")
	strat, err := strategy.New(strategy.Config{
		ID:                config.VaultID + "_strat_1",
		Vault:             v,
		Adapter:           sim,
		Swapper:           sim,
		Fees:              config.FeeConfigurator{},
		Manager:           config.Manager,
		Keeper:            config.Keeper,
		Strategist:        config.Strategist,
		BeefyFeeRecipient: config.BeefyFeeRecipient,
		RewardToken:       config.RewardDenom,
		NativeToken:       config.NativeDenom,
		Router:            config.Router,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize strategy")
	}

	if err := v.AddStrategy(strat, 10000); err != nil {
		log.Fatal().Err(err).Msg("Failed to register strategy with vault")
	}

	// --- 3. Start Web Server ---
	webServer := web.NewWebServer(config.WebPort, v)
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting vault web API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 4. Create Keeper Instance with Dependency Injection ---
	log.Info().Msg("Creating keeper instance with dependency injection...")

	keeperInstance, err := keeper.NewKeeper(keeper.Config{
		Vault:      v,
		Strategies: []*strategy.Strategy{strat},
		KeeperID:   config.Keeper,
		Persist:    true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create keeper instance")
	}

	log.Info().Msg("Keeper instance created successfully")

	// --- 5. Start Keeper Main Loop ---
	log.Info().Str("interval", config.HarvestInterval.String()).Msg("Starting keeper main loop")

	ctx := context.Background()

	// Start the keeper loop (this will run indefinitely)
	keeperInstance.RunLoop(ctx, config.HarvestInterval)
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
