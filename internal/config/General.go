package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment
// variables. These are populated at startup by the LoadConfig function.
var (
	// VaultID is the identity of the vault this daemon manages.
	VaultID string
	// WantDenom is the pooled-asset denom depositors contribute.
	WantDenom string
	// NativeDenom is the fee denom harvest fees are converted into.
	NativeDenom string
	// RewardDenom is the reward token claimed from underlying platforms.
	RewardDenom string
	// Router names the swap route used for harvest conversions.
	Router string

	// Manager and Keeper are the administrative identities.
	Manager string
	Keeper  string
	// Strategist receives the strategist share of harvest fees.
	Strategist string
	// BeefyFeeRecipient receives the protocol share of harvest fees.
	BeefyFeeRecipient string

	// HarvestInterval is the keeper cycle period.
	HarvestInterval time.Duration

	// WithdrawMaxLossBps is the withdrawal slippage tolerance.
	WithdrawMaxLossBps uint64

	// WebPort serves the dashboard and API.
	WebPort string
)

// LoadConfig loads configuration from environment variables and sets the
// global config vars. All listed variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	VaultID, err = getEnv("VAULT_ID")
	if err != nil {
		return err
	}

	WantDenom, err = getEnv("WANT_DENOM")
	if err != nil {
		return err
	}

	NativeDenom, err = getEnv("NATIVE_DENOM")
	if err != nil {
		return err
	}

	RewardDenom, err = getEnv("REWARD_DENOM")
	if err != nil {
		return err
	}

	Router, err = getEnv("SWAP_ROUTER")
	if err != nil {
		return err
	}

	Manager, err = getEnv("MANAGER_ID")
	if err != nil {
		return err
	}

	Keeper, err = getEnv("KEEPER_ID")
	if err != nil {
		return err
	}

	Strategist, err = getEnv("STRATEGIST_ID")
	if err != nil {
		return err
	}

	BeefyFeeRecipient, err = getEnv("BEEFY_FEE_RECIPIENT")
	if err != nil {
		return err
	}

	intervalSeconds, err := getEnvAsUint64("HARVEST_INTERVAL_SECONDS")
	if err != nil {
		return err
	}
	HarvestInterval = time.Duration(intervalSeconds) * time.Second

	WithdrawMaxLossBps, err = getEnvAsUint64("WITHDRAW_MAX_LOSS_BPS")
	if err != nil {
		return err
	}

	WebPort = os.Getenv("WEB_PORT")
	if WebPort == "" {
		WebPort = "8080"
	}

	// Load the harvest fee schedule alongside the rest of the config.
	if err := loadFeeConfig(); err != nil {
		return err
	}

	log.Debug().
		Str("VaultID", VaultID).
		Str("WantDenom", WantDenom).
		Dur("HarvestInterval", HarvestInterval).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}
