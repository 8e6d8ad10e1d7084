package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"

	"github.com/ilyakaznacheev/cleanenv"
)

type (
	Config struct {
		App     `json:"app"     toml:"app"`
		Chain   `json:"chain"   toml:"chain"`
		Gateway `json:"gateway" toml:"gateway"`
		HTTP    `json:"http"    toml:"http"`
		DB      `json:"db"      toml:"db"`
		Workers `json:"workers" toml:"workers"`
		Agents  `json:"agents"  toml:"agents"`
		Log     `json:"logger"  toml:"logger"`
	}

	App struct {
		Name        string `json:"name"        toml:"name"        env:"APP_NAME"`
		Environment string `json:"environment" toml:"environment" env:"ENV_NAME" env-default:"dev"`
		Debug       bool   `json:"debug"       toml:"debug"       env:"DEBUG"    env-default:"false"`
	}

	Chain struct {
		APIURL                string `json:"api_url" toml:"api_url" env:"TRON_API_URL" env-default:"https://api.trongrid.io"`
		APIKey                string `json:"api_key" toml:"api_key" env:"TRON_API_KEY"`
		DepositAddress        string `json:"deposit_address" toml:"deposit_address" env:"TRON_DEPOSIT_ADDRESS"`
		USDTContract          string `json:"usdt_contract" toml:"usdt_contract" env:"USDT_CONTRACT" env-default:"TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"`
		RequiredConfirmations int64  `json:"required_confirmations" toml:"required_confirmations" env:"TRON_MIN_CONFIRMATIONS" env-default:"2"`
	}

	Gateway struct {
		SignKey string `json:"sign_key" toml:"sign_key" env:"EASYPAY_KEY"`
	}

	HTTP struct {
		Port string `json:"port" toml:"port" env:"HTTP_PORT" env-default:"8000"`
	}

	DB struct {
		DatabaseURL       string `json:"database_url"        toml:"database_url"        env:"DATABASE_URL"`
		PoolMax           int32  `json:"pool_max"            toml:"pool_max"            env:"PG_POOL_MAX" env-default:"10"`
		ConnectTimeout    int    `json:"connect_timeout"     toml:"connect_timeout"     env:"PG_POOL_CONN_TIMEOUT" env-default:"5"`
		HealthCheckPeriod int    `json:"health_check_period" toml:"health_check_period" env:"PG_POOL_HEALTHCHECK" env-default:"1"`
	}

	Workers struct {
		// Order lifetime and sweep cadence, minutes.
		OrderExpiration      int `json:"order_expiration"       toml:"order_expiration"       env:"ORDER_EXPIRE_MINUTES" env-default:"10"`
		OrderCleanupInterval int `json:"order_cleanup_interval" toml:"order_cleanup_interval" env:"CLEANUP_INTERVAL_MINUTES" env-default:"3"`

		// Chain poll cadence, seconds, and the matching window, minutes.
		ChainPollInterval int `json:"chain_poll_interval" toml:"chain_poll_interval" env:"CHAIN_POLL_SECONDS" env-default:"15"`
		MatchWindow       int `json:"match_window"        toml:"match_window"        env:"MATCH_WINDOW_MINUTES" env-default:"60"`
	}

	Agents struct {
		WithdrawFeePercent string `json:"withdraw_fee_percent" toml:"withdraw_fee_percent" env:"WITHDRAW_FEE_PERCENT" env-default:"0"`
	}

	Log struct {
		Level slog.Level `json:"level" toml:"level" env:"LOG_LEVEL"`
	}
)

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	_, b, _, _ := runtime.Caller(0)
	basePath := filepath.Dir(b)

	configTomlPath := filepath.Join(basePath, "config.toml")
	err := cleanenv.ReadConfig(configTomlPath, cfg)
	if err != nil {
		configJsonPath := filepath.Join(basePath, "config.json")
		err = cleanenv.ReadConfig(configJsonPath, cfg)
		if err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	}

	err = cleanenv.ReadEnv(cfg)
	if err != nil {
		return nil, fmt.Errorf("env read error: %w", err)
	}

	return cfg, nil
}
