// Package config centralises runtime configuration for the Vantage engine.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment identifies the runtime environment where Vantage operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// VenueSettings aggregates venue transport configuration.
type VenueSettings struct {
	RESTBaseURL      string
	WebsocketURL     string
	HTTPTimeout      time.Duration
	ConnectTimeout   time.Duration
	OrderTimeout     time.Duration
	HandshakeTimeout time.Duration
}

// ExecutionSettings tunes the order executor and verification protocol.
type ExecutionSettings struct {
	SlippageTolerance  float64
	VerifyTimeout      time.Duration
	VerifyTolerance    float64
	SettlementDelay    time.Duration
	ReconcileInterval  time.Duration
	MarketRefTTL       time.Duration
	SecondarySourceURL string
}

// SizingSettings parameterizes the pluggable position sizing policy.
type SizingSettings struct {
	BaseQuantity       float64
	UseBalanceFraction bool
	BalanceFraction    float64
	MinQuantity        float64
	MaxQuantity        float64
}

// RiskSettings parameterizes the risk gate.
type RiskSettings struct {
	MaxPositionSizeUSD float64
	MaxDailyLossPct    float64
	MaxTradesPerMinute int
	MaxLeverage        int
	SymbolCooldown     time.Duration
	KillSwitchEnabled  bool
}

// NotifySettings configures the best-effort Telegram notifier.
type NotifySettings struct {
	TelegramBotToken string
	TelegramChatID   string
}

// ServerSettings configures the webhook ingestion surface.
type ServerSettings struct {
	Addr           string
	SecretToken    string
	AllowedSources []string
}

// Settings contains the Vantage configuration tree loaded from defaults and env.
type Settings struct {
	Environment  Environment
	Venue        VenueSettings
	Execution    ExecutionSettings
	Sizing       SizingSettings
	Risk         RiskSettings
	Notify       NotifySettings
	Server       ServerSettings
	AccountsPath string
	JournalDSN   string
	OTLPEndpoint string
	MaxRetries   int
	// Symbols the engine trades; position tracking zero-fills this set.
	Symbols []string

	// DefaultAccount seeds the fallback account when the accounts file is
	// missing or structurally invalid.
	DefaultAccount AccountConfig
}

// Default returns the default Vantage configuration.
func Default() Settings {
	return Settings{
		Environment: EnvProd,
		Venue: VenueSettings{
			RESTBaseURL:      "https://mainnet.zklighter.elliot.ai",
			WebsocketURL:     "wss://mainnet.zklighter.elliot.ai/stream",
			HTTPTimeout:      10 * time.Second,
			ConnectTimeout:   5 * time.Second,
			OrderTimeout:     30 * time.Second,
			HandshakeTimeout: 10 * time.Second,
		},
		Execution: ExecutionSettings{
			SlippageTolerance:  0.05,
			VerifyTimeout:      5 * time.Second,
			VerifyTolerance:    0.001,
			SettlementDelay:    time.Second,
			ReconcileInterval:  5 * time.Minute,
			MarketRefTTL:       30 * time.Second,
			SecondarySourceURL: "",
		},
		Sizing: SizingSettings{
			BaseQuantity:       0.01,
			UseBalanceFraction: true,
			BalanceFraction:    0.8,
			MinQuantity:        0.001,
			MaxQuantity:        10,
		},
		Risk: RiskSettings{
			MaxPositionSizeUSD: 100,
			MaxDailyLossPct:    5,
			MaxTradesPerMinute: 3,
			MaxLeverage:        5,
			SymbolCooldown:     5 * time.Second,
			KillSwitchEnabled:  false,
		},
		Notify: NotifySettings{TelegramBotToken: "", TelegramChatID: ""},
		Server: ServerSettings{
			Addr:           "127.0.0.1:8000",
			SecretToken:    "",
			AllowedSources: nil,
		},
		AccountsPath: "config/accounts.yaml",
		JournalDSN:   "",
		OTLPEndpoint: "",
		MaxRetries:   3,
		Symbols:      []string{"ETH", "BTC", "SOL"},
		DefaultAccount: AccountConfig{
			AccountIndex:   0,
			APIKeyIndex:    0,
			PrivateKey:     "",
			Name:           "Default Account",
			Active:         true,
			AllowedSymbols: nil,
		},
	}
}

// FromEnv loads configuration values from environment variables, overriding defaults.
func FromEnv() Settings {
	cfg := Default()

	if v := strings.TrimSpace(os.Getenv("VANTAGE_ENV")); v != "" {
		cfg.Environment = Environment(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("VANTAGE_REST_BASE_URL")); v != "" {
		cfg.Venue.RESTBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("VANTAGE_WS_URL")); v != "" {
		cfg.Venue.WebsocketURL = v
	}
	if d, ok := envDuration("VANTAGE_HTTP_TIMEOUT"); ok {
		cfg.Venue.HTTPTimeout = d
	}
	if d, ok := envDuration("VANTAGE_CONNECT_TIMEOUT"); ok {
		cfg.Venue.ConnectTimeout = d
	}
	if d, ok := envDuration("VANTAGE_ORDER_TIMEOUT"); ok {
		cfg.Venue.OrderTimeout = d
	}
	if d, ok := envDuration("VANTAGE_VERIFY_TIMEOUT"); ok {
		cfg.Execution.VerifyTimeout = d
	}
	if d, ok := envDuration("VANTAGE_RECONCILE_INTERVAL"); ok {
		cfg.Execution.ReconcileInterval = d
	}
	if d, ok := envDuration("VANTAGE_MARKETREF_TTL"); ok {
		cfg.Execution.MarketRefTTL = d
	}
	if f, ok := envFloat("VANTAGE_SLIPPAGE"); ok {
		cfg.Execution.SlippageTolerance = f
	}
	if v := strings.TrimSpace(os.Getenv("VANTAGE_SECONDARY_SOURCE_URL")); v != "" {
		cfg.Execution.SecondarySourceURL = v
	}
	if f, ok := envFloat("VANTAGE_BALANCE_FRACTION"); ok {
		cfg.Sizing.BalanceFraction = f
	}
	if f, ok := envFloat("MAX_POSITION_SIZE_USD"); ok {
		cfg.Risk.MaxPositionSizeUSD = f
	}
	if f, ok := envFloat("MAX_DAILY_LOSS_PCT"); ok {
		cfg.Risk.MaxDailyLossPct = f
	}
	if n, ok := envInt("MAX_TRADES_PER_MINUTE"); ok {
		cfg.Risk.MaxTradesPerMinute = n
	}
	if n, ok := envInt("MAX_LEVERAGE"); ok {
		cfg.Risk.MaxLeverage = n
	}
	if v := strings.TrimSpace(os.Getenv("KILL_SWITCH_ENABLED")); v != "" {
		cfg.Risk.KillSwitchEnabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")); v != "" {
		cfg.Notify.TelegramBotToken = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); v != "" {
		cfg.Notify.TelegramChatID = v
	}
	if v := strings.TrimSpace(os.Getenv("VANTAGE_LISTEN_ADDR")); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("VANTAGE_WEBHOOK_SECRET")); v != "" {
		cfg.Server.SecretToken = v
	}
	if v := strings.TrimSpace(os.Getenv("VANTAGE_WEBHOOK_ALLOWED_SOURCES")); v != "" {
		parts := strings.Split(v, ",")
		sources := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				sources = append(sources, trimmed)
			}
		}
		cfg.Server.AllowedSources = sources
	}
	if v := strings.TrimSpace(os.Getenv("VANTAGE_ACCOUNTS_PATH")); v != "" {
		cfg.AccountsPath = v
	}
	if v := strings.TrimSpace(os.Getenv("VANTAGE_JOURNAL_DSN")); v != "" {
		cfg.JournalDSN = v
	}
	if v := strings.TrimSpace(os.Getenv("VANTAGE_OTLP_ENDPOINT")); v != "" {
		cfg.OTLPEndpoint = v
	}
	if n, ok := envInt("VANTAGE_MAX_RETRIES"); ok && n > 0 {
		cfg.MaxRetries = n
	}
	if v := strings.TrimSpace(os.Getenv("VANTAGE_SYMBOLS")); v != "" {
		parts := strings.Split(v, ",")
		symbols := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.ToUpper(strings.TrimSpace(p)); trimmed != "" {
				symbols = append(symbols, trimmed)
			}
		}
		if len(symbols) > 0 {
			cfg.Symbols = symbols
		}
	}
	if n, ok := envInt("VANTAGE_ACCOUNT_INDEX"); ok {
		cfg.DefaultAccount.AccountIndex = int64(n)
	}
	if n, ok := envInt("VANTAGE_API_KEY_INDEX"); ok {
		cfg.DefaultAccount.APIKeyIndex = n
	}
	if v := strings.TrimSpace(os.Getenv("VANTAGE_PRIVATE_KEY")); v != "" {
		cfg.DefaultAccount.PrivateKey = v
	}

	return cfg
}

func envDuration(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func envFloat(key string) (float64, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
