package config

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server   ServerConfig             `yaml:"server"`
	Database DatabaseConfig           `yaml:"database"`
	NATS     NATSConfig               `yaml:"nats"`
	JWT      JWTConfig                `yaml:"jwt"`
	Queue    QueueConfig              `yaml:"queue"`
	Wallet   WalletServiceConfig      `yaml:"wallet"`
	Otp      OtpConfig                `yaml:"otp"`
	Trigger  TriggerConfig            `yaml:"trigger"`
	Chains   map[string]ChainSettings `yaml:"chains"`

	// DefaultChain is used when a request names no chain and the address
	// shape matches nothing. Falls back to the first enabled chain.
	DefaultChain string `yaml:"defaultChain"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// NATSConfig NATS message server configuration
type NATSConfig struct {
	URL           string `yaml:"url"`
	Timeout       int    `yaml:"timeout"`
	ReconnectWait int    `yaml:"reconnect_wait"`
	MaxReconnects int    `yaml:"max_reconnects"`
	StreamName    string `yaml:"stream_name"`
	Enabled       bool   `yaml:"enabled"`
}

// JWTConfig service token configuration
type JWTConfig struct {
	Secret      string `yaml:"secret"`
	ExpiryHours int    `yaml:"expiryHours"`
}

// QueueConfig background worker configuration
type QueueConfig struct {
	PollIntervalMs int            `yaml:"pollIntervalMs"` // scan tick, default 1000
	Concurrency    map[string]int `yaml:"concurrency"`    // queue name -> workers
	StaleJobMins   int            `yaml:"staleJobMins"`   // processing rows older than this are recovered
}

// WalletServiceConfig external wallet service holding beneficiary keys
type WalletServiceConfig struct {
	BaseURL   string `yaml:"baseUrl"`
	AuthToken string `yaml:"authToken"`
	Timeout   int    `yaml:"timeout"` // seconds
}

// OtpConfig one-time password configuration
type OtpConfig struct {
	ExpiryMinutes int    `yaml:"expiryMinutes"` // default 5
	Digits        int    `yaml:"digits"`        // default 6
	HashSalt      string `yaml:"hashSalt"`      // salt for trigger params hashing
}

// TriggerConfig trigger commitment pipeline configuration
type TriggerConfig struct {
	MaxRetries    int `yaml:"maxRetries"`    // default 3
	RetryDelaySec int `yaml:"retryDelaySec"` // fixed delay between attempts, default 5
}

// ChainSettings per-chain configuration. Fields overlap between ledger
// families on purpose: the registry detects the family structurally when
// `type` is not set.
type ChainSettings struct {
	Type    string `yaml:"type"` // "stellar" | "evm" | "" (detect)
	Enabled bool   `yaml:"enabled"`

	// EVM fields
	RPCURL                 string `yaml:"rpcUrl"`
	ChainID                int64  `yaml:"chainId"`
	PrivateKey             string `yaml:"privateKey"` // hex, no 0x prefix
	ProjectContractAddress string `yaml:"projectContractAddress"`
	TokenContractAddress   string `yaml:"tokenContractAddress"`
	MulticallAddress       string `yaml:"multicallAddress"`
	GasLimit               uint64 `yaml:"gasLimit"`

	// Stellar fields
	HorizonURL        string `yaml:"horizonUrl"`
	SorobanRPCURL     string `yaml:"sorobanRpcUrl"`
	Network           string `yaml:"network"` // network passphrase
	AssetCode         string `yaml:"assetCode"`
	AssetIssuer       string `yaml:"assetIssuer"`
	TriggerContractID string `yaml:"triggerContractId"`
	SecretKey         string `yaml:"secretKey"` // S... strkey of the distribution account

	// Shared
	FundingAmount string `yaml:"fundingAmount"` // native units sent by FundAccount
}

var AppConfig *Config

// LoadConfig loads the configuration file, preferring config.local.yaml when
// present, then applies environment overrides.
func LoadConfig(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
			log.Printf("🔧 Using local configuration file: config.local.yaml")
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(&config)
	applyDefaults(&config)

	log.Printf("✅ [Config] Loaded configuration from %s (%d chains)", configPath, len(config.Chains))
	for name, chain := range config.Chains {
		log.Printf("   chain '%s': type=%s enabled=%v", name, chain.Type, chain.Enabled)
	}

	AppConfig = &config
	return nil
}

// overrideFromEnv overrides configuration from environment variables
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	if natsTimeout := os.Getenv("NATS_TIMEOUT"); natsTimeout != "" {
		if t, err := strconv.Atoi(natsTimeout); err == nil {
			config.NATS.Timeout = t
		}
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		config.JWT.Secret = jwtSecret
	}

	if walletURL := os.Getenv("WALLET_SERVICE_URL"); walletURL != "" {
		config.Wallet.BaseURL = walletURL
	}
	if walletToken := os.Getenv("WALLET_AUTH_TOKEN"); walletToken != "" {
		config.Wallet.AuthToken = walletToken
	}

	if hashSalt := os.Getenv("HASH_SALT"); hashSalt != "" {
		config.Otp.HashSalt = hashSalt
	}

	// Per-chain overrides: <CHAIN>_RPC_URL, <CHAIN>_PRIVATE_KEY,
	// <CHAIN>_SECRET_KEY, <CHAIN>_HORIZON_URL, <CHAIN>_SOROBAN_RPC_URL
	for chainName, chain := range config.Chains {
		prefix := strings.ToUpper(chainName)

		if rpcURL := os.Getenv(prefix + "_RPC_URL"); rpcURL != "" {
			chain.RPCURL = rpcURL
		}
		if privateKey := os.Getenv(prefix + "_PRIVATE_KEY"); privateKey != "" {
			chain.PrivateKey = privateKey
			log.Printf("✅ [Config] Loaded private key for chain '%s' from environment", chainName)
		}
		if secretKey := os.Getenv(prefix + "_SECRET_KEY"); secretKey != "" {
			chain.SecretKey = secretKey
			log.Printf("✅ [Config] Loaded secret key for chain '%s' from environment", chainName)
		}
		if horizonURL := os.Getenv(prefix + "_HORIZON_URL"); horizonURL != "" {
			chain.HorizonURL = horizonURL
		}
		if sorobanURL := os.Getenv(prefix + "_SOROBAN_RPC_URL"); sorobanURL != "" {
			chain.SorobanRPCURL = sorobanURL
		}

		config.Chains[chainName] = chain
	}
}

// applyDefaults fills zero values that have sane defaults
func applyDefaults(config *Config) {
	if config.Queue.PollIntervalMs <= 0 {
		config.Queue.PollIntervalMs = 1000
	}
	if config.Queue.StaleJobMins <= 0 {
		config.Queue.StaleJobMins = 10
	}
	if config.Otp.ExpiryMinutes <= 0 {
		config.Otp.ExpiryMinutes = 5
	}
	if config.Otp.Digits <= 0 {
		config.Otp.Digits = 6
	}
	if config.Trigger.MaxRetries <= 0 {
		config.Trigger.MaxRetries = 3
	}
	if config.Trigger.RetryDelaySec <= 0 {
		config.Trigger.RetryDelaySec = 5
	}
	if config.NATS.StreamName == "" {
		config.NATS.StreamName = "AA_EVENTS"
	}
	if config.JWT.ExpiryHours <= 0 {
		config.JWT.ExpiryHours = 24
	}
	if config.DefaultChain == "" {
		names := make([]string, 0, len(config.Chains))
		for name, chain := range config.Chains {
			if chain.Enabled {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		if len(names) > 0 {
			config.DefaultChain = names[0]
		}
	}
}

// GetChainSettings returns the settings block for a configured chain
func GetChainSettings(chainName string) (*ChainSettings, error) {
	if AppConfig == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	chain, exists := AppConfig.Chains[chainName]
	if !exists {
		return nil, fmt.Errorf("chain %s not found in config", chainName)
	}

	if !chain.Enabled {
		return nil, fmt.Errorf("chain %s is disabled", chainName)
	}

	return &chain, nil
}

// ChainNames returns the enabled chain names in sorted order, so callers
// iterating over them behave the same on every run.
func ChainNames() []string {
	if AppConfig == nil {
		return nil
	}

	names := make([]string, 0, len(AppConfig.Chains))
	for name, chain := range AppConfig.Chains {
		if chain.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
