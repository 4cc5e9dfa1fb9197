package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	NATS       NATSConfig       `yaml:"nats"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Verifier   VerifierConfig   `yaml:"verifier"`
	Matching   MatchingConfig   `yaml:"matching"`
	Settlement SettlementConfig `yaml:"settlement"`
	Auth       AuthConfig       `yaml:"auth"`
	CORS       CORSConfig       `yaml:"cors"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"` // "postgres" (default) or "sqlite"
}

// RedisConfig optional Redis replay-ledger configuration.
// When Enabled is false, nonce reservations live in the primary database.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Timeout  int    `yaml:"timeout"` // seconds
}

// NATSConfig lifecycle event publishing configuration
type NATSConfig struct {
	URL           string `yaml:"url"`
	Timeout       int    `yaml:"timeout"` // seconds
	ReconnectWait int    `yaml:"reconnect_wait"`
	MaxReconnects int    `yaml:"max_reconnects"`
	SubjectPrefix string `yaml:"subject_prefix"` // default "solver"
}

// LedgerConfig settlement ledger (EVM chain) configuration
type LedgerConfig struct {
	ChainID          int64    `yaml:"chainId"`
	RPCEndpoints     []string `yaml:"rpcEndpoints"`
	DarkPoolContract string   `yaml:"darkPoolContract"`
	SolverPrivateKey string   `yaml:"solverPrivateKey"` // hex, without 0x prefix
	GasLimit         uint64   `yaml:"gasLimit"`
	GasPrice         string   `yaml:"gasPrice"` // wei; empty = suggested price
	CallTimeout      int      `yaml:"callTimeout"`
}

// VerifierConfig proof verifier service configuration
type VerifierConfig struct {
	BaseURL string `yaml:"baseUrl"`
	Timeout int    `yaml:"timeout"` // seconds
}

// MatchingConfig matching engine configuration
type MatchingConfig struct {
	PollIntervalMs    int `yaml:"pollIntervalMs"`
	ExpiryGraceSecs   int `yaml:"expiryGraceSeconds"`
	SweepIntervalSecs int `yaml:"sweepIntervalSeconds"`
}

// SettlementConfig settlement coordinator configuration
type SettlementConfig struct {
	PollIntervalSecs    int  `yaml:"pollIntervalSeconds"`
	MaxTransientRetries int  `yaml:"maxTransientRetries"`
	MaxDomainFailures   int  `yaml:"maxDomainFailures"`
	BaseBackoffSecs     int  `yaml:"baseBackoffSeconds"`
	MaxBackoffSecs      int  `yaml:"maxBackoffSeconds"`
	AutoSettle          bool `yaml:"autoSettle"`
}

// AuthConfig API authentication configuration
type AuthConfig struct {
	RequireAuth  bool   `yaml:"requireAuth"`
	JWTSecret    string `yaml:"jwtSecret"`
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"passwordHash"` // bcrypt hash
	TOTPSecret   string `yaml:"totpSecret"`   // optional second factor
	TokenTTLSecs int    `yaml:"tokenTtlSeconds"`
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

var AppConfig *Config

// LoadConfig loads the configuration file and applies environment overrides
func LoadConfig(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
			log.Printf("Using local configuration file: config.local.yaml")
		}
	}

	var config Config
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		log.Printf("Config file %s not found, relying on environment variables", configPath)
	} else {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	overrideFromEnv(&config)
	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return err
	}

	AppConfig = &config
	return nil
}

// overrideFromEnv applies environment variable overrides
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		config.Database.Driver = driver
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		config.Redis.Host = redisHost
		config.Redis.Enabled = true
	}
	if redisPort := os.Getenv("REDIS_PORT"); redisPort != "" {
		if p, err := strconv.Atoi(redisPort); err == nil {
			config.Redis.Port = p
		}
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.Redis.Password = redisPassword
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}

	if rpc := os.Getenv("LEDGER_RPC_ENDPOINTS"); rpc != "" {
		endpoints := make([]string, 0)
		for _, e := range strings.Split(rpc, ",") {
			if trimmed := strings.TrimSpace(e); trimmed != "" {
				endpoints = append(endpoints, trimmed)
			}
		}
		config.Ledger.RPCEndpoints = endpoints
	}
	if chainID := os.Getenv("LEDGER_CHAIN_ID"); chainID != "" {
		if id, err := strconv.ParseInt(chainID, 10, 64); err == nil {
			config.Ledger.ChainID = id
		}
	}
	if contract := os.Getenv("DARK_POOL_CONTRACT"); contract != "" {
		config.Ledger.DarkPoolContract = contract
	}
	if key := os.Getenv("SOLVER_PRIVATE_KEY"); key != "" {
		config.Ledger.SolverPrivateKey = key
	}

	if verifier := os.Getenv("VERIFIER_BASE_URL"); verifier != "" {
		config.Verifier.BaseURL = verifier
	}

	if interval := os.Getenv("MATCHING_POLL_INTERVAL_MS"); interval != "" {
		if ms, err := strconv.Atoi(interval); err == nil {
			config.Matching.PollIntervalMs = ms
		}
	}

	if auto := os.Getenv("AUTO_SETTLE"); auto != "" {
		config.Settlement.AutoSettle = isTruthy(auto)
	}

	if require := os.Getenv("REQUIRE_AUTH"); require != "" {
		config.Auth.RequireAuth = isTruthy(require)
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if username := os.Getenv("AUTH_USERNAME"); username != "" {
		config.Auth.Username = username
	}
	if hash := os.Getenv("AUTH_PASSWORD_HASH"); hash != "" {
		config.Auth.PasswordHash = hash
	}
	if totp := os.Getenv("AUTH_TOTP_SECRET"); totp != "" {
		config.Auth.TOTPSecret = totp
	}

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		parsed := make([]string, 0)
		for _, o := range strings.Split(origins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				parsed = append(parsed, trimmed)
			}
		}
		config.CORS.AllowedOrigins = parsed
	}
}

// applyDefaults fills unset fields with sane defaults
func applyDefaults(config *Config) {
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.Database.Driver == "" {
		config.Database.Driver = "postgres"
	}
	if config.Redis.Port == 0 {
		config.Redis.Port = 6379
	}
	if config.Redis.Timeout == 0 {
		config.Redis.Timeout = 5
	}
	if config.NATS.SubjectPrefix == "" {
		config.NATS.SubjectPrefix = "solver"
	}
	if config.NATS.Timeout == 0 {
		config.NATS.Timeout = 10
	}
	if config.NATS.ReconnectWait == 0 {
		config.NATS.ReconnectWait = 5
	}
	if config.Ledger.GasLimit == 0 {
		config.Ledger.GasLimit = 1_500_000
	}
	if config.Ledger.CallTimeout == 0 {
		config.Ledger.CallTimeout = 30
	}
	if config.Verifier.Timeout == 0 {
		config.Verifier.Timeout = 10
	}
	if config.Matching.PollIntervalMs == 0 {
		config.Matching.PollIntervalMs = 1000
	}
	if config.Matching.ExpiryGraceSecs == 0 {
		config.Matching.ExpiryGraceSecs = 5
	}
	if config.Matching.SweepIntervalSecs == 0 {
		config.Matching.SweepIntervalSecs = 15
	}
	if config.Settlement.PollIntervalSecs == 0 {
		config.Settlement.PollIntervalSecs = 5
	}
	if config.Settlement.MaxTransientRetries == 0 {
		config.Settlement.MaxTransientRetries = 8
	}
	if config.Settlement.MaxDomainFailures == 0 {
		config.Settlement.MaxDomainFailures = 5
	}
	if config.Settlement.BaseBackoffSecs == 0 {
		config.Settlement.BaseBackoffSecs = 10
	}
	if config.Settlement.MaxBackoffSecs == 0 {
		config.Settlement.MaxBackoffSecs = 600
	}
	if config.Auth.Username == "" {
		config.Auth.Username = "admin"
	}
	if config.Auth.TokenTTLSecs == 0 {
		config.Auth.TokenTTLSecs = 3600
	}
}

// validate rejects configurations that cannot run safely
func validate(config *Config) error {
	if config.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required (or set DATABASE_DSN)")
	}
	if config.Auth.RequireAuth {
		if config.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwtSecret must be set when requireAuth is enabled")
		}
		if config.Auth.PasswordHash == "" {
			return fmt.Errorf("auth.passwordHash must be set when requireAuth is enabled")
		}
	}
	if config.Settlement.AutoSettle {
		if len(config.Ledger.RPCEndpoints) == 0 {
			return fmt.Errorf("ledger.rpcEndpoints must be set when settlement.autoSettle is enabled")
		}
		if config.Ledger.DarkPoolContract == "" {
			return fmt.Errorf("ledger.darkPoolContract must be set when settlement.autoSettle is enabled")
		}
		if config.Ledger.SolverPrivateKey == "" {
			return fmt.Errorf("ledger.solverPrivateKey must be set when settlement.autoSettle is enabled")
		}
	}
	return nil
}

// GetServerAddress returns the host:port listen address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetRedisAddress returns the Redis host:port address
func (c *Config) GetRedisAddress() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// ExpiryGrace returns the admission expiry grace window
func (c *Config) ExpiryGrace() time.Duration {
	return time.Duration(c.Matching.ExpiryGraceSecs) * time.Second
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
