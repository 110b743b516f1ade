package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// EncryptionKeyLength is the required hex length of the token
	// encryption key (32 bytes, AES-256).
	EncryptionKeyLength = 64
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
	Crypto    CryptoConfig    `yaml:"crypto"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	Providers ProvidersConfig `yaml:"providers"`
	DocStore  DocStoreConfig  `yaml:"docstore"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	APIKey          string        `yaml:"api_key"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue
// configuration. The queue only carries best-effort worker wake-ups;
// leaving Host empty disables it entirely and the worker relies on
// polling alone.
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig tunes the wake-up publish retry backoff
type PublishConfig struct {
	Retries           int           `yaml:"retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	PreviewInterval time.Duration `yaml:"preview_interval"`
	ExportInterval  time.Duration `yaml:"export_interval"`
	UploadInterval  time.Duration `yaml:"upload_interval"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CryptoConfig holds the token encryption key. The key can also be
// supplied through TOKEN_ENCRYPTION_KEY to keep it out of config files.
type CryptoConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

// OAuthConfig holds settings for the OAuth connect flow. RedirectURL
// is the callback base registered with the vendors; FrontendURL is
// where the browser lands after a successful callback.
type OAuthConfig struct {
	StateSecret string        `yaml:"state_secret"`
	StateTTL    time.Duration `yaml:"state_ttl"`
	RedirectURL string        `yaml:"redirect_url"`
	FrontendURL string        `yaml:"frontend_url"`
}

// ProvidersConfig holds per-vendor OAuth application settings
type ProvidersConfig struct {
	Drive ProviderConfig `yaml:"drive"`
	Graph ProviderConfig `yaml:"graph"`
}

// ProviderConfig holds one vendor's OAuth application settings
type ProviderConfig struct {
	Enabled      bool     `yaml:"enabled"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// DocStoreConfig holds S3 document store settings
type DocStoreConfig struct {
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	BaseEndpoint string `yaml:"base_endpoint"`
}

// Load reads and parses the configuration file. Secrets present in the
// environment override their config file counterparts.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnvOverrides()

	return &config, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TOKEN_ENCRYPTION_KEY"); v != "" {
		c.Crypto.EncryptionKey = v
	}
	if v := os.Getenv("OAUTH_STATE_SECRET"); v != "" {
		c.OAuth.StateSecret = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		c.Server.APIKey = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("DOCSTORE_SECRET_KEY"); v != "" {
		c.DocStore.SecretKey = v
	}
}

// validateCommon checks the settings both services need.
func (c *Config) validateCommon() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if err := c.validateEncryptionKey(); err != nil {
		return err
	}

	if c.DocStore.Bucket == "" {
		return fmt.Errorf("docstore bucket is required")
	}

	if c.RabbitMQ.Host != "" {
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
		if c.RabbitMQ.Queue.Name == "" {
			return fmt.Errorf("rabbitmq queue name is required")
		}
	}

	return nil
}

func (c *Config) validateEncryptionKey() error {
	if len(c.Crypto.EncryptionKey) != EncryptionKeyLength {
		return fmt.Errorf("encryption key must be %d hex characters, got %d", EncryptionKeyLength, len(c.Crypto.EncryptionKey))
	}
	if _, err := hex.DecodeString(c.Crypto.EncryptionKey); err != nil {
		return fmt.Errorf("encryption key must be hex-encoded: %w", err)
	}
	return nil
}

// ValidateAPIConfig checks the configuration for the API service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Server.APIKey == "" {
		return fmt.Errorf("server api_key is required")
	}

	if c.OAuth.StateSecret == "" {
		return fmt.Errorf("oauth state_secret is required")
	}

	if c.OAuth.RedirectURL == "" {
		return fmt.Errorf("oauth redirect_url is required")
	}

	if c.OAuth.FrontendURL == "" {
		return fmt.Errorf("oauth frontend_url is required")
	}

	if !c.Providers.Drive.Enabled && !c.Providers.Graph.Enabled {
		return fmt.Errorf("at least one storage provider must be enabled")
	}

	if err := c.Providers.Drive.validate("drive"); err != nil {
		return err
	}
	if err := c.Providers.Graph.validate("graph"); err != nil {
		return err
	}

	return c.validateCommon()
}

// ValidateWorkerConfig checks the configuration for the worker service
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.PreviewInterval <= 0 {
		return fmt.Errorf("worker preview_interval must be greater than 0")
	}

	if c.Worker.ExportInterval <= 0 {
		return fmt.Errorf("worker export_interval must be greater than 0")
	}

	if c.Worker.UploadInterval <= 0 {
		return fmt.Errorf("worker upload_interval must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if err := c.Providers.Drive.validate("drive"); err != nil {
		return err
	}
	if err := c.Providers.Graph.validate("graph"); err != nil {
		return err
	}

	return c.validateCommon()
}

func (p *ProviderConfig) validate(name string) error {
	if !p.Enabled {
		return nil
	}
	if p.ClientID == "" {
		return fmt.Errorf("provider %s: client_id is required", name)
	}
	if p.ClientSecret == "" {
		return fmt.Errorf("provider %s: client_secret is required", name)
	}
	return nil
}
