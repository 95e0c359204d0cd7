package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	SQLite    SQLiteConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Mailbox   MailboxConfig
	Poller    PollerConfig
	RateLimit RateLimitConfig
	Vendors   []VendorSeed
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host          string
	Port          int
	ReadTimeout   int
	WriteTimeout  int
	BodyLimit     int
	IsDevelopment bool

	// AllowedOrigins is a comma-separated CORS origin list.
	AllowedOrigins string
}

type StorageConfig struct {
	Driver string
}

type SQLiteConfig struct {
	Path string
}

type PostgresConfig struct {
	DSN      string
	MaxConns int32
}

type RedisConfig struct {
	Enabled           bool
	Host              string
	Port              int
	Password          string
	DB                int
	RecommendationTTL int
}

type LLMConfig struct {
	Provider    string
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type MailboxConfig struct {
	APIURL           string
	SMTPHost         string
	SMTPPort         int
	ProcurementEmail string
	FetchFull        bool
	TimeoutSec       int
}

type PollerConfig struct {
	IntervalMs int
	RunOnStart bool
}

type RateLimitConfig struct {
	ChatRequestsPerMinute int
	MaxChatTextLength     int
}

type VendorSeed struct {
	Name         string
	ContactName  string
	ContactEmail string
	// Reply is the simulator's response template; {{title}} is replaced with the RFP title.
	Reply string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func (c PollerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c MailboxConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c MailboxConfig) SMTPAddr() string {
	return fmt.Sprintf("%s:%d", c.SMTPHost, c.SMTPPort)
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c RedisConfig) TTL() time.Duration {
	return time.Duration(c.RecommendationTTL) * time.Second
}

func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads the given config file instead of searching the default locations. A named file
// that does not exist is an error.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/rfp-agent")
	}

	v.SetEnvPrefix("RFP_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "sqlite":
		if c.SQLite.Path == "" {
			errs = append(errs, errors.New("sqlite.path is required"))
		}
	case "postgres":
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required when storage.driver is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	if c.Poller.IntervalMs <= 0 {
		errs = append(errs, errors.New("poller.intervalMs must be positive"))
	}
	if c.LLM.TimeoutSec <= 0 {
		errs = append(errs, errors.New("llm.timeoutSec must be positive"))
	}
	if !strings.Contains(c.Mailbox.ProcurementEmail, "@") {
		errs = append(errs, fmt.Errorf("mailbox.procurementEmail %q is not an address", c.Mailbox.ProcurementEmail))
	}
	for i, vendor := range c.Vendors {
		if vendor.Name == "" || !strings.Contains(vendor.ContactEmail, "@") {
			errs = append(errs, fmt.Errorf("vendors[%d] needs a name and a contact email", i))
		}
	}

	return errors.Join(errs...)
}

// bindLegacyEnv keeps the variable names the Node service used working.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"server.port":              {"RFP_AGENT_SERVER_PORT", "PORT"},
		"mailbox.procurementEmail": {"RFP_AGENT_MAILBOX_PROCUREMENTEMAIL", "PROCUREMENT_EMAIL"},
		"poller.intervalMs":        {"RFP_AGENT_POLLER_INTERVALMS", "POLL_INTERVAL"},
		"llm.apiKey":               {"RFP_AGENT_LLM_APIKEY", "OPENAI_API_KEY"},
		"postgres.dsn":             {"RFP_AGENT_POSTGRES_DSN", "DATABASE_URL"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.isDevelopment", true)
	v.SetDefault("server.allowedOrigins", "*")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("sqlite.path", "./data/rfp.db")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.maxConns", 10)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.recommendationTTL", 86400)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.maxTokens", 1024)
	v.SetDefault("llm.timeoutSec", 30)

	v.SetDefault("mailbox.apiURL", "http://localhost:8025")
	v.SetDefault("mailbox.smtpHost", "localhost")
	v.SetDefault("mailbox.smtpPort", 1025)
	v.SetDefault("mailbox.procurementEmail", "procurement-system@test.com")
	v.SetDefault("mailbox.fetchFull", true)
	v.SetDefault("mailbox.timeoutSec", 10)

	v.SetDefault("poller.intervalMs", 15000)
	v.SetDefault("poller.runOnStart", true)

	v.SetDefault("rateLimit.chatRequestsPerMinute", 20)
	v.SetDefault("rateLimit.maxChatTextLength", 8000)

	v.SetDefault("vendors", []map[string]interface{}{
		{
			"name":         "Tech Supply Co.",
			"contactName":  "Alex Morgan",
			"contactEmail": "vendor1@test.com",
			"reply":        techSupplyReply,
		},
		{
			"name":         "Supply Tech Co.",
			"contactName":  "Jordan Lee",
			"contactEmail": "vendor2@test.com",
			"reply":        supplyTechReply,
		},
	})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}

const techSupplyReply = `Proposal for "{{title}}":

Thank you for inviting us to submit a proposal.

Offer:

* Price: $28,750
* Delivery: 25 days (on-site assembly included)
* Warranty: 2 years on all items
* Additional Services: Free ergonomic assessment, optional customization of finishes
* Payment Terms: Net 30
`

const supplyTechReply = `Proposal for "{{title}}":

Cost: $2,300 per month

Delivery: Service start date January 10, 2026

Warranty: 1 year service satisfaction guarantee

Additional Details: Includes weekly deep sanitation cycle and optional weekend add-on services.
`
