package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from yaml strings like "72h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	// Bare integers read as seconds, matching the original deploy tooling.
	var secs int64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the full daemon configuration. Sensitive or deploy-specific
// values are overridable through environment variables after loading.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Market struct {
		Account        string        `yaml:"account"` // marketplace escrow account
		Admin          string        `yaml:"admin"`
		AuctionTimeout Duration      `yaml:"auction_timeout"`
		MinBids        uint64        `yaml:"min_bids"`
	} `yaml:"market"`

	API struct {
		Listen     string `yaml:"listen"`
		CORSOrigin string `yaml:"cors_origin"`
	} `yaml:"api"`

	Notify struct {
		AMQPURL  string `yaml:"amqp_url"` // empty disables the broker sink
		Exchange string `yaml:"exchange"`
	} `yaml:"notify"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies environment
// overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Market.Account == "" {
		return fmt.Errorf("marketplace account address is required")
	}
	if c.Market.Admin == "" {
		return fmt.Errorf("admin address is required")
	}
	if c.Market.AuctionTimeout <= 0 {
		return fmt.Errorf("auction timeout can not be zero")
	}
	if c.Market.MinBids == 0 {
		return fmt.Errorf("minimum bids threshold can not be zero")
	}
	if c.API.Listen == "" {
		return fmt.Errorf("api listen address is required")
	}
	return nil
}

// overrideWithEnv applies environment variables over the file values.
// Environment wins: deploy tooling injects addresses and broker URLs there.
func overrideWithEnv(cfg *Config) {
	if admin := os.Getenv("MARKET_ADMIN"); admin != "" {
		cfg.Market.Admin = admin
	}
	if account := os.Getenv("MARKET_ACCOUNT"); account != "" {
		cfg.Market.Account = account
	}
	if url := os.Getenv("MARKET_AMQP_URL"); url != "" {
		cfg.Notify.AMQPURL = url
	}
	if listen := os.Getenv("MARKET_API_LISTEN"); listen != "" {
		cfg.API.Listen = listen
	}
	if minBids := os.Getenv("MARKET_MIN_BIDS"); minBids != "" {
		if n, err := strconv.ParseUint(minBids, 10, 64); err == nil {
			cfg.Market.MinBids = n
		}
	}
	if timeout := os.Getenv("MARKET_AUCTION_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.Market.AuctionTimeout = Duration(d)
		}
	}
}
