package kafka

import (
	"errors"
	"fmt"
	"strings"
)

const (
	StartEarliest = "earliest"
	StartLatest   = "latest"
)

// Config is shared by every consumer driver.
type Config struct {
	Brokers   []string `koanf:"brokers" yaml:"brokers"`
	GroupID   string   `koanf:"group_id" yaml:"group_id"`
	ClientID  string   `koanf:"client_id" yaml:"client_id"`
	Version   string   `koanf:"version" yaml:"version"`
	StartFrom string   `koanf:"start_from" yaml:"start_from"` // earliest|latest
	TLSEn     bool     `koanf:"tls_enabled" yaml:"tls_enabled"`
	SASLUser  string   `koanf:"sasl_user" yaml:"sasl_user"`
	SASLPass  string   `koanf:"sasl_pass" yaml:"-"`

	// Filled in by the pool, not by the config file.
	MaxPollRecords int  `koanf:"-" yaml:"-"`
	AutoCommit     bool `koanf:"-" yaml:"-"`
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	if c.GroupID == "" {
		c.GroupID = "kafnotif"
	}
	if c.ClientID == "" {
		c.ClientID = "kafnotif"
	}
	if c.Version == "" {
		c.Version = "2.8.0"
	}
	c.StartFrom = strings.ToLower(strings.TrimSpace(c.StartFrom))
	switch c.StartFrom {
	case "", "oldest":
		c.StartFrom = StartEarliest
	case "newest":
		c.StartFrom = StartLatest
	}
	if c.MaxPollRecords <= 0 {
		c.MaxPollRecords = 500
	}
}

func (c Config) Validate() error {
	var errs []error
	if len(c.Brokers) == 0 {
		errs = append(errs, errors.New("kafka: at least one broker is required"))
	}
	if c.GroupID == "" {
		errs = append(errs, errors.New("kafka: group_id is required"))
	}
	if c.StartFrom != StartEarliest && c.StartFrom != StartLatest {
		errs = append(errs, fmt.Errorf("kafka: start_from %q must be earliest or latest", c.StartFrom))
	}
	return errors.Join(errs...)
}
