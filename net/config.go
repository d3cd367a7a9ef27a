package net

import (
	"fmt"
	"time"

	"github.com/lcx/tcpio/codec"
)

// ConnectionCfgName is the config name a Manager loads and listens for.
const ConnectionCfgName = "tcp_connection"

// ConnectionCfg configures a Manager.
type ConnectionCfg struct {
	// Role selects what the CLI does on start: "server" or "client".
	Role       string `mapstructure:"role" yaml:"role"`
	Host       string `mapstructure:"host" yaml:"host"`
	Port       int    `mapstructure:"port" yaml:"port"`
	ListenHost string `mapstructure:"listenHost" yaml:"listenHost"`

	LengthPrefixSize int    `mapstructure:"lengthPrefixSize" yaml:"lengthPrefixSize"`
	MaxFrameSize     uint64 `mapstructure:"maxFrameSize" yaml:"maxFrameSize"`
	Codec            string `mapstructure:"codec" yaml:"codec"`

	RetryInterval time.Duration `mapstructure:"retryInterval" yaml:"retryInterval"`
	// MaxRetries caps the attempts of one ConnectToPeer call. 0 retries forever.
	MaxRetries   int           `mapstructure:"maxRetries" yaml:"maxRetries"`
	DialTimeout  time.Duration `mapstructure:"dialTimeout" yaml:"dialTimeout"`
	PollInterval time.Duration `mapstructure:"pollInterval" yaml:"pollInterval"`
	StartupDelay time.Duration `mapstructure:"startupDelay" yaml:"startupDelay"`

	// Resolver names a resolver plugin instance, "factory" or "factory/instance".
	// When empty, ConsulAddr or ConsulService select a consul resolver and
	// otherwise host names go through DNS.
	Resolver      string `mapstructure:"resolver" yaml:"resolver"`
	ConsulAddr    string `mapstructure:"consulAddr" yaml:"consulAddr"`
	ConsulService string `mapstructure:"consulService" yaml:"consulService"`

	// VerboseLog logs every frame regardless of the logger level.
	VerboseLog bool `mapstructure:"verboseLog" yaml:"verboseLog"`
}

// DefaultConnectionCfg returns a config with every default applied.
func DefaultConnectionCfg() *ConnectionCfg {
	c := &ConnectionCfg{}
	c.SetDefaults()
	return c
}

// GetName returns the configuration name for ConnectionCfg
func (c *ConnectionCfg) GetName() string {
	return ConnectionCfgName
}

// SetDefaults fills zero fields.
func (c *ConnectionCfg) SetDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.LengthPrefixSize == 0 {
		c.LengthPrefixSize = DefaultLengthPrefixSize
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.Codec == "" {
		c.Codec = "protobuf"
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 3 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Millisecond
	}
	if c.StartupDelay == 0 {
		c.StartupDelay = 100 * time.Millisecond
	}
}

// Validate validates the ConnectionCfg parameters
func (c *ConnectionCfg) Validate() error {
	switch c.Role {
	case "", "server", "client":
	default:
		return fmt.Errorf("role must be server or client, got %q", c.Role)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.LengthPrefixSize < 1 || c.LengthPrefixSize > MaxLengthPrefixSize {
		return fmt.Errorf("lengthPrefixSize must be in 1..%d", MaxLengthPrefixSize)
	}
	if _, err := codec.Lookup(c.Codec); err != nil {
		return err
	}
	if c.RetryInterval < 0 || c.DialTimeout < 0 || c.PollInterval < 0 || c.StartupDelay < 0 {
		return fmt.Errorf("durations cannot be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("maxRetries cannot be negative")
	}
	return nil
}
