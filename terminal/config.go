package terminal

import (
	"time"

	"github.com/alovak/cardflow-pos/authclient"
)

// Config is the configuration of one POS terminal.
type Config struct {
	// HTTPAddr is where the ops API listens.
	HTTPAddr string `mapstructure:"http_addr"`
	// DataDir holds the record files and histories.
	DataDir string `mapstructure:"data_dir"`

	// HostAddr is the authorization host, host:port.
	HostAddr   string `mapstructure:"host_addr"`
	TerminalID string `mapstructure:"terminal_id"`
	// ConnectTimeout bounds the connect to the host.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// PollInterval and IdlePolls control how the host answer is read.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	IdlePolls    int           `mapstructure:"idle_polls"`
	// MaxWait bounds a whole host exchange.
	MaxWait time.Duration `mapstructure:"max_wait"`

	// Simulate starts an in-process host and points HostAddr at it.
	Simulate bool `mapstructure:"simulate"`
	// DBDSN enables the Postgres journal. Empty keeps the journal in memory.
	DBDSN string `mapstructure:"db_dsn"`
}

func DefaultConfig() *Config {
	client := authclient.DefaultConfig()
	return &Config{
		HTTPAddr:       "localhost:9090",
		DataDir:        "data",
		HostAddr:       client.Addr,
		TerminalID:     client.TerminalID,
		ConnectTimeout: client.ConnectTimeout,
		PollInterval:   client.PollInterval,
		IdlePolls:      client.IdlePolls,
		MaxWait:        client.MaxWait,
	}
}

// ClientConfig is the authorization client part of c.
func (c *Config) ClientConfig() authclient.Config {
	return authclient.Config{
		Addr:           c.HostAddr,
		TerminalID:     c.TerminalID,
		ConnectTimeout: c.ConnectTimeout,
		PollInterval:   c.PollInterval,
		IdlePolls:      c.IdlePolls,
		MaxWait:        c.MaxWait,
	}
}
