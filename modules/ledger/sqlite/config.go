package sqlite

import "errors"

const (
	defaultDBFile      = "ledger.db"
	defaultBusyTimeout = 5000 // milliseconds
)

// Config holds the ledger module configuration.
type Config struct {
	// Path of the database file. Defaults to <data_dir>/ledger.db.
	Path string `yaml:"path"`

	// WAL toggles write-ahead logging. Enabled unless set to false.
	WAL *bool `yaml:"wal"`

	// BusyTimeout in milliseconds for concurrent access.
	BusyTimeout int `yaml:"busy_timeout"`

	// Retention caps the number of rows kept; older rows are pruned on
	// insert. 0 keeps everything.
	Retention int `yaml:"retention"`
}

func (c *Config) defaults() {
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
}

func (c *Config) walEnabled() bool {
	return c.WAL == nil || *c.WAL
}

func (c *Config) validate() error {
	if c.BusyTimeout < 0 {
		return errors.New("ledger: busy_timeout must not be negative")
	}
	if c.Retention < 0 {
		return errors.New("ledger: retention must not be negative")
	}
	return nil
}
