package gateway

import "time"

// Config holds HTTP gateway configuration.
type Config struct {
	Bind string     `yaml:"bind"`
	Auth AuthConfig `yaml:"auth"`

	// ProjectRoot confines every path in run requests. Defaults to the
	// app context's project root.
	ProjectRoot string `yaml:"project_root"`

	// GuidelinesPath points at the policy guidelines file embedded in
	// pipeline prompts, relative to the project root.
	GuidelinesPath string `yaml:"guidelines_path"`

	MaxReviewRounds int `yaml:"max_review_rounds"`
	MaxTurns        int `yaml:"max_turns"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// defaults fills zero values. There is deliberately no write timeout: the
// stream endpoints hold their response open for the lifetime of a run.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.MaxReviewRounds == 0 {
		c.MaxReviewRounds = 1
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// AuthConfig configures authentication for the runs API.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user"`
	BasicPass   string `yaml:"basic_pass"`
}

// IsConfigured returns true if any auth method is configured.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}
