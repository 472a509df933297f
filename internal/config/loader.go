package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// varPattern matches ${NAME} and ${NAME:-fallback} placeholders in the
// raw config text. Expansion runs before YAML parsing, so a placeholder
// can sit anywhere a scalar can — bind addresses, paths, tokens.
var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load reads a voxscribe YAML config file, expands environment
// placeholders, and parses the result. A placeholder with neither an
// environment value nor a fallback fails the load; all such names are
// reported together.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var missing []string
	expanded := varPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		groups := varPattern.FindSubmatch(match)
		name := string(groups[1])

		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		// groups[2] is non-nil even for an empty fallback, so ${X:-}
		// expands to "" rather than failing.
		if groups[2] != nil {
			return groups[2]
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("config: %s: unresolved variable: %s", path, strings.Join(missing, ", "))
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &cfg, nil
}
