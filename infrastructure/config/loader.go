package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envPattern matches ${VAR} and ${VAR:-default} references.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*)?\}`)

// Load reads a YAML configuration file, expands ${VAR} environment
// references, applies it on top of the defaults and validates the
// result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// expandEnv substitutes ${VAR} references with environment values.
// ${VAR:-default} falls back to the default when VAR is unset or
// empty; a bare ${VAR} expands to the empty string when unset.
func expandEnv(input string) string {
	return envPattern.ReplaceAllStringFunc(input, func(match string) string {
		inner := match[2 : len(match)-1]
		name, def, hasDef := strings.Cut(inner, ":-")

		value, ok := os.LookupEnv(name)
		if (!ok || value == "") && hasDef {
			return def
		}
		return value
	})
}
