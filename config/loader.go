package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// envVarPattern matches ${VAR} and ${VAR:-default} references, the same
// two forms config/env.go's expansion supported in the teacher.
var envVarPattern = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)(:-(.*?))?\}`)

func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		name, def := parts[1], parts[3]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return def
	})
}

// LoadEnvFiles loads .env.local then .env into the process environment,
// in priority order (local overrides shared, neither overrides an
// already-set variable — godotenv.Load never clobbers existing values).
func LoadEnvFiles() error {
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads a YAML configuration file via koanf, expands
// ${VAR}/${VAR:-default} references against the process environment, and
// fills in defaults for everything left unset, grounded on
// pkg/config/koanf_loader.go's file-provider path (the consul/etcd/
// zookeeper backends it also supports have no user in this runtime's
// single-process deployment model and are dropped).
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	expandKoanfStrings(k, "")

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// expandKoanfStrings rewrites every string leaf koanf holds in place,
// expanding environment variable references before unmarshalling.
func expandKoanfStrings(k *koanf.Koanf, prefix string) {
	for key, val := range k.All() {
		if s, ok := val.(string); ok {
			if expanded := expandEnvVars(s); expanded != s {
				_ = k.Set(key, expanded)
			}
		}
	}
}

// LoadFromString parses yamlContent directly, bypassing the file
// provider — useful for tests and embedded defaults.
func LoadFromString(yamlContent string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider([]byte(yamlContent)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	expandKoanfStrings(k, "")

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}
