// Package config provides packer configuration management.
// Priority: defaults < config file < environment < flags.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/tacaswell/databroker-pack/pkg/errors"
)

// Config holds all databroker-pack configuration.
type Config struct {
	Version int `yaml:"version"`

	Pack PackConfig `yaml:"pack"`
	S3   S3Config   `yaml:"s3"`
}

// PackConfig controls default export behavior.
type PackConfig struct {
	Format   string `yaml:"format"`   // msgpack | jsonl
	External string `yaml:"external"` // manifest | fill | omit
	Strict   bool   `yaml:"strict"`
}

// S3Config configures the optional S3 external-file transfer.
type S3Config struct {
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
	Concurrency  int    `yaml:"concurrency"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Version: 1,
		Pack: PackConfig{
			Format:   "msgpack",
			External: "manifest",
		},
		S3: S3Config{
			Concurrency: 5,
		},
	}
}

// DefaultPath returns the user config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".databroker-pack", "config.yml")
}

// Load reads configuration starting from defaults, merging the file at path
// (if it exists) and then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.CodeConfigInvalid, "failed to read config file").
				WithContext("path", path)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrap(err, errors.CodeConfigInvalid, "failed to parse config file").
					WithContext("path", path)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays DATABROKER_PACK_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABROKER_PACK_FORMAT"); v != "" {
		c.Pack.Format = v
	}
	if v := os.Getenv("DATABROKER_PACK_EXTERNAL"); v != "" {
		c.Pack.External = v
	}
	if v := os.Getenv("DATABROKER_PACK_STRICT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Pack.Strict = b
		}
	}
	if v := os.Getenv("DATABROKER_PACK_S3_REGION"); v != "" {
		c.S3.Region = v
	}
	if v := os.Getenv("DATABROKER_PACK_S3_BUCKET"); v != "" {
		c.S3.Bucket = v
	}
	if v := os.Getenv("DATABROKER_PACK_S3_ENDPOINT"); v != "" {
		c.S3.Endpoint = v
	}
}

func (c *Config) validate() error {
	switch c.Pack.Format {
	case "msgpack", "jsonl":
	default:
		return errors.New(errors.CodeConfigInvalid, "unknown format in config").
			WithContext("format", c.Pack.Format)
	}
	switch c.Pack.External {
	case "manifest", "fill", "omit", "ignore":
	default:
		return errors.New(errors.CodeConfigInvalid, "unknown external mode in config").
			WithContext("external", c.Pack.External)
	}
	if c.S3.Concurrency < 1 {
		c.S3.Concurrency = 1
	}
	return nil
}
