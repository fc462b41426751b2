// Package config loads process-level configuration from a YAML file,
// then applies command-line flag overrides on top (spec.md §3's ambient
// Config entity, extended per SPEC_FULL.md §3/§4.0).
//
// Grounded on the teacher's cmd/rtmp-server/flags.go (flag.FlagSet,
// stringSliceFlag, applyDefaults-style validation) for the flag layer,
// and nishisan-dev-n-backup's config-struct-with-defaults idiom
// (gopkg.in/yaml.v3 unmarshal into a struct carrying its own defaults)
// for the file layer.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TLS holds the optional TLS material for an endpoint.
type TLS struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

// Config is the process-level configuration of cmd/rpchost (cmd/rpcclient
// does not load it), covering the ambient knobs SPEC_FULL.md §3 names.
type Config struct {
	Endpoints           []string      `yaml:"endpoints"`
	BacklogSize         int           `yaml:"backlogSize"`
	MaxOpenConnCount    int           `yaml:"maxOpenConnCount"`
	ChunkPoolSize       int           `yaml:"chunkPoolSize"`
	ChunkSize           uint32        `yaml:"chunkSize"`
	InactivityInterval  time.Duration `yaml:"inactivityInterval"`
	InactivityTimeout   time.Duration `yaml:"inactivityTimeout"`
	MaxQueuedChunkCount int64         `yaml:"maxQueuedChunkCount"`
	DispatchConcurrency int           `yaml:"dispatchConcurrency"`
	LogLevel            string        `yaml:"logLevel"`
	MetricsAddr         string        `yaml:"metricsAddr"`
	TLS                 TLS           `yaml:"tls"`
}

// applyDefaults fills unset fields the way the teacher's server.Config
// does for RTMP-specific knobs, before any flag override is layered on.
func (c *Config) applyDefaults() {
	if len(c.Endpoints) == 0 {
		c.Endpoints = []string{":9443"}
	}
	if c.BacklogSize == 0 {
		c.BacklogSize = 128
	}
	if c.MaxOpenConnCount == 0 {
		c.MaxOpenConnCount = 1024
	}
	if c.ChunkPoolSize == 0 {
		c.ChunkPoolSize = 256
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 4096
	}
	if c.InactivityInterval == 0 {
		c.InactivityInterval = 30 * time.Second
	}
	if c.InactivityTimeout == 0 {
		c.InactivityTimeout = 90 * time.Second
	}
	if c.MaxQueuedChunkCount == 0 {
		c.MaxQueuedChunkCount = 256
	}
	if c.DispatchConcurrency == 0 {
		c.DispatchConcurrency = 32
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9444"
	}
}

// validate rejects configurations that would make the process
// unschedulable, mirroring the teacher's chunk-size bounds check.
func (c *Config) validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("config: at least one endpoint is required")
	}
	if c.ChunkSize == 0 || c.ChunkSize > 65536 {
		return fmt.Errorf("config: chunkSize must be between 1 and 65536, got %d", c.ChunkSize)
	}
	if c.MaxOpenConnCount <= 0 {
		return fmt.Errorf("config: maxOpenConnCount must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid logLevel %q", c.LogLevel)
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return fmt.Errorf("config: tls.enabled requires certFile and keyFile")
	}
	return nil
}

// Load reads a YAML config file from path (skipped if path is empty),
// applies defaults, then layers flag overrides parsed from args, the
// way the teacher's parseFlags does for its cliConfig.
func Load(path string, args []string) (*Config, error) {
	c := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}
	c.applyDefaults()

	if err := c.applyFlags(args); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// applyFlags overlays command-line flags on top of the file-provided
// (or default) configuration, following the teacher's flag.NewFlagSet
// + flag.ContinueOnError idiom so callers control how parse errors are
// reported.
func (c *Config) applyFlags(args []string) error {
	fs := flag.NewFlagSet("rpc-config", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var endpoint string
	fs.StringVar(&endpoint, "listen", "", "override the first configured endpoint")
	logLevel := fs.String("log-level", "", "log level: debug|info|warn|error")
	chunkSize := fs.Uint("chunk-size", 0, "initial outbound chunk size")
	metricsAddr := fs.String("metrics-addr", "", "admin /metrics and /healthz listen address")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if endpoint != "" {
		c.Endpoints = []string{endpoint}
	}
	if *logLevel != "" {
		c.LogLevel = *logLevel
	}
	if *chunkSize != 0 {
		c.ChunkSize = uint32(*chunkSize)
	}
	if *metricsAddr != "" {
		c.MetricsAddr = *metricsAddr
	}
	return nil
}
