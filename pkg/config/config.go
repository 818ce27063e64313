// Package config loads the control plane's static configuration: the
// coordination store's data directory and Raft bind address, each
// external collaborator's base URL and call timeout, and the tick
// interval each reconciliation engine runs on. Configuration is a YAML
// file with environment-variable overrides for the handful of fields
// operators need to vary per host without editing the file (§5's model
// assumes every reconciler's tick interval is independently tunable).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreConfig configures the Coordination Store Client replica.
type StoreConfig struct {
	NodeID    string `yaml:"nodeId"`
	DataDir   string `yaml:"dataDir"`
	BindAddr  string `yaml:"bindAddr"`
	Bootstrap bool   `yaml:"bootstrap"`
}

// CollaboratorConfig is the base URL and per-call timeout for one of
// §6's external collaborators.
type CollaboratorConfig struct {
	BaseURL string        `yaml:"baseUrl"`
	Timeout time.Duration `yaml:"timeout"`
}

// ExternalConfig configures every §6 collaborator client.
type ExternalConfig struct {
	ConfigServer        CollaboratorConfig `yaml:"configServer"`
	CloudAPI            CollaboratorConfig `yaml:"cloudApi"`
	Orchestrator        CollaboratorConfig `yaml:"orchestrator"`
	CertificateProvider CollaboratorConfig `yaml:"certificateProvider"`
	ArchiveBucket       CollaboratorConfig `yaml:"archiveBucket"`
}

// IntervalsConfig sets each periodic job's tick interval.
type IntervalsConfig struct {
	NodeLifecycle time.Duration `yaml:"nodeLifecycle"`
	Routing       time.Duration `yaml:"routing"`
	CertMaintain  time.Duration `yaml:"certMaintain"`
}

// LogConfig mirrors pkg/log.Config's fields for YAML loading.
type LogConfig struct {
	Level      string `yaml:"level"`
	JSONOutput bool   `yaml:"jsonOutput"`
}

// Config is the complete control plane configuration.
type Config struct {
	Store       StoreConfig     `yaml:"store"`
	External    ExternalConfig  `yaml:"external"`
	Intervals   IntervalsConfig `yaml:"intervals"`
	Log         LogConfig       `yaml:"log"`
	MetricsAddr string          `yaml:"metricsAddr"`
}

const (
	defaultConfigPath            = "config/controlplane.yaml"
	defaultCollaboratorTimeout    = 10 * time.Second
	defaultNodeLifecycleInterval = 30 * time.Second
	defaultRoutingInterval       = 30 * time.Second
	defaultCertMaintainInterval  = time.Hour
	defaultMetricsAddr           = ":9090"
)

// Load reads and validates configuration from path, applying
// environment-variable overrides afterward. An empty path falls back
// to CONTROLPLANE_CONFIG_PATH, then defaultConfigPath.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv("CONTROLPLANE_CONFIG_PATH"))
	}
	if path == "" {
		path = defaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	return LoadBytes(data)
}

// LoadBytes parses raw YAML config, applies defaults and environment
// overrides, and validates the result.
func LoadBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse yaml: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.External.ConfigServer.Timeout == 0 {
		c.External.ConfigServer.Timeout = defaultCollaboratorTimeout
	}
	if c.External.CloudAPI.Timeout == 0 {
		c.External.CloudAPI.Timeout = defaultCollaboratorTimeout
	}
	if c.External.Orchestrator.Timeout == 0 {
		c.External.Orchestrator.Timeout = defaultCollaboratorTimeout
	}
	if c.External.CertificateProvider.Timeout == 0 {
		c.External.CertificateProvider.Timeout = defaultCollaboratorTimeout
	}
	if c.External.ArchiveBucket.Timeout == 0 {
		c.External.ArchiveBucket.Timeout = defaultCollaboratorTimeout
	}
	if c.Intervals.NodeLifecycle == 0 {
		c.Intervals.NodeLifecycle = defaultNodeLifecycleInterval
	}
	if c.Intervals.Routing == 0 {
		c.Intervals.Routing = defaultRoutingInterval
	}
	if c.Intervals.CertMaintain == 0 {
		c.Intervals.CertMaintain = defaultCertMaintainInterval
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = defaultMetricsAddr
	}
}

// applyEnvOverrides lets an operator vary per-host identity (node ID,
// bind address, data directory, bootstrap flag) without templating the
// YAML file —
// the fields that differ across an otherwise-identical fleet of
// replicas.
func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("CONTROLPLANE_NODE_ID")); v != "" {
		c.Store.NodeID = v
	}
	if v := strings.TrimSpace(os.Getenv("CONTROLPLANE_BIND_ADDR")); v != "" {
		c.Store.BindAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("CONTROLPLANE_DATA_DIR")); v != "" {
		c.Store.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("CONTROLPLANE_BOOTSTRAP")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Store.Bootstrap = b
		}
	}
}

// Validate reports whether the configuration is complete enough to
// start the process.
func (c *Config) Validate() error {
	if c.Store.NodeID == "" {
		return fmt.Errorf("config: store.nodeId is required")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("config: store.dataDir is required")
	}
	if c.Store.BindAddr == "" {
		return fmt.Errorf("config: store.bindAddr is required")
	}
	for name, cc := range map[string]CollaboratorConfig{
		"external.configServer":        c.External.ConfigServer,
		"external.cloudApi":            c.External.CloudAPI,
		"external.orchestrator":        c.External.Orchestrator,
		"external.certificateProvider": c.External.CertificateProvider,
		"external.archiveBucket":       c.External.ArchiveBucket,
	} {
		if cc.BaseURL == "" {
			return fmt.Errorf("config: %s.baseUrl is required", name)
		}
	}
	return nil
}
