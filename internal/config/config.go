// ABOUTME: Configuration loading and parsing for the proxy and fleet supervisor
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration for both binaries. The proxy
// reads server/store/auth/logging; the fleet supervisor additionally reads
// services/supervisor.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Auth       AuthConfig       `yaml:"auth"`
	Services   []ServiceConfig  `yaml:"services"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds the proxy server configuration
type ServerConfig struct {
	ServiceName string `yaml:"service_name"`
	ListenAddr  string `yaml:"listen_addr"`
	UpstreamURL string `yaml:"upstream_url"`
	MCPPath     string `yaml:"mcp_path"`

	RequestTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// StoreConfig holds the credential store connection configuration
type StoreConfig struct {
	Driver string `yaml:"driver"` // "postgres" or "sqlite"
	DSN    string `yaml:"dsn"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	JWTSecret string `yaml:"jwt_secret"`

	// RequiredScopes must all be held by a principal to pass the proxy.
	RequiredScopes []string `yaml:"required_scopes"`

	// IdentityHeaders is the explicit allow-list of identity headers the
	// forwarder may inject upstream. Empty means no identity forwarding.
	IdentityHeaders []string `yaml:"identity_headers"`

	CacheTTL time.Duration `yaml:"-"`

	CacheTTLRaw string `yaml:"cache_ttl"`

	// Development credentials; leave empty in production.
	DevAPIKey string   `yaml:"dev_api_key"`
	DevUserID string   `yaml:"dev_user_id"`
	DevRole   string   `yaml:"dev_role"`
	DevScopes []string `yaml:"dev_scopes"`
	DevOrgID  string   `yaml:"dev_org_id"`
}

// ServiceConfig describes one managed upstream service and its optional
// authenticating proxy.
type ServiceConfig struct {
	Name      string   `yaml:"name"`
	Port      int      `yaml:"port"`
	ProxyPort int      `yaml:"proxy_port"`
	Auth      bool     `yaml:"auth"`
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args"`
	WorkDir   string   `yaml:"workdir"`
}

// SupervisorConfig holds fleet supervisor timing configuration
type SupervisorConfig struct {
	HealthAddr string `yaml:"health_addr"`

	MonitorInterval time.Duration `yaml:"-"`
	RestartBackoff  time.Duration `yaml:"-"`
	ProbeTimeout    time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	MonitorIntervalRaw string `yaml:"monitor_interval"`
	RestartBackoffRaw  string `yaml:"restart_backoff"`
	ProbeTimeoutRaw    string `yaml:"probe_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the corresponding option is absent.
const (
	DefaultMCPPath         = "/mcp"
	DefaultRequestTimeout  = 30 * time.Second
	DefaultCacheTTL        = 30 * time.Second
	DefaultMonitorInterval = 10 * time.Second
	DefaultRestartBackoff  = 3 * time.Second
	DefaultProbeTimeout    = 5 * time.Second
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in defaults for absent options.
func (c *Config) applyDefaults() {
	if c.Server.MCPPath == "" {
		c.Server.MCPPath = DefaultMCPPath
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = DefaultRequestTimeout
	}
	if c.Auth.CacheTTL == 0 && c.Auth.CacheTTLRaw == "" {
		c.Auth.CacheTTL = DefaultCacheTTL
	}
	if c.Supervisor.MonitorInterval == 0 {
		c.Supervisor.MonitorInterval = DefaultMonitorInterval
	}
	if c.Supervisor.RestartBackoff == 0 {
		c.Supervisor.RestartBackoff = DefaultRestartBackoff
	}
	if c.Supervisor.ProbeTimeout == 0 {
		c.Supervisor.ProbeTimeout = DefaultProbeTimeout
	}
}

// Validate checks that all present configuration sections are coherent.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.UpstreamURL != "" {
		u, err := url.Parse(c.Server.UpstreamURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("server.upstream_url %q is not a valid URL", c.Server.UpstreamURL)
		}
	}

	if c.Auth.Enabled {
		if c.Store.Driver == "" || c.Store.DSN == "" {
			return fmt.Errorf("store.driver and store.dsn are required when auth is enabled")
		}
	}

	seenNames := make(map[string]bool)
	seenPorts := make(map[int]string)
	for i, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("services[%d].name is required", i)
		}
		if seenNames[svc.Name] {
			return fmt.Errorf("duplicate service name %q", svc.Name)
		}
		seenNames[svc.Name] = true

		if svc.Command == "" {
			return fmt.Errorf("services[%d] (%s): command is required", i, svc.Name)
		}
		if svc.Port <= 0 || svc.Port > 65535 {
			return fmt.Errorf("services[%d] (%s): port %d is invalid", i, svc.Name, svc.Port)
		}
		if owner, taken := seenPorts[svc.Port]; taken {
			return fmt.Errorf("service %s: port %d already assigned to %s", svc.Name, svc.Port, owner)
		}
		seenPorts[svc.Port] = svc.Name

		if svc.Auth {
			if svc.ProxyPort <= 0 || svc.ProxyPort > 65535 {
				return fmt.Errorf("service %s: proxy_port is required when auth is enabled", svc.Name)
			}
			if owner, taken := seenPorts[svc.ProxyPort]; taken {
				return fmt.Errorf("service %s: proxy_port %d already assigned to %s", svc.Name, svc.ProxyPort, owner)
			}
			seenPorts[svc.ProxyPort] = svc.Name
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Server.RequestTimeoutRaw, &cfg.Server.RequestTimeout, "request_timeout"},
		{cfg.Auth.CacheTTLRaw, &cfg.Auth.CacheTTL, "cache_ttl"},
		{cfg.Supervisor.MonitorIntervalRaw, &cfg.Supervisor.MonitorInterval, "monitor_interval"},
		{cfg.Supervisor.RestartBackoffRaw, &cfg.Supervisor.RestartBackoff, "restart_backoff"},
		{cfg.Supervisor.ProbeTimeoutRaw, &cfg.Supervisor.ProbeTimeout, "probe_timeout"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
