// Package config loads and validates netsweep configuration files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/netsweep/internal/errors"
	"github.com/anstrom/netsweep/internal/logging"
	"github.com/anstrom/netsweep/internal/scanning"
)

const (
	configDirPerm  = 0750
	configFilePerm = 0600
)

// Config represents the complete netsweep configuration
type Config struct {
	// Probe settings shared by scan, discover and watch
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// Lookup data overrides
	Vendors VendorsConfig `yaml:"vendors" json:"vendors"`

	// Scheduled sweeps
	Watch WatchConfig `yaml:"watch" json:"watch"`

	// API configuration
	API APIConfig `yaml:"api" json:"api"`

	// Logging configuration
	Logging logging.Config `yaml:"logging" json:"logging"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// ScanningConfig holds probe settings
type ScanningConfig struct {
	// ICMP echo timeout per host
	PingTimeout time.Duration `yaml:"ping_timeout" json:"ping_timeout" validate:"gt=0"`

	// TCP connect timeout per port
	PortTimeout time.Duration `yaml:"port_timeout" json:"port_timeout" validate:"gt=0"`

	// Hosts probed at the same time
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent" validate:"min=1,max=1024"`

	// Neighbor table lookups after priming ARP
	ArpRetryCount int `yaml:"arp_retry_count" json:"arp_retry_count" validate:"min=1,max=50"`

	// Delay between neighbor table lookups
	ArpRetryDelay time.Duration `yaml:"arp_retry_delay" json:"arp_retry_delay" validate:"gte=0"`

	// Ports probed on every online host, in report order
	Ports []int `yaml:"ports" json:"ports" validate:"dive,min=1,max=65535"`

	// Port scanner backend (connect, nmap)
	PortScanner string `yaml:"port_scanner" json:"port_scanner" validate:"oneof=connect nmap"`

	// Reverse DNS for online hosts
	ResolveHostnames bool `yaml:"resolve_hostnames" json:"resolve_hostnames"`

	// How long reverse DNS answers are reused
	DNSCacheTTL time.Duration `yaml:"dns_cache_ttl" json:"dns_cache_ttl" validate:"gte=0"`

	// Drop offline hosts from output
	HideOffline bool `yaml:"hide_offline" json:"hide_offline"`

	// Admission pacing
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig holds admission pacing settings
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Hosts admitted per second
	HostsPerSecond int `yaml:"hosts_per_second" json:"hosts_per_second" validate:"gte=0"`

	// Burst size
	BurstSize int `yaml:"burst_size" json:"burst_size" validate:"gte=0"`
}

// VendorsConfig points at replacement lookup files. Empty paths use the
// embedded tables.
type VendorsConfig struct {
	OUIFile      string `yaml:"oui_file" json:"oui_file"`
	MappingsFile string `yaml:"mappings_file" json:"mappings_file"`
}

// WatchConfig holds settings for scheduled sweeps
type WatchConfig struct {
	// Cron expression, e.g. "*/15 * * * *" or "@every 10m"
	Schedule string `yaml:"schedule" json:"schedule"`

	// Targets swept on each run; empty with Adapter unset sweeps all adapters
	Targets []string `yaml:"targets" json:"targets"`

	// Adapter whose subnets are swept
	Adapter string `yaml:"adapter" json:"adapter"`
}

// APIConfig holds API server settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr" json:"listen_addr" validate:"required"`
	Port           int           `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	CORSOrigins    []string      `yaml:"cors_origins" json:"cors_origins"`
	RequestLogging bool          `yaml:"request_logging" json:"request_logging"`

	// Per-client request limit
	RateLimitEnabled  bool          `yaml:"rate_limit_enabled" json:"rate_limit_enabled"`
	RateLimitRequests int           `yaml:"rate_limit_requests" json:"rate_limit_requests" validate:"min=1"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window" json:"rate_limit_window" validate:"gt=0"`

	// Sweeps a single websocket client may request
	MaxTargets int `yaml:"max_targets" json:"max_targets" validate:"min=1"`
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	opts := scanning.DefaultScanOptions()
	return &Config{
		Scanning: ScanningConfig{
			PingTimeout:      opts.PingTimeout,
			PortTimeout:      opts.PortTimeout,
			MaxConcurrent:    opts.MaxConcurrent,
			ArpRetryCount:    opts.ArpRetryCount,
			ArpRetryDelay:    opts.ArpRetryDelay,
			Ports:            opts.Ports,
			PortScanner:      scanning.PortScannerConnect,
			ResolveHostnames: true,
			DNSCacheTTL:      10 * time.Minute,
			RateLimit: RateLimitConfig{
				Enabled:        false,
				HostsPerSecond: 50,
				BurstSize:      20,
			},
		},
		Watch: WatchConfig{
			Schedule: "@every 15m",
		},
		API: APIConfig{
			ListenAddr:     "127.0.0.1",
			Port:           8080,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			IdleTimeout:    60 * time.Second,
			CORSOrigins:    []string{"*"},
			RequestLogging: true,
			MaxTargets:     4096,

			RateLimitEnabled:  true,
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
		},
		Logging: logging.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load loads configuration from a file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeFileNotFound, "failed to read config file", err)
	}

	// yaml.v3 also accepts JSON documents.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration. The first offending field is
// reported as a ConfigError carrying the yaml path of the field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if ok := asValidationErrors(err, &fieldErrs); ok && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return errors.ErrConfigInvalid(yamlPath(fe.Namespace()), fe.Value())
		}
		return errors.WrapConfigError(errors.CodeValidation, "invalid configuration", err)
	}

	if c.Scanning.RateLimit.Enabled && c.Scanning.RateLimit.HostsPerSecond == 0 {
		return errors.ErrConfigInvalid("scanning.rate_limit.hosts_per_second", 0)
	}

	seen := make(map[int]bool, len(c.Scanning.Ports))
	for _, p := range c.Scanning.Ports {
		if seen[p] {
			return errors.NewConfigFieldError(errors.CodeValidation, "duplicate port", "scanning.ports", p)
		}
		seen[p] = true
	}

	return nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	v, ok := err.(validator.ValidationErrors)
	if ok {
		*target = v
	}
	return ok
}

// yamlPath turns "Config.Scanning.PingTimeout" into "scanning.ping_timeout".
func yamlPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snakeCase(p)
	}
	return strings.Join(parts, ".")
}

func snakeCase(s string) string {
	isUpper := func(c byte) bool { return c >= 'A' && c <= 'Z' }

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUpper(c) {
			nextLower := i+1 < len(s) && !isUpper(s[i+1])
			if i > 0 && (!isUpper(s[i-1]) || nextLower) {
				b.WriteByte('_')
			}
			c += 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}

// ScanOptions converts the scanning section into probe options.
func (c *Config) ScanOptions() scanning.ScanOptions {
	s := c.Scanning
	opts := scanning.ScanOptions{
		PingTimeout:      s.PingTimeout,
		PortTimeout:      s.PortTimeout,
		MaxConcurrent:    s.MaxConcurrent,
		ArpRetryCount:    s.ArpRetryCount,
		ArpRetryDelay:    s.ArpRetryDelay,
		Ports:            append([]int(nil), s.Ports...),
		PortScanner:      s.PortScanner,
		ResolveHostnames: s.ResolveHostnames,
	}
	if s.RateLimit.Enabled {
		opts.RateLimit = float64(s.RateLimit.HostsPerSecond)
		opts.RateBurst = s.RateLimit.BurstSize
	}
	return opts
}

// GetAPIAddress returns the full API address
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.ListenAddr, c.API.Port)
}
