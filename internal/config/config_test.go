package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netsweep/internal/errors"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 300*time.Millisecond, cfg.Scanning.PingTimeout)
	assert.Equal(t, 300*time.Millisecond, cfg.Scanning.PortTimeout)
	assert.Equal(t, 20, cfg.Scanning.MaxConcurrent)
	assert.Equal(t, 3, cfg.Scanning.ArpRetryCount)
	assert.Equal(t, 100*time.Millisecond, cfg.Scanning.ArpRetryDelay)
	assert.Equal(t, []int{21, 22, 23, 80, 443}, cfg.Scanning.Ports)
	assert.Equal(t, "connect", cfg.Scanning.PortScanner)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		wantErr  bool
		wantCode errors.ErrorCode
		check    func(t *testing.T, cfg *Config)
	}{
		{
			name: "valid yaml config",
			file: "netsweep.yaml",
			content: `
scanning:
  ping_timeout: 500ms
  max_concurrent: 64
  ports: [22, 3389]
  hide_offline: true
logging:
  level: debug
  format: pretty
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 500*time.Millisecond, cfg.Scanning.PingTimeout)
				assert.Equal(t, 64, cfg.Scanning.MaxConcurrent)
				assert.Equal(t, []int{22, 3389}, cfg.Scanning.Ports)
				assert.True(t, cfg.Scanning.HideOffline)
				// untouched values keep their defaults
				assert.Equal(t, 300*time.Millisecond, cfg.Scanning.PortTimeout)
				assert.Equal(t, "pretty", string(cfg.Logging.Format))
			},
		},
		{
			name:    "valid json config",
			file:    "netsweep.json",
			content: `{"scanning": {"max_concurrent": 8, "port_scanner": "nmap"}}`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8, cfg.Scanning.MaxConcurrent)
				assert.Equal(t, "nmap", cfg.Scanning.PortScanner)
			},
		},
		{
			name:     "invalid yaml syntax",
			file:     "bad.yaml",
			content:  "scanning: [unterminated",
			wantErr:  true,
			wantCode: errors.CodeConfiguration,
		},
		{
			name:     "zero concurrency",
			file:     "zero.yaml",
			content:  "scanning:\n  max_concurrent: 0\n",
			wantErr:  true,
			wantCode: errors.CodeValidation,
		},
		{
			name:     "port out of range",
			file:     "ports.yaml",
			content:  "scanning:\n  ports: [80, 70000]\n",
			wantErr:  true,
			wantCode: errors.CodeValidation,
		},
		{
			name:     "unknown port scanner",
			file:     "scanner.yaml",
			content:  "scanning:\n  port_scanner: syn\n",
			wantErr:  true,
			wantCode: errors.CodeValidation,
		},
		{
			name:     "bad log format",
			file:     "log.yaml",
			content:  "logging:\n  format: xml\n",
			wantErr:  true,
			wantCode: errors.CodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.file, tt.content))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCode(err, tt.wantCode), "got %v", err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidateReportsFieldPath(t *testing.T) {
	cfg := Default()
	cfg.Scanning.PingTimeout = 0

	err := cfg.Validate()
	require.Error(t, err)

	var cfgErr *errors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "scanning.ping_timeout", cfgErr.Field)
}

func TestValidateSemanticChecks(t *testing.T) {
	t.Run("duplicate ports", func(t *testing.T) {
		cfg := Default()
		cfg.Scanning.Ports = []int{22, 80, 22}
		assert.True(t, errors.IsCode(cfg.Validate(), errors.CodeValidation))
	})

	t.Run("rate limit enabled without rate", func(t *testing.T) {
		cfg := Default()
		cfg.Scanning.RateLimit.Enabled = true
		cfg.Scanning.RateLimit.HostsPerSecond = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "netsweep.yaml")

	cfg := Default()
	cfg.Scanning.Ports = []int{8080}
	cfg.Watch.Targets = []string{"10.0.0.1-10"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []int{8080}, loaded.Scanning.Ports)
	assert.Equal(t, []string{"10.0.0.1-10"}, loaded.Watch.Targets)
}

func TestScanOptions(t *testing.T) {
	cfg := Default()
	cfg.Scanning.RateLimit.Enabled = true
	cfg.Scanning.RateLimit.HostsPerSecond = 25
	cfg.Scanning.RateLimit.BurstSize = 5

	opts := cfg.ScanOptions()
	assert.Equal(t, cfg.Scanning.PingTimeout, opts.PingTimeout)
	assert.Equal(t, cfg.Scanning.Ports, opts.Ports)
	assert.Equal(t, float64(25), opts.RateLimit)
	assert.Equal(t, 5, opts.RateBurst)
	assert.NoError(t, opts.Validate())

	// the returned port list is a copy
	opts.Ports[0] = 1
	assert.Equal(t, 21, cfg.Scanning.Ports[0])
}

func TestYAMLPath(t *testing.T) {
	assert.Equal(t, "scanning.ping_timeout", yamlPath("Config.Scanning.PingTimeout"))
	assert.Equal(t, "scanning.dns_cache_ttl", yamlPath("Config.Scanning.DNSCacheTTL"))
	assert.Equal(t, "api.listen_addr", yamlPath("Config.API.ListenAddr"))
}
