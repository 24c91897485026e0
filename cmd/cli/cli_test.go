package cli

import (
	"bytes"
	stderrors "errors"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netsweep/internal/discovery"
	"github.com/anstrom/netsweep/internal/logging"
	"github.com/anstrom/netsweep/internal/scanning"
	"github.com/anstrom/netsweep/internal/scheduler"
)

func TestParsePorts(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    []int
		wantErr bool
	}{
		{name: "single port", spec: "80", want: []int{80}},
		{name: "list keeps order", spec: "443,22,80", want: []int{443, 22, 80}},
		{name: "range", spec: "8000-8003", want: []int{8000, 8001, 8002, 8003}},
		{name: "mixed with spaces", spec: "22, 80-81 ,443", want: []int{22, 80, 81, 443}},
		{name: "duplicates dropped", spec: "80,80,79-81", want: []int{80, 79, 81}},
		{name: "empty string", spec: "", wantErr: true},
		{name: "only commas", spec: ",,", wantErr: true},
		{name: "too high", spec: "65536", wantErr: true},
		{name: "zero", spec: "0", wantErr: true},
		{name: "negative", spec: "-1", wantErr: true},
		{name: "reversed range", spec: "443-80", wantErr: true},
		{name: "too many range parts", spec: "80-443-8080", wantErr: true},
		{name: "invalid characters", spec: "80,abc,443", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePorts(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveFormat(t *testing.T) {
	var buf bytes.Buffer

	got, err := resolveFormat("", &buf)
	require.NoError(t, err)
	assert.Equal(t, formatJSON, got, "non-terminal writers default to JSON lines")

	got, err = resolveFormat(formatTable, &buf)
	require.NoError(t, err)
	assert.Equal(t, formatTable, got)

	_, err = resolveFormat("xml", &buf)
	assert.Error(t, err)
}

func TestJSONWriterStreamsLines(t *testing.T) {
	var buf bytes.Buffer
	out, err := newRecordWriter(formatJSON, &buf)
	require.NoError(t, err)

	require.NoError(t, out.Write(scanning.DeviceRecord{Target: "10.0.0.1", Status: scanning.StatusOnline, OpenPorts: []int{22}}))
	require.NoError(t, out.Write(scanning.DeviceRecord{Target: "10.0.0.2", Status: scanning.StatusOffline}))
	require.NoError(t, out.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"ip_address":"10.0.0.1"`)
	assert.Contains(t, lines[0], `"open_ports":[22]`)
	assert.Contains(t, lines[1], `"status":"Offline"`)
}

func TestTableWriterRendersOnClose(t *testing.T) {
	var buf bytes.Buffer
	out, err := newRecordWriter(formatTable, &buf)
	require.NoError(t, err)

	require.NoError(t, out.Write(scanning.DeviceRecord{
		Target:    "192.168.1.20",
		Hostname:  "nas.lan",
		Status:    scanning.StatusOnline,
		OpenPorts: []int{22, 445},
	}))
	assert.Empty(t, buf.String(), "rows are buffered until Close")

	require.NoError(t, out.Close())
	rendered := buf.String()
	assert.Contains(t, strings.ToUpper(rendered), "IP ADDRESS")
	assert.Contains(t, rendered, "192.168.1.20")
	assert.Contains(t, rendered, "nas.lan")
	assert.Contains(t, rendered, "22, 445")
}

type captureWriter struct {
	records []scanning.DeviceRecord
	failAt  int
	closed  bool
}

func (c *captureWriter) Write(rec scanning.DeviceRecord) error {
	if c.failAt > 0 && len(c.records)+1 == c.failAt {
		return stderrors.New("broken pipe")
	}
	c.records = append(c.records, rec)
	return nil
}

func (c *captureWriter) Close() error {
	c.closed = true
	return nil
}

func feed(records ...scanning.DeviceRecord) <-chan scanning.DeviceRecord {
	ch := make(chan scanning.DeviceRecord, len(records))
	for _, r := range records {
		ch <- r
	}
	close(ch)
	return ch
}

func TestDrainHidesOffline(t *testing.T) {
	out := &captureWriter{}
	stats, err := drain(feed(
		scanning.DeviceRecord{Target: "a", Status: scanning.StatusOnline},
		scanning.DeviceRecord{Target: "b", Status: scanning.StatusOffline},
		scanning.DeviceRecord{Target: "c", Status: scanning.StatusError},
	), out, true, nil)

	require.NoError(t, err)
	assert.Equal(t, sweepStats{Records: 3, Online: 1, Hidden: 1}, stats)
	require.Len(t, out.records, 2)
	assert.Equal(t, "a", out.records[0].Target)
	assert.Equal(t, "c", out.records[1].Target)
	assert.True(t, out.closed)
}

func TestDrainStopsOnWriteError(t *testing.T) {
	out := &captureWriter{failAt: 2}
	stopped := 0
	stats, err := drain(feed(
		scanning.DeviceRecord{Target: "a", Status: scanning.StatusOnline},
		scanning.DeviceRecord{Target: "b", Status: scanning.StatusOnline},
		scanning.DeviceRecord{Target: "c", Status: scanning.StatusOnline},
	), out, false, func() { stopped++ })

	require.EqualError(t, err, "broken pipe")
	assert.Equal(t, 1, stopped)
	assert.Equal(t, 3, stats.Records, "the channel is drained after the error")
	assert.Len(t, out.records, 1)
}

func TestPrintAdaptersJSON(t *testing.T) {
	old := outputFormat
	t.Cleanup(func() { outputFormat = old })
	outputFormat = formatJSON

	var buf bytes.Buffer
	err := printAdapters(&buf, []discovery.Adapter{
		{
			Name:     "eth0",
			Index:    2,
			Flags:    net.FlagUp | net.FlagBroadcast,
			Prefixes: []netip.Prefix{netip.MustParsePrefix("192.168.1.0/24")},
		},
		{Name: "lo", Index: 1, Flags: net.FlagUp | net.FlagLoopback},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"subnets":["192.168.1.0/24"]`)
	assert.Contains(t, lines[0], `"eligible":true`)
	assert.Contains(t, lines[1], `"eligible":false`)
}

func TestRecordLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, logging.Config{Level: logging.LevelInfo, Format: logging.FormatJSON})
	sink := recordLogger(logger, true)
	job := &scheduler.SweepJob{Name: "nightly"}

	sink(job, scanning.DeviceRecord{Target: "10.0.0.5", Status: scanning.StatusOnline, OpenPorts: []int{80}, Vendor: "Synology"})
	sink(job, scanning.DeviceRecord{Target: "10.0.0.6", Status: scanning.StatusOffline})
	sink(job, scanning.DeviceRecord{Target: "10.0.0.7", Status: scanning.StatusError, Error: "connection reset"})

	logged := buf.String()
	assert.Contains(t, logged, `"target":"10.0.0.5"`)
	assert.Contains(t, logged, `"job":"nightly"`)
	assert.Contains(t, logged, `"open_ports":"80"`)
	assert.NotContains(t, logged, "10.0.0.6", "offline hosts are hidden")
	assert.Contains(t, logged, `"error":"connection reset"`)
}

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	resetViper(t)
	t.Chdir(t.TempDir())

	cfg, err := loadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, scanning.DefaultPorts, cfg.Scanning.Ports)
	assert.Equal(t, 8080, cfg.API.Port)
}

func TestLoadConfigPrecedence(t *testing.T) {
	resetViper(t)

	path := filepath.Join(t.TempDir(), "netsweep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scanning:
  max_concurrent: 8
  ping_timeout: 1s
  port_timeout: 500ms
`), 0o600))
	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())

	t.Setenv("NETSWEEP_SCANNING_PORT_TIMEOUT", "2s")
	t.Setenv("NETSWEEP_SCANNING_MAX_CONCURRENT", "16")

	cmd := &cobra.Command{Use: "test"}
	addSweepFlags(cmd)
	require.NoError(t, cmd.Flags().Set("concurrency", "4"))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Scanning.MaxConcurrent, "flags win over the environment")
	assert.Equal(t, 2*time.Second, cfg.Scanning.PortTimeout, "environment wins over the file")
	assert.Equal(t, time.Second, cfg.Scanning.PingTimeout)
}

func TestLoadSweepConfigFlags(t *testing.T) {
	resetViper(t)
	t.Chdir(t.TempDir())
	t.Cleanup(func() { scanPorts, scanNoDNS, hideOffline = "", false, false })

	cmd := &cobra.Command{Use: "test"}
	addSweepFlags(cmd)
	require.NoError(t, cmd.Flags().Set("ports", "8443,22"))
	require.NoError(t, cmd.Flags().Set("no-dns", "true"))
	require.NoError(t, cmd.Flags().Set("hide-offline", "true"))

	cfg, err := loadSweepConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, []int{8443, 22}, cfg.Scanning.Ports)
	assert.False(t, cfg.Scanning.ResolveHostnames)
	assert.True(t, cfg.Scanning.HideOffline)
	assert.Equal(t, []int{8443, 22}, cfg.ScanOptions().Ports)
}

func TestLoadSweepConfigRejectsBadPorts(t *testing.T) {
	resetViper(t)
	t.Chdir(t.TempDir())
	t.Cleanup(func() { scanPorts = "" })

	cmd := &cobra.Command{Use: "test"}
	addSweepFlags(cmd)
	require.NoError(t, cmd.Flags().Set("ports", "70000"))

	_, err := loadSweepConfig(cmd)
	assert.ErrorContains(t, err, "invalid port specification")
}

func TestCommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"scan", "discover", "adapters", "watch", "serve"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestSetVersion(t *testing.T) {
	oldV, oldC, oldB := version, commit, buildTime
	t.Cleanup(func() { SetVersion(oldV, oldC, oldB) })

	SetVersion("1.4.0", "deadbee", "2024-06-01")
	assert.Equal(t, "1.4.0 (commit: deadbee, built: 2024-06-01)", rootCmd.Version)
}
