package scanning

import (
	"strconv"
	"strings"
	"time"

	"github.com/anstrom/netsweep/internal/errors"
)

// TimestampFormat is the layout used when a record is rendered as text.
const TimestampFormat = "2006-01-02 15:04:05"

// Port scanner implementations selectable through ScanOptions.
const (
	PortScannerConnect = "connect"
	PortScannerNmap    = "nmap"
)

const (
	maxPort               = 65535
	defaultPingTimeout    = 300 * time.Millisecond
	defaultPortTimeout    = 300 * time.Millisecond
	defaultMaxConcurrent  = 20
	defaultArpRetryCount  = 3
	defaultArpRetryDelay  = 100 * time.Millisecond
	unresolvedHostname    = "N/A"
	unresolvedMAC         = "N/A"
	unknownDeviceType     = "Unknown"
	latencyUnitSuffix     = " ms"
	openPortListSeparator = ", "
)

// DefaultPorts are probed when no port list is configured.
var DefaultPorts = []int{21, 22, 23, 80, 443}

// Status is the terminal state of a host probe.
type Status string

// Host probe outcomes.
const (
	StatusOnline   Status = "Online"
	StatusOffline  Status = "Offline"
	StatusError    Status = "Error"
	StatusCanceled Status = "Canceled"
)

// Valid reports whether s is one of the four probe outcomes.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusError, StatusCanceled:
		return true
	}
	return false
}

// DeviceRecord is the result of probing one target. Records are handed to
// consumers by value and are not modified after emission.
type DeviceRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Target     string    `json:"ip_address"`
	Hostname   string    `json:"resolved_host"`
	Status     Status    `json:"status"`
	OpenPorts  []int     `json:"open_ports,omitempty"`
	Latency    string    `json:"latency"`
	TTL        int       `json:"ttl,omitempty"`
	ReplyIP    string    `json:"reply_ip,omitempty"`
	MAC        string    `json:"mac_address,omitempty"`
	Vendor     string    `json:"vendor,omitempty"`
	DeviceType string    `json:"device_type,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Column names in display order, matching DeviceRecord.Values.
var Columns = []string{
	"Timestamp",
	"IP Address",
	"Resolved Host",
	"Status",
	"Open Ports",
	"Latency",
	"TTL",
	"Reply IP",
	"MAC Address",
	"Vendor",
	"Device Type",
}

// Values renders the record as text cells in Columns order.
func (r DeviceRecord) Values() []string {
	ttl := ""
	if r.TTL > 0 {
		ttl = strconv.Itoa(r.TTL)
	}
	ts := ""
	if !r.Timestamp.IsZero() {
		ts = r.Timestamp.Format(TimestampFormat)
	}
	return []string{
		ts,
		r.Target,
		r.Hostname,
		string(r.Status),
		r.OpenPortsString(),
		r.Latency,
		ttl,
		r.ReplyIP,
		r.MAC,
		r.Vendor,
		r.DeviceType,
	}
}

// OpenPortsString joins the open ports as "22, 80".
func (r DeviceRecord) OpenPortsString() string {
	if len(r.OpenPorts) == 0 {
		return ""
	}
	parts := make([]string, len(r.OpenPorts))
	for i, p := range r.OpenPorts {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, openPortListSeparator)
}

func newRecord(target string, now time.Time) DeviceRecord {
	return DeviceRecord{
		Timestamp: now,
		Target:    target,
		Hostname:  unresolvedHostname,
		Status:    StatusOffline,
	}
}

func formatLatency(rtt time.Duration) string {
	return strconv.FormatInt(rtt.Milliseconds(), 10) + latencyUnitSuffix
}

// ScanOptions controls a sweep.
type ScanOptions struct {
	PingTimeout   time.Duration
	PortTimeout   time.Duration
	MaxConcurrent int
	ArpRetryCount int
	ArpRetryDelay time.Duration
	// Ports are probed and reported in this order.
	Ports            []int
	PortScanner      string
	ResolveHostnames bool
	// RateLimit caps admissions per second; zero disables pacing.
	RateLimit float64
	RateBurst int
}

// DefaultScanOptions returns the stock sweep settings.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		PingTimeout:      defaultPingTimeout,
		PortTimeout:      defaultPortTimeout,
		MaxConcurrent:    defaultMaxConcurrent,
		ArpRetryCount:    defaultArpRetryCount,
		ArpRetryDelay:    defaultArpRetryDelay,
		Ports:            append([]int(nil), DefaultPorts...),
		PortScanner:      PortScannerConnect,
		ResolveHostnames: true,
	}
}

// Validate rejects options that cannot drive a sweep.
func (o ScanOptions) Validate() error {
	if o.PingTimeout <= 0 {
		return errors.ErrConfigInvalid("ping_timeout", o.PingTimeout)
	}
	if o.PortTimeout <= 0 {
		return errors.ErrConfigInvalid("port_timeout", o.PortTimeout)
	}
	if o.MaxConcurrent < 1 {
		return errors.ErrConfigInvalid("max_concurrent", o.MaxConcurrent)
	}
	if o.ArpRetryCount < 1 {
		return errors.ErrConfigInvalid("arp_retry_count", o.ArpRetryCount)
	}
	if o.ArpRetryDelay < 0 {
		return errors.ErrConfigInvalid("arp_retry_delay", o.ArpRetryDelay)
	}
	for _, p := range o.Ports {
		if p < 1 || p > maxPort {
			return errors.ErrConfigInvalid("ports", p)
		}
	}
	switch o.PortScanner {
	case "", PortScannerConnect, PortScannerNmap:
	default:
		return errors.ErrConfigInvalid("port_scanner", o.PortScanner)
	}
	if o.RateLimit < 0 {
		return errors.ErrConfigInvalid("rate_limit", o.RateLimit)
	}
	return nil
}
