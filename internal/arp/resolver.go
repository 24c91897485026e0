// Package arp resolves IPv4 addresses to hardware addresses through the
// operating system's neighbor cache.
//
// A lookup first primes the cache by sending an empty UDP datagram to the
// target, which makes the kernel issue an ARP request, and then polls the
// platform neighbor table a bounded number of times.
package arp

import (
	"context"
	stderrors "errors"
	"net"
	"strings"
	"time"

	"github.com/anstrom/netsweep/internal/errors"
	"github.com/anstrom/netsweep/internal/logging"
	"github.com/anstrom/netsweep/internal/metrics"
)

// primePort is the discard-style port the priming datagram is sent to.
const primePort = "1"

// ErrNotFound is returned when the neighbor table has no complete entry
// for the address after all attempts.
var ErrNotFound = stderrors.New("arp: no neighbor entry")

// Table reads the platform neighbor table. Implementations return
// ErrNotFound when there is no complete entry for ip.
type Table interface {
	Lookup(ctx context.Context, ip net.IP) (net.HardwareAddr, error)
}

// Resolver maps an IPv4 address to a formatted hardware address.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (string, error)
}

// Primer provokes an ARP exchange with ip.
type Primer func(ctx context.Context, ip string) error

// TableResolver implements Resolver on top of a Table.
type TableResolver struct {
	table   Table
	primer  Primer
	retries int
	delay   time.Duration
	metrics metrics.MetricsRegistry
	logger  *logging.Logger
}

// Option configures a TableResolver.
type Option func(*TableResolver)

// WithPrimer replaces the UDP priming step.
func WithPrimer(p Primer) Option {
	return func(r *TableResolver) { r.primer = p }
}

// WithMetrics records attempts and results into m.
func WithMetrics(m metrics.MetricsRegistry) Option {
	return func(r *TableResolver) { r.metrics = m }
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *logging.Logger) Option {
	return func(r *TableResolver) { r.logger = l }
}

// NewResolver creates a resolver that polls table up to retries times,
// sleeping delay between polls. retries below one is treated as one.
func NewResolver(table Table, retries int, delay time.Duration, opts ...Option) *TableResolver {
	if retries < 1 {
		retries = 1
	}
	r := &TableResolver{
		table:   table,
		primer:  PrimeUDP,
		retries: retries,
		delay:   delay,
		metrics: metrics.Noop{},
		logger:  logging.Default().WithComponent("arp"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewSystemResolver creates a resolver backed by the platform neighbor table.
func NewSystemResolver(retries int, delay time.Duration, opts ...Option) *TableResolver {
	return NewResolver(NewSystemTable(), retries, delay, opts...)
}

// Resolve returns the hardware address of ip formatted as AA-BB-CC-DD-EE-FF.
// The context is checked before every poll; cancellation returns a
// CodeCanceled error rather than ErrNotFound.
func (r *TableResolver) Resolve(ctx context.Context, ip string) (string, error) {
	addr := net.ParseIP(ip).To4()
	if addr == nil {
		return "", errors.ErrInvalidTarget(ip)
	}

	if err := r.primer(ctx, ip); err != nil {
		r.logger.Debug("arp priming failed", "target", ip, "error", err)
	}

	for attempt := 0; attempt < r.retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, r.delay); err != nil {
				return "", errors.WrapScanErrorWithTarget(errors.CodeCanceled, "arp lookup canceled", ip, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return "", errors.WrapScanErrorWithTarget(errors.CodeCanceled, "arp lookup canceled", ip, err)
		}

		r.metrics.Counter(metrics.MetricARPAttempts, nil)
		hw, err := r.table.Lookup(ctx, addr)
		if err == nil && isComplete(hw) {
			r.metrics.Counter(metrics.MetricARPResolved, metrics.Labels{metrics.LabelResult: "found"})
			return FormatMAC(hw), nil
		}
		if err != nil && !stderrors.Is(err, ErrNotFound) {
			r.logger.Debug("neighbor table lookup failed", "target", ip, "attempt", attempt+1, "error", err)
		}
	}

	r.metrics.Counter(metrics.MetricARPResolved, metrics.Labels{metrics.LabelResult: "missing"})
	return "", ErrNotFound
}

// PrimeUDP sends a zero-length UDP datagram to port 1 of ip. The send only
// exists to trigger address resolution; delivery is irrelevant.
func PrimeUDP(ctx context.Context, ip string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", net.JoinHostPort(ip, primePort))
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write(nil)
	return err
}

// FormatMAC renders hw as uppercase dash-separated octets.
func FormatMAC(hw net.HardwareAddr) string {
	parts := make([]string, len(hw))
	for i, b := range hw {
		parts[i] = hexByte(b)
	}
	return strings.Join(parts, "-")
}

func hexByte(b byte) string {
	const digits = "0123456789ABCDEF"
	return string([]byte{digits[b>>4], digits[b&0x0f]})
}

// isComplete rejects empty and all-zero addresses, which the kernel
// reports for incomplete entries.
func isComplete(hw net.HardwareAddr) bool {
	if len(hw) == 0 {
		return false
	}
	for _, b := range hw {
		if b != 0 {
			return true
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
