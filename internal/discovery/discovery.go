// Package discovery turns user input into the set of addresses a sweep
// will probe. It understands host literals, last-octet ranges, CIDR
// blocks and "every host on this adapter" subnet discovery.
package discovery

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"go4.org/netipx"

	"github.com/anstrom/netsweep/internal/errors"
	"github.com/anstrom/netsweep/internal/logging"
	"github.com/anstrom/netsweep/internal/metrics"
)

const (
	// Subnets wider than this are refused.
	maxNetworkSizeBits = 16

	sourceLiteral = "literal"
	sourceRange   = "range"
	sourceCIDR    = "cidr"
	sourceAdapter = "adapter"
)

// Expander expands target entries and adapter subnets into deduplicated
// address lists. Output keeps first-seen order.
type Expander struct {
	interfaces InterfaceSource
	metrics    metrics.MetricsRegistry
	logger     *logging.Logger
	minBits    int
}

// Option configures an Expander.
type Option func(*Expander)

// WithInterfaceSource replaces the system interface enumeration.
func WithInterfaceSource(src InterfaceSource) Option {
	return func(e *Expander) { e.interfaces = src }
}

// WithMetrics records expansion counts into m.
func WithMetrics(m metrics.MetricsRegistry) Option {
	return func(e *Expander) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Expander) { e.logger = l }
}

// WithMaxPrefixBits lowers or raises the widest subnet accepted; bits is
// the smallest prefix length allowed.
func WithMaxPrefixBits(bits int) Option {
	return func(e *Expander) { e.minBits = bits }
}

// NewExpander creates an expander backed by the host's interfaces.
func NewExpander(opts ...Option) *Expander {
	e := &Expander{
		interfaces: SystemInterfaces{},
		metrics:    metrics.Noop{},
		logger:     logging.Default().WithComponent("discovery"),
		minBits:    maxNetworkSizeBits,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand resolves each entry and returns the union without duplicates.
// Entries that are not ranges or CIDR blocks are kept verbatim, so
// hostnames and malformed input reach the probe as single targets. The
// only error is a CIDR block wider than the configured limit.
func (e *Expander) Expand(entries []string) ([]string, error) {
	set := newOrderedSet()
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}

		hosts, source, err := e.expandEntry(entry)
		if err != nil {
			return nil, err
		}
		e.metrics.Counter(metrics.MetricDiscoveryTotal, metrics.Labels{metrics.LabelSource: source})
		set.add(hosts...)
	}

	out := set.items()
	e.metrics.Counter(metrics.MetricHostsDiscovered, metrics.Labels{metrics.LabelSource: "entries"})
	e.logger.Debug("targets expanded", "entries", len(entries), "hosts", len(out))
	return out, nil
}

func (e *Expander) expandEntry(entry string) ([]string, string, error) {
	if first, last, ok := ParseRange(entry); ok {
		return rangeHosts(first, last), sourceRange, nil
	}

	if strings.Contains(entry, "/") {
		if prefix, err := netip.ParsePrefix(entry); err == nil && prefix.Addr().Is4() {
			hosts, err := e.subnetHosts(prefix)
			if err != nil {
				return nil, "", err
			}
			return hosts, sourceCIDR, nil
		}
	}

	return []string{entry}, sourceLiteral, nil
}

// ParseRange parses "a.b.c.start-end" and "a.b.c.start-a.b.c.end". Both
// ends must share the first three octets and start must not exceed end.
func ParseRange(entry string) (netip.Addr, netip.Addr, bool) {
	left, right, found := strings.Cut(strings.TrimSpace(entry), "-")
	if !found {
		return netip.Addr{}, netip.Addr{}, false
	}

	first, err := netip.ParseAddr(strings.TrimSpace(left))
	if err != nil || !first.Is4() {
		return netip.Addr{}, netip.Addr{}, false
	}

	right = strings.TrimSpace(right)
	var last netip.Addr
	if n, err := strconv.Atoi(right); err == nil {
		if n < 0 || n > 255 {
			return netip.Addr{}, netip.Addr{}, false
		}
		b := first.As4()
		b[3] = byte(n)
		last = netip.AddrFrom4(b)
	} else {
		last, err = netip.ParseAddr(right)
		if err != nil || !last.Is4() {
			return netip.Addr{}, netip.Addr{}, false
		}
		fb, lb := first.As4(), last.As4()
		if fb[0] != lb[0] || fb[1] != lb[1] || fb[2] != lb[2] {
			return netip.Addr{}, netip.Addr{}, false
		}
	}

	if last.Less(first) {
		return netip.Addr{}, netip.Addr{}, false
	}
	return first, last, true
}

func rangeHosts(first, last netip.Addr) []string {
	hosts := make([]string, 0, int(last.As4()[3])-int(first.As4()[3])+1)
	for a := first; ; a = a.Next() {
		hosts = append(hosts, a.String())
		if a == last {
			break
		}
	}
	return hosts
}

// subnetHosts lists every address strictly between the network and
// broadcast address of prefix.
func (e *Expander) subnetHosts(prefix netip.Prefix) ([]string, error) {
	if prefix.Bits() < e.minBits {
		de := errors.NewDiscoveryError(errors.CodeSubnetTooLarge,
			fmt.Sprintf("subnet wider than /%d", e.minBits))
		de.Network = prefix.String()
		return nil, de
	}
	return SubnetHosts(prefix), nil
}

// SubnetHosts lists every address strictly between the network and
// broadcast address of prefix. /31 and /32 yield nothing.
func SubnetHosts(prefix netip.Prefix) []string {
	r := netipx.RangeOfPrefix(prefix.Masked())
	if !r.IsValid() {
		return nil
	}

	var hosts []string
	for a := r.From().Next(); a.IsValid() && a.Less(r.To()); a = a.Next() {
		hosts = append(hosts, a.String())
	}
	return hosts
}

// Discover returns the hosts on every IPv4 subnet of the eligible adapter
// named adapter, or of all eligible adapters when adapter is empty.
func (e *Expander) Discover(adapter string) ([]string, error) {
	adapters, err := e.ListAdapters()
	if err != nil {
		return nil, err
	}

	set := newOrderedSet()
	matched := false
	for _, a := range adapters {
		if adapter != "" && !a.Matches(adapter) {
			continue
		}
		matched = true
		for _, p := range a.Prefixes {
			hosts, err := e.subnetHosts(p)
			if err != nil {
				return nil, err
			}
			e.logger.InfoDiscovery("subnet expanded", p.Masked().String(),
				"adapter", a.Name, "hosts", len(hosts))
			set.add(hosts...)
		}
	}

	if adapter != "" && !matched {
		return nil, errors.ErrAdapterNotFound(adapter)
	}

	out := set.items()
	e.metrics.Counter(metrics.MetricDiscoveryTotal, metrics.Labels{metrics.LabelSource: sourceAdapter})
	e.metrics.Counter(metrics.MetricHostsDiscovered, metrics.Labels{metrics.LabelSource: sourceAdapter})
	return out, nil
}

// ListAdapters returns the adapters eligible for discovery: up, not
// loopback and not point-to-point.
func (e *Expander) ListAdapters() ([]Adapter, error) {
	all, err := e.interfaces.Interfaces()
	if err != nil {
		return nil, errors.WrapDiscoveryError(errors.CodeDiscoveryFailed, "failed to enumerate interfaces", err)
	}

	eligible := make([]Adapter, 0, len(all))
	for _, a := range all {
		if a.Eligible() {
			eligible = append(eligible, a)
		}
	}
	return eligible, nil
}

type orderedSet struct {
	seen  map[string]struct{}
	order []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(items ...string) {
	for _, it := range items {
		if _, ok := s.seen[it]; ok {
			continue
		}
		s.seen[it] = struct{}{}
		s.order = append(s.order, it)
	}
}

func (s *orderedSet) items() []string {
	return s.order
}
