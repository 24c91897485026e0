package scanning

import (
	"context"
	stderrors "errors"
	"net"
	"strings"
	"time"

	ttlworker "github.com/FloatTech/ttl"
	"github.com/miekg/dns"

	"github.com/anstrom/netsweep/internal/metrics"
)

const (
	resolvConfPath     = "/etc/resolv.conf"
	defaultDNSTimeout  = 2 * time.Second
	defaultDNSCacheTTL = 10 * time.Minute
)

var errNoPTR = stderrors.New("no PTR record")

// HostnameResolver maps an address to its reverse DNS name.
type HostnameResolver interface {
	LookupAddr(ctx context.Context, ip string) (string, error)
}

// DNSResolver issues PTR queries against the system name servers and falls
// back to the Go resolver when none are configured or all of them fail.
// Answers, including misses, are cached for the configured TTL.
type DNSResolver struct {
	servers  []string
	client   *dns.Client
	fallback *net.Resolver
	cacheTTL time.Duration
	cache    *ttlworker.Cache[string, string]
	metrics  metrics.MetricsRegistry
}

// DNSOption configures a DNSResolver.
type DNSOption func(*DNSResolver)

// WithNameServers overrides the servers read from resolv.conf. Entries
// are host:port pairs.
func WithNameServers(servers ...string) DNSOption {
	return func(r *DNSResolver) { r.servers = servers }
}

// WithDNSTimeout bounds each PTR exchange.
func WithDNSTimeout(d time.Duration) DNSOption {
	return func(r *DNSResolver) { r.client.Timeout = d }
}

// WithDNSCacheTTL sets how long answers are remembered.
func WithDNSCacheTTL(ttl time.Duration) DNSOption {
	return func(r *DNSResolver) {
		if ttl > 0 {
			r.cacheTTL = ttl
		}
	}
}

// WithDNSMetrics records lookups into m.
func WithDNSMetrics(m metrics.MetricsRegistry) DNSOption {
	return func(r *DNSResolver) { r.metrics = m }
}

// NewDNSResolver creates a resolver using the name servers in
// /etc/resolv.conf when present.
func NewDNSResolver(opts ...DNSOption) *DNSResolver {
	r := &DNSResolver{
		client:   &dns.Client{Net: "udp", Timeout: defaultDNSTimeout},
		fallback: net.DefaultResolver,
		cacheTTL: defaultDNSCacheTTL,
		metrics:  metrics.Noop{},
	}
	if cfg, err := dns.ClientConfigFromFile(resolvConfPath); err == nil {
		for _, s := range cfg.Servers {
			r.servers = append(r.servers, net.JoinHostPort(s, cfg.Port))
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cache = ttlworker.NewCache[string, string](r.cacheTTL)
	return r
}

// LookupAddr returns the first PTR name for ip without the trailing dot.
func (r *DNSResolver) LookupAddr(ctx context.Context, ip string) (string, error) {
	if name := r.cache.Get(ip); name != "" {
		r.record("cache", name != unresolvedHostname)
		if name == unresolvedHostname {
			return "", errNoPTR
		}
		return name, nil
	}

	name, source, err := r.lookup(ctx, ip)
	if err != nil {
		if ctx.Err() == nil {
			r.cache.Set(ip, unresolvedHostname)
		}
		r.record(source, false)
		return "", err
	}
	r.cache.Set(ip, name)
	r.record(source, true)
	return name, nil
}

func (r *DNSResolver) lookup(ctx context.Context, ip string) (string, string, error) {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", "ptr", err
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = true

	for _, server := range r.servers {
		if err := ctx.Err(); err != nil {
			return "", "ptr", err
		}
		resp, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil || resp == nil {
			continue
		}
		if resp.Rcode == dns.RcodeNameError {
			return "", "ptr", errNoPTR
		}
		for _, rr := range resp.Answer {
			if ptr, ok := rr.(*dns.PTR); ok {
				return strings.TrimSuffix(ptr.Ptr, "."), "ptr", nil
			}
		}
	}

	names, err := r.fallback.LookupAddr(ctx, ip)
	if err != nil {
		return "", "system", err
	}
	if len(names) == 0 {
		return "", "system", errNoPTR
	}
	return strings.TrimSuffix(names[0], "."), "system", nil
}

func (r *DNSResolver) record(source string, ok bool) {
	result := "miss"
	if ok {
		result = "hit"
	}
	r.metrics.Counter(metrics.MetricDNSLookups, metrics.Labels{
		metrics.LabelSource: source,
		metrics.LabelResult: result,
	})
}
