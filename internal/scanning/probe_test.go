package scanning

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/netsweep/internal/arp"
	"github.com/anstrom/netsweep/internal/metrics"
	"github.com/anstrom/netsweep/internal/metrics/mocks"
	"github.com/anstrom/netsweep/internal/oui"
)

const (
	onlineHost = "192.168.1.20"
	piMAC      = "B8-27-EB-01-02-03"
)

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func onlinePinger() *fakePinger {
	return &fakePinger{replies: map[string]*PingReply{
		onlineHost: {RTT: 12 * time.Millisecond, TTL: 64, Addr: onlineHost},
	}}
}

func newTestProbe(options ...ProbeOption) *HostProbe {
	base := []ProbeOption{
		WithPinger(onlinePinger()),
		WithHostnameResolver(fakeResolver{names: map[string]string{onlineHost: "pi.lan"}}),
		WithPortScanner(fakePorts{open: []int{22, 80}}),
		WithMACResolver(fakeMAC{mac: piMAC}),
		WithClock(func() time.Time { return fixedNow }),
	}
	return NewHostProbe(DefaultScanOptions(), append(base, options...)...)
}

func TestProbeOnline(t *testing.T) {
	rec := newTestProbe().Probe(context.Background(), onlineHost)

	assert.Equal(t, StatusOnline, rec.Status)
	assert.Equal(t, onlineHost, rec.Target)
	assert.Equal(t, "pi.lan", rec.Hostname)
	assert.Equal(t, "12 ms", rec.Latency)
	assert.Equal(t, 64, rec.TTL)
	assert.Equal(t, onlineHost, rec.ReplyIP)
	assert.Equal(t, []int{22, 80}, rec.OpenPorts)
	assert.Equal(t, piMAC, rec.MAC)
	assert.Equal(t, "Raspberry Pi Foundation", rec.Vendor)
	assert.Equal(t, "Single Board Computer", rec.DeviceType)
	assert.Empty(t, rec.Error)
	assert.Equal(t, fixedNow, rec.Timestamp)
}

func TestProbeOffline(t *testing.T) {
	rec := newTestProbe().Probe(context.Background(), "192.168.1.99")

	assert.Equal(t, StatusOffline, rec.Status)
	assert.Equal(t, "N/A", rec.Hostname)
	assert.Empty(t, rec.Latency)
	assert.Empty(t, rec.OpenPorts)
	assert.Empty(t, rec.MAC)
	assert.Zero(t, rec.TTL)
}

func TestProbeReplyAddressDefaultsToTarget(t *testing.T) {
	pinger := &fakePinger{replies: map[string]*PingReply{onlineHost: {RTT: time.Millisecond}}}
	rec := newTestProbe(WithPinger(pinger)).Probe(context.Background(), onlineHost)

	assert.Equal(t, onlineHost, rec.ReplyIP)
	assert.Equal(t, "1 ms", rec.Latency)
}

func TestProbePingFault(t *testing.T) {
	pinger := &fakePinger{errs: map[string]error{"no.such.host": stderrors.New("lookup no.such.host: no such host")}}
	rec := newTestProbe(WithPinger(pinger)).Probe(context.Background(), "no.such.host")

	assert.Equal(t, StatusError, rec.Status)
	assert.Equal(t, "lookup no.such.host: no such host", rec.Latency)
	assert.Equal(t, rec.Latency, rec.Error)
	assert.Empty(t, rec.OpenPorts)
}

func TestProbeDNSFailureIsSwallowed(t *testing.T) {
	rec := newTestProbe(WithHostnameResolver(fakeResolver{err: stderrors.New("timeout")})).
		Probe(context.Background(), onlineHost)

	assert.Equal(t, StatusOnline, rec.Status)
	assert.Equal(t, "N/A", rec.Hostname)
}

func TestProbeWithoutHostnameResolution(t *testing.T) {
	opts := DefaultScanOptions()
	opts.ResolveHostnames = false
	p := NewHostProbe(opts,
		WithPinger(onlinePinger()),
		WithPortScanner(fakePorts{}),
		WithMACResolver(fakeMAC{mac: piMAC}),
	)

	rec := p.Probe(context.Background(), onlineHost)
	assert.Equal(t, StatusOnline, rec.Status)
	assert.Equal(t, "N/A", rec.Hostname)
	assert.Empty(t, rec.OpenPorts)
}

func TestProbeMACUnresolved(t *testing.T) {
	rec := newTestProbe(WithMACResolver(fakeMAC{err: arp.ErrNotFound})).
		Probe(context.Background(), onlineHost)

	assert.Equal(t, StatusOnline, rec.Status)
	assert.Equal(t, "N/A", rec.MAC)
	assert.Equal(t, oui.NotAvailable, rec.Vendor)
	assert.Equal(t, "Unknown", rec.DeviceType)
	assert.Equal(t, []int{22, 80}, rec.OpenPorts)
}

func TestProbeUnknownVendor(t *testing.T) {
	rec := newTestProbe(WithMACResolver(fakeMAC{mac: "12-34-56-78-9A-BC"})).
		Probe(context.Background(), onlineHost)

	assert.Equal(t, oui.UnknownVendor, rec.Vendor)
	assert.Equal(t, "Unknown", rec.DeviceType)
}

func TestProbePortScanFault(t *testing.T) {
	rec := newTestProbe(WithPortScanner(fakePorts{err: stderrors.New("nmap: executable not found")})).
		Probe(context.Background(), onlineHost)

	assert.Equal(t, StatusError, rec.Status)
	assert.Equal(t, "nmap: executable not found", rec.Error)
	assert.Equal(t, rec.Error, rec.Latency)
	assert.Empty(t, rec.OpenPorts)
}

func TestProbeRecoversPanic(t *testing.T) {
	scanner := fakePorts{fn: func(context.Context) ([]int, error) { panic("boom") }}
	rec := newTestProbe(WithPortScanner(scanner)).Probe(context.Background(), onlineHost)

	assert.Equal(t, StatusError, rec.Status)
	assert.Equal(t, "panic: boom", rec.Error)
	assert.Empty(t, rec.OpenPorts)
}

func TestProbeCanceledBeforeStart(t *testing.T) {
	pinger := onlinePinger()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := newTestProbe(WithPinger(pinger)).Probe(ctx, onlineHost)
	assert.Equal(t, StatusCanceled, rec.Status)
	assert.Equal(t, 0, pinger.called())
}

func TestProbeCanceledDuringPortScan(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scanner := fakePorts{fn: func(ctx context.Context) ([]int, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	rec := newTestProbe(WithPortScanner(scanner)).Probe(ctx, onlineHost)

	assert.Equal(t, StatusCanceled, rec.Status)
	assert.Empty(t, rec.OpenPorts)
	assert.Empty(t, rec.Error)
}

func TestProbeCanceledBeforeMACResolution(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolved := false
	scanner := fakePorts{fn: func(context.Context) ([]int, error) {
		cancel()
		return []int{22}, nil
	}}
	mac := macFunc(func(context.Context, string) (string, error) {
		resolved = true
		return piMAC, nil
	})

	rec := newTestProbe(WithPortScanner(scanner), WithMACResolver(mac)).Probe(ctx, onlineHost)
	assert.Equal(t, StatusCanceled, rec.Status)
	assert.Empty(t, rec.OpenPorts)
	assert.False(t, resolved)
}

type macFunc func(ctx context.Context, ip string) (string, error)

func (f macFunc) Resolve(ctx context.Context, ip string) (string, error) { return f(ctx, ip) }

func TestProbeRecordsMetrics(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := mocks.NewMockMetricsRegistry(ctrl)

	offline := metrics.Labels{metrics.LabelStatus: string(StatusOffline)}
	m.EXPECT().Counter(metrics.MetricHostsProbed, offline).Times(1)
	m.EXPECT().Histogram(metrics.MetricProbeDuration, gomock.Any(), offline).Times(1)

	p := newTestProbe(WithProbeMetrics(m))
	rec := p.Probe(context.Background(), "10.0.0.1")
	assert.Equal(t, StatusOffline, rec.Status)
}

func TestProbeRecordsOpenPorts(t *testing.T) {
	reg := metrics.NewRegistry()
	p := newTestProbe(WithProbeMetrics(reg))
	_ = p.Probe(context.Background(), onlineHost)

	ports := map[string]float64{}
	for _, m := range reg.GetMetrics() {
		if m.Name == metrics.MetricPortsOpen {
			ports[m.Labels[metrics.LabelPort]] = m.Value
		}
	}
	assert.Equal(t, map[string]float64{"22": 1, "80": 1}, ports)
}

func TestProbeRecordValues(t *testing.T) {
	rec := newTestProbe().Probe(context.Background(), onlineHost)

	values := rec.Values()
	require.Len(t, values, len(Columns))
	assert.Equal(t, []string{
		"2024-05-01 10:00:00",
		onlineHost,
		"pi.lan",
		"Online",
		"22, 80",
		"12 ms",
		"64",
		onlineHost,
		piMAC,
		"Raspberry Pi Foundation",
		"Single Board Computer",
	}, values)
}
