package scanning

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Ullaakut/nmap/v3"
	"golang.org/x/sync/errgroup"

	"github.com/anstrom/netsweep/internal/errors"
	"github.com/anstrom/netsweep/internal/logging"
)

const nmapStateOpen = "open"

// PortScanner reports which of ports accept TCP connections on host. The
// result keeps the order of ports.
type PortScanner interface {
	Scan(ctx context.Context, host string, ports []int, timeout time.Duration) ([]int, error)
}

// DialFunc opens a connection; it matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ConnectScanner attempts a full TCP handshake on every port in parallel.
type ConnectScanner struct {
	dial DialFunc
}

// NewConnectScanner returns a scanner using net.Dialer.
func NewConnectScanner() *ConnectScanner {
	var d net.Dialer
	return &ConnectScanner{dial: d.DialContext}
}

// NewConnectScannerWithDialer returns a scanner that connects through dial.
func NewConnectScannerWithDialer(dial DialFunc) *ConnectScanner {
	return &ConnectScanner{dial: dial}
}

// Scan implements PortScanner. A refused or timed-out connection marks the
// port closed; only cancellation is returned as an error.
func (s *ConnectScanner) Scan(ctx context.Context, host string, ports []int, timeout time.Duration) ([]int, error) {
	open := make([]bool, len(ports))

	g, gctx := errgroup.WithContext(ctx)
	for i, port := range ports {
		if err := ctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			open[i] = s.probe(gctx, host, port, timeout)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return collectOpen(ports, open), nil
}

func (s *ConnectScanner) probe(ctx context.Context, host string, port int, timeout time.Duration) bool {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := s.dial(dctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func collectOpen(ports []int, open []bool) []int {
	var result []int
	for i, p := range ports {
		if open[i] {
			result = append(result, p)
		}
	}
	return result
}

// NmapScanner runs an nmap TCP connect scan against a single host. It
// needs the nmap binary on PATH.
type NmapScanner struct {
	binaryPath string
	logger     *logging.Logger
}

// NewNmapScanner creates an nmap-backed scanner. An empty binaryPath lets
// the library search PATH.
func NewNmapScanner(binaryPath string) *NmapScanner {
	return &NmapScanner{
		binaryPath: binaryPath,
		logger:     logging.Default().WithComponent("nmap"),
	}
}

// Scan implements PortScanner.
func (s *NmapScanner) Scan(ctx context.Context, host string, ports []int, timeout time.Duration) ([]int, error) {
	if len(ports) == 0 {
		return nil, nil
	}

	scanner, err := nmap.NewScanner(ctx, s.buildOptions(host, ports, timeout)...)
	if err != nil {
		return nil, errors.WrapScanErrorWithTarget(errors.CodeScanFailed, "failed to create nmap scanner", host, err)
	}

	result, warnings, err := scanner.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, errors.WrapScanErrorWithTarget(errors.CodeScanFailed, "nmap scan failed", host, err)
	}
	if warnings != nil && len(*warnings) > 0 {
		s.logger.Debug("nmap reported warnings", "target", host, "warnings", *warnings)
	}

	return openPortsFromRun(result, ports), nil
}

func (s *NmapScanner) buildOptions(host string, ports []int, timeout time.Duration) []nmap.Option {
	options := []nmap.Option{
		nmap.WithTargets(host),
		nmap.WithPorts(joinPorts(ports)),
		nmap.WithConnectScan(),
		nmap.WithSkipHostDiscovery(),
		nmap.WithDisabledDNSResolution(),
		nmap.WithMaxRTTTimeout(timeout),
		nmap.WithMaxRetries(1),
	}
	if s.binaryPath != "" {
		options = append(options, nmap.WithBinaryPath(s.binaryPath))
	}
	return options
}

// openPortsFromRun returns the ports nmap reported open, in the order of
// the requested port list.
func openPortsFromRun(run *nmap.Run, ports []int) []int {
	if run == nil {
		return nil
	}

	reported := make(map[int]bool)
	for i := range run.Hosts {
		for _, p := range run.Hosts[i].Ports {
			if p.State.State == nmapStateOpen {
				reported[int(p.ID)] = true
			}
		}
	}

	open := make([]bool, len(ports))
	for i, p := range ports {
		open[i] = reported[p]
	}
	return collectOpen(ports, open)
}

func joinPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}
