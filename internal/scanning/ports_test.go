package scanning

import (
	"context"
	stderrors "errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/Ullaakut/nmap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) (int, func()) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	return l.Addr().(*net.TCPAddr).Port, func() { _ = l.Close() }
}

func closedPort(t *testing.T) int {
	t.Helper()
	port, stop := listen(t)
	stop()
	return port
}

func TestConnectScannerLoopback(t *testing.T) {
	openA, stopA := listen(t)
	defer stopA()
	openB, stopB := listen(t)
	defer stopB()
	closed := closedPort(t)

	s := NewConnectScanner()
	got, err := s.Scan(context.Background(), "127.0.0.1", []int{openB, closed, openA}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []int{openB, openA}, got)
}

func TestConnectScannerKeepsConfiguredOrder(t *testing.T) {
	open := map[string]bool{"80": true, "22": true, "443": true}
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		_, port, _ := net.SplitHostPort(address)
		if n, _ := strconv.Atoi(port); n == 22 {
			// answer last
			time.Sleep(20 * time.Millisecond)
		}
		if open[port] {
			client, server := net.Pipe()
			_ = server.Close()
			return client, nil
		}
		return nil, stderrors.New("connection refused")
	}

	s := NewConnectScannerWithDialer(dial)
	got, err := s.Scan(context.Background(), "10.0.0.1", []int{443, 21, 22, 23, 80}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []int{443, 22, 80}, got)
}

func TestConnectScannerTimeout(t *testing.T) {
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	s := NewConnectScannerWithDialer(dial)
	start := time.Now()
	got, err := s.Scan(context.Background(), "10.0.0.1", []int{22, 80}, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Less(t, time.Since(start), time.Second)
}

func TestConnectScannerCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dial := func(dctx context.Context, network, address string) (net.Conn, error) {
		cancel()
		<-dctx.Done()
		return nil, dctx.Err()
	}

	s := NewConnectScannerWithDialer(dial)
	_, err := s.Scan(ctx, "10.0.0.1", []int{22, 80, 443}, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnectScannerNoPorts(t *testing.T) {
	got, err := NewConnectScanner().Scan(context.Background(), "10.0.0.1", nil, time.Second)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOpenPortsFromRun(t *testing.T) {
	run := &nmap.Run{Hosts: []nmap.Host{{
		Ports: []nmap.Port{
			{ID: 80, State: nmap.State{State: "open"}},
			{ID: 23, State: nmap.State{State: "closed"}},
			{ID: 22, State: nmap.State{State: "open"}},
			{ID: 8080, State: nmap.State{State: "open"}},
		},
	}}}

	assert.Equal(t, []int{22, 80}, openPortsFromRun(run, []int{21, 22, 23, 80}))
	assert.Nil(t, openPortsFromRun(nil, []int{22}))
}

func TestNmapScannerOptions(t *testing.T) {
	s := NewNmapScanner("/usr/local/bin/nmap")
	opts := s.buildOptions("10.0.0.1", []int{22, 80}, time.Second)
	assert.Len(t, opts, 8)

	assert.Len(t, NewNmapScanner("").buildOptions("10.0.0.1", []int{22}, time.Second), 7)
	assert.Equal(t, "21,22,443", joinPorts([]int{21, 22, 443}))
}

func TestNmapScannerNoPorts(t *testing.T) {
	got, err := NewNmapScanner("").Scan(context.Background(), "10.0.0.1", nil, time.Second)
	require.NoError(t, err)
	assert.Nil(t, got)
}
