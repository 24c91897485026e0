package handlers

import (
	"bytes"
	"context"
	stderrors "errors"
	"net/netip"
	"sync"

	"github.com/anstrom/netsweep/internal/discovery"
	"github.com/anstrom/netsweep/internal/logging"
	"github.com/anstrom/netsweep/internal/scanning"
)

func testLogger() *logging.Logger {
	return logging.NewWithWriter(&bytes.Buffer{}, logging.DefaultConfig())
}

type fakeTargets struct {
	mu         sync.Mutex
	discovered []string
	hosts      []string
	adapters   []discovery.Adapter
	err        error
}

func (f *fakeTargets) Expand(entries []string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return entries, nil
}

func (f *fakeTargets) Discover(adapter string) ([]string, error) {
	f.mu.Lock()
	f.discovered = append(f.discovered, adapter)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.hosts, nil
}

func (f *fakeTargets) ListAdapters() ([]discovery.Adapter, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.adapters, nil
}

// fakeSweeper emits one record per target. statusOf picks the status;
// hook runs before each record and may block on ctx.
type fakeSweeper struct {
	mu       sync.Mutex
	scanIDs  []string
	statusOf func(target string) scanning.Status
	hook     func(ctx context.Context)
	done     chan struct{}
}

func newFakeSweeper() *fakeSweeper {
	return &fakeSweeper{done: make(chan struct{})}
}

func (f *fakeSweeper) ScanWithID(ctx context.Context, scanID string, targets []string) <-chan scanning.DeviceRecord {
	f.mu.Lock()
	f.scanIDs = append(f.scanIDs, scanID)
	f.mu.Unlock()

	out := make(chan scanning.DeviceRecord)
	go func() {
		defer close(f.done)
		defer close(out)
		for _, target := range targets {
			if f.hook != nil {
				f.hook(ctx)
			}
			status := scanning.StatusOnline
			if ctx.Err() != nil {
				status = scanning.StatusCanceled
			} else if f.statusOf != nil {
				status = f.statusOf(target)
			}
			out <- scanning.DeviceRecord{Target: target, Hostname: "N/A", Status: status}
		}
	}()
	return out
}

func (f *fakeSweeper) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.scanIDs...)
}

func (f *fakeTargets) discoveredAdapters() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.discovered...)
}

var errBoom = stderrors.New("boom")

func lanAdapter() discovery.Adapter {
	return discovery.Adapter{
		Name:         "eth0",
		Index:        2,
		HardwareAddr: "b8:27:eb:01:02:03",
		Flags:        0,
		Prefixes:     []netip.Prefix{netip.MustParsePrefix("192.168.1.0/24")},
	}
}
