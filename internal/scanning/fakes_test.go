package scanning

import (
	"context"
	"sync"
	"time"
)

type fakePinger struct {
	mu      sync.Mutex
	replies map[string]*PingReply
	errs    map[string]error
	calls   []string
}

func (f *fakePinger) Ping(ctx context.Context, target string, _ time.Duration) (*PingReply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, target)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := f.errs[target]; ok {
		return nil, err
	}
	return f.replies[target], nil
}

func (f *fakePinger) called() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeResolver struct {
	names map[string]string
	err   error
}

func (f fakeResolver) LookupAddr(_ context.Context, ip string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.names[ip], nil
}

// fakePorts runs fn when set, else reports open.
type fakePorts struct {
	open []int
	err  error
	fn   func(ctx context.Context) ([]int, error)
}

func (f fakePorts) Scan(ctx context.Context, _ string, _ []int, _ time.Duration) ([]int, error) {
	if f.fn != nil {
		return f.fn(ctx)
	}
	return f.open, f.err
}

type fakeMAC struct {
	mac string
	err error
}

func (f fakeMAC) Resolve(_ context.Context, _ string) (string, error) {
	return f.mac, f.err
}

// proberFunc adapts a function to Prober.
type proberFunc func(ctx context.Context, target string) DeviceRecord

func (f proberFunc) Probe(ctx context.Context, target string) DeviceRecord {
	return f(ctx, target)
}
