package scanning

import (
	"context"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// PingReply carries the echo reply fields kept on a DeviceRecord.
type PingReply struct {
	RTT  time.Duration
	TTL  int
	Addr string
}

// Pinger sends a single ICMP echo. A nil reply with a nil error means the
// host did not answer within timeout; an error means the echo could not be
// sent at all.
type Pinger interface {
	Ping(ctx context.Context, target string, timeout time.Duration) (*PingReply, error)
}

// ICMPPinger pings with pro-bing.
type ICMPPinger struct {
	// Privileged selects raw ICMP sockets over unprivileged datagram
	// sockets. Windows only supports raw sockets.
	Privileged bool
}

// NewICMPPinger returns a pinger configured for the current platform.
func NewICMPPinger() *ICMPPinger {
	return &ICMPPinger{Privileged: runtime.GOOS == "windows"}
}

// Ping implements Pinger.
func (p *ICMPPinger) Ping(ctx context.Context, target string, timeout time.Duration) (*PingReply, error) {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		return nil, err
	}
	pinger.SetNetwork("ip4")
	pinger.SetPrivileged(p.Privileged)
	pinger.Count = 1
	pinger.Timeout = timeout

	var reply *PingReply
	pinger.OnRecv = func(pkt *probing.Packet) {
		if reply != nil {
			return
		}
		r := &PingReply{RTT: pkt.Rtt, TTL: pkt.TTL}
		if pkt.IPAddr != nil {
			r.Addr = pkt.IPAddr.IP.String()
		}
		reply = r
	}

	if err := pinger.RunWithContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return reply, nil
}
