//go:build !linux && !windows

package arp

import (
	"context"
	"net"
	"os/exec"
)

// commandTable shells out to arp(8).
type commandTable struct {
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewSystemTable returns a neighbor table reader that runs `arp -n`.
func NewSystemTable() Table {
	return &commandTable{
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
}

func (t *commandTable) Lookup(ctx context.Context, ip net.IP) (net.HardwareAddr, error) {
	out, err := t.run(ctx, "arp", "-n", ip.String())
	if err != nil {
		// arp exits non-zero when there is no entry
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrNotFound
	}
	return parseArpCommand(out, ip)
}
