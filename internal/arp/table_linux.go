//go:build linux

package arp

import (
	"context"
	"net"
	"os"
)

const procARPPath = "/proc/net/arp"

// procTable reads the kernel neighbor cache from procfs.
type procTable struct {
	path string
}

// NewSystemTable returns the Linux neighbor table reader.
func NewSystemTable() Table {
	return &procTable{path: procARPPath}
}

func (t *procTable) Lookup(_ context.Context, ip net.IP) (net.HardwareAddr, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseProcARP(f, ip)
}
