//go:build windows

package arp

import (
	"context"
	"encoding/binary"
	"net"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modiphlpapi = windows.NewLazySystemDLL("iphlpapi.dll")
	procSendARP = modiphlpapi.NewProc("SendARP")
)

// sendARPTable asks iphlpapi to resolve the address. SendARP consults the
// cache first and performs the exchange itself on a miss.
type sendARPTable struct{}

// NewSystemTable returns the Windows neighbor table reader.
func NewSystemTable() Table {
	return sendARPTable{}
}

type sendARPResult struct {
	hw  net.HardwareAddr
	err error
}

func (sendARPTable) Lookup(ctx context.Context, ip net.IP) (net.HardwareAddr, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, ErrNotFound
	}

	// SendARP blocks for up to a few seconds on a miss.
	done := make(chan sendARPResult, 1)
	go func() {
		hw, err := sendARP(binary.LittleEndian.Uint32(ip4))
		done <- sendARPResult{hw, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.hw, res.err
	}
}

func sendARP(dst uint32) (net.HardwareAddr, error) {
	if err := procSendARP.Find(); err != nil {
		return nil, err
	}

	var buf [8]byte
	size := uint32(len(buf))
	r1, _, _ := procSendARP.Call(
		uintptr(dst),
		0,
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(unsafe.Pointer(&size)),
	)
	if r1 != 0 {
		if syscall.Errno(r1) == windows.ERROR_BAD_NET_NAME {
			return nil, ErrNotFound
		}
		return nil, syscall.Errno(r1)
	}
	if size == 0 || size > uint32(len(buf)) {
		return nil, ErrNotFound
	}
	hw := make(net.HardwareAddr, size)
	copy(hw, buf[:size])
	return hw, nil
}
