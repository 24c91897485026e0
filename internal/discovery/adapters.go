package discovery

import (
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// Adapter is a network interface and the IPv4 subnets assigned to it.
type Adapter struct {
	Name         string         `json:"name"`
	Index        int            `json:"index"`
	HardwareAddr string         `json:"hardware_addr,omitempty"`
	Flags        net.Flags      `json:"-"`
	Prefixes     []netip.Prefix `json:"prefixes"`
}

// Eligible reports whether the adapter takes part in subnet discovery.
func (a Adapter) Eligible() bool {
	if a.Flags&net.FlagUp == 0 {
		return false
	}
	if a.Flags&net.FlagLoopback != 0 || a.Flags&net.FlagPointToPoint != 0 {
		return false
	}
	return len(a.Prefixes) > 0
}

// Matches reports whether id names this adapter, by name or index.
func (a Adapter) Matches(id string) bool {
	if strings.EqualFold(a.Name, id) {
		return true
	}
	if n, err := strconv.Atoi(id); err == nil && n == a.Index {
		return true
	}
	return false
}

// InterfaceSource enumerates network adapters.
type InterfaceSource interface {
	Interfaces() ([]Adapter, error)
}

// SystemInterfaces reads adapters from the operating system.
type SystemInterfaces struct{}

// Interfaces returns every interface with its IPv4 unicast prefixes.
func (SystemInterfaces) Interfaces() ([]Adapter, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	adapters := make([]Adapter, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		a := Adapter{
			Name:         iface.Name,
			Index:        iface.Index,
			HardwareAddr: iface.HardwareAddr.String(),
			Flags:        iface.Flags,
		}
		for _, addr := range addrs {
			if p, ok := ipv4Prefix(addr); ok {
				a.Prefixes = append(a.Prefixes, p)
			}
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

func ipv4Prefix(addr net.Addr) (netip.Prefix, bool) {
	ipnet, ok := addr.(*net.IPNet)
	if !ok {
		return netip.Prefix{}, false
	}
	ip, ok := netip.AddrFromSlice(ipnet.IP.To4())
	if !ok || !ip.Is4() || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		return netip.Prefix{}, false
	}
	ones, bits := ipnet.Mask.Size()
	if bits != 32 {
		return netip.Prefix{}, false
	}
	return netip.PrefixFrom(ip, ones), true
}
