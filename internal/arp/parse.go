package arp

import (
	"bufio"
	"io"
	"net"
	"strings"
)

// /proc/net/arp flag for a complete entry.
const atfCom = 0x2

// parseProcARP scans a /proc/net/arp style table for ip.
//
//	IP address       HW type     Flags       HW address            Mask     Device
//	192.168.1.1      0x1         0x2         aa:bb:cc:dd:ee:ff     *        eth0
func parseProcARP(r io.Reader, ip net.IP) (net.HardwareAddr, error) {
	want := ip.String()
	scanner := bufio.NewScanner(r)

	// header
	scanner.Scan()

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[0] != want {
			continue
		}
		if !flagComplete(fields[2]) {
			continue
		}
		hw, err := net.ParseMAC(fields[3])
		if err != nil || !isComplete(hw) {
			continue
		}
		return hw, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNotFound
}

func flagComplete(s string) bool {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	var v uint64
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			v = v<<4 | uint64(c-'0')
		case c >= 'a' && c <= 'f':
			v = v<<4 | uint64(c-'a'+10)
		default:
			return false
		}
	}
	return v&atfCom != 0
}

// parseArpCommand extracts the hardware address from `arp -n <ip>` output
// as printed by BSD and macOS:
//
//	? (192.168.1.1) at 0:1c:42:0:0:8 on en0 ifscope [ethernet]
//
// and by net-tools on other Unix systems:
//
//	Address        HWtype  HWaddress           Flags Mask  Iface
//	192.168.1.1    ether   aa:bb:cc:dd:ee:ff   C           eth0
func parseArpCommand(out []byte, ip net.IP) (net.HardwareAddr, error) {
	want := ip.String()
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, want) {
			continue
		}
		fields := strings.Fields(line)

		for i, f := range fields {
			if f == "at" && i+1 < len(fields) {
				if hw, ok := parseLooseMAC(fields[i+1]); ok {
					return hw, nil
				}
			}
		}
		if len(fields) >= 3 && fields[0] == want {
			if hw, ok := parseLooseMAC(fields[2]); ok {
				return hw, nil
			}
		}
	}
	return nil, ErrNotFound
}

// parseLooseMAC accepts colon-separated octets that may omit leading zeros.
func parseLooseMAC(s string) (net.HardwareAddr, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return nil, false
	}
	for i, p := range parts {
		switch len(p) {
		case 1:
			parts[i] = "0" + p
		case 2:
		default:
			return nil, false
		}
	}
	hw, err := net.ParseMAC(strings.Join(parts, ":"))
	if err != nil || !isComplete(hw) {
		return nil, false
	}
	return hw, true
}
