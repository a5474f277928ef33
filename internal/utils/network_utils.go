package utils

import (
	"net"
	"strings"
)

// Cloudflare WARP, Tailscale and carrier grade NATs live in 100.64.0.0/10.
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

var vpnInterfaceHints = []string{"tun", "tap", "wg", "ppp", "warp"}

// ShouldForceRelay reports whether the host looks like it sits behind a VPN
// or CGNAT, where direct connections usually fail and TURN should be forced.
func ShouldForceRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			addrs = nil
		}

		ips := make([]net.IP, 0, len(addrs))
		for _, addr := range addrs {
			switch v := addr.(type) {
			case *net.IPNet:
				ips = append(ips, v.IP)
			case *net.IPAddr:
				ips = append(ips, v.IP)
			}
		}

		if looksRelayed(iface.Name, ips) {
			return true
		}
	}

	return false
}

func looksRelayed(name string, ips []net.IP) bool {
	name = strings.ToLower(name)
	for _, hint := range vpnInterfaceHints {
		if strings.Contains(name, hint) {
			return true
		}
	}
	for _, ip := range ips {
		if cgnatBlock.Contains(ip) {
			return true
		}
	}
	return false
}
