// Package host discovers the address a worker registers in the fleet registry.
package host

import (
	"net"
)

// probeAddr is never contacted; dialing UDP only selects the outbound interface.
const probeAddr = "8.8.8.8:80"

// LocalIP returns the preferred outbound IPv4 address, the first non-loopback
// interface address when no route exists, or 127.0.0.1.
func LocalIP() string {
	if ip := outboundIP(); ip != "" {
		return ip
	}
	if ip := interfaceIP(net.InterfaceAddrs); ip != "" {
		return ip
	}
	return "127.0.0.1"
}

func outboundIP() string {
	conn, err := net.Dial("udp", probeAddr)
	if err != nil {
		return ""
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.IsLoopback() {
		return ""
	}
	return addr.IP.String()
}

func interfaceIP(addrs func() ([]net.Addr, error)) string {
	list, err := addrs()
	if err != nil {
		return ""
	}
	for _, a := range list {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return ""
}
