package artnet

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ResolveTarget resolves the unicast address of an ArtNet node.
func ResolveTarget(ip string, port int) (*net.UDPAddr, error) {
	if strings.TrimSpace(ip) == "" {
		return nil, errors.New("empty target address")
	}
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", ip, err)
	}
	return addr, nil
}

// FindLocalIP finds the interface address whose network contains target.
// It returns nil when the target is only reachable through a gateway.
func FindLocalIP(target net.IP) (net.IP, error) {
	address, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("error getting ips: %w", err)
	}

	for _, addr := range address {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}

		if strings.Contains(ipNet.IP.String(), ":") {
			continue
		}

		if ipNet.Contains(target) {
			return ipNet.IP, nil
		}
	}

	return nil, nil
}
