package link

import (
	"fmt"
	"net"
	"time"

	"matrixout/internal/logger"
)

// DialTCP connects to a network-to-serial bridge in front of the controller.
func DialTCP(log logger.Logger, addr string, dialTimeout, ackTimeout time.Duration) (*Stream, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		// frames are small and latency matters more than throughput
		_ = tc.SetNoDelay(true)
	}
	return NewStream(log, conn, ackTimeout), nil
}
