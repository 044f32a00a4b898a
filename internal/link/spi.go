package link

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"matrixout/internal/logger"
	"matrixout/internal/panel"
)

// ackPollInterval is the pause between two ack polls on a SPI bus.
const ackPollInterval = time.Millisecond

// SPI runs the panel protocol over a full duplex SPI bus. The controller
// shifts its reply out while the next command is clocked in; ack polls clock
// out idle bytes.
type SPI struct {
	logger     logger.Logger
	port       spi.PortCloser
	conn       spi.Conn
	ackTimeout time.Duration

	mu    sync.Mutex
	reply []byte
}

var _ panel.Transport = (*SPI)(nil)

// OpenSPI opens a SPI port by name ("" picks the first one) at hz.
func OpenSPI(log logger.Logger, name string, hz int64, ackTimeout time.Duration) (*SPI, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	p, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open spi port %q: %w", name, err)
	}
	s, err := NewSPI(log, p, physic.Frequency(hz)*physic.Hertz, ackTimeout)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	return s, nil
}

// NewSPI connects to an already opened port.
func NewSPI(log logger.Logger, p spi.PortCloser, freq physic.Frequency, ackTimeout time.Duration) (*SPI, error) {
	c, err := p.Connect(freq, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("connect spi at %s: %w", freq, err)
	}
	return &SPI{logger: log, port: p, conn: c, ackTimeout: ackTimeout}, nil
}

// WriteData clocks b out and keeps what the controller clocked back.
func (s *SPI) WriteData(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := make([]byte, len(b))
	if err := s.conn.Tx(b, r); err != nil {
		s.reply = nil
		return fmt.Errorf("%w: %v", panel.ErrWriteFailed, err)
	}
	s.reply = trimIdle(r)
	return nil
}

// WaitForAck polls the bus until the controller shifts out Ack.
func (s *SPI) WaitForAck() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := time.Now().Add(s.ackTimeout)
	idle := make([]byte, len(Ack))
	for {
		r := make([]byte, len(Ack))
		if err := s.conn.Tx(idle, r); err != nil {
			s.logger.With(logger.Fields{"module": "link"}).Debugf("spi ack poll: %v", err)
			return false
		}
		if bytes.Equal(r, Ack) {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(ackPollInterval)
	}
}

// ReplyFromController returns and clears the non-idle bytes of the last transfer.
func (s *SPI) ReplyFromController() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.reply
	s.reply = nil
	return r
}

// Close releases the SPI port.
func (s *SPI) Close() error {
	return s.port.Close()
}

// trimIdle drops the 0x00 and 0xff filler a controller shifts out when it has nothing to say.
func trimIdle(r []byte) []byte {
	var out []byte
	for _, b := range r {
		if b != 0x00 && b != 0xff {
			out = append(out, b)
		}
	}
	return out
}
