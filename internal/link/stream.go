// Package link provides the physical transports for the panel protocol.
package link

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"matrixout/internal/logger"
	"matrixout/internal/panel"
)

// Ack is what the controller answers to a ping.
var Ack = []byte("AK")

const defaultWriteTimeout = time.Second

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Stream runs the panel protocol over a byte stream such as a serial port
// or a TCP connection to a serial bridge. A background reader collects
// whatever the controller sends.
type Stream struct {
	logger       logger.Logger
	rw           io.ReadWriteCloser
	ackTimeout   time.Duration
	writeTimeout time.Duration

	mu     sync.Mutex
	buf    []byte
	notify chan struct{}
	done   chan struct{}
	err    error

	closeOnce sync.Once
	closeErr  error
}

var _ panel.Transport = (*Stream)(nil)

// NewStream takes ownership of rw and starts reading from it.
func NewStream(log logger.Logger, rw io.ReadWriteCloser, ackTimeout time.Duration) *Stream {
	s := &Stream{
		logger:       log,
		rw:           rw,
		ackTimeout:   ackTimeout,
		writeTimeout: defaultWriteTimeout,
		notify:       make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *Stream) readLoop() {
	defer close(s.done)
	tmp := make([]byte, 256)
	for {
		n, err := s.rw.Read(tmp)
		if n > 0 {
			s.mu.Lock()
			s.buf = append(s.buf, tmp[:n]...)
			s.mu.Unlock()
			select {
			case s.notify <- struct{}{}:
			default:
			}
		}
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
	}
}

// WriteData discards unread controller output and writes b.
func (s *Stream) WriteData(b []byte) error {
	s.mu.Lock()
	s.buf = s.buf[:0]
	readErr := s.err
	s.mu.Unlock()
	if readErr != nil {
		return fmt.Errorf("%w: link is down: %v", panel.ErrWriteFailed, readErr)
	}

	if d, ok := s.rw.(writeDeadliner); ok {
		_ = d.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if _, err := s.rw.Write(b); err != nil {
		return fmt.Errorf("%w: %v", panel.ErrWriteFailed, err)
	}
	return nil
}

// WaitForAck waits up to the ack timeout for Ack to show up in the input.
func (s *Stream) WaitForAck() bool {
	timer := time.NewTimer(s.ackTimeout)
	defer timer.Stop()
	for {
		s.mu.Lock()
		if i := bytes.Index(s.buf, Ack); i >= 0 {
			s.buf = append(s.buf[:0], s.buf[i+len(Ack):]...)
			s.mu.Unlock()
			return true
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
			// drain what the reader collected before it stopped
			s.mu.Lock()
			ok := bytes.Contains(s.buf, Ack)
			s.mu.Unlock()
			return ok
		case <-timer.C:
			return false
		}
	}
}

// ReplyFromController returns and clears the bytes received since the last write.
func (s *Stream) ReplyFromController() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		return nil
	}
	out := append([]byte(nil), s.buf...)
	s.buf = s.buf[:0]
	return out
}

// Close closes the underlying stream and waits for the reader to stop.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.rw.Close()
		select {
		case <-s.done:
		case <-time.After(time.Second):
			s.logger.With(logger.Fields{"module": "link"}).Warn("reader did not stop after close")
		}
	})
	return s.closeErr
}
