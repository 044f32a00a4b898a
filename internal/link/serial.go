package link

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/term"

	"matrixout/internal/logger"
)

// serialPollInterval bounds how long a read blocks so Close is noticed.
const serialPollInterval = 100 * time.Millisecond

// errWriteStalled is returned while an earlier write to the tty has not
// returned yet.
var errWriteStalled = errors.New("previous write still pending")

// serialPort hides the read timeouts of a raw tty from Stream and bounds
// writes by the deadline set through SetWriteDeadline.
type serialPort struct {
	tty      io.ReadWriteCloser
	closed   atomic.Bool
	writing  atomic.Bool
	deadline atomic.Int64 // unix nanoseconds, 0 means none
}

type writeResult struct {
	n   int
	err error
}

func (p *serialPort) Read(b []byte) (int, error) {
	for {
		n, err := p.tty.Read(b)
		if p.closed.Load() {
			return 0, os.ErrClosed
		}
		if n > 0 {
			return n, nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
	}
}

func (p *serialPort) SetWriteDeadline(t time.Time) error {
	if t.IsZero() {
		p.deadline.Store(0)
		return nil
	}
	p.deadline.Store(t.UnixNano())
	return nil
}

// Write hands b to the tty and gives up at the write deadline. A write that
// times out keeps the port busy until the tty returns it.
func (p *serialPort) Write(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if !p.writing.CompareAndSwap(false, true) {
		return 0, errWriteStalled
	}
	data := append([]byte(nil), b...)
	done := make(chan writeResult, 1)
	go func() {
		n, err := p.tty.Write(data)
		p.writing.Store(false)
		done <- writeResult{n: n, err: err}
	}()

	dl := p.deadline.Load()
	if dl == 0 {
		r := <-done
		return r.n, r.err
	}
	timer := time.NewTimer(time.Until(time.Unix(0, dl)))
	defer timer.Stop()
	select {
	case r := <-done:
		return r.n, r.err
	case <-timer.C:
		return 0, os.ErrDeadlineExceeded
	}
}

func (p *serialPort) Close() error {
	p.closed.Store(true)
	return p.tty.Close()
}

// OpenSerial opens a USB-serial device such as /dev/ttyUSB0 in raw mode.
func OpenSerial(log logger.Logger, device string, baud int, ackTimeout time.Duration) (*Stream, error) {
	t, err := term.Open(device, term.Speed(baud), term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", device, err)
	}
	if err := t.SetReadTimeout(serialPollInterval); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", device, err)
	}
	if err := t.Flush(); err != nil {
		log.With(logger.Fields{"module": "link"}).Debugf("flush %s: %v", device, err)
	}
	return NewStream(log, &serialPort{tty: t}, ackTimeout), nil
}
