// Package panel implements the command protocol spoken by microcontroller
// driven 8x8 LED panels, independent of the physical link.
package panel

import (
	"errors"
	"fmt"
	"hash/adler32"
	"sync"
	"sync/atomic"

	"matrixout/internal/codec"
	"matrixout/internal/frame"
	"matrixout/internal/logger"
)

const (
	// Width and Height of one panel.
	Width  = 8
	Height = 8
	// Pixels is the number of pixels per panel.
	Pixels = Width * Height
	// PayloadSize is the size of a 15-bit packed panel frame.
	PayloadSize = Pixels * 2

	startOfCmd   = 0x01
	cmdSendFrame = 0x03
	cmdPing      = 0x04
	startOfData  = 0x10
	endOfData    = 0x20
)

// ErrWriteFailed is wrapped by Transport.WriteData errors.
var ErrWriteFailed = errors.New("write failed")

// Transport is the physical link to the controller.
type Transport interface {
	// WriteData writes a complete command payload.
	WriteData(b []byte) error
	// WaitForAck reports whether an acknowledgement arrived before the
	// link's timeout expired.
	WaitForAck() bool
	// ReplyFromController returns the bytes the controller sent since the
	// last write. It may be empty.
	ReplyFromController() []byte
	Close() error
}

// Outcome of a single frame send.
type Outcome int

const (
	// Unchanged means the payload matched the last one sent to the offset and was not written.
	Unchanged Outcome = iota
	// Sent means the payload was written.
	Sent
	// Failed means the write was attempted and failed; the frame is retried next time.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Sent:
		return "sent"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result of SendFrame.
type Result struct {
	Outcome Outcome
	Err     error
}

// Frames returns how many frames reached the transport, 0 or 1.
func (r Result) Frames() int {
	if r.Outcome == Sent {
		return 1
	}
	return 0
}

// Protocol frames panel commands, suppresses unchanged frames and tracks
// connection errors. It is safe for concurrent use.
type Protocol struct {
	logger      logger.Logger
	transport   Transport
	corrections map[byte]codec.Adjust

	mu       sync.Mutex
	lastSent map[byte]uint32

	connectionErrors atomic.Uint64
}

// NewProtocol creates a Protocol over t. corrections may be nil.
func NewProtocol(log logger.Logger, t Transport, corrections map[byte]codec.Adjust) *Protocol {
	c := make(map[byte]codec.Adjust, len(corrections))
	for k, v := range corrections {
		c[k] = v
	}
	return &Protocol{
		logger:      log,
		transport:   t,
		corrections: c,
		lastSent:    map[byte]uint32{},
	}
}

// CommandPayload wraps data into a command for the panel at offset.
// The controller multiplies offset by a fixed stride to locate the panel.
func CommandPayload(cmd, offset byte, data []byte) []byte {
	out := make([]byte, 0, len(data)+5)
	out = append(out, startOfCmd, cmd, offset, startOfData)
	out = append(out, data...)
	return append(out, endOfData)
}

// SendRgbFrame packs 64 RGB pixels for the panel at offset and sends them.
// It panics if pixels does not hold exactly Pixels entries.
func (p *Protocol) SendRgbFrame(offset byte, pixels frame.Buffer, cf codec.ColorFormat) Result {
	if len(pixels) != Pixels {
		panic(fmt.Sprintf("panel: rgb frame must have %d pixels, got %d", Pixels, len(pixels)))
	}
	if adj, ok := p.corrections[offset]; ok {
		return p.SendFrame(offset, codec.To15BitAdjusted(pixels, cf, adj))
	}
	return p.SendFrame(offset, codec.To15Bit(pixels, cf))
}

// SendFrame sends a packed panel frame unless it equals the last frame sent
// to offset. It panics if data is not PayloadSize bytes long.
func (p *Protocol) SendFrame(offset byte, data []byte) Result {
	if len(data) != PayloadSize {
		panic(fmt.Sprintf("panel: frame payload must be %d bytes, got %d", PayloadSize, len(data)))
	}

	payload := CommandPayload(cmdSendFrame, offset, data)
	sum := adler32.Checksum(payload)

	p.mu.Lock()
	defer p.mu.Unlock()

	if last, ok := p.lastSent[offset]; ok && last == sum {
		return Result{Outcome: Unchanged}
	}
	if err := p.sendData(payload); err != nil {
		// make sure the same frame goes out next time
		delete(p.lastSent, offset)
		return Result{Outcome: Failed, Err: err}
	}
	p.lastSent[offset] = sum
	return Result{Outcome: Sent}
}

func (p *Protocol) sendData(payload []byte) error {
	l := p.logger.With(logger.Fields{"module": "panel"})
	if err := p.transport.WriteData(payload); err != nil {
		p.connectionErrors.Add(1)
		l.Warnf("sending serial data failed: %v", err)
		return err
	}
	if reply := p.transport.ReplyFromController(); len(reply) > 0 {
		l.Infof("<<< (%v)", reply)
	}
	return nil
}

// Ping sends a ping command and waits for the controller's acknowledgement.
func (p *Protocol) Ping() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.With(logger.Fields{"module": "panel"}).Warnf("ping failed: %v", r)
			ok = false
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.transport.WriteData(CommandPayload(cmdPing, 0, nil)); err != nil {
		p.logger.With(logger.Fields{"module": "panel"}).Debugf("ping write failed: %v", err)
		return false
	}
	return p.transport.WaitForAck()
}

// ConnectionErrorCounter returns how many writes failed so far.
func (p *Protocol) ConnectionErrorCounter() uint64 {
	return p.connectionErrors.Load()
}
