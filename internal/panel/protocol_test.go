package panel

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrixout/internal/codec"
	"matrixout/internal/frame"
	"matrixout/internal/logger"
)

// fakeTransport records writes and fails the ones it is told to.
type fakeTransport struct {
	mu       sync.Mutex
	writes   [][]byte
	failNext int
	ack      bool
	reply    []byte
	closed   int
}

func (f *fakeTransport) WriteData(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), b...))
	if f.failNext > 0 {
		f.failNext--
		return fmt.Errorf("%w: device gone", ErrWriteFailed)
	}
	return nil
}

func (f *fakeTransport) WaitForAck() bool { return f.ack }

func (f *fakeTransport) ReplyFromController() []byte {
	r := f.reply
	f.reply = nil
	return r
}

func (f *fakeTransport) Close() error {
	f.closed++
	return nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func gradient() frame.Buffer {
	buf := make(frame.Buffer, Pixels)
	for i := range buf {
		buf[i] = frame.Pixel(uint8(i*4), uint8(255-i*4), uint8(i))
	}
	return buf
}

func TestCommandPayload(t *testing.T) {
	got := CommandPayload(cmdSendFrame, 2, []byte{0xaa, 0xbb})
	assert.Equal(t, []byte{0x01, 0x03, 0x02, 0x10, 0xaa, 0xbb, 0x20}, got)

	ping := CommandPayload(cmdPing, 0, nil)
	assert.Equal(t, []byte{0x01, 0x04, 0x00, 0x10, 0x20}, ping)
}

func TestSendFrameWrapsPayload(t *testing.T) {
	ft := &fakeTransport{}
	p := NewProtocol(logger.Discard(), ft, nil)

	data := make([]byte, PayloadSize)
	data[0] = 0x7f
	res := p.SendFrame(5, data)
	require.Equal(t, Sent, res.Outcome)
	assert.Equal(t, 1, res.Frames())

	require.Len(t, ft.writes, 1)
	w := ft.writes[0]
	require.Len(t, w, PayloadSize+5)
	assert.Equal(t, []byte{startOfCmd, cmdSendFrame, 5, startOfData, 0x7f}, w[:5])
	assert.Equal(t, byte(endOfData), w[len(w)-1])
}

func TestUnchangedFrameIsSuppressed(t *testing.T) {
	ft := &fakeTransport{}
	p := NewProtocol(logger.Discard(), ft, nil)
	buf := gradient()

	assert.Equal(t, Sent, p.SendRgbFrame(0, buf, codec.RGB).Outcome)
	res := p.SendRgbFrame(0, buf, codec.RGB)
	assert.Equal(t, Unchanged, res.Outcome)
	assert.Equal(t, 0, res.Frames())
	assert.Equal(t, 1, ft.count())
}

func TestChangedPixelForcesWrite(t *testing.T) {
	for _, idx := range []int{0, 31, 63} {
		t.Run(fmt.Sprint(idx), func(t *testing.T) {
			ft := &fakeTransport{}
			p := NewProtocol(logger.Discard(), ft, nil)
			buf := gradient()
			p.SendRgbFrame(3, buf, codec.RGB)

			changed := append(frame.Buffer(nil), buf...)
			changed[idx] ^= 0xf80000
			assert.Equal(t, Sent, p.SendRgbFrame(3, changed, codec.RGB).Outcome)
			assert.Equal(t, 2, ft.count())
		})
	}
}

func TestOffsetsAreTrackedIndependently(t *testing.T) {
	ft := &fakeTransport{}
	p := NewProtocol(logger.Discard(), ft, nil)
	buf := gradient()

	p.SendRgbFrame(0, buf, codec.RGB)
	assert.Equal(t, Sent, p.SendRgbFrame(1, buf, codec.RGB).Outcome)
	assert.Equal(t, Unchanged, p.SendRgbFrame(0, buf, codec.RGB).Outcome)
	assert.Equal(t, Unchanged, p.SendRgbFrame(1, buf, codec.RGB).Outcome)
	assert.Equal(t, 2, ft.count())
}

func TestWriteFailureRetriesNextTick(t *testing.T) {
	ft := &fakeTransport{failNext: 1}
	p := NewProtocol(logger.Discard(), ft, nil)
	buf := gradient()

	res := p.SendRgbFrame(0, buf, codec.RGB)
	assert.Equal(t, Failed, res.Outcome)
	assert.True(t, errors.Is(res.Err, ErrWriteFailed))
	assert.Equal(t, 0, res.Frames())
	assert.Equal(t, uint64(1), p.ConnectionErrorCounter())

	assert.Equal(t, Sent, p.SendRgbFrame(0, buf, codec.RGB).Outcome)
	assert.Equal(t, 2, ft.count())
	assert.Equal(t, Unchanged, p.SendRgbFrame(0, buf, codec.RGB).Outcome)
	assert.Equal(t, uint64(1), p.ConnectionErrorCounter())
}

func TestFailureAfterSuccessInvalidatesCache(t *testing.T) {
	ft := &fakeTransport{}
	p := NewProtocol(logger.Discard(), ft, nil)
	a, b := gradient(), gradient()
	b[0] = 0

	p.SendRgbFrame(0, a, codec.RGB)
	ft.failNext = 1
	assert.Equal(t, Failed, p.SendRgbFrame(0, b, codec.RGB).Outcome)
	// a was the last frame that made it, but the cache no longer vouches for it.
	assert.Equal(t, Sent, p.SendRgbFrame(0, a, codec.RGB).Outcome)
}

func TestMalformedInputPanics(t *testing.T) {
	p := NewProtocol(logger.Discard(), &fakeTransport{}, nil)

	for _, n := range []int{63, 65} {
		assert.Panics(t, func() { p.SendRgbFrame(0, make(frame.Buffer, n), codec.RGB) }, "%d pixels", n)
	}
	for _, n := range []int{127, 129} {
		assert.Panics(t, func() { p.SendFrame(0, make([]byte, n)) }, "%d bytes", n)
	}
}

func TestCorrectionIsAppliedPerOffset(t *testing.T) {
	ft := &fakeTransport{}
	p := NewProtocol(logger.Discard(), ft, map[byte]codec.Adjust{1: codec.AdjustPercent(0, 100, 100)})
	white := make(frame.Buffer, Pixels)
	for i := range white {
		white[i] = 0xffffff
	}

	p.SendRgbFrame(0, white, codec.RGB)
	p.SendRgbFrame(1, white, codec.RGB)
	require.Len(t, ft.writes, 2)

	assert.Equal(t, []byte{0x7f, 0xff}, ft.writes[0][4:6])
	assert.Equal(t, []byte{0x03, 0xff}, ft.writes[1][4:6])
}

func TestPing(t *testing.T) {
	ft := &fakeTransport{ack: true}
	p := NewProtocol(logger.Discard(), ft, nil)
	assert.True(t, p.Ping())
	assert.Equal(t, CommandPayload(cmdPing, 0, nil), ft.writes[0])

	ft.ack = false
	assert.False(t, p.Ping())

	ft.ack = true
	ft.failNext = 1
	assert.False(t, p.Ping())
	// a failed ping is not a connection error
	assert.Equal(t, uint64(0), p.ConnectionErrorCounter())
}

type panickingTransport struct{ fakeTransport }

func (*panickingTransport) WaitForAck() bool { panic("port vanished") }

func TestPingRecovers(t *testing.T) {
	p := NewProtocol(logger.Discard(), &panickingTransport{}, nil)
	assert.False(t, p.Ping())
	// the lock was released
	assert.False(t, p.Ping())
}

func TestConcurrentOffsets(t *testing.T) {
	ft := &fakeTransport{}
	p := NewProtocol(logger.Discard(), ft, nil)
	buf := gradient()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(ofs byte) {
			defer wg.Done()
			p.SendRgbFrame(ofs, buf, codec.RGB)
			p.SendRgbFrame(ofs, buf, codec.RGB)
		}(byte(i))
	}
	wg.Wait()
	assert.Equal(t, 16, ft.count())
}
