package link

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrixout/internal/codec"
	"matrixout/internal/frame"
	"matrixout/internal/logger"
	"matrixout/internal/panel"
)

func pipe(t *testing.T, ackTimeout time.Duration) (*Stream, net.Conn) {
	t.Helper()
	client, controller := net.Pipe()
	s := NewStream(logger.Discard(), client, ackTimeout)
	t.Cleanup(func() {
		_ = s.Close()
		_ = controller.Close()
	})
	return s, controller
}

// answer reads n bytes from the controller side and replies with reply.
func answer(conn net.Conn, n int, reply []byte) <-chan []byte {
	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, n)
		if _, err := io.ReadFull(conn, buf); err != nil {
			got <- nil
			return
		}
		got <- buf
		if len(reply) > 0 {
			_, _ = conn.Write(reply)
		}
	}()
	return got
}

func TestStreamPingHandshake(t *testing.T) {
	s, controller := pipe(t, time.Second)
	p := panel.NewProtocol(logger.Discard(), s, nil)

	got := answer(controller, 5, []byte("xAK"))
	assert.True(t, p.Ping())
	assert.Equal(t, []byte{0x01, 0x04, 0x00, 0x10, 0x20}, <-got)
}

func TestStreamAckTimeout(t *testing.T) {
	s, controller := pipe(t, 50*time.Millisecond)
	p := panel.NewProtocol(logger.Discard(), s, nil)

	got := answer(controller, 5, nil)
	start := time.Now()
	assert.False(t, p.Ping())
	assert.Less(t, time.Since(start), time.Second)
	<-got
}

func TestStreamSendFrameAndReply(t *testing.T) {
	s, controller := pipe(t, time.Second)
	p := panel.NewProtocol(logger.Discard(), s, nil)

	buf := make(frame.Buffer, panel.Pixels)
	got := answer(controller, panel.PayloadSize+5, nil)
	res := p.SendRgbFrame(0, buf, codec.RGB)
	require.Equal(t, panel.Sent, res.Outcome)
	assert.Len(t, <-got, panel.PayloadSize+5)

	_, err := controller.Write([]byte("dbg"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.buf) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("dbg"), s.ReplyFromController())
	assert.Nil(t, s.ReplyFromController())
}

func TestStreamWriteAfterPeerClosed(t *testing.T) {
	s, controller := pipe(t, 50*time.Millisecond)
	require.NoError(t, controller.Close())

	<-s.done
	err := s.WriteData([]byte{0x01})
	assert.True(t, errors.Is(err, panel.ErrWriteFailed))
	assert.False(t, s.WaitForAck())
}

func TestStreamCloseTwice(t *testing.T) {
	s, _ := pipe(t, 50*time.Millisecond)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestDialTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		if _, err := io.ReadFull(conn, buf); err == nil {
			_, _ = conn.Write(Ack)
		}
		_, _ = io.Copy(io.Discard, conn)
	}()

	s, err := DialTCP(logger.Discard(), ln.Addr().String(), time.Second, time.Second)
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, panel.NewProtocol(logger.Discard(), s, nil).Ping())

	_, err = DialTCP(logger.Discard(), "127.0.0.1:1", 200*time.Millisecond, time.Second)
	assert.Error(t, err)
}
