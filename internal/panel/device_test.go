package panel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrixout/internal/codec"
	"matrixout/internal/frame"
	"matrixout/internal/logger"
	"matrixout/internal/output"
)

type mutableSource struct {
	w, h int
	buf  frame.Buffer
}

func (s *mutableSource) Frame() frame.Buffer { return s.buf }
func (s *mutableSource) Width() int          { return s.w }
func (s *mutableSource) Height() int         { return s.h }

func openTest(t *testing.T, w, h int, ft *fakeTransport, cfg Config) (*Device, *mutableSource) {
	t.Helper()
	src := &mutableSource{w: w, h: h, buf: make(frame.Buffer, w*h)}
	res := output.NewResolution("wall", src, w, h, frame.Orientation{})
	d, err := Open(logger.Discard(), res, cfg, func() (Transport, error) { return ft, nil })
	require.NoError(t, err)
	return d, src
}

func TestOpenRejectsOddResolution(t *testing.T) {
	res := output.NewResolution("odd", nil, 12, 8, frame.Orientation{})
	_, err := Open(logger.Discard(), res, Config{}, func() (Transport, error) { return &fakeTransport{ack: true}, nil })
	assert.Error(t, err)
}

func TestOpenWithoutAckDisablesDevice(t *testing.T) {
	ft := &fakeTransport{}
	d, _ := openTest(t, 8, 8, ft, Config{Kind: output.Serial, PingAttempts: 3})

	assert.False(t, d.Initialized())
	assert.Len(t, ft.writes, 3, "one write per ping attempt")
	assert.NoError(t, d.Update())
	assert.Len(t, ft.writes, 3)

	// the link was opened, so it is released
	assert.NoError(t, d.Close())
	assert.NoError(t, d.Close())
	assert.Equal(t, 1, ft.closed)
}

func TestOpenDialFailure(t *testing.T) {
	res := output.NewResolution("gone", nil, 8, 8, frame.Orientation{})
	d, err := Open(logger.Discard(), res, Config{Kind: output.TCP}, func() (Transport, error) {
		return nil, errors.New("connection refused")
	})
	require.NoError(t, err)
	assert.False(t, d.Initialized())
	assert.Nil(t, d.Protocol())
	assert.NoError(t, d.Update())
	assert.NoError(t, d.Close())
	assert.Equal(t, uint64(0), d.Stats().Errors)
}

func TestUpdateSendsOnlyChangedPanels(t *testing.T) {
	ft := &fakeTransport{ack: true}
	d, src := openTest(t, 16, 16, ft, Config{Kind: output.Serial})
	require.True(t, d.Initialized())
	assert.Equal(t, 4, d.Panels())
	pings := len(ft.writes)

	require.NoError(t, d.Update())
	assert.Len(t, ft.writes, pings+4)

	require.NoError(t, d.Update())
	assert.Len(t, ft.writes, pings+4)

	// bottom-right panel (offset 3) changes
	src.buf[15*16+15] = 0xffffff
	require.NoError(t, d.Update())
	require.Len(t, ft.writes, pings+5)
	assert.Equal(t, byte(3), ft.writes[len(ft.writes)-1][2])

	st := d.Stats()
	assert.Equal(t, uint64(5), st.Sent)
	assert.Equal(t, uint64(7), st.Skipped)
	assert.Equal(t, "serial", st.Kind)
}

func TestUpdateReportsFailedPanels(t *testing.T) {
	ft := &fakeTransport{ack: true}
	d, _ := openTest(t, 16, 8, ft, Config{Kind: output.Serial})
	ft.failNext = 1

	err := d.Update()
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.Equal(t, uint64(1), d.Stats().Errors)
	assert.Equal(t, uint64(1), d.Stats().Sent)

	// the failed panel goes out on the next tick, the other one is unchanged
	require.NoError(t, d.Update())
	assert.Equal(t, uint64(2), d.Stats().Sent)
	assert.Equal(t, uint64(1), d.Stats().Skipped)
}

func TestPerPanelColorFormat(t *testing.T) {
	ft := &fakeTransport{ack: true}
	d, src := openTest(t, 16, 8, ft, Config{
		Kind:         output.Serial,
		ColorFormat:  codec.RGB,
		PanelFormats: []codec.ColorFormat{codec.GRB},
	})
	for i := range src.buf {
		src.buf[i] = 0xff0000
	}
	pings := len(ft.writes)
	require.NoError(t, d.Update())
	require.Len(t, ft.writes, pings+2)

	assert.Equal(t, []byte{0x03, 0xe0}, ft.writes[pings][4:6], "panel 0 is GRB")
	assert.Equal(t, []byte{0x7c, 0x00}, ft.writes[pings+1][4:6], "panel 1 falls back to RGB")
}
