package panel

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"matrixout/internal/codec"
	"matrixout/internal/frame"
	"matrixout/internal/logger"
	"matrixout/internal/output"
)

// Config describes a wall of panels behind one transport.
type Config struct {
	Kind         output.Kind
	ColorFormat  codec.ColorFormat
	PanelFormats []codec.ColorFormat // per panel offset, overrides ColorFormat
	Corrections  map[byte]codec.Adjust
	PingAttempts int
}

// Device drives a resolution made of 8x8 panels. Panels are numbered row by
// row, left to right; the panel number is its offset on the wire.
type Device struct {
	output.Resolution

	logger      logger.Logger
	cfg         Config
	transport   Transport
	proto       *Protocol
	initialized bool

	sent      atomic.Uint64
	skipped   atomic.Uint64
	closeOnce sync.Once
}

var _ output.Device = (*Device)(nil)

// Open connects through dial and performs the ping handshake. Like the ArtNet
// output it never fails at runtime: a link that cannot be opened or does not
// answer yields a disabled device. Only a resolution that cannot be split into
// panels is reported as an error.
func Open(log logger.Logger, res output.Resolution, cfg Config, dial func() (Transport, error)) (*Device, error) {
	if res.Width <= 0 || res.Height <= 0 || res.Width%Width != 0 || res.Height%Height != 0 {
		return nil, fmt.Errorf("resolution %dx%d is not made of %dx%d panels", res.Width, res.Height, Width, Height)
	}
	if n := res.Pixels() / Pixels; n > 256 {
		return nil, fmt.Errorf("%d panels exceed the 256 addressable offsets", n)
	}

	d := &Device{Resolution: res, logger: log, cfg: cfg}
	l := log.With(logger.Fields{"module": "panel", "device": res.Name, "kind": cfg.Kind.String()})

	t, err := dial()
	if err != nil {
		l.Warnf("failed to open link: %v", err)
		return d, nil
	}
	d.transport = t
	d.proto = NewProtocol(log, t, cfg.Corrections)

	attempts := max(cfg.PingAttempts, 1)
	for i := 0; i < attempts; i++ {
		if d.proto.Ping() {
			d.initialized = true
			break
		}
		l.Debugf("ping %d/%d unanswered", i+1, attempts)
	}
	if !d.initialized {
		l.Warnf("controller did not answer %d ping(s), output disabled", attempts)
		return d, nil
	}

	l.Infof("panel device initialized, %d panel(s)", d.Panels())
	return d, nil
}

// Panels returns the number of panels.
func (d *Device) Panels() int {
	return d.Pixels() / Pixels
}

// Initialized reports whether the handshake succeeded.
func (d *Device) Initialized() bool {
	return d.initialized
}

// Protocol exposes the protocol, nil when the link never opened.
func (d *Device) Protocol() *Protocol {
	return d.proto
}

func (d *Device) format(offset int) codec.ColorFormat {
	if offset < len(d.cfg.PanelFormats) {
		return d.cfg.PanelFormats[offset]
	}
	return d.cfg.ColorFormat
}

// Update sends every panel whose content changed since its last successful send.
func (d *Device) Update() error {
	if !d.initialized {
		return nil
	}

	buf := d.TransformedBuffer()
	cols := d.Width / Width
	var errs []error
	for i := 0; i < d.Panels(); i++ {
		px := frame.Panel(buf, d.Width, Width, i%cols, i/cols)
		res := d.proto.SendRgbFrame(byte(i), px, d.format(i))
		switch res.Outcome {
		case Sent:
			d.sent.Add(1)
		case Unchanged:
			d.skipped.Add(1)
		case Failed:
			errs = append(errs, fmt.Errorf("panel %d: %w", i, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the link.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.transport != nil {
			err = d.transport.Close()
		}
	})
	return err
}

// Stats reports panel frames sent, skipped as unchanged and failed.
func (d *Device) Stats() output.Stats {
	st := output.Stats{
		Name:        d.Name,
		Kind:        d.cfg.Kind.String(),
		Initialized: d.initialized,
		Sent:        d.sent.Load(),
		Skipped:     d.skipped.Load(),
	}
	if d.proto != nil {
		st.Errors = d.proto.ConnectionErrorCounter()
	}
	return st
}
