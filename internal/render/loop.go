// Package render drives the output devices from the frame clock.
package render

import (
	"context"
	"errors"
	"sync"
	"time"

	"matrixout/internal/logger"
	"matrixout/internal/output"
)

// Ticker is implemented by frame sources that advance once per frame.
type Ticker interface {
	Tick(now time.Time)
}

// Reporter receives device stats after every frame.
type Reporter interface {
	Report(stats []output.Stats)
}

// Loop pushes one frame per tick to every device, one device after the other.
type Loop struct {
	log      logger.Logger
	source   Ticker
	devices  []output.Device
	interval time.Duration
	reporter Reporter

	closeOnce sync.Once
}

// NewLoop creates a loop running at fps. source and reporter may be nil.
func NewLoop(log logger.Logger, fps int, source Ticker, devices []output.Device, reporter Reporter) *Loop {
	if fps <= 0 {
		fps = 1
	}
	return &Loop{
		log:      log,
		source:   source,
		devices:  devices,
		interval: time.Second / time.Duration(fps),
		reporter: reporter,
	}
}

// Run ticks until ctx is done. Device errors are logged and never stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	t := time.NewTicker(l.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			l.Step(now)
		}
	}
}

// Step renders a single frame.
func (l *Loop) Step(now time.Time) {
	if l.source != nil {
		l.source.Tick(now)
	}
	for _, d := range l.devices {
		if err := l.update(d); err != nil {
			st := d.Stats()
			l.log.With(logger.Fields{"module": "render", "device": st.Name}).Debugf("frame not fully delivered: %v", err)
		}
	}
	if l.reporter != nil {
		l.reporter.Report(l.Stats())
	}
}

// update isolates the loop from a device that panics on a broken link.
func (l *Loop) update(d output.Device) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("device update panicked")
			l.log.With(logger.Fields{"module": "render"}).Errorf("device update panicked: %v", r)
		}
	}()
	return d.Update()
}

// Stats collects the stats of every device.
func (l *Loop) Stats() []output.Stats {
	out := make([]output.Stats, 0, len(l.devices))
	for _, d := range l.devices {
		out = append(out, d.Stats())
	}
	return out
}

// Close closes every device once.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		for _, d := range l.devices {
			if err := d.Close(); err != nil {
				l.log.With(logger.Fields{"module": "render", "device": d.Stats().Name}).Warnf("close: %v", err)
			}
		}
	})
}
