package main

import (
	"fmt"

	"matrixout/internal/artnet"
	"matrixout/internal/codec"
	"matrixout/internal/config"
	"matrixout/internal/frame"
	"matrixout/internal/link"
	"matrixout/internal/logger"
	"matrixout/internal/output"
	"matrixout/internal/panel"
)

// openDevices builds every configured device. Devices whose hardware is
// unreachable come back disabled; only configuration mistakes are errors.
func openDevices(log logger.Logger, confs []config.DeviceConf, src frame.Source) ([]output.Device, error) {
	var devices []output.Device
	for _, c := range confs {
		d, err := openDevice(log, c, src)
		if err != nil {
			for _, opened := range devices {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("device %q: %w", c.Name, err)
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func openDevice(log logger.Logger, c config.DeviceConf, src frame.Source) (output.Device, error) {
	kind, err := output.ParseKind(c.Kind)
	if err != nil {
		return nil, err
	}
	res := output.NewResolution(c.Name, src, c.Width, c.Height, frame.Orientation{
		Rotate: c.Rotate,
		FlipX:  c.FlipX,
		FlipY:  c.FlipY,
	})

	if kind == output.ArtNet {
		return artnet.NewDevice(log, res, c.IP, c.ArtNetPort), nil
	}

	pc, err := panelConfig(kind, c)
	if err != nil {
		return nil, err
	}
	return panel.Open(log, res, pc, dialer(log, kind, c))
}

func panelConfig(kind output.Kind, c config.DeviceConf) (panel.Config, error) {
	cf, err := codec.ParseColorFormat(c.ColorFormat)
	if err != nil {
		return panel.Config{}, err
	}
	pc := panel.Config{
		Kind:         kind,
		ColorFormat:  cf,
		Corrections:  map[byte]codec.Adjust{},
		PingAttempts: c.PingAttempts,
	}
	for _, s := range c.PanelFormats {
		f, err := codec.ParseColorFormat(s)
		if err != nil {
			return panel.Config{}, err
		}
		pc.PanelFormats = append(pc.PanelFormats, f)
	}
	for _, corr := range c.Corrections {
		pc.Corrections[byte(corr.Offset)] = codec.AdjustPercent(corr.R, corr.G, corr.B)
	}
	return pc, nil
}

func dialer(log logger.Logger, kind output.Kind, c config.DeviceConf) func() (panel.Transport, error) {
	return func() (panel.Transport, error) {
		var (
			t   panel.Transport
			err error
		)
		switch kind {
		case output.Serial:
			t, err = link.OpenSerial(log, c.PortName, c.Baud, c.AckTimeout.Duration)
		case output.TCP:
			t, err = link.DialTCP(log, c.PortName, c.DialTimeout.Duration, c.AckTimeout.Duration)
		case output.SPI:
			t, err = link.OpenSPI(log, c.PortName, c.SPIHz, c.AckTimeout.Duration)
		default:
			return nil, fmt.Errorf("%s is not a panel link", kind)
		}
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}
