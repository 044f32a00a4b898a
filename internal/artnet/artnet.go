package artnet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/Haba1234/go-artnet"
	"github.com/Haba1234/go-artnet/packet"

	"matrixout/internal/codec"
	"matrixout/internal/logger"
	"matrixout/internal/output"
)

// Device is an output that unicasts a frame as ArtDMX packets (DMX over UDP/IP).
type Device struct {
	output.Resolution

	logger      logger.Logger
	sender      sender
	target      *net.UDPAddr
	local       net.IP
	universes   []UniverseRange
	initialized bool

	sequence  atomic.Uint64
	sent      atomic.Uint64
	failed    atomic.Uint64
	closeOnce sync.Once
}

var _ output.Device = (*Device)(nil)

// sender delivers a single packet. Implementations must not retry.
type sender interface {
	Send(p *packet.ArtDMXPacket) error
	Close() error
}

type udpSender struct {
	conn *net.UDPConn
}

func (s *udpSender) Send(p *packet.ArtDMXPacket) error {
	b, err := p.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal ArtDMX: %w", err)
	}
	_, err = s.conn.Write(b)
	return err
}

func (s *udpSender) Close() error {
	return s.conn.Close()
}

// NewDevice opens an ArtNet output towards ip:port. It never fails: when the
// target cannot be resolved or the socket cannot be opened the device is
// returned disabled and Update does nothing.
func NewDevice(log logger.Logger, res output.Resolution, ip string, port int) *Device {
	d := &Device{
		Resolution: res,
		logger:     log,
		universes:  Universes(res.Pixels()),
	}
	l := log.With(logger.Fields{"module": "art-net", "device": res.Name})

	addr, err := ResolveTarget(ip, port)
	if err != nil {
		l.Warnf("failed to initialize ArtNet output: %v", err)
		return d
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		l.Warnf("failed to initialize ArtNet output: open socket: %v", err)
		return d
	}

	local, err := FindLocalIP(addr.IP)
	switch {
	case err != nil:
		l.Warnf("failed to list local interfaces: %v", err)
	case local == nil:
		l.Infof("no local interface in the network of %s, packets go through the gateway", addr.IP)
	default:
		l.Infof("local interface IP: %s", local)
	}
	d.local = local

	d.sender = &udpSender{conn: conn}
	d.target = addr
	d.initialized = true
	l.Infof("ArtNet device initialized at %s, using %d universe(s) and %d pixels",
		addr, len(d.universes), res.Pixels())
	return d
}

func newDeviceWithSender(log logger.Logger, res output.Resolution, s sender) *Device {
	return &Device{
		Resolution:  res,
		logger:      log,
		sender:      s,
		universes:   Universes(res.Pixels()),
		initialized: s != nil,
	}
}

// Initialized reports whether construction succeeded.
func (d *Device) Initialized() bool {
	return d.initialized
}

// UniverseRanges returns the universe assignment computed at construction.
func (d *Device) UniverseRanges() []UniverseRange {
	return append([]UniverseRange(nil), d.universes...)
}

// Update sends the current frame, one packet per universe in ascending
// universe order. A failed packet does not stop the following ones.
func (d *Device) Update() error {
	if !d.initialized {
		return nil
	}

	data := codec.ToRGB24(d.TransformedBuffer())
	var errs []error
	for _, u := range d.universes {
		if err := d.sendUniverse(u.Universe, data[u.Start*3:u.End*3]); err != nil {
			d.failed.Add(1)
			errs = append(errs, fmt.Errorf("universe %d: %w", u.Universe, err))
			continue
		}
		d.sent.Add(1)
	}
	if len(errs) > 0 {
		d.logger.With(logger.Fields{"module": "art-net", "device": d.Name}).
			Debugf("DMX. %d of %d packets failed", len(errs), len(d.universes))
	}
	return errors.Join(errs...)
}

func (d *Device) sendUniverse(universe uint16, data []byte) error {
	return d.sender.Send(newDMXPacket(universe, d.nextSequence(), data))
}

// nextSequence returns the running packet counter modulo 255.
func (d *Device) nextSequence() uint8 {
	return uint8((d.sequence.Add(1) - 1) % 255)
}

// Close stops the network client.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.initialized && d.sender != nil {
			err = d.sender.Close()
		}
	})
	return err
}

// LocalIP is the address of the interface sharing a network with the
// target, nil when packets leave through a gateway.
func (d *Device) LocalIP() net.IP {
	return d.local
}

// Stats reports the packets sent and failed since the device was opened.
func (d *Device) Stats() output.Stats {
	return output.Stats{
		Name:        d.Name,
		Kind:        output.ArtNet.String(),
		Initialized: d.initialized,
		Sent:        d.sent.Load(),
		Errors:      d.failed.Load(),
	}
}

func newDMXPacket(universe uint16, seq uint8, data []byte) *packet.ArtDMXPacket {
	addr := universeToAddress(universe)

	p := packet.NewArtDMXPacket()
	p.Sequence = seq
	p.Net = addr.Net
	p.SubUni = addr.SubUni
	// DMX frames carry an even number of channels.
	p.Length = uint16(len(data) + len(data)%2)
	copy(p.Data[:], data)
	return p
}

// universeToAddress converts a dmx universe to art-net address
// universe: старший байт - Net, младший байт - SubUni (subnet 0 for universes below 16).
func universeToAddress(universe uint16) artnet.Address {
	v := make([]uint8, 2)
	binary.BigEndian.PutUint16(v, universe)

	return artnet.Address{
		Net:    v[0],
		SubUni: v[1],
	}
}
