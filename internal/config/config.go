package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate for a configuration that cannot drive any device.
var ErrInvalid = errors.New("invalid configuration")

// Device kinds understood by the output layer.
const (
	KindArtNet = "artnet"
	KindSerial = "serial"
	KindTCP    = "tcp"
	KindSPI    = "spi"
)

// panelSize is the edge length of a serial-family panel.
const panelSize = 8

// Config структура конфигурации.
type Config struct {
	Logger  LogConf      `toml:"logger" yaml:"logger"`  // Logger - конфигурация регистратора.
	MQTT    MQTTConf     `toml:"mqtt" yaml:"mqtt"`      // MQTT - публикация состояния устройств.
	Render  RenderConf   `toml:"render" yaml:"render"`  // Render - параметры цикла отрисовки.
	Devices []DeviceConf `toml:"device" yaml:"devices"` // Devices - выходные устройства.
}

// LogConf структура конфигурации.
type LogConf struct {
	Level string `toml:"log-level" yaml:"log-level"` // Level - уровень логирования.
}

// MQTTConf структура конфигурации.
type MQTTConf struct {
	Enabled        bool     `toml:"enabled" yaml:"enabled"`
	ClientID       string   `toml:"clientID" yaml:"clientID"`               // ClientID - имя клиента.
	Host           string   `toml:"server" yaml:"server"`                   // Host - адрес MQTT сервера.
	Port           string   `toml:"port" yaml:"port"`                       // Port - порт MQTT сервера.
	User           string   `toml:"user" yaml:"user"`                       // User - логин для подключения к MQTT серверу.
	Password       string   `toml:"password" yaml:"password"`               // Password - пароль для подключения к MQTT серверу.
	Qos            byte     `toml:"qos" yaml:"qos"`                         // Qos - качество обслуживания.
	Topic          string   `toml:"topic" yaml:"topic"`                     // Topic - префикс топиков состояния.
	Interval       Duration `toml:"interval" yaml:"interval"`               // Interval - период публикации.
	ConnectTimeout Duration `toml:"connect-timeout" yaml:"connect-timeout"` // ConnectTimeout - ожидание первого подключения.
}

// RenderConf describes the frame clock and the resolution of the frame source.
type RenderConf struct {
	FPS    int `toml:"fps" yaml:"fps"`
	Width  int `toml:"width" yaml:"width"`
	Height int `toml:"height" yaml:"height"`
}

// DeviceConf describes one output device.
type DeviceConf struct {
	Name   string `toml:"name" yaml:"name"`
	Kind   string `toml:"kind" yaml:"kind"`
	Width  int    `toml:"width" yaml:"width"`
	Height int    `toml:"height" yaml:"height"`

	Rotate int  `toml:"rotate" yaml:"rotate"`
	FlipX  bool `toml:"flip-x" yaml:"flip-x"`
	FlipY  bool `toml:"flip-y" yaml:"flip-y"`

	// ArtNet.
	IP         string `toml:"ip" yaml:"ip"`
	ArtNetPort int    `toml:"artnet-port" yaml:"artnet-port"`

	// Serial family.
	PortName     string       `toml:"port-name" yaml:"port-name"` // /dev/ttyUSB0, host:port or SPI port name.
	Baud         int          `toml:"baud" yaml:"baud"`
	SPIHz        int64        `toml:"spi-hz" yaml:"spi-hz"`
	AckTimeout   Duration     `toml:"ack-timeout" yaml:"ack-timeout"`
	DialTimeout  Duration     `toml:"dial-timeout" yaml:"dial-timeout"`
	PingAttempts int          `toml:"ping-attempts" yaml:"ping-attempts"`
	ColorFormat  string       `toml:"color-format" yaml:"color-format"`
	PanelFormats []string     `toml:"panel-formats" yaml:"panel-formats"`
	Corrections  []Correction `toml:"correction" yaml:"corrections"`
}

// Correction is a per-panel color adjustment in percent of the original channel value.
type Correction struct {
	Offset int `toml:"offset" yaml:"offset"`
	R      int `toml:"r" yaml:"r"`
	G      int `toml:"g" yaml:"g"`
	B      int `toml:"b" yaml:"b"`
}

// Duration is a time.Duration that decodes from strings such as "50ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// NewConfig конструктор.
func NewConfig(path string) (*Config, error) {
	// default values
	cfg := Default()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return cfg, err
		}
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return cfg, err
		}
	}
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

// Default returns the values used for keys missing from the file.
func Default() *Config {
	return &Config{
		Logger: LogConf{Level: "info"},
		MQTT: MQTTConf{
			ClientID:       "matrixout",
			Port:           "1883",
			Topic:          "matrixout/status",
			Interval:       Duration{10 * time.Second},
			ConnectTimeout: Duration{5 * time.Second},
		},
		Render: RenderConf{FPS: 20},
	}
}

func (c *Config) applyDefaults() {
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Name == "" {
			d.Name = fmt.Sprintf("%s-%d", d.Kind, i)
		}
		if d.ArtNetPort == 0 {
			d.ArtNetPort = 6454
		}
		if d.Baud == 0 {
			d.Baud = 115200
		}
		if d.SPIHz == 0 {
			d.SPIHz = 1_000_000
		}
		if d.AckTimeout.Duration == 0 {
			d.AckTimeout.Duration = 50 * time.Millisecond
		}
		if d.DialTimeout.Duration == 0 {
			d.DialTimeout.Duration = 2 * time.Second
		}
		if d.PingAttempts == 0 {
			d.PingAttempts = 3
		}
		if d.ColorFormat == "" {
			d.ColorFormat = "RGB"
		}
	}
	if c.Render.Width == 0 && len(c.Devices) > 0 {
		c.Render.Width, c.Render.Height = c.Devices[0].Width, c.Devices[0].Height
	}
}

// Validate checks the settings that would otherwise fail deep inside a device.
func (c *Config) Validate() error {
	if c.Render.FPS <= 0 {
		return fmt.Errorf("%w: render fps must be positive, got %d", ErrInvalid, c.Render.FPS)
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		return fmt.Errorf("%w: render resolution %dx%d", ErrInvalid, c.Render.Width, c.Render.Height)
	}
	names := map[string]bool{}
	for _, d := range c.Devices {
		if names[d.Name] {
			return fmt.Errorf("%w: duplicate device name %q", ErrInvalid, d.Name)
		}
		names[d.Name] = true
		if err := d.validate(); err != nil {
			return fmt.Errorf("%w: device %q: %v", ErrInvalid, d.Name, err)
		}
	}
	return nil
}

func (d DeviceConf) validate() error {
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("resolution %dx%d", d.Width, d.Height)
	}
	switch d.Rotate {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("rotate must be 0, 90, 180 or 270, got %d", d.Rotate)
	}
	switch d.Kind {
	case KindArtNet:
		if d.IP == "" {
			return errors.New("artnet device needs an ip")
		}
		return nil
	case KindSerial, KindTCP, KindSPI:
		if d.Kind != KindSPI && d.PortName == "" {
			return errors.New("port-name is required")
		}
		if d.Width%panelSize != 0 || d.Height%panelSize != 0 {
			return fmt.Errorf("resolution %dx%d is not a multiple of %d", d.Width, d.Height, panelSize)
		}
		if n := (d.Width / panelSize) * (d.Height / panelSize); n > 256 {
			return fmt.Errorf("%d panels exceed the 256 addressable offsets", n)
		}
		for _, c := range d.Corrections {
			if c.Offset < 0 || c.Offset > 255 {
				return fmt.Errorf("correction offset %d out of range", c.Offset)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown kind %q", d.Kind)
	}
}
