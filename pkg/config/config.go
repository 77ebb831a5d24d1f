// Package config loads canmon settings from a TOML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/roffe/canmon/pkg/decoder"
	"github.com/roffe/canmon/pkg/serialport"
)

var ErrUnknownKey = errors.New("unknown config key")

type Config struct {
	Serial  Serial  `toml:"serial"`
	Framing Framing `toml:"framing"`
	Stream  Stream  `toml:"stream"`
	Monitor Monitor `toml:"monitor"`
}

type Serial struct {
	Port        string `toml:"port"`
	Baudrate    int    `toml:"baudrate"`
	StopBits    int    `toml:"stop_bits"`
	CANRate     int    `toml:"can_rate"`
	Extended    bool   `toml:"extended"`
	Mode        string `toml:"mode"`
	ReadTimeout string `toml:"read_timeout"`
	Retries     uint   `toml:"retries"`
}

type Framing struct {
	Marker       byte `toml:"marker"`
	TypeMask     byte `toml:"type_mask"`
	TypeTag      byte `toml:"type_tag"`
	ExtendedBit  byte `toml:"extended_bit"`
	RemoteBit    byte `toml:"remote_bit"`
	ChecksumFrom int  `toml:"checksum_from"`
	MaxCarry     int  `toml:"max_carry"`
}

type Stream struct {
	ChunkSize int `toml:"chunk_size"`
	QueueSize int `toml:"queue_size"`
}

type Monitor struct {
	// MaxRows caps the frames kept in the monitor view, 0 keeps all
	MaxRows int    `toml:"max_rows"`
	Project string `toml:"project"`
}

func Default() Config {
	sc := serialport.DefaultConfig()
	l := decoder.DefaultLayout()
	return Config{
		Serial: Serial{
			Baudrate:    sc.Baudrate,
			StopBits:    sc.StopBits,
			CANRate:     sc.CANRate,
			Mode:        "normal",
			ReadTimeout: sc.ReadTimeout.String(),
			Retries:     3,
		},
		Framing: Framing{
			Marker:       l.Marker,
			TypeMask:     l.TypeMask,
			TypeTag:      l.TypeTag,
			ExtendedBit:  l.ExtendedBit,
			RemoteBit:    l.RemoteBit,
			ChecksumFrom: l.ChecksumFrom,
			MaxCarry:     l.MaxCarry,
		},
		Stream: Stream{
			ChunkSize: 64,
			QueueSize: 1024,
		},
		Monitor: Monitor{
			MaxRows: 5000,
			Project: "canmon.json",
		},
	}
}

// Load reads path on top of Default. Keys the file sets but Config does
// not know are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("load config %s: %w: %s", path, ErrUnknownKey, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.Layout().Validate(); err != nil {
		return err
	}
	if _, err := c.SerialConfig(); err != nil {
		return err
	}
	if c.Stream.ChunkSize <= 0 {
		return fmt.Errorf("stream.chunk_size must be positive, got %d", c.Stream.ChunkSize)
	}
	if c.Stream.QueueSize < 0 {
		return fmt.Errorf("stream.queue_size must not be negative, got %d", c.Stream.QueueSize)
	}
	if c.Monitor.MaxRows < 0 {
		return fmt.Errorf("monitor.max_rows must not be negative, got %d", c.Monitor.MaxRows)
	}
	return nil
}

func (c Config) Layout() decoder.Layout {
	return decoder.Layout{
		Marker:       c.Framing.Marker,
		TypeMask:     c.Framing.TypeMask,
		TypeTag:      c.Framing.TypeTag,
		ExtendedBit:  c.Framing.ExtendedBit,
		RemoteBit:    c.Framing.RemoteBit,
		ChecksumFrom: c.Framing.ChecksumFrom,
		MaxCarry:     c.Framing.MaxCarry,
	}
}

func (c Config) SerialConfig() (serialport.Config, error) {
	mode, err := serialport.ParseMode(c.Serial.Mode)
	if err != nil {
		return serialport.Config{}, err
	}
	timeout, err := time.ParseDuration(strings.TrimSpace(c.Serial.ReadTimeout))
	if err != nil {
		return serialport.Config{}, fmt.Errorf("parse read_timeout: %w", err)
	}
	if c.Serial.StopBits != 1 && c.Serial.StopBits != 2 {
		return serialport.Config{}, fmt.Errorf("invalid stop_bits: %d", c.Serial.StopBits)
	}
	if err := serialport.ValidRate(c.Serial.CANRate); err != nil {
		return serialport.Config{}, fmt.Errorf("invalid can_rate: %w", err)
	}
	return serialport.Config{
		Port:        c.Serial.Port,
		Baudrate:    c.Serial.Baudrate,
		StopBits:    c.Serial.StopBits,
		CANRate:     c.Serial.CANRate,
		Extended:    c.Serial.Extended,
		Mode:        mode,
		ReadTimeout: timeout,
	}, nil
}

// Write renders c as TOML
func (c Config) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
