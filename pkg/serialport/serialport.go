// Package serialport owns the USB-serial link to the adapter. Everything
// else in canmon sees it as an io.Reader plus a write path for commands.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

var (
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrLinkLost          = errors.New("link lost")
)

type Config struct {
	Port        string
	Baudrate    int
	StopBits    int
	CANRate     int
	Extended    bool
	Mode        byte
	ReadTimeout time.Duration
	// Debug logs every command written to the adapter
	Debug bool
}

func DefaultConfig() Config {
	return Config{
		Baudrate:    2000000,
		StopBits:    2,
		CANRate:     500000,
		Mode:        ModeNormal,
		ReadTimeout: 50 * time.Millisecond,
	}
}

func (c Config) mode() (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: c.Baudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
	}
	switch c.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 0, 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits: %d", c.StopBits)
	}
	return mode, nil
}

// Port is an open adapter link
type Port struct {
	cfg       Config
	port      serial.Port
	wmu       sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open opens the serial device and configures the adapter. The device is
// released again if any step after opening fails.
func Open(cfg Config) (*Port, error) {
	if strings.TrimSpace(cfg.Port) == "" {
		return nil, fmt.Errorf("%w: no port given", ErrDeviceUnavailable)
	}
	if runtime.GOOS == "windows" {
		cfg.Port = strings.ToUpper(cfg.Port)
	}
	mode, err := cfg.mode()
	if err != nil {
		return nil, err
	}
	cmd, err := settingsCommand(cfg.CANRate, cfg.Extended, cfg.Mode)
	if err != nil {
		return nil, err
	}

	p, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, openError(cfg.Port, err)
	}
	if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to set read timeout on %q: %w", cfg.Port, err)
	}
	port := &Port{cfg: cfg, port: p}
	if err := port.write(cmd); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to configure adapter: %w", err)
	}
	p.ResetInputBuffer()
	return port, nil
}

func openError(name string, err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound, serial.PortBusy, serial.PermissionDenied, serial.InvalidSerialPort:
			return fmt.Errorf("%w: %q: %v", ErrDeviceUnavailable, name, err)
		}
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %q: %v", ErrDeviceUnavailable, name, err)
	}
	return fmt.Errorf("failed to open com port %q: %w", name, err)
}

// WithPort opens the device, runs fn and always releases the device
func WithPort(cfg Config, fn func(*Port) error) (err error) {
	p, err := Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(p)
}

func (p *Port) Name() string {
	return p.cfg.Port
}

func (p *Port) Config() Config {
	return p.cfg
}

// Read blocks for at most the configured read timeout. It returns io.EOF
// once the port has been closed and wraps any other failure in ErrLinkLost.
func (p *Port) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, io.EOF
	}
	n, err := p.port.Read(b)
	if err != nil {
		if p.closed.Load() {
			return n, io.EOF
		}
		return n, fmt.Errorf("%w: failed to read com port: %v", ErrLinkLost, err)
	}
	return n, nil
}

// Write sends a raw command to the adapter
func (p *Port) Write(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, fmt.Errorf("write %q: port closed", p.cfg.Port)
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	n, err := p.port.Write(b)
	if err != nil {
		return n, fmt.Errorf("%w: failed to write to com port: %v", ErrLinkLost, err)
	}
	if p.cfg.Debug {
		log.Printf(">> % X", b)
	}
	return n, nil
}

func (p *Port) write(b []byte) error {
	_, err := p.Write(b)
	return err
}

// SetCANRate reconfigures the adapter bitrate
func (p *Port) SetCANRate(bps int) error {
	cmd, err := settingsCommand(bps, p.cfg.Extended, p.cfg.Mode)
	if err != nil {
		return err
	}
	if err := p.write(cmd); err != nil {
		return err
	}
	p.cfg.CANRate = bps
	return nil
}

// Reset flushes both directions and resends the adapter settings
func (p *Port) Reset() error {
	if err := p.port.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("reset output buffer: %w", err)
	}
	if err := p.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("reset input buffer: %w", err)
	}
	cmd, err := settingsCommand(p.cfg.CANRate, p.cfg.Extended, p.cfg.Mode)
	if err != nil {
		return err
	}
	return p.write(cmd)
}

// Close releases the device, it is safe to call more than once
func (p *Port) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.port.ResetInputBuffer()
		p.port.ResetOutputBuffer()
		if err := p.port.Close(); err != nil {
			p.closeErr = fmt.Errorf("failed to close com port: %w", err)
		}
	})
	return p.closeErr
}

// ListPorts returns the serial ports known to the system
func ListPorts() ([]*enumerator.PortDetails, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	if len(ports) == 0 {
		return nil, errors.New("no serial ports found")
	}
	return ports, nil
}
