package serialport

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tarm/serial"
)

// tarmPort wraps github.com/tarm/serial, whose timeout is fixed at open.
type tarmPort struct {
	port    *serial.Port
	timeout time.Duration
}

func openTarm(name string, baud int, readTimeout time.Duration) (Port, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("no serial port selected")
	}

	if baud <= 0 {
		baud = DefaultBaudRate
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}

	return &tarmPort{port: port, timeout: readTimeout}, nil
}

func (p *tarmPort) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if n == 0 && errors.Is(err, io.EOF) {
		// timeout on posix
		return 0, nil
	}
	return n, err
}

func (p *tarmPort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *tarmPort) Close() error {
	return p.port.Close()
}

func (p *tarmPort) SetReadTimeout(t time.Duration) error {
	if t == p.timeout {
		return nil
	}
	return fmt.Errorf("tarm driver cannot change read timeout after open (have %s)", p.timeout)
}
