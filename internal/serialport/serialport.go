package serialport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.bug.st/serial"
)

const (
	DriverBugst = "bugst"
	DriverTarm  = "tarm"

	DefaultBaudRate    = 115200
	DefaultReadTimeout = 100 * time.Millisecond
)

// Port is an open serial connection. Read returns 0, nil when the read
// timeout expires without data.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens a port; tests replace it with an in-memory fake.
type Opener func(name string, baud int, readTimeout time.Duration) (Port, error)

var ErrUnknownDriver = errors.New("unknown serial driver")

// NewOpener returns the Opener for a configured driver name.
func NewOpener(driver string) (Opener, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverBugst, "go.bug.st":
		return openBugst, nil
	case DriverTarm:
		return openTarm, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}

func openBugst(name string, baud int, readTimeout time.Duration) (Port, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("no serial port selected")
	}

	if baud <= 0 {
		baud = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}

	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	if err = port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, err
	}

	return port, nil
}

// IsClosed reports whether err comes from reading or writing a port that
// has already been closed.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) && portErr.Code() == serial.PortClosed {
		return true
	}

	return errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
