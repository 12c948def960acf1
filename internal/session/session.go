package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/NowakAdmin/BoardConfigurator/internal/serialport"
)

// Sentinel is the line a board sends when the checksum of the last message
// did not match.
const Sentinel = "CRC ERROR"

var ErrNotConnected = errors.New("not connected to the board")

type ConnectionError struct {
	Op   string
	Port string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Port == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

type Options struct {
	Opener      serialport.Opener
	ReadTimeout time.Duration
	// OnLine receives every non-empty line read from the board, on the
	// receive goroutine. It must not block and must not call Disconnect.
	OnLine func(line string)
	// Sentinel overrides the resend trigger; empty means Sentinel.
	Sentinel string
}

// Session owns at most one serial connection and its receive goroutine.
type Session struct {
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	port     serialport.Port
	portName string
	cancel   context.CancelFunc
	done     chan struct{}
	last     []byte

	resends atomic.Int64
}

func New(opts Options, logger zerolog.Logger) *Session {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = serialport.DefaultReadTimeout
	}
	if opts.Sentinel == "" {
		opts.Sentinel = Sentinel
	}
	if opts.OnLine == nil {
		opts.OnLine = func(string) {}
	}

	return &Session{
		opts:   opts,
		logger: logger.With().Str("component", "session").Logger(),
	}
}

// Connect opens the port and starts the receive goroutine. It is a no-op
// while a connection is already open, whatever name is passed.
func (s *Session) Connect(name string, baud int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return nil
	}

	if s.opts.Opener == nil {
		return &ConnectionError{Op: "open", Port: name, Err: errors.New("no serial driver configured")}
	}

	port, err := s.opts.Opener(name, baud, s.opts.ReadTimeout)
	if err != nil {
		return &ConnectionError{Op: "open", Port: name, Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.port = port
	s.portName = name
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		s.receive(ctx, port)
	}()

	s.logger.Info().Str("port", name).Int("baud", baud).Msg("connected to board")
	return nil
}

// Send writes line followed by a single newline.
func (s *Session) Send(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeLocked(line)
}

func (s *Session) writeLocked(line []byte) error {
	if s.port == nil {
		return &ConnectionError{Op: "send", Err: ErrNotConnected}
	}

	body := bytes.TrimRight(line, "\r\n")
	frame := make([]byte, 0, len(body)+1)
	frame = append(frame, body...)
	frame = append(frame, '\n')

	if _, err := s.port.Write(frame); err != nil {
		return &ConnectionError{Op: "write", Port: s.portName, Err: err}
	}

	s.last = frame[:len(body):len(body)]
	s.logger.Debug().Str("port", s.portName).Bytes("line", body).Msg("TX")
	return nil
}

// Disconnect stops the receive goroutine and closes the port. It returns
// false when there was nothing to close.
func (s *Session) Disconnect() (bool, error) {
	s.mu.Lock()
	port, name, cancel, done := s.port, s.portName, s.cancel, s.done
	s.port, s.cancel, s.done = nil, nil, nil
	s.mu.Unlock()

	if port == nil {
		s.logger.Debug().Msg("already disconnected")
		return false, nil
	}

	cancel()
	closeErr := port.Close()
	<-done

	s.logger.Info().Str("port", name).Msg("disconnected from board")
	if closeErr != nil && !serialport.IsClosed(closeErr) {
		return true, &ConnectionError{Op: "close", Port: name, Err: closeErr}
	}
	return true, nil
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

func (s *Session) PortName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return ""
	}
	return s.portName
}

// LastPayload is the last line written successfully, without its newline.
func (s *Session) LastPayload() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.last)
}

// Resends counts sentinel-triggered resends since the session was created.
func (s *Session) Resends() int64 {
	return s.resends.Load()
}

func (s *Session) receive(ctx context.Context, port serialport.Port) {
	buf := make([]byte, 256)
	var pending []byte

	for {
		if ctx.Err() != nil {
			return
		}

		n, err := port.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			pending = s.dispatch(pending)
		}

		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if serialport.IsClosed(err) {
			s.logger.Warn().Err(err).Msg("port closed under the reader")
			s.drop(port)
			return
		}

		s.logger.Warn().Err(err).Msg("serial read error")
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.opts.ReadTimeout):
		}
	}
}

func (s *Session) dispatch(pending []byte) []byte {
	for {
		i := bytes.IndexByte(pending, '\n')
		if i < 0 {
			break
		}
		s.handleLine(pending[:i])
		pending = pending[i+1:]
	}

	if len(pending) == 0 {
		return nil
	}
	return bytes.Clone(pending)
}

func (s *Session) handleLine(raw []byte) {
	line := strings.TrimSpace(strings.ToValidUTF8(string(raw), ""))
	if line == "" {
		return
	}

	s.logger.Debug().Str("line", line).Msg("RX")
	s.opts.OnLine(line)

	if line == s.opts.Sentinel {
		s.resend()
	}
}

// resend repeats the last payload once. There is no limit and no backoff:
// a board that keeps answering with the sentinel keeps getting resends.
func (s *Session) resend() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last == nil {
		s.logger.Warn().Msg("checksum error reported but nothing was sent yet")
		return
	}

	count := s.resends.Add(1)
	if err := s.writeLocked(s.last); err != nil {
		s.logger.Warn().Err(err).Int64("resends", count).Msg("resend failed")
		return
	}

	s.logger.Info().Int64("resends", count).Msg("resent last payload after checksum error")
}

// drop forgets a port that failed underneath the reader so the next
// Connect opens a fresh one.
func (s *Session) drop(port serialport.Port) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != port {
		return
	}

	s.cancel()
	_ = s.port.Close()
	s.port, s.cancel, s.done = nil, nil, nil
}
