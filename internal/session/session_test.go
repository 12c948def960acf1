package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NowakAdmin/BoardConfigurator/internal/serialport/serialporttest"
)

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *lineRecorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

func newTestSession(t *testing.T, ports ...*serialporttest.Port) (*Session, *serialporttest.Opener, *lineRecorder) {
	t.Helper()

	opener := serialporttest.NewOpener(ports...)
	rec := &lineRecorder{}
	s := New(Options{
		Opener:      opener.Open,
		ReadTimeout: 5 * time.Millisecond,
		OnLine:      rec.add,
	}, zerolog.New(zerolog.NewTestWriter(t)))

	t.Cleanup(func() {
		_, _ = s.Disconnect()
	})
	return s, opener, rec
}

func TestSendWithoutConnection(t *testing.T) {
	s, _, _ := newTestSession(t)

	err := s.Send([]byte(`{"a":"b"}`))

	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Nil(t, s.LastPayload())
}

func TestConnectFailure(t *testing.T) {
	s, opener, _ := newTestSession(t)
	opener.OpenErr = errors.New("device busy")

	err := s.Connect("COM9", 115200)

	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, "COM9", connErr.Port)
	assert.Contains(t, err.Error(), "device busy")
	assert.False(t, s.Connected())
}

func TestConnectIsIdempotent(t *testing.T) {
	port := serialporttest.New()
	s, opener, _ := newTestSession(t, port, serialporttest.New())

	require.NoError(t, s.Connect("COM3", 115200))
	require.NoError(t, s.Connect("COM4", 9600))

	assert.Equal(t, 1, opener.Opened())
	assert.Equal(t, "COM3", s.PortName())
	assert.Equal(t, 115200, port.Baud)
}

func TestSendAppendsSingleNewline(t *testing.T) {
	port := serialporttest.New()
	s, _, _ := newTestSession(t, port)
	require.NoError(t, s.Connect("COM3", 115200))

	require.NoError(t, s.Send([]byte(`{"a":"b"}`)))
	require.NoError(t, s.Send([]byte("second\n")))

	assert.Equal(t, []string{"{\"a\":\"b\"}\n", "second\n"}, port.Writes())
	assert.Equal(t, []byte("second"), s.LastPayload())
}

func TestWriteFailureKeepsSession(t *testing.T) {
	port := serialporttest.New()
	s, _, _ := newTestSession(t, port)
	require.NoError(t, s.Connect("COM3", 115200))

	port.FailWrites(errors.New("i/o error"))
	err := s.Send([]byte("x"))

	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, "write", connErr.Op)
	assert.True(t, s.Connected())

	port.FailWrites(nil)
	assert.NoError(t, s.Send([]byte("y")))
}

func TestReceiveSplitsLines(t *testing.T) {
	port := serialporttest.New()
	s, _, rec := newTestSession(t, port)
	require.NoError(t, s.Connect("COM3", 115200))

	port.Feed("Success\r\nError pars")
	port.Feed("ing JSON\n\n   \n")
	port.Feed("\xffUART\xfe overflow\n")

	assert.Eventually(t, func() bool {
		return len(rec.get()) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Success", "Error parsing JSON", "UART overflow"}, rec.get())
}

func TestSentinelResendsLastPayload(t *testing.T) {
	port := serialporttest.New()
	s, _, rec := newTestSession(t, port)
	require.NoError(t, s.Connect("COM3", 115200))

	line := `{"SSID":"net","crc32":"0BADF00D"}`
	require.NoError(t, s.Send([]byte(line)))

	port.Feed(Sentinel + "\n")

	assert.Eventually(t, func() bool {
		return len(port.Writes()) == 2
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	writes := port.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, writes[0], writes[1])
	assert.Equal(t, line+"\n", writes[1])
	assert.Equal(t, int64(1), s.Resends())
	assert.Equal(t, []string{Sentinel}, rec.get())
}

func TestSentinelWithoutPayload(t *testing.T) {
	port := serialporttest.New()
	s, _, rec := newTestSession(t, port)
	require.NoError(t, s.Connect("COM3", 115200))

	port.Feed("CRC ERROR\n")

	assert.Eventually(t, func() bool {
		return len(rec.get()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, port.Writes())
	assert.Zero(t, s.Resends())
}

func TestDisconnectTwice(t *testing.T) {
	port := serialporttest.New()
	s, _, _ := newTestSession(t, port)
	require.NoError(t, s.Connect("COM3", 115200))

	closed, err := s.Disconnect()
	require.NoError(t, err)
	assert.True(t, closed)
	assert.True(t, port.Closed())

	closed, err = s.Disconnect()
	require.NoError(t, err)
	assert.False(t, closed)
	assert.False(t, s.Connected())
	assert.Empty(t, s.PortName())
}

func TestReconnectAfterDisconnect(t *testing.T) {
	first, second := serialporttest.New(), serialporttest.New()
	s, opener, _ := newTestSession(t, first, second)

	require.NoError(t, s.Connect("COM3", 115200))
	_, err := s.Disconnect()
	require.NoError(t, err)

	require.NoError(t, s.Connect("COM5", 115200))
	assert.Equal(t, 2, opener.Opened())
	assert.Equal(t, "COM5", second.Name)

	require.NoError(t, s.Send([]byte("hi")))
	assert.Equal(t, []string{"hi\n"}, second.Writes())
}

func TestPortClosedUnderReader(t *testing.T) {
	port := serialporttest.New()
	s, _, _ := newTestSession(t, port)
	require.NoError(t, s.Connect("COM3", 115200))

	require.NoError(t, port.Close())

	assert.Eventually(t, func() bool {
		return !s.Connected()
	}, time.Second, 5*time.Millisecond)

	closed, err := s.Disconnect()
	assert.NoError(t, err)
	assert.False(t, closed)
}

func TestReadErrorKeepsReceiving(t *testing.T) {
	port := serialporttest.New()
	port.FailRead(errors.New("framing error"))
	port.FailRead(errors.New("parity error"))
	s, _, rec := newTestSession(t, port)
	require.NoError(t, s.Connect("COM3", 115200))

	port.Feed("Success\n")

	assert.Eventually(t, func() bool {
		return len(rec.get()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Success"}, rec.get())
	assert.True(t, s.Connected())
}
