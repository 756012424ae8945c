package simulator

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"solarmax-monitor/internal/inverter"
	"solarmax-monitor/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startDevice(t *testing.T, address int) (*Device, int) {
	t.Helper()
	d := NewDevice(address, nil)
	addr, err := d.Listen("127.0.0.1:0")
	require.NoError(t, err)
	go d.Serve()
	t.Cleanup(func() { d.Close() })
	return d, addr.(*net.TCPAddr).Port
}

func newClient(address, port int) *inverter.SolarMax {
	return inverter.NewSolarMax(inverter.Config{
		Host:           "127.0.0.1",
		Port:           port,
		Address:        address,
		ConnectTimeout: time.Second,
		Timeout:        200 * time.Millisecond,
		VerifyChecksum: true,
	})
}

func TestDeviceAnswersQueries(t *testing.T) {
	_, port := startDevice(t, 1)
	s := newClient(1, port)

	v, err := s.Query(inverter.CodeACPower)
	require.NoError(t, err)
	assert.Equal(t, int64(3000000), v.Int)

	v, err = s.Query(inverter.CodeSoftwareVersion)
	require.NoError(t, err)
	assert.Equal(t, "5.0", v.String())

	assert.NoError(t, s.TestConnection())
	assert.False(t, s.IsOpen())
}

func TestDeviceSetValue(t *testing.T) {
	d, port := startDevice(t, 2)
	require.NoError(t, d.SetValue(inverter.CodeACPower, inverter.Value{Kind: inverter.IntValue, Int: 50000}))
	raw, ok := d.Register("PAC")
	require.True(t, ok)
	assert.Equal(t, "64", raw)

	s := newClient(2, port)
	require.NoError(t, s.Open())
	defer s.Close()

	v, err := s.Query(inverter.CodeACPower)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), v.Int)

	v, err = s.Query(inverter.CodeError1Number)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.Int)
}

func TestDeviceIgnoresOtherAddresses(t *testing.T) {
	_, port := startDevice(t, 1)
	s := newClient(5, port)

	_, err := s.Query(inverter.CodeACPower)
	assert.True(t, errors.Is(err, inverter.ErrShortRead), "got %v", err)
}

func TestDeviceAnswer(t *testing.T) {
	d := NewDevice(1, nil)

	resp, err := d.answer(protocol.BuildRequest(1, "TNF"))
	require.NoError(t, err)
	assert.Equal(t, string(protocol.BuildResponse(1, "TNF", "1388")), string(resp))

	resp, err = d.answer(protocol.BuildRequest(2, "TNF"))
	require.NoError(t, err)
	assert.Nil(t, resp)

	_, err = d.answer(protocol.BuildRequest(1, "XYZ"))
	assert.Error(t, err)

	_, err = d.answer(protocol.BuildRequest(1, "PAC", "KDY"))
	assert.Error(t, err)

	_, err = d.answer([]byte("{FB;01;16|64:PAC|0000}"))
	assert.True(t, errors.Is(err, protocol.ErrChecksumMismatch))
}

// pendingListener hands out one queued connection, then reports closed.
type pendingListener struct {
	conns chan net.Conn
}

func (l *pendingListener) Accept() (net.Conn, error) {
	c, ok := <-l.conns
	if !ok {
		return nil, net.ErrClosed
	}
	return c, nil
}

func (l *pendingListener) Close() error   { return nil }
func (l *pendingListener) Addr() net.Addr { return &net.TCPAddr{} }

func TestServeAfterCloseDropsAcceptedConnection(t *testing.T) {
	server, client := net.Pipe()
	ln := &pendingListener{conns: make(chan net.Conn, 1)}
	ln.conns <- server
	close(ln.conns)

	d := NewDevice(1, nil)
	d.ln = ln
	require.NoError(t, d.Close())

	assert.NoError(t, d.Serve())

	client.SetReadDeadline(time.Now().Add(time.Second))
	_, err := client.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestCloseStopsServe(t *testing.T) {
	d := NewDevice(1, nil)
	addr, err := d.Listen("127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- d.Serve() }()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, d.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}
