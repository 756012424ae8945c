package inverter

import (
	"errors"
	"fmt"
	"time"

	"solarmax-monitor/internal/metrics"
	"solarmax-monitor/internal/protocol"
	"solarmax-monitor/internal/transport"

	"go.uber.org/zap"
)

// Conn is one open byte stream to the device.
type Conn interface {
	Write(p []byte) error
	ReadExact(n int) ([]byte, error)
	Close() error
}

// Dialer opens connections to the device.
type Dialer interface {
	Dial(address string) (Conn, error)
}

type DialFunc func(address string) (Conn, error)

func (f DialFunc) Dial(address string) (Conn, error) {
	return f(address)
}

// TCPDialer adapts a transport dialer to the Dialer interface.
func TCPDialer(d *transport.Dialer) Dialer {
	return DialFunc(func(address string) (Conn, error) {
		conn, err := d.Dial(address)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

type Config struct {
	Host           string
	Port           int
	Address        int
	ConnectTimeout time.Duration
	Timeout        time.Duration
	// VerifyChecksum enables checking the checksum of every response.
	// Devices have been observed in the field only with it disabled.
	VerifyChecksum bool
}

// Reading is the result of one successful query.
type Reading struct {
	Code     int    `json:"code"`
	Mnemonic string `json:"mnemonic"`
	Value    Value  `json:"value"`
	Unit     string `json:"unit,omitempty"`
}

type Option func(*SolarMax)

func WithDialer(d Dialer) Option {
	return func(s *SolarMax) { s.dialer = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *SolarMax) { s.logger = l }
}

func WithMetrics(m *metrics.QueryMetrics) Option {
	return func(s *SolarMax) { s.metrics = m }
}

// SolarMax drives request/response exchanges with a single inverter.
// A SolarMax is not safe for concurrent use: the protocol has no request
// identifier, so responses are matched to requests by order alone.
type SolarMax struct {
	cfg     Config
	dialer  Dialer
	logger  *zap.Logger
	metrics *metrics.QueryMetrics

	conn   Conn
	status map[int]Value
}

func NewSolarMax(cfg Config, opts ...Option) *SolarMax {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = transport.DefaultConnectTimeout
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = transport.DefaultTimeout
	}

	s := &SolarMax{
		cfg:    cfg,
		status: make(map[int]Value),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dialer == nil {
		s.dialer = TCPDialer(transport.NewDialer(cfg.ConnectTimeout, cfg.Timeout))
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

func (s *SolarMax) Config() Config {
	return s.cfg
}

func (s *SolarMax) IsOpen() bool {
	return s.conn != nil
}

// Open connects to the device and keeps the connection for subsequent
// queries until Close.
func (s *SolarMax) Open() error {
	if s.conn != nil {
		return ErrAlreadyOpen
	}

	addr := transport.Address(s.cfg.Host, s.cfg.Port)
	conn, err := s.dialer.Dial(addr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	s.logger.Debug("connection opened", zap.String("addr", addr))
	s.conn = conn
	return nil
}

func (s *SolarMax) Close() error {
	if s.conn == nil {
		return ErrNotOpen
	}

	err := s.conn.Close()
	s.conn = nil
	s.logger.Debug("connection closed")
	if err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

// scoped opens a connection if none is held and returns the function that
// releases it again. The release is a no-op when the connection was
// already open.
func (s *SolarMax) scoped() (func(), error) {
	if s.conn != nil {
		return func() {}, nil
	}
	if err := s.Open(); err != nil {
		return nil, err
	}
	return func() {
		if s.conn == nil {
			return
		}
		if err := s.Close(); err != nil {
			s.logger.Debug("closing scoped connection", zap.Error(err))
		}
	}, nil
}

// Query reads one register. Without an open connection, one is opened for
// the duration of the call and closed before returning.
func (s *SolarMax) Query(code int) (Value, error) {
	cmd, err := Lookup(code)
	if err != nil {
		return Value{}, err
	}

	release, err := s.scoped()
	if err != nil {
		s.observe(cmd, time.Now(), err)
		return Value{}, err
	}
	defer release()

	return s.query(cmd)
}

// QueryMany reads each of codes in order over a single connection and stops
// at the first failure. Unknown codes are rejected before any I/O.
func (s *SolarMax) QueryMany(codes []int) ([]Reading, error) {
	cmds := make([]Command, 0, len(codes))
	for _, code := range codes {
		cmd, err := Lookup(code)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}

	release, err := s.scoped()
	if err != nil {
		return nil, err
	}
	defer release()

	readings := make([]Reading, 0, len(cmds))
	for _, cmd := range cmds {
		v, err := s.query(cmd)
		if err != nil {
			return readings, fmt.Errorf("failed to read %s: %w", cmd.Mnemonic, err)
		}
		readings = append(readings, Reading{Code: cmd.Code, Mnemonic: cmd.Mnemonic, Value: v, Unit: cmd.Unit})
	}
	return readings, nil
}

// TestConnection reads the address register from the device.
func (s *SolarMax) TestConnection() error {
	v, err := s.Query(CodeAddress)
	if err != nil {
		return err
	}
	if v.Int != int64(byte(s.cfg.Address)) {
		return fmt.Errorf("%w: device reports address %d", protocol.ErrAddressMismatch, v.Int)
	}
	return nil
}

func (s *SolarMax) query(cmd Command) (v Value, err error) {
	start := time.Now()
	defer func() {
		// Once a frame went out, any failure short of decoding leaves the
		// stream position unknown.
		if err != nil && !errors.Is(err, ErrInvalidValue) {
			s.drop(err)
		}
		s.observe(cmd, start, err)
	}()

	req := protocol.BuildRequest(s.cfg.Address, cmd.Mnemonic)
	s.logger.Debug("request", zap.ByteString("frame", req))
	if err := s.conn.Write(req); err != nil {
		return Value{}, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	raw, err := s.conn.ReadExact(protocol.HeaderLen)
	if err != nil {
		return Value{}, fmt.Errorf("%w: header: %w", ErrShortRead, err)
	}
	header, err := protocol.ParseHeader(raw)
	if err != nil {
		return Value{}, err
	}
	if err := header.CheckSource(s.cfg.Address); err != nil {
		return Value{}, err
	}

	raw, err = s.conn.ReadExact(header.BodyLen())
	if err != nil {
		return Value{}, fmt.Errorf("%w: body: %w", ErrShortRead, err)
	}
	s.logger.Debug("response", zap.ByteString("body", raw))
	body, err := protocol.ParseBody(raw)
	if err != nil {
		return Value{}, err
	}
	if err := body.CheckMnemonic(cmd.Mnemonic); err != nil {
		return Value{}, err
	}
	if s.cfg.VerifyChecksum {
		if err := body.VerifyChecksum(header); err != nil {
			return Value{}, err
		}
	}

	v, err = cmd.Decode(body.Value)
	if err != nil {
		return Value{}, err
	}
	s.status[cmd.Code] = v
	return v, nil
}

// drop discards the current connection after a failed exchange. The next
// query opens a fresh one.
func (s *SolarMax) drop(cause error) {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("closing broken connection", zap.Error(err))
	}
	s.conn = nil
	s.logger.Debug("connection dropped", zap.Error(cause))
}

func (s *SolarMax) observe(cmd Command, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.Observe(cmd.Mnemonic, resultLabel(err), time.Since(start))
}

// Status returns a copy of the last value read for each code.
func (s *SolarMax) Status() map[int]Value {
	out := make(map[int]Value, len(s.status))
	for k, v := range s.status {
		out[k] = v
	}
	return out
}

// Last returns the last value read for code.
func (s *SolarMax) Last(code int) (Value, bool) {
	v, ok := s.status[code]
	return v, ok
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConnectFailed):
		return "connect_failed"
	case errors.Is(err, ErrWriteFailed):
		return "write_failed"
	case errors.Is(err, ErrShortRead):
		return "short_read"
	case errors.Is(err, protocol.ErrMalformedHeader):
		return "malformed_header"
	case errors.Is(err, protocol.ErrAddressMismatch):
		return "address_mismatch"
	case errors.Is(err, protocol.ErrMalformedBody):
		return "malformed_body"
	case errors.Is(err, protocol.ErrMnemonicMismatch):
		return "mnemonic_mismatch"
	case errors.Is(err, protocol.ErrChecksumMismatch):
		return "checksum_mismatch"
	case errors.Is(err, ErrInvalidValue):
		return "invalid_value"
	default:
		return "error"
	}
}
