// Package simulator answers SolarMax requests the way an inverter does,
// from an in-memory register map.
package simulator

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"

	"solarmax-monitor/internal/inverter"
	"solarmax-monitor/internal/protocol"

	"go.uber.org/zap"
)

// maxRequestLen bounds a request frame; the length field is one byte.
const maxRequestLen = 0xFF

// DefaultRegisters are the register values of a small residential
// installation producing about 3 kW.
func DefaultRegisters(address int) map[string]string {
	return map[string]string{
		"ADR": fmt.Sprintf("%X", byte(address)),
		"TYP": "4E34",
		"SWV": "0032",
		"BDN": "0FA0",
		"KHR": "5E74",
		"KDY": "7B",
		"KLD": "A2",
		"KMT": "0154",
		"KLM": "0201",
		"KYR": "0960",
		"KLY": "1194",
		"KT0": "3A98",
		"UDC": "0DAC",
		"UL1": "08FC",
		"IDC": "0352",
		"IL1": "0514",
		"PAC": "1770",
		"PIN": "23F0",
		"PRL": "41",
		"CAC": "0C1C",
		"TKK": "2A",
		"TNF": "1388",
		"SYS": "4E28",
	}
}

type Device struct {
	Address int

	logger *zap.Logger

	mu        sync.RWMutex
	registers map[string]string

	ln     net.Listener
	wg     sync.WaitGroup
	conns  map[net.Conn]struct{}
	closed bool
}

func NewDevice(address int, logger *zap.Logger) *Device {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Device{
		Address:   address,
		logger:    logger,
		registers: DefaultRegisters(address),
		conns:     make(map[net.Conn]struct{}),
	}
}

// Set stores the raw hex value returned for mnemonic.
func (d *Device) Set(mnemonic, hexValue string) {
	d.mu.Lock()
	d.registers[mnemonic] = hexValue
	d.mu.Unlock()
}

// SetValue stores the register behind code so that it decodes to v.
func (d *Device) SetValue(code int, v inverter.Value) error {
	cmd, err := inverter.Lookup(code)
	if err != nil {
		return err
	}
	raw, err := cmd.Scale.Encode(v)
	if err != nil {
		return err
	}
	d.Set(cmd.Mnemonic, raw)
	return nil
}

func (d *Device) Register(mnemonic string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.registers[mnemonic]
	return v, ok
}

// Listen binds the device to addr. Use Serve to start answering.
func (d *Device) Listen(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	d.ln = ln
	return ln.Addr(), nil
}

// Serve accepts connections until Close is called.
func (d *Device) Serve() error {
	if d.ln == nil {
		return errors.New("simulator: not listening")
	}
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		// Registration and wg.Add happen under mu so Close either sees the
		// connection or Serve sees closed.
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			conn.Close()
			return nil
		}
		d.conns[conn] = struct{}{}
		d.wg.Add(1)
		d.mu.Unlock()

		go func() {
			defer d.wg.Done()
			d.handle(conn)
		}()
	}
}

// Close stops the listener, drops open connections and waits for their
// handlers to return.
func (d *Device) Close() error {
	var err error
	if d.ln != nil {
		err = d.ln.Close()
	}
	d.mu.Lock()
	d.closed = true
	for c := range d.conns {
		c.Close()
	}
	d.mu.Unlock()
	d.wg.Wait()
	return err
}

func (d *Device) handle(conn net.Conn) {
	defer func() {
		conn.Close()
		d.mu.Lock()
		delete(d.conns, conn)
		d.mu.Unlock()
	}()

	log := d.logger.With(zap.String("remote", conn.RemoteAddr().String()))
	log.Debug("client connected")

	r := bufio.NewReaderSize(conn, maxRequestLen)
	for {
		frame, err := r.ReadSlice('}')
		if err != nil {
			log.Debug("client disconnected", zap.Error(err))
			return
		}

		resp, err := d.answer(frame)
		if err != nil {
			log.Warn("dropping client", zap.ByteString("frame", frame), zap.Error(err))
			return
		}
		if resp == nil {
			continue
		}
		if _, err := conn.Write(resp); err != nil {
			log.Debug("write failed", zap.Error(err))
			return
		}
	}
}

// answer returns the response to a request frame, or nil when the request
// is addressed to another device.
func (d *Device) answer(frame []byte) ([]byte, error) {
	req, err := protocol.ParseRequest(frame)
	if err != nil {
		return nil, err
	}
	if req.Address != int(byte(d.Address)) {
		return nil, nil
	}
	if len(req.Mnemonics) != 1 {
		return nil, fmt.Errorf("batched requests are not simulated: %v", req.Mnemonics)
	}

	m := req.Mnemonics[0]
	if _, ok := inverter.ByMnemonic(m); !ok {
		return nil, fmt.Errorf("unknown mnemonic %q", m)
	}
	v, ok := d.Register(m)
	if !ok {
		v = "0"
	}
	return protocol.BuildResponse(d.Address, m, v), nil
}
