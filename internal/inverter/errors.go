package inverter

import "errors"

var (
	ErrUnknownCommand = errors.New("inverter: unknown command")
	ErrInvalidValue   = errors.New("inverter: invalid register value")
	ErrConnectFailed  = errors.New("inverter: connect failed")
	ErrAlreadyOpen    = errors.New("inverter: connection already open")
	ErrNotOpen        = errors.New("inverter: no open connection")
	ErrWriteFailed    = errors.New("inverter: write failed")
	ErrShortRead      = errors.New("inverter: short read")
)
