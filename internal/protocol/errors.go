package protocol

import "errors"

var (
	ErrMalformedHeader  = errors.New("protocol: malformed response header")
	ErrAddressMismatch  = errors.New("protocol: response source address mismatch")
	ErrMalformedBody    = errors.New("protocol: malformed response body")
	ErrMnemonicMismatch = errors.New("protocol: response mnemonic mismatch")
	ErrChecksumMismatch = errors.New("protocol: checksum mismatch")
	ErrMalformedRequest = errors.New("protocol: malformed request")
)
