package protocol

import (
	"fmt"
	"regexp"
	"strconv"
)

// HeaderLen is the number of bytes read before the frame length is known:
// "{AA;FB;LL".
const HeaderLen = 9

var (
	headerPattern = regexp.MustCompile(`([0-9A-F]{2});FB;([0-9A-F]{2})`)
	bodyPattern   = regexp.MustCompile(`^\|64:(\w{3,4})=([0-9A-F]+)\|([0-9A-F]{4})\}$`)
)

// Header is the fixed-size start of a response frame.
type Header struct {
	Source int
	Length int
	raw    []byte
}

// BodyLen is the number of bytes still to be read after the header.
func (h Header) BodyLen() int {
	return h.Length - HeaderLen
}

// ParseHeader decodes the first HeaderLen bytes of a response.
func ParseHeader(b []byte) (Header, error) {
	m := headerPattern.FindSubmatch(b)
	if m == nil {
		return Header{}, fmt.Errorf("%w: %q", ErrMalformedHeader, b)
	}

	src, _ := strconv.ParseUint(string(m[1]), 16, 8)
	length, _ := strconv.ParseUint(string(m[2]), 16, 8)
	if int(length) <= HeaderLen {
		return Header{}, fmt.Errorf("%w: frame length %d", ErrMalformedHeader, length)
	}

	raw := make([]byte, len(b))
	copy(raw, b)
	return Header{Source: int(src), Length: int(length), raw: raw}, nil
}

// CheckSource fails with ErrAddressMismatch unless the header was sent by addr.
func (h Header) CheckSource(addr int) error {
	if h.Source != int(byte(addr)) {
		return fmt.Errorf("%w: got %02X, want %02X", ErrAddressMismatch, h.Source, byte(addr))
	}
	return nil
}

// Body is the payload part of a response frame.
type Body struct {
	Mnemonic string
	Value    string
	Checksum uint16
	raw      []byte
}

// ParseBody decodes the remaining bytes of a response after the header.
func ParseBody(b []byte) (Body, error) {
	m := bodyPattern.FindSubmatch(b)
	if m == nil {
		return Body{}, fmt.Errorf("%w: %q", ErrMalformedBody, b)
	}

	sum, _ := strconv.ParseUint(string(m[3]), 16, 16)

	raw := make([]byte, len(b))
	copy(raw, b)
	return Body{
		Mnemonic: string(m[1]),
		Value:    string(m[2]),
		Checksum: uint16(sum),
		raw:      raw,
	}, nil
}

// CheckMnemonic fails with ErrMnemonicMismatch unless the body answers mnemonic.
func (b Body) CheckMnemonic(mnemonic string) error {
	if b.Mnemonic != mnemonic {
		return fmt.Errorf("%w: got %s, want %s", ErrMnemonicMismatch, b.Mnemonic, mnemonic)
	}
	return nil
}

// VerifyChecksum recomputes the checksum over the header and body bytes
// between '{' and the last '|' and compares it with the one the device sent.
func (b Body) VerifyChecksum(h Header) error {
	signed := make([]byte, 0, len(h.raw)+len(b.raw))
	head := h.raw
	if len(head) > 0 && head[0] == '{' {
		head = head[1:]
	}
	signed = append(signed, head...)
	signed = append(signed, b.raw[:len(b.raw)-5]...)

	if got := Checksum(signed); got != b.Checksum {
		return fmt.Errorf("%w: got %04X, frame says %04X", ErrChecksumMismatch, got, b.Checksum)
	}
	return nil
}

// ParseResponse decodes a complete response frame. It is the single-buffer
// counterpart of the two-phase header/body read.
func ParseResponse(b []byte) (Header, Body, error) {
	if len(b) < HeaderLen {
		return Header{}, Body{}, fmt.Errorf("%w: %q", ErrMalformedHeader, b)
	}
	h, err := ParseHeader(b[:HeaderLen])
	if err != nil {
		return Header{}, Body{}, err
	}
	if h.Length != len(b) {
		return Header{}, Body{}, fmt.Errorf("%w: length field %d, frame is %d bytes", ErrMalformedBody, h.Length, len(b))
	}
	body, err := ParseBody(b[HeaderLen:])
	if err != nil {
		return Header{}, Body{}, err
	}
	return h, body, nil
}
