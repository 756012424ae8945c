package protocol

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// MasterID is the source identifier a master station puts in every request.
	MasterID = "FB"

	// Port is the register-read port prefix carried in every payload.
	Port = "64"

	lengthPlaceholder   = "00"
	checksumPlaceholder = "0000"
)

// BuildRequest returns the request frame asking the device at addr for the
// given mnemonics. The protocol accepts several mnemonics in one request;
// they are joined with ';'.
//
// addr is written as a single byte, so values above 0xFF wrap.
func BuildRequest(addr int, mnemonics ...string) []byte {
	body := Port + ":" + strings.Join(mnemonics, ";")
	return frame(MasterID, hex2(addr), body)
}

// BuildResponse returns the frame a device at addr sends when answering a
// read of mnemonic with hexValue.
func BuildResponse(addr int, mnemonic, hexValue string) []byte {
	body := Port + ":" + mnemonic + "=" + hexValue
	return frame(hex2(addr), MasterID, body)
}

// frame assembles {src;dst;LL|body|CCCC}. LL is the total frame length
// including braces and CCCC the checksum of everything between '{' and the
// last '|'.
func frame(src, dst, body string) []byte {
	provisional := "{" + src + ";" + dst + ";" + lengthPlaceholder + "|" + body + "|" + checksumPlaceholder + "}"
	length := hex2(len(provisional))

	signed := src + ";" + dst + ";" + length + "|" + body + "|"
	return []byte("{" + signed + hex4(ChecksumString(signed)) + "}")
}

// Request is a decoded master request, as seen by a device.
type Request struct {
	Address   int
	Length    int
	Mnemonics []string
	Checksum  uint16
}

var requestPattern = regexp.MustCompile(`^\{FB;([0-9A-F]{2});([0-9A-F]{2})\|64:([\w;]+)\|([0-9A-F]{4})\}$`)

// ParseRequest decodes a complete request frame and checks its length and
// checksum fields.
func ParseRequest(b []byte) (Request, error) {
	m := requestPattern.FindSubmatch(b)
	if m == nil {
		return Request{}, fmt.Errorf("%w: %q", ErrMalformedRequest, b)
	}

	addr, _ := strconv.ParseUint(string(m[1]), 16, 8)
	length, _ := strconv.ParseUint(string(m[2]), 16, 8)
	sum, _ := strconv.ParseUint(string(m[4]), 16, 16)

	if int(length) != len(b) {
		return Request{}, fmt.Errorf("%w: length field %d, frame is %d bytes", ErrMalformedRequest, length, len(b))
	}

	signed := b[1 : len(b)-5]
	if got := Checksum(signed); got != uint16(sum) {
		return Request{}, fmt.Errorf("%w: got %04X, frame says %04X", ErrChecksumMismatch, got, sum)
	}

	return Request{
		Address:   int(addr),
		Length:    int(length),
		Mnemonics: strings.Split(string(m[3]), ";"),
		Checksum:  uint16(sum),
	}, nil
}
