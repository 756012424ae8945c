package protocol

import "fmt"

// Checksum returns the additive checksum of data: the sum of all byte
// values modulo 65536.
func Checksum(data []byte) uint16 {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	return sum
}

// ChecksumString is Checksum over the bytes of s.
func ChecksumString(s string) uint16 {
	return Checksum([]byte(s))
}

func hex2(v int) string {
	return fmt.Sprintf("%02X", byte(v))
}

func hex4(v uint16) string {
	return fmt.Sprintf("%04X", v)
}
