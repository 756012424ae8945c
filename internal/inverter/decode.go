package inverter

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ScaleKind selects how a raw hex register value is turned into a Value.
type ScaleKind int

const (
	HexInt ScaleKind = iota
	HexTag
	ScaledTenth
	ScaledBy
	ScaledDivBy
)

func (k ScaleKind) String() string {
	switch k {
	case HexInt:
		return "hex_int"
	case HexTag:
		return "hex_tag"
	case ScaledTenth:
		return "scaled_tenth"
	case ScaledBy:
		return "scaled_by"
	case ScaledDivBy:
		return "scaled_div_by"
	default:
		return "unknown"
	}
}

// Scale is a decode strategy. Factor is only meaningful for ScaledBy and
// ScaledDivBy.
type Scale struct {
	Kind   ScaleKind
	Factor int64
}

// Int decodes the raw hex as an unsigned integer.
func Int() Scale { return Scale{Kind: HexInt} }

// Tag keeps the raw hex as a "0x"-prefixed string.
func Tag() Scale { return Scale{Kind: HexTag} }

// Tenth decodes hex/10 with one decimal.
func Tenth() Scale { return Scale{Kind: ScaledTenth} }

// Times decodes hex*k.
func Times(k int64) Scale { return Scale{Kind: ScaledBy, Factor: k} }

// DividedBy decodes hex/k.
func DividedBy(k int64) Scale { return Scale{Kind: ScaledDivBy, Factor: k} }

func (s Scale) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s Scale) String() string {
	switch s.Kind {
	case ScaledBy:
		return fmt.Sprintf("x%d", s.Factor)
	case ScaledDivBy:
		return fmt.Sprintf("/%d", s.Factor)
	default:
		return s.Kind.String()
	}
}

// Decode interprets raw, a string of hex digits, according to s.
func (s Scale) Decode(raw string) (Value, error) {
	if s.Kind == HexTag {
		return Value{Kind: TagValue, Tag: "0x" + raw}, nil
	}

	n, err := strconv.ParseUint(raw, 16, 64)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %q: %v", ErrInvalidValue, raw, err)
	}

	switch s.Kind {
	case HexInt:
		if n > math.MaxInt64 {
			return Value{}, fmt.Errorf("%w: %q overflows int64", ErrInvalidValue, raw)
		}
		return Value{Kind: IntValue, Int: int64(n)}, nil
	case ScaledTenth:
		return Value{Kind: FloatValue, Float: float64(n) / 10, precision: 1}, nil
	case ScaledBy:
		if s.Factor <= 0 || n > uint64(math.MaxInt64/s.Factor) {
			return Value{}, fmt.Errorf("%w: %q x%d overflows int64", ErrInvalidValue, raw, s.Factor)
		}
		return Value{Kind: IntValue, Int: int64(n) * s.Factor}, nil
	case ScaledDivBy:
		if s.Factor == 0 {
			return Value{}, fmt.Errorf("%w: division by zero factor", ErrInvalidValue)
		}
		return Value{Kind: FloatValue, Float: float64(n) / float64(s.Factor), precision: -1}, nil
	default:
		return Value{}, fmt.Errorf("%w: unknown scale %d", ErrInvalidValue, s.Kind)
	}
}

// Encode is the inverse of Decode: it returns the hex digits a device would
// send for v. Scaled values are rounded to the nearest register unit.
func (s Scale) Encode(v Value) (string, error) {
	switch s.Kind {
	case HexTag:
		if len(v.Tag) < 3 || v.Tag[:2] != "0x" {
			return "", fmt.Errorf("%w: tag %q", ErrInvalidValue, v.Tag)
		}
		return v.Tag[2:], nil
	case HexInt:
		return hexDigits(uint64(v.Int)), nil
	case ScaledBy:
		if s.Factor == 0 {
			return "", fmt.Errorf("%w: zero factor", ErrInvalidValue)
		}
		return hexDigits(uint64(v.Int / s.Factor)), nil
	case ScaledTenth:
		return hexDigits(uint64(v.Float*10 + 0.5)), nil
	case ScaledDivBy:
		return hexDigits(uint64(v.Float*float64(s.Factor) + 0.5)), nil
	default:
		return "", fmt.Errorf("%w: unknown scale %d", ErrInvalidValue, s.Kind)
	}
}

func hexDigits(n uint64) string {
	return strings.ToUpper(strconv.FormatUint(n, 16))
}

// ValueKind tells which field of a Value holds the reading.
type ValueKind int

const (
	IntValue ValueKind = iota
	FloatValue
	TagValue
)

// Value is a decoded register reading.
type Value struct {
	Kind  ValueKind
	Int   int64
	Float float64
	Tag   string

	precision int
}

// Float64 returns the numeric value; tags report 0.
func (v Value) Float64() float64 {
	switch v.Kind {
	case IntValue:
		return float64(v.Int)
	case FloatValue:
		return v.Float
	default:
		return 0
	}
}

func (v Value) String() string {
	switch v.Kind {
	case IntValue:
		return strconv.FormatInt(v.Int, 10)
	case FloatValue:
		return strconv.FormatFloat(v.Float, 'f', v.precision, 64)
	default:
		return v.Tag
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case IntValue:
		return json.Marshal(v.Int)
	case FloatValue:
		return []byte(v.String()), nil
	default:
		return json.Marshal(v.Tag)
	}
}
