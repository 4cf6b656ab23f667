// Package codec converts typed control-plane values into the fixed-width,
// big-endian byte strings carried on the wire, and back.
package codec

import (
	"bytes"
	"encoding/binary"
	"math/big"
	"net"
	"strings"

	"p4ctl/util"
)

// TypeHint tells Decode how to interpret a returned byte string.
type TypeHint int

const (
	HintUint TypeHint = iota
	HintBool
	HintString
	HintIPv4
	HintMAC
)

func (h TypeHint) String() string {
	switch h {
	case HintBool:
		return "bool"
	case HintString:
		return "string"
	case HintIPv4:
		return "ipv4"
	case HintMAC:
		return "mac"
	default:
		return "uint"
	}
}

// ByteWidth returns ceil(bitwidth/8).
func ByteWidth(bitwidth int) int {
	return (bitwidth + 7) / 8
}

// Encode converts v into a big-endian byte string of ByteWidth(bitwidth)
// bytes. IPv4 and MAC literals keep their natural 4 and 6 byte length.
// A bitwidth of 0 marks a string-typed field: strings and byte slices pass
// through unchanged, numbers are rejected.
func Encode(v interface{}, bitwidth int) ([]byte, error) {
	switch x := v.(type) {
	case bool:
		if x {
			return encodeUint(1, bitwidth, v)
		}
		return encodeUint(0, bitwidth, v)
	case int:
		return encodeInt(int64(x), bitwidth, v)
	case int8:
		return encodeInt(int64(x), bitwidth, v)
	case int16:
		return encodeInt(int64(x), bitwidth, v)
	case int32:
		return encodeInt(int64(x), bitwidth, v)
	case int64:
		return encodeInt(x, bitwidth, v)
	case uint:
		return encodeUint(uint64(x), bitwidth, v)
	case uint8:
		return encodeUint(uint64(x), bitwidth, v)
	case uint16:
		return encodeUint(uint64(x), bitwidth, v)
	case uint32:
		return encodeUint(uint64(x), bitwidth, v)
	case uint64:
		return encodeUint(x, bitwidth, v)
	case *big.Int:
		return encodeBig(x, bitwidth, v)
	case []byte:
		return encodeRaw(x, bitwidth, v)
	case net.IP:
		if ip4 := x.To4(); ip4 != nil {
			return []byte(ip4), nil
		}
		return encodeRaw([]byte(x.To16()), bitwidth, v)
	case net.HardwareAddr:
		return encodeRaw([]byte(x), bitwidth, v)
	case string:
		return encodeString(x, bitwidth)
	case float32, float64, []int, []int64, []uint32, []bool:
		return nil, util.NewValueError("", v, "%T values cannot be carried by a bitstring field", v)
	default:
		return nil, util.NewValueError("", v, "unsupported value type %T", v)
	}
}

func encodeInt(i int64, bitwidth int, orig interface{}) ([]byte, error) {
	if i < 0 {
		return nil, util.NewValueError("", orig, "negative values are not supported")
	}
	return encodeUint(uint64(i), bitwidth, orig)
}

func encodeUint(u uint64, bitwidth int, orig interface{}) ([]byte, error) {
	if bitwidth <= 0 {
		return nil, util.NewValueError("", orig, "field has no bit width")
	}
	if bitwidth < 64 && u>>uint(bitwidth) != 0 {
		return nil, util.NewValueError("", orig, "does not fit in %d bits", bitwidth)
	}
	n := ByteWidth(bitwidth)
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, u)
	if n <= 8 {
		return buf[8-n:], nil
	}
	out := make([]byte, n)
	copy(out[n-8:], buf)
	return out, nil
}

func encodeBig(b *big.Int, bitwidth int, orig interface{}) ([]byte, error) {
	if b.Sign() < 0 {
		return nil, util.NewValueError("", orig, "negative values are not supported")
	}
	if bitwidth <= 0 {
		return nil, util.NewValueError("", orig, "field has no bit width")
	}
	if b.BitLen() > bitwidth {
		return nil, util.NewValueError("", orig, "does not fit in %d bits", bitwidth)
	}
	return b.FillBytes(make([]byte, ByteWidth(bitwidth))), nil
}

func encodeRaw(raw []byte, bitwidth int, orig interface{}) ([]byte, error) {
	if bitwidth <= 0 {
		return append([]byte(nil), raw...), nil
	}
	if new(big.Int).SetBytes(raw).BitLen() > bitwidth {
		return nil, util.NewValueError("", orig, "does not fit in %d bits", bitwidth)
	}
	n := ByteWidth(bitwidth)
	out := make([]byte, n)
	trimmed := bytes.TrimLeft(raw, "\x00")
	copy(out[n-len(trimmed):], trimmed)
	return out, nil
}

// encodeString tries, in order: IPv4 literal, MAC literal, IPv6 literal,
// numeric literal (base prefix honoured). Any other string is an error on a
// bitstring field and raw bytes on a field without a width (string-typed
// translated fields).
func encodeString(s string, bitwidth int) ([]byte, error) {
	if strings.Contains(s, ".") {
		if ip := net.ParseIP(s); ip != nil {
			if ip4 := ip.To4(); ip4 != nil {
				return []byte(ip4), nil
			}
		}
	}
	if strings.Count(s, ":") == 5 {
		if mac, err := net.ParseMAC(s); err == nil && len(mac) == 6 {
			return []byte(mac), nil
		}
	}
	if strings.Contains(s, ":") {
		if ip := net.ParseIP(s); ip != nil {
			return encodeRaw([]byte(ip.To16()), bitwidth, s)
		}
	}
	if bitwidth > 0 {
		if n, ok := new(big.Int).SetString(s, 0); ok {
			return encodeBig(n, bitwidth, s)
		}
		return nil, util.NewValueError("", s, "not an address or number literal, try hex with a 0x prefix")
	}
	return encodeRaw([]byte(s), bitwidth, s)
}

// Decode interprets b according to hint. Unsigned integers of up to 8 bytes
// come back as uint64, wider ones as *big.Int.
func Decode(b []byte, hint TypeHint) (interface{}, error) {
	switch hint {
	case HintBool:
		for _, c := range b {
			if c != 0 {
				return true, nil
			}
		}
		return false, nil
	case HintString:
		return string(b), nil
	case HintIPv4:
		raw, err := leftPad(b, net.IPv4len)
		if err != nil {
			return nil, err
		}
		return net.IPv4(raw[0], raw[1], raw[2], raw[3]).To4(), nil
	case HintMAC:
		raw, err := leftPad(b, 6)
		if err != nil {
			return nil, err
		}
		return net.HardwareAddr(raw), nil
	default:
		trimmed := bytes.TrimLeft(b, "\x00")
		if len(trimmed) <= 8 {
			return DecodeUint64(trimmed)
		}
		return new(big.Int).SetBytes(trimmed), nil
	}
}

// DecodeUint64 reads b as an unsigned big-endian integer.
func DecodeUint64(b []byte) (uint64, error) {
	trimmed := bytes.TrimLeft(b, "\x00")
	if len(trimmed) > 8 {
		return 0, util.NewValueError("", b, "%d bytes overflow uint64", len(trimmed))
	}
	var u uint64
	for _, c := range trimmed {
		u = u<<8 | uint64(c)
	}
	return u, nil
}

func leftPad(b []byte, n int) ([]byte, error) {
	trimmed := bytes.TrimLeft(b, "\x00")
	if len(trimmed) > n {
		return nil, util.NewValueError("", b, "longer than %d bytes", n)
	}
	out := make([]byte, n)
	copy(out[n-len(trimmed):], trimmed)
	return out, nil
}
