package codec

import (
	"bytes"
	"errors"
	"math/big"
	"net"
	"testing"

	"p4ctl/util"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, w := range []int{1, 7, 8, 9, 12, 16, 31, 32, 48, 63, 64} {
		values := []uint64{0, 1}
		if w < 64 {
			values = append(values, uint64(1)<<uint(w)-1, uint64(1)<<uint(w-1))
		} else {
			values = append(values, ^uint64(0))
		}
		for _, v := range values {
			b, err := Encode(v, w)
			if err != nil {
				t.Fatalf("Encode(%d, %d): %v", v, w, err)
			}
			if len(b) != ByteWidth(w) {
				t.Errorf("Encode(%d, %d) gave %d bytes, want %d", v, w, len(b), ByteWidth(w))
			}
			got, err := Decode(b, HintUint)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.(uint64) != v {
				t.Errorf("round trip w=%d: got %v, want %d", w, got, v)
			}
		}
	}
}

func TestEncodeWideValues(t *testing.T) {
	v, _ := new(big.Int).SetString("0x0102030405060708090a", 0)
	b, err := Encode(v, 80)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 10 {
		t.Fatalf("len = %d", len(b))
	}
	back, err := Decode(b, HintUint)
	if err != nil {
		t.Fatal(err)
	}
	if back.(*big.Int).Cmp(v) != 0 {
		t.Errorf("got %v, want %v", back, v)
	}

	if _, err := Encode(uint64(5), 72); err != nil {
		t.Errorf("small value into wide field: %v", err)
	}
}

func TestEncodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		width int
	}{
		{"overflow", 512, 9},
		{"negative", -1, 16},
		{"big overflow", big.NewInt(256), 8},
		{"float", 1.5, 32},
		{"int list", []int{1, 2}, 32},
		{"bool list", []bool{true}, 8},
		{"word", "abc", 16},
		{"bare hex digits", "ff", 16},
		{"fraction", "1.5", 32},
		{"partial ipv4", "10.0.1", 32},
		{"no width", 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.value, tt.width)
			if !errors.Is(err, util.ErrValueInvalid) {
				t.Errorf("Encode(%v, %d) error = %v, want ValueError", tt.value, tt.width, err)
			}
		})
	}
}

func TestEncodeLiterals(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		width int
		want  []byte
	}{
		{"ipv4 in 32", "10.0.0.1", 32, []byte{10, 0, 0, 1}},
		{"ipv4 ignores width", "192.168.1.2", 48, []byte{192, 168, 1, 2}},
		{"mac", "00:11:22:aa:bb:cc", 48, []byte{0x00, 0x11, 0x22, 0xaa, 0xbb, 0xcc}},
		{"hex", "0x1ff", 9, []byte{0x01, 0xff}},
		{"decimal", "300", 16, []byte{0x01, 0x2c}},
		{"bool", true, 1, []byte{1}},
		{"raw passthrough", "port-1", 0, []byte("port-1")},
		{"bytes padded", []byte{0x12}, 16, []byte{0x00, 0x12}},
		{"net.IP", net.ParseIP("1.2.3.4"), 32, []byte{1, 2, 3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.value, tt.width)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("got %x, want %x", got, tt.want)
			}
		})
	}

	v6, err := Encode("2001:db8::1", 128)
	if err != nil {
		t.Fatal(err)
	}
	if len(v6) != 16 || v6[0] != 0x20 || v6[15] != 1 {
		t.Errorf("ipv6 encoded as %x", v6)
	}
}

func TestDecodeHints(t *testing.T) {
	if v, _ := Decode([]byte{0, 1}, HintBool); v != true {
		t.Errorf("bool: %v", v)
	}
	if v, _ := Decode([]byte("abc"), HintString); v != "abc" {
		t.Errorf("string: %v", v)
	}
	ip, err := Decode([]byte{10, 0, 0, 1}, HintIPv4)
	if err != nil || !ip.(net.IP).Equal(net.IPv4(10, 0, 0, 1)) {
		t.Errorf("ipv4: %v %v", ip, err)
	}
	mac, err := Decode([]byte{0x11, 0x22, 0x33, 0x44, 0x55}, HintMAC)
	if err != nil || mac.(net.HardwareAddr).String() != "00:11:22:33:44:55" {
		t.Errorf("mac: %v %v", mac, err)
	}
	if _, err := DecodeUint64(bytes.Repeat([]byte{1}, 9)); !errors.Is(err, util.ErrValueInvalid) {
		t.Errorf("DecodeUint64 overflow error = %v", err)
	}
	if v, _ := DecodeUint64(nil); v != 0 {
		t.Errorf("empty decodes to %d", v)
	}
}
