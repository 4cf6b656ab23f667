package codec

import (
	"bytes"
	"errors"
	"testing"

	"p4ctl/util"
)

func TestEncodeMatchPromotion(t *testing.T) {
	tests := []struct {
		name      string
		spec      MatchSpec
		value     interface{}
		wantValue []byte
		wantMask  []byte
		wantHigh  []byte
		wantPlen  int32
	}{
		{"exact", MatchSpec{Name: "port", Bitwidth: 9, Kind: MatchExact}, 3, []byte{0, 3}, nil, nil, 0},
		{"exact string", MatchSpec{Name: "port", Bitwidth: 9, Kind: MatchExact}, "3", []byte{0, 3}, nil, nil, 0},
		{"lpm full", MatchSpec{Name: "dst", Bitwidth: 32, Kind: MatchLPM}, "10.0.0.1", []byte{10, 0, 0, 1}, nil, nil, 32},
		{"ternary full", MatchSpec{Name: "proto", Bitwidth: 8, Kind: MatchTernary}, 6, []byte{6}, []byte{0xff}, nil, 0},
		{"ternary 9 bit", MatchSpec{Name: "port", Bitwidth: 9, Kind: MatchTernary}, 260, []byte{1, 4}, []byte{1, 0xff}, nil, 0},
		{"range point", MatchSpec{Name: "l4", Bitwidth: 16, Kind: MatchRange}, 80, []byte{0, 80}, nil, []byte{0, 80}, 0},
		{"valid", MatchSpec{Name: "v", Bitwidth: 1, Kind: MatchValid}, true, []byte{1}, nil, nil, 0},
		{"valid string", MatchSpec{Name: "v", Bitwidth: 1, Kind: MatchValid}, "false", []byte{0}, nil, nil, 0},
		{"optional", MatchSpec{Name: "vlan", Bitwidth: 12, Kind: MatchOptional}, 100, []byte{0, 100}, nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeMatch(tt.spec, tt.value)
			if err != nil {
				t.Fatal(err)
			}
			if got.Omit {
				t.Fatal("unexpected omit")
			}
			if !bytes.Equal(got.Value, tt.wantValue) {
				t.Errorf("value = %x, want %x", got.Value, tt.wantValue)
			}
			if !bytes.Equal(got.Mask, tt.wantMask) {
				t.Errorf("mask = %x, want %x", got.Mask, tt.wantMask)
			}
			if !bytes.Equal(got.High, tt.wantHigh) {
				t.Errorf("high = %x, want %x", got.High, tt.wantHigh)
			}
			if got.PrefixLen != tt.wantPlen {
				t.Errorf("prefix len = %d, want %d", got.PrefixLen, tt.wantPlen)
			}
			if got.Name != tt.spec.Name || got.Kind != tt.spec.Kind {
				t.Errorf("field identity lost: %+v", got)
			}
		})
	}
}

func TestEncodeMatchLPMMasksHostBits(t *testing.T) {
	spec := MatchSpec{Name: "dst", Bitwidth: 32, Kind: MatchLPM}
	got, err := EncodeMatch(spec, "10.1.2.3/16")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Value, []byte{10, 1, 0, 0}) || got.PrefixLen != 16 {
		t.Errorf("got %x/%d", got.Value, got.PrefixLen)
	}

	got, err = EncodeMatch(spec, LPM{Value: "10.1.255.3", PrefixLen: 20})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Value, []byte{10, 1, 0xf0, 0}) {
		t.Errorf("got %x", got.Value)
	}

	// 9 bit field in 2 bytes, prefix 4 keeps the top 4 of the 9 bits
	got, err = EncodeMatch(MatchSpec{Name: "p", Bitwidth: 9, Kind: MatchLPM}, LPM{Value: 0x1ff, PrefixLen: 4})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Value, []byte{0x01, 0xe0}) {
		t.Errorf("got %x", got.Value)
	}

	got, err = EncodeMatch(spec, "0.0.0.0/0")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Omit {
		t.Error("/0 should be omitted")
	}

	if _, err := EncodeMatch(spec, "10.0.0.0/33"); !errors.Is(err, util.ErrMatchKeyInvalid) {
		t.Errorf("prefix 33 error = %v", err)
	}
}

func TestEncodeMatchTernary(t *testing.T) {
	spec := MatchSpec{Name: "hdr.ipv4.dst", Bitwidth: 32, Kind: MatchTernary}

	got, err := EncodeMatch(spec, "10.0.0.7&&&255.255.255.0")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Value, []byte{10, 0, 0, 0}) || !bytes.Equal(got.Mask, []byte{255, 255, 255, 0}) {
		t.Errorf("got %x&&&%x", got.Value, got.Mask)
	}

	got, err = EncodeMatch(spec, Ternary{Value: 5, Mask: 0})
	if err != nil {
		t.Fatal(err)
	}
	if !got.Omit {
		t.Error("zero mask should be omitted")
	}

	// an IPv4 literal keeps 4 bytes, a MAC keeps 6
	wide := MatchSpec{Name: "addr", Bitwidth: 48, Kind: MatchTernary}
	_, err = EncodeMatch(wide, "10.0.0.1&&&00:00:ff:ff:ff:ff")
	if !errors.Is(err, util.ErrMatchKeyInvalid) {
		t.Fatalf("mask length mismatch error = %v", err)
	}
	var mke *util.MatchKeyError
	if !errors.As(err, &mke) || mke.Field != "addr" {
		t.Errorf("error should name the field: %v", err)
	}

	if _, err := EncodeMatch(spec, "1&&&2&&&3"); !errors.Is(err, util.ErrMatchKeyInvalid) {
		t.Errorf("double separator error = %v", err)
	}
}

func TestEncodeMatchRange(t *testing.T) {
	spec := MatchSpec{Name: "l4_dst", Bitwidth: 16, Kind: MatchRange}

	got, err := EncodeMatch(spec, "1000->2000")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Value, []byte{0x03, 0xe8}) || !bytes.Equal(got.High, []byte{0x07, 0xd0}) {
		t.Errorf("got %x->%x", got.Value, got.High)
	}

	_, err = EncodeMatch(spec, Range{Low: 2000, High: 1000})
	if !errors.Is(err, util.ErrMatchKeyInvalid) {
		t.Errorf("start > end error = %v", err)
	}

	got, err = EncodeMatch(spec, "0->0xffff")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Omit {
		t.Error("full range should be omitted")
	}
}

func TestEncodeMatchKindMismatch(t *testing.T) {
	exact := MatchSpec{Name: "port", Bitwidth: 9, Kind: MatchExact}
	for _, v := range []interface{}{LPM{Value: 1, PrefixLen: 9}, Ternary{Value: 1, Mask: 1}, Range{Low: 1, High: 2}, Valid(true)} {
		if _, err := EncodeMatch(exact, v); !errors.Is(err, util.ErrMatchKeyInvalid) {
			t.Errorf("EncodeMatch(exact, %#v) error = %v", v, err)
		}
	}
}

func TestEncodeMatchValueErrorsCarryField(t *testing.T) {
	spec := MatchSpec{Name: "egress_port", Bitwidth: 9, Kind: MatchExact}
	_, err := EncodeMatch(spec, 512)
	var ve *util.ValueError
	if !errors.As(err, &ve) {
		t.Fatalf("error = %v, want ValueError", err)
	}
	if ve.Field != "egress_port" {
		t.Errorf("field = %q", ve.Field)
	}
}

func TestParseMatch(t *testing.T) {
	tests := []struct {
		kind MatchKind
		in   string
		want interface{}
	}{
		{MatchLPM, "10.0.0.0/8", LPM{Value: "10.0.0.0", PrefixLen: 8}},
		{MatchLPM, "10.0.0.0", plain("10.0.0.0")},
		{MatchTernary, "1&&&3", Ternary{Value: "1", Mask: "3"}},
		{MatchRange, "5->9", Range{Low: "5", High: "9"}},
		{MatchValid, "1", Valid(true)},
		{MatchExact, "a/b", plain("a/b")},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String()+" "+tt.in, func(t *testing.T) {
			got, err := ParseMatch(tt.kind, tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("ParseMatch(%s, %q) = %#v, want %#v", tt.kind, tt.in, got, tt.want)
			}
		})
	}

	if _, err := ParseMatch(MatchLPM, "10.0.0.0/x"); !errors.Is(err, util.ErrMatchKeyInvalid) {
		t.Errorf("bad prefix error = %v", err)
	}
	if _, err := ParseMatch(MatchValid, "maybe"); !errors.Is(err, util.ErrMatchKeyInvalid) {
		t.Errorf("bad valid error = %v", err)
	}
}

func TestNeedsPriority(t *testing.T) {
	for k, want := range map[MatchKind]bool{
		MatchExact: false, MatchLPM: false, MatchValid: false,
		MatchTernary: true, MatchRange: true, MatchOptional: true,
	} {
		if k.NeedsPriority() != want {
			t.Errorf("%s.NeedsPriority() = %v", k, !want)
		}
	}
}
