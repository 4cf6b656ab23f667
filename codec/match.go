package codec

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"p4ctl/util"
)

// MatchKind is the match type a key field is declared with.
type MatchKind int

const (
	MatchExact MatchKind = iota
	MatchLPM
	MatchTernary
	MatchRange
	MatchValid
	MatchOptional
)

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchLPM:
		return "lpm"
	case MatchTernary:
		return "ternary"
	case MatchRange:
		return "range"
	case MatchValid:
		return "valid"
	case MatchOptional:
		return "optional"
	}
	return fmt.Sprintf("MatchKind(%d)", int(k))
}

// NeedsPriority reports whether entries of a table with this key kind must
// carry a priority.
func (k MatchKind) NeedsPriority() bool {
	return k == MatchTernary || k == MatchRange || k == MatchOptional
}

// Explicit match forms. A plain value passed to EncodeMatch is promoted to
// the form of the field's declared kind.
type (
	Exact struct {
		Value interface{}
	}
	LPM struct {
		Value     interface{}
		PrefixLen int
	}
	Ternary struct {
		Value interface{}
		Mask  interface{}
	}
	Range struct {
		Low  interface{}
		High interface{}
	}
	Valid bool
)

// MatchSpec describes the key field a value is encoded for.
type MatchSpec struct {
	ID       uint32
	Name     string
	Bitwidth int
	Kind     MatchKind
}

// MatchKeyField is an encoded key field. Omit marks a don't-care match that
// must be left out of the entry.
type MatchKeyField struct {
	FieldID   uint32
	Name      string
	Kind      MatchKind
	Value     []byte
	Mask      []byte
	PrefixLen int32
	High      []byte
	Omit      bool
}

// EncodeMatch encodes v for the key field described by spec. Strings in the
// CLI syntaxes understood by ParseMatch are accepted for every kind.
func EncodeMatch(spec MatchSpec, v interface{}) (MatchKeyField, error) {
	if s, ok := v.(string); ok {
		parsed, err := ParseMatch(spec.Kind, s)
		if err != nil {
			return MatchKeyField{}, withField(err, spec.Name)
		}
		v = parsed
	}

	out := MatchKeyField{FieldID: spec.ID, Name: spec.Name, Kind: spec.Kind}
	switch m := v.(type) {
	case Exact:
		if spec.Kind != MatchExact && spec.Kind != MatchOptional {
			return out, kindMismatch(spec, MatchExact)
		}
		val, err := Encode(m.Value, spec.Bitwidth)
		if err != nil {
			return out, withField(err, spec.Name)
		}
		out.Value = val
	case LPM:
		if spec.Kind != MatchLPM {
			return out, kindMismatch(spec, MatchLPM)
		}
		return encodeLPM(spec, m)
	case Ternary:
		if spec.Kind != MatchTernary {
			return out, kindMismatch(spec, MatchTernary)
		}
		return encodeTernary(spec, m)
	case Range:
		if spec.Kind != MatchRange {
			return out, kindMismatch(spec, MatchRange)
		}
		return encodeRange(spec, m)
	case Valid:
		if spec.Kind != MatchValid {
			return out, kindMismatch(spec, MatchValid)
		}
		if m {
			out.Value = []byte{1}
		} else {
			out.Value = []byte{0}
		}
	default:
		promoted, err := promote(spec, v)
		if err != nil {
			return out, withField(err, spec.Name)
		}
		return EncodeMatch(spec, promoted)
	}
	return out, nil
}

// promote wraps a plain value into the full-match form of the field's kind.
func promote(spec MatchSpec, v interface{}) (interface{}, error) {
	if p, ok := v.(plain); ok {
		v = string(p)
	}
	switch spec.Kind {
	case MatchLPM:
		return LPM{Value: v, PrefixLen: spec.Bitwidth}, nil
	case MatchTernary:
		return Ternary{Value: v, Mask: fullMask(spec.Bitwidth)}, nil
	case MatchRange:
		return Range{Low: v, High: v}, nil
	case MatchValid:
		if b, ok := v.(bool); ok {
			return Valid(b), nil
		}
		u, err := Encode(v, 1)
		if err != nil {
			return nil, err
		}
		return Valid(u[0] != 0), nil
	default:
		return Exact{Value: v}, nil
	}
}

func encodeLPM(spec MatchSpec, m LPM) (MatchKeyField, error) {
	out := MatchKeyField{FieldID: spec.ID, Name: spec.Name, Kind: MatchLPM}
	val, err := Encode(m.Value, spec.Bitwidth)
	if err != nil {
		return out, withField(err, spec.Name)
	}
	if m.PrefixLen < 0 || m.PrefixLen > spec.Bitwidth {
		return out, util.NewMatchKeyError(spec.Name, "prefix length %d outside 0..%d", m.PrefixLen, spec.Bitwidth)
	}
	if m.PrefixLen == 0 {
		out.Omit = true
		return out, nil
	}
	// the field occupies the low spec.Bitwidth bits of val
	keep := len(val)*8 - spec.Bitwidth + m.PrefixLen
	for i := range val {
		switch {
		case (i+1)*8 <= keep:
		case i*8 >= keep:
			val[i] = 0
		default:
			val[i] &= 0xff << uint(8-(keep-i*8))
		}
	}
	out.Value = val
	out.PrefixLen = int32(m.PrefixLen)
	return out, nil
}

func encodeTernary(spec MatchSpec, m Ternary) (MatchKeyField, error) {
	out := MatchKeyField{FieldID: spec.ID, Name: spec.Name, Kind: MatchTernary}
	val, err := Encode(m.Value, spec.Bitwidth)
	if err != nil {
		return out, withField(err, spec.Name)
	}
	mask, err := Encode(m.Mask, spec.Bitwidth)
	if err != nil {
		return out, withField(err, spec.Name)
	}
	if len(val) != len(mask) {
		return out, util.NewMatchKeyError(spec.Name, "value is %d bytes but mask is %d bytes", len(val), len(mask))
	}
	if isZero(mask) {
		out.Omit = true
		return out, nil
	}
	for i := range val {
		val[i] &= mask[i]
	}
	out.Value = val
	out.Mask = mask
	return out, nil
}

func encodeRange(spec MatchSpec, m Range) (MatchKeyField, error) {
	out := MatchKeyField{FieldID: spec.ID, Name: spec.Name, Kind: MatchRange}
	low, err := Encode(m.Low, spec.Bitwidth)
	if err != nil {
		return out, withField(err, spec.Name)
	}
	high, err := Encode(m.High, spec.Bitwidth)
	if err != nil {
		return out, withField(err, spec.Name)
	}
	if len(low) != len(high) {
		return out, util.NewMatchKeyError(spec.Name, "start is %d bytes but end is %d bytes", len(low), len(high))
	}
	if bytes.Compare(low, high) > 0 {
		return out, util.NewMatchKeyError(spec.Name, "start %x is greater than end %x", low, high)
	}
	if isZero(low) && bytes.Equal(high, fullMask(spec.Bitwidth)) {
		out.Omit = true
		return out, nil
	}
	out.Value = low
	out.High = high
	return out, nil
}

// ParseMatch understands the runtime CLI syntaxes "prefix/len" (lpm),
// "value&&&mask" (ternary), "low->high" (range) and "0"/"1" (valid). A string
// without the kind's separator is returned unchanged as a plain value.
func ParseMatch(kind MatchKind, s string) (interface{}, error) {
	switch kind {
	case MatchLPM:
		if i := strings.LastIndex(s, "/"); i >= 0 {
			plen, err := strconv.Atoi(s[i+1:])
			if err != nil {
				return nil, util.NewMatchKeyError("", "invalid lpm value %q, use '/' to separate prefix and length", s)
			}
			return LPM{Value: s[:i], PrefixLen: plen}, nil
		}
	case MatchTernary:
		if parts := strings.Split(s, "&&&"); len(parts) == 2 {
			return Ternary{Value: parts[0], Mask: parts[1]}, nil
		} else if len(parts) > 2 {
			return nil, util.NewMatchKeyError("", "invalid ternary value %q, use '&&&' once to separate value and mask", s)
		}
	case MatchRange:
		if parts := strings.Split(s, "->"); len(parts) == 2 {
			return Range{Low: parts[0], High: parts[1]}, nil
		} else if len(parts) > 2 {
			return nil, util.NewMatchKeyError("", "invalid range value %q, use '->' once to separate start and end", s)
		}
	case MatchValid:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, util.NewMatchKeyError("", "invalid valid-match value %q", s)
		}
		return Valid(b), nil
	}
	return plain(s), nil
}

// plain is a string that already went through ParseMatch.
type plain string

func fullMask(bitwidth int) []byte {
	n := ByteWidth(bitwidth)
	mask := bytes.Repeat([]byte{0xff}, n)
	if rem := bitwidth % 8; rem != 0 {
		mask[0] = byte(0xff >> uint(8-rem))
	}
	return mask
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func kindMismatch(spec MatchSpec, got MatchKind) error {
	return util.NewMatchKeyError(spec.Name, "field is a %s match, got a %s value", spec.Kind, got)
}

// withField fills in the field name of codec errors raised below EncodeMatch.
func withField(err error, field string) error {
	switch e := err.(type) {
	case *util.ValueError:
		if e.Field == "" {
			e.Field = field
		}
	case *util.MatchKeyError:
		if e.Field == "" {
			e.Field = field
		}
	}
	return err
}
