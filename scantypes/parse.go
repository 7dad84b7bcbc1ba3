package scantypes

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseQuery parses one query term — a literal, a type-suffixed literal, a
// range, or a semicolon/comma-separated list of any of those — into a
// SearchQuery. mode and rng supply the group-query metadata when the term
// list has more than one member (§4.4.1).
//
// Grammar per term:
//
//	literal        := ["-"] digits | "0x" hexdigits | digits "." digits
//	suffixed       := literal suffix               // suffix in {B,W,D,Q,F,E,A,X}
//	range          := literal ".." literal [suffix]
//	exclude range  := literal "!.." literal [suffix]
func ParseQuery(s string, mode SearchMode, rng uint16) (SearchQuery, error) {
	parts := splitTerms(s)
	if len(parts) == 0 {
		return SearchQuery{}, fmt.Errorf("empty query")
	}
	values := make([]SearchValue, 0, len(parts))
	for _, p := range parts {
		v, err := parseTerm(strings.TrimSpace(p))
		if err != nil {
			return SearchQuery{}, fmt.Errorf("parsing term %q: %w", p, err)
		}
		values = append(values, v)
	}
	q := SearchQuery{Values: values, Mode: mode, Range: rng}
	if err := q.Validate(); err != nil {
		return SearchQuery{}, err
	}
	return q, nil
}

func splitTerms(s string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' }) {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// suffixType maps a one-character type suffix to a ValueType.
func suffixType(c byte) (ValueType, bool) {
	switch c {
	case 'B', 'b':
		return Byte, true
	case 'W', 'w':
		return Word, true
	case 'D', 'd':
		return Dword, true
	case 'Q', 'q':
		return Qword, true
	case 'F', 'f':
		return Float, true
	case 'E', 'e':
		return Double, true
	case 'A', 'a':
		return Auto, true
	case 'X', 'x':
		return Xor, true
	default:
		return 0, false
	}
}

const defaultType = Dword

func parseTerm(tok string) (SearchValue, error) {
	// suffixOf reports the type suffix ending s. A trailing hex digit of a
	// "0x" literal is part of the number, not a suffix.
	suffixOf := func(s string) (ValueType, bool) {
		n := len(s)
		if n == 0 {
			return 0, false
		}
		body := strings.TrimPrefix(s, "-")
		isHex := strings.HasPrefix(body, "0x") || strings.HasPrefix(body, "0X")
		if isHex && strings.IndexByte("0123456789abcdefABCDEF", s[n-1]) >= 0 {
			return 0, false
		}
		return suffixType(s[n-1])
	}
	exclude := false
	sep := ".."
	if strings.Contains(tok, "!..") {
		exclude = true
		sep = "!.."
	}
	if idx := strings.Index(tok, sep); idx >= 0 {
		lo := tok[:idx]
		hi := tok[idx+len(sep):]
		typ := defaultType
		if n := len(hi); n > 0 {
			if t, ok := suffixOf(hi); ok {
				typ = t
				hi = hi[:n-1]
			}
		}
		if typ.IsFloatType() {
			f0, err := strconv.ParseFloat(lo, 64)
			if err != nil {
				return SearchValue{}, err
			}
			f1, err := strconv.ParseFloat(hi, 64)
			if err != nil {
				return SearchValue{}, err
			}
			return NewRangeFloat(f0, f1, typ, exclude), nil
		}
		i0, err := parseIntLiteral(lo)
		if err != nil {
			return SearchValue{}, err
		}
		i1, err := parseIntLiteral(hi)
		if err != nil {
			return SearchValue{}, err
		}
		return NewRangeInt(i0, i1, typ, exclude), nil
	}

	typ := defaultType
	body := tok
	if n := len(tok); n > 0 {
		if t, ok := suffixOf(tok); ok {
			// Only treat the trailing letter as a type suffix if the rest
			// parses as a literal; hex literals like "0xFF" (which end in a
			// letter) fall through without confusion since suffixOf never
			// takes a hex digit of a "0x" literal as a suffix.
			rest := tok[:n-1]
			if _, err := strconv.ParseFloat(rest, 64); err == nil {
				typ = t
				body = rest
			} else if _, err := parseIntLiteral(rest); err == nil {
				typ = t
				body = rest
			}
		}
	}
	if strings.ContainsAny(body, ".") && !strings.HasPrefix(body, "0x") && !strings.HasPrefix(body, "0X") {
		f, err := strconv.ParseFloat(body, 64)
		if err != nil {
			return SearchValue{}, err
		}
		if typ == defaultType {
			typ = Float
		}
		return NewFixedFloat(f, typ), nil
	}
	i, err := parseIntLiteral(body)
	if err != nil {
		return SearchValue{}, err
	}
	return NewFixedInt(i, typ), nil
}

func parseIntLiteral(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 64)
		return int64(v), err
	}
	if strings.HasPrefix(s, "-0x") || strings.HasPrefix(s, "-0X") {
		v, err := strconv.ParseUint(s[3:], 16, 64)
		return -int64(v), err
	}
	return strconv.ParseInt(s, 10, 64)
}
