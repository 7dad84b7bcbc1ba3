// Package pattern implements the masked byte-pattern literal grammar
// from §6: space-separated two-character tokens, each either a full hex
// byte, or a nibble plus a wildcard.
package pattern

import (
	"fmt"
	"strings"

	"github.com/memwalk/engine/scantypes"
)

// Parse parses a pattern literal such as "DE ?D BE E?" into a masked-byte
// sequence. Each token is exactly two characters: "hex hex", "hex '?'",
// "'?' hex" or "'??'".
func Parse(s string) ([]scantypes.MaskedByte, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty pattern")
	}
	out := make([]scantypes.MaskedByte, 0, len(fields))
	for _, tok := range fields {
		if len(tok) != 2 {
			return nil, fmt.Errorf("malformed pattern token %q: must be exactly 2 characters", tok)
		}
		mb, err := parseToken(tok[0], tok[1])
		if err != nil {
			return nil, fmt.Errorf("token %q: %w", tok, err)
		}
		out = append(out, mb)
	}
	return out, nil
}

func parseToken(hi, lo byte) (scantypes.MaskedByte, error) {
	hiWild := hi == '?'
	loWild := lo == '?'
	var hiVal, loVal byte
	var err error
	if !hiWild {
		hiVal, err = hexDigit(hi)
		if err != nil {
			return scantypes.MaskedByte{}, err
		}
	}
	if !loWild {
		loVal, err = hexDigit(lo)
		if err != nil {
			return scantypes.MaskedByte{}, err
		}
	}
	var mb scantypes.MaskedByte
	if !hiWild {
		mb.Value |= hiVal << 4
		mb.Mask |= 0xF0
	}
	if !loWild {
		mb.Value |= loVal
		mb.Mask |= 0x0F
	}
	return mb, nil
}

func hexDigit(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("not a hex digit: %q", c)
	}
}

// Format renders a masked-byte sequence back to its canonical two-character
// token-per-byte textual form, e.g. for display or round-trip testing
// (format(parse(s)) == normalize(s), §8).
func Format(mask []scantypes.MaskedByte) string {
	var b strings.Builder
	for i, mb := range mask {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(formatToken(mb))
	}
	return b.String()
}

const hexDigits = "0123456789ABCDEF"

func formatToken(mb scantypes.MaskedByte) string {
	hiMasked := mb.Mask&0xF0 == 0xF0
	loMasked := mb.Mask&0x0F == 0x0F
	var hi, lo byte
	if hiMasked {
		hi = hexDigits[(mb.Value>>4)&0xF]
	} else {
		hi = '?'
	}
	if loMasked {
		lo = hexDigits[mb.Value&0xF]
	} else {
		lo = '?'
	}
	return string([]byte{hi, lo})
}

// Normalize parses then reformats s, canonicalising case and spacing. It is
// the reference implementation used by the round-trip test in §8.
func Normalize(s string) (string, error) {
	mask, err := Parse(s)
	if err != nil {
		return "", err
	}
	return Format(mask), nil
}

// AnchorIndex returns the first position in mask whose byte is fully
// specified (Mask == 0xFF), or -1 if the pattern is all-wildcard — the
// anchor byte the pattern-search matcher vectorises its scan on (§4.4.7).
func AnchorIndex(mask []scantypes.MaskedByte) int {
	for i, mb := range mask {
		if mb.Mask == 0xFF {
			return i
		}
	}
	return -1
}
