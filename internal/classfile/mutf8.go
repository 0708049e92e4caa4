package classfile

import (
	"bytes"
	"unicode/utf16"
	"unicode/utf8"
)

// Utf8 constants use the class file's modified UTF-8: NUL is written as two
// bytes and characters outside the Basic Multilingual Plane as two encoded
// surrogates of three bytes each. Bytes that are not valid in either form
// pass through unchanged in both directions.

func encodeModifiedUTF8(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); {
		r, n := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == utf8.RuneError && n == 1:
			out = append(out, s[i])
		case r == 0:
			out = append(out, 0xc0, 0x80)
		case r > 0xffff:
			hi, lo := utf16.EncodeRune(r)
			out = appendSurrogate(appendSurrogate(out, hi), lo)
		default:
			out = append(out, s[i:i+n]...)
		}
		i += n
	}
	return out
}

func appendSurrogate(b []byte, r rune) []byte {
	return append(b, 0xe0|byte(r>>12), 0x80|byte(r>>6)&0x3f, 0x80|byte(r)&0x3f)
}

func decodeModifiedUTF8(b []byte) string {
	if bytes.IndexByte(b, 0xc0) < 0 && bytes.IndexByte(b, 0xed) < 0 {
		return string(b)
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] == 0xc0 && i+1 < len(b) && b[i+1] == 0x80 {
			out = append(out, 0)
			i++
			continue
		}
		if r, ok := surrogatePair(b[i:]); ok {
			out = utf8.AppendRune(out, r)
			i += 5
			continue
		}
		out = append(out, b[i])
	}
	return string(out)
}

// surrogatePair decodes a supplementary character from the first six bytes
// of b.
func surrogatePair(b []byte) (rune, bool) {
	if len(b) < 6 {
		return 0, false
	}
	unit := func(u []byte) rune {
		if u[0] != 0xed || u[1]&0xc0 != 0x80 || u[2]&0xc0 != 0x80 {
			return 0
		}
		return rune(u[0]&0x0f)<<12 | rune(u[1]&0x3f)<<6 | rune(u[2]&0x3f)
	}
	r := utf16.DecodeRune(unit(b[:3]), unit(b[3:6]))
	return r, r != utf8.RuneError
}
