package output

import "unicode/utf8"

// SanitizeUTF8 replaces invalid UTF-8 sequences with the Unicode replacement
// character (U+FFFD) and reports whether anything was replaced.
//
// Line protocol is a byte protocol, so keys, tag values and string fields
// may carry Latin-1 or binary data. JSON and MessagePack strings must be
// UTF-8. Valid input is returned without allocating.
func SanitizeUTF8(s string) (string, bool) {
	if utf8.ValidString(s) {
		return s, false
	}

	result := make([]byte, 0, len(s)+len(s)/8)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			result = utf8.AppendRune(result, utf8.RuneError)
			i++
			continue
		}
		result = append(result, s[i:i+size]...)
		i += size
	}
	return string(result), true
}
