package rdpefs

import (
	"bytes"

	"github.com/efficientgo/core/errors"
	"golang.org/x/text/encoding/unicode"
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodeUTF16 converts s to UTF-16LE, appending a NUL terminator when nul is set.
func EncodeUTF16(s string, nul bool) []byte {
	out, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		out = nil
	}
	if nul {
		out = append(out, 0, 0)
	}
	return out
}

// DecodeUTF16 converts UTF-16LE bytes to a string, stopping at the first NUL.
func DecodeUTF16(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", errors.Newf("odd UTF-16 length %d", len(b))
	}
	for i := 0; i+1 < len(b); i += 2 {
		if b[i] == 0 && b[i+1] == 0 {
			b = b[:i]
			break
		}
	}
	out, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return "", errors.Wrap(err, "decode UTF-16")
	}
	return string(out), nil
}

// fixedASCII returns s zero padded (or cut) to n bytes.
func fixedASCII(s string, n int) []byte {
	buf := make([]byte, n)
	copy(buf, s)
	return buf
}

func trimNUL(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
