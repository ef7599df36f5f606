package engine

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeOutput converts compiler output to a Go string. Valid UTF-8 passes
// through; UTF-16 with a BOM is honoured; anything else is Windows-1252.
func decodeOutput(raw []byte) string {
	if utf8.Valid(raw) {
		return string(bytes.TrimPrefix(raw, utf8BOM))
	}
	dec := unicode.BOMOverride(charmap.Windows1252.NewDecoder())
	out, _, err := transform.Bytes(dec, raw)
	if err != nil {
		return string(bytes.ToValidUTF8(raw, []byte("�")))
	}
	return string(out)
}
