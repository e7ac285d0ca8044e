package filestate

import (
	"bytes"

	"golang.org/x/text/unicode/norm"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Normalize strips a UTF-8 BOM, converts CRLF and lone CR line endings to LF
// and applies Unicode NFC, so that the same note saved on different platforms
// hashes identically.
func Normalize(content []byte) []byte {
	content = bytes.TrimPrefix(content, utf8BOM)
	content = bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	content = bytes.ReplaceAll(content, []byte("\r"), []byte("\n"))
	return norm.NFC.Bytes(content)
}
