package core

// streaming.go prepares an uploaded roster for the CSV parser.
//
// Hyperplanning exports come from Windows machines in a variety of
// encodings. The reader chain applied by WrapForImport is:
//
//  1. BOM detection: a UTF-8 or UTF-16 byte order mark is stripped and, for
//     UTF-16, overrides the configured encoding
//  2. Charset decoding to UTF-8 (invalid sequences become U+FFFD)
//  3. Byte counting for logging

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultEncoding is used when an import does not name one.
const DefaultEncoding = "utf-8"

// ErrUnknownEncoding is returned for encoding labels htmlindex does not know.
var ErrUnknownEncoding = errors.New("encoding error: unknown encoding")

// LookupEncoding resolves a WHATWG encoding label such as "utf-8",
// "iso-8859-1" or "windows-1252".
func LookupEncoding(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultEncoding
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownEncoding, name)
	}
	return enc, nil
}

// delimiterNames are the separator names accepted besides single characters.
var delimiterNames = map[string]rune{
	"comma":     ',',
	"semicolon": ';',
	"colon":     ':',
	"tab":       '\t',
}

// ParseDelimiter accepts a separator name (comma, semicolon, colon, tab) or a
// single character. Empty returns 0 so callers can apply their default.
func ParseDelimiter(val string) (rune, error) {
	if val == "" {
		return 0, nil
	}
	if r, ok := delimiterNames[strings.ToLower(val)]; ok {
		return r, nil
	}
	r, size := utf8.DecodeRuneInString(val)
	if r == utf8.RuneError || size != len(val) {
		return 0, fmt.Errorf("delimiter %q must be a single character or one of comma, semicolon, colon, tab", val)
	}
	return r, nil
}

// CountingReader tracks the number of bytes read through it.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// WrapForImport returns a UTF-8 reader over r decoded with the named encoding.
// The returned CountingReader counts raw input bytes.
func WrapForImport(r io.Reader, encodingName string) (io.Reader, *CountingReader, error) {
	enc, err := LookupEncoding(encodingName)
	if err != nil {
		return nil, nil, err
	}

	counter := &CountingReader{reader: r}
	decoder := unicode.BOMOverride(enc.NewDecoder())

	return transform.NewReader(counter, decoder), counter, nil
}
