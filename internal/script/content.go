package script

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Content is the body of a script as it was read from its location. The raw
// bytes are kept so that checksums do not depend on the decoding.
type Content struct {
	raw []byte
	enc encoding.Encoding
}

// NewContent wraps raw script bytes. A nil encoding means UTF-8.
func NewContent(raw []byte, enc encoding.Encoding) *Content {
	return &Content{raw: raw, enc: enc}
}

// Reader returns the decoded script text.
func (c *Content) Reader() io.Reader {
	r := bytes.NewReader(c.raw)
	if c.enc == nil {
		return r
	}
	return transform.NewReader(r, c.enc.NewDecoder())
}

// Bytes returns the raw bytes.
func (c *Content) Bytes() []byte { return c.raw }

// String returns the decoded script text. Undecodable content is returned raw.
func (c *Content) String() string {
	b, err := io.ReadAll(c.Reader())
	if err != nil {
		return string(c.raw)
	}
	return string(b)
}

// LookupEncoding resolves an encoding name such as "ISO-8859-1" or
// "windows-1252". UTF-8 (or an empty name) resolves to nil.
func LookupEncoding(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "utf-8") || strings.EqualFold(name, "utf8") {
		return nil, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown script encoding %q: %w", name, err)
	}
	return enc, nil
}

// Checksum hashes raw script bytes. When ignoreCarriageReturns is set, a
// leading byte order mark and all carriage returns are left out so that a
// checkout on another platform does not register as a modification.
func Checksum(raw []byte, ignoreCarriageReturns bool) string {
	if ignoreCarriageReturns {
		raw = bytes.TrimPrefix(raw, utf8BOM)
		raw = bytes.ReplaceAll(raw, []byte{'\r'}, nil)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
