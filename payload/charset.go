package payload

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// lookupCharset resolves an IANA charset name. UTF-8 and the empty name
// return a nil encoding: the bytes are used as they are.
func lookupCharset(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", name)
	}
	return enc, nil
}

// toCharset converts UTF-8 text to the named charset.
func toCharset(text []byte, charset string) ([]byte, error) {
	enc, err := lookupCharset(charset)
	if err != nil || enc == nil {
		return text, err
	}
	return enc.NewEncoder().Bytes(text)
}

// fromCharset converts text in the named charset to UTF-8.
func fromCharset(data []byte, charset string) ([]byte, error) {
	enc, err := lookupCharset(charset)
	if err != nil || enc == nil {
		return data, err
	}
	return enc.NewDecoder().Bytes(data)
}
