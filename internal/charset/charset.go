// Package charset maps an RFC 2047 encoded-word charset token to a
// decoder, the way flashmob-go-guerrilla's util.go:fixCharset/MailTransportDecode
// normalises charset aliases before handing off to an iconv-style
// converter. Here the converter is golang.org/x/text/encoding/htmlindex,
// a pure-Go equivalent that avoids the cgo iconv dependency.
package charset

import (
	"regexp"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

var aliasFixupRe = regexp.MustCompile(`[_:.\\]`)

// normalizeName mirrors the alias clean-up flashmob-go-guerrilla applies
// before an iconv lookup: collapse separator punctuation to '-' and
// patch a couple of historically common mis-spellings.
func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	fixed := aliasFixupRe.ReplaceAllString(name, "-")
	switch strings.ToLower(fixed) {
	case "ks-c-5601-1987":
		fixed = "cp949"
	case "x-euc-tw":
		fixed = "euc-tw"
	}
	return fixed
}

// Decode decodes encoded, a byte buffer in the named charset, into a
// Unicode string. An unknown or unsupported charset yields an empty
// string rather than an error, keeping header decoding best-effort.
func Decode(name string, encoded []byte) string {
	if name == "" || strings.EqualFold(name, "us-ascii") || strings.EqualFold(name, "utf-8") {
		return string(encoded)
	}

	enc, err := lookup(name)
	if err != nil {
		return ""
	}

	out, err := enc.NewDecoder().Bytes(encoded)
	if err != nil {
		return ""
	}
	return string(out)
}

func lookup(name string) (encoding.Encoding, error) {
	if enc, err := htmlindex.Get(name); err == nil {
		return enc, nil
	}
	return htmlindex.Get(normalizeName(name))
}
