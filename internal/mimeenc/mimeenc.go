// Package mimeenc classifies header values by encoding and renders the
// encoded-word / quoted-printable / base64 forms used across RFC 2822
// header fields and message bodies.
//
// The wrap widths and special-character rules below are pinned to the
// reference nya-smtp implementation (CommonMail.cpp / MailNya.cpp), not
// to the letter of RFC 2045/2047 - round-tripping against that reference
// is the contract, not strict conformance.
package mimeenc

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// Encoding tags the three ways a header value or body can be rendered.
type Encoding byte

const (
	ASCII          Encoding = 'a'
	Base64         Encoding = 'b'
	QuotedPrintable Encoding = 'q'
)

// IsSpecial reports whether b must be escaped in quoted-printable or
// counted toward the base64-vs-quoted-printable heuristic.
func IsSpecial(b byte) bool {
	return b < 0x20 || b > 0x7E || b == '=' || b == '?'
}

// GuessEncoding classifies s per spec: ascii when every code point fits
// ISO-8859-1 and s contains no "=?" substring; otherwise base64 when more
// than 20 of the first 100 code points are "special", else
// quoted-printable.
func GuessEncoding(s string) Encoding {
	if !strings.Contains(s, "=?") && fitsLatin1(s) {
		return ASCII
	}

	special := 0
	n := 0
	for _, r := range s {
		if n >= 100 {
			break
		}
		if r <= 0xFF && IsSpecial(byte(r)) {
			special++
		} else if r > 0xFF {
			special++
		}
		n++
	}
	if special > 20 {
		return Base64
	}
	return QuotedPrintable
}

func fitsLatin1(s string) bool {
	for _, r := range s {
		if r > 0xFF {
			return false
		}
	}
	return true
}

// CreateEntity renders one "key: value\r\n" header field, word-wrapping
// plain ASCII at 78 columns or RFC 2047 encoded-word wrapping base64/QP
// payloads, exactly as the reference CreateEntity does.
func CreateEntity(key, value, prefix string) []byte {
	var data []byte
	line := []byte(key + ": " + prefix)

	switch GuessEncoding(value) {
	case ASCII:
		first := true
		for _, word := range strings.Split(value, " ") {
			if len(line) > 78 {
				data = append(data, line...)
				data = append(data, "\r\n"...)
				line = line[:0]
			}
			if first {
				first = false
				line = append(line, word...)
			} else {
				line = append(line, ' ')
				line = append(line, word...)
			}
		}

	case Base64:
		b64 := base64.StdEncoding.EncodeToString([]byte(value))
		line = append(line, "=?utf-8?b?"...)
		for i := 0; i < len(b64); i += 4 {
			if len(line) > 72 {
				data = append(data, line...)
				data = append(data, "?=\r\n"...)
				line = []byte(" =?utf-8?b?")
			}
			end := i + 4
			if end > len(b64) {
				end = len(b64)
			}
			line = append(line, b64[i:end]...)
		}
		line = append(line, "?="...)

	case QuotedPrintable:
		utf8 := []byte(value)
		line = append(line, "=?utf-8?q?"...)
		for i := 0; i < len(utf8); i++ {
			if len(line) > 73 {
				data = append(data, line...)
				data = append(data, "?=\r\n"...)
				line = []byte(" =?utf-8?q?")
			}
			c := utf8[i]
			if IsSpecial(c) || c == ' ' {
				line = append(line, '=')
				line = append(line, strings.ToUpper(hex.EncodeToString(utf8[i:i+1]))...)
			} else {
				line = append(line, c)
			}
		}
		line = append(line, "?="...)
	}

	data = append(data, line...)
	data = append(data, "\r\n"...)
	return data
}

// Base64Wrap writes b, base64-encoded, wrapped every 57 source bytes into
// 76-byte lines terminated by CRLF - the attachment framing used by
// Attachment.MimeData (base64 body emission uses Base64WrapBody).
func Base64Wrap(dst []byte, b []byte) []byte {
	const rawPerLine = 57
	for len(b) >= rawPerLine {
		enc := base64.StdEncoding.EncodeToString(b[:rawPerLine])
		dst = append(dst, enc...)
		dst = append(dst, "\r\n"...)
		b = b[rawPerLine:]
	}
	if len(b) > 0 {
		enc := base64.StdEncoding.EncodeToString(b)
		dst = append(dst, enc...)
		dst = append(dst, "\r\n"...)
	}
	return dst
}

// Base64WrapBody wraps a base64 payload into 78-byte lines for message
// bodies (as distinct from the 76-byte attachment framing above).
func Base64WrapBody(dst []byte, text string) []byte {
	b64 := base64.StdEncoding.EncodeToString([]byte(text))
	for i := 0; i < len(b64); i += 78 {
		end := i + 78
		if end > len(b64) {
			end = len(b64)
		}
		dst = append(dst, b64[i:end]...)
		dst = append(dst, "\r\n"...)
	}
	return dst
}
