// Package mailnya builds RFC 2822/MIME messages in memory, parses the
// same format back into an editable model, and (via the smtp
// sub-package) submits them over SMTP with STARTTLS and CRAM-MD5/PLAIN/
// LOGIN authentication.
package mailnya

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nyacpp/mailnya/internal/addr"
	"github.com/nyacpp/mailnya/internal/mimeenc"
	"github.com/nyacpp/mailnya/internal/rfc2822"
)

const defaultWordWrap = 78

// Mail holds a sender, recipients, subject, body text, extra headers and
// an attachment set, and knows how to serialise itself to a complete
// RFC 2822 byte stream (Bytes) or be reconstructed by parsing one
// (Parse).
type Mail struct {
	Sender   string
	Subject  string
	BodyText string

	To, Cc, Bcc []string

	// ExtraHeaders is keyed by case-folded header name; Set overwrites,
	// satisfying the "unique keys" invariant by construction.
	ExtraHeaders map[string]string

	WordWrap        int
	KeepIndentation bool

	attachments     map[string]*Attachment
	attachmentOrder []string
	boundary        []byte
}

// NewMail constructs a Mail with the given sender, subject and body
// text, ready for recipients/attachments to be added.
func NewMail(sender, subject, text string) *Mail {
	return &Mail{
		Sender:       sender,
		Subject:      subject,
		BodyText:     text,
		ExtraHeaders: map[string]string{},
		attachments:  map[string]*Attachment{},
		WordWrap:     defaultWordWrap,
	}
}

func canonicalHeaderKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// SetExtraHeader sets key (case-folded) to value, overwriting any prior
// value under the same key.
func (m *Mail) SetExtraHeader(key, value string) {
	m.ExtraHeaders[canonicalHeaderKey(key)] = value
}

// RemoveRecipient removes every occurrence of addr from To, Cc and Bcc.
func (m *Mail) RemoveRecipient(addr string) {
	m.To = removeAll(m.To, addr)
	m.Cc = removeAll(m.Cc, addr)
	m.Bcc = removeAll(m.Bcc, addr)
}

func removeAll(list []string, addr string) []string {
	out := list[:0]
	for _, a := range list {
		if a != addr {
			out = append(out, a)
		}
	}
	return out
}

// Attachments returns the attachment map keyed by display name.
func (m *Mail) Attachments() map[string]*Attachment { return m.attachments }

// AttachmentOrder returns attachment display names in insertion order.
func (m *Mail) AttachmentOrder() []string { return m.attachmentOrder }

// AddAttachment stores a under name, automatically disambiguating a
// colliding name as "<base> (1).<ext>", "<base> (2).<ext>", and so on,
// and returns the key that was actually used.
func (m *Mail) AddAttachment(name string, a *Attachment) string {
	key := name
	if _, exists := m.attachments[key]; exists {
		base, ext := splitExt(name)
		for n := 1; ; n++ {
			candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
			if _, exists := m.attachments[candidate]; !exists {
				key = candidate
				break
			}
		}
	}
	m.attachments[key] = a
	m.attachmentOrder = append(m.attachmentOrder, key)
	return key
}

// RemoveAttachment deletes the attachment under name, if any.
func (m *Mail) RemoveAttachment(name string) {
	if _, ok := m.attachments[name]; !ok {
		return
	}
	delete(m.attachments, name)
	for i, n := range m.attachmentOrder {
		if n == name {
			m.attachmentOrder = append(m.attachmentOrder[:i], m.attachmentOrder[i+1:]...)
			break
		}
	}
}

func splitExt(name string) (base, ext string) {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[:i], name[i:]
	}
	return name, ""
}

// Bytes serialises m to a complete RFC 2822/MIME (RFC 2045-2049) byte
// stream. The boundary, once lazily generated, is cached on m so
// repeated calls reuse it. Extra headers are emitted in map iteration
// order, so with more than one of them the header order can differ
// between calls.
func (m *Mail) Bytes() []byte {
	wordWrap := m.WordWrap
	if wordWrap == 0 {
		wordWrap = defaultWordWrap
	}

	hasAttachments := len(m.attachmentOrder) > 0

	cte := strings.ToLower(m.ExtraHeaders["content-transfer-encoding"])
	var enc mimeenc.Encoding
	switch cte {
	case "base64":
		enc = mimeenc.Base64
	case "quoted-printable":
		enc = mimeenc.QuotedPrintable
	default:
		enc = mimeenc.GuessEncoding(m.BodyText)
	}

	var out []byte

	if m.Sender != "" {
		if _, ok := m.ExtraHeaders["from"]; !ok {
			out = append(out, mimeenc.CreateEntity("From", m.Sender, "")...)
		}
	}
	if len(m.To) > 0 {
		out = append(out, mimeenc.CreateEntity("To", strings.Join(m.To, ", "), "")...)
	}
	if len(m.Cc) > 0 {
		out = append(out, mimeenc.CreateEntity("Cc", strings.Join(m.Cc, ", "), "")...)
	}
	if m.Subject != "" {
		out = append(out, mimeenc.CreateEntity("Subject", m.Subject, "")...)
	}

	_, hasMimeVersion := m.ExtraHeaders["mime-version"]
	mimeVersionEmitted := false
	if enc != mimeenc.ASCII && !hasMimeVersion && !hasAttachments {
		out = append(out, "MIME-Version: 1.0\r\n"...)
		mimeVersionEmitted = true
	}

	partContentType := "text/plain; charset=UTF-8"
	if ct, ok := m.ExtraHeaders["content-type"]; ok {
		partContentType = ct
	}

	if hasAttachments {
		if m.boundary == nil {
			m.boundary = []byte(uuid.New().String())
		}
		if _, ok := m.ExtraHeaders["mime-version"]; !ok {
			out = append(out, "MIME-Version: 1.0\r\n"...)
			mimeVersionEmitted = true
		}
		if _, ok := m.ExtraHeaders["content-type"]; !ok {
			out = append(out, "Content-Type: multipart/mixed; boundary="+string(m.boundary)+"\r\n"...)
		}
	}

	cteEmitted := false
	if !hasAttachments {
		switch enc {
		case mimeenc.Base64:
			out = append(out, "Content-Transfer-Encoding: base64\r\n"...)
			cteEmitted = true
		case mimeenc.QuotedPrintable:
			out = append(out, "Content-Transfer-Encoding: quoted-printable\r\n"...)
			cteEmitted = true
		}
	}

	for key, value := range m.ExtraHeaders {
		switch key {
		case "content-transfer-encoding":
			if hasAttachments || cteEmitted {
				continue
			}
		case "content-type":
			if hasAttachments {
				continue
			}
		case "mime-version":
			if mimeVersionEmitted {
				continue
			}
		}
		out = append(out, mimeenc.CreateEntity(key, value, "")...)
	}

	out = append(out, "\r\n"...)

	if hasAttachments {
		out = append(out, "This is a message with multiple parts in MIME format.\r\n"...)
		out = append(out, "--"+string(m.boundary)+"\r\n"...)
		out = append(out, "Content-Type: "+partContentType+"\r\n"...)

		partCTE := m.ExtraHeaders["content-transfer-encoding"]
		if partCTE == "" {
			switch enc {
			case mimeenc.Base64:
				partCTE = "base64"
			case mimeenc.QuotedPrintable:
				partCTE = "quoted-printable"
			}
		}
		if partCTE != "" {
			out = append(out, "Content-Transfer-Encoding: "+partCTE+"\r\n"...)
		}
		out = append(out, "\r\n"...)
	}

	out = encodeBody(out, m.BodyText, enc, wordWrap, m.KeepIndentation)

	if hasAttachments {
		for _, name := range m.attachmentOrder {
			a := m.attachments[name]
			out = append(out, "--"+string(m.boundary)+"\r\n"...)
			out = append(out, mimeenc.CreateEntity("Content-Disposition", "attachment; filename="+addr.BaseName(name), "")...)
			part, err := a.MimeData()
			if err == nil {
				out = append(out, part...)
			}
		}
		out = append(out, "--"+string(m.boundary)+"--\r\n"...)
	}

	return out
}

func encodeBody(out []byte, body string, enc mimeenc.Encoding, wordWrap int, keepIndentation bool) []byte {
	switch enc {
	case mimeenc.Base64:
		return mimeenc.Base64WrapBody(out, body)
	case mimeenc.QuotedPrintable:
		return appendQuotedPrintableBody(out, []byte(body))
	default:
		return appendASCIIWrapBody(out, latin1Bytes(body), wordWrap, keepIndentation)
	}
}

// latin1Bytes maps each code point of s (every one of which fits in
// ISO-8859-1, since that's a precondition of the ascii encoding choice)
// to its single-byte Latin-1 representation.
func latin1Bytes(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		out = append(out, byte(r))
	}
	return out
}

// appendASCIIWrapBody word-wraps an ASCII body: words accumulate onto
// the current line until wordWrap would be exceeded, each wire line is
// dot-stuffed per RFC 5321 §4.5.2, and real line breaks (CR, LF, or a
// CRLF/LFCR pair) discard trailing spaces and start a fresh logical
// line, optionally reseeding the indentation the logical line started
// with.
func appendASCIIWrapBody(out []byte, data []byte, wordWrap int, keepIndentation bool) []byte {
	var line, word, spaces, startSpaces []byte
	atLogicalStart := true

	flush := func() {
		if len(line) > 0 && line[0] == '.' {
			out = append(out, '.')
		}
		out = append(out, line...)
		out = append(out, "\r\n"...)
	}

	n := len(data)
	for i := 0; i <= n; i++ {
		end := i == n
		var b byte
		if !end {
			b = data[i]
		}
		isBreak := end || b == ' ' || b == '\t' || b == '\r' || b == '\n'

		if !isBreak {
			word = append(word, b)
			continue
		}

		if len(word) > 0 {
			if atLogicalStart {
				startSpaces = append(startSpaces[:0], spaces...)
			}
			if len(line)+len(spaces)+len(word) > wordWrap {
				flush()
				if keepIndentation {
					line = append([]byte{}, startSpaces...)
				} else {
					line = nil
				}
				line = append(line, word...)
			} else {
				line = append(line, spaces...)
				line = append(line, word...)
			}
			word = nil
			spaces = nil
			atLogicalStart = false
		}

		if end {
			flush()
			break
		}

		switch b {
		case ' ', '\t':
			spaces = append(spaces, b)
		case '\r':
			if i+1 < n && data[i+1] == '\n' {
				i++
			}
			flush()
			line, word, spaces, startSpaces = nil, nil, nil, nil
			atLogicalStart = true
		case '\n':
			if i+1 < n && data[i+1] == '\r' {
				i++
			}
			flush()
			line, word, spaces, startSpaces = nil, nil, nil, nil
			atLogicalStart = true
		}
	}

	return out
}

// appendQuotedPrintableBody quoted-printable encodes a body per RFC
// 2045 §6.7: CR/LF pairs terminate a dot-stuffed wire line, long lines
// get a soft break, and only "special" bytes are escaped.
func appendQuotedPrintableBody(out []byte, data []byte) []byte {
	var line []byte

	flushHard := func() {
		if len(line) > 0 && line[0] == '.' {
			out = append(out, '.')
		}
		out = append(out, line...)
		out = append(out, "\r\n"...)
		line = line[:0]
	}
	flushSoft := func() {
		out = append(out, line...)
		out = append(out, "=\r\n"...)
		line = line[:0]
	}

	n := len(data)
	for i := 0; i < n; i++ {
		b := data[i]
		if b == '\r' || b == '\n' {
			if i+1 < n && ((b == '\r' && data[i+1] == '\n') || (b == '\n' && data[i+1] == '\r')) {
				i++
			}
			flushHard()
			continue
		}

		if mimeenc.IsSpecial(b) {
			line = append(line, '=')
			line = append(line, upperHexByte(b)...)
		} else {
			line = append(line, b)
		}

		if len(line) > 74 {
			flushSoft()
		}
	}
	flushHard()
	return out
}

func upperHexByte(b byte) string {
	const hexDigits = "0123456789ABCDEF"
	return string([]byte{hexDigits[b>>4], hexDigits[b&0xF]})
}

// Parse reconstructs a Mail from a raw RFC 2822/MIME byte stream,
// delegating header/body splitting and multipart attachment recovery to
// internal/rfc2822.
func Parse(raw []byte) *Mail {
	parsed := rfc2822.Parse(raw)

	m := NewMail(parsed.Headers["from"], parsed.Headers["subject"], parsed.Body)
	if to, ok := parsed.Headers["to"]; ok && to != "" {
		m.To = splitAddressList(to)
	}
	if cc, ok := parsed.Headers["cc"]; ok && cc != "" {
		m.Cc = splitAddressList(cc)
	}

	for key, value := range parsed.Headers {
		switch key {
		case "from", "to", "cc", "subject":
			continue
		}
		m.ExtraHeaders[key] = value
	}

	for _, pa := range parsed.Attachments {
		a := NewBufferAttachment(pa.Content)
		a.ContentType = pa.ContentType
		for key, value := range pa.Headers {
			switch key {
			case "content-type", "content-transfer-encoding", "content-disposition":
				continue
			}
			a.ExtraHeaders[key] = value
		}
		m.AddAttachment(pa.Name, a)
	}

	return m
}

func splitAddressList(joined string) []string {
	parts := strings.Split(joined, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
