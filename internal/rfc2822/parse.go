// Package rfc2822 parses an RFC 2822/MIME byte stream into a neutral,
// Mail-agnostic result: headers, body text, and any one-level-deep
// attachment parts it can recover. It never fails - malformed input
// degrades to best-effort rather than returning an error (see
// DESIGN.md).
package rfc2822

import (
	"bytes"
	"encoding/base64"
	"regexp"
	"strconv"
	"strings"

	"github.com/nyacpp/mailnya/internal/charset"
)

// Message is the neutral result of parsing a raw RFC 2822 buffer.
type Message struct {
	Headers     map[string]string // case-folded header name -> decoded value
	Body        string
	Attachments []Attachment
}

// Attachment is one recovered MIME part whose Content-Disposition begins
// with "attachment;".
type Attachment struct {
	Name        string
	ContentType string
	Headers     map[string]string // full header set of the part, case-folded
	Content     []byte
}

var (
	continuationRe = regexp.MustCompile(`^[ \t]`)
	headerLineRe   = regexp.MustCompile(`^([!-9;-~]+):[ \t](.*)$`)
	encodedWordRe  = regexp.MustCompile(`=\?([^? \t]+)\?([qQbB])\?([^? \t]+)\?=`)
	boundaryRe     = regexp.MustCompile(`boundary="?([^";]*)"?`)
	filenameRe     = regexp.MustCompile(`;\s*filename="?([^"]*)"?`)
)

// Parse parses raw into a Message, performing header unfolding,
// encoded-word decoding, and one-level multipart attachment extraction.
func Parse(raw []byte) Message {
	headers, body := parseEntity(raw)
	msg := Message{Headers: headers}
	msg.Body, msg.Attachments = extractMultipart(headers, body)
	return msg
}

// parseEntity splits buf into a header map and raw body text: content
// after the last terminated line is dropped.
func parseEntity(buf []byte) (map[string]string, string) {
	headers := map[string]string{}
	var body bytes.Buffer

	var currentKey string
	var currentValue []string
	flush := func() {
		if currentKey == "" {
			return
		}
		headers[strings.ToLower(currentKey)] = unfoldValue(currentValue)
		currentKey = ""
		currentValue = nil
	}

	pos := 0
	inHeaders := true
	for {
		idx := bytes.Index(buf[pos:], []byte("\r\n"))
		if idx == -1 {
			break
		}
		crlfPos := pos + idx

		if inHeaders && crlfPos == pos {
			inHeaders = false
			flush()
			pos += 2
			continue
		}

		line := buf[pos:crlfPos]
		pos = crlfPos + 2

		if inHeaders {
			parseHeaderLine(line, &currentKey, &currentValue, flush)
		} else {
			body.Write(line)
			body.WriteString("\r\n")
		}
	}
	// A message with no blank line at all is still flushed as a pure
	// header block (no body), matching ParseEntity being called with an
	// implicit trailing blank-line check in the reference.
	if inHeaders {
		flush()
	}

	return headers, body.String()
}

func parseHeaderLine(line []byte, currentKey *string, currentValue *[]string, flush func()) {
	if continuationRe.Match(line) {
		*currentValue = append(*currentValue, string(line))
		return
	}

	flush()

	m := headerLineRe.FindSubmatch(line)
	if m == nil {
		return // malformed or empty: silently ignored
	}
	*currentKey = string(m[1])
	*currentValue = []string{string(m[2])}
}

// unfoldValue concatenates the continuation pieces of a header value,
// decoding every RFC 2047 encoded-word found along the way.
func unfoldValue(pieces []string) string {
	var sb strings.Builder
	for _, piece := range pieces {
		sb.WriteString(decodeEncodedWords(piece))
	}
	return sb.String()
}

func decodeEncodedWords(s string) string {
	for {
		loc := encodedWordRe.FindStringSubmatchIndex(s)
		if loc == nil {
			return s
		}
		cs := s[loc[2]:loc[3]]
		enc := strings.ToLower(s[loc[4]:loc[5]])
		payload := s[loc[6]:loc[7]]
		decoded := decodeEncodedWord(cs, enc, payload)
		s = s[:loc[0]] + decoded + s[loc[1]:]
	}
}

func decodeEncodedWord(cs, enc, payload string) string {
	var raw []byte
	switch enc {
	case "q":
		raw = decodeQEncoding(payload)
	case "b":
		var err error
		raw, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return ""
		}
	default:
		return ""
	}
	return charset.Decode(cs, raw)
}

func decodeQEncoding(s string) []byte {
	var out []byte
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '_':
			out = append(out, ' ')
		case '=':
			if i+2 < len(s) {
				if b, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
					out = append(out, byte(b))
				}
				i += 2
			}
		default:
			out = append(out, s[i])
		}
	}
	return out
}

var attachmentCounter int

// extractMultipart walks one level of multipart boundaries. Attachment
// parts (Content-Disposition starting "attachment;") are converted and
// removed; every other part's own body (not its headers or the boundary
// scaffolding around it) is kept, concatenated in order, as the
// message's body text - preamble and epilogue text outside the
// boundary delimiters is discarded.
func extractMultipart(headers map[string]string, body string) (string, []Attachment) {
	ct, ok := headers["content-type"]
	if !ok || !strings.HasPrefix(strings.ToLower(strings.TrimSpace(ct)), "multipart") {
		return body, nil
	}

	m := boundaryRe.FindStringSubmatch(ct)
	if m == nil {
		return body, nil
	}
	boundary := m[1]
	// Group 1 captures the leading line break (or nothing, at the very
	// start of the body) so the part content computed below can include
	// it as the final line's terminator instead of swallowing it.
	delimRe := regexp.MustCompile(`(\r?\n|^)--` + regexp.QuoteMeta(boundary) + `(?:--)?[ \t]*\r?\n`)

	var attachments []Attachment
	var keptBody strings.Builder

	prevEnd := -1 // end of the previous delimiter match; -1 until the first one is seen
	searchFrom := 0

	for {
		loc := delimRe.FindStringSubmatchIndex(body[searchFrom:])
		if loc == nil {
			break
		}
		matchEnd := searchFrom + loc[1]
		groupEnd := searchFrom + loc[3]

		if prevEnd != -1 {
			part := body[prevEnd:groupEnd]
			partHeaders, partBody := parseEntity([]byte(part))

			if cd, ok := partHeaders["content-disposition"]; ok && strings.HasPrefix(strings.ToLower(cd), "attachment;") {
				var name string
				a := buildAttachment(partHeaders, partBody, &name)
				a.Name = name
				attachments = append(attachments, a)
			} else {
				keptBody.WriteString(partBody)
			}
		}

		prevEnd = matchEnd
		searchFrom = matchEnd
	}

	return keptBody.String(), attachments
}

func buildAttachment(headers map[string]string, body string, name *string) Attachment {
	attachmentCounter++

	if cd, ok := headers["content-disposition"]; ok {
		if m := filenameRe.FindStringSubmatch(cd); m != nil {
			*name = m[1]
		}
	}
	if *name == "" {
		*name = "attachment" + strconv.Itoa(attachmentCounter)
	}

	contentType := headers["content-type"]
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	cte := strings.ToLower(headers["content-transfer-encoding"])

	var content []byte
	switch cte {
	case "base64":
		stripped := strings.NewReplacer("\r", "", "\n", "").Replace(body)
		content, _ = base64.StdEncoding.DecodeString(stripped)
	case "quoted-printable":
		content = decodeQuotedPrintableBody(body)
	default:
		content = []byte(body)
		if isTextual(contentType) {
			content = bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
		}
	}

	return Attachment{
		ContentType: contentType,
		Headers:     headers,
		Content:     content,
	}
}

func decodeQuotedPrintableBody(s string) []byte {
	src := []byte(s)
	var out []byte
	for i := 0; i < len(src); i++ {
		switch {
		case i+1 < len(src) && src[i] == '\r' && src[i+1] == '\n':
			out = append(out, '\n')
			i++
		case src[i] == '=':
			if i+2 < len(src) {
				if src[i+1] == '\r' && src[i+2] == '\n' {
					i += 2 // soft line break, no data byte
					continue
				}
				if b, err := strconv.ParseUint(string(src[i+1:i+3]), 16, 8); err == nil {
					out = append(out, byte(b))
				}
				i += 2
			}
		default:
			out = append(out, src[i])
		}
	}
	return out
}

// textualSubtypes lists the application/* subtypes treated as text for
// CRLF normalisation purposes, per the glossary's "textual content type".
var textualSubtypes = map[string]bool{
	"x-csh": true, "x-desktop": true, "x-m4": true, "x-perl": true,
	"x-php": true, "x-ruby": true, "x-troff-man": true, "xsd": true,
	"xml-dtd": true, "xml-external-parsed-entity": true, "xslt+xml": true,
	"xhtml+xml": true, "pgp-keys": true, "pgp-signature": true,
	"javascript": true, "ecmascript": true, "docbook+xml": true,
	"xml": true, "html": true, "x-shellscript": true,
}

func isTextual(contentType string) bool {
	mt := contentType
	if i := strings.IndexByte(mt, ';'); i != -1 {
		mt = mt[:i]
	}
	mt = strings.TrimSpace(mt)
	parts := strings.SplitN(mt, "/", 2)
	if len(parts) != 2 {
		return false
	}
	typ := strings.ToLower(strings.TrimSpace(parts[0]))
	subtype := strings.ToLower(strings.TrimSpace(parts[1]))

	switch typ {
	case "text":
		return true
	case "image":
		return subtype == "svg+xml"
	case "application":
		return textualSubtypes[subtype]
	}
	return false
}
