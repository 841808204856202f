package mailnya

import (
	"bytes"
	"io"
	"os"

	"github.com/nyacpp/mailnya/internal/mimeenc"
)

// Attachment holds a content type, a set of extra headers, and a byte
// source, and serialises itself as one MIME part.
//
// The content source is an io.ReaderAt sized by Len(): unlike a
// stream-oriented reader that has to be re-opened after each use, an
// io.ReaderAt has no position of its own, so MimeData can be called any
// number of times without the caller re-opening anything (see
// DESIGN.md).
type Attachment struct {
	ContentType  string
	ExtraHeaders map[string]string

	content io.ReaderAt
	size    int64
}

const defaultAttachmentContentType = "application/octet-stream"

// NewAttachment wraps an arbitrary re-readable byte source of the given
// length.
func NewAttachment(content io.ReaderAt, size int64) *Attachment {
	return &Attachment{
		ContentType:  defaultAttachmentContentType,
		ExtraHeaders: map[string]string{},
		content:      content,
		size:         size,
	}
}

// NewBufferAttachment wraps an in-memory byte buffer.
func NewBufferAttachment(data []byte) *Attachment {
	return NewAttachment(bytes.NewReader(data), int64(len(data)))
}

// NewFileAttachment opens path and keeps it open as a re-readable
// io.ReaderAt for the lifetime of the Attachment.
func NewFileAttachment(path string) (*Attachment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return NewAttachment(f, info.Size()), nil
}

// SetExtraHeader sets key (case-folded) to value, overwriting any prior
// value under the same key - the same "Set" semantics textproto.MIMEHeader
// uses, satisfying the "unique keys" invariant by construction.
func (a *Attachment) SetExtraHeader(key, value string) {
	a.ExtraHeaders[canonicalHeaderKey(key)] = value
}

// MimeData renders this attachment as one complete MIME part (RFC 2045
// §6.8): Content-Type, Content-Transfer-Encoding: base64, any extra
// headers, a blank line, then the content base64-encoded and wrapped
// every 57 source bytes into 76-byte output lines.
func (a *Attachment) MimeData() ([]byte, error) {
	var out []byte
	out = append(out, "Content-Type: "+a.ContentType+"\r\n"...)
	out = append(out, "Content-Transfer-Encoding: base64\r\n"...)
	for key, value := range a.ExtraHeaders {
		out = append(out, mimeenc.CreateEntity(key, value, "")...)
	}
	out = append(out, "\r\n"...)

	buf := make([]byte, a.size)
	if a.size > 0 {
		if _, err := a.content.ReadAt(buf, 0); err != nil && err != io.EOF {
			return nil, err
		}
	}
	out = mimeenc.Base64Wrap(out, buf)
	return out, nil
}

// Len reports the attachment's content length in bytes.
func (a *Attachment) Len() int64 { return a.size }
