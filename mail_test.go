package mailnya

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Plain ASCII mail, no attachments, emits no MIME-Version header.
func TestBytesPlainASCII(t *testing.T) {
	m := NewMail("a@x", "Hi", "hello")
	m.To = []string{"b@y"}

	out := string(m.Bytes())

	if !strings.HasPrefix(out, "From: a@x\r\nTo: b@y\r\nSubject: Hi\r\n\r\n") {
		t.Fatalf("unexpected header block: %q", out)
	}
	if strings.Contains(out, "MIME-Version") {
		t.Fatalf("MIME-Version should be absent for plain ascii: %q", out)
	}
	if !strings.HasSuffix(out, "hello\r\n") {
		t.Fatalf("body not terminated as expected: %q", out)
	}
}

// An explicit Content-Transfer-Encoding extra header survives emission
// on an attachment-free mail even when it doesn't match the guessed
// encoding (so the auto-CTE branch never fires for it).
func TestBytesExplicitCTESurvivesWithoutAttachments(t *testing.T) {
	m := NewMail("a@x", "s", "plain ascii body")
	m.SetExtraHeader("Content-Transfer-Encoding", "7bit")

	out := string(m.Bytes())
	if !strings.Contains(out, "content-transfer-encoding: 7bit") {
		t.Fatalf("explicit CTE header missing: %q", out)
	}
}

// A UTF-8 subject uses an RFC 2047 encoded-word.
func TestBytesUTF8Subject(t *testing.T) {
	m := NewMail("a@x", "Héllo", "body")
	out := string(m.Bytes())

	if !strings.Contains(out, "Subject: =?utf-8?q?") {
		t.Fatalf("subject not encoded: %q", out)
	}
	if !strings.Contains(out, "H=C3=A9llo?=") {
		t.Fatalf("missing encoded payload: %q", out)
	}
}

// Dot-stuffing under ASCII word wrap (RFC 5321 §4.5.2).
func TestBytesDotStuffing(t *testing.T) {
	m := NewMail("a@x", "", "hi\n.secret\n")
	out := string(m.Bytes())

	if !strings.Contains(out, "..secret") {
		t.Fatalf("expected dot-stuffed line, got: %q", out)
	}
}

// Bcc addresses must never appear in emitted bytes.
func TestBytesBccPrivacy(t *testing.T) {
	m := NewMail("a@x", "subj", "body")
	m.To = []string{"b@y"}
	m.Bcc = []string{"secret-bcc@hidden.example"}

	out := string(m.Bytes())
	if strings.Contains(out, "secret-bcc@hidden.example") {
		t.Fatalf("bcc address leaked: %q", out)
	}
}

// Attachment name collisions auto-disambiguate.
func TestAddAttachmentDisambiguates(t *testing.T) {
	m := NewMail("a@x", "subj", "body")

	k1 := m.AddAttachment("report.pdf", NewBufferAttachment([]byte("one")))
	k2 := m.AddAttachment("report.pdf", NewBufferAttachment([]byte("two")))
	k3 := m.AddAttachment("report.pdf", NewBufferAttachment([]byte("three")))

	if k1 != "report.pdf" {
		t.Fatalf("k1 = %q", k1)
	}
	if k2 != "report (1).pdf" {
		t.Fatalf("k2 = %q", k2)
	}
	if k3 != "report (2).pdf" {
		t.Fatalf("k3 = %q", k3)
	}
}

// A mail with one attachment survives serialise+parse.
func TestRoundTripWithAttachment(t *testing.T) {
	m := NewMail("a@x", "subj", "see file")
	m.To = []string{"b@y"}

	content := make([]byte, 256)
	for i := range content {
		content[i] = byte(i)
	}
	a := NewBufferAttachment(content)
	a.ContentType = "application/pdf"
	m.AddAttachment("report.pdf", a)

	parsed := Parse(m.Bytes())

	require.Equal(t, "see file", strings.TrimRight(parsed.BodyText, "\r\n"))

	pa, ok := parsed.Attachments()["report.pdf"]
	require.True(t, ok, "attachment not recovered, got keys %v", parsed.AttachmentOrder())
	require.Equal(t, "application/pdf", pa.ContentType)

	buf := make([]byte, pa.Len())
	_, err := pa.content.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, content, buf, "attachment content not byte-identical after round-trip")
}

// An ASCII mail without attachments preserves its subject exactly through a round trip.
func TestRoundTripASCIISubject(t *testing.T) {
	m := NewMail("a@x", "Plain Subject", "hello world")
	m.To = []string{"b@y"}

	parsed := Parse(m.Bytes())
	if parsed.Subject != m.Subject {
		t.Fatalf("subject = %q, want %q", parsed.Subject, m.Subject)
	}
}
