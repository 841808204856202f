package rfc2822

import (
	"strings"
	"testing"
)

func TestParseSimpleHeaders(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"To: b@example.com\r\n" +
		"Subject: hello\r\n" +
		"\r\n" +
		"body line one\r\n" +
		"body line two\r\n"

	msg := Parse([]byte(raw))

	if got := msg.Headers["from"]; got != "a@example.com" {
		t.Fatalf("from = %q", got)
	}
	if got := msg.Headers["subject"]; got != "hello" {
		t.Fatalf("subject = %q", got)
	}
	if !strings.Contains(msg.Body, "body line one") {
		t.Fatalf("body = %q", msg.Body)
	}
}

func TestParseHeaderContinuation(t *testing.T) {
	raw := "Subject: first\r\n" +
		" second\r\n" +
		"\r\n" +
		"\r\n"

	msg := Parse([]byte(raw))
	if got := msg.Headers["subject"]; got != "first second" {
		t.Fatalf("subject = %q", got)
	}
}

func TestParseEncodedWordQ(t *testing.T) {
	raw := "Subject: =?UTF-8?Q?Caf=C3=A9?=\r\n" +
		"\r\n" +
		"\r\n"

	msg := Parse([]byte(raw))
	if got := msg.Headers["subject"]; got != "Café" {
		t.Fatalf("subject = %q", got)
	}
}

func TestParseEncodedWordB(t *testing.T) {
	// base64("Café") in UTF-8
	raw := "Subject: =?UTF-8?B?Q2Fmw6k=?=\r\n" +
		"\r\n" +
		"\r\n"

	msg := Parse([]byte(raw))
	if got := msg.Headers["subject"]; got != "Café" {
		t.Fatalf("subject = %q", got)
	}
}

func TestParseMultipartWithAttachment(t *testing.T) {
	boundary := "BOUNDARY123"
	raw := "Content-Type: multipart/mixed; boundary=\"" + boundary + "\"\r\n" +
		"\r\n" +
		"--" + boundary + "\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"hello world\r\n" +
		"--" + boundary + "\r\n" +
		"Content-Type: application/octet-stream\r\n" +
		"Content-Disposition: attachment; filename=\"note.txt\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"aGVsbG8=\r\n" +
		"--" + boundary + "--\r\n"

	msg := Parse([]byte(raw))

	if len(msg.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(msg.Attachments))
	}
	a := msg.Attachments[0]
	if a.Name != "note.txt" {
		t.Fatalf("name = %q", a.Name)
	}
	if string(a.Content) != "hello" {
		t.Fatalf("content = %q", a.Content)
	}
}

func TestParseNoBlankLineYieldsNoBody(t *testing.T) {
	raw := "Subject: only headers\r\n"
	msg := Parse([]byte(raw))
	if msg.Headers["subject"] != "only headers" {
		t.Fatalf("subject = %q", msg.Headers["subject"])
	}
	if msg.Body != "" {
		t.Fatalf("body = %q, want empty", msg.Body)
	}
}
