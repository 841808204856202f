package smtp

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/nyacpp/mailnya"
	"github.com/nyacpp/mailnya/internal/cram"
)

type fakeTransport struct {
	writes           chan []byte
	supportsStartTLS bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{writes: make(chan []byte, 64)}
}

func (f *fakeTransport) Connect() error         { return nil }
func (f *fakeTransport) SupportsStartTLS() bool { return f.supportsStartTLS }
func (f *fakeTransport) StartTLS(string) error  { return nil }
func (f *fakeTransport) Disconnect() error      { return nil }
func (f *fakeTransport) Write(p []byte) error {
	f.writes <- append([]byte(nil), p...)
	return nil
}

func nextWrite(t *testing.T, ch chan []byte) string {
	t.Helper()
	select {
	case b := <-ch:
		return strings.TrimRight(string(b), "\r\n")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a write")
		return ""
	}
}

type fakeSink struct {
	errs    chan error
	dones   chan *mailnya.Mail
	allDone chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		errs:    make(chan error, 16),
		dones:   make(chan *mailnya.Mail, 16),
		allDone: make(chan struct{}, 16),
	}
}

func (f *fakeSink) OnError(err error)      { f.errs <- err }
func (f *fakeSink) OnDone(m *mailnya.Mail) { f.dones <- m }
func (f *fakeSink) OnAllDone()             { f.allDone <- struct{}{} }

// TestEhloFallsBackToHelo covers the one-shot EHLO-then-HELO fallback.
func TestEhloFallsBackToHelo(t *testing.T) {
	ft := newFakeTransport()
	var recv Receiver
	sess := New(Config{
		Host:         "mail.example.com",
		NewTransport: func(r Receiver) Transport { recv = r; return ft },
		Sink:         newFakeSink(),
	})

	sess.Connect()
	recv.Feed([]byte("220 hello\r\n"))

	cmd := nextWrite(t, ft.writes)
	if !strings.HasPrefix(cmd, "ehlo ") {
		t.Fatalf("expected ehlo, got %q", cmd)
	}

	recv.Feed([]byte("502 not implemented\r\n"))
	cmd = nextWrite(t, ft.writes)
	if !strings.HasPrefix(cmd, "helo ") {
		t.Fatalf("expected helo fallback, got %q", cmd)
	}
}

// TestStartTLSThenPipelinedSend covers STARTTLS upgrade-in-place, the
// RSET on the first sendNext() after authentication, and a pipelined
// MAIL/RCPT burst written ahead of any reply.
func TestStartTLSThenPipelinedSend(t *testing.T) {
	ft := newFakeTransport()
	ft.supportsStartTLS = true
	var recv Receiver
	sink := newFakeSink()

	sess := New(Config{
		Host:         "mail.example.com",
		NewTransport: func(r Receiver) Transport { recv = r; return ft },
		Sink:         sink,
	})

	sess.Connect()
	recv.Feed([]byte("220 hello\r\n"))
	if cmd := nextWrite(t, ft.writes); !strings.HasPrefix(cmd, "ehlo ") {
		t.Fatalf("got %q", cmd)
	}

	recv.Feed([]byte("250-mail.example.com\r\n"))
	recv.Feed([]byte("250-PIPELINING\r\n"))
	recv.Feed([]byte("250 STARTTLS\r\n"))

	if cmd := nextWrite(t, ft.writes); cmd != "starttls" {
		t.Fatalf("got %q, want starttls", cmd)
	}

	m := mailnya.NewMail("a@x", "subj", "body")
	m.To = []string{"r1@y", "r2@y"}
	sess.Send(m)

	recv.Feed([]byte("220 go ahead\r\n"))
	if cmd := nextWrite(t, ft.writes); !strings.HasPrefix(cmd, "ehlo ") {
		t.Fatalf("expected re-EHLO after STARTTLS, got %q", cmd)
	}

	recv.Feed([]byte("250-mail.example.com\r\n"))
	recv.Feed([]byte("250 PIPELINING\r\n"))

	// No AUTH offered and no username set: Authenticated is reached
	// directly, then the first SendNext() fires an RSET because
	// Authenticated != Waiting.
	if cmd := nextWrite(t, ft.writes); cmd != "rset" {
		t.Fatalf("got %q, want rset", cmd)
	}
	recv.Feed([]byte("250 ok\r\n"))

	if cmd := nextWrite(t, ft.writes); cmd != "mail from:<a@x>" {
		t.Fatalf("got %q", cmd)
	}
	if cmd := nextWrite(t, ft.writes); cmd != "rcpt to:<r1@y>" {
		t.Fatalf("got %q", cmd)
	}
	if cmd := nextWrite(t, ft.writes); cmd != "rcpt to:<r2@y>" {
		t.Fatalf("got %q", cmd)
	}

	recv.Feed([]byte("250 sender ok\r\n"))
	recv.Feed([]byte("250 rcpt1 ok\r\n"))
	recv.Feed([]byte("250 rcpt2 ok\r\n"))

	if cmd := nextWrite(t, ft.writes); cmd != "data" {
		t.Fatalf("got %q, want data", cmd)
	}
	recv.Feed([]byte("354 go ahead\r\n"))

	body := <-ft.writes
	if !strings.Contains(string(body), "Subject: subj") {
		t.Fatalf("body write missing subject: %q", body)
	}
	terminator := <-ft.writes
	if string(terminator) != "\r\n.\r\n" {
		t.Fatalf("got %q, want dot terminator", terminator)
	}

	recv.Feed([]byte("250 accepted\r\n"))

	select {
	case got := <-sink.dones:
		if got != m {
			t.Fatal("OnDone fired with the wrong mail")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnDone never fired")
	}
	select {
	case <-sink.allDone:
	case <-time.After(2 * time.Second):
		t.Fatal("OnAllDone never fired")
	}
}

// TestSendAppliesSessionDefaults covers the default_sender/
// default_recipients/default_subject session fields: a mail left blank
// in those positions is filled in from Config before submission.
func TestSendAppliesSessionDefaults(t *testing.T) {
	ft := newFakeTransport()
	var recv Receiver
	sink := newFakeSink()

	sess := New(Config{
		Host:              "mail.example.com",
		DefaultSender:     "fallback@x",
		DefaultRecipients: []string{"fallback@y"},
		DefaultSubject:    "fallback subject",
		NewTransport:      func(r Receiver) Transport { recv = r; return ft },
		Sink:              sink,
	})

	sess.Connect()
	recv.Feed([]byte("220 hello\r\n"))
	nextWrite(t, ft.writes) // ehlo
	recv.Feed([]byte("250 mail.example.com\r\n"))

	// No AUTH offered: Authenticated is reached directly, and with nothing
	// queued yet the first SendNext() moves straight to Waiting without
	// an RSET.
	select {
	case b := <-ft.writes:
		t.Fatalf("got %q, want no command before a mail is queued", b)
	case <-time.After(100 * time.Millisecond):
	}

	m := &mailnya.Mail{}
	sess.Send(m)

	if cmd := nextWrite(t, ft.writes); cmd != "mail from:<fallback@x>" {
		t.Fatalf("got %q", cmd)
	}
	recv.Feed([]byte("250 sender ok\r\n"))

	if cmd := nextWrite(t, ft.writes); cmd != "rcpt to:<fallback@y>" {
		t.Fatalf("got %q", cmd)
	}
	if m.Subject != "fallback subject" {
		t.Fatalf("subject = %q, want fallback applied", m.Subject)
	}
}

// TestCRAMMD5Handshake exercises a full CRAM-MD5 challenge/response
// round trip (RFC 2195).
func TestCRAMMD5Handshake(t *testing.T) {
	ft := newFakeTransport()
	var recv Receiver
	sink := newFakeSink()

	sess := New(Config{
		Host:         "mail.example.com",
		Username:     "joe",
		Password:     "secret",
		NewTransport: func(r Receiver) Transport { recv = r; return ft },
		Sink:         sink,
	})

	sess.Connect()
	recv.Feed([]byte("220 hello\r\n"))
	nextWrite(t, ft.writes) // ehlo

	recv.Feed([]byte("250-mail.example.com\r\n"))
	recv.Feed([]byte("250 AUTH CRAM-MD5\r\n"))

	if cmd := nextWrite(t, ft.writes); cmd != "auth cram-md5" {
		t.Fatalf("got %q", cmd)
	}

	challenge := []byte("<1896.697170952@test.example>")
	recv.Feed([]byte("334 " + base64.StdEncoding.EncodeToString(challenge) + "\r\n"))

	cmd := nextWrite(t, ft.writes)
	decoded, err := base64.StdEncoding.DecodeString(cmd)
	if err != nil {
		t.Fatal(err)
	}
	digest := cram.Sum([]byte("secret"), challenge)
	want := "joe " + hex.EncodeToString(digest[:])
	if string(decoded) != want {
		t.Fatalf("decoded response = %q, want %q", decoded, want)
	}

	recv.Feed([]byte("235 authenticated\r\n"))

	select {
	case err := <-sink.errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}
