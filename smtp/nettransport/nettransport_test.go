package nettransport

import (
	"crypto/tls"
	"testing"
)

func TestTLSConfigPinsMinVersionAndServerName(t *testing.T) {
	cfg := TLSConfig("mail.example.com")
	if cfg.ServerName != "mail.example.com" {
		t.Fatalf("ServerName = %q", cfg.ServerName)
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Fatalf("MinVersion = %v, want TLS 1.2", cfg.MinVersion)
	}
	if len(cfg.CipherSuites) == 0 {
		t.Fatal("expected an explicit cipher suite list")
	}
}

type nopReceiver struct{}

func (nopReceiver) Feed([]byte)  {}
func (nopReceiver) Closed(error) {}

func TestNewDefaultsProtoToTCP(t *testing.T) {
	tr := New(Config{Addr: "localhost:25"}, "localhost", nopReceiver{})
	if tr.cfg.Proto != "tcp" {
		t.Fatalf("Proto = %q, want tcp", tr.cfg.Proto)
	}
}

func TestSupportsStartTLSReflectsMode(t *testing.T) {
	tr := New(Config{Addr: "localhost:25", Mode: ModeSTARTTLS}, "localhost", nopReceiver{})
	if !tr.SupportsStartTLS() {
		t.Fatal("expected STARTTLS support for ModeSTARTTLS")
	}
	tr2 := New(Config{Addr: "localhost:465", Mode: ModeForceTLS}, "localhost", nopReceiver{})
	if tr2.SupportsStartTLS() {
		t.Fatal("ModeForceTLS should not offer STARTTLS")
	}
}
