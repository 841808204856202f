// Package nettransport is the reference smtp.Transport: a plain or
// TLS-wrapped net.Conn with one reader goroutine feeding bytes back to
// the session, and client-side STARTTLS (RFC 3207) upgrade-in-place.
package nettransport

import (
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/nyacpp/mailnya/smtp"
)

// Mode selects how (and whether) TLS applies to the connection.
type Mode uint8

const (
	ModeUnencrypted Mode = iota
	ModeSTARTTLS
	ModeForceTLS
)

// Config describes one dial target.
type Config struct {
	Proto   string // "tcp", "tcp4", or "tcp6"; defaults to "tcp"
	Addr    string // host:port
	Mode    Mode
	Timeout time.Duration
}

// TLSConfig returns the TLS client configuration this package dials
// with - curve and cipher-suite preferences per "So you want to expose
// Go on the Internet": https://blog.cloudflare.com/exposing-go-on-the-internet/
func TLSConfig(hostName string) *tls.Config {
	return &tls.Config{
		ServerName:               hostName,
		PreferServerCipherSuites: true,
		CurvePreferences: []tls.CurveID{
			tls.CurveP256,
			tls.X25519,
		},
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

// Transport implements smtp.Transport over net.Conn/tls.Conn. Exactly
// one goroutine ever calls Read on the underlying socket - the one
// spawned by Connect - so StartTLS cannot race it: it hands the upgrade
// to that same goroutine over upgradeReq and forces the goroutine's
// current blocked Read to return early via SetReadDeadline, rather than
// performing the handshake's own Reads from a second goroutine.
type Transport struct {
	cfg      Config
	receiver smtp.Receiver
	hostName string

	upgradeReq chan chan error

	mu   sync.Mutex
	conn net.Conn
}

// New builds a Transport that delivers inbound bytes to receiver - the
// smtp.Session constructed alongside it via Config.NewTransport.
func New(cfg Config, hostName string, receiver smtp.Receiver) *Transport {
	if cfg.Proto == "" {
		cfg.Proto = "tcp"
	}
	return &Transport{
		cfg:        cfg,
		hostName:   hostName,
		receiver:   receiver,
		upgradeReq: make(chan chan error),
	}
}

func (t *Transport) Connect() error {
	dialer := &net.Dialer{Timeout: t.cfg.Timeout, KeepAlive: -1}

	var conn net.Conn
	var err error
	if t.cfg.Mode == ModeForceTLS {
		conn, err = tls.DialWithDialer(dialer, t.cfg.Proto, t.cfg.Addr, TLSConfig(t.hostName))
	} else {
		conn, err = dialer.Dial(t.cfg.Proto, t.cfg.Addr)
	}
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn)
	return nil
}

func (t *Transport) readLoop(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			t.receiver.Feed(buf[:n])
		}
		if err == nil {
			continue
		}

		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			select {
			case respCh := <-t.upgradeReq:
				conn.SetReadDeadline(time.Time{})
				tlsConn := tls.Client(conn, TLSConfig(t.hostName))
				hsErr := tlsConn.Handshake()
				if hsErr == nil {
					conn = tlsConn
					t.mu.Lock()
					t.conn = tlsConn
					t.mu.Unlock()
				}
				respCh <- hsErr
			default:
				// Spurious deadline trip with nothing pending: keep reading.
			}
			continue
		}

		t.receiver.Closed(err)
		return
	}
}

func (t *Transport) SupportsStartTLS() bool {
	return t.cfg.Mode == ModeSTARTTLS
}

// StartTLS asks the reader goroutine to perform the handshake on the
// connection it already owns, interrupting its current blocked Read
// with an immediate deadline so the request is noticed promptly.
func (t *Transport) StartTLS(serverName string) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return net.ErrClosed
	}

	respCh := make(chan error, 1)
	conn.SetReadDeadline(time.Now())
	t.upgradeReq <- respCh
	return <-respCh
}

func (t *Transport) Write(p []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return net.ErrClosed
	}
	_, err := conn.Write(p)
	return err
}

func (t *Transport) Disconnect() error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
