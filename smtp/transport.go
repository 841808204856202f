package smtp

// Receiver is how a Transport delivers inbound data back to the Session
// that owns it. Both methods must be called from a single goroutine -
// the Session treats them as just another source of actor messages,
// serialised against Connect/Disconnect/Send so that one socket event
// may consume several reply lines and emit several commands without any
// locking.
type Receiver interface {
	// Feed appends newly-read bytes to the session's receive buffer.
	Feed(data []byte)
	// Closed reports the transport has stopped delivering data, with the
	// error that ended it (nettransport passes its read error, io.EOF
	// for a remote close).
	Closed(err error)
}

// Transport is the underlying socket abstraction: an ordered byte-stream
// connection with TLS upgrade-in-place (RFC 3207) and explicit
// disconnect. Any implementation satisfying this contract may be used;
// nettransport.New is the reference one, built over net.Conn/tls.Conn.
type Transport interface {
	// Connect opens the connection (TLS-wrapped up front for a
	// FORCETLS-style transport, or plain for one that upgrades later via
	// StartTLS). Bytes read afterwards must be delivered through the
	// Receiver passed to the transport's constructor.
	Connect() error

	// SupportsStartTLS reports whether StartTLS may be called - a
	// transport already TLS-wrapped at Connect time, or one with no TLS
	// configured at all, returns false.
	SupportsStartTLS() bool

	// StartTLS performs the client-side TLS handshake in place over the
	// existing connection.
	StartTLS(serverName string) error

	// Write sends a command verbatim; the caller supplies CRLF.
	Write(p []byte) error

	// Disconnect closes the connection. Calling it after Connect failed
	// or Closed has already fired is a no-op.
	Disconnect() error
}

// Logger observes the wire conversation for diagnostics.
type Logger interface {
	Sent(line string)
	Received(line string)
}

type nopLogger struct{}

func (nopLogger) Sent(string)     {}
func (nopLogger) Received(string) {}
