package smtp

// AuthMethod is a bit set over the three supported SASL mechanisms,
// giving the caller an explicit opt-in per mechanism rather than
// inferring one from which credentials are set.
type AuthMethod uint8

const (
	AuthPlain AuthMethod = 1 << iota
	AuthLogin
	AuthCRAMMD5

	AuthAll = AuthPlain | AuthLogin | AuthCRAMMD5
)

// DefaultPort reports the conventional submission port for a given TLS
// posture.
func DefaultPort(tlsAvailable bool) uint16 {
	if tlsAvailable {
		return 465
	}
	return 25
}

// Config bundles everything a Session needs to run a submission session
// against one host: identity, credentials, the allowed auth mechanisms,
// fallback envelope defaults for otherwise-empty mails, and the
// collaborators this package does not implement itself - the Transport
// factory, an optional wire Logger, and the EventSink the caller observes
// results through.
type Config struct {
	Host     string
	Username string
	Password string

	// AllowedAuth defaults to AuthAll (all three mechanisms on) when
	// left zero.
	AllowedAuth AuthMethod

	DefaultSender     string
	DefaultRecipients []string
	DefaultSubject    string

	// NewTransport constructs the Transport for one connection attempt,
	// wired to deliver bytes back into the Session via the Receiver it
	// is handed. The transport contract (TCP/TLS, line notification,
	// upgrade-in-place, disconnect) is deliberately left to the caller -
	// see nettransport for the reference implementation over net.Conn.
	NewTransport func(Receiver) Transport

	Logger Logger
	Sink   EventSink
}

func (c Config) allowedAuth() AuthMethod {
	if c.AllowedAuth == 0 {
		return AuthAll
	}
	return c.AllowedAuth
}
