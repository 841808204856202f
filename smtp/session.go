package smtp

import (
	"bytes"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/nyacpp/mailnya"
	"github.com/nyacpp/mailnya/internal/addr"
)

var replyLineRe = regexp.MustCompile(`^(\d{3})([ -])(.*)$`)

type opKind int

const (
	opConnect opKind = iota
	opDisconnect
	opSend
	opFeed
	opClosed
)

type op struct {
	kind opKind
	mail *mailnya.Mail
	data []byte
	err  error
}

// Session is a single-threaded cooperative ESMTP submission automaton:
// every field below this comment is touched only from the run()
// goroutine, which serialises the external commands (Connect,
// Disconnect, Send) against the Transport's own Feed/Closed callbacks
// through the ops channel, so no mutex guards session state.
type Session struct {
	cfg       Config
	transport Transport
	logger    Logger

	ops chan op

	state      State
	authType   authMethod
	extensions map[string]string
	pending    []*mailnya.Mail
	recipients []string
	rcptNumber int
	rcptAck    int
	mailAck    bool
	inBuf      []byte
	localName  string
}

// New builds a Session and starts its actor goroutine. The Session is
// Disconnected until Connect is called.
func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}
	s := &Session{
		cfg:        cfg,
		logger:     cfg.Logger,
		ops:        make(chan op, 16),
		state:      Disconnected,
		extensions: map[string]string{},
	}
	go s.run()
	return s
}

// Connect opens the connection and begins the ESMTP dialogue.
func (s *Session) Connect() { s.ops <- op{kind: opConnect} }

// Disconnect tears the session down and discards anything pending.
func (s *Session) Disconnect() { s.ops <- op{kind: opDisconnect} }

// Send enqueues mail for submission. FIFO order is preserved regardless
// of whether the server advertises PIPELINING.
func (s *Session) Send(mail *mailnya.Mail) { s.ops <- op{kind: opSend, mail: mail} }

// Feed implements Receiver: the Transport's reader goroutine hands newly
// read bytes to the actor here.
func (s *Session) Feed(data []byte) { s.ops <- op{kind: opFeed, data: append([]byte(nil), data...)} }

// Closed implements Receiver: the Transport reports it has stopped
// delivering data, with a nil err for a clean remote close.
func (s *Session) Closed(err error) { s.ops <- op{kind: opClosed, err: err} }

func (s *Session) run() {
	for o := range s.ops {
		switch o.kind {
		case opConnect:
			s.doConnect()
		case opDisconnect:
			s.doDisconnect()
		case opSend:
			s.pending = append(s.pending, o.mail)
			if s.state == Waiting {
				s.sendNext()
			}
		case opFeed:
			s.inBuf = append(s.inBuf, o.data...)
			s.drainLines()
		case opClosed:
			if o.err != nil && s.state != Disconnected {
				s.emitError(o.err)
			}
			s.state = Disconnected
			s.pending = nil
		}
	}
}

func (s *Session) doConnect() {
	if s.state != Disconnected {
		return
	}
	if s.cfg.NewTransport == nil {
		s.emitError(errNoTransport)
		return
	}
	s.state = Start
	s.localName = bestLocalAddr()
	s.extensions = map[string]string{}
	s.transport = s.cfg.NewTransport(s)
	if err := s.transport.Connect(); err != nil {
		s.emitError(err)
		s.state = Disconnected
	}
}

func (s *Session) doDisconnect() {
	if s.transport != nil {
		s.transport.Disconnect()
	}
	s.state = Disconnected
	s.pending = nil
}

func (s *Session) quitAndDisconnect() {
	if s.transport != nil {
		s.writeLine("quit")
		s.transport.Disconnect()
	}
	s.state = Disconnected
	s.pending = nil
}

func (s *Session) drainLines() {
	for {
		idx := bytes.Index(s.inBuf, []byte("\r\n"))
		if idx == -1 {
			return
		}
		line := s.inBuf[:idx]
		s.inBuf = s.inBuf[idx+2:]

		m := replyLineRe.FindSubmatch(line)
		if m == nil {
			continue
		}
		code, _ := strconv.Atoi(string(m[1]))
		cont := string(m[2]) == "-"
		text := string(m[3])
		s.logger.Received(fmt.Sprintf("%03d%s%s", code, string(m[2]), text))
		s.handleLine(code, cont, text)
	}
}

func (s *Session) writeLine(cmd string) {
	s.logger.Sent(cmd)
	if s.transport != nil {
		_ = s.transport.Write([]byte(cmd + "\r\n"))
	}
}

func (s *Session) emitError(err error) {
	if s.cfg.Sink != nil {
		s.cfg.Sink.OnError(err)
	}
}

func (s *Session) popAndAdvance() {
	if len(s.pending) > 0 {
		s.pending = s.pending[1:]
	}
	if len(s.pending) == 0 && s.cfg.Sink != nil {
		s.cfg.Sink.OnAllDone()
	}
}

// handleLine dispatches one parsed reply line to the handler for the
// current state, one small function per state rather than one
// sprawling switch of booleans.
func (s *Session) handleLine(code int, cont bool, text string) {
	switch s.state {
	case Start, EhloSent, EhloGreetReceived, HeloSent:
		s.handleHelloLine(code, cont, text)
	case StartTlsSent:
		s.handleStartTLSReply(code)
	case AuthRequestSent:
		s.handleAuthRequestReply(code, text)
	case AuthUsernameSent:
		s.handleAuthUsernameReply(code)
	case AuthSent:
		s.handleAuthSentReply(code)
	case MailToSent, RcptAckPending:
		s.handleMailReply(code)
	case SendingBody:
		s.handleSendingBodyReply(code)
	case BodySent:
		s.handleBodySentReply(code)
	case Resetting:
		s.handleResettingReply(code)
	}
}

// handleHelloLine handles the initial 220 greeting, the EHLO extension
// lines (RFC 5321 §4.1.1.1), and the one-shot EHLO-then-HELO fallback
// RFC 5321 §4.1.4 permits for servers that don't understand EHLO.
func (s *Session) handleHelloLine(code int, cont bool, text string) {
	switch s.state {
	case Start:
		if code/100 == 2 {
			s.writeLine("ehlo " + s.localName)
			s.state = EhloSent
		} else {
			s.emitError(mailnya.ErrProtocolGreeting)
			s.quitAndDisconnect()
		}

	case EhloSent, EhloGreetReceived:
		if code/100 != 2 {
			s.writeLine("helo " + s.localName)
			s.state = HeloSent
			return
		}
		if s.state == EhloSent {
			if cont {
				s.state = EhloGreetReceived
			} else {
				s.enterEhloDone()
			}
			return
		}
		// EhloGreetReceived: subsequent 250 lines are extensions.
		if name, rest, ok := splitExtension(text); ok {
			s.extensions[strings.ToUpper(name)] = rest
		}
		if !cont {
			s.enterEhloDone()
		}

	case HeloSent:
		if code/100 != 2 {
			s.emitError(mailnya.ErrHelloRejected)
			s.quitAndDisconnect()
			return
		}
		s.extensions = map[string]string{}
		s.enterEhloDone()
	}
}

func splitExtension(text string) (name, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", "", false
	}
	if i := strings.IndexByte(text, ' '); i != -1 {
		return text[:i], text[i+1:], true
	}
	return text, "", true
}

// enterEhloDone implements step 4: STARTTLS if offered and available,
// else straight to authentication.
func (s *Session) enterEhloDone() {
	s.state = EhloDone
	if _, ok := s.extensions["STARTTLS"]; ok && s.transport != nil && s.transport.SupportsStartTLS() {
		s.writeLine("starttls")
		s.state = StartTlsSent
		return
	}
	s.authenticate()
}

// handleStartTLSReply implements step 5.
func (s *Session) handleStartTLSReply(code int) {
	if code == 220 {
		if err := s.transport.StartTLS(s.cfg.Host); err != nil {
			s.emitError(err)
			s.quitAndDisconnect()
			return
		}
		s.extensions = map[string]string{}
		s.writeLine("ehlo " + s.localName)
		s.state = EhloSent
		return
	}
	s.authenticate()
}

// authenticate implements step 6: mechanism selection, or skipping
// straight to Authenticated when there is nothing to negotiate.
func (s *Session) authenticate() {
	param, hasAuth := s.extensions["AUTH"]
	if !hasAuth || s.cfg.Username == "" {
		s.state = Authenticated
		s.sendNext()
		return
	}

	method := chooseAuthMethod(param, s.cfg.allowedAuth())
	if method == authNone {
		s.state = Authenticated
		s.sendNext()
		return
	}

	s.authType = method
	switch method {
	case authCRAMMD5:
		s.writeLine("auth cram-md5")
	case authPlain:
		s.writeLine("auth plain")
	case authLogin:
		s.writeLine("auth login")
	}
	s.state = AuthRequestSent
}

// handleAuthRequestReply handles the first continuation prompt (RFC
// 4954 §4) for all three mechanisms. A non-334 prompt is treated as an
// auth failure - leaving it unchecked would hang the session on a
// non-conforming server.
func (s *Session) handleAuthRequestReply(code int, text string) {
	if code != 334 {
		s.emitError(mailnya.ErrAuthFailed)
		s.quitAndDisconnect()
		return
	}

	switch s.authType {
	case authPlain:
		s.writeLine(authPlainResponse(s.cfg.Username, s.cfg.Password))
		s.state = AuthSent
	case authLogin:
		s.writeLine(authLoginUsername(s.cfg.Username))
		s.state = AuthUsernameSent
	case authCRAMMD5:
		resp, err := authCRAMMD5Response(s.cfg.Username, s.cfg.Password, strings.TrimSpace(text))
		if err != nil {
			s.emitError(mailnya.ErrUnexpectedServerChallenge)
			s.quitAndDisconnect()
			return
		}
		s.writeLine(resp)
		s.state = AuthSent
	}
}

func (s *Session) handleAuthUsernameReply(code int) {
	if code != 334 {
		s.emitError(mailnya.ErrAuthFailed)
		s.quitAndDisconnect()
		return
	}
	s.writeLine(authLoginPassword(s.cfg.Password))
	s.state = AuthSent
}

func (s *Session) handleAuthSentReply(code int) {
	if code/100 == 2 {
		s.state = Authenticated
		s.sendNext()
		return
	}
	s.emitError(mailnya.ErrAuthFailed)
	s.quitAndDisconnect()
}

// sendNext is the per-mail-transaction entry point. Notably, when mail
// is already queued, the very first call after authentication issues an
// RSET: Authenticated is not Waiting, so the "state != Waiting" branch
// fires before anything has ever been sent - a defensive RSET against
// whatever transaction state a prior connection attempt might have left
// behind, matching RFC 5321 §4.1.1.5's guidance to reset on demand.
// With an empty queue the call moves straight to Waiting and sends
// nothing.
func (s *Session) sendNext() {
	if s.state == Disconnected {
		return
	}
	if len(s.pending) == 0 {
		s.state = Waiting
	}
	if s.state != Waiting {
		s.writeLine("rset")
		s.state = Resetting
		return
	}
	if len(s.pending) == 0 {
		return
	}

	mail := s.pending[0]
	s.applyDefaults(mail)
	s.recipients = flattenRecipients(mail)
	if len(s.recipients) == 0 {
		s.emitError(mailnya.ErrNoRecipients)
		s.popAndAdvance()
		s.sendNext()
		return
	}

	s.mailAck = false
	s.rcptAck = 0
	s.rcptNumber = 0

	sender := addr.Extract(mail.Sender)
	s.writeLine("mail from:<" + sender + ">")

	if _, pipelining := s.extensions["PIPELINING"]; pipelining {
		for _, r := range s.recipients {
			s.writeLine("rcpt to:<" + addr.Extract(r) + ">")
		}
		s.state = RcptAckPending
	} else {
		s.state = MailToSent
	}
}

// applyDefaults fills in a mail's sender, recipients, and subject from
// the session's configured defaults when the mail leaves them empty.
func (s *Session) applyDefaults(mail *mailnya.Mail) {
	if mail.Sender == "" {
		mail.Sender = s.cfg.DefaultSender
	}
	if len(mail.To) == 0 && len(mail.Cc) == 0 && len(mail.Bcc) == 0 {
		mail.To = s.cfg.DefaultRecipients
	}
	if mail.Subject == "" {
		mail.Subject = s.cfg.DefaultSubject
	}
}

func flattenRecipients(m *mailnya.Mail) []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	out = append(out, m.Bcc...)
	return out
}

// handleMailReply processes one MAIL/RCPT reply. The same rcptNumber/
// rcptAck bookkeeping handles both the un-pipelined case, where each
// RCPT is sent only after the previous reply arrives, and the
// PIPELINING case, where every RCPT for a transaction is already
// in flight before the first reply comes back (see DESIGN.md for the
// trace justifying this).
func (s *Session) handleMailReply(code int) {
	if code/100 != 2 {
		if !s.mailAck {
			s.emitError(mailnya.ErrSenderRejected)
		} else {
			s.emitError(mailnya.ErrRecipientRejected)
		}
	} else if !s.mailAck {
		s.mailAck = true
	} else {
		s.rcptAck++
	}

	switch {
	case s.rcptNumber == len(s.recipients) && s.rcptAck == 0:
		s.emitError(mailnya.ErrNoRecipients)
		s.popAndAdvance()
		s.sendNext()

	case s.rcptNumber == len(s.recipients) && s.rcptAck > 0:
		s.writeLine("data")
		s.state = SendingBody

	case s.state != RcptAckPending:
		s.writeLine("rcpt to:<" + addr.Extract(s.recipients[s.rcptNumber]) + ">")
		s.rcptNumber++

	default:
		s.rcptNumber++
	}
}

func (s *Session) handleSendingBodyReply(code int) {
	if code/100 != 3 {
		s.emitError(mailnya.ErrBodyRejected)
		s.popAndAdvance()
		s.sendNext()
		return
	}

	mail := s.pending[0]
	raw := mail.Bytes()
	s.logger.Sent(fmt.Sprintf("<message body, %d bytes>", len(raw)))
	if s.transport != nil {
		_ = s.transport.Write(raw)
		_ = s.transport.Write([]byte("\r\n.\r\n"))
	}
	s.state = BodySent
}

func (s *Session) handleBodySentReply(code int) {
	mail := s.pending[0]
	if code/100 == 2 {
		if s.cfg.Sink != nil {
			s.cfg.Sink.OnDone(mail)
		}
	} else {
		s.emitError(mailnya.ErrBodyRejected)
	}
	s.popAndAdvance()
	s.sendNext()
}

func (s *Session) handleResettingReply(code int) {
	if code/100 == 2 {
		s.state = Waiting
	} else {
		s.emitError(errResetRejected)
	}
	s.sendNext()
}

// bestLocalAddr returns the first non-loopback local IPv4 address, or
// "127.0.0.1" if none is found, for use as the EHLO/HELO domain
// argument (RFC 5321 §4.1.4 only requires it identify the client).
func bestLocalAddr() string {
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}
	return "127.0.0.1"
}
