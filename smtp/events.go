package smtp

import "github.com/nyacpp/mailnya"

// EventSink is how a Session reports results back to its caller. Every
// method is invoked from the Session's own actor goroutine, so an
// EventSink that touches shared state must synchronise itself.
type EventSink interface {
	OnError(err error)
	OnDone(m *mailnya.Mail)
	OnAllDone()
}
