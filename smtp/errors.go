package smtp

import "errors"

// errNoTransport fires if a Config with no NewTransport factory is
// connected - a caller error, not a protocol one.
var errNoTransport = errors.New("smtp: Config.NewTransport is nil")

// errResetRejected covers a non-2xx reply to RSET (RFC 5321 §4.1.1.5).
var errResetRejected = errors.New("smtp: RSET rejected by server")
