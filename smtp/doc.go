// Package smtp drives an ESMTP submission session as a single-threaded
// cooperative state machine: greeting, EHLO with HELO fallback, optional
// STARTTLS, PLAIN/LOGIN/CRAM-MD5 authentication, and one-or-many
// pipelined mail transactions.
//
// The Session never calls into its Transport and waits for a reply
// inline; everything happens on one actor goroutine reached only
// through Connect, Disconnect, Send, and the Transport's callbacks into
// Session.Feed/Closed - see doc comments on Transport and Receiver.
package smtp
