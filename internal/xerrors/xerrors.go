// Package xerrors names the proxy's error kinds and maps them to the HTTP
// status codes the worker pipeline replies with, following the error
// taxonomy laid out for the proxy. It builds on github.com/pkg/errors,
// the same wrapping idiom the teacher's common and cmd packages use
// throughout for adding context to an error without losing its cause.
package xerrors

import "github.com/pkg/errors"

// Kind classifies an error the worker pipeline can produce, each bound to
// a fixed reply status.
type Kind int

const (
	// KindMalformedRequest covers a request line or header block the
	// parser cannot make sense of.
	KindMalformedRequest Kind = iota
	// KindUnsupportedMethod is any method other than GET.
	KindUnsupportedMethod
	// KindUpstreamUnreachable covers DNS failures and connect failures.
	KindUpstreamUnreachable
	// KindPeerReset covers EPIPE/ECONNRESET mid-stream; not repliable,
	// since the peer is already gone.
	KindPeerReset
)

// Status returns the HTTP status code a Kind replies with. KindPeerReset
// has no reply: the peer that would receive it is already disconnected.
func (k Kind) Status() int {
	switch k {
	case KindMalformedRequest:
		return 400
	case KindUnsupportedMethod:
		return 501
	case KindUpstreamUnreachable:
		return 404
	default:
		return 0
	}
}

// Error pairs a Kind with the underlying cause, so callers can both
// render a reply and log the real error.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string { return e.cause.Error() }
func (e *Error) Unwrap() error { return e.cause }

// New wraps cause (msg formats like fmt.Sprintf when args are given) as
// an Error of the given Kind.
func New(kind Kind, cause error, msg string, args ...interface{}) *Error {
	return &Error{Kind: kind, cause: errors.Wrapf(cause, msg, args...)}
}

// IsPeerReset reports whether err (or something it wraps) is an *Error of
// KindPeerReset, the kind the worker pipeline gives to EPIPE/ECONNRESET
// disconnects it tolerates without treating the teardown as a failure.
func IsPeerReset(err error) bool {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Kind == KindPeerReset
	}
	return false
}
