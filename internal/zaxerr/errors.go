// Package zaxerr defines the typed error taxonomy shared by the relay
// session, mailbox façade, keyring, and encrypted store.
package zaxerr

import (
	"errors"
	"fmt"
)

// Kind is the category of a failure, matching spec §7.
type Kind int

const (
	// KindNetwork means the HTTP transport failed (no response, or a
	// non-2xx the caller should interpret itself).
	KindNetwork Kind = iota
	// KindProtocol means the relay returned a response that violates
	// the wire framing or parsing rules.
	KindProtocol
	// KindCrypto means box_open/secretbox_open/KV decryption reported
	// an authentication failure outside download's passthrough case.
	KindCrypto
	// KindInvariant means a programming error: unknown guest, unknown
	// command, missing storage driver, proving before opening a session.
	KindInvariant
	// KindTimeout means an RNG sanity check or HTTP-level timeout fired.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindProtocol:
		return "protocol"
	case KindCrypto:
		return "crypto"
	case KindInvariant:
		return "invariant"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is the single wrapped-error type carrying a Kind, the
// operation that raised it, and optional context fields.
type Error struct {
	Kind    Kind
	Op      string
	URL     string
	Command string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.URL != "" {
		msg += fmt.Sprintf(" url=%s", e.URL)
	}
	if e.Command != "" {
		msg += fmt.Sprintf(" cmd=%s", e.Command)
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, zaxerr.Net) and friends by comparing Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(k Kind, op string, err error) *Error {
	return &Error{Kind: k, Op: op, Err: err}
}

// Network builds a KindNetwork error, optionally carrying an HTTP status.
func Network(op string, status int, err error) *Error {
	e := newErr(KindNetwork, op, err)
	e.Status = status
	return e
}

// Protocol builds a KindProtocol error for malformed/wrong-arity
// relay responses.
func Protocol(op, url, command string, err error) *Error {
	e := newErr(KindProtocol, op, err)
	e.URL = url
	e.Command = command
	return e
}

// Crypto builds a KindCrypto error for authentication failures.
func Crypto(op string, err error) *Error {
	return newErr(KindCrypto, op, err)
}

// Invariant builds a KindInvariant error for programming errors.
func Invariant(op, detail string) *Error {
	return newErr(KindInvariant, op, errors.New(detail))
}

// Timeout builds a KindTimeout error.
func Timeout(op string, err error) *Error {
	return newErr(KindTimeout, op, err)
}

// sentinels usable with errors.Is(err, zaxerr.Net)
var (
	Net       = &Error{Kind: KindNetwork}
	Proto     = &Error{Kind: KindProtocol}
	CryptoErr = &Error{Kind: KindCrypto}
	Inv       = &Error{Kind: KindInvariant}
	TimeoutErr = &Error{Kind: KindTimeout}
)

// KindOf returns the Kind of err if it (or something it wraps) is a
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
