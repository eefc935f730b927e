// Package dsserr defines the error taxonomy surfaced by every dss operation.
package dsserr

import (
	"errors"
	"strings"

	"pkt.systems/dss/internal/transport"
)

var (
	// ErrNetwork indicates the discovery endpoint could not be reached.
	ErrNetwork = errors.New("network error")
	// ErrDiscover indicates the discovery document is missing, malformed or
	// violates the topology schema.
	ErrDiscover = errors.New("discover error")
	// ErrGeneric covers local file errors and uncategorised transport failures.
	ErrGeneric = errors.New("generic error")
	// ErrNoSuchResource indicates an object or bucket was not found.
	ErrNoSuchResource = errors.New("no such resource")
	// ErrFileIO indicates the local download destination could not be written.
	ErrFileIO = errors.New("file io error")
	// ErrNewClient indicates bootstrap verification failed.
	ErrNewClient = errors.New("new client error")
	// ErrNoIterator indicates a finished listing cursor was advanced again.
	ErrNoIterator = errors.New("no iterator")
)

// Error is a classified failure. errors.Is matches both Kind and the wrapped
// cause.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("dss")
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	b.WriteString(": ")
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// New returns a classified error without a cause.
func New(kind error, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap classifies err as kind. A nil err yields nil.
func Wrap(kind error, op, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// FromTransport maps a transport failure onto the taxonomy: not-found
// becomes ErrNoSuchResource and everything else ErrGeneric. Errors that are
// already classified pass through unchanged.
func FromTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	if errors.Is(err, transport.ErrNotFound) {
		return &Error{Kind: ErrNoSuchResource, Op: op, Err: err}
	}
	return &Error{Kind: ErrGeneric, Op: op, Err: err}
}

// KindOf returns the taxonomy sentinel carried by err, or nil.
func KindOf(err error) error {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return nil
}
