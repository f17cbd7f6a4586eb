package session

import (
	"errors"
	"strings"
)

// ErrorKind classifies session failures
type ErrorKind string

const (
	KindConfig              ErrorKind = "config"
	KindUnsupported         ErrorKind = "unsupported"
	KindPermission          ErrorKind = "permission"
	KindDeviceNotFound      ErrorKind = "device_not_found"
	KindNoChannelsAvailable ErrorKind = "no_channels_available"
	KindDecode              ErrorKind = "decode"
	KindAlreadyInProgress   ErrorKind = "already_in_progress"
	KindCancelled           ErrorKind = "cancelled"
	KindConnectionFailed    ErrorKind = "connection_failed"
	KindAlreadyConnected    ErrorKind = "already_connected"
	KindNotConnected        ErrorKind = "not_connected"
)

func (k ErrorKind) readable() string {
	return strings.ReplaceAll(string(k), "_", " ")
}

// Error is the error type returned by every Session operation
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(e.Kind.readable())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

var (
	ErrConfig              = &Error{Kind: KindConfig}
	ErrUnsupported         = &Error{Kind: KindUnsupported}
	ErrPermission          = &Error{Kind: KindPermission}
	ErrDeviceNotFound      = &Error{Kind: KindDeviceNotFound}
	ErrNoChannelsAvailable = &Error{Kind: KindNoChannelsAvailable}
	ErrDecode              = &Error{Kind: KindDecode}
	ErrAlreadyInProgress   = &Error{Kind: KindAlreadyInProgress}
	ErrCancelled           = &Error{Kind: KindCancelled}
	ErrConnectionFailed    = &Error{Kind: KindConnectionFailed}
	ErrAlreadyConnected    = &Error{Kind: KindAlreadyConnected}
	ErrNotConnected        = &Error{Kind: KindNotConnected}
)

func newError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of a session error, or "" for foreign errors
func KindOf(err error) ErrorKind {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind
	}
	return ""
}

// Retryable reports whether calling ScanAndConnect again may succeed
// without changing configuration.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindPermission, KindDeviceNotFound, KindNoChannelsAvailable, KindConnectionFailed, KindCancelled:
		return true
	default:
		return false
	}
}
