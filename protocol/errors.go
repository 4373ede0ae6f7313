package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"syscall"
)

// Kind is the class of a failed protocol call. It is a closed set; callers are expected to switch over it
// exhaustively.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindRefused
	KindAddressInvalid
	KindRedirect
	KindHTTPStatus
	KindEmptyBody
	KindSchemaInvalid
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRefused:
		return "refused"
	case KindAddressInvalid:
		return "address invalid"
	case KindRedirect:
		return "redirect"
	case KindHTTPStatus:
		return "http status"
	case KindEmptyBody:
		return "empty body"
	case KindSchemaInvalid:
		return "schema invalid"
	default:
		return "unknown"
	}
}

// Error is returned by every failed Client call.
type Error struct {
	Kind    Kind
	Request RequestKind
	// StatusCode is set for KindRedirect and KindHTTPStatus.
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Request, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s %d", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or KindUnknown if err did not come from a Client.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}

// transportKind maps an error raised while dialing or talking to a peer onto a Kind.
func transportKind(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return KindTimeout
		}
		return KindAddressInvalid
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) {
		return KindAddressInvalid
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindRefused
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return KindTimeout
	case errors.Is(err, syscall.EINVAL), errors.Is(err, syscall.EADDRNOTAVAIL):
		return KindAddressInvalid
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Op == "parse" {
		return KindAddressInvalid
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	return KindUnknown
}
