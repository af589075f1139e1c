package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

var (
	ErrSchemaNotFound = errors.New("schema not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrBadResponse    = errors.New("unexpected provider response")
	ErrDisabled       = errors.New("provider disabled")
)

// ErrorKind drives the retry decision for a failed attempt.
type ErrorKind int

const (
	Permanent ErrorKind = iota
	Transient
	RateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate limited"
	default:
		return "permanent"
	}
}

// UpstreamError is a failed attempt against a provider.
type UpstreamError struct {
	Kind       ErrorKind
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream %s error (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("upstream %s error: %v", e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// classifyTransportError decides whether a client-side failure is worth retrying.
func classifyTransportError(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return Transient
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return Transient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Transient
	}
	return Permanent
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == 429:
		return RateLimited
	case status >= 500:
		return Transient
	default:
		return Permanent
	}
}
