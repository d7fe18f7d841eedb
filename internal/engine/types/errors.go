package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// ErrorKind classifies a task failure for retry and reporting decisions.
type ErrorKind int

const (
	// KindTransient errors may succeed on retry: timeouts, connection
	// resets, HTTP 5xx and HTTP 429.
	KindTransient ErrorKind = iota
	// KindPermanent errors fail the task immediately: HTTP 4xx other
	// than 429, malformed descriptors, disk-write failures.
	KindPermanent
	// KindCancelled marks failures caused by explicit cancellation.
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Sentinel errors shared between the engine and adapters.
var (
	// ErrNotFound is returned by ResolveDirect when a URL does not map
	// to a known media item.
	ErrNotFound = errors.New("media not found")
	// ErrGone is returned by ResolveMedia when a descriptor no longer
	// resolves to fetchable content.
	ErrGone = errors.New("media gone")
	// ErrMalformedDescriptor marks descriptors the engine cannot act on.
	ErrMalformedDescriptor = errors.New("malformed descriptor")
)

// StatusError carries an unexpected HTTP status. RetryAfter is non-zero
// when the server supplied a usable Retry-After header.
type StatusError struct {
	Code       int
	URL        string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.Code, e.URL)
}

// RateLimited reports whether the status is a remote 429.
func (e *StatusError) RateLimited() bool { return e.Code == http.StatusTooManyRequests }

// DiskError wraps a local write failure so it classifies as permanent even
// when the underlying error looks transient (e.g. EINTR).
type DiskError struct {
	Path string
	Err  error
}

func (e *DiskError) Error() string { return fmt.Sprintf("write %s: %v", e.Path, e.Err) }
func (e *DiskError) Unwrap() error { return e.Err }

// Classify maps an error to its retry class. Context cancellation is
// distinguished from per-request deadline expiry: the former means the job
// was cancelled, the latter is an ordinary network timeout.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindPermanent
	}

	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}

	var disk *DiskError
	if errors.As(err, &disk) {
		return KindPermanent
	}

	var status *StatusError
	if errors.As(err, &status) {
		switch {
		case status.Code == http.StatusTooManyRequests:
			return KindTransient
		case status.Code >= 500:
			return KindTransient
		case status.Code >= 400:
			return KindPermanent
		default:
			return KindPermanent
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	// NXDOMAIN does not heal on retry; other DNS failures may.
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return KindPermanent
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return KindTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindTransient
	}

	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrGone) ||
		errors.Is(err, ErrMalformedDescriptor) {
		return KindPermanent
	}

	return KindPermanent
}
