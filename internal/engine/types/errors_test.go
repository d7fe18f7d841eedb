package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindPermanent},
		{"context cancelled", context.Canceled, KindCancelled},
		{"wrapped cancellation", fmt.Errorf("fetch: %w", context.Canceled), KindCancelled},
		{"deadline exceeded", context.DeadlineExceeded, KindTransient},
		{"http 429", &StatusError{Code: 429, URL: "u"}, KindTransient},
		{"http 500", &StatusError{Code: 500, URL: "u"}, KindTransient},
		{"http 503", &StatusError{Code: 503, URL: "u"}, KindTransient},
		{"http 404", &StatusError{Code: 404, URL: "u"}, KindPermanent},
		{"http 403", &StatusError{Code: 403, URL: "u"}, KindPermanent},
		{"wrapped status", fmt.Errorf("page 3: %w", &StatusError{Code: 502}), KindTransient},
		{"net timeout", timeoutErr{}, KindTransient},
		{"connection reset", syscall.ECONNRESET, KindTransient},
		{"connection refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, KindTransient},
		{"dns nxdomain", &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}, KindPermanent},
		{"dns nxdomain in op error", &net.OpError{Op: "dial", Err: &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}}, KindPermanent},
		{"dns timeout", &net.DNSError{Err: "i/o timeout", Name: "slow.example", IsTimeout: true}, KindTransient},
		{"broken pipe", syscall.EPIPE, KindTransient},
		{"disk error", &DiskError{Path: "/x", Err: errors.New("no space")}, KindPermanent},
		{"disk error wrapping transient", &DiskError{Path: "/x", Err: syscall.ECONNRESET}, KindPermanent},
		{"not found sentinel", ErrNotFound, KindPermanent},
		{"gone sentinel", ErrGone, KindPermanent},
		{"malformed descriptor", ErrMalformedDescriptor, KindPermanent},
		{"unknown error", errors.New("something odd"), KindPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestStatusErrorRateLimited(t *testing.T) {
	if !(&StatusError{Code: 429}).RateLimited() {
		t.Error("429 should report rate limited")
	}
	if (&StatusError{Code: 500}).RateLimited() {
		t.Error("500 should not report rate limited")
	}
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{Code: 503, URL: "https://example.com/x", RetryAfter: 2 * time.Second}
	msg := err.Error()
	if msg != "unexpected status 503 fetching https://example.com/x" {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestDiskErrorUnwrap(t *testing.T) {
	inner := errors.New("read-only filesystem")
	err := &DiskError{Path: "/out/a.png", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("DiskError should unwrap to inner error")
	}
}
