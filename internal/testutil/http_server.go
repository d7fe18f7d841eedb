// Package testutil provides the HTTP fixtures the adapter, fetch, and
// session tests stand their fake booru APIs and media hosts on.
package testutil

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

// listen4 binds an IPv4 loopback listener. Sandboxed CI runners often
// lack a usable IPv6 stack, which breaks httptest's default listener.
func listen4() (net.Listener, error) {
	return net.Listen("tcp4", "127.0.0.1:0")
}

func serve(ln net.Listener, handler http.Handler) *httptest.Server {
	srv := &httptest.Server{
		Listener: ln,
		Config:   &http.Server{Handler: handler},
	}
	srv.Start()
	return srv
}

// NewHTTPServer starts an IPv4-bound httptest server, falling back to
// the default listener when IPv4 binding fails.
func NewHTTPServer(handler http.Handler) *httptest.Server {
	ln, err := listen4()
	if err != nil {
		return httptest.NewServer(handler)
	}
	return serve(ln, handler)
}

// NewHTTPServerT starts an IPv4-bound httptest server and skips the
// test when no loopback listener is available.
func NewHTTPServerT(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	ln, err := listen4()
	if err != nil {
		t.Skipf("tcp4 listener unavailable: %v", err)
		return nil
	}
	return serve(ln, handler)
}
