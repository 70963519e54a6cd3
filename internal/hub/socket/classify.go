package socket

import (
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/gorilla/websocket"
)

// transientErrnos are the socket errors seen while a hub restarts or the
// network is briefly away.
var transientErrnos = map[syscall.Errno]bool{
	syscall.ECONNREFUSED: true,
	syscall.ETIMEDOUT:    true,
	syscall.EHOSTUNREACH: true,
	syscall.ENETUNREACH:  true,
	syscall.ECONNRESET:   true,
	syscall.ECONNABORTED: true,
	syscall.EPIPE:        true,
}

// isTransient reports whether a dial failure should be retried.
// resp is the handshake response, if the server sent one.
//
// Anything not positively recognised as transient is fatal.
func isTransient(err error, resp *http.Response) bool {
	if err == nil {
		return false
	}

	// A proxy in front of a restarting hub answers 502/503/504.
	if errors.Is(err, websocket.ErrBadHandshake) {
		return resp != nil && resp.StatusCode >= http.StatusInternalServerError
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsNotFound || dnsErr.IsTimeout
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return transientErrnos[errno]
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
