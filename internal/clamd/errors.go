package clamd

import (
	"errors"
	"io"
	"net"
	"syscall"
)

var (
	// ErrConnection is returned when clamd could not be reached or dropped the connection.
	ErrConnection = errors.New("clamd connection error")
	// ErrScan is returned when clamd answered a scan command with an ERROR line.
	ErrScan = errors.New("clamd scan error")
	// ErrResponse is returned when clamd's reply could not be interpreted.
	ErrResponse = errors.New("unexpected clamd response")

	// errNoReply is clamd accepting a command and closing the socket without
	// a single reply line, as it does while restarting or when its queue is full.
	errNoReply = errors.New("connection closed without a reply")
)

// isTransport reports whether err came from the network rather than from clamd itself.
func isTransport(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, errNoReply) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ENOENT)
}
