package protocol

import "io"

// Conn is a started device service connection. Send writes one framed
// message; Reader streams everything the service sends back.
type Conn interface {
	Send(message []byte) error
	Reader() io.Reader
	Close() error
}
