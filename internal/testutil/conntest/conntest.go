// Package conntest provides in-memory device service connections.
package conntest

import (
	"io"
	"net"
	"testing"
)

// Conn adapts one end of a net.Pipe to the service connection contract.
type Conn struct {
	net.Conn
}

func (c Conn) Send(message []byte) error {
	_, err := c.Write(message)
	return err
}

func (c Conn) Reader() io.Reader {
	return c.Conn
}

// Pipe returns a client connection and the device end that a fake service
// serves from. Both ends are closed when the test ends.
func Pipe(t *testing.T) (Conn, net.Conn) {
	t.Helper()
	clientEnd, deviceEnd := net.Pipe()
	t.Cleanup(func() {
		_ = clientEnd.Close()
		_ = deviceEnd.Close()
	})
	return Conn{Conn: clientEnd}, deviceEnd
}
