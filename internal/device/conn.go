package device

import (
	"io"

	"github.com/danielpaulus/go-ios/ios"
	"github.com/danmuck/muxctl/internal/protocol"
)

// serviceConn narrows a go-ios device connection to protocol.Conn.
type serviceConn struct {
	conn ios.DeviceConnectionInterface
}

func connectService(entry ios.DeviceEntry, service string) (protocol.Conn, error) {
	conn, err := ios.ConnectToService(entry, service)
	if err != nil {
		return nil, err
	}
	return serviceConn{conn: conn}, nil
}

func (c serviceConn) Send(message []byte) error {
	return c.conn.Send(message)
}

func (c serviceConn) Reader() io.Reader {
	return c.conn.Reader()
}

func (c serviceConn) Close() error {
	return c.conn.Close()
}
