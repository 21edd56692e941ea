package debugserver

import (
	"bufio"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/muxctl/internal/protocol"
)

// Lockdown names of the debugserver service. The secure proxy name is tried
// first; older firmware only exposes the plain one.
const (
	SecureServiceName = "com.apple.debugserver.DVTSecureSocketProxy"
	ServiceName       = "com.apple.debugserver"
)

const maxResends = 3

var (
	ErrErrorReply         = errors.New("debugserver: error reply")
	ErrUnsupportedCommand = errors.New("debugserver: command not supported")
	ErrNoAck              = errors.New("debugserver: packet not acknowledged")
	ErrClosed             = errors.New("debugserver: client closed")
)

// ReplyError is an E.. reply to a command.
type ReplyError struct {
	Command string
	Reply   string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("debugserver: %q replied %q", e.Command, e.Reply)
}

func (e *ReplyError) Unwrap() error {
	return ErrErrorReply
}

// Client is one debugserver connection in ack mode.
type Client struct {
	mu     sync.Mutex
	conn   protocol.Conn
	r      *bufio.Reader
	closed bool
}

func NewClient(conn protocol.Conn) *Client {
	return &Client{conn: conn, r: bufio.NewReader(conn.Reader())}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// SendCommand sends one command packet and returns the decoded reply.
// E.. replies come back as *ReplyError, empty replies as
// ErrUnsupportedCommand.
func (c *Client) SendCommand(command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}

	if err := c.send([]byte(command)); err != nil {
		return "", fmt.Errorf("debugserver: send %q: %w", command, err)
	}
	reply, err := ReadPacket(c.r)
	if err != nil {
		return "", fmt.Errorf("debugserver: read reply to %q: %w", command, err)
	}
	if err := c.conn.Send([]byte{ack}); err != nil {
		return "", fmt.Errorf("debugserver: ack reply to %q: %w", command, err)
	}
	return classify(command, string(reply))
}

// SetArgv sets the launch arguments of the process to start.
func (c *Client) SetArgv(args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("%w: empty argv", protocol.ErrInvalidLength)
	}
	return c.SendCommand(EncodeArgv(args))
}

func (c *Client) send(payload []byte) error {
	frame := Encode(payload)
	for attempt := 0; attempt <= maxResends; attempt++ {
		if err := c.conn.Send(frame); err != nil {
			return err
		}
		b, err := c.r.ReadByte()
		if err != nil {
			return err
		}
		switch b {
		case ack:
			return nil
		case nack:
			continue
		default:
			if err := c.r.UnreadByte(); err != nil {
				return err
			}
			return fmt.Errorf("%w: got %q", ErrNoAck, b)
		}
	}
	return fmt.Errorf("%w: %d resends", ErrNoAck, maxResends)
}

func classify(command, reply string) (string, error) {
	switch {
	case reply == "":
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCommand, command)
	case len(reply) >= 2 && reply[0] == 'E':
		return reply, &ReplyError{Command: command, Reply: reply}
	default:
		return reply, nil
	}
}
