package debugserver

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	packetStart  = '$'
	packetEnd    = '#'
	escapeByte   = '}'
	runLength    = '*'
	notifyStart  = '%'
	escapeXor    = 0x20
	ack          = '+'
	nack         = '-'
	rleBase      = 29
	checksumSize = 2
)

// MaxPacketBytes bounds a single decoded reply.
const MaxPacketBytes = 1 << 20

var (
	ErrBadChecksum    = errors.New("debugserver: bad packet checksum")
	ErrPacketTooLarge = errors.New("debugserver: packet too large")
	ErrMalformed      = errors.New("debugserver: malformed packet")
)

// Encode frames payload as $<escaped>#<checksum>.
func Encode(payload []byte) []byte {
	body := make([]byte, 0, len(payload)+4)
	for _, b := range payload {
		switch b {
		case packetStart, packetEnd, escapeByte, runLength:
			body = append(body, escapeByte, b^escapeXor)
		default:
			body = append(body, b)
		}
	}
	out := make([]byte, 0, len(body)+4)
	out = append(out, packetStart)
	out = append(out, body...)
	out = append(out, packetEnd)
	return append(out, fmt.Sprintf("%02x", checksum(body))...)
}

func checksum(b []byte) uint8 {
	var sum uint8
	for _, c := range b {
		sum += c
	}
	return sum
}

// ReadPacket reads the next packet, skipping stray acks and notifications,
// verifies its checksum and returns the decoded payload.
func ReadPacket(r *bufio.Reader) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == packetStart {
			break
		}
		if b == notifyStart {
			if _, err := readBody(r); err != nil {
				return nil, err
			}
		}
	}
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	return decodeBody(body)
}

func readBody(r *bufio.Reader) ([]byte, error) {
	var body []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == packetEnd {
			break
		}
		if len(body) >= MaxPacketBytes {
			return nil, ErrPacketTooLarge
		}
		body = append(body, b)
	}
	var sum [checksumSize]byte
	for i := range sum {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		sum[i] = b
	}
	want, err := strconv.ParseUint(string(sum[:]), 16, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: checksum %q", ErrMalformed, sum[:])
	}
	if got := checksum(body); uint64(got) != want {
		return nil, fmt.Errorf("%w: got=%02x want=%02x", ErrBadChecksum, got, want)
	}
	return body, nil
}

// decodeBody undoes escaping and run-length encoding.
func decodeBody(body []byte) ([]byte, error) {
	out := make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		b := body[i]
		switch b {
		case escapeByte:
			if i+1 >= len(body) {
				return nil, fmt.Errorf("%w: dangling escape", ErrMalformed)
			}
			i++
			out = append(out, body[i]^escapeXor)
		case runLength:
			if len(out) == 0 || i+1 >= len(body) {
				return nil, fmt.Errorf("%w: dangling run length", ErrMalformed)
			}
			i++
			n := int(body[i]) - rleBase
			if n < 0 {
				return nil, fmt.Errorf("%w: run length %d", ErrMalformed, n)
			}
			if len(out)+n > MaxPacketBytes {
				return nil, ErrPacketTooLarge
			}
			last := out[len(out)-1]
			for j := 0; j < n; j++ {
				out = append(out, last)
			}
		default:
			out = append(out, b)
		}
	}
	return out, nil
}

// EncodeArgv builds the A packet payload: A<hexlen>,<index>,<hex>,...
func EncodeArgv(args []string) string {
	var sb strings.Builder
	sb.WriteByte('A')
	for i, arg := range args {
		if i > 0 {
			sb.WriteByte(',')
		}
		encoded := strings.ToUpper(hex.EncodeToString([]byte(arg)))
		sb.WriteString(strconv.Itoa(len(encoded)))
		sb.WriteByte(',')
		sb.WriteString(strconv.Itoa(i))
		sb.WriteByte(',')
		sb.WriteString(encoded)
	}
	return sb.String()
}
