// Package resp implements the subset of the Redis Serialization Protocol
// needed to speak to a local Redis server: array-of-bulk-strings command
// encoding and reply decoding.
//
// Commands are encoded with explicit length prefixes, so an argument value
// containing "\r\n" is transmitted as one opaque token and can never be read
// by the server as a protocol boundary or a second command. This holds
// independently of any sanitization the configuration layer performs on the
// argument — the two defenses are deliberately redundant.
package resp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ErrProtocol indicates a malformed or unsupported reply from the server.
var ErrProtocol = errors.New("resp: protocol error")

// maxBulkLen caps bulk string payloads read from the server. An INFO reply
// from a busy server is a few tens of KB; 8MB leaves generous headroom while
// bounding memory against a misbehaving peer.
const maxBulkLen = 8 << 20

// EncodeCommand encodes a command and its arguments as a RESP array of bulk
// strings. Each argument is preceded by its exact byte length, so the result
// is safe for arbitrary argument bytes, including CR, LF, and NUL.
func EncodeCommand(args ...string) []byte {
	if len(args) == 0 {
		return nil
	}
	size := 1 + intLen(len(args)) + 2
	for _, a := range args {
		size += 1 + intLen(len(a)) + 2 + len(a) + 2
	}
	buf := make([]byte, 0, size)
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(len(args)), 10)
	buf = append(buf, '\r', '\n')
	for _, a := range args {
		buf = append(buf, '$')
		buf = strconv.AppendInt(buf, int64(len(a)), 10)
		buf = append(buf, '\r', '\n')
		buf = append(buf, a...)
		buf = append(buf, '\r', '\n')
	}
	return buf
}

func intLen(n int) int {
	if n == 0 {
		return 1
	}
	l := 0
	for n > 0 {
		l++
		n /= 10
	}
	return l
}

// Reply is a decoded server reply.
type Reply struct {
	// Kind is the RESP type byte: '+' simple string, '-' error, ':' integer,
	// '$' bulk string, '*' array.
	Kind byte
	Str  string
	Int  int64
	// Nil reports a null bulk string or null array ($-1 / *-1).
	Nil   bool
	Array []Reply
}

// IsError reports whether the reply is a server error ("-ERR ...").
func (r Reply) IsError() bool { return r.Kind == '-' }

// ReadReply reads one reply from the server.
func ReadReply(br *bufio.Reader) (Reply, error) {
	line, err := readLine(br)
	if err != nil {
		return Reply{}, err
	}
	if len(line) == 0 {
		return Reply{}, fmt.Errorf("%w: empty reply line", ErrProtocol)
	}
	kind, rest := line[0], string(line[1:])
	switch kind {
	case '+', '-':
		return Reply{Kind: kind, Str: rest}, nil
	case ':':
		n, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return Reply{}, fmt.Errorf("%w: bad integer %q", ErrProtocol, rest)
		}
		return Reply{Kind: kind, Int: n}, nil
	case '$':
		n, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return Reply{}, fmt.Errorf("%w: bad bulk length %q", ErrProtocol, rest)
		}
		if n == -1 {
			return Reply{Kind: kind, Nil: true}, nil
		}
		if n < 0 || n > maxBulkLen {
			return Reply{}, fmt.Errorf("%w: bulk length %d out of range", ErrProtocol, n)
		}
		buf := make([]byte, n+2)
		if _, err := io.ReadFull(br, buf); err != nil {
			return Reply{}, err
		}
		if buf[n] != '\r' || buf[n+1] != '\n' {
			return Reply{}, fmt.Errorf("%w: bulk string missing terminator", ErrProtocol)
		}
		return Reply{Kind: kind, Str: string(buf[:n])}, nil
	case '*':
		n, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return Reply{}, fmt.Errorf("%w: bad array length %q", ErrProtocol, rest)
		}
		if n == -1 {
			return Reply{Kind: kind, Nil: true}, nil
		}
		if n < 0 || n > 1<<20 {
			return Reply{}, fmt.Errorf("%w: array length %d out of range", ErrProtocol, n)
		}
		arr := make([]Reply, 0, n)
		for i := int64(0); i < n; i++ {
			el, err := ReadReply(br)
			if err != nil {
				return Reply{}, err
			}
			arr = append(arr, el)
		}
		return Reply{Kind: kind, Array: arr}, nil
	default:
		return Reply{}, fmt.Errorf("%w: unknown reply type %q", ErrProtocol, kind)
	}
}

// DecodeCommand reads one encoded command (an array of bulk strings) and
// returns its arguments. It is the conformant-reader counterpart of
// EncodeCommand, used to verify round-trip behavior.
func DecodeCommand(br *bufio.Reader) ([]string, error) {
	reply, err := ReadReply(br)
	if err != nil {
		return nil, err
	}
	if reply.Kind != '*' || reply.Nil {
		return nil, fmt.Errorf("%w: expected array, got %q", ErrProtocol, reply.Kind)
	}
	args := make([]string, 0, len(reply.Array))
	for _, el := range reply.Array {
		if el.Kind != '$' || el.Nil {
			return nil, fmt.Errorf("%w: expected bulk string element, got %q", ErrProtocol, el.Kind)
		}
		args = append(args, el.Str)
	}
	return args, nil
}

func readLine(br *bufio.Reader) ([]byte, error) {
	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, fmt.Errorf("%w: line missing CRLF terminator", ErrProtocol)
	}
	return line[:len(line)-2], nil
}
