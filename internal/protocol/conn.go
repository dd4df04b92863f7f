package protocol

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"yqhp/cherry/pkg/utils"
)

// MaxLineSize bounds a single framed message.
const MaxLineSize = 64 * 1024

// ErrLineTooLong is returned when a peer sends a line longer than MaxLineSize.
var ErrLineTooLong = errors.New("protocol: line too long")

// Conn frames messages as one JSON object per line over a net.Conn. Writes
// are serialized; reads must come from a single goroutine.
type Conn struct {
	raw    net.Conn
	reader *bufio.Reader

	wmu          sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once
	done         chan struct{}
}

// NewConn wraps raw.
func NewConn(raw net.Conn) *Conn {
	return &Conn{
		raw:    raw,
		reader: bufio.NewReader(raw),
		done:   make(chan struct{}),
	}
}

// Dial connects to addr and wraps the connection.
func Dial(network, addr string, timeout time.Duration) (*Conn, error) {
	raw, err := net.DialTimeout(network, addr, timeout)
	if err != nil {
		return nil, err
	}
	return NewConn(raw), nil
}

// Send writes each message on its own line.
func (c *Conn) Send(msgs ...Message) error {
	for _, msg := range msgs {
		data, err := Encode(msg)
		if err != nil {
			return err
		}
		if err := c.WriteLine(data); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSON writes v as one framed line. Used for the file-distribution port,
// whose messages are not part of the join-port union.
func (c *Conn) WriteJSON(v any) error {
	data, err := utils.ToJSONBytes(v)
	if err != nil {
		return err
	}
	return c.WriteLine(data)
}

// WriteLine writes an already encoded message and its terminator. data is not
// modified, so one encoding can be shared between connections.
func (c *Conn) WriteLine(data []byte) error {
	line := make([]byte, len(data)+1)
	copy(line, data)
	line[len(data)] = '\n'
	_, err := c.Write(line)
	return err
}

// Write writes raw bytes, serialized with framed writes.
func (c *Conn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.writeTimeout <= 0 {
		return c.raw.Write(p)
	}

	if err := c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return 0, err
	}
	n, err := c.raw.Write(p)
	if err != nil {
		// a partial line breaks the framing; the peer is dropped
		_ = c.Close()
	}
	return n, err
}

// SetWriteTimeout bounds every following write by d. A write that fails or
// times out closes the connection. Zero leaves deadlines to the caller.
func (c *Conn) SetWriteTimeout(d time.Duration) {
	c.wmu.Lock()
	c.writeTimeout = d
	c.wmu.Unlock()
}

// ReadLine returns the next line without its terminator. Blank lines are
// skipped.
func (c *Conn) ReadLine() ([]byte, error) {
	for {
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}
		if len(line) > 0 {
			return line, nil
		}
	}
}

func (c *Conn) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := c.reader.ReadSlice('\n')
		if len(line)+len(chunk) > MaxLineSize {
			return nil, ErrLineTooLong
		}
		line = append(line, chunk...)
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && len(line) > 0 {
			break
		}
		return nil, err
	}
	n := len(line)
	for n > 0 && (line[n-1] == '\n' || line[n-1] == '\r') {
		n--
	}
	return line[:n], nil
}

// Receive reads one line and decodes it with decode. A decode error leaves
// the connection usable.
func (c *Conn) Receive(decode Decoder) (Message, error) {
	line, err := c.ReadLine()
	if err != nil {
		return nil, err
	}
	return decode(line)
}

// ReadJSON reads one line into v.
func (c *Conn) ReadJSON(v any) error {
	line, err := c.ReadLine()
	if err != nil {
		return err
	}
	if err := sonic.Unmarshal(line, v); err != nil {
		return errors.Join(ErrMalformed, err)
	}
	return nil
}

// Reader exposes buffered input for raw payloads that follow a framed line.
func (c *Conn) Reader() io.Reader {
	return c.reader
}

// SetReadDeadline sets the read deadline of the underlying connection.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.raw.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline of the underlying connection.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.raw.SetWriteDeadline(t)
}

// RemoteIP returns the peer's IP address.
func (c *Conn) RemoteIP() string {
	addr := c.raw.RemoteAddr()
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.raw.Close()
	})
	return err
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
