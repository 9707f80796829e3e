package ldapsvc

import (
	"context"
	"fmt"
	"io"
	"net"

	logging "github.com/op/go-logging"

	"github.com/dmguessant/xchangeldap/pkg/ber"
	"github.com/dmguessant/xchangeldap/pkg/exchange"
	"github.com/dmguessant/xchangeldap/pkg/stats"
)

// Conn is the per-socket state machine: it owns the accepted net.Conn end
// to end, reads one framed BER message at a time, and serializes all
// writes back to the client. A Conn is used by exactly one goroutine.
type Conn struct {
	raw     net.Conn
	enc     *ber.Encoder
	log     *logging.Logger
	factory exchange.SessionFactory
	gateway string // value of davmail.url, used in the base-context description

	version int // LDAP protocol version learned from Bind; defaults to 3
	session exchange.Session
}

// NewConn wraps an accepted socket. factory may be nil only in tests that
// never exercise a bound search.
func NewConn(raw net.Conn, log *logging.Logger, factory exchange.SessionFactory, gatewayURL string) *Conn {
	return &Conn{
		raw:     raw,
		enc:     ber.NewEncoder(),
		log:     log,
		factory: factory,
		gateway: gatewayURL,
		version: Version3,
	}
}

// Serve runs the request loop until EOF, a read timeout, or a transport
// error. It always releases any bound session and closes the socket
// before returning.
func (c *Conn) Serve(ctx context.Context) {
	defer c.close()
	for {
		frame, err := readFrame(c.raw)
		if err != nil {
			if err == io.EOF {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.log.Debug("ldapsvc: closing connection on read timeout")
				return
			}
			c.log.Debug(fmt.Sprintf("ldapsvc: transport error: %v", err))
			return
		}
		if err := c.handleRequest(ctx, frame); err != nil {
			c.log.Warning(fmt.Sprintf("ldapsvc: error handling request: %v", err))
			return
		}
	}
}

func (c *Conn) close() {
	if c.session != nil && c.factory != nil {
		c.factory.Release(c.session)
		c.session = nil
	}
	c.raw.Close()
	stats.Frontend.Add("closes", 1)
}

// readFrame reads one LDAPMessage frame off the wire: the outer tag (must
// be SEQUENCE|CONSTRUCTED), its short- or long-form length, then exactly
// that many content bytes, growing the buffer as needed. It returns the
// full frame (tag+length+content) ready for ber.NewDecoder.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:1]); err != nil {
		return nil, err
	}
	if hdr[0] != ber.TagSequenceOf {
		return nil, &ber.ProtocolError{Msg: fmt.Sprintf("expected SEQUENCE|CONSTRUCTED, got 0x%02x", hdr[0])}
	}
	if _, err := io.ReadFull(r, hdr[1:2]); err != nil {
		return nil, err
	}

	length := int(hdr[1])
	lenOctets := hdr[1:2]
	if hdr[1]&0x80 != 0 {
		n := int(hdr[1] & 0x7f)
		if n == 0 || n > 4 {
			return nil, &ber.ProtocolError{Msg: fmt.Sprintf("unsupported length form (%d octets)", n)}
		}
		extra := make([]byte, n)
		if _, err := io.ReadFull(r, extra); err != nil {
			return nil, err
		}
		length = 0
		for _, b := range extra {
			length = (length << 8) | int(b)
		}
		lenOctets = append(append([]byte{}, hdr[1]), extra...)
	}

	content := make([]byte, length)
	if _, err := io.ReadFull(r, content); err != nil {
		return nil, err
	}

	frame := make([]byte, 0, 1+len(lenOctets)+length)
	frame = append(frame, hdr[0])
	frame = append(frame, lenOctets...)
	frame = append(frame, content...)
	return frame, nil
}

func (c *Conn) isV3() bool { return c.version == Version3 }

// writeMessage flushes the encoder's current buffer to the socket as one
// atomic write — the invariant that a response never interleaves partial
// messages.
func (c *Conn) writeMessage() error {
	_, err := c.raw.Write(c.enc.Bytes())
	return err
}
