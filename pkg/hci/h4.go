package hci

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/muxable/lehci/pkg/snoop"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// H4Conn frames packets with the UART (H4) transport over a stream
// connection, such as a TCP link to an emulated controller.
type H4Conn struct {
	conn    net.Conn
	r       *bufio.Reader
	rmu     sync.Mutex
	wmu     sync.Mutex
	capture *snoop.Writer
}

func NewH4Conn(conn net.Conn) *H4Conn {
	return &H4Conn{conn: conn, r: bufio.NewReader(conn)}
}

// DialH4 connects to a controller listening on a TCP address, such as a
// rootcanal instance on localhost:6402.
func DialH4(addr string) (*H4Conn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewH4Conn(conn), nil
}

// Capture records all traffic to w. The H4Conn takes ownership of w and
// closes it on Close. Must be called before the first packet is exchanged.
func (c *H4Conn) Capture(w *snoop.Writer) {
	c.capture = w
}

func (c *H4Conn) ReadPacket() (Packet, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	indicator, err := c.r.ReadByte()
	if err != nil {
		return nil, err
	}
	var hdr []byte
	var plen int
	switch PacketType(indicator) {
	case PacketTypeCommand:
		hdr = make([]byte, 3)
		if _, err := io.ReadFull(c.r, hdr); err != nil {
			return nil, err
		}
		plen = int(hdr[2])
	case PacketTypeACLData:
		hdr = make([]byte, 4)
		if _, err := io.ReadFull(c.r, hdr); err != nil {
			return nil, err
		}
		plen = int(binary.LittleEndian.Uint16(hdr[2:4]))
	case PacketTypeSynchronousData:
		hdr = make([]byte, 3)
		if _, err := io.ReadFull(c.r, hdr); err != nil {
			return nil, err
		}
		plen = int(hdr[2])
	case PacketTypeEvent:
		hdr = make([]byte, 2)
		if _, err := io.ReadFull(c.r, hdr); err != nil {
			return nil, err
		}
		plen = int(hdr[1])
	default:
		return nil, fmt.Errorf("unknown h4 indicator 0x%02x", indicator)
	}
	buf := make([]byte, 1+len(hdr)+plen)
	buf[0] = indicator
	copy(buf[1:], hdr)
	if _, err := io.ReadFull(c.r, buf[1+len(hdr):]); err != nil {
		return nil, err
	}
	zap.L().Debug("bluetooth reading", zap.String("packet", fmt.Sprintf("%x", buf)))
	if c.capture != nil {
		if err := c.capture.Write(snoop.DirectionReceived, buf); err != nil {
			return nil, err
		}
	}
	return Unmarshal(buf)
}

func (c *H4Conn) WritePacket(p Packet) error {
	buf, err := p.Marshal()
	if err != nil {
		return err
	}
	zap.L().Debug("bluetooth writing", zap.String("packet", fmt.Sprintf("%x", buf)))
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.conn.Write(buf); err != nil {
		return err
	}
	if c.capture != nil {
		return c.capture.Write(snoop.DirectionSent, buf)
	}
	return nil
}

func (c *H4Conn) Close() error {
	err := c.conn.Close()
	if c.capture != nil {
		err = multierr.Append(err, c.capture.Close())
	}
	return err
}
