// Package snoop writes btsnoop capture files, the format consumed by
// Wireshark and most Bluetooth analyzers.
package snoop

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/benbjohnson/clock"
)

// Direction of a captured packet relative to the host.
type Direction int

const (
	DirectionSent     Direction = iota // host to controller
	DirectionReceived                  // controller to host
)

const (
	// datalink type for HCI UART (H4) captures.
	datalinkH4 = 1002

	// microseconds between 0 AD (the btsnoop epoch) and the Unix epoch.
	unixEpochDelta = 0x00dcddb30f2f8000
)

var magic = []byte{'b', 't', 's', 'n', 'o', 'o', 'p', 0}

// Writer appends H4-framed packets to a btsnoop v1 stream. It is safe for
// concurrent use.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	clk clock.Clock
}

// NewWriter writes the btsnoop file header to w and returns a Writer that
// appends packet records to it.
func NewWriter(w io.Writer) (*Writer, error) {
	hdr := make([]byte, 16)
	copy(hdr, magic)
	binary.BigEndian.PutUint32(hdr[8:], 1)
	binary.BigEndian.PutUint32(hdr[12:], datalinkH4)
	if _, err := w.Write(hdr); err != nil {
		return nil, err
	}
	return &Writer{w: w, clk: clock.New()}, nil
}

// Create creates or truncates the file at path and returns a Writer on it.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Write records one packet. pkt must include the leading H4 indicator byte.
func (w *Writer) Write(d Direction, pkt []byte) error {
	if len(pkt) == 0 {
		return io.ErrShortWrite
	}
	var flags uint32
	if d == DirectionReceived {
		flags |= 1
	}
	switch pkt[0] {
	case 0x01, 0x04: // command or event
		flags |= 2
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	hdr := make([]byte, 24)
	binary.BigEndian.PutUint32(hdr[0:], uint32(len(pkt)))
	binary.BigEndian.PutUint32(hdr[4:], uint32(len(pkt)))
	binary.BigEndian.PutUint32(hdr[8:], flags)
	binary.BigEndian.PutUint32(hdr[12:], 0)
	binary.BigEndian.PutUint64(hdr[16:], uint64(w.clk.Now().UnixMicro())+unixEpochDelta)
	if _, err := w.w.Write(hdr); err != nil {
		return err
	}
	_, err := w.w.Write(pkt)
	return err
}

// Close closes the underlying writer if it is an io.Closer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
