package privacy

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/muxable/lehci/pkg/hci"
)

// generator derives private addresses and rotation intervals from a random
// source. A failing random source is unrecoverable and panics.
type generator struct {
	rand   io.Reader
	public hci.Address
}

func (g *generator) read(p []byte) {
	if _, err := io.ReadFull(g.rand, p); err != nil {
		panic(fmt.Sprintf("privacy: random source failed: %v", err))
	}
}

// redraw returns a random byte in [0x01, 0xfe], used to replace the lowest
// byte of a degenerate draw.
func (g *generator) redraw() byte {
	var b [1]byte
	g.read(b[:])
	return b[0]%0xfe + 1
}

// resolvable derives a resolvable private address: a 24-bit prand marked
// with 01 in its two most significant bits, followed by the 24-bit hash of
// the prand under the IRK.
func (g *generator) resolvable(irk hci.IRK) hci.Address {
	var prand [3]byte
	g.read(prand[:])
	prand[2] &= 0x3f
	// the random part of prand shall not be all zero or all one
	if (prand[0] == 0x00 && prand[1] == 0x00 && prand[2] == 0x00) ||
		(prand[0] == 0xff && prand[1] == 0xff && prand[2] == 0x3f) {
		prand[0] = g.redraw()
	}
	prand[2] |= 0x40

	var addr hci.Address
	addr[3] = prand[0]
	addr[4] = prand[1]
	addr[5] = prand[2]
	hash := ah(irk, prand)
	addr[0] = hash[0]
	addr[1] = hash[1]
	addr[2] = hash[2]
	return addr
}

// nonResolvable derives a non-resolvable private address: 46 random bits
// with the two most significant bits cleared. The result never collides
// with the public address.
func (g *generator) nonResolvable() hci.Address {
	var addr hci.Address
	g.read(addr[:])
	addr[5] &= 0x3f
	if randomPartDegenerate(addr) {
		addr[0] = g.redraw()
	}
	for addr == g.public {
		addr[0] = g.redraw()
	}
	return addr
}

// interval draws a uniformly distributed rotation delay in [min, max).
func (g *generator) interval(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	var b [8]byte
	g.read(b[:])
	return min + time.Duration(binary.LittleEndian.Uint64(b[:])%uint64(max-min))
}

// ah is the random address hash function: the low 24 bits of one AES-128
// block over the zero-padded prand, keyed with the IRK. prand[0] is the
// least significant byte.
func ah(irk hci.IRK, prand [3]byte) [3]byte {
	var key [16]byte
	for i := range key {
		key[i] = irk[15-i]
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		panic(err)
	}
	var in, out [16]byte
	in[13] = prand[2]
	in[14] = prand[1]
	in[15] = prand[0]
	block.Encrypt(out[:], in[:])
	return [3]byte{out[15], out[14], out[13]}
}

// randomPartDegenerate reports whether the low 46 bits of addr are all zero
// or all one.
func randomPartDegenerate(addr hci.Address) bool {
	allZero := addr[0] == 0x00 && addr[1] == 0x00 && addr[2] == 0x00 &&
		addr[3] == 0x00 && addr[4] == 0x00 && addr[5]&0x3f == 0x00
	allOne := addr[0] == 0xff && addr[1] == 0xff && addr[2] == 0xff &&
		addr[3] == 0xff && addr[4] == 0xff && addr[5]&0x3f == 0x3f
	return allZero || allOne
}
