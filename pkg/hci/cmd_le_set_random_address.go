package hci

import (
	"encoding/binary"
	"errors"
	"io"
)

// Section 7.8.4
type HCILESetRandomAddressCommandPacket struct {
	RandomAddress Address
}

func (p *HCILESetRandomAddressCommandPacket) Marshal() ([]byte, error) {
	buf := make([]byte, 10)
	buf[0] = byte(PacketTypeCommand)
	binary.LittleEndian.PutUint16(buf[1:], uint16(OpcodeLESetRandomAddress))
	buf[3] = 6
	copy(buf[4:], p.RandomAddress[:])
	return buf, nil
}

func (p *HCILESetRandomAddressCommandPacket) Unmarshal(buf []byte) error {
	if buf[0] != byte(PacketTypeCommand) || binary.LittleEndian.Uint16(buf[1:]) != uint16(OpcodeLESetRandomAddress) {
		return errors.New("incorrect packet")
	}
	if buf[3] != 6 || len(buf) != 10 {
		return io.ErrShortBuffer
	}
	copy(p.RandomAddress[:], buf[4:])
	return nil
}

func (p *HCILESetRandomAddressCommandPacket) Opcode() Opcode {
	return OpcodeLESetRandomAddress
}

func (a *Adapter) LESetRandomAddress(addr Address) error {
	buf, err := a.op(&HCILESetRandomAddressCommandPacket{RandomAddress: addr})
	if err != nil {
		return err
	}
	if buf[0] != 0 {
		return errors.New("command failed")
	}
	return nil
}
