package hci

import (
	"encoding/binary"
	"errors"
	"io"
)

// Section 7.8.16
type HCILEAddDeviceToFilterAcceptListCommandPacket struct {
	AddressType FilterAcceptListAddressType
	Address     Address
}

func (p *HCILEAddDeviceToFilterAcceptListCommandPacket) Marshal() ([]byte, error) {
	buf := make([]byte, 11)
	buf[0] = byte(PacketTypeCommand)
	binary.LittleEndian.PutUint16(buf[1:], uint16(OpcodeLEAddDeviceToFilterAcceptList))
	buf[3] = 7
	buf[4] = byte(p.AddressType)
	copy(buf[5:], p.Address[:])
	return buf, nil
}

func (p *HCILEAddDeviceToFilterAcceptListCommandPacket) Unmarshal(buf []byte) error {
	if buf[0] != byte(PacketTypeCommand) || binary.LittleEndian.Uint16(buf[1:]) != uint16(OpcodeLEAddDeviceToFilterAcceptList) {
		return errors.New("incorrect packet")
	}
	if buf[3] != 7 || len(buf) != 11 {
		return io.ErrShortBuffer
	}
	p.AddressType = FilterAcceptListAddressType(buf[4])
	copy(p.Address[:], buf[5:])
	return nil
}

func (p *HCILEAddDeviceToFilterAcceptListCommandPacket) Opcode() Opcode {
	return OpcodeLEAddDeviceToFilterAcceptList
}

// Section 7.8.17
type HCILERemoveDeviceFromFilterAcceptListCommandPacket struct {
	AddressType FilterAcceptListAddressType
	Address     Address
}

func (p *HCILERemoveDeviceFromFilterAcceptListCommandPacket) Marshal() ([]byte, error) {
	buf := make([]byte, 11)
	buf[0] = byte(PacketTypeCommand)
	binary.LittleEndian.PutUint16(buf[1:], uint16(OpcodeLERemoveDeviceFromFilterAcceptList))
	buf[3] = 7
	buf[4] = byte(p.AddressType)
	copy(buf[5:], p.Address[:])
	return buf, nil
}

func (p *HCILERemoveDeviceFromFilterAcceptListCommandPacket) Unmarshal(buf []byte) error {
	if buf[0] != byte(PacketTypeCommand) || binary.LittleEndian.Uint16(buf[1:]) != uint16(OpcodeLERemoveDeviceFromFilterAcceptList) {
		return errors.New("incorrect packet")
	}
	if buf[3] != 7 || len(buf) != 11 {
		return io.ErrShortBuffer
	}
	p.AddressType = FilterAcceptListAddressType(buf[4])
	copy(p.Address[:], buf[5:])
	return nil
}

func (p *HCILERemoveDeviceFromFilterAcceptListCommandPacket) Opcode() Opcode {
	return OpcodeLERemoveDeviceFromFilterAcceptList
}

func (a *Adapter) LEAddDeviceToFilterAcceptList(addressType FilterAcceptListAddressType, addr Address) error {
	buf, err := a.op(&HCILEAddDeviceToFilterAcceptListCommandPacket{AddressType: addressType, Address: addr})
	if err != nil {
		return err
	}
	if buf[0] != 0 {
		return errors.New("command failed")
	}
	return nil
}

func (a *Adapter) LERemoveDeviceFromFilterAcceptList(addressType FilterAcceptListAddressType, addr Address) error {
	buf, err := a.op(&HCILERemoveDeviceFromFilterAcceptListCommandPacket{AddressType: addressType, Address: addr})
	if err != nil {
		return err
	}
	if buf[0] != 0 {
		return errors.New("command failed")
	}
	return nil
}

func (a *Adapter) LEClearFilterAcceptList() error {
	buf, err := a.op(NewGenericCommandPacket(OpcodeLEClearFilterAcceptList))
	if err != nil {
		return err
	}
	if buf[0] != 0 {
		return errors.New("command failed")
	}
	return nil
}

func (a *Adapter) LEReadFilterAcceptListSize() (uint8, error) {
	buf, err := a.op(NewGenericCommandPacket(OpcodeLEReadFilterAcceptListSize))
	if err != nil {
		return 0, err
	}
	if buf[0] != 0 {
		return 0, errors.New("command failed")
	}
	return buf[1], nil
}
