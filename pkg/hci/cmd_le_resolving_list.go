package hci

import (
	"encoding/binary"
	"errors"
	"io"
)

// Section 7.8.38
type HCILEAddDeviceToResolvingListCommandPacket struct {
	PeerIdentityAddressType PeerIdentityAddressType
	PeerIdentityAddress     Address
	PeerIRK                 IRK
	LocalIRK                IRK
}

func (p *HCILEAddDeviceToResolvingListCommandPacket) Marshal() ([]byte, error) {
	buf := make([]byte, 43)
	buf[0] = byte(PacketTypeCommand)
	binary.LittleEndian.PutUint16(buf[1:], uint16(OpcodeLEAddDeviceToResolvingList))
	buf[3] = 39
	buf[4] = byte(p.PeerIdentityAddressType)
	copy(buf[5:11], p.PeerIdentityAddress[:])
	copy(buf[11:27], p.PeerIRK[:])
	copy(buf[27:43], p.LocalIRK[:])
	return buf, nil
}

func (p *HCILEAddDeviceToResolvingListCommandPacket) Unmarshal(buf []byte) error {
	if buf[0] != byte(PacketTypeCommand) || binary.LittleEndian.Uint16(buf[1:]) != uint16(OpcodeLEAddDeviceToResolvingList) {
		return errors.New("incorrect packet")
	}
	if buf[3] != 39 || len(buf) != 43 {
		return io.ErrShortBuffer
	}
	p.PeerIdentityAddressType = PeerIdentityAddressType(buf[4])
	copy(p.PeerIdentityAddress[:], buf[5:11])
	copy(p.PeerIRK[:], buf[11:27])
	copy(p.LocalIRK[:], buf[27:43])
	return nil
}

func (p *HCILEAddDeviceToResolvingListCommandPacket) Opcode() Opcode {
	return OpcodeLEAddDeviceToResolvingList
}

// Section 7.8.39
type HCILERemoveDeviceFromResolvingListCommandPacket struct {
	PeerIdentityAddressType PeerIdentityAddressType
	PeerIdentityAddress     Address
}

func (p *HCILERemoveDeviceFromResolvingListCommandPacket) Marshal() ([]byte, error) {
	buf := make([]byte, 11)
	buf[0] = byte(PacketTypeCommand)
	binary.LittleEndian.PutUint16(buf[1:], uint16(OpcodeLERemoveDeviceFromResolvingList))
	buf[3] = 7
	buf[4] = byte(p.PeerIdentityAddressType)
	copy(buf[5:], p.PeerIdentityAddress[:])
	return buf, nil
}

func (p *HCILERemoveDeviceFromResolvingListCommandPacket) Unmarshal(buf []byte) error {
	if buf[0] != byte(PacketTypeCommand) || binary.LittleEndian.Uint16(buf[1:]) != uint16(OpcodeLERemoveDeviceFromResolvingList) {
		return errors.New("incorrect packet")
	}
	if buf[3] != 7 || len(buf) != 11 {
		return io.ErrShortBuffer
	}
	p.PeerIdentityAddressType = PeerIdentityAddressType(buf[4])
	copy(p.PeerIdentityAddress[:], buf[5:])
	return nil
}

func (p *HCILERemoveDeviceFromResolvingListCommandPacket) Opcode() Opcode {
	return OpcodeLERemoveDeviceFromResolvingList
}

func (a *Adapter) LEAddDeviceToResolvingList(peerType PeerIdentityAddressType, peer Address, peerIRK, localIRK IRK) error {
	buf, err := a.op(&HCILEAddDeviceToResolvingListCommandPacket{
		PeerIdentityAddressType: peerType,
		PeerIdentityAddress:     peer,
		PeerIRK:                 peerIRK,
		LocalIRK:                localIRK,
	})
	if err != nil {
		return err
	}
	if buf[0] != 0 {
		return errors.New("command failed")
	}
	return nil
}

func (a *Adapter) LERemoveDeviceFromResolvingList(peerType PeerIdentityAddressType, peer Address) error {
	buf, err := a.op(&HCILERemoveDeviceFromResolvingListCommandPacket{
		PeerIdentityAddressType: peerType,
		PeerIdentityAddress:     peer,
	})
	if err != nil {
		return err
	}
	if buf[0] != 0 {
		return errors.New("command failed")
	}
	return nil
}

func (a *Adapter) LEClearResolvingList() error {
	buf, err := a.op(NewGenericCommandPacket(OpcodeLEClearResolvingList))
	if err != nil {
		return err
	}
	if buf[0] != 0 {
		return errors.New("command failed")
	}
	return nil
}

func (a *Adapter) LEReadResolvingListSize() (uint8, error) {
	buf, err := a.op(NewGenericCommandPacket(OpcodeLEReadResolvingListSize))
	if err != nil {
		return 0, err
	}
	if buf[0] != 0 {
		return 0, errors.New("command failed")
	}
	return buf[1], nil
}

func (a *Adapter) LESetAddressResolutionEnable(enable bool) error {
	p := &HCILESetAddressResolutionEnableCommandPacket{Enable: enable}
	buf, err := a.op(p)
	if err != nil {
		return err
	}
	if buf[0] != 0 {
		return errors.New("command failed")
	}
	return nil
}

// Section 7.8.44
type HCILESetAddressResolutionEnableCommandPacket struct {
	Enable bool
}

func (p *HCILESetAddressResolutionEnableCommandPacket) Marshal() ([]byte, error) {
	buf := make([]byte, 5)
	buf[0] = byte(PacketTypeCommand)
	binary.LittleEndian.PutUint16(buf[1:], uint16(OpcodeLESetAddressResolutionEnable))
	buf[3] = 1
	if p.Enable {
		buf[4] = 1
	}
	return buf, nil
}

func (p *HCILESetAddressResolutionEnableCommandPacket) Unmarshal(buf []byte) error {
	if buf[0] != byte(PacketTypeCommand) || binary.LittleEndian.Uint16(buf[1:]) != uint16(OpcodeLESetAddressResolutionEnable) {
		return errors.New("incorrect packet")
	}
	if buf[3] != 1 || len(buf) != 5 {
		return io.ErrShortBuffer
	}
	p.Enable = buf[4] == 1
	return nil
}

func (p *HCILESetAddressResolutionEnableCommandPacket) Opcode() Opcode {
	return OpcodeLESetAddressResolutionEnable
}
