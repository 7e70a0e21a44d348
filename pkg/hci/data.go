package hci

import "github.com/google/uuid"

// DataType is one advertising data structure as defined in the Core
// Specification Supplement, Part A. Each marshals to length, AD type and
// payload; SetAdvertisingData concatenates them into the 31-byte block.
type DataType interface {
	Marshal() ([]byte, error)
}

// Flags (AD type 0x01).
type FlagsDataType uint8

const (
	FlagsDataTypeLELimitedDiscoverableMode                           FlagsDataType = (1 << 0)
	FlagsDataTypeLEGeneralDiscoverableMode                           FlagsDataType = (1 << 1)
	FlagsDataTypeBREDRNotSupported                                   FlagsDataType = (1 << 2)
	FlagsDataTypeSimultaneousLEAndBREDRTosameDeviceCapableController FlagsDataType = (1 << 3)
)

func (f FlagsDataType) Marshal() ([]byte, error) {
	return []byte{0x02, 0x01, byte(f)}, nil
}

// ShortLocalName is the Shortened Local Name (AD type 0x08).
type ShortLocalName string

func (l ShortLocalName) Marshal() ([]byte, error) {
	return append([]byte{byte(len(l) + 1), 0x08}, []byte(l)...), nil
}

// CompleteLocalName (AD type 0x09).
type CompleteLocalName string

func (l CompleteLocalName) Marshal() ([]byte, error) {
	return append([]byte{byte(len(l) + 1), 0x09}, []byte(l)...), nil
}

// TxPowerLevel (AD type 0x0A) in dBm.
type TxPowerLevel int8

func (t TxPowerLevel) Marshal() ([]byte, error) {
	return []byte{0x02, 0x0a, byte(t)}, nil
}

// CompleteServiceUUIDs is the Complete List of 128-bit Service Class UUIDs
// (AD type 0x07). UUIDs go on the air least significant byte first.
type CompleteServiceUUIDs []uuid.UUID

func (u CompleteServiceUUIDs) Marshal() ([]byte, error) {
	buf := make([]byte, 2, 2+16*len(u))
	buf[0] = byte(1 + 16*len(u))
	buf[1] = 0x07
	for _, id := range u {
		for i := 15; i >= 0; i-- {
			buf = append(buf, id[i])
		}
	}
	return buf, nil
}

// ServiceData16 is Service Data with a 16-bit UUID (AD type 0x16).
type ServiceData16 struct {
	UUID uint16
	Data []byte
}

func (s ServiceData16) Marshal() ([]byte, error) {
	buf := make([]byte, 4, 4+len(s.Data))
	buf[0] = byte(3 + len(s.Data))
	buf[1] = 0x16
	buf[2] = byte(s.UUID)
	buf[3] = byte(s.UUID >> 8)
	return append(buf, s.Data...), nil
}
