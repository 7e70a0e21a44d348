package hci

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Address is a 48-bit BD_ADDR in HCI wire order: index 0 holds the least
// significant byte, index 5 the most significant.
type Address [6]byte

// ParseAddress parses the usual colon-separated form, most significant
// byte first, e.g. "70:81:94:0d:fb:aa".
func ParseAddress(s string) (Address, error) {
	var a Address
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return a, errors.New("invalid address")
	}
	for i, part := range parts {
		b, err := hex.DecodeString(part)
		if err != nil || len(b) != 1 {
			return a, errors.New("invalid address")
		}
		a[5-i] = b[0]
	}
	return a, nil
}

func (a Address) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[5], a[4], a[3], a[2], a[1], a[0])
}

// Section 7.8.16, Section 7.8.38
type AddressType uint8

const (
	AddressTypePublicDevice   AddressType = 0x00
	AddressTypeRandomDevice   AddressType = 0x01
	AddressTypePublicIdentity AddressType = 0x02
	AddressTypeRandomIdentity AddressType = 0x03
)

// AddressWithType pairs an address with the type tag it is carried with on
// the wire. The random subkinds (static, resolvable, non-resolvable) are not
// separate wire types; they are encoded in the two most significant bits of
// a random address.
type AddressWithType struct {
	Address Address
	Type    AddressType
}

func (a AddressWithType) String() string {
	return fmt.Sprintf("%s[%d]", a.Address, a.Type)
}

func (a AddressWithType) isRandom() bool {
	return a.Type == AddressTypeRandomDevice || a.Type == AddressTypeRandomIdentity
}

// IsStatic reports whether this is a random static address (top two bits 11).
func (a AddressWithType) IsStatic() bool {
	return a.isRandom() && a.Address[5]&0xc0 == 0xc0
}

// IsResolvable reports whether this is a resolvable private address (top two
// bits 01).
func (a AddressWithType) IsResolvable() bool {
	return a.isRandom() && a.Address[5]&0xc0 == 0x40
}

// IsNonResolvable reports whether this is a non-resolvable private address
// (top two bits 00).
func (a AddressWithType) IsNonResolvable() bool {
	return a.isRandom() && a.Address[5]&0xc0 == 0x00
}

// IRK is a 128-bit identity resolving key in HCI wire order (least
// significant byte first).
type IRK [16]byte

type OwnAddressType uint8

const (
	OwnAddressTypePublicDeviceAddress         OwnAddressType = 0x00
	OwnAddressTypeRandomDeviceAddress         OwnAddressType = 0x01
	OwnAddressTypeControllerGeneratedOrPublic OwnAddressType = 0x02
	OwnAddressTypeControllerGeneratedOrRandom OwnAddressType = 0x03
)

type PeerAddressType uint8

const (
	PeerAddressTypePublicDeviceAddress PeerAddressType = 0x00
	PeerAddressTypeRandomDeviceAddress PeerAddressType = 0x01
)

// Section 7.8.16
type FilterAcceptListAddressType uint8

const (
	FilterAcceptListAddressTypePublicDeviceAddress FilterAcceptListAddressType = 0x00
	FilterAcceptListAddressTypeRandomDeviceAddress FilterAcceptListAddressType = 0x01
	FilterAcceptListAddressTypeAnonymous           FilterAcceptListAddressType = 0xFF
)

// Section 7.8.38
type PeerIdentityAddressType uint8

const (
	PeerIdentityAddressTypePublicIdentityAddress PeerIdentityAddressType = 0x00
	PeerIdentityAddressTypeRandomIdentityAddress PeerIdentityAddressType = 0x01
)
