package privacy

// AddressPolicy selects how the controller's own LE address is chosen. It is
// configured exactly once, before any client registers.
type AddressPolicy uint8

const (
	AddressPolicyNotSet AddressPolicy = iota
	AddressPolicyUsePublicAddress
	AddressPolicyUseStaticAddress
	AddressPolicyUseNonResolvableAddress
	AddressPolicyUseResolvableAddress
)

func (p AddressPolicy) rotating() bool {
	return p == AddressPolicyUseResolvableAddress || p == AddressPolicyUseNonResolvableAddress
}
