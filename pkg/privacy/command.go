package privacy

import "github.com/muxable/lehci/pkg/hci"

type commandKind uint8

const (
	commandRotateAddress commandKind = iota
	commandAddToFilterAcceptList
	commandRemoveFromFilterAcceptList
	commandClearFilterAcceptList
	commandAddToResolvingList
	commandRemoveFromResolvingList
	commandClearResolvingList
)

// command is a queued controller operation. The packet is built when the
// request is made, except for rotations whose address is derived at dispatch
// time so it is as fresh as possible.
type command struct {
	kind commandKind
	pkt  hci.CommandPacket
}
