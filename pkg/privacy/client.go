package privacy

// Client is a consumer of the controller's own address, such as an
// advertiser, scanner or connection initiator. Before the manager mutates
// the address or a controller list, every registered client receives OnPause
// and must stop using the address, then call AckPause. Once the mutation
// completes the client receives OnResume and may call AckResume after it has
// restarted.
//
// Both callbacks run on the manager's internal goroutine and must not block.
// Calling AckPause or AckResume from within the callback is allowed.
type Client interface {
	OnPause()
	OnResume()
}

type clientState uint8

const (
	clientResumed clientState = iota
	clientWaitingForPause
	clientPaused
	clientWaitingForResume
)
