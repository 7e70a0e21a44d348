// Package privacy rotates the controller's own LE address. A policy chooses
// between the public address, a fixed static address, or periodically
// regenerated resolvable/non-resolvable private addresses. Address and list
// mutations are serialized: every registered client is paused first, commands
// drain one at a time in request order, and clients resume once the queue is
// empty.
package privacy

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/muxable/lehci/pkg/hci"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type Config struct {
	// Enqueue hands one command at a time to the controller command channel.
	// Completions must be fed back through OnCommandComplete. Required.
	Enqueue func(hci.CommandPacket)

	// PublicAddress is the controller's fixed public identity, used to reject
	// colliding non-resolvable addresses.
	PublicAddress hci.Address

	// Controller list capacities, as reported by the controller.
	FilterAcceptListSize uint8
	ResolvingListSize    uint8

	Clock  clock.Clock // defaults to the wall clock
	Rand   io.Reader   // defaults to crypto/rand
	Logger *zap.Logger // defaults to zap.L()
}

type dispatchState uint8

const (
	dispatchIdle dispatchState = iota
	dispatchPausing
	dispatchInFlight
)

// Manager owns the controller's LE address. All mutable state is confined to
// a single goroutine; exported methods are safe to call from any goroutine.
type Manager struct {
	enqueue func(hci.CommandPacket)
	clk     clock.Clock
	log     *zap.Logger
	gen     generator

	filterAcceptListSize uint8
	resolvingListSize    uint8

	policy      atomic.Uint32
	clientCount atomic.Int32

	// guards the fields below, which are read synchronously by callers.
	addrMu      sync.Mutex
	leAddress   hci.AddressWithType
	rotationIRK hci.IRK
	minRotation time.Duration
	maxRotation time.Duration

	// task queue feeding the owner goroutine.
	mu     sync.Mutex
	tasks  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}

	// owner goroutine state.
	clients        map[Client]clientState
	cachedCommands []command
	dispatch       dispatchState
	inFlight       *command
	cachedAddress  hci.AddressWithType
	rotationTimer  *clock.Timer
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Enqueue == nil {
		return nil, errors.New("privacy: enqueue callback is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.L()
	}
	m := &Manager{
		enqueue:              cfg.Enqueue,
		clk:                  cfg.Clock,
		log:                  cfg.Logger,
		gen:                  generator{rand: cfg.Rand, public: cfg.PublicAddress},
		filterAcceptListSize: cfg.FilterAcceptListSize,
		resolvingListSize:    cfg.ResolvingListSize,
		clients:              make(map[Client]clientState),
		wake:                 make(chan struct{}, 1),
		done:                 make(chan struct{}),
	}
	go m.run()
	return m, nil
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		m.mu.Lock()
		for len(m.tasks) == 0 && !m.closed {
			m.mu.Unlock()
			<-m.wake
			m.mu.Lock()
		}
		if m.closed {
			m.mu.Unlock()
			return
		}
		t := m.tasks[0]
		m.tasks = m.tasks[1:]
		m.mu.Unlock()
		t()
	}
}

// post submits a task to the owner goroutine. Tasks run in submission order.
// After Close, tasks are dropped.
func (m *Manager) post(t func()) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.tasks = append(m.tasks, t)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Close stops the owner goroutine, cancels the rotation timer and drops any
// still-queued commands.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
	<-m.done
	if m.rotationTimer != nil {
		m.rotationTimer.Stop()
		m.rotationTimer = nil
	}
	m.cachedCommands = nil
	return nil
}

// Policy returns the configured address policy.
func (m *Manager) Policy() AddressPolicy {
	return AddressPolicy(m.policy.Load())
}

// SetPolicy configures the address policy. It must be called exactly once,
// before any client registers; a second call panics. For UsePublicAddress
// and UseStaticAddress the fixed address becomes the current address
// immediately, and a static address is additionally sent to the controller.
// For the rotating policies the IRK and rotation window are retained and the
// rotation timer is armed; the first address is derived on its first fire.
//
// A static address must carry 11 in its two most significant bits and its
// 46-bit random part must not be all zero or all one; violations panic.
func (m *Manager) SetPolicy(policy AddressPolicy, fixedAddress hci.AddressWithType, irk hci.IRK, minRotation, maxRotation time.Duration) {
	if policy == AddressPolicyNotSet {
		panic("privacy: address policy cannot be cleared")
	}
	if !m.policy.CompareAndSwap(uint32(AddressPolicyNotSet), uint32(policy)) {
		panic("privacy: address policy already set")
	}
	m.log.Info("setting address policy", zap.Uint8("policy", uint8(policy)))
	switch policy {
	case AddressPolicyUsePublicAddress:
		m.addrMu.Lock()
		m.leAddress = fixedAddress
		m.addrMu.Unlock()
	case AddressPolicyUseStaticAddress:
		addr := fixedAddress.Address
		if addr[5]&0xc0 != 0xc0 {
			panic("privacy: static address must set its two most significant bits")
		}
		if randomPartDegenerate(addr) {
			panic("privacy: static address random part must not be all zero or all one")
		}
		m.addrMu.Lock()
		m.leAddress = fixedAddress
		m.addrMu.Unlock()
		// no clients exist yet, so the controller can be told directly
		// without a pause cycle.
		m.enqueue(&hci.HCILESetRandomAddressCommandPacket{RandomAddress: addr})
	case AddressPolicyUseResolvableAddress, AddressPolicyUseNonResolvableAddress:
		m.addrMu.Lock()
		m.rotationIRK = irk
		m.minRotation = minRotation
		m.maxRotation = maxRotation
		m.addrMu.Unlock()
		m.post(m.scheduleRotation)
	}
}

// GetCurrentAddress returns the address the stack currently presents to
// peers. Panics if the policy has not been set.
func (m *Manager) GetCurrentAddress() hci.AddressWithType {
	if m.Policy() == AddressPolicyNotSet {
		panic("privacy: address policy not set")
	}
	m.addrMu.Lock()
	defer m.addrMu.Unlock()
	return m.leAddress
}

// GetAnotherAddress derives a fresh private address without making it
// current, for callers that need a disposable identity. Panics unless a
// rotating policy is configured.
func (m *Manager) GetAnotherAddress() hci.AddressWithType {
	policy := m.Policy()
	if !policy.rotating() {
		panic("privacy: no rotating address policy configured")
	}
	m.addrMu.Lock()
	irk := m.rotationIRK
	m.addrMu.Unlock()
	var addr hci.Address
	if policy == AddressPolicyUseResolvableAddress {
		addr = m.gen.resolvable(irk)
	} else {
		addr = m.gen.nonResolvable()
	}
	return hci.AddressWithType{Address: addr, Type: hci.AddressTypeRandomDevice}
}

// FilterAcceptListSize returns the controller's filter accept list capacity.
func (m *Manager) FilterAcceptListSize() uint8 { return m.filterAcceptListSize }

// ResolvingListSize returns the controller's resolving list capacity.
func (m *Manager) ResolvingListSize() uint8 { return m.resolvingListSize }

// RegisteredClientCount returns the number of currently registered clients.
func (m *Manager) RegisteredClientCount() int {
	return int(m.clientCount.Load())
}

// Register adds a client in the resumed state and returns the active policy.
// Under a rotating policy a rotation is requested immediately so the client
// never starts on a stale address; the client must not assume an address is
// valid until its first pause/resume cycle completes. Panics if the policy
// has not been set.
func (m *Manager) Register(c Client) AddressPolicy {
	policy := m.Policy()
	if policy == AddressPolicyNotSet {
		panic("privacy: client registered before address policy was set")
	}
	m.post(func() {
		m.clients[c] = clientResumed
		m.clientCount.Store(int32(len(m.clients)))
		if policy.rotating() {
			m.prepareToRotate()
		}
	})
	return policy
}

// Unregister removes a client. If it was the last client the rotation timer
// is cancelled, and if a pause cycle was waiting on it the cycle completes
// as if it had acknowledged.
func (m *Manager) Unregister(c Client) {
	m.post(func() {
		delete(m.clients, c)
		m.clientCount.Store(int32(len(m.clients)))
		if len(m.clients) == 0 && m.rotationTimer != nil {
			m.rotationTimer.Stop()
			m.rotationTimer = nil
		}
		if m.dispatch == dispatchPausing {
			m.checkCachedCommands()
		}
	})
}

// AckPause acknowledges a pause notification.
func (m *Manager) AckPause(c Client) {
	m.post(func() {
		if _, ok := m.clients[c]; !ok {
			panic("privacy: pause acknowledged by unregistered client")
		}
		m.clients[c] = clientPaused
		if m.dispatch == dispatchPausing {
			m.checkCachedCommands()
		}
	})
}

// AckResume acknowledges a resume notification. It is advisory bookkeeping;
// the manager never blocks on it.
func (m *Manager) AckResume(c Client) {
	m.post(func() {
		if _, ok := m.clients[c]; !ok {
			panic("privacy: resume acknowledged by unregistered client")
		}
		m.clients[c] = clientResumed
	})
}

// AddDeviceToFilterAcceptList requests a filter accept list insertion. The
// command is applied in request order, after all clients have paused.
func (m *Manager) AddDeviceToFilterAcceptList(addressType hci.FilterAcceptListAddressType, addr hci.Address) {
	pkt := &hci.HCILEAddDeviceToFilterAcceptListCommandPacket{AddressType: addressType, Address: addr}
	m.post(func() { m.pushCommand(command{kind: commandAddToFilterAcceptList, pkt: pkt}) })
}

// RemoveDeviceFromFilterAcceptList requests a filter accept list removal.
func (m *Manager) RemoveDeviceFromFilterAcceptList(addressType hci.FilterAcceptListAddressType, addr hci.Address) {
	pkt := &hci.HCILERemoveDeviceFromFilterAcceptListCommandPacket{AddressType: addressType, Address: addr}
	m.post(func() { m.pushCommand(command{kind: commandRemoveFromFilterAcceptList, pkt: pkt}) })
}

// ClearFilterAcceptList requests that the filter accept list be emptied.
func (m *Manager) ClearFilterAcceptList() {
	pkt := hci.NewGenericCommandPacket(hci.OpcodeLEClearFilterAcceptList)
	m.post(func() { m.pushCommand(command{kind: commandClearFilterAcceptList, pkt: pkt}) })
}

// AddDeviceToResolvingList requests a resolving list insertion.
func (m *Manager) AddDeviceToResolvingList(peerType hci.PeerIdentityAddressType, peer hci.Address, peerIRK, localIRK hci.IRK) {
	pkt := &hci.HCILEAddDeviceToResolvingListCommandPacket{
		PeerIdentityAddressType: peerType,
		PeerIdentityAddress:     peer,
		PeerIRK:                 peerIRK,
		LocalIRK:                localIRK,
	}
	m.post(func() { m.pushCommand(command{kind: commandAddToResolvingList, pkt: pkt}) })
}

// RemoveDeviceFromResolvingList requests a resolving list removal.
func (m *Manager) RemoveDeviceFromResolvingList(peerType hci.PeerIdentityAddressType, peer hci.Address) {
	pkt := &hci.HCILERemoveDeviceFromResolvingListCommandPacket{
		PeerIdentityAddressType: peerType,
		PeerIdentityAddress:     peer,
	}
	m.post(func() { m.pushCommand(command{kind: commandRemoveFromResolvingList, pkt: pkt}) })
}

// ClearResolvingList requests that the resolving list be emptied.
func (m *Manager) ClearResolvingList() {
	pkt := hci.NewGenericCommandPacket(hci.OpcodeLEClearResolvingList)
	m.post(func() { m.pushCommand(command{kind: commandClearResolvingList, pkt: pkt}) })
}

// OnCommandComplete feeds a controller completion event back into the
// manager. Completions for opcodes the manager never issues are ignored. A
// completion with a non-success status, or one too short to carry a status,
// indicates the controller and host have diverged and panics.
func (m *Manager) OnCommandComplete(pkt *hci.CommandCompleteEventPacket) {
	switch pkt.CommandOpcode {
	case hci.OpcodeLESetRandomAddress,
		hci.OpcodeLEAddDeviceToFilterAcceptList,
		hci.OpcodeLERemoveDeviceFromFilterAcceptList,
		hci.OpcodeLEClearFilterAcceptList,
		hci.OpcodeLEAddDeviceToResolvingList,
		hci.OpcodeLERemoveDeviceFromResolvingList,
		hci.OpcodeLEClearResolvingList:
	default:
		m.log.Debug("ignoring unrelated command complete", zap.Uint16("opcode", uint16(pkt.CommandOpcode)))
		return
	}
	if len(pkt.ReturnParameters) < 1 {
		panic("privacy: command complete carries no status")
	}
	if status := hci.ErrorCode(pkt.ReturnParameters[0]); status != hci.ErrorCodeSuccess {
		panic(fmt.Sprintf("privacy: command 0x%04x failed with status 0x%02x", uint16(pkt.CommandOpcode), uint8(status)))
	}
	if pkt.CommandOpcode == hci.OpcodeLESetRandomAddress && m.Policy() == AddressPolicyUseStaticAddress {
		// the one-time static address set is sent outside the queue; its
		// completion is informational.
		m.log.Debug("static address set complete")
		return
	}
	op := pkt.CommandOpcode
	m.post(func() { m.handleCompletion(op) })
}

// pushCommand appends to the queue and, unless a command is already in
// flight, starts or refreshes the pause cycle.
func (m *Manager) pushCommand(c command) {
	m.cachedCommands = append(m.cachedCommands, c)
	if m.dispatch == dispatchInFlight {
		return
	}
	m.checkCachedCommands()
}

func (m *Manager) prepareToRotate() {
	m.pushCommand(command{kind: commandRotateAddress})
}

// checkCachedCommands advances the pause/dispatch cycle: with work queued it
// dispatches once every client is paused, requesting pauses otherwise; with
// the queue empty it resumes all clients.
func (m *Manager) checkCachedCommands() {
	if len(m.cachedCommands) == 0 {
		m.resumeRegisteredClients()
		return
	}
	for _, state := range m.clients {
		if state != clientPaused {
			m.dispatch = dispatchPausing
			m.pauseRegisteredClients()
			return
		}
	}
	m.dispatchNext()
}

func (m *Manager) pauseRegisteredClients() {
	for c, state := range m.clients {
		switch state {
		case clientPaused, clientWaitingForPause:
		default:
			m.clients[c] = clientWaitingForPause
			c.OnPause()
		}
	}
}

func (m *Manager) resumeRegisteredClients() {
	m.dispatch = dispatchIdle
	for c, state := range m.clients {
		if state != clientResumed {
			m.clients[c] = clientWaitingForResume
			c.OnResume()
		}
	}
	m.log.Debug("resumed registered clients")
}

// dispatchNext pops the queue head and sends it to the controller. Exactly
// one command is in flight until its completion is observed.
func (m *Manager) dispatchNext() {
	if len(m.cachedCommands) == 0 {
		panic("privacy: dispatch with no queued commands")
	}
	c := m.cachedCommands[0]
	m.cachedCommands = m.cachedCommands[1:]
	if c.kind == commandRotateAddress {
		m.rotateRandomAddress(&c)
	}
	m.dispatch = dispatchInFlight
	m.inFlight = &c
	m.enqueue(c.pkt)
}

// rotateRandomAddress re-arms the rotation timer, derives the next private
// address per policy and synthesizes its set-address command. The new
// address becomes current only once the controller confirms it.
func (m *Manager) rotateRandomAddress(c *command) {
	if len(m.clients) > 0 {
		m.scheduleRotation()
	}
	m.addrMu.Lock()
	irk := m.rotationIRK
	m.addrMu.Unlock()
	var addr hci.Address
	switch m.Policy() {
	case AddressPolicyUseResolvableAddress:
		addr = m.gen.resolvable(irk)
	case AddressPolicyUseNonResolvableAddress:
		addr = m.gen.nonResolvable()
	default:
		panic("privacy: rotation under a non-rotating policy")
	}
	m.cachedAddress = hci.AddressWithType{Address: addr, Type: hci.AddressTypeRandomDevice}
	c.pkt = &hci.HCILESetRandomAddressCommandPacket{RandomAddress: addr}
}

func (m *Manager) scheduleRotation() {
	m.addrMu.Lock()
	minRotation, maxRotation := m.minRotation, m.maxRotation
	m.addrMu.Unlock()
	if m.rotationTimer != nil {
		m.rotationTimer.Stop()
	}
	d := m.gen.interval(minRotation, maxRotation)
	m.log.Debug("scheduling address rotation", zap.Duration("interval", d))
	m.rotationTimer = m.clk.AfterFunc(d, func() {
		m.post(m.prepareToRotate)
	})
}

func (m *Manager) handleCompletion(op hci.Opcode) {
	if m.inFlight == nil {
		m.log.Warn("command complete without a command in flight", zap.Uint16("opcode", uint16(op)))
		return
	}
	if m.inFlight.pkt.Opcode() != op {
		panic(fmt.Sprintf("privacy: completion 0x%04x does not match in-flight command 0x%04x",
			uint16(op), uint16(m.inFlight.pkt.Opcode())))
	}
	if op == hci.OpcodeLESetRandomAddress {
		m.addrMu.Lock()
		m.leAddress = m.cachedAddress
		m.addrMu.Unlock()
		m.log.Info("updated random address", zap.Stringer("address", m.cachedAddress))
	}
	m.inFlight = nil
	m.checkCachedCommands()
}
