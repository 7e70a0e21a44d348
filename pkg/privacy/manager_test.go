package privacy

import (
	"bytes"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/muxable/lehci/pkg/hci"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recorder captures the commands the manager hands to the controller.
type recorder struct {
	mu   sync.Mutex
	pkts []hci.CommandPacket
}

func (r *recorder) enqueue(pkt hci.CommandPacket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pkts = append(r.pkts, pkt)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pkts)
}

func (r *recorder) opcodes() []hci.Opcode {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]hci.Opcode, len(r.pkts))
	for i, pkt := range r.pkts {
		ops[i] = pkt.Opcode()
	}
	return ops
}

func (r *recorder) at(i int) hci.CommandPacket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pkts[i]
}

// fakeClient counts pause and resume notifications. With ack set it
// acknowledges each notification from within the callback.
type fakeClient struct {
	m   *Manager
	ack bool

	mu      sync.Mutex
	pauses  int
	resumes int
}

func (c *fakeClient) OnPause() {
	c.mu.Lock()
	c.pauses++
	c.mu.Unlock()
	if c.ack {
		c.m.AckPause(c)
	}
}

func (c *fakeClient) OnResume() {
	c.mu.Lock()
	c.resumes++
	c.mu.Unlock()
	if c.ack {
		c.m.AckResume(c)
	}
}

func (c *fakeClient) counts() (pauses, resumes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauses, c.resumes
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *recorder) {
	t.Helper()
	rec := &recorder{}
	cfg.Enqueue = rec.enqueue
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(42))
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	m, err := NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, m.Close()) })
	return m, rec
}

// flush waits until every task posted before it has run.
func flush(m *Manager) {
	done := make(chan struct{})
	m.post(func() { close(done) })
	<-done
}

// settle flushes repeatedly so acknowledgements posted from within client
// callbacks are processed too.
func settle(m *Manager) {
	for i := 0; i < 3; i++ {
		flush(m)
	}
}

func complete(m *Manager, op hci.Opcode) {
	m.OnCommandComplete(&hci.CommandCompleteEventPacket{
		NumCommandPackets: 1,
		CommandOpcode:     op,
		ReturnParameters:  []byte{0x00},
	})
}

func mustAddr(t *testing.T, s string) hci.Address {
	t.Helper()
	addr, err := hci.ParseAddress(s)
	require.NoError(t, err)
	return addr
}

func publicAddress(t *testing.T) hci.AddressWithType {
	t.Helper()
	return hci.AddressWithType{
		Address: mustAddr(t, "b0:d2:78:82:02:3c"),
		Type:    hci.AddressTypePublicDevice,
	}
}

func TestNewManager_RequiresEnqueue(t *testing.T) {
	_, err := NewManager(Config{})
	require.Error(t, err)
}

func TestManager_SetPolicy_Public(t *testing.T) {
	m, rec := newTestManager(t, Config{FilterAcceptListSize: 16, ResolvingListSize: 8})
	assert.Equal(t, AddressPolicyNotSet, m.Policy())
	assert.Equal(t, uint8(16), m.FilterAcceptListSize())
	assert.Equal(t, uint8(8), m.ResolvingListSize())

	public := publicAddress(t)
	m.SetPolicy(AddressPolicyUsePublicAddress, public, hci.IRK{}, 0, 0)
	assert.Equal(t, AddressPolicyUsePublicAddress, m.Policy())
	assert.Equal(t, public, m.GetCurrentAddress())
	assert.Zero(t, rec.count())
}

func TestManager_SetPolicy_Twice(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	m.SetPolicy(AddressPolicyUsePublicAddress, publicAddress(t), hci.IRK{}, 0, 0)
	assert.Panics(t, func() {
		m.SetPolicy(AddressPolicyUsePublicAddress, publicAddress(t), hci.IRK{}, 0, 0)
	})
	assert.Panics(t, func() {
		m.SetPolicy(AddressPolicyNotSet, hci.AddressWithType{}, hci.IRK{}, 0, 0)
	})
}

func TestManager_SetPolicy_Static(t *testing.T) {
	m, rec := newTestManager(t, Config{})
	static := hci.AddressWithType{
		Address: mustAddr(t, "c3:11:22:33:44:55"),
		Type:    hci.AddressTypeRandomDevice,
	}
	m.SetPolicy(AddressPolicyUseStaticAddress, static, hci.IRK{}, 0, 0)

	// the static address goes straight to the controller, before any client
	// could have registered.
	require.Equal(t, 1, rec.count())
	pkt, ok := rec.at(0).(*hci.HCILESetRandomAddressCommandPacket)
	require.True(t, ok)
	assert.Equal(t, static.Address, pkt.RandomAddress)
	assert.Equal(t, static, m.GetCurrentAddress())
	assert.True(t, m.GetCurrentAddress().IsStatic())

	// its completion is informational and must not trip the dispatcher.
	complete(m, hci.OpcodeLESetRandomAddress)
	flush(m)
	assert.Equal(t, 1, rec.count())
}

func TestManager_SetPolicy_Static_Invalid(t *testing.T) {
	for name, addr := range map[string]string{
		"marker bits not set":  "3f:11:22:33:44:55",
		"random part all zero": "c0:00:00:00:00:00",
		"random part all one":  "ff:ff:ff:ff:ff:ff",
	} {
		t.Run(name, func(t *testing.T) {
			m, rec := newTestManager(t, Config{})
			static := hci.AddressWithType{
				Address: mustAddr(t, addr),
				Type:    hci.AddressTypeRandomDevice,
			}
			assert.Panics(t, func() {
				m.SetPolicy(AddressPolicyUseStaticAddress, static, hci.IRK{}, 0, 0)
			})
			assert.Zero(t, rec.count())
		})
	}
}

func TestManager_BeforePolicy(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	assert.Panics(t, func() { m.GetCurrentAddress() })
	assert.Panics(t, func() { m.Register(&fakeClient{m: m}) })
	assert.Panics(t, func() { m.GetAnotherAddress() })
}

func TestManager_GetAnotherAddress(t *testing.T) {
	script := []byte{0x94, 0x81, 0x70, 0xcd, 0xab, 0x12}
	m, rec := newTestManager(t, Config{Rand: bytes.NewReader(script)})
	m.SetPolicy(AddressPolicyUseResolvableAddress, hci.AddressWithType{}, sampleIRK, time.Hour, time.Hour)
	flush(m)

	first := m.GetAnotherAddress()
	assert.Equal(t, "70:81:94:0d:fb:aa", first.Address.String())
	assert.Equal(t, hci.AddressTypeRandomDevice, first.Type)
	assert.True(t, first.IsResolvable())

	second := m.GetAnotherAddress()
	assert.True(t, second.IsResolvable())
	assert.NotEqual(t, first, second)

	// derived addresses are disposable and never become current.
	assert.Equal(t, hci.AddressWithType{}, m.GetCurrentAddress())
	assert.Zero(t, rec.count())
}

func TestManager_GetAnotherAddress_NonResolvable(t *testing.T) {
	m, _ := newTestManager(t, Config{PublicAddress: mustAddr(t, "b0:d2:78:82:02:3c")})
	m.SetPolicy(AddressPolicyUseNonResolvableAddress, hci.AddressWithType{}, hci.IRK{}, time.Hour, time.Hour)
	flush(m)
	addr := m.GetAnotherAddress()
	assert.True(t, addr.IsNonResolvable())
}

func TestManager_GetAnotherAddress_NonRotating(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	m.SetPolicy(AddressPolicyUsePublicAddress, publicAddress(t), hci.IRK{}, 0, 0)
	assert.Panics(t, func() { m.GetAnotherAddress() })
}

func TestManager_CommandOrdering(t *testing.T) {
	m, rec := newTestManager(t, Config{})
	m.SetPolicy(AddressPolicyUsePublicAddress, publicAddress(t), hci.IRK{}, 0, 0)

	peer := mustAddr(t, "53:cd:16:b4:b8:e9")
	m.AddDeviceToFilterAcceptList(hci.FilterAcceptListAddressTypeRandomDeviceAddress, peer)
	m.RemoveDeviceFromFilterAcceptList(hci.FilterAcceptListAddressTypeRandomDeviceAddress, peer)
	m.ClearFilterAcceptList()
	m.AddDeviceToResolvingList(hci.PeerIdentityAddressTypeRandomIdentityAddress, peer, hci.IRK{1}, hci.IRK{2})
	m.RemoveDeviceFromResolvingList(hci.PeerIdentityAddressTypeRandomIdentityAddress, peer)
	m.ClearResolvingList()
	flush(m)

	// with no clients there is nothing to pause: commands drain one at a
	// time, strictly in request order.
	want := []hci.Opcode{
		hci.OpcodeLEAddDeviceToFilterAcceptList,
		hci.OpcodeLERemoveDeviceFromFilterAcceptList,
		hci.OpcodeLEClearFilterAcceptList,
		hci.OpcodeLEAddDeviceToResolvingList,
		hci.OpcodeLERemoveDeviceFromResolvingList,
		hci.OpcodeLEClearResolvingList,
	}
	for i, op := range want {
		require.Equal(t, i+1, rec.count(), "command %d should be alone in flight", i)
		require.Equal(t, want[:i+1], rec.opcodes())
		complete(m, op)
		flush(m)
	}
	assert.Equal(t, want, rec.opcodes())

	pkt, ok := rec.at(0).(*hci.HCILEAddDeviceToFilterAcceptListCommandPacket)
	require.True(t, ok)
	assert.Equal(t, peer, pkt.Address)
}

func TestManager_RotationOrderedWithListEdits(t *testing.T) {
	rd := bytes.NewReader([]byte{0x94, 0x81, 0x70})
	m, rec := newTestManager(t, Config{Rand: rd})
	m.SetPolicy(AddressPolicyUseResolvableAddress, hci.AddressWithType{}, sampleIRK, time.Hour, time.Hour)
	flush(m)

	c := &fakeClient{m: m}
	m.Register(c)
	peer := mustAddr(t, "53:cd:16:b4:b8:e9")
	m.AddDeviceToFilterAcceptList(hci.FilterAcceptListAddressTypePublicDeviceAddress, peer)
	m.RemoveDeviceFromFilterAcceptList(hci.FilterAcceptListAddressTypePublicDeviceAddress, peer)
	flush(m)
	require.Zero(t, rec.count())
	pauses, _ := c.counts()
	require.Equal(t, 1, pauses)

	// the rotation queued by Register dispatches first, then the list edits,
	// in request order, each gated on the previous completion.
	m.AckPause(c)
	flush(m)
	require.Equal(t, 1, rec.count())
	pkt := rec.at(0).(*hci.HCILESetRandomAddressCommandPacket)
	assert.Equal(t, "70:81:94:0d:fb:aa", pkt.RandomAddress.String())

	complete(m, hci.OpcodeLESetRandomAddress)
	flush(m)
	require.Equal(t, 2, rec.count())
	// the new address is committed mid-drain, before any resume.
	assert.Equal(t, "70:81:94:0d:fb:aa", m.GetCurrentAddress().Address.String())

	complete(m, hci.OpcodeLEAddDeviceToFilterAcceptList)
	flush(m)
	require.Equal(t, 3, rec.count())
	assert.Equal(t, []hci.Opcode{
		hci.OpcodeLESetRandomAddress,
		hci.OpcodeLEAddDeviceToFilterAcceptList,
		hci.OpcodeLERemoveDeviceFromFilterAcceptList,
	}, rec.opcodes())
	_, resumes := c.counts()
	assert.Zero(t, resumes)

	complete(m, hci.OpcodeLERemoveDeviceFromFilterAcceptList)
	flush(m)
	_, resumes = c.counts()
	assert.Equal(t, 1, resumes)
	assert.Zero(t, rd.Len())
}

func TestManager_PauseQuorum(t *testing.T) {
	m, rec := newTestManager(t, Config{})
	m.SetPolicy(AddressPolicyUsePublicAddress, publicAddress(t), hci.IRK{}, 0, 0)

	c1 := &fakeClient{m: m}
	c2 := &fakeClient{m: m}
	require.Equal(t, AddressPolicyUsePublicAddress, m.Register(c1))
	m.Register(c2)
	flush(m)

	peerA := mustAddr(t, "53:cd:16:b4:b8:e9")
	peerB := mustAddr(t, "41:a4:a2:e2:a0:29")
	m.AddDeviceToFilterAcceptList(hci.FilterAcceptListAddressTypePublicDeviceAddress, peerA)
	flush(m)
	pauses1, _ := c1.counts()
	pauses2, _ := c2.counts()
	assert.Equal(t, 1, pauses1)
	assert.Equal(t, 1, pauses2)
	assert.Zero(t, rec.count())

	// a second request while a pause is already outstanding must not notify
	// the clients again.
	m.AddDeviceToFilterAcceptList(hci.FilterAcceptListAddressTypePublicDeviceAddress, peerB)
	flush(m)
	pauses1, _ = c1.counts()
	assert.Equal(t, 1, pauses1)

	// one acknowledgement is not a quorum.
	m.AckPause(c1)
	flush(m)
	assert.Zero(t, rec.count())

	m.AckPause(c2)
	flush(m)
	require.Equal(t, 1, rec.count())
	pkt := rec.at(0).(*hci.HCILEAddDeviceToFilterAcceptListCommandPacket)
	assert.Equal(t, peerA, pkt.Address)

	// the queue drains without resuming in between.
	complete(m, hci.OpcodeLEAddDeviceToFilterAcceptList)
	flush(m)
	require.Equal(t, 2, rec.count())
	pkt = rec.at(1).(*hci.HCILEAddDeviceToFilterAcceptListCommandPacket)
	assert.Equal(t, peerB, pkt.Address)
	_, resumes1 := c1.counts()
	assert.Zero(t, resumes1)

	complete(m, hci.OpcodeLEAddDeviceToFilterAcceptList)
	flush(m)
	_, resumes1 = c1.counts()
	_, resumes2 := c2.counts()
	assert.Equal(t, 1, resumes1)
	assert.Equal(t, 1, resumes2)
}

func TestManager_PushWhileInFlight(t *testing.T) {
	m, rec := newTestManager(t, Config{})
	m.SetPolicy(AddressPolicyUsePublicAddress, publicAddress(t), hci.IRK{}, 0, 0)
	c := &fakeClient{m: m, ack: true}
	m.Register(c)
	settle(m)

	m.ClearFilterAcceptList()
	settle(m)
	require.Equal(t, 1, rec.count())

	// a command arriving while another is in flight waits for that
	// completion and is dispatched without a resume in between.
	m.ClearResolvingList()
	settle(m)
	require.Equal(t, 1, rec.count())

	complete(m, hci.OpcodeLEClearFilterAcceptList)
	settle(m)
	require.Equal(t, 2, rec.count())
	pauses, resumes := c.counts()
	assert.Equal(t, 1, pauses)
	assert.Zero(t, resumes)

	complete(m, hci.OpcodeLEClearResolvingList)
	settle(m)
	pauses, resumes = c.counts()
	assert.Equal(t, 1, pauses)
	assert.Equal(t, 1, resumes)
}

func TestManager_Rotation(t *testing.T) {
	interval := []byte{0x00, 0x2f, 0x68, 0x59, 0x00, 0x00, 0x00, 0x00} // 1.5s
	var script []byte
	script = append(script, interval...)      // armed when the policy is set
	script = append(script, interval...)      // re-armed at the first dispatch
	script = append(script, 0x94, 0x81, 0x70) // first address
	script = append(script, interval...)      // re-armed at the second dispatch
	script = append(script, 0xcd, 0xab, 0x12) // second address
	rd := bytes.NewReader(script)

	mock := clock.NewMock()
	m, rec := newTestManager(t, Config{Clock: mock, Rand: rd})
	m.SetPolicy(AddressPolicyUseResolvableAddress, hci.AddressWithType{}, sampleIRK, time.Second, 2*time.Second)

	c := &fakeClient{m: m}
	m.Register(c)
	flush(m)
	pauses, _ := c.counts()
	require.Equal(t, 1, pauses)
	require.Zero(t, rec.count())
	// no address is presented until the controller confirms the first one.
	assert.Equal(t, hci.AddressWithType{}, m.GetCurrentAddress())

	m.AckPause(c)
	flush(m)
	require.Equal(t, 1, rec.count())
	pkt := rec.at(0).(*hci.HCILESetRandomAddressCommandPacket)
	assert.Equal(t, "70:81:94:0d:fb:aa", pkt.RandomAddress.String())
	assert.Equal(t, hci.AddressWithType{}, m.GetCurrentAddress())

	complete(m, hci.OpcodeLESetRandomAddress)
	flush(m)
	first := m.GetCurrentAddress()
	assert.Equal(t, "70:81:94:0d:fb:aa", first.Address.String())
	assert.Equal(t, hci.AddressTypeRandomDevice, first.Type)
	assert.True(t, first.IsResolvable())
	_, resumes := c.counts()
	require.Equal(t, 1, resumes)
	m.AckResume(c)
	flush(m)

	// the interval draw above put the next rotation 1.5s out.
	mock.Add(1499 * time.Millisecond)
	flush(m)
	pauses, _ = c.counts()
	require.Equal(t, 1, pauses)

	mock.Add(time.Millisecond)
	flush(m)
	pauses, _ = c.counts()
	require.Equal(t, 2, pauses)

	m.AckPause(c)
	flush(m)
	require.Equal(t, 2, rec.count())
	pkt = rec.at(1).(*hci.HCILESetRandomAddressCommandPacket)
	assert.NotEqual(t, first.Address, pkt.RandomAddress)

	complete(m, hci.OpcodeLESetRandomAddress)
	flush(m)
	second := m.GetCurrentAddress()
	assert.Equal(t, pkt.RandomAddress, second.Address)
	assert.True(t, second.IsResolvable())
	assert.Zero(t, rd.Len())
}

func TestManager_Rotation_Immediate(t *testing.T) {
	// registering under a rotating policy rotates right away so the client
	// never starts on a stale address.
	m, rec := newTestManager(t, Config{Rand: bytes.NewReader([]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66})})
	m.SetPolicy(AddressPolicyUseNonResolvableAddress, hci.AddressWithType{}, hci.IRK{}, time.Hour, time.Hour)

	c := &fakeClient{m: m, ack: true}
	m.Register(c)
	settle(m)
	require.Equal(t, 1, rec.count())
	pkt := rec.at(0).(*hci.HCILESetRandomAddressCommandPacket)
	assert.Equal(t, hci.Address{0x11, 0x22, 0x33, 0x44, 0x55, 0x26}, pkt.RandomAddress)

	complete(m, hci.OpcodeLESetRandomAddress)
	settle(m)
	addr := m.GetCurrentAddress()
	assert.Equal(t, pkt.RandomAddress, addr.Address)
	assert.Equal(t, hci.AddressTypeRandomDevice, addr.Type)
	assert.True(t, addr.IsNonResolvable())
}

func TestManager_Unregister_StopsRotation(t *testing.T) {
	mock := clock.NewMock()
	m, rec := newTestManager(t, Config{Clock: mock})
	m.SetPolicy(AddressPolicyUseNonResolvableAddress, hci.AddressWithType{}, hci.IRK{}, time.Second, time.Second)

	c := &fakeClient{m: m, ack: true}
	m.Register(c)
	settle(m)
	require.Equal(t, 1, rec.count())
	complete(m, hci.OpcodeLESetRandomAddress)
	settle(m)

	mock.Add(time.Second)
	settle(m)
	require.Equal(t, 2, rec.count())
	complete(m, hci.OpcodeLESetRandomAddress)
	settle(m)

	// with the last client gone the rotation timer is cancelled.
	m.Unregister(c)
	flush(m)
	mock.Add(10 * time.Second)
	settle(m)
	assert.Equal(t, 2, rec.count())

	// a new registration starts the cycle again.
	m.Register(c)
	settle(m)
	assert.Equal(t, 3, rec.count())
}

func TestManager_RegisteredClientCount(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	m.SetPolicy(AddressPolicyUsePublicAddress, publicAddress(t), hci.IRK{}, 0, 0)
	assert.Zero(t, m.RegisteredClientCount())

	c1 := &fakeClient{m: m}
	c2 := &fakeClient{m: m}
	m.Register(c1)
	m.Register(c2)
	flush(m)
	assert.Equal(t, 2, m.RegisteredClientCount())

	m.Unregister(c1)
	flush(m)
	assert.Equal(t, 1, m.RegisteredClientCount())
}

func TestManager_Unregister_CompletesQuorum(t *testing.T) {
	m, rec := newTestManager(t, Config{})
	m.SetPolicy(AddressPolicyUsePublicAddress, publicAddress(t), hci.IRK{}, 0, 0)

	c1 := &fakeClient{m: m}
	c2 := &fakeClient{m: m}
	m.Register(c1)
	m.Register(c2)
	m.ClearFilterAcceptList()
	flush(m)
	require.Zero(t, rec.count())

	m.AckPause(c1)
	flush(m)
	require.Zero(t, rec.count())

	// the unacknowledged client leaving is what completes the quorum.
	m.Unregister(c2)
	flush(m)
	require.Equal(t, 1, rec.count())

	complete(m, hci.OpcodeLEClearFilterAcceptList)
	flush(m)
	_, resumes1 := c1.counts()
	_, resumes2 := c2.counts()
	assert.Equal(t, 1, resumes1)
	assert.Zero(t, resumes2)
}

func TestManager_Close_DropsQueuedCommands(t *testing.T) {
	m, rec := newTestManager(t, Config{})
	m.SetPolicy(AddressPolicyUsePublicAddress, publicAddress(t), hci.IRK{}, 0, 0)
	c := &fakeClient{m: m}
	m.Register(c)
	m.ClearFilterAcceptList()
	flush(m)
	require.Zero(t, rec.count())

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	// acknowledgements after close are dropped along with the queue.
	m.AckPause(c)
	assert.Zero(t, rec.count())
}

func TestManager_OnCommandComplete_UnrelatedOpcode(t *testing.T) {
	m, rec := newTestManager(t, Config{})
	assert.NotPanics(t, func() {
		m.OnCommandComplete(&hci.CommandCompleteEventPacket{
			NumCommandPackets: 1,
			CommandOpcode:     hci.OpcodeReset,
			ReturnParameters:  []byte{0x0c},
		})
	})
	flush(m)
	assert.Zero(t, rec.count())
}

func TestManager_OnCommandComplete_Failure(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	assert.Panics(t, func() {
		m.OnCommandComplete(&hci.CommandCompleteEventPacket{
			NumCommandPackets: 1,
			CommandOpcode:     hci.OpcodeLEClearFilterAcceptList,
			ReturnParameters:  []byte{0x0c},
		})
	})
	assert.Panics(t, func() {
		m.OnCommandComplete(&hci.CommandCompleteEventPacket{
			NumCommandPackets: 1,
			CommandOpcode:     hci.OpcodeLEClearFilterAcceptList,
		})
	})
}

func TestManager_OnCommandComplete_NothingInFlight(t *testing.T) {
	m, rec := newTestManager(t, Config{})
	m.SetPolicy(AddressPolicyUsePublicAddress, publicAddress(t), hci.IRK{}, 0, 0)
	// a stray success completion is logged and otherwise ignored.
	complete(m, hci.OpcodeLEClearFilterAcceptList)
	flush(m)
	assert.Zero(t, rec.count())
}
