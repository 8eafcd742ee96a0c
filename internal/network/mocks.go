package network

import (
	"net"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/vishvananda/netlink"
)

// MockNetlinker is a mock implementation of the Netlinker interface.
// Subscriptions hand their channels to the test through LinkUpdates and
// AddrUpdates and close them when done is closed.
type MockNetlinker struct {
	mock.Mock

	mu          sync.Mutex
	linkUpdates chan<- netlink.LinkUpdate
	addrUpdates chan<- netlink.AddrUpdate
	linkReady   chan struct{}
	addrReady   chan struct{}
}

// NewMockNetlinker creates a mock with subscription plumbing ready.
func NewMockNetlinker() *MockNetlinker {
	return &MockNetlinker{
		linkReady: make(chan struct{}),
		addrReady: make(chan struct{}),
	}
}

func (m *MockNetlinker) LinkByName(name string) (netlink.Link, error) {
	args := m.Called(name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(netlink.Link), args.Error(1)
}
func (m *MockNetlinker) LinkByIndex(index int) (netlink.Link, error) {
	args := m.Called(index)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(netlink.Link), args.Error(1)
}
func (m *MockNetlinker) LinkSetHardwareAddr(link netlink.Link, hw net.HardwareAddr) error {
	args := m.Called(link, hw)
	return args.Error(0)
}
func (m *MockNetlinker) LinkSetAlias(link netlink.Link, alias string) error {
	args := m.Called(link, alias)
	return args.Error(0)
}
func (m *MockNetlinker) LinkSetUp(link netlink.Link) error {
	args := m.Called(link)
	return args.Error(0)
}
func (m *MockNetlinker) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	args := m.Called(link, family)
	return args.Get(0).([]netlink.Addr), args.Error(1)
}
func (m *MockNetlinker) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	args := m.Called(link, addr)
	return args.Error(0)
}
func (m *MockNetlinker) AddrDel(link netlink.Link, addr *netlink.Addr) error {
	args := m.Called(link, addr)
	return args.Error(0)
}
func (m *MockNetlinker) RouteReplace(route *netlink.Route) error {
	args := m.Called(route)
	return args.Error(0)
}

func (m *MockNetlinker) LinkSubscribe(ch chan<- netlink.LinkUpdate, done <-chan struct{}) error {
	if err := m.Called().Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.linkUpdates = ch
	close(m.linkReady)
	m.mu.Unlock()
	go func() {
		<-done
		close(ch)
	}()
	return nil
}

func (m *MockNetlinker) AddrSubscribe(ch chan<- netlink.AddrUpdate, done <-chan struct{}) error {
	if err := m.Called().Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.addrUpdates = ch
	close(m.addrReady)
	m.mu.Unlock()
	go func() {
		<-done
		close(ch)
	}()
	return nil
}

// LinkUpdates waits for LinkSubscribe and returns its channel.
func (m *MockNetlinker) LinkUpdates() chan<- netlink.LinkUpdate {
	<-m.linkReady
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.linkUpdates
}

// AddrUpdates waits for AddrSubscribe and returns its channel.
func (m *MockNetlinker) AddrUpdates() chan<- netlink.AddrUpdate {
	<-m.addrReady
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addrUpdates
}

func (m *MockNetlinker) Close() {
	m.Called()
}

// MockLinkInfoReader is a mock implementation of LinkInfoReader.
type MockLinkInfoReader struct {
	mock.Mock
}

func (m *MockLinkInfoReader) LinkInfo(iface string) (*LinkInfo, error) {
	args := m.Called(iface)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*LinkInfo), args.Error(1)
}
