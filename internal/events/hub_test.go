package events

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"grimm.is/linkup/internal/clock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func collect(n int) (Handler, <-chan Event) {
	ch := make(chan Event, n)
	return func(e Event) { ch <- e }, ch
}

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestKindCategory(t *testing.T) {
	tests := []struct {
		kind Kind
		want Category
	}{
		{KindSystemGeneric, CategorySystem},
		{KindLinkStateChanged, CategoryLink},
		{KindIPLeaseAssigned, CategoryIP},
		{KindIPLeaseReleased, CategoryIP},
		{KindIPLeaseAssignedSecondary, CategoryIP},
		{KindIPv6LeaseAssigned, CategoryIP},
		{Kind("unknown"), CategorySystem},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.Category(), tt.kind)
	}
}

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	fn, ch := collect(4)
	_, err := hub.Subscribe(CategoryIP, fn)
	require.NoError(t, err)

	hub.EmitLease(KindIPLeaseAssigned, "dhcp", LeaseData{Interface: "eth1", IP: net.IPv4(10, 0, 0, 2)})

	e := recv(t, ch)
	assert.Equal(t, KindIPLeaseAssigned, e.Kind)
	assert.Equal(t, "dhcp", e.Source)
	data, ok := e.Data.(LeaseData)
	require.True(t, ok)
	assert.Equal(t, "eth1", data.Interface)
	assert.False(t, e.Timestamp.IsZero())
}

func TestHub_CategoriesIsolated(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	linkFn, linkCh := collect(4)
	ipFn, ipCh := collect(4)
	_, err := hub.Subscribe(CategoryLink, linkFn)
	require.NoError(t, err)
	_, err = hub.Subscribe(CategoryIP, ipFn)
	require.NoError(t, err)

	hub.EmitLinkState(LinkStateData{Interface: "eth1", Up: true})
	hub.EmitLease(KindIPLeaseAssigned, "dhcp", LeaseData{Interface: "eth1"})

	assert.Equal(t, KindLinkStateChanged, recv(t, linkCh).Kind)
	assert.Equal(t, KindIPLeaseAssigned, recv(t, ipCh).Kind)

	hub.Close()
	assert.Empty(t, linkCh)
	assert.Empty(t, ipCh)
}

func TestHub_SystemReceivesAll(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	fn, ch := collect(4)
	_, err := hub.Subscribe(CategorySystem, fn)
	require.NoError(t, err)

	hub.EmitSystem("test", "hello", nil)
	hub.EmitLinkState(LinkStateData{Interface: "eth1"})
	hub.EmitLease(KindIPLeaseReleased, "dhcp", LeaseData{})

	assert.Equal(t, KindSystemGeneric, recv(t, ch).Kind)
	assert.Equal(t, KindLinkStateChanged, recv(t, ch).Kind)
	assert.Equal(t, KindIPLeaseReleased, recv(t, ch).Kind)
}

func TestHub_DuplicateSubscriptionDeliversTwice(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	fn, ch := collect(4)
	_, err := hub.Subscribe(CategoryIP, fn)
	require.NoError(t, err)
	_, err = hub.Subscribe(CategoryIP, fn)
	require.NoError(t, err)

	hub.EmitLease(KindIPLeaseAssigned, "dhcp", LeaseData{})
	recv(t, ch)
	recv(t, ch)
}

func TestHub_NeverDrops(t *testing.T) {
	hub := NewHub()

	release := make(chan struct{})
	var mu sync.Mutex
	count := 0
	_, err := hub.Subscribe(CategoryIP, func(Event) {
		<-release
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	// The handler is blocked; Publish must still return for every event.
	const n = 500
	for i := 0; i < n; i++ {
		hub.EmitLease(KindIPLeaseAssigned, "dhcp", LeaseData{})
	}
	close(release)
	hub.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, n, count)

	published, delivered := hub.Stats()
	assert.Equal(t, uint64(n), published)
	assert.Equal(t, uint64(n), delivered)
}

func TestHub_OrderPreserved(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	fn, ch := collect(100)
	_, err := hub.Subscribe(CategorySystem, fn)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		hub.EmitSystem("test", "seq", map[string]string{"i": string(rune('a' + i%26))})
	}
	for i := 0; i < 100; i++ {
		e := recv(t, ch)
		assert.Equal(t, string(rune('a'+i%26)), e.Data.(SystemData).Fields["i"])
	}
}

func TestHub_HandlerPanicRecovered(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	fn, ch := collect(2)
	first := true
	_, err := hub.Subscribe(CategoryIP, func(e Event) {
		if first {
			first = false
			panic("boom")
		}
		fn(e)
	})
	require.NoError(t, err)

	hub.EmitLease(KindIPLeaseAssigned, "dhcp", LeaseData{})
	hub.EmitLease(KindIPLeaseReleased, "dhcp", LeaseData{})

	assert.Equal(t, KindIPLeaseReleased, recv(t, ch).Kind)
}

func TestHub_Errors(t *testing.T) {
	t.Run("nil hub", func(t *testing.T) {
		var hub *Hub
		_, err := hub.Subscribe(CategoryIP, func(Event) {})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrBusUninitialized)

		var busErr *BusError
		require.ErrorAs(t, err, &busErr)
		assert.Equal(t, CategoryIP, busErr.Category)
	})

	t.Run("closed", func(t *testing.T) {
		hub := NewHub()
		hub.Close()
		_, err := hub.Subscribe(CategoryLink, func(Event) {})
		assert.ErrorIs(t, err, ErrBusClosed)
	})

	t.Run("exhausted", func(t *testing.T) {
		hub := NewHub(WithMaxSubscriptions(2))
		defer hub.Close()
		for i := 0; i < 2; i++ {
			_, err := hub.Subscribe(CategorySystem, func(Event) {})
			require.NoError(t, err)
		}
		_, err := hub.Subscribe(CategorySystem, func(Event) {})
		assert.ErrorIs(t, err, ErrBusExhausted)
		assert.Equal(t, 2, hub.Subscriptions())
	})

	t.Run("nil handler", func(t *testing.T) {
		hub := NewHub()
		defer hub.Close()
		_, err := hub.Subscribe(CategoryIP, nil)
		assert.Error(t, err)
	})
}

func TestSubscription_Cancel(t *testing.T) {
	hub := NewHub(WithMaxSubscriptions(1))
	defer hub.Close()

	sub, err := hub.Subscribe(CategoryIP, func(Event) {})
	require.NoError(t, err)
	assert.Equal(t, CategoryIP, sub.Category())
	sub.Cancel()
	assert.Equal(t, 0, hub.Subscriptions())

	// The freed slot can be reused.
	_, err = hub.Subscribe(CategoryIP, func(Event) {})
	assert.NoError(t, err)
}

func TestBind(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	type state struct {
		name string
		out  chan string
	}
	st := &state{name: "eth1", out: make(chan string, 1)}

	_, err := hub.Subscribe(CategoryLink, Bind(st, func(s *state, e Event) {
		s.out <- s.name + ":" + string(e.Kind)
	}))
	require.NoError(t, err)

	hub.EmitLinkState(LinkStateData{Interface: "eth1", Up: true})
	select {
	case got := <-st.out:
		assert.Equal(t, "eth1:link.state", got)
	case <-time.After(time.Second):
		t.Fatal("bound handler not called")
	}
}

func TestHub_ClockStampsEvents(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	hub := NewHub(WithClock(clock.NewMockClock(at)))
	defer hub.Close()

	fn, ch := collect(2)
	_, err := hub.Subscribe(CategorySystem, fn)
	require.NoError(t, err)

	hub.EmitSystem("test", "stamp", nil)
	assert.Equal(t, at, recv(t, ch).Timestamp)

	preset := at.Add(-time.Hour)
	hub.Publish(Event{Kind: KindSystemGeneric, Timestamp: preset})
	assert.Equal(t, preset, recv(t, ch).Timestamp)
}

func TestHub_NilPublishIsNoop(t *testing.T) {
	var hub *Hub
	assert.NotPanics(t, func() { hub.EmitSystem("x", "y", nil) })
}
