package connection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mavgo/internal/bus"
)

type fakeOnline struct {
	items []ConnectionItem
}

func (f *fakeOnline) OnlineItems() []ConnectionItem { return f.items }

type fakeKnown struct {
	items []ConnectionItem
	err   error
}

func (f *fakeKnown) KnownItems(_ context.Context) ([]ConnectionItem, error) {
	return f.items, f.err
}

func testRegistry(t *testing.T, online *fakeOnline, known *fakeKnown) *Registry {
	t.Helper()

	b := bus.New(testLogger())
	t.Cleanup(b.Close)

	return NewRegistry(testLogger(), b, online, known)
}

func TestRegistryMergesKnownAndOnlineIntoOneRow(t *testing.T) {
	knownItem := udpDrone("10.0.0.5", 14550, 1)
	knownItem.ItemName = "Survey Quad"
	knownItem.PlatformID = "px4-generic"

	onlineItem := udpDrone("10.0.0.5", 14550, 1)
	onlineItem.ItemName = "PX4 @ 10.0.0.5:14550"

	online := &fakeOnline{items: []ConnectionItem{onlineItem}}
	known := &fakeKnown{items: []ConnectionItem{knownItem}}
	r := testRegistry(t, online, known)

	r.RefreshKnown(context.Background())
	r.RefreshOnline()

	items := r.AvailableItems()
	require.Len(t, items, 1, "same device from both sources must merge into one row")

	row := items[0].(*MavlinkDroneConnectionItem)
	assert.True(t, row.IsKnown())
	assert.True(t, row.IsOnline())
	assert.Equal(t, "Survey Quad", row.ItemName, "the persisted name wins")
	assert.Equal(t, "px4-generic", row.PlatformID)
}

func TestRegistryMergeIsOrderIndependent(t *testing.T) {
	knownItem := udpDrone("10.0.0.5", 14550, 1)
	knownItem.ItemName = "Survey Quad"

	onlineItem := udpDrone("10.0.0.5", 14550, 1)
	onlineItem.ItemName = "PX4 @ 10.0.0.5:14550"

	online := &fakeOnline{items: []ConnectionItem{onlineItem}}
	known := &fakeKnown{items: []ConnectionItem{knownItem}}
	r := testRegistry(t, online, known)

	// Discovery lands first this time.
	r.RefreshOnline()
	r.RefreshKnown(context.Background())

	items := r.AvailableItems()
	require.Len(t, items, 1)

	row := items[0].(*MavlinkDroneConnectionItem)
	assert.True(t, row.IsKnown())
	assert.True(t, row.IsOnline())
	assert.Equal(t, "Survey Quad", row.ItemName)
}

func TestRegistryEditedKnownItemUpdatesMergedRow(t *testing.T) {
	knownItem := udpDrone("10.0.0.5", 14550, 1)
	knownItem.ItemName = "Old Name"
	knownItem.PlatformID = "px4-generic"

	known := &fakeKnown{items: []ConnectionItem{knownItem}}
	r := testRegistry(t, &fakeOnline{}, known)
	r.RefreshKnown(context.Background())

	// An edit keeps the addressing tuple, so the refreshed snapshot has
	// neither additions nor removals.
	edited := udpDrone("10.0.0.5", 14550, 1)
	edited.ItemName = "New Name"
	edited.PlatformID = "arducopter-generic"
	known.items = []ConnectionItem{edited}
	r.RefreshKnown(context.Background())

	items := r.AvailableItems()
	require.Len(t, items, 1)

	row := items[0].(*MavlinkDroneConnectionItem)
	assert.Equal(t, "New Name", row.ItemName, "a rename must reach the merged row")
	assert.Equal(t, "arducopter-generic", row.PlatformID, "an edited platform must reach the merged row")
	assert.True(t, row.IsKnown())
}

func TestRegistryDropsUnknownItemWhenItGoesOffline(t *testing.T) {
	onlineItem := udpDrone("10.0.0.5", 14550, 1)
	online := &fakeOnline{items: []ConnectionItem{onlineItem}}
	r := testRegistry(t, online, &fakeKnown{})

	r.RefreshOnline()
	require.Len(t, r.AvailableItems(), 1)

	online.items = nil
	r.RefreshOnline()
	assert.Empty(t, r.AvailableItems(), "an unpinned item disappears with its heartbeats")
}

func TestRegistryKeepsKnownItemWhenItGoesOffline(t *testing.T) {
	knownItem := udpDrone("10.0.0.5", 14550, 1)
	onlineItem := udpDrone("10.0.0.5", 14550, 1)

	online := &fakeOnline{items: []ConnectionItem{onlineItem}}
	known := &fakeKnown{items: []ConnectionItem{knownItem}}
	r := testRegistry(t, online, known)

	r.RefreshKnown(context.Background())
	r.RefreshOnline()

	online.items = nil
	r.RefreshOnline()

	items := r.AvailableItems()
	require.Len(t, items, 1, "a pinned item survives going offline")
	assert.False(t, items[0].IsOnline())
	assert.True(t, items[0].IsKnown())
}

func TestRegistryForgettingOnlineItemKeepsRow(t *testing.T) {
	knownItem := udpDrone("10.0.0.5", 14550, 1)
	onlineItem := udpDrone("10.0.0.5", 14550, 1)

	online := &fakeOnline{items: []ConnectionItem{onlineItem}}
	known := &fakeKnown{items: []ConnectionItem{knownItem}}
	r := testRegistry(t, online, known)

	r.RefreshKnown(context.Background())
	r.RefreshOnline()

	known.items = nil
	r.RefreshKnown(context.Background())

	items := r.AvailableItems()
	require.Len(t, items, 1, "forgetting a still-broadcasting item keeps it discovered")
	assert.True(t, items[0].IsOnline())
	assert.False(t, items[0].IsKnown())
}

func TestRegistryConnectRoundTrip(t *testing.T) {
	item := &MockConnectionItem{ItemName: "bench rig"}
	r := testRegistry(t, &fakeOnline{}, &fakeKnown{})
	r.RegisterConnector(KindMock, NewMockConnector())

	require.Equal(t, StateNotConnected, r.State())

	device, err := r.Connect(context.Background(), item)
	require.NoError(t, err)
	require.NotNil(t, device)

	assert.Equal(t, StateConnected, r.State())
	assert.Len(t, r.ConnectedItems(), 1)
	assert.Same(t, item, r.ConnectionItemForDevice(device).(*MockConnectionItem))
	assert.Same(t, device, r.ConnectedDevice(item))

	require.NoError(t, r.Disconnect(device))
	assert.Equal(t, StateNotConnected, r.State())
	assert.Empty(t, r.ConnectedItems())
	assert.Nil(t, r.ConnectedDevice(item))

	select {
	case <-device.Done():
	case <-time.After(time.Second):
		t.Fatal("mock device scope did not cancel on disconnect")
	}
}

func TestRegistryConnectUnsupportedKind(t *testing.T) {
	r := testRegistry(t, &fakeOnline{}, &fakeKnown{})

	_, err := r.Connect(context.Background(), &MockConnectionItem{ItemName: "orphan"})
	assert.ErrorIs(t, err, ErrUnsupportedConnectionItem)
	assert.Equal(t, StateNotConnected, r.State())
}

// blockingConnector parks Connect until released, exposing the transient
// connecting state.
type blockingConnector struct {
	release chan struct{}
}

func (c *blockingConnector) Connect(_ context.Context, item ConnectionItem) (Device, error) {
	<-c.release
	ctx, cancel := context.WithCancel(context.Background())

	return &MockDevice{item: item, ctx: ctx, cancel: cancel}, nil
}

func (c *blockingConnector) Disconnect(device Device) error {
	device.Close()

	return nil
}

func TestRegistryReportsConnectingWhileConnectIsInFlight(t *testing.T) {
	r := testRegistry(t, &fakeOnline{}, &fakeKnown{})
	connector := &blockingConnector{release: make(chan struct{})}
	r.RegisterConnector(KindMock, connector)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Connect(context.Background(), &MockConnectionItem{ItemName: "slow"})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for r.State() != StateConnecting {
		if time.Now().After(deadline) {
			t.Fatal("registry never reported connecting")
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(connector.release)
	<-done
	assert.Equal(t, StateConnected, r.State())
}

func TestRegistryDisconnectUnknownDeviceIsNoop(t *testing.T) {
	r := testRegistry(t, &fakeOnline{}, &fakeKnown{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stray := &MockDevice{item: &MockConnectionItem{ItemName: "stray"}, ctx: ctx, cancel: cancel}

	assert.NoError(t, r.Disconnect(stray))
	assert.NoError(t, r.Disconnect(nil))
}
