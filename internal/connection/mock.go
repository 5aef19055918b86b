package connection

import "context"

// MockConnector satisfies Connector without touching the network. It backs
// mock and legacy-simulation items and the tests around the registry.
type MockConnector struct{}

func NewMockConnector() *MockConnector {
	return &MockConnector{}
}

func (c *MockConnector) Connect(_ context.Context, item ConnectionItem) (Device, error) {
	ctx, cancel := context.WithCancel(context.Background())

	return &MockDevice{item: item, ctx: ctx, cancel: cancel}, nil
}

func (c *MockConnector) Disconnect(device Device) error {
	device.Close()

	return nil
}

// MockDevice is a device with a cancellation scope and nothing behind it.
type MockDevice struct {
	item   ConnectionItem
	ctx    context.Context
	cancel context.CancelFunc
}

func (d *MockDevice) Name() string          { return d.item.Name() }
func (d *MockDevice) Item() ConnectionItem  { return d.item }
func (d *MockDevice) Close()                { d.cancel() }
func (d *MockDevice) Done() <-chan struct{} { return d.ctx.Done() }
