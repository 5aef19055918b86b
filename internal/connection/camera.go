package connection

// MavlinkCamera is a connected MAVLink camera component.
type MavlinkCamera struct {
	name string
	item *MavlinkCameraConnectionItem
	conn *CameraConnection
}

func (c *MavlinkCamera) Name() string                  { return c.name }
func (c *MavlinkCamera) Item() ConnectionItem          { return c.item }
func (c *MavlinkCamera) Close()                        { c.conn.Close() }
func (c *MavlinkCamera) Done() <-chan struct{}         { return c.conn.Done() }
func (c *MavlinkCamera) Connection() *CameraConnection { return c.conn }
