package connection

// DroneFactory builds the platform-specific drone wrapper around an
// established connection. The drone-type discriminator of the hardware
// description picks the factory.
type DroneFactory func(item *MavlinkDroneConnectionItem, conn *DroneConnection) (Drone, error)

func defaultDroneFactories() map[string]DroneFactory {
	return map[string]DroneFactory{
		"PX4": func(item *MavlinkDroneConnectionItem, conn *DroneConnection) (Drone, error) {
			return &PX4Drone{mavlinkDrone{item: item, conn: conn}}, nil
		},
		"ArduCopter": func(item *MavlinkDroneConnectionItem, conn *DroneConnection) (Drone, error) {
			return &ArduCopterDrone{mavlinkDrone{item: item, conn: conn}}, nil
		},
	}
}

// mavlinkDrone carries the plumbing every platform wrapper shares.
type mavlinkDrone struct {
	item *MavlinkDroneConnectionItem
	conn *DroneConnection
}

func (d *mavlinkDrone) Name() string                 { return d.item.ItemName }
func (d *mavlinkDrone) Item() ConnectionItem         { return d.item }
func (d *mavlinkDrone) Close()                       { d.conn.Close() }
func (d *mavlinkDrone) Done() <-chan struct{}        { return d.conn.Done() }
func (d *mavlinkDrone) Connection() *DroneConnection { return d.conn }

// PX4Drone is a connected PX4 autopilot.
type PX4Drone struct {
	mavlinkDrone
}

func (d *PX4Drone) Type() string { return "PX4" }

// ArduCopterDrone is a connected ArduPilot copter.
type ArduCopterDrone struct {
	mavlinkDrone
}

func (d *ArduCopterDrone) Type() string { return "ArduCopter" }
