package connection

import "errors"

var (
	// ErrHandshakeTimeout indicates no heartbeat arrived within the bounded
	// handshake wait. Distinct from transport errors; the shared UDP handler
	// stays usable.
	ErrHandshakeTimeout = errors.New("timed out waiting for first heartbeat")

	// ErrIncompatibleModel indicates the hardware description is missing,
	// malformed, or disagrees with the live heartbeat's autopilot or vehicle
	// type.
	ErrIncompatibleModel = errors.New("incompatible model")

	// ErrUnsupportedDroneType indicates the hardware description names a
	// drone-type discriminator no constructor is registered for.
	ErrUnsupportedDroneType = errors.New("unsupported drone type")

	// ErrUnsupportedConnectionItem indicates the registry has no connector
	// for the item's kind.
	ErrUnsupportedConnectionItem = errors.New("unsupported connection item type")

	// ErrNoActiveListener indicates a datagram connect was requested while
	// no broadcast listener owns a shared UDP handler.
	ErrNoActiveListener = errors.New("no active udp listener to borrow a transport from")
)
