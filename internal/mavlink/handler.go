package mavlink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

const (
	// GCSSystemID is the system id this application announces on the wire.
	GCSSystemID = 255

	dialTimeout        = 5 * time.Second
	subscriptionBuffer = 64
)

var (
	// ErrHandlerClosed is returned when an operation hits a closed handler.
	ErrHandlerClosed = errors.New("mavlink handler is closed")
	// ErrNoRoute is returned when no channel to the target endpoint is known.
	ErrNoRoute = errors.New("no route to endpoint")
)

// Received is one decoded inbound message together with its sender endpoint.
type Received struct {
	Endpoint Endpoint
	Message  message.Message
}

// Filter selects which inbound messages a subscription receives.
type Filter func(Received) bool

type subscription struct {
	ch     chan Received
	filter Filter
}

// Handler owns exactly one transport socket wrapped in a gomavlib node. It
// fans inbound frames out to subscriptions in arrival order, tracks which
// system ids have a registered dialect route, and routes outbound messages
// by endpoint.
type Handler struct {
	logger    *slog.Logger
	node      *gomavlib.Node
	transport TransportType
	tcpRemote netip.AddrPort

	broadcastConf gomavlib.EndpointConf

	mu        sync.Mutex
	subs      map[*subscription]struct{}
	routes    map[netip.AddrPort]*gomavlib.Channel
	broadcast *gomavlib.Channel
	systems   map[uint8]struct{}
	closed    bool

	done chan struct{}
}

// NewUDPHandler binds a UDP socket on port. When broadcastPort is non-zero
// the node additionally opens a broadcast lane so outgoing heartbeats can
// reach the local network. A bind failure surfaces here; it is not retried.
func NewUDPHandler(logger *slog.Logger, port, broadcastPort uint16) (*Handler, error) {
	endpoints := []gomavlib.EndpointConf{
		gomavlib.EndpointUDPServer{Address: fmt.Sprintf(":%d", port)},
	}
	var broadcastConf gomavlib.EndpointConf
	if broadcastPort != 0 {
		broadcastConf = gomavlib.EndpointUDPBroadcast{
			BroadcastAddress: fmt.Sprintf("255.255.255.255:%d", broadcastPort),
		}
		endpoints = append(endpoints, broadcastConf)
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:        endpoints,
		Dialect:          common.Dialect,
		OutVersion:       gomavlib.V2,
		OutSystemID:      GCSSystemID,
		HeartbeatDisable: true,
	})
	if err != nil {
		return nil, fmt.Errorf("bind udp port %d: %w", port, err)
	}

	h := newHandler(logger, node, TransportUDP, broadcastConf)
	logger.Info("udp handler listening", "port", port, "broadcast_port", broadcastPort)

	return h, nil
}

// NewTCPHandler dials the remote address with a bounded timeout and wraps
// the resulting stream. The handler owns the connection 1:1.
func NewTCPHandler(ctx context.Context, logger *slog.Logger, addr string) (*Handler, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", addr, err)
	}

	remote, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("parse remote address: %w", err)
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints: []gomavlib.EndpointConf{
			gomavlib.EndpointCustom{ReadWriteCloser: conn},
		},
		Dialect:          common.Dialect,
		OutVersion:       gomavlib.V2,
		OutSystemID:      GCSSystemID,
		HeartbeatDisable: true,
	})
	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("wrap tcp stream %s: %w", addr, err)
	}

	h := newHandler(logger, node, TransportTCP, nil)
	h.tcpRemote = remote
	logger.Info("tcp handler connected", "remote", remote)

	return h, nil
}

func newHandler(logger *slog.Logger, node *gomavlib.Node, transport TransportType, broadcastConf gomavlib.EndpointConf) *Handler {
	h := &Handler{
		logger:        logger,
		node:          node,
		transport:     transport,
		broadcastConf: broadcastConf,
		subs:          make(map[*subscription]struct{}),
		routes:        make(map[netip.AddrPort]*gomavlib.Channel),
		systems:       make(map[uint8]struct{}),
		done:          make(chan struct{}),
	}
	go h.run()

	return h
}

// Transport reports which socket kind the handler owns.
func (h *Handler) Transport() TransportType {
	return h.transport
}

// Remote reports the peer address of a stream handler. Zero for datagram
// handlers, which have no single peer.
func (h *Handler) Remote() netip.AddrPort {
	return h.tcpRemote
}

// RegisterDialect records a decoding route for one system id. Connections
// register their peer here and unregister on teardown.
func (h *Handler) RegisterDialect(systemID uint8) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.systems[systemID] = struct{}{}
	h.logger.Debug("dialect registered", "system_id", systemID)
}

// UnregisterDialect removes the route for one system id. Unregistering an
// unknown id is a no-op.
func (h *Handler) UnregisterDialect(systemID uint8) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.systems, systemID)
	h.logger.Debug("dialect unregistered", "system_id", systemID)
}

// DialectRegistered reports whether a route exists for the system id.
func (h *Handler) DialectRegistered(systemID uint8) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.systems[systemID]

	return ok
}

// Subscribe registers an inbound-message subscription. The returned channel
// receives every message accepted by filter, in arrival order, and closes
// when ctx is cancelled or the handler shuts down. Messages are dropped if
// the subscriber falls behind.
func (h *Handler) Subscribe(ctx context.Context, filter Filter) <-chan Received {
	sub := &subscription{
		ch:     make(chan Received, subscriptionBuffer),
		filter: filter,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)

		return sub.ch
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-h.done:
		}
		h.removeSub(sub)
	}()

	return sub.ch
}

// Send routes one message to the target endpoint. Broadcast targets write
// to the broadcast lane only, never to learned unicast peers, and report
// ErrNoRoute until that lane's channel is open; datagram targets require a
// channel learned from an earlier inbound frame; stream handlers write to
// their single peer.
func (h *Handler) Send(msg message.Message, target Endpoint) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()

		return ErrHandlerClosed
	}
	var route *gomavlib.Channel
	if h.transport == TransportUDP {
		if target.IsBroadcast() {
			route = h.broadcast
		} else {
			route = h.routes[target.Addr]
		}
	}
	h.mu.Unlock()

	if h.transport == TransportTCP {
		if err := h.node.WriteMessageAll(msg); err != nil {
			return fmt.Errorf("send to %s: %w", target, err)
		}

		return nil
	}

	if route == nil {
		return fmt.Errorf("send to %s: %w", target, ErrNoRoute)
	}
	if err := h.node.WriteMessageTo(route, msg); err != nil {
		return fmt.Errorf("send to %s: %w", target, err)
	}

	return nil
}

// Close shuts the socket down and tears every subscription down. Safe to
// call multiple times.
func (h *Handler) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()

		return
	}
	h.closed = true
	h.mu.Unlock()

	h.node.Close()
	<-h.done

	h.mu.Lock()
	subs := make([]*subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subs = make(map[*subscription]struct{})
	h.mu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
	}
	h.logger.Info("handler closed", "transport", h.transport)
}

func (h *Handler) run() {
	defer close(h.done)

	for evt := range h.node.Events() {
		switch evt := evt.(type) {
		case *gomavlib.EventFrame:
			h.handleFrame(evt)
		case *gomavlib.EventChannelOpen:
			h.logger.Debug("channel open", "channel", evt.Channel.String())
			if h.broadcastConf != nil && evt.Channel.Endpoint().Conf() == h.broadcastConf {
				h.mu.Lock()
				h.broadcast = evt.Channel
				h.mu.Unlock()
			}
		case *gomavlib.EventChannelClose:
			h.handleChannelClose(evt)
		case *gomavlib.EventParseError:
			h.logger.Debug("frame parse error", "error", evt.Error)
		}
	}
}

func (h *Handler) handleFrame(evt *gomavlib.EventFrame) {
	sender := Endpoint{
		Transport:   h.transport,
		SystemID:    evt.SystemID(),
		ComponentID: evt.ComponentID(),
	}

	switch h.transport {
	case TransportTCP:
		sender.Addr = h.tcpRemote
	case TransportUDP:
		addr, ok := channelAddr(evt.Channel)
		if !ok {
			h.logger.Debug("frame from unresolvable channel", "channel", evt.Channel.String())

			return
		}
		sender.Addr = addr
	}

	rcv := Received{Endpoint: sender, Message: evt.Message()}

	h.mu.Lock()
	if h.transport == TransportUDP {
		h.routes[sender.Addr] = evt.Channel
	}
	for sub := range h.subs {
		if sub.filter != nil && !sub.filter(rcv) {
			continue
		}
		select {
		case sub.ch <- rcv:
		default:
			h.logger.Warn("subscription full, dropping message", "endpoint", sender)
		}
	}
	h.mu.Unlock()
}

func (h *Handler) handleChannelClose(evt *gomavlib.EventChannelClose) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for addr, route := range h.routes {
		if route == evt.Channel {
			delete(h.routes, addr)
		}
	}
	if h.broadcast == evt.Channel {
		h.broadcast = nil
	}
}

func (h *Handler) removeSub(sub *subscription) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	if ok {
		delete(h.subs, sub)
	}
	h.mu.Unlock()

	if ok {
		close(sub.ch)
	}
}

// channelAddr extracts the remote address from a gomavlib channel label,
// which is formatted as "<endpoint kind>:<host>:<port>".
func channelAddr(ch *gomavlib.Channel) (netip.AddrPort, bool) {
	label := ch.String()
	if i := strings.Index(label, ":"); i >= 0 {
		label = label[i+1:]
	}

	addr, err := netip.ParseAddrPort(label)
	if err != nil {
		return netip.AddrPort{}, false
	}

	return addr, true
}
