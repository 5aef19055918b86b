package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"mavgo/internal/bus"
	"mavgo/internal/config"
	"mavgo/internal/connection"
	"mavgo/internal/discovery"
	"mavgo/internal/events"
	"mavgo/internal/hardware"
	"mavgo/internal/logging"
	"mavgo/internal/mavlink"
	"mavgo/internal/settings"
)

func main() {
	if err := run(); err != nil {
		slog.Error("run debug tool", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.json", "config file path")
	connectTo := flag.String("connect", "", "dial a drone at host:port instead of waiting for discovery")
	systemID := flag.Uint("system", 1, "target system id for --connect")
	transportName := flag.String("transport", "udp", "transport for --connect (udp or tcp)")
	platformID := flag.String("platform", "", "platform description id for --connect (default: catalog default)")
	listenFor := flag.Duration("listen-for", 0, "exit after this duration, e.g. 30s")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, "mavgo-debug.log"); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("cli")

	catalog := hardware.DefaultCatalog()
	if _, statErr := os.Stat(cfg.Hardware.CatalogPath); statErr == nil {
		catalog, err = hardware.Load(cfg.Hardware.CatalogPath)
		if err != nil {
			return fmt.Errorf("load hardware catalog: %w", err)
		}
		logger.Info("hardware catalog loaded", "path", cfg.Hardware.CatalogPath)
	} else {
		logger.Info("no catalog file, using built-in descriptions", "path", cfg.Hardware.CatalogPath)
	}

	db, err := settings.Open(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open settings db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warn("close settings db", "error", closeErr)
		}
	}()

	b := bus.New(logMgr.Logger("bus"))
	defer b.Close()

	store := settings.NewStore(logMgr.Logger("settings"), b, db)
	listenerCfg, err := store.LoadListenerConfig(ctx)
	if err != nil {
		logger.Warn("falling back to config-file listener settings", "error", err)
		listenerCfg = cfg.Listener
	}

	listener := discovery.NewBroadcastListener(logMgr.Logger("discovery"), b, listenerCfg)
	defer listener.Stop()
	if err := listener.Start(); err != nil {
		return err
	}

	connector := connection.NewMavlinkConnector(logMgr.Logger("connector"), b, catalog, listener)
	mock := connection.NewMockConnector()

	registry := connection.NewRegistry(logMgr.Logger("registry"), b, listener, store)
	registry.RegisterConnector(connection.KindMavlinkDrone, connector)
	registry.RegisterConnector(connection.KindMavlinkCamera, connector)
	registry.RegisterConnector(connection.KindMock, mock)
	registry.RegisterConnector(connection.KindLegacySimulation, mock)
	go registry.Run(ctx)

	watch(ctx, b, logger)

	if *connectTo != "" {
		item, err := droneItemFromFlags(*connectTo, *transportName, uint8(*systemID), *platformID)
		if err != nil {
			return err
		}

		logger.Info("dialing", "item", item.String())
		device, err := registry.Connect(ctx, item)
		if err != nil {
			return fmt.Errorf("connect %s: %w", item.Address(), err)
		}
		defer func() {
			if disconnectErr := registry.Disconnect(device); disconnectErr != nil {
				logger.Warn("disconnect", "error", disconnectErr)
			}
		}()
		logger.Info("connected", "name", device.Name())

		if drone, ok := device.(connection.Drone); ok {
			logDroneDetails(ctx, logger, drone)
		}
	}

	if *listenFor > 0 {
		logger.Info("listen mode", "duration", *listenFor)
		select {
		case <-ctx.Done():
		case <-time.After(*listenFor):
		}

		return nil
	}

	logger.Info("listening until interrupt")
	<-ctx.Done()

	return nil
}

func droneItemFromFlags(hostPort, transportName string, systemID uint8, platformID string) (*connection.MavlinkDroneConnectionItem, error) {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return nil, fmt.Errorf("parse --connect address: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("parse --connect port: %w", err)
	}

	var transport mavlink.TransportType
	switch strings.ToLower(transportName) {
	case "udp":
		transport = mavlink.TransportUDP
	case "tcp":
		transport = mavlink.TransportTCP
	default:
		return nil, fmt.Errorf("unknown transport %q, want udp or tcp", transportName)
	}

	return &connection.MavlinkDroneConnectionItem{
		ItemName:   fmt.Sprintf("CLI target @ %s", hostPort),
		PlatformID: platformID,
		Transport:  transport,
		Host:       host,
		Port:       uint16(port),
		SystemID:   systemID,
	}, nil
}

// logDroneDetails pokes a few protocol senders so a manual session shows
// whether the peer actually answers beyond heartbeats.
func logDroneDetails(ctx context.Context, logger *slog.Logger, drone connection.Drone) {
	conn := drone.Connection()

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	interval, known, err := conn.Commands.GetMessageInterval(reqCtx, 0)
	switch {
	case err != nil:
		logger.Warn("query heartbeat interval", "error", err)
	case !known:
		logger.Info("peer does not report a heartbeat interval")
	default:
		logger.Info("peer heartbeat interval", "interval", interval)
	}

	caps, err := conn.Commands.RequestAutopilotCapabilities(reqCtx)
	if err != nil {
		logger.Warn("request autopilot capabilities", "error", err)

		return
	}
	logger.Info("autopilot capabilities",
		"flight_sw_version", caps.FlightSwVersion, "capabilities", caps.Capabilities)
}

func watch(ctx context.Context, b *bus.PubSubBus, logger *slog.Logger) {
	topics := []string{
		events.TopicListenerStatus,
		events.TopicOnlineItems,
		events.TopicKnownItems,
		events.TopicAvailableItems,
		events.TopicConnectedItems,
		events.TopicConnectionState,
	}
	sub := b.Subscribe(topics...)

	go func() {
		defer b.Unsubscribe(sub, topics...)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				logEvent(logger, raw)
			}
		}
	}()
}

func logEvent(logger *slog.Logger, raw any) {
	switch evt := raw.(type) {
	case events.ListenerStatus:
		logger.Info("listener status", "state", evt.State, "port", evt.Port, "error", evt.Err)
	case events.OnlineItemsChanged:
		logger.Info("online items", "all", len(evt.All), "drones", len(evt.Drones), "cameras", len(evt.Cameras))
		for _, info := range evt.All {
			logger.Info("online item", "kind", info.Kind, "name", info.Name,
				"host", info.Host, "port", info.Port, "system_id", info.SystemID)
		}
	case events.KnownItemsChanged:
		logger.Info("known items changed")
	case events.AvailableItemsChanged:
		logger.Info("available items", "count", len(evt.Items))
	case events.ConnectedItemsChanged:
		logger.Info("connected items", "count", len(evt.Items))
	case events.ConnectionStateChanged:
		logger.Info("connection state", "state", evt.State)
	}
}
