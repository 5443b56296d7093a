// Command peer runs one NAT-traversal Peer against real UDP sockets,
// binding its main and test ports, evaluating its NAT type against
// two introducers, and optionally joining a swarm.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dep2p/nat-traversal-sim/internal/peer"
	"github.com/dep2p/nat-traversal-sim/internal/portmap/natpmp"
	"github.com/dep2p/nat-traversal-sim/internal/portmap/stun"
	"github.com/dep2p/nat-traversal-sim/internal/portmap/upnp"
	"github.com/dep2p/nat-traversal-sim/internal/udptransport"
	"github.com/dep2p/nat-traversal-sim/internal/util/logger"
	"github.com/dep2p/nat-traversal-sim/pkg/types"
)

var log = logger.Logger("cmd-peer")

func main() {
	if err := run(); err != nil {
		log.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		introducerAFlag = flag.String("introducer-a", "", "first introducer endpoint, host:port")
		introducerBFlag = flag.String("introducer-b", "", "second introducer endpoint, host:port")
		swarmFlag       = flag.String("swarm", "", "swarm id to join once NAT evaluation settles")
		peersWanted     = flag.Int("peers-wanted", 5, "peers requested when joining -swarm")
		isIntroducer    = flag.Bool("introducer", false, "run this peer as a statically-reachable introducer")
		localPort       = flag.Int("local-port", int(types.DefaultLocalPort), "main UDP port")
		testPort        = flag.Int("test-port", int(types.DefaultTestPort), "test UDP port for unsolicited probes")
		keepAlive       = flag.Duration("keepalive", 0, "keepalive tick interval; 0 disables the loop")
		gatewayFlag     = flag.String("gateway", "", "router address for NAT-PMP port mapping; empty skips NAT-PMP")
		upnpFlag        = flag.Bool("upnp", false, "attempt UPnP IGD discovery for preliminary port mapping")
		stunServersFlag = flag.String("stun-servers", "", "comma-separated STUN servers tried if NAT-PMP and UPnP both fail")
		logLevel        = flag.String("log-level", "", "override NATSIM_LOG_LEVEL's default level (debug|info|warn|error)")
	)
	flag.Parse()

	if *logLevel != "" {
		if level, ok := parseLevel(*logLevel); ok {
			logger.SetGlobalLevel(level)
		}
	}

	if !*isIntroducer && (*introducerAFlag == "" || *introducerBFlag == "") {
		return fmt.Errorf("cmd/peer: -introducer-a and -introducer-b are required unless -introducer is set")
	}

	cfg := types.DefaultConfig()
	cfg.LocalPort = types.Port(*localPort)
	cfg.TestPort = types.Port(*testPort)
	cfg.IsIntroducer = *isIntroducer
	cfg.KeepAlive = *keepAlive

	if !*isIntroducer {
		introducerA, err := parseEndpoint(*introducerAFlag)
		if err != nil {
			return fmt.Errorf("cmd/peer: -introducer-a: %w", err)
		}
		introducerB, err := parseEndpoint(*introducerBFlag)
		if err != nil {
			return fmt.Errorf("cmd/peer: -introducer-b: %w", err)
		}
		cfg.IntroducerA = introducerA
		cfg.IntroducerB = introducerB
	}

	conn, err := udptransport.New(udptransport.DefaultConfig())
	if err != nil {
		return fmt.Errorf("cmd/peer: construct transport: %w", err)
	}

	opts := portMapperOptions(*gatewayFlag, *upnpFlag, *stunServersFlag, cfg.LocalPort)

	p, err := peer.New(cfg, types.NewPeerID(), conn, time.Now(), opts...)
	if err != nil {
		return fmt.Errorf("cmd/peer: %w", err)
	}
	log.Info("peer started", "id", p.ID(), "local_port", cfg.LocalPort, "test_port", cfg.TestPort, "introducer", cfg.IsIntroducer)

	if *swarmFlag != "" && !*isIntroducer {
		p.Join(*swarmFlag, *peersWanted, cfg.IntroducerA)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signalCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	runErr := conn.Run(ctx)
	_ = conn.Close()
	if runErr != nil && runErr != context.Canceled {
		return fmt.Errorf("cmd/peer: transport run: %w", runErr)
	}
	return nil
}

// portMapperOptions tries NAT-PMP against an explicit gateway first,
// then UPnP discovery, folding whichever succeeds first into a
// peer.WithPortMapper option. If both fail (or neither was
// configured) and stunServersFlag names at least one server, a
// peer.WithPortProber fallback is returned instead. None of this is
// fatal: the peer proceeds to Ping/Pong NAT evaluation regardless.
func portMapperOptions(gatewayFlag string, tryUPnP bool, stunServersFlag string, localPort types.Port) []peer.Option {
	ctx, cancel := context.WithTimeout(context.Background(), natpmp.DefaultTimeout+upnp.DefaultDiscoveryTimeout)
	defer cancel()

	if gatewayFlag != "" {
		gateway := net.ParseIP(gatewayFlag)
		if gateway == nil {
			log.Warn("ignoring malformed -gateway", "value", gatewayFlag)
		} else if mapper, err := natpmp.New(ctx, gateway, natpmp.DefaultTimeout); err == nil {
			log.Info("using NAT-PMP for preliminary port mapping", "gateway", gatewayFlag)
			return []peer.Option{peer.WithPortMapper(mapper)}
		} else {
			log.Debug("NAT-PMP unavailable", "err", err)
		}
	}

	if tryUPnP {
		if mapper, err := upnp.Discover(ctx, upnp.DefaultDiscoveryTimeout); err == nil {
			log.Info("using UPnP for preliminary port mapping")
			return []peer.Option{peer.WithPortMapper(mapper)}
		} else {
			log.Debug("UPnP discovery unavailable", "err", err)
		}
	}

	if servers := splitServers(stunServersFlag); len(servers) > 0 {
		log.Info("falling back to STUN for preliminary address probing", "servers", servers)
		return []peer.Option{peer.WithPortProber(stun.NewProber(servers))}
	}

	_ = localPort
	return nil
}

func splitServers(csv string) []string {
	var servers []string
	for _, s := range strings.Split(csv, ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	return servers
}

func parseEndpoint(hostport string) (types.Endpoint, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return types.Endpoint{}, err
	}
	addr, err := types.ParseAddress(host)
	if err != nil {
		return types.Endpoint{}, err
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return types.Endpoint{}, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return types.Endpoint{Address: addr, Port: types.Port(port)}, nil
}

func parseLevel(name string) (slog.Level, bool) {
	switch name {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
