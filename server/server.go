package server

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	badger "github.com/ipfs/go-ds-badger2"
	logging "github.com/ipfs/go-log/v2"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/textileio/fleetwatch/alert"
	"github.com/textileio/fleetwatch/alert/discord"
	"github.com/textileio/fleetwatch/alert/logchannel"
	"github.com/textileio/fleetwatch/auditlog"
	"github.com/textileio/fleetwatch/chatops"
	"github.com/textileio/fleetwatch/fault/store"
	"github.com/textileio/fleetwatch/gateway"
	"github.com/textileio/fleetwatch/health"
	"github.com/textileio/fleetwatch/probe"
	"github.com/textileio/fleetwatch/scheduler"
	"github.com/textileio/fleetwatch/tracker"
	"github.com/textileio/fleetwatch/util"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	datastoreFolderName = "datastore"
	auditLogFileName    = "fleetwatch_audit.log"
)

var (
	log = logging.Logger("server")
)

// Server runs the fleet monitor and its query surfaces.
type Server struct {
	ds    datastore.Batching
	audit *auditlog.Log

	tracker *tracker.Tracker
	sched   *scheduler.Runner
	hm      *health.Module
	chat    *chatops.Handler
	discord *discord.Channel

	grpcServer *grpc.Server
	grpcHealth *grpchealth.Server
	gateway    *gateway.Gateway
}

// Config specifies server settings.
type Config struct {
	RepoPath string
	Targets  []probe.Target

	HealthAddr     ma.Multiaddr
	GRPCHealthAddr ma.Multiaddr

	Cycle            time.Duration
	ProbeTimeout     time.Duration
	Stagger          time.Duration
	EscalationCycles int
	Thresholds       probe.Thresholds
	MaxInFlight      int

	Network              string
	StatusLogProbability float64

	DiscordToken   string
	DiscordChannel string
}

// MarshalJSON encodes the configuration for logging, without secrets.
func (c Config) MarshalJSON() ([]byte, error) {
	token := ""
	if c.DiscordToken != "" {
		token = "<redacted>"
	}
	var health, grpcHealth string
	if c.HealthAddr != nil {
		health = c.HealthAddr.String()
	}
	if c.GRPCHealthAddr != nil {
		grpcHealth = c.GRPCHealthAddr.String()
	}
	targets := make([]string, len(c.Targets))
	for i, t := range c.Targets {
		targets[i] = t.URL
	}
	return json.Marshal(struct {
		RepoPath             string
		Targets              []string
		Validators           int
		HealthAddr           string
		GRPCHealthAddr       string
		Cycle                string
		ProbeTimeout         string
		Stagger              string
		EscalationCycles     int
		Thresholds           probe.Thresholds
		MaxInFlight          int
		Network              string
		StatusLogProbability float64
		DiscordToken         string
		DiscordChannel       string
	}{
		RepoPath:             c.RepoPath,
		Targets:              targets,
		Validators:           validatorCount(c.Targets),
		HealthAddr:           health,
		GRPCHealthAddr:       grpcHealth,
		Cycle:                c.Cycle.String(),
		ProbeTimeout:         c.ProbeTimeout.String(),
		Stagger:              c.Stagger.String(),
		EscalationCycles:     c.EscalationCycles,
		Thresholds:           c.Thresholds,
		MaxInFlight:          c.MaxInFlight,
		Network:              c.Network,
		StatusLogProbability: c.StatusLogProbability,
		DiscordToken:         token,
		DiscordChannel:       c.DiscordChannel,
	})
}

// NewServer starts and returns a new server with the given configuration.
func NewServer(conf Config) (*Server, error) {
	if conf.EscalationCycles <= 0 {
		return nil, fmt.Errorf("escalation cycles must be positive")
	}
	path := filepath.Join(conf.RepoPath, datastoreFolderName)
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return nil, fmt.Errorf("creating repo folder: %s", err)
	}

	opts := badger.DefaultOptions
	opts.NumVersionsToKeep = 0
	ds, err := badger.NewDatastore(path, &opts)
	if err != nil {
		return nil, fmt.Errorf("opening datastore on repo: %s", err)
	}

	audit, err := auditlog.Open(filepath.Join(conf.RepoPath, auditLogFileName))
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %s", err)
	}

	var ch alert.Channel
	var dc *discord.Channel
	if conf.DiscordToken != "" {
		dc, err = discord.New(conf.DiscordToken, conf.DiscordChannel)
		if err != nil {
			return nil, fmt.Errorf("connecting to discord: %s", err)
		}
		ch = dc
	} else {
		log.Warn("no discord token configured, escalations will only be logged")
		ch = logchannel.New(conf.Network)
	}

	tr, err := tracker.New(
		store.New(namespace.Wrap(ds, datastore.NewKey("tracker"))),
		audit,
		ch,
		tracker.WithEscalationAge(conf.Cycle*time.Duration(conf.EscalationCycles)),
		tracker.WithNetwork(conf.Network),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tracker: %s", err)
	}

	client, err := probe.NewClient(conf.ProbeTimeout)
	if err != nil {
		return nil, fmt.Errorf("creating probe client: %s", err)
	}
	sched, err := scheduler.New(
		conf.Targets,
		tr,
		client,
		scheduler.WithPeriod(conf.Cycle),
		scheduler.WithStagger(conf.Stagger),
		scheduler.WithMaxInFlight(conf.MaxInFlight),
		scheduler.WithThresholds(conf.Thresholds),
	)
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %s", err)
	}

	hm := health.New(tr)
	grpcHealth := grpchealth.NewServer()
	hm.Serve(grpcHealth, conf.Cycle)

	chat, err := chatops.New(
		tr,
		audit.Path(),
		chatops.WithNetwork(conf.Network),
		chatops.WithLogProbability(conf.StatusLogProbability),
	)
	if err != nil {
		return nil, fmt.Errorf("creating command handler: %s", err)
	}

	s := &Server{
		ds:    ds,
		audit: audit,

		tracker: tr,
		sched:   sched,
		hm:      hm,
		chat:    chat,
		discord: dc,

		grpcServer: grpc.NewServer(),
		grpcHealth: grpcHealth,
	}

	if err := s.startGRPCHealth(conf.GRPCHealthAddr); err != nil {
		return nil, fmt.Errorf("starting grpc health service: %s", err)
	}

	gatewayAddr, err := util.TCPAddrFromMultiAddr(conf.HealthAddr)
	if err != nil {
		return nil, fmt.Errorf("parsing health multiaddr: %s", err)
	}
	s.gateway = gateway.NewGateway(gatewayAddr, tr, hm, audit.Path())
	if err := s.gateway.Start(); err != nil {
		return nil, fmt.Errorf("starting gateway: %s", err)
	}

	if dc != nil {
		dc.Listen(chat)
	}
	return s, nil
}

func (s *Server) startGRPCHealth(addr ma.Multiaddr) error {
	hostAddr, err := util.TCPAddrFromMultiAddr(addr)
	if err != nil {
		return fmt.Errorf("parsing host multiaddr: %s", err)
	}
	listener, err := net.Listen("tcp", hostAddr)
	if err != nil {
		return fmt.Errorf("listening to grpc: %s", err)
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.grpcHealth)
	go func() {
		if err := s.grpcServer.Serve(listener); err != nil {
			log.Errorf("serving grpc endpoint: %s", err)
		}
	}()
	log.Infof("grpc health service listening at %s", listener.Addr())
	return nil
}

// Healthy returns the current fleet health.
func (s *Server) Healthy() bool {
	return s.hm.Healthy()
}

// GatewayAddr returns the listening address of the HTTP gateway.
func (s *Server) GatewayAddr() string {
	return s.gateway.Addr()
}

// Commands returns the operator command handler.
func (s *Server) Commands() *chatops.Handler {
	return s.chat
}

// Close shuts down the server.
func (s *Server) Close() {
	if s.discord != nil {
		if err := s.discord.Close(); err != nil {
			log.Errorf("closing discord channel: %s", err)
		}
	}
	if err := s.gateway.Stop(); err != nil {
		log.Errorf("closing gateway: %s", err)
	}
	s.grpcHealth.Shutdown()
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	t := time.NewTimer(10 * time.Second)
	select {
	case <-t.C:
		s.grpcServer.Stop()
	case <-stopped:
		t.Stop()
	}
	if err := s.sched.Close(); err != nil {
		log.Errorf("closing scheduler: %s", err)
	}
	if err := s.hm.Close(); err != nil {
		log.Errorf("closing health module: %s", err)
	}
	if err := s.tracker.Close(); err != nil {
		log.Errorf("closing tracker: %s", err)
	}
	if err := s.audit.Close(); err != nil {
		log.Errorf("closing audit log: %s", err)
	}
	if err := s.ds.Close(); err != nil {
		log.Errorf("closing datastore: %s", err)
	}
}

func validatorCount(targets []probe.Target) int {
	keys := make(map[string]struct{})
	for _, t := range targets {
		for k := range t.Validators {
			keys[k] = struct{}{}
		}
	}
	return len(keys)
}
