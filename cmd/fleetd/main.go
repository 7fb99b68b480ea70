package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"
	homedir "github.com/mitchellh/go-homedir"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/textileio/fleetwatch/buildinfo"
	inventory "github.com/textileio/fleetwatch/config"
	"github.com/textileio/fleetwatch/probe"
	"github.com/textileio/fleetwatch/server"
	"github.com/textileio/fleetwatch/util"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel/exporters/metric/prometheus"
)

var (
	log    = logging.Logger("fleetd")
	config = viper.New()
)

func main() {
	// Configure flags.
	if err := setupFlags(); err != nil {
		log.Fatalf("configuring flags: %s", err)
	}

	// Create configuration from flags/envs.
	conf, err := configFromFlags()
	if err != nil {
		log.Fatalf("creating config from flags: %s", err)
	}

	// Configure logging.
	if err := setupLogging(conf.RepoPath); err != nil {
		log.Fatalf("configuring up logging: %s", err)
	}

	log.Infof("starting fleetd:\n%s", buildinfo.Summary())

	// Configuring Prometheus exporter.
	closeInstr, err := setupInstrumentation()
	if err != nil {
		log.Fatalf("starting instrumentation: %s", err)
	}
	confJSON, err := json.MarshalIndent(conf, "", "  ")
	if err != nil {
		log.Fatalf("marshaling configuration: %s", err)
	}
	log.Infof("%s", confJSON)

	// Start server.
	log.Info("starting server...")
	fleetd, err := server.NewServer(conf)
	if err != nil {
		log.Fatalf("starting server: %s", err)
	}
	log.Info("server started.")

	// Wait for Ctrl+C and close.
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	log.Info("Closing...")
	closeInstr()
	fleetd.Close()
	log.Info("Closed")
}

func configFromFlags() (server.Config, error) {
	repoPath, err := getRepoPath()
	if err != nil {
		return server.Config{}, fmt.Errorf("getting repo path: %s", err)
	}

	targets, err := inventory.LoadTargets(config.GetString("targets"))
	if err != nil {
		return server.Config{}, fmt.Errorf("loading targets: %s", err)
	}

	healthAddr, err := ma.NewMultiaddr(config.GetString("healthaddr"))
	if err != nil {
		return server.Config{}, fmt.Errorf("parsing healthaddr: %s", err)
	}
	grpcHealthAddr, err := ma.NewMultiaddr(config.GetString("grpchealthaddr"))
	if err != nil {
		return server.Config{}, fmt.Errorf("parsing grpchealthaddr: %s", err)
	}

	return server.Config{
		RepoPath:       repoPath,
		Targets:        targets,
		HealthAddr:     healthAddr,
		GRPCHealthAddr: grpcHealthAddr,

		Cycle:            config.GetDuration("cycle"),
		ProbeTimeout:     config.GetDuration("probetimeout"),
		Stagger:          config.GetDuration("stagger"),
		EscalationCycles: config.GetInt("escalationcycles"),
		Thresholds: probe.Thresholds{
			MinPeers: config.GetInt("minpeers"),
			MinNodes: config.GetInt("minnodes"),
		},
		MaxInFlight: config.GetInt("maxinflight"),

		Network:              config.GetString("network"),
		StatusLogProbability: config.GetFloat64("statuslogprobability"),

		DiscordToken:   config.GetString("discordtoken"),
		DiscordChannel: config.GetString("discordchannel"),
	}, nil
}

func setupInstrumentation() (func(), error) {
	exporter, err := prometheus.InstallNewPipeline(prometheus.Config{})
	if err != nil {
		return nil, fmt.Errorf("creating the prometheus exporter: %s", err)
	}
	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(time.Second)); err != nil {
		return nil, fmt.Errorf("starting runtime metrics: %s", err)
	}
	addr, err := util.TCPAddrFromString(config.GetString("metricsaddr"))
	if err != nil {
		return nil, fmt.Errorf("parsing metrics address: %s", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("running prometheus scrape endpoint: %v", err)
		}
	}()
	closeFunc := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorf("shutting down prometheus server: %s", err)
		}
	}

	return closeFunc, nil
}

func setupLogging(repoPath string) error {
	if err := os.MkdirAll(repoPath, os.ModePerm); err != nil {
		return fmt.Errorf("creating repo folder: %s", err)
	}
	cfg := logging.Config{
		Level:  logging.LevelError,
		Stdout: true,
		File:   filepath.Join(repoPath, "fleetd.log"),
	}
	logging.SetupLogging(cfg)
	loggers := []string{
		// Top-level
		"fleetd",
		"server",

		// Fault lifecycle
		"tracker",
		"fault-store",
		"auditlog",
		"signaler",

		// Polling
		"scheduler",
		"probe",

		// Query surfaces
		"health",
		"gateway",
		"chatops",

		// Alert channels
		"alert-discord",
		"alert-log",
	}

	// fleetd registered loggers get info level by default.
	for _, l := range loggers {
		if err := logging.SetLogLevel(l, "info"); err != nil {
			return fmt.Errorf("setting up logger %s: %s", l, err)
		}
	}
	debugLevel := config.GetBool("debug")
	if debugLevel {
		for _, l := range loggers {
			if err := logging.SetLogLevel(l, "debug"); err != nil {
				return err
			}
		}
	}
	return nil
}

func getRepoPath() (string, error) {
	repoPath := config.GetString("repopath")
	expanded, err := homedir.Expand(repoPath)
	if err != nil {
		return "", fmt.Errorf("expanding homedir: %s", err)
	}
	return expanded, nil
}

func setupFlags() error {
	pflag.Bool("debug", false, "Enable debug log level in all loggers.")
	pflag.String("repopath", "~/.fleetwatch", "Path of the repository where fault state and the audit log are saved.")
	pflag.String("targets", "", "Path of a YAML inventory with the nodes to poll and the validator keys. (Optional, defaults to the built-in mainnet inventory)")
	pflag.String("healthaddr", "/ip4/0.0.0.0/tcp/4000", "HTTP gateway listening multiaddress.")
	pflag.String("grpchealthaddr", "/ip4/0.0.0.0/tcp/4001", "gRPC health service listening multiaddress.")
	pflag.String("metricsaddr", "/ip4/0.0.0.0/tcp/8888", "Prometheus scrape endpoint listening multiaddress.")
	pflag.Duration("cycle", time.Minute, "Polling cycle period.")
	pflag.Duration("probetimeout", 20*time.Second, "Timeout of every probe call.")
	pflag.Duration("stagger", 200*time.Millisecond, "Delay between consecutive probe calls of a cycle.")
	pflag.Int("escalationcycles", 3, "Cycles a fault must outlive before it's escalated and the fleet reported unhealthy.")
	pflag.Int("minpeers", 6, "Minimum peers count reported by a healthy node.")
	pflag.Int("minnodes", 6, "Minimum nodes count reported by a healthy node.")
	pflag.Int("maxinflight", 16, "Maximum concurrent probe calls.")
	pflag.String("discordtoken", "", "Discord bot token. If empty, escalations are only logged. (Optional)")
	pflag.String("discordchannel", "970023234869276773", "Discord channel id where escalations are posted.")
	pflag.String("network", "mainnet", "Name of the monitored network used in messages.")
	pflag.Float64("statuslogprobability", 0.11, "Probability of answering the status command with the audit log.")
	pflag.Parse()

	config.SetEnvPrefix("FLEETD")
	config.AutomaticEnv()
	if err := config.BindPFlags(pflag.CommandLine); err != nil {
		return fmt.Errorf("binding pflags: %s", err)
	}
	return nil
}
