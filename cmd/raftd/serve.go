package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/KilimcininKorOglu/raftd/internal/config"
	"github.com/KilimcininKorOglu/raftd/internal/logging"
	"github.com/KilimcininKorOglu/raftd/internal/raft"
)

// ErrServerRunning is returned by Run on a server that is already running.
var ErrServerRunning = errors.New("server is already running")

// nodeServer is one cluster member: a Raft runner wired to a TCP transport,
// a file-backed hard state store and an in-memory state machine.
type nodeServer struct {
	config    *config.Config
	logger    logging.Logger
	store     *raft.FileStore
	sm        *raft.MemoryStateMachine
	transport *raft.TCPTransport
	runner    *raft.Runner
	running   bool
}

// newNodeServer builds a member from a validated configuration.
func newNodeServer(cfg *config.Config, logger logging.Logger) (*nodeServer, error) {
	store, err := raft.NewFileStore(cfg.Node.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open data dir: %w", err)
	}

	peerAddrs := make(map[raft.NodeID]string, len(cfg.Cluster.Peers))
	peers := make([]raft.NodeID, 0, len(cfg.Cluster.Peers))
	for id, addr := range cfg.PeerAddrs() {
		peerAddrs[raft.NodeID(id)] = addr
		peers = append(peers, raft.NodeID(id))
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })

	transport := raft.NewTCPTransport(cfg.Node.Address, peerAddrs)
	transport.SetLogger(logger.WithFields("component", "transport"))

	sm := raft.NewMemoryStateMachine()
	runner, err := raft.NewRunner(raft.Config{
		ID:                 raft.NodeID(cfg.Node.ID),
		Peers:              peers,
		LeaderPingInterval: cfg.Cluster.LeaderPingInterval,
		ElectionTimeoutMin: cfg.Cluster.ElectionTimeoutMin,
		ElectionTimeoutMax: cfg.Cluster.ElectionTimeoutMax,
		Transport:          transport,
		StateMachine:       sm,
		Store:              store,
		Logger:             logger.WithFields("component", "raft"),
	})
	if err != nil {
		transport.Close()
		return nil, fmt.Errorf("failed to create node: %w", err)
	}

	return &nodeServer{
		config:    cfg,
		logger:    logger,
		store:     store,
		sm:        sm,
		transport: transport,
		runner:    runner,
	}, nil
}

// Run listens for peers and drives the node until ctx is cancelled.
func (s *nodeServer) Run(ctx context.Context) error {
	if s.running {
		return ErrServerRunning
	}
	s.running = true

	if err := s.transport.Listen(s.runner.Deliver); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Node.Address, err)
	}
	defer s.transport.Close()

	if err := s.writePIDFile(); err != nil {
		return err
	}
	defer s.removePIDFile()

	s.logger.Info("node started",
		"address", s.transport.LocalAddr(),
		"clusterSize", s.config.ClusterSize(),
		"dataDir", s.config.Node.DataDir,
	)

	err := s.runner.Run(ctx)
	s.logger.Info("node stopped", "applied", s.sm.Len())
	return err
}

// writePIDFile writes the process ID to the configured PID file, where
// "raftd status" finds it.
func (s *nodeServer) writePIDFile() error {
	pidFile := s.config.Node.PIDFile
	if pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	s.logger.Info("PID file written", "file", pidFile, "pid", pid)
	return nil
}

func (s *nodeServer) removePIDFile() {
	if s.config.Node.PIDFile != "" {
		os.Remove(s.config.Node.PIDFile)
		s.logger.Debug("PID file removed", "file", s.config.Node.PIDFile)
	}
}

// logStatus writes the node's current status to the log.
func (s *nodeServer) logStatus(ctx context.Context) {
	log := s.logger.WithRequestID(logging.GenerateRequestID())

	st, err := s.runner.Status(ctx)
	if err != nil {
		log.Warn("status unavailable", "error", err)
		return
	}
	log.Info("node status",
		"role", st.Role.String(),
		"term", st.Term,
		"votedFor", st.VotedFor,
		"leader", st.LeaderID,
		"logLength", st.LogLength,
		"commitIndex", st.CommitIndex,
		"lastApplied", st.LastApplied,
	)
}

// handleConfigReload applies what can change live and warns about the rest.
func (s *nodeServer) handleConfigReload(oldCfg, newCfg *config.Config) {
	log := s.logger.WithRequestID(logging.GenerateRequestID())
	log.Info("configuration file changed")

	if oldCfg.Logging.Level != newCfg.Logging.Level {
		s.logger.SetLevel(logging.ParseLevel(newCfg.Logging.Level))
		log.Info("log level updated", "old", oldCfg.Logging.Level, "new", newCfg.Logging.Level)
	}

	if fields := config.RestartRequired(oldCfg, newCfg); len(fields) > 0 {
		log.Warn("configuration changes require a restart", "fields", fields)
	}
}

// serveCmd handles the serve command.
func serveCmd(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	configFile := fs.String("config", "", "Path to configuration file")
	id := fs.Uint("id", 0, "Node ID (overrides config)")
	address := fs.String("address", "", "Listen address (overrides config)")
	dataDir := fs.String("data-dir", "", "Data directory path (overrides config)")
	pidFile := fs.String("pid-file", "", "PID file path (overrides config)")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printServeUsage(os.Stdout)
		return 0
	}

	cfg, err := loadConfigOrDefault(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// Apply command-line overrides (higher priority than config file)
	if *id != 0 {
		cfg.Node.ID = uint32(*id)
	}
	if *address != "" {
		cfg.Node.Address = *address
	}
	if *dataDir != "" {
		cfg.Node.DataDir = *dataDir
	}
	if *pidFile != "" {
		cfg.Node.PIDFile = *pidFile
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	// Apply environment variable overrides (highest priority)
	if err := applyEnvOverrides(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid environment override: %v\n", err)
		return 1
	}

	if !reportValidation(cfg) {
		return 1
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}).WithFields("node", cfg.Node.ID, "instance", logging.NewInstanceID())
	defer logger.Sync()

	srv, err := newNodeServer(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start config file watcher if config file is specified
	if *configFile != "" {
		watcher, err := config.NewConfigWatcher(&config.WatcherConfig{
			FilePath: *configFile,
			OnChange: srv.handleConfigReload,
			OnError: func(err error) {
				logger.Warn("config reload failed", "error", err)
			},
		})
		if err != nil {
			logger.Warn("failed to create config watcher", "error", err)
		} else {
			go watcher.Run(ctx)
			logger.Info("config file watcher started", "file", *configFile)
		}
	}

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	defer signal.Stop(hupCh)
	go func() {
		for {
			select {
			case <-hupCh:
				statusCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				srv.logStatus(statusCtx)
				cancel()
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}
