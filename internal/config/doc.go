// Package config provides configuration parsing and management for raftd.
//
// # Overview
//
// The config package loads a node's configuration from a YAML file,
// substitutes environment variables, fills in defaults and validates the
// result. A ConfigWatcher can follow the file while the node runs.
//
// # Configuration Structure
//
//	type Config struct {
//	    Node    NodeConfig    // Local member: id, listen address, data dir
//	    Cluster ClusterConfig // Other members and Raft timing
//	    Logging LogConfig     // Logging settings
//	}
//
// Members are numbered 1..N where N is len(Cluster.Peers)+1. Every ID in
// that range must be either the local node or exactly one peer.
//
// # Loading Configuration
//
//	cfg, err := config.LoadConfig("/etc/raftd/raftd.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
//	    for _, e := range errs {
//	        log.Println(e)
//	    }
//	    os.Exit(1)
//	}
//
// # Example File
//
//	node:
//	  id: 1
//	  address: "10.0.0.1:7100"
//	  dataDir: /var/lib/raftd
//	  pidFile: /var/run/raftd.pid
//
//	cluster:
//	  leaderPingInterval: 50ms
//	  electionTimeoutMin: 150ms
//	  electionTimeoutMax: 300ms
//	  peers:
//	    - id: 2
//	      addr: "10.0.0.2:7100"
//	    - id: 3
//	      addr: "10.0.0.3:7100"
//
//	logging:
//	  level: info
//	  format: json
//	  output: stdout
//
// # Environment Variables
//
// Values may reference the environment as ${VAR} or ${VAR:-default}:
//
//	node:
//	  id: ${RAFTD_NODE_ID:-1}
//
// # Reloading
//
// ConfigWatcher polls the file and reports each valid new version.
// The log level can be applied live. RestartRequired lists the
// settings that only take effect after a restart.
package config
