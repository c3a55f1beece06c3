package main

import (
	"fmt"
	"io"
)

// printUsage prints the main usage information to the given writer.
func printUsage(w io.Writer) {
	fmt.Fprint(w, `raftd - Raft consensus node

Usage:
  raftd <command> [options]

Commands:
  serve       Start a cluster member
  config      Configuration management
  status      Ask a running member to log its status
  version     Show version information

Use "raftd <command> -h" for more information about a command.
`)
}

// printServeUsage prints the serve command usage.
func printServeUsage(w io.Writer) {
	fmt.Fprint(w, `Start a cluster member

Usage:
  raftd serve [options]

Options:
  -config string
        Path to configuration file
  -id uint
        Node ID (overrides config)
  -address string
        Listen address (overrides config, default ":7100")
  -data-dir string
        Data directory path (overrides config, default "/var/lib/raftd")
  -pid-file string
        PID file path (overrides config)
  -log-level string
        Log level: debug, info, warn, error (overrides config)
  -h, -help
        Show this help message

Environment Variables:
  RAFTD_NODE_ID            Override node ID
  RAFTD_NODE_ADDRESS       Override listen address
  RAFTD_NODE_DATA_DIR      Override data directory path
  RAFTD_NODE_PID_FILE      Override PID file path
  RAFTD_LOGGING_LEVEL      Override log level
  RAFTD_LOGGING_FORMAT     Override log format
  RAFTD_LOGGING_OUTPUT     Override log output

Signals:
  SIGINT, SIGTERM          Shut down
  SIGHUP                   Log the node's current status
`)
}

// printConfigUsage prints the config command usage.
func printConfigUsage(w io.Writer) {
	fmt.Fprint(w, `Configuration management

Usage:
  raftd config <subcommand> [options]

Subcommands:
  validate    Validate configuration file
  init        Generate default configuration
  show        Show effective configuration

Use "raftd config <subcommand> -h" for more information.
`)
}

// printVersionUsage prints the version command usage.
func printVersionUsage(w io.Writer) {
	fmt.Fprint(w, `Show version information

Usage:
  raftd version [options]

Options:
  -short
        Show only version number
  -h, -help
        Show this help message
`)
}

// printStatusUsage prints the status command usage.
func printStatusUsage(w io.Writer) {
	fmt.Fprint(w, `Ask a running member to log its status

Sends SIGHUP to the serve process named in the PID file. The member writes
its role, term, leader and log positions to its log.

Usage:
  raftd status [options]

Options:
  -pid-file string
        Path to PID file (default "/var/run/raftd.pid")
  -h, -help
        Show this help message

Environment Variables:
  RAFTD_NODE_PID_FILE      Override PID file path
`)
}
