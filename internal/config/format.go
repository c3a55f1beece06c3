package config

import (
	"fmt"
	"strings"
)

// Format renders config in the file format LoadConfig reads, so that
// ParseConfig(Format(cfg)) yields cfg again.
func Format(config *Config) []byte {
	var sb strings.Builder

	sb.WriteString("node:\n")
	sb.WriteString(fmt.Sprintf("  id: %d\n", config.Node.ID))
	sb.WriteString(fmt.Sprintf("  address: %q\n", config.Node.Address))
	sb.WriteString(fmt.Sprintf("  dataDir: %q\n", config.Node.DataDir))
	if config.Node.PIDFile != "" {
		sb.WriteString(fmt.Sprintf("  pidFile: %q\n", config.Node.PIDFile))
	}

	sb.WriteString("\ncluster:\n")
	sb.WriteString(fmt.Sprintf("  leaderPingInterval: %s\n", config.Cluster.LeaderPingInterval))
	sb.WriteString(fmt.Sprintf("  electionTimeoutMin: %s\n", config.Cluster.ElectionTimeoutMin))
	sb.WriteString(fmt.Sprintf("  electionTimeoutMax: %s\n", config.Cluster.ElectionTimeoutMax))
	if len(config.Cluster.Peers) > 0 {
		sb.WriteString("  peers:\n")
		for _, peer := range config.Cluster.Peers {
			sb.WriteString(fmt.Sprintf("    - id: %d\n", peer.ID))
			sb.WriteString(fmt.Sprintf("      addr: %q\n", peer.Addr))
		}
	}

	sb.WriteString("\nlogging:\n")
	sb.WriteString(fmt.Sprintf("  level: %q\n", config.Logging.Level))
	sb.WriteString(fmt.Sprintf("  format: %q\n", config.Logging.Format))
	sb.WriteString(fmt.Sprintf("  output: %q\n", config.Logging.Output))

	return []byte(sb.String())
}

// RestartRequired lists the settings that differ between old and new and
// only take effect when the node restarts. The log level is applied live
// and never appears here.
func RestartRequired(old, new *Config) []string {
	var fields []string
	if old.Node != new.Node {
		fields = append(fields, "node")
	}
	if old.Cluster.LeaderPingInterval != new.Cluster.LeaderPingInterval ||
		old.Cluster.ElectionTimeoutMin != new.Cluster.ElectionTimeoutMin ||
		old.Cluster.ElectionTimeoutMax != new.Cluster.ElectionTimeoutMax {
		fields = append(fields, "cluster timing")
	}
	if !samePeers(old.Cluster.Peers, new.Cluster.Peers) {
		fields = append(fields, "cluster.peers")
	}
	if old.Logging.Format != new.Logging.Format || old.Logging.Output != new.Logging.Output {
		fields = append(fields, "logging output")
	}
	return fields
}

func samePeers(a, b []PeerConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
