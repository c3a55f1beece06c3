package config

import "time"

// DefaultConfig returns a Config with sensible default values. A single node
// with no peers forms a cluster of one.
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			ID:      1,
			Address: ":7100",
			DataDir: "/var/lib/raftd",
		},
		Cluster: ClusterConfig{
			Peers:              nil,
			LeaderPingInterval: 50 * time.Millisecond,
			ElectionTimeoutMin: 150 * time.Millisecond,
			ElectionTimeoutMax: 300 * time.Millisecond,
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}
