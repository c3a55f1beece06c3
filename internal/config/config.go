package config

import "time"

// Config holds the complete node configuration.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Cluster ClusterConfig `yaml:"cluster"`
	Logging LogConfig     `yaml:"logging"`
}

// NodeConfig describes the local node.
type NodeConfig struct {
	ID      uint32 `yaml:"id"`
	Address string `yaml:"address"`
	DataDir string `yaml:"dataDir"`
	PIDFile string `yaml:"pidFile"` // Empty disables the PID file
}

// ClusterConfig holds cluster membership and Raft timing.
type ClusterConfig struct {
	Peers              []PeerConfig  `yaml:"peers"`
	LeaderPingInterval time.Duration `yaml:"leaderPingInterval"`
	ElectionTimeoutMin time.Duration `yaml:"electionTimeoutMin"`
	ElectionTimeoutMax time.Duration `yaml:"electionTimeoutMax"`
}

// PeerConfig holds one other cluster member.
type PeerConfig struct {
	ID   uint32 `yaml:"id"`
	Addr string `yaml:"addr"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ClusterSize returns the number of members including the local node.
func (c *Config) ClusterSize() int {
	return len(c.Cluster.Peers) + 1
}

// PeerAddrs returns the peer addresses keyed by ID.
func (c *Config) PeerAddrs() map[uint32]string {
	addrs := make(map[uint32]string, len(c.Cluster.Peers))
	for _, p := range c.Cluster.Peers {
		addrs[p.ID] = p.Addr
	}
	return addrs
}
