package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig validates the configuration and returns a list of validation errors.
// An empty slice indicates the configuration is valid.
func ValidateConfig(config *Config) []error {
	var errs []error

	errs = append(errs, validateNodeConfig(&config.Node, config.ClusterSize())...)
	errs = append(errs, validateClusterConfig(&config.Cluster, config.Node.ID)...)
	errs = append(errs, validateLogConfig(&config.Logging)...)

	return errs
}

// validateNodeConfig validates the local node. Members are numbered
// 1..size, so the ID must fall in that range.
func validateNodeConfig(config *NodeConfig, size int) []error {
	var errs []error

	if config.ID == 0 || int(config.ID) > size {
		errs = append(errs, ValidationError{
			Field:   "node.id",
			Message: fmt.Sprintf("must be between 1 and %d (the cluster size)", size),
		})
	}

	if config.Address == "" {
		errs = append(errs, ValidationError{
			Field:   "node.address",
			Message: "is required",
		})
	} else if err := validateAddress(config.Address); err != nil {
		errs = append(errs, ValidationError{
			Field:   "node.address",
			Message: err.Error(),
		})
	}

	if config.DataDir == "" {
		errs = append(errs, ValidationError{
			Field:   "node.dataDir",
			Message: "is required",
		})
	}

	if config.PIDFile != "" && !filepath.IsAbs(config.PIDFile) {
		errs = append(errs, ValidationError{
			Field:   "node.pidFile",
			Message: "must be an absolute path",
		})
	}

	return errs
}

// validateClusterConfig validates peers and timing.
func validateClusterConfig(config *ClusterConfig, self uint32) []error {
	var errs []error

	size := len(config.Peers) + 1
	seen := make(map[uint32]bool, len(config.Peers))
	for i, peer := range config.Peers {
		field := fmt.Sprintf("cluster.peers[%d]", i)
		switch {
		case peer.ID == 0 || int(peer.ID) > size:
			errs = append(errs, ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("must be between 1 and %d (the cluster size)", size),
			})
		case peer.ID == self:
			errs = append(errs, ValidationError{
				Field:   field + ".id",
				Message: "must not be the local node id",
			})
		case seen[peer.ID]:
			errs = append(errs, ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("duplicate peer id %d", peer.ID),
			})
		}
		seen[peer.ID] = true

		if err := validateAddress(peer.Addr); err != nil {
			errs = append(errs, ValidationError{
				Field:   field + ".addr",
				Message: err.Error(),
			})
		}
	}

	if config.LeaderPingInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "cluster.leaderPingInterval",
			Message: "must be positive",
		})
	}
	if config.ElectionTimeoutMin <= 0 {
		errs = append(errs, ValidationError{
			Field:   "cluster.electionTimeoutMin",
			Message: "must be positive",
		})
	}
	if config.ElectionTimeoutMax <= config.ElectionTimeoutMin {
		errs = append(errs, ValidationError{
			Field:   "cluster.electionTimeoutMax",
			Message: "must be greater than electionTimeoutMin",
		})
	}
	// Followers must hear a heartbeat before any of them can time out.
	if config.LeaderPingInterval > 0 && config.LeaderPingInterval >= config.ElectionTimeoutMin {
		errs = append(errs, ValidationError{
			Field:   "cluster.leaderPingInterval",
			Message: "must be less than electionTimeoutMin",
		})
	}

	return errs
}

// validateLogConfig validates logging configuration.
func validateLogConfig(config *LogConfig) []error {
	var errs []error

	// Validate log level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if config.Level != "" && !validLevels[strings.ToLower(config.Level)] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be debug, info, warn, or error",
		})
	}

	// Validate log format
	validFormats := map[string]bool{"text": true, "json": true}
	if config.Format != "" && !validFormats[strings.ToLower(config.Format)] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be text or json",
		})
	}

	// Validate output
	if config.Output != "" && config.Output != "stdout" && config.Output != "stderr" {
		dir := filepath.Dir(config.Output)
		if !filepath.IsAbs(config.Output) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: "must be stdout, stderr, or an absolute file path",
			})
		} else if _, err := os.Stat(dir); os.IsNotExist(err) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: fmt.Sprintf("directory %s does not exist", dir),
			})
		}
	}

	return errs
}

// validateAddress validates a network address in host:port format.
func validateAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %v", err)
	}
	if port == "" {
		return fmt.Errorf("port is required")
	}
	return nil
}
