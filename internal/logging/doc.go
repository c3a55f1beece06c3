// Package logging provides structured logging for raftd.
//
// # Overview
//
// Logger is a small key/value interface over go.uber.org/zap. The raft
// package declares its own Logger with the same method set, so a
// logging.Logger can be passed to raft.Config and raft.TCPTransport as is.
//
// # Creating a Logger
//
//	logger := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "/var/log/raftd/raftd.log",
//	})
//	defer logger.Sync()
//
// NewDefault logs at info level as text to stdout. NewNop discards
// everything and is meant for tests.
//
// # Structured Logging
//
//	logger.Info("became leader", "node", 2, "term", 7)
//
// JSON output:
//
//	{"level":"info","ts":"2026-02-18T10:30:00Z","msg":"became leader","node":2,"term":7}
//
// Text output:
//
//	2026-02-18T10:30:00Z [info] became leader {"node": 2, "term": 7}
//
// # Contextual Fields
//
// WithFields and WithRequestID return child loggers that add their fields
// to every entry. Children share the root's level, so SetLevel on any of
// them changes all of them.
//
//	nodeLogger := logger.WithFields("node", cfg.Node.ID, "instance", logging.NewInstanceID())
//
// Request and instance IDs are random UUIDs from github.com/google/uuid.
package logging
