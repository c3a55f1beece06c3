package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

const defaultPIDFile = "/var/run/raftd.pid"

// statusCmd handles the status command. It signals a running member, which
// answers by logging its status.
func statusCmd(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	pidFile := fs.String("pid-file", defaultPIDFile, "Path to PID file")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printStatusUsage(os.Stdout)
		return 0
	}

	if envPid := os.Getenv("RAFTD_NODE_PID_FILE"); envPid != "" {
		*pidFile = envPid
	}

	pid, err := readPIDFile(*pidFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "Is raftd serve running with a pid file?")
		}
		return 1
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to find process %d: %v\n", pid, err)
		return 1
	}
	if err := process.Signal(syscall.SIGHUP); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to send SIGHUP to process %d: %v\n", pid, err)
		return 1
	}

	fmt.Printf("Sent SIGHUP to raftd process (PID %d)\n", pid)
	fmt.Println("Check the node's log for its status")
	return 0
}

// readPIDFile returns the process ID stored in path.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	text := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(text)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in %s: %q", path, text)
	}
	return pid, nil
}
