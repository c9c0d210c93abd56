package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ccjk/daemon/internal/config"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print whether the daemon is running, its mode, enabled channels, and last heartbeat",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runStatus())
		},
	}
}

// runStatus has no IPC channel into a running daemon process, so it
// reconstructs a best-effort health view from the same on-disk state a
// fresh `daemon start` would read: the lock file for liveness, the config
// for mode, and the tail of the log for the most recent heartbeat. It does
// not print uptime, the running-task count, or queue depth.
func runStatus() int {
	paths, err := resolvePaths()
	if err != nil {
		fmt.Fprintln(os.Stderr, "resolve paths:", err)
		return 1
	}

	running, pid := lockHolder(paths.LockFile)
	if !running {
		fmt.Println("daemon: not running")
		return 0
	}
	fmt.Printf("daemon: running (pid %d)\n", pid)

	cfg, err := config.Load(paths.ConfigFile, paths.KeyFile)
	if err != nil {
		fmt.Println("config:", err)
		return 0
	}
	fmt.Printf("mode: %s\n", cfg.Mode)
	fmt.Printf("email: %s\n", enabledLabel(cfg.EmailEnabled()))
	fmt.Printf("cloud: %s\n", enabledLabel(cfg.CloudEnabled()))

	lastHB, lastHBErr := tailLastHeartbeat(paths.LogFile)
	if lastHBErr != nil {
		fmt.Println("last heartbeat: unknown (", lastHBErr, ")")
	} else if lastHB == "" {
		fmt.Println("last heartbeat: none recorded yet")
	} else {
		fmt.Printf("last heartbeat: %s\n", lastHB)
	}
	return 0
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

// lockHolder reports the pid recorded in the lock file. It does not probe
// whether that pid is still alive: an OS-exclusive flock that the daemon
// never released on a crash is rare enough, and the `start` command's own
// lockfile.Acquire call is the authoritative check either way.
func lockHolder(path string) (bool, int) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return false, 0
	}
	return true, pid
}

type logLine struct {
	Time string `json:"time"`
	Msg  string `json:"msg"`
}

// tailLastHeartbeat scans the log file's trailing lines for the most recent
// successful heartbeat record logged by the orchestrator.
func tailLastHeartbeat(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	var last string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec logLine
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if strings.Contains(rec.Msg, "heartbeat") {
			last = rec.Time
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return last, nil
}
