package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Signal the running daemon to shut down gracefully",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runStop())
		},
	}
}

func runStop() int {
	paths, err := resolvePaths()
	if err != nil {
		fmt.Fprintln(os.Stderr, "resolve paths:", err)
		return 1
	}

	raw, err := os.ReadFile(paths.LockFile)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "no lock file at", paths.LockFile, "- daemon does not appear to be running")
			return 1
		}
		fmt.Fprintln(os.Stderr, "read lock file:", err)
		return 3
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		fmt.Fprintln(os.Stderr, "lock file does not contain a valid pid:", err)
		return 3
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintln(os.Stderr, "find process", pid, ":", err)
		return 3
	}
	if err := proc.Signal(os.Interrupt); err != nil {
		fmt.Fprintln(os.Stderr, "signal process", pid, ":", err)
		return 3
	}

	fmt.Printf("Sent shutdown signal to daemon (pid %d).\n", pid)
	return 0
}
