package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func logsCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the daemon's log file, optionally following new lines",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runLogs(follow))
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new log lines as they're written")
	return cmd
}

func runLogs(follow bool) int {
	paths, err := resolvePaths()
	if err != nil {
		fmt.Fprintln(os.Stderr, "resolve paths:", err)
		return 1
	}

	f, err := os.Open(paths.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open log file:", err)
		return 1
	}
	defer f.Close()

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	if _, err := io.Copy(w, f); err != nil {
		fmt.Fprintln(os.Stderr, "read log file:", err)
		return 3
	}
	w.Flush()

	if !follow {
		return 0
	}

	for {
		line, err := readRemaining(f)
		if err != nil {
			fmt.Fprintln(os.Stderr, "tail log file:", err)
			return 3
		}
		if line != "" {
			fmt.Fprint(w, line)
			w.Flush()
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func readRemaining(f *os.File) (string, error) {
	buf := make([]byte, 64*1024)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return "", err
	}
	return string(buf[:n]), nil
}
