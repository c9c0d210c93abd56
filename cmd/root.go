package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ccjk/daemon/internal/config"
)

// Version is set at build time via -ldflags "-X github.com/ccjk/daemon/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Remote command execution daemon",
	Long:  "daemon polls an IMAP mailbox and/or a cloud control service for commands, runs them under a security policy, and reports results back by email or HTTP.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.ccjk/daemon-config.json or $CCJK_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging and echo logs to stdout")

	rootCmd.AddCommand(setupCmd())
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logsCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("daemon %s\n", Version)
		},
	}
}

// resolvePaths honors --config as an override of the config file location
// only; the key/lock/log files still live under the default ~/.ccjk layout
// so a custom config path doesn't fragment where credentials are cached.
func resolvePaths() (config.Paths, error) {
	paths, err := config.DefaultPaths()
	if err != nil {
		return config.Paths{}, err
	}
	if cfgFile != "" {
		paths.ConfigFile = cfgFile
	} else if v := os.Getenv("CCJK_CONFIG"); v != "" {
		paths.ConfigFile = v
	}
	return paths, nil
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
