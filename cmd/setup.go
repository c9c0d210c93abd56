package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ccjk/daemon/internal/config"
)

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactively configure the daemon and write its config file",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runSetup())
		},
	}
}

func runSetup() int {
	paths, err := resolvePaths()
	if err != nil {
		fmt.Fprintln(os.Stderr, "resolve paths:", err)
		return 1
	}

	reader := bufio.NewReader(os.Stdin)
	cfg := config.Default()

	fmt.Println("daemon setup")
	fmt.Println("Mode selects which channels the daemon polls for commands.")
	modeStr := ask(reader, "Mode [email/cloud/hybrid]", string(cfg.Mode))
	cfg.Mode = config.Mode(modeStr)

	if cfg.EmailEnabled() {
		fmt.Println()
		fmt.Println("Email configuration:")
		cfg.Email.ImapHost = ask(reader, "IMAP host", cfg.Email.ImapHost)
		cfg.Email.ImapPort = askInt(reader, "IMAP port", 993)
		cfg.Email.SmtpHost = ask(reader, "SMTP host", cfg.Email.SmtpHost)
		cfg.Email.SmtpPort = askInt(reader, "SMTP port", 587)
		cfg.Email.Address = ask(reader, "Mailbox address", cfg.Email.Address)
		cfg.Email.Password = askSecret(reader, "Mailbox password (app password)")
	}

	if cfg.CloudEnabled() {
		fmt.Println()
		fmt.Println("Cloud configuration:")
		cfg.Cloud.ApiBaseUrl = ask(reader, "Cloud API base URL", cfg.Cloud.ApiBaseUrl)
		cfg.Cloud.DeviceKey = ask(reader, "Device key (leave blank to register with account credentials instead)", cfg.Cloud.DeviceKey)
		if cfg.Cloud.DeviceKey == "" {
			fmt.Println("No device key given — the account below is used to register one on first start.")
			cfg.Cloud.Email = ask(reader, "Cloud account email", cfg.Cloud.Email)
			cfg.Cloud.Password = askSecret(reader, "Cloud account password")
		}
	}

	fmt.Println()
	fmt.Println("Security policy:")
	cfg.Security.AllowedSenders = askList(reader, "Allowed senders (comma-separated)", cfg.Security.AllowedSenders)
	cfg.Security.CommandAllowPrefixes = askList(reader, "Command allow-prefixes (comma-separated)", cfg.Security.CommandAllowPrefixes)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		return 1
	}

	if err := config.Save(cfg, paths.ConfigFile, paths.KeyFile); err != nil {
		fmt.Fprintln(os.Stderr, "save config:", err)
		return 1
	}

	fmt.Println()
	fmt.Printf("Configuration written to %s\n", paths.ConfigFile)
	fmt.Println("Run `daemon start` to begin.")
	return 0
}

// askSecret reads a value without a default echoed back in the prompt, so
// a re-run of setup doesn't print a previously-saved password to the
// terminal.
func askSecret(r *bufio.Reader, prompt string) string {
	fmt.Printf("%s: ", prompt)
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}

func ask(r *bufio.Reader, prompt, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", prompt, def)
	} else {
		fmt.Printf("%s: ", prompt)
	}
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func askInt(r *bufio.Reader, prompt string, def int) int {
	v := ask(r, prompt, strconv.Itoa(def))
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func askList(r *bufio.Reader, prompt string, def []string) []string {
	v := ask(r, prompt, strings.Join(def, ","))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
