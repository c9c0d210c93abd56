package cmd

import (
	"time"

	"github.com/ccjk/daemon/internal/cloudclient"
	"github.com/ccjk/daemon/internal/config"
	"github.com/ccjk/daemon/internal/email"
	"github.com/ccjk/daemon/internal/executor"
	"github.com/ccjk/daemon/internal/orchestrator"
	"github.com/ccjk/daemon/internal/policy"
)

// buildOrchestrator constructs every collaborator the daemon needs from a
// loaded, validated config and hands the assembled set to a single
// long-running orchestrator.
func buildOrchestrator(cfg *config.DaemonConfig) *orchestrator.Orchestrator {
	allowedSenders := cfg.Security.AllowedSenders
	if cfg.CloudEnabled() {
		// Cloud-sourced tasks are already authenticated by the cloud
		// server's device-key check before they're leased to this daemon;
		// the policy gate still needs an allowlist entry for the synthetic
		// identity orchestrator.senderFor assigns them.
		allowedSenders = append(append([]string(nil), allowedSenders...), "cloud-device")
	}
	pol := policy.New(
		allowedSenders,
		cfg.Security.CommandAllowPrefixes,
		cfg.Security.CommandDenySubstrings,
		cfg.Security.MaxCommandLength,
	)
	exec := executor.New()

	var emailSrc *email.Source
	var emailSink *email.Sink
	if cfg.EmailEnabled() {
		emailSrc = email.NewSource(cfg.Email.ImapHost, cfg.Email.ImapPort, cfg.Email.Address, cfg.Email.Password, cfg.Security.AllowedSenders)
		emailSink = email.NewSink(cfg.Email.SmtpHost, cfg.Email.SmtpPort, cfg.Email.Address, cfg.Email.Password, cfg.Email.Address)
	}

	var cloud *cloudclient.Client
	if cfg.CloudEnabled() {
		retry := cloudclient.RetryPolicy{
			MaxAttempts: cfg.ResultRetry.MaxAttempts,
			BaseDelay:   durationMs(cfg.ResultRetry.BaseDelayMs),
			MaxDelay:    durationMs(cfg.ResultRetry.MaxDelayMs),
		}
		if retry.MaxAttempts == 0 {
			def := cloudclient.DefaultRetryPolicy()
			retry = def
		}
		cloud = cloudclient.New(cfg.Cloud.ApiBaseUrl, cfg.Cloud.DeviceKey, retry)
	}

	return orchestrator.New(cfg, pol, exec, emailSrc, emailSink, cloud)
}

func durationMs(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
