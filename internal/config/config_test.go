package config

import "testing"

func validEmailConfig() *DaemonConfig {
	cfg := Default()
	cfg.Mode = ModeEmail
	cfg.Email = EmailConfig{
		ImapHost: "imap.example.com",
		ImapPort: 993,
		SmtpHost: "smtp.example.com",
		SmtpPort: 587,
		Address:  "daemon@example.com",
		Password: "app-password",
	}
	return cfg
}

func TestValidate_ValidEmailConfig(t *testing.T) {
	if err := validEmailConfig().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_RejectsBadMode(t *testing.T) {
	cfg := validEmailConfig()
	cfg.Mode = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid mode")
	}
}

func TestValidate_RejectsZeroMaxConcurrentTasks(t *testing.T) {
	cfg := validEmailConfig()
	cfg.MaxConcurrentTasks = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for maxConcurrentTasks < 1")
	}
}

func TestValidate_EmailModeRequiresEmailFields(t *testing.T) {
	cfg := validEmailConfig()
	cfg.Email.ImapHost = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing imapHost in email mode")
	}
}

func TestValidate_CloudModeRequiresApiBaseUrl(t *testing.T) {
	cfg := Default()
	cfg.Mode = ModeCloud
	cfg.Cloud.DeviceKey = "already-issued"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing cloud.apiBaseUrl")
	}
}

func TestValidate_CloudModeRequiresDeviceKeyOrCredentials(t *testing.T) {
	cfg := Default()
	cfg.Mode = ModeCloud
	cfg.Cloud.ApiBaseUrl = "https://cloud.example.com"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when neither deviceKey nor email+password are set")
	}

	cfg.Cloud.Email = "device@example.com"
	cfg.Cloud.Password = "secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error with email+password set: %v", err)
	}
}

func TestValidate_CloudModeDeviceKeyAloneIsSufficient(t *testing.T) {
	cfg := Default()
	cfg.Mode = ModeCloud
	cfg.Cloud.ApiBaseUrl = "https://cloud.example.com"
	cfg.Cloud.DeviceKey = "already-issued"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEmailAndCloudEnabled_Hybrid(t *testing.T) {
	cfg := Default()
	cfg.Mode = ModeHybrid
	if !cfg.EmailEnabled() {
		t.Error("expected EmailEnabled() in hybrid mode")
	}
	if !cfg.CloudEnabled() {
		t.Error("expected CloudEnabled() in hybrid mode")
	}
}

func TestIsConfigError(t *testing.T) {
	if !IsConfigError(errConfig("bad: %s", "thing")) {
		t.Error("expected errConfig to produce a ConfigError")
	}
	if IsConfigError(nil) {
		t.Error("IsConfigError(nil) should be false")
	}
}
