package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveLoad_RoundtripsEncryptedPasswords(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "daemon-config.json")
	keyPath := filepath.Join(dir, "credentials", "key")

	cfg := Default()
	cfg.Mode = ModeHybrid
	cfg.Email = EmailConfig{
		ImapHost: "imap.example.com",
		SmtpHost: "smtp.example.com",
		Address:  "daemon@example.com",
		Password: "mailbox-secret",
	}
	cfg.Cloud = CloudConfig{
		ApiBaseUrl: "https://cloud.example.com",
		Email:      "device@example.com",
		Password:   "cloud-secret",
	}

	if err := Save(cfg, configPath, keyPath); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(configPath, keyPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Email.Password != "mailbox-secret" {
		t.Errorf("Email.Password = %q, want %q", loaded.Email.Password, "mailbox-secret")
	}
	if loaded.Cloud.Password != "cloud-secret" {
		t.Errorf("Cloud.Password = %q, want %q", loaded.Cloud.Password, "cloud-secret")
	}
}

func TestSave_NeverWritesPlaintextPasswordToDisk(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "daemon-config.json")
	keyPath := filepath.Join(dir, "credentials", "key")

	cfg := Default()
	cfg.Mode = ModeEmail
	cfg.Email = EmailConfig{
		ImapHost: "imap.example.com",
		SmtpHost: "smtp.example.com",
		Address:  "daemon@example.com",
		Password: "super-secret-value",
	}

	if err := Save(cfg, configPath, keyPath); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "super-secret-value") {
		t.Error("plaintext password found in config file on disk")
	}
}

func TestLoad_MissingFileIsConfigError(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "nope.json"), filepath.Join(dir, "key"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if !IsConfigError(err) {
		t.Errorf("expected a ConfigError, got %T: %v", err, err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CCJK_EMAIL_ADDRESS", "override@example.com")
	t.Setenv("CCJK_CLOUD_DEVICE_KEY", "env-device-key")
	t.Setenv("CCJK_MODE", "cloud")

	cfg := Default()
	applyEnvOverrides(cfg)

	if cfg.Email.Address != "override@example.com" {
		t.Errorf("Email.Address = %q, want override@example.com", cfg.Email.Address)
	}
	if cfg.Cloud.DeviceKey != "env-device-key" {
		t.Errorf("Cloud.DeviceKey = %q, want env-device-key", cfg.Cloud.DeviceKey)
	}
	if cfg.Mode != ModeCloud {
		t.Errorf("Mode = %q, want %q", cfg.Mode, ModeCloud)
	}
}
