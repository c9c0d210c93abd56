package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/titanous/json5"
)

// Paths bundles the filesystem locations the config store owns, all rooted
// under one config directory (default <home>/.ccjk).
type Paths struct {
	Dir         string
	ConfigFile  string
	KeyFile     string
	LockFile    string
	LogFile     string
}

// DefaultPaths returns the standard layout under the user's home directory.
func DefaultPaths() (Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve home dir: %w", err)
	}
	dir := filepath.Join(home, ".ccjk")
	return Paths{
		Dir:        dir,
		ConfigFile: filepath.Join(dir, "daemon-config.json"),
		KeyFile:    filepath.Join(dir, "credentials", "key"),
		LockFile:   filepath.Join(dir, "daemon.lock"),
		LogFile:    filepath.Join(dir, "daemon.log"),
	}, nil
}

// Load reads DaemonConfig from path, overlays env vars, decrypts the
// email and cloud passwords using the per-machine keyfile, and validates
// the result.
// A missing config file is a ConfigError: this daemon always requires
// explicit setup first, it never runs against implicit defaults.
func Load(path, keyFilePath string) (*DaemonConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errConfig("no config at %s — run `daemon setup` first", path)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, errConfig("parse config %s: %v", path, err)
	}

	applyEnvOverrides(cfg)

	if cfg.Email.EncryptedPassword != "" && cfg.Email.Password == "" {
		keyMaterial, err := loadOrCreateKeyFile(keyFilePath)
		if err != nil {
			return nil, err
		}
		plain, err := decryptSecret(keyMaterial, cfg.Email.EncryptedPassword)
		if err != nil {
			return nil, fmt.Errorf("decrypt email password: %w", err)
		}
		cfg.Email.Password = plain
	}

	if cfg.Cloud.EncryptedPassword != "" && cfg.Cloud.Password == "" {
		keyMaterial, err := loadOrCreateKeyFile(keyFilePath)
		if err != nil {
			return nil, err
		}
		plain, err := decryptSecret(keyMaterial, cfg.Cloud.EncryptedPassword)
		if err != nil {
			return nil, fmt.Errorf("decrypt cloud password: %w", err)
		}
		cfg.Cloud.Password = plain
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save encrypts the email and cloud passwords (if set in plaintext) and
// writes cfg to path with file mode 0600.
func Save(cfg *DaemonConfig, path, keyFilePath string) error {
	out := *cfg
	if cfg.Email.Password != "" {
		keyMaterial, err := loadOrCreateKeyFile(keyFilePath)
		if err != nil {
			return err
		}
		enc, err := encryptSecret(keyMaterial, cfg.Email.Password)
		if err != nil {
			return fmt.Errorf("encrypt email password: %w", err)
		}
		out.Email.EncryptedPassword = enc
	}
	out.Email.Password = "" // never serialize plaintext

	if cfg.Cloud.Password != "" {
		keyMaterial, err := loadOrCreateKeyFile(keyFilePath)
		if err != nil {
			return err
		}
		enc, err := encryptSecret(keyMaterial, cfg.Cloud.Password)
		if err != nil {
			return fmt.Errorf("encrypt cloud password: %w", err)
		}
		out.Cloud.EncryptedPassword = enc
	}
	out.Cloud.Password = "" // never serialize plaintext

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyEnvOverrides overlays secrets and a handful of operational
// settings from the environment; env vars always take precedence over
// whatever is on disk.
func applyEnvOverrides(cfg *DaemonConfig) {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("CCJK_IMAP_HOST", &cfg.Email.ImapHost)
	envStr("CCJK_SMTP_HOST", &cfg.Email.SmtpHost)
	envStr("CCJK_EMAIL_ADDRESS", &cfg.Email.Address)
	envStr("CCJK_EMAIL_PASSWORD", &cfg.Email.Password)
	envStr("CCJK_CLOUD_API_BASE_URL", &cfg.Cloud.ApiBaseUrl)
	envStr("CCJK_CLOUD_DEVICE_KEY", &cfg.Cloud.DeviceKey)
	envStr("CCJK_CLOUD_EMAIL", &cfg.Cloud.Email)
	envStr("CCJK_CLOUD_PASSWORD", &cfg.Cloud.Password)
	if v := os.Getenv("CCJK_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
}
