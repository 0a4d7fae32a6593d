package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
)

type Config struct {
	HTTPPort  string `json:"http_port"`
	HTTPSPort string `json:"https_port"`
	Domain    string `json:"domain"`
	TURNPort  int    `json:"turn_port"`
	TURNRealm string `json:"turn_realm"`
	LogLevel  string `json:"log_level"`
	// HTTPOnly disables TLS entirely; set via the --http-only flag.
	HTTPOnly bool `json:"http_only"`

	// VAPIDKeys are loaded from the keys directory, never from config.json.
	VAPIDKeys *VAPIDKeys `json:"-"`
}

type VAPIDKeys struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

// Load reads configuration from config.json next to the binary (if present)
// and fills the gaps from environment variables and defaults.
func Load(httpOnly *bool) *Config {
	cfg := &Config{}

	if data, err := os.ReadFile(configFilePath()); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "ignoring malformed config.json: %v\n", err)
			cfg = &Config{}
		} else {
			fmt.Println("NOTE: custom configuration loaded from config.json")
		}
	}

	if cfg.HTTPPort == "" {
		cfg.HTTPPort = getEnv("HTTP_PORT", "8080")
	}
	if cfg.HTTPSPort == "" {
		cfg.HTTPSPort = getEnv("HTTPS_PORT", "8443")
	}
	if cfg.Domain == "" {
		cfg.Domain = getEnv("DOMAIN", "localhost")
	}
	if cfg.TURNPort == 0 {
		cfg.TURNPort = getEnvInt("TURN_PORT", 3478)
	}
	if cfg.TURNRealm == "" {
		cfg.TURNRealm = getEnv("TURN_REALM", "meshmeet")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	}

	if httpOnly != nil && *httpOnly {
		cfg.HTTPOnly = true
	}

	cfg.VAPIDKeys = loadOrGenerateVAPIDKeys(cfg.Domain)

	return cfg
}

func configFilePath() string {
	execPath, err := os.Executable()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(filepath.Dir(execPath), "config.json")
}

// KeysDirectory is where generated secrets (TURN credentials, VAPID keys)
// live, next to the binary.
func KeysDirectory() string {
	execPath, err := os.Executable()
	if err != nil {
		return "keys"
	}
	return filepath.Join(filepath.Dir(execPath), "keys")
}

// loadOrGenerateVAPIDKeys returns the web-push key pair, generating and
// persisting a fresh one on first run. Push stays disabled if generation
// fails; everything else works without it.
func loadOrGenerateVAPIDKeys(domain string) *VAPIDKeys {
	subject := getEnv("VAPID_SUBJECT", "https://"+domain)

	if pub, priv := os.Getenv("VAPID_PUBLIC_KEY"), os.Getenv("VAPID_PRIVATE_KEY"); pub != "" && priv != "" {
		return &VAPIDKeys{PublicKey: pub, PrivateKey: priv, Subject: subject}
	}

	keysDir := KeysDirectory()
	pubFile := filepath.Join(keysDir, "vapid-public.key")
	privFile := filepath.Join(keysDir, "vapid-private.key")

	pubData, pubErr := os.ReadFile(pubFile)
	privData, privErr := os.ReadFile(privFile)
	if pubErr == nil && privErr == nil {
		pub := strings.TrimSpace(string(pubData))
		priv := strings.TrimSpace(string(privData))
		if pub != "" && priv != "" {
			return &VAPIDKeys{PublicKey: pub, PrivateKey: priv, Subject: subject}
		}
	}

	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate VAPID keys, push disabled: %v\n", err)
		return nil
	}

	if err := os.MkdirAll(keysDir, 0700); err == nil {
		os.WriteFile(pubFile, []byte(pub), 0600)
		os.WriteFile(privFile, []byte(priv), 0600)
	}

	return &VAPIDKeys{PublicKey: pub, PrivateKey: priv, Subject: subject}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
