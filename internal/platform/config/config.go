package config

import (
	"crypto/rsa"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// envOrDefault returns os.Getenv(key) or def if unset/empty.
func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// secretSource resolves named secrets either from Vault (when VAULT_ADDR is
// set) or from plain environment variables, mirroring the teacher's
// cmd/*/main.go Vault-bootstrap pattern while keeping the binaries runnable
// without a Vault instance in tests and local dev.
type secretSource struct {
	data map[string]interface{}
}

func loadSecrets(secretPath string) (secretSource, error) {
	addr := os.Getenv("VAULT_ADDR")
	if addr == "" {
		return secretSource{data: map[string]interface{}{}}, nil
	}
	token := envOrDefault("VAULT_TOKEN", "root")
	mgr, err := NewSecretManager(addr, token)
	if err != nil {
		return secretSource{}, err
	}
	data, err := mgr.GetKV2(secretPath)
	if err != nil {
		return secretSource{}, err
	}
	return secretSource{data: data}, nil
}

func (s secretSource) get(key, envKey, def string) string {
	if v := stringField(s.data, key); v != "" {
		return v
	}
	return envOrDefault(envKey, def)
}

// GateConfig is the gate binary's process configuration.
type GateConfig struct {
	DatabaseURL      string
	BackendSyncURL   string
	GateAPIKey       string
	SyncBatchSize    int
	SyncIntervalSecs int
	SyncTimeoutSecs  int
	GateDeviceID     string
	PublicKey        *rsa.PublicKey
}

// LoadGateConfig assembles the gate's configuration from Vault (if
// VAULT_ADDR is set) falling back to environment variables, per §6/§2.1 of
// the expanded specification.
func LoadGateConfig() (*GateConfig, error) {
	secretPath := envOrDefault("VAULT_SECRET_PATH", "secret/data/gatehouse/gate")
	secrets, err := loadSecrets(secretPath)
	if err != nil {
		return nil, fmt.Errorf("config: loading gate secrets: %w", err)
	}

	pubKeyPEM := secrets.get("GATE_PUBLIC_KEY", "GATE_PUBLIC_KEY_PATH", "")
	pubKey, err := loadPublicKey(pubKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("config: loading gate public key: %w", err)
	}

	return &GateConfig{
		DatabaseURL:      secrets.get("DATABASE_URL", "GATE_DATABASE_URL", ""),
		BackendSyncURL:   secrets.get("BACKEND_SYNC_URL", "BACKEND_SYNC_URL", ""),
		GateAPIKey:       secrets.get("GATE_API_KEY", "GATE_API_KEY", ""),
		SyncBatchSize:    envIntOrDefault("SYNC_BATCH_SIZE", 200),
		SyncIntervalSecs: envIntOrDefault("SYNC_INTERVAL_SECONDS", 5),
		SyncTimeoutSecs:  envIntOrDefault("SYNC_TIMEOUT_SECONDS", 10),
		GateDeviceID:     envOrDefault("GATE_DEVICE_ID", ""),
		PublicKey:        pubKey,
	}, nil
}

// BackendConfig is the backend binary's process configuration.
type BackendConfig struct {
	DatabaseURL   string
	GateAPIKey    string
	SyncMaxEvents int
	NATSURL       string
	PrivateKey    *rsa.PrivateKey
	PublicKey     *rsa.PublicKey
	KioskToken    string
}

// LoadBackendConfig assembles the backend's configuration.
func LoadBackendConfig() (*BackendConfig, error) {
	secretPath := envOrDefault("VAULT_SECRET_PATH", "secret/data/gatehouse/backend")
	secrets, err := loadSecrets(secretPath)
	if err != nil {
		return nil, fmt.Errorf("config: loading backend secrets: %w", err)
	}

	privPEM := secrets.get("GATE_PRIVATE_KEY", "GATE_PRIVATE_KEY_PATH", "")
	privKey, err := loadPrivateKey(privPEM)
	if err != nil {
		return nil, fmt.Errorf("config: loading backend private key: %w", err)
	}
	pubPEM := secrets.get("GATE_PUBLIC_KEY", "GATE_PUBLIC_KEY_PATH", "")
	pubKey, err := loadPublicKey(pubPEM)
	if err != nil {
		return nil, fmt.Errorf("config: loading backend public key: %w", err)
	}

	return &BackendConfig{
		DatabaseURL:   secrets.get("DATABASE_URL", "BACKEND_DATABASE_URL", ""),
		GateAPIKey:    secrets.get("GATE_API_KEY", "GATE_API_KEY", ""),
		SyncMaxEvents: envIntOrDefault("SYNC_MAX_EVENTS", 500),
		NATSURL:       secrets.get("NATS_URL", "NATS_URL", "nats://localhost:4222"),
		PrivateKey:    privKey,
		PublicKey:     pubKey,
		KioskToken:    envOrDefault("KIOSK_TOKEN", ""),
	}, nil
}

// loadPublicKey accepts either a PEM blob or a filesystem path to one; an
// empty input yields a nil key (some processes, e.g. a sign-only codec,
// never need one).
func loadPublicKey(pemOrPath string) (*rsa.PublicKey, error) {
	if pemOrPath == "" {
		return nil, nil
	}
	pemBytes, err := resolvePEM(pemOrPath)
	if err != nil {
		return nil, err
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("config: parsing RSA public key: %w", err)
	}
	return key, nil
}

func loadPrivateKey(pemOrPath string) (*rsa.PrivateKey, error) {
	if pemOrPath == "" {
		return nil, nil
	}
	pemBytes, err := resolvePEM(pemOrPath)
	if err != nil {
		return nil, err
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("config: parsing RSA private key: %w", err)
	}
	return key, nil
}

func resolvePEM(pemOrPath string) ([]byte, error) {
	if len(pemOrPath) > 0 && pemOrPath[0] == '-' {
		// Looks like "-----BEGIN ..." already.
		return []byte(pemOrPath), nil
	}
	data, err := os.ReadFile(pemOrPath)
	if err != nil {
		return nil, fmt.Errorf("reading key file %s: %w", pemOrPath, err)
	}
	return data, nil
}

// ParseDuration is a small helper shared by CLI flag parsing for
// operator-supplied durations expressed in plain seconds.
func ParseDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
