package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"vkmedia/internal/domain"
)

// EnvPrefix is the prefix of every environment variable that overrides a config field.
const EnvPrefix = "VKMEDIA_"

// Config is the top-level application configuration.
type Config struct {
	API      APIConfig     `yaml:"api"`
	Upload   UploadConfig  `yaml:"upload"`
	Logger   LoggerConfig  `yaml:"logger"`
	Tracer   TracerConfig  `yaml:"tracer"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Batch    BatchConfig   `yaml:"batch"`
	Includes []string      `yaml:"includes,omitempty"`
}

// APIConfig holds settings for the remote platform API client.
type APIConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Version     string        `yaml:"version"`
	Token       string        `yaml:"token"`    // may be "enc:..."
	GroupID     int64         `yaml:"group_id"` // default community for covers
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Workers     int           `yaml:"workers"`    // goroutines serving async calls
	QueueSize   int           `yaml:"queue_size"` // async calls buffered for workers; overflow runs on its own goroutine
	Breaker     BreakerConfig `yaml:"breaker"`
	Pool        PoolConfig    `yaml:"pool"`
}

// BreakerConfig configures the circuit breaker in front of the API transport.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig configures HTTP connection pooling.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// UploadConfig holds settings for source resolution and transfers.
type UploadConfig struct {
	MaxDownloadBytes int64         `yaml:"max_download_bytes"`
	MaxResponseBytes int64         `yaml:"max_response_bytes"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	UploadTimeout    time.Duration `yaml:"upload_timeout"`
	// BlockPrivateNetworks refuses to download from loopback and private addresses.
	BlockPrivateNetworks bool            `yaml:"block_private_networks"`
	Cover                CoverCropConfig `yaml:"cover"`
}

// CoverCropConfig is the crop box sent when negotiating a group cover upload.
type CoverCropConfig struct {
	X  int `yaml:"crop_x"`
	Y  int `yaml:"crop_y"`
	X2 int `yaml:"crop_x2"`
	Y2 int `yaml:"crop_y2"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// BatchConfig holds settings for the batch command.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:     "https://api.vk.com",
			Version:     "5.131",
			ConnTimeout: 10 * time.Second,
			RespTimeout: 60 * time.Second,
			Workers:     4,
			QueueSize:   64,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Upload: UploadConfig{
			MaxDownloadBytes:     50 * 1024 * 1024,
			MaxResponseBytes:     1 * 1024 * 1024,
			FetchTimeout:         60 * time.Second,
			UploadTimeout:        120 * time.Second,
			BlockPrivateNetworks: true,
			Cover: CoverCropConfig{
				X:  0,
				Y:  0,
				X2: 1590,
				Y2: 400,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Addr:      ":9464",
			Namespace: "vkmedia",
		},
		Batch: BatchConfig{
			Concurrency: 4,
		},
	}
}

// Load reads a YAML config file, merges includes, applies env var overrides
// and decrypts secrets. A missing file yields defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finish(cfg)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		if err := applyIncludes(cfg, absPath); err != nil {
			return nil, err
		}
		// The including file wins over everything it pulled in.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv(EnvPrefix + "CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps VKMEDIA_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	setString(&cfg.API.BaseURL, "API_BASE_URL")
	setString(&cfg.API.Version, "API_VERSION")
	setString(&cfg.API.Token, "API_TOKEN")
	setInt64(&cfg.API.GroupID, "API_GROUP_ID")
	setInt(&cfg.API.Workers, "API_WORKERS")
	setDuration(&cfg.API.RespTimeout, "API_RESP_TIMEOUT")

	setInt64(&cfg.Upload.MaxDownloadBytes, "UPLOAD_MAX_DOWNLOAD_BYTES")
	setDuration(&cfg.Upload.FetchTimeout, "UPLOAD_FETCH_TIMEOUT")
	setDuration(&cfg.Upload.UploadTimeout, "UPLOAD_TIMEOUT")
	if v := os.Getenv(EnvPrefix + "UPLOAD_BLOCK_PRIVATE_NETWORKS"); v != "" {
		cfg.Upload.BlockPrivateNetworks = v == "true"
	}

	setString(&cfg.Logger.Level, "LOGGER_LEVEL")
	setString(&cfg.Logger.Format, "LOGGER_FORMAT")
	setString(&cfg.Logger.Output, "LOGGER_OUTPUT")

	if v := os.Getenv(EnvPrefix + "TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	setString(&cfg.Tracer.Exporter, "TRACER_EXPORTER")

	if v := os.Getenv(EnvPrefix + "METRICS_ENABLED"); v == "true" {
		cfg.Metrics.Enabled = true
	}
	setString(&cfg.Metrics.Addr, "METRICS_ADDR")

	setInt(&cfg.Batch.Concurrency, "BATCH_CONCURRENCY")
}

func setString(dst *string, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}

// decryptSecrets replaces "enc:..." values with their plaintext.
func decryptSecrets(cfg *Config, passphrase string) error {
	if strings.HasPrefix(cfg.API.Token, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.API.Token, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("api token: %w: %w", domain.ErrDecryption, err)
		}
		cfg.API.Token = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
// The result is hex(salt) + ":" + hex(nonce+ciphertext).
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sealed), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// newGCM derives a 32-byte Argon2id key from passphrase + salt and wraps it in AES-GCM.
func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// validatePermissions rejects config files writable by group or others.
// The file holds the API token.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
