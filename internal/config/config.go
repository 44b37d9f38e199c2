package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for loanflow.
type Config struct {
	BaseDir       string              `toml:"base_dir"`
	Log           LogConfig           `toml:"log"`
	HTTP          HTTPConfig          `toml:"http"`
	Flows         FlowsConfig         `toml:"flows"`
	ObjectStore   ObjectStoreConfig   `toml:"object_store"`
	DocumentStore DocumentStoreConfig `toml:"document_store"`
	Staging       StagingConfig       `toml:"staging"`
	Identity      IdentityConfig      `toml:"identity"`
	Encryption    EncryptionConfig    `toml:"encryption"`
	Notify        NotifyConfig        `toml:"notify"`
}

// Duration is a time.Duration written as a Go duration string ("30m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LogConfig selects the log encoder and level.
type LogConfig struct {
	Env   string `toml:"env"`   // "dev" (console) or "prod" (JSON)
	Level string `toml:"level"` // debug, info, warn, error
	// Dir receives loanflow.log in addition to stderr when set.
	Dir string `toml:"dir,omitempty"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr       string   `toml:"addr"`
	SessionTTL Duration `toml:"session_ttl"`
	// AllowedOrigins restricts websocket upgrades; empty allows any origin.
	AllowedOrigins []string `toml:"allowed_origins,omitempty"`
}

// FlowsConfig points at optional flow definitions overriding the built-ins.
type FlowsConfig struct {
	Dir string `toml:"dir,omitempty"`
}

// ObjectStoreConfig represents configuration for the document object store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ObjectStoreConfig struct {
	Type string `toml:"type"` // "memory", "filesystem" or "s3"
	Name string `toml:"name"`

	// PublicBaseURL prefixes object paths in returned URLs when set.
	PublicBaseURL string `toml:"public_base_url,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`

	// Credentials come from the environment only.
	S3AccessKey string `toml:"-"`
	S3SecretKey string `toml:"-"`
}

// DocumentStoreConfig represents configuration for the document store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DocumentStoreConfig struct {
	Type        string `toml:"type"`               // "sqlite" or "postgres"
	DataDir     string `toml:"data_dir,omitempty"` // only used for type=sqlite
	AutoMigrate bool   `toml:"auto_migrate"`

	// DSN is only used for type=postgres and comes from the environment.
	DSN string `toml:"-"`
}

// StagingConfig represents configuration for the per-session staging areas.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StagingConfig struct {
	Type       string `toml:"type"`                  // "memory" or "filesystem"
	StagingDir string `toml:"staging_dir,omitempty"` // only used for type=filesystem
	MaxSize    int64  `toml:"max_size"`              // max bytes per session; defaults to 16MB
}

// IdentityConfig configures the phone OTP provider.
type IdentityConfig struct {
	ChallengeStore string `toml:"challenge_store"` // "memory" or "redis"
	RedisAddr      string `toml:"redis_addr,omitempty"`
	RedisDB        int    `toml:"redis_db,omitempty"`

	CodeTTL     Duration `toml:"code_ttl"`
	MaxAttempts int      `toml:"max_attempts"`
	RateLimit   int      `toml:"rate_limit"` // codes per phone per window
	RateWindow  Duration `toml:"rate_window"`

	TokenIssuer string   `toml:"token_issuer"`
	TokenTTL    Duration `toml:"token_ttl"`
	SMSSender   string   `toml:"sms_sender"` // "log"

	RedisPassword string `toml:"-"`
	JWTSecret     string `toml:"-"`
}

// EncryptionConfig holds paths to the age key pair used for document
// encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// NotifyConfig configures the applicant confirmation e-mail.
type NotifyConfig struct {
	Type     string `toml:"type"` // "none" (default) or "smtp"
	SMTPHost string `toml:"smtp_host,omitempty"`
	SMTPPort int    `toml:"smtp_port,omitempty"`
	SMTPUser string `toml:"smtp_user,omitempty"`
	SMTPFrom string `toml:"smtp_from,omitempty"`
	SMTPTLS  string `toml:"smtp_tls,omitempty"` // "auto", "ssl" or "none"

	SMTPPassword string `toml:"-"`
}

// NewConfig creates a Config rooted at baseDir with local defaults: SQLite
// documents, filesystem objects, in-memory staging and challenges.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		Log:     LogConfig{Env: "prod", Level: "info", Dir: filepath.Join(baseDir, "log")},
		HTTP: HTTPConfig{
			Addr:       ":8080",
			SessionTTL: Duration{30 * time.Minute},
		},
		ObjectStore: ObjectStoreConfig{
			Type:   "filesystem",
			Name:   "local",
			FSRoot: filepath.Join(baseDir, "objects"),
		},
		DocumentStore: DocumentStoreConfig{
			Type:        "sqlite",
			DataDir:     filepath.Join(baseDir, "db"),
			AutoMigrate: true,
		},
		Staging: StagingConfig{Type: "memory", MaxSize: 16 * 1024 * 1024},
		Identity: IdentityConfig{
			ChallengeStore: "memory",
			CodeTTL:        Duration{5 * time.Minute},
			MaxAttempts:    5,
			RateLimit:      5,
			RateWindow:     Duration{15 * time.Minute},
			TokenIssuer:    "loanflow",
			TokenTTL:       Duration{time.Hour},
			SMSSender:      "log",
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "documents.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "documents.key"),
		},
		Notify: NotifyConfig{Type: "none"},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
