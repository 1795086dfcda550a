package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for dsdaup.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Cache      CacheConfig      `toml:"cache"`
	Database   DatabaseConfig   `toml:"database"`
	Replay     ReplayConfig     `toml:"replay"`
	Registry   LocatorConfig    `toml:"registry"`
	Idgames    LocatorConfig    `toml:"idgames"`
	API        APIConfig        `toml:"api"`
	Validation ValidationConfig `toml:"validation"`
}

// CacheConfig represents configuration for the local asset cache.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CacheConfig struct {
	Type string `toml:"type"` // "filesystem", "memory", or "s3"

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`
}

// DatabaseConfig represents configuration for the submission history database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// ReplayConfig describes how to run the replay engine.
type ReplayConfig struct {
	Binary         string   `toml:"binary"`
	IWADDir        string   `toml:"iwad_dir"`
	IWAD           string   `toml:"iwad"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	ExtraArgs      []string `toml:"extra_args,omitempty"`
}

// Timeout returns the playback timeout, zero when unset.
func (r ReplayConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// LocatorConfig configures a remote asset lookup.
type LocatorConfig struct {
	Enabled           bool    `toml:"enabled"`
	BaseURL           string  `toml:"base_url"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// APIConfig configures the archive API client. The password is never stored
// here: it is read from the age-encrypted credentials file or the environment.
type APIConfig struct {
	BaseURL         string `toml:"base_url"`
	Username        string `toml:"username"`
	CredentialsPath string `toml:"credentials_path"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
}

// ValidationConfig overrides the archive's validation rules.
type ValidationConfig struct {
	EpochCutoff    string   `toml:"epoch_cutoff"` // YYYY-MM-DD
	RequiredFields []string `toml:"required_fields,omitempty"`
}

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Cache: CacheConfig{
			Type:   "filesystem",
			FSRoot: filepath.Join(baseDir, "cache"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Replay: ReplayConfig{
			Binary:         "dsda-doom",
			IWADDir:        filepath.Join(baseDir, "iwads"),
			IWAD:           "doom2.wad",
			TimeoutSeconds: 300,
		},
		Registry: LocatorConfig{
			Enabled:           true,
			BaseURL:           "https://dsdarchive.com",
			RequestsPerSecond: 1,
		},
		Idgames: LocatorConfig{
			Enabled:           true,
			BaseURL:           "https://www.doomworld.com/idgames/api/api.php",
			RequestsPerSecond: 1,
		},
		API: APIConfig{
			BaseURL:         "https://dsdarchive.com",
			CredentialsPath: filepath.Join(baseDir, "keys", "api.age"),
			TimeoutSeconds:  120,
		},
		Validation: ValidationConfig{
			EpochCutoff: "1994-01-01",
		},
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

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
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
