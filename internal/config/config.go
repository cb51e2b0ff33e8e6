package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeLocal Mode = "local"
	ModeGCP   Mode = "gcp"
)

const (
	BackendMemory      = "memory"
	BackendSQLite      = "sqlite"
	BackendFirestore   = "firestore"
	BackendGoogleTasks = "googletasks"

	ProviderMock   = "mock"
	ProviderGemini = "gemini"
)

type Config struct {
	Mode Mode `yaml:"mode"`

	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Storage StorageConfig `yaml:"storage"`
	Google  GoogleConfig  `yaml:"google"`
	Engine  EngineConfig  `yaml:"engine"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"` // "mock" or "gemini"
	APIKey      string  `yaml:"api_key"`
	GCPProject  string  `yaml:"gcp_project"`
	GCPLocation string  `yaml:"gcp_location"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"` // "memory", "sqlite" or "firestore"
	// Tasks overrides the task store only, e.g. "googletasks".
	Tasks            string `yaml:"tasks"`
	SQLitePath       string `yaml:"sqlite_path"`
	FirestoreProject string `yaml:"firestore_project"`
}

type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
	AuthPort        string `yaml:"auth_port"`
}

type EngineConfig struct {
	Parser            string `yaml:"parser"` // "line" or "regex"
	MaxSuggestedTasks int    `yaml:"max_suggested_tasks"`
	BatchConcurrency  int    `yaml:"batch_concurrency"`
}

type LogConfig struct {
	Debug bool `yaml:"debug"`
}

// TaskBackend is the backend serving the task store.
func (c *Config) TaskBackend() string {
	if c.Storage.Tasks != "" {
		return c.Storage.Tasks
	}
	return c.Storage.Backend
}

// Default returns the local development configuration.
func Default() *Config {
	home := configHome()
	return &Config{
		Mode:   ModeLocal,
		Server: ServerConfig{Port: "8080"},
		LLM: LLMConfig{
			Provider:    ProviderMock,
			GCPLocation: "us-central1",
			Model:       "gemini-2.0-flash",
			Temperature: 0.7,
		},
		Storage: StorageConfig{
			Backend:    BackendMemory,
			SQLitePath: filepath.Join(home, "farum.db"),
		},
		Google: GoogleConfig{
			CredentialsFile: filepath.Join(home, "credentials.json"),
			TokenFile:       filepath.Join(home, "token.json"),
			AuthPort:        "6789",
		},
		Engine: EngineConfig{
			Parser:            "line",
			MaxSuggestedTasks: 5,
			BatchConcurrency:  4,
		},
	}
}

func configHome() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "farum-tasks")
	}
	return ".farum-tasks"
}

// Load builds the config from defaults, the optional YAML file at path and
// FARUM_* environment variables, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getIntEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("FARUM_MODE"); v != "" {
		c.Mode = Mode(strings.ToLower(v))
	}
	c.Server.Port = getEnv("FARUM_PORT", c.Server.Port)

	c.LLM.Provider = getEnv("FARUM_LLM_PROVIDER", c.LLM.Provider)
	c.LLM.APIKey = getEnv("FARUM_GEMINI_API_KEY", getEnv("GEMINI_API_KEY", c.LLM.APIKey))
	c.LLM.GCPProject = getEnv("FARUM_GCP_PROJECT", c.LLM.GCPProject)
	c.LLM.GCPLocation = getEnv("FARUM_GCP_LOCATION", c.LLM.GCPLocation)
	c.LLM.Model = getEnv("FARUM_MODEL_NAME", c.LLM.Model)
	if os.Getenv("FARUM_USE_MOCK_LLM") != "" {
		if getBoolEnv("FARUM_USE_MOCK_LLM", false) {
			c.LLM.Provider = ProviderMock
		} else {
			c.LLM.Provider = ProviderGemini
		}
	}

	c.Storage.Backend = getEnv("FARUM_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Tasks = getEnv("FARUM_TASK_BACKEND", c.Storage.Tasks)
	c.Storage.SQLitePath = getEnv("FARUM_SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.FirestoreProject = getEnv("FARUM_FIRESTORE_PROJECT", c.Storage.FirestoreProject)
	if c.Storage.FirestoreProject == "" {
		c.Storage.FirestoreProject = c.LLM.GCPProject
	}

	c.Google.CredentialsFile = getEnv("FARUM_GOOGLE_CREDENTIALS", c.Google.CredentialsFile)
	c.Google.TokenFile = getEnv("FARUM_GOOGLE_TOKEN", c.Google.TokenFile)
	c.Google.AuthPort = getEnv("FARUM_GOOGLE_AUTH_PORT", c.Google.AuthPort)

	c.Engine.Parser = getEnv("FARUM_PARSER", c.Engine.Parser)
	var err error
	if c.Engine.MaxSuggestedTasks, err = getIntEnv("FARUM_MAX_SUGGESTED_TASKS", c.Engine.MaxSuggestedTasks); err != nil {
		return err
	}
	if c.Engine.BatchConcurrency, err = getIntEnv("FARUM_BATCH_CONCURRENCY", c.Engine.BatchConcurrency); err != nil {
		return err
	}

	c.Log.Debug = getBoolEnv("FARUM_DEBUG", c.Log.Debug)
	return nil
}

// Validate checks the fields the selected backends need.
func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeLocal, ModeGCP:
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}

	switch c.LLM.Provider {
	case ProviderMock:
	case ProviderGemini:
		if c.LLM.APIKey == "" && c.LLM.GCPProject == "" {
			errs = append(errs, errors.New("gemini needs GEMINI_API_KEY or FARUM_GCP_PROJECT"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLM.Provider))
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for sqlite"))
		}
	case BackendFirestore:
		if c.Storage.FirestoreProject == "" {
			errs = append(errs, errors.New("FARUM_GCP_PROJECT must be set for firestore"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	switch c.Storage.Tasks {
	case "", BackendMemory, BackendSQLite, BackendFirestore:
	case BackendGoogleTasks:
		if c.Google.CredentialsFile == "" || c.Google.TokenFile == "" {
			errs = append(errs, errors.New("googletasks needs google.credentials_file and google.token_file"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown task backend %q", c.Storage.Tasks))
	}

	switch c.Engine.Parser {
	case "line", "regex":
	default:
		errs = append(errs, fmt.Errorf("unknown parser %q", c.Engine.Parser))
	}
	if c.Engine.MaxSuggestedTasks <= 0 {
		errs = append(errs, errors.New("engine.max_suggested_tasks must be positive"))
	}

	if c.Mode == ModeGCP && c.LLM.GCPProject == "" && c.Storage.FirestoreProject == "" {
		errs = append(errs, errors.New("FARUM_GCP_PROJECT must be set in gcp mode"))
	}

	return errors.Join(errs...)
}
