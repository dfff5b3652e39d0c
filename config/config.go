// Package config loads relay's settings from YAML with environment overrides.
//
// A minimal .relay/config.yaml:
//
//	listen: 127.0.0.1:7878
//	log:
//	  level: debug
//	audit:
//	  sqlite_path: .relay/audit.db
//	model:
//	  provider: openai
//	  name: gpt-4o-mini
//
// Relative paths are resolved against project_root.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultHarnessDir    = ".relay"
	DefaultListen        = "127.0.0.1:7878"
	DefaultTokenEnv      = "OPENAI_API_KEY"
	GitHubTokenEnv       = "GITHUB_TOKEN"
	DefaultWatchInterval = 2 * time.Second
	DefaultFileName      = "config.yaml"
)

// Config is the full relay configuration.
type Config struct {
	ProjectRoot  string `yaml:"project_root"`
	HarnessDir   string `yaml:"harness_dir"`
	HooksFile    string `yaml:"hooks_file"`
	MessagesFile string `yaml:"messages_file"`
	TodoFile     string `yaml:"todo_file"`
	Listen       string `yaml:"listen"`

	Log   LogConfig   `yaml:"log"`
	Audit AuditConfig `yaml:"audit"`
	Model ModelConfig `yaml:"model"`

	// WatchHooks reloads the hook document when it changes on disk.
	// Defaults to true.
	WatchHooks    *bool         `yaml:"watch_hooks"`
	WatchInterval time.Duration `yaml:"watch_interval"`
}

// LogConfig mirrors logging.Options.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// AuditConfig enables the dispatch audit sinks. Empty values disable them.
type AuditConfig struct {
	SQLitePath string      `yaml:"sqlite_path"`
	Meili      MeiliConfig `yaml:"meili"`
}

// MeiliConfig locates a Meilisearch instance.
type MeiliConfig struct {
	URL   string `yaml:"url"`
	Key   string `yaml:"key"`
	Index string `yaml:"index"`
}

// ModelConfig selects the model behind the prompt_review handler. An empty
// provider disables it.
type ModelConfig struct {
	Provider string `yaml:"provider"`
	Name     string `yaml:"name"`
	TokenEnv string `yaml:"token_env"`
	BaseURL  string `yaml:"base_url"`
}

// Token reads the API token from the variable EnvName names.
func (m ModelConfig) Token() string {
	return os.Getenv(m.EnvName())
}

// EnvName is the variable Token reads: TokenEnv, or the provider's usual one.
func (m ModelConfig) EnvName() string {
	switch {
	case m.TokenEnv != "":
		return m.TokenEnv
	case strings.EqualFold(m.Provider, "github"):
		return GitHubTokenEnv
	default:
		return DefaultTokenEnv
	}
}

// Default returns a config rooted at the working directory.
func Default() *Config {
	watch := true
	return &Config{
		HarnessDir:    DefaultHarnessDir,
		Listen:        DefaultListen,
		WatchHooks:    &watch,
		WatchInterval: DefaultWatchInterval,
	}
}

// Load reads path over the defaults, applies environment overrides and
// resolves paths. An empty path skips the file. A path that does not exist
// is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Find returns the config file for projectRoot, empty if there is none.
func Find(projectRoot string) string {
	path := filepath.Join(projectRoot, DefaultHarnessDir, DefaultFileName)
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

func (c *Config) applyEnv() {
	c.ProjectRoot = envOrDefault("RELAY_PROJECT_ROOT", c.ProjectRoot)
	c.Listen = envOrDefault("RELAY_LISTEN", c.Listen)
	c.Log.Level = envOrDefault("RELAY_LOG_LEVEL", c.Log.Level)
	c.Audit.Meili.URL = envOrDefault("RELAY_MEILI_URL", c.Audit.Meili.URL)
	c.Audit.Meili.Key = envOrDefault("RELAY_MEILI_KEY", c.Audit.Meili.Key)
}

func (c *Config) resolve() error {
	if c.ProjectRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving project root: %w", err)
		}
		c.ProjectRoot = wd
	}
	root, err := filepath.Abs(c.ProjectRoot)
	if err != nil {
		return fmt.Errorf("resolving project root: %w", err)
	}
	c.ProjectRoot = root

	if c.HarnessDir == "" {
		c.HarnessDir = DefaultHarnessDir
	}
	c.HarnessDir = c.under(root, c.HarnessDir)

	c.HooksFile = c.orDefault(c.HooksFile, "hooks.json")
	c.MessagesFile = c.orDefault(c.MessagesFile, "messages.json")
	c.TodoFile = c.orDefault(c.TodoFile, "todo.md")
	if c.Audit.SQLitePath != "" {
		c.Audit.SQLitePath = c.under(root, c.Audit.SQLitePath)
	}
	if c.Log.File != "" {
		c.Log.File = c.under(root, c.Log.File)
	}
	if c.WatchInterval <= 0 {
		c.WatchInterval = DefaultWatchInterval
	}
	return nil
}

// orDefault resolves p against the project root, or names a file in the
// harness directory when p is empty.
func (c *Config) orDefault(p, name string) string {
	if p == "" {
		return filepath.Join(c.HarnessDir, name)
	}
	return c.under(c.ProjectRoot, p)
}

func (c *Config) under(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

// Validate checks values Load cannot default.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Listen) == "" {
		errs = append(errs, errors.New("listen must not be empty"))
	}
	switch strings.ToLower(c.Model.Provider) {
	case "", "openai", "github":
	default:
		errs = append(errs, fmt.Errorf("unsupported model provider %q", c.Model.Provider))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Watch reports whether hook hot reload is enabled.
func (c *Config) Watch() bool {
	return c.WatchHooks == nil || *c.WatchHooks
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
