// Package config loads service configuration and bootstraps the database.
//
// Values are resolved in order: built-in defaults, an optional YAML file,
// then TTW_* environment variables (a .env file in the working directory is
// read first when present).
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const defaultConfigFile = "testtheweb.yaml"

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Browser    BrowserConfig    `koanf:"browser"`
	Recorder   RecorderConfig   `koanf:"recorder"`
	Screenshot ScreenshotConfig `koanf:"screenshot"`
	Proxy      ProxyConfig      `koanf:"proxy"`
	Artifacts  ArtifactsConfig  `koanf:"artifacts"`
	LogDir     string           `koanf:"log_dir"`
}

type ServerConfig struct {
	Addr       string `koanf:"addr"`
	CORSOrigin string `koanf:"cors_origin"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

type BrowserConfig struct {
	Headless       bool `koanf:"headless"`
	TimeoutMS      int  `koanf:"timeout_ms"`
	ViewportWidth  int  `koanf:"viewport_width"`
	ViewportHeight int  `koanf:"viewport_height"`
}

type RecorderConfig struct {
	Headless bool `koanf:"headless"`
}

type ScreenshotConfig struct {
	RPS     float64 `koanf:"rps"`
	Burst   int     `koanf:"burst"`
	Quality int     `koanf:"quality"`
}

type ProxyConfig struct {
	Timeout      time.Duration `koanf:"timeout"`
	MaxRedirects int           `koanf:"max_redirects"`
	UserAgent    string        `koanf:"user_agent"`
}

// ArtifactsConfig enables S3 offload of execution screenshots when Bucket is set.
type ArtifactsConfig struct {
	Bucket          string `koanf:"bucket"`
	Endpoint        string `koanf:"endpoint"`
	Region          string `koanf:"region"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	PublicURL       string `koanf:"public_url"`
	PathStyle       bool   `koanf:"path_style"`
}

// Enabled reports whether screenshots should be offloaded.
func (a ArtifactsConfig) Enabled() bool {
	return a.Bucket != ""
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:       ":3101",
			CORSOrigin: "*",
		},
		Database: DatabaseConfig{
			Path: "./data/testtheweb.db",
		},
		Browser: BrowserConfig{
			Headless:       true,
			TimeoutMS:      30000,
			ViewportWidth:  1280,
			ViewportHeight: 800,
		},
		Recorder: RecorderConfig{
			Headless: false,
		},
		Screenshot: ScreenshotConfig{
			RPS:     1,
			Burst:   3,
			Quality: 80,
		},
		Proxy: ProxyConfig{
			Timeout:      10 * time.Second,
			MaxRedirects: 5,
			UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		},
		Artifacts: ArtifactsConfig{
			Region: "us-east-1",
		},
		LogDir: "log",
	}
}

var envOverrides = map[string]string{
	"TTW_ADDR":                    "server.addr",
	"TTW_CORS_ORIGIN":             "server.cors_origin",
	"TTW_DATABASE_PATH":           "database.path",
	"TTW_BROWSER_HEADLESS":        "browser.headless",
	"TTW_BROWSER_TIMEOUT_MS":      "browser.timeout_ms",
	"TTW_RECORDER_HEADLESS":       "recorder.headless",
	"TTW_SCREENSHOT_RPS":          "screenshot.rps",
	"TTW_SCREENSHOT_BURST":        "screenshot.burst",
	"TTW_PROXY_TIMEOUT":           "proxy.timeout",
	"TTW_ARTIFACTS_BUCKET":        "artifacts.bucket",
	"TTW_ARTIFACTS_ENDPOINT":      "artifacts.endpoint",
	"TTW_ARTIFACTS_REGION":        "artifacts.region",
	"TTW_ARTIFACTS_ACCESS_KEY_ID": "artifacts.access_key_id",
	"TTW_ARTIFACTS_SECRET_KEY":    "artifacts.secret_access_key",
	"TTW_ARTIFACTS_PUBLIC_URL":    "artifacts.public_url",
	"TTW_ARTIFACTS_PATH_STYLE":    "artifacts.path_style",
	"TTW_LOG_DIR":                 "log_dir",
}

// ValidationError lists every problem found in a loaded configuration.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Load resolves the configuration. An empty path falls back to
// testtheweb.yaml in the working directory when that file exists.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: failed to read .env: %v", err)
	}

	k := koanf.New(".")

	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config file %s: %w", path, err)
		}
		log.Printf("⚙️ Config file loaded: %s", path)
	}

	for env, key := range envOverrides {
		if value, ok := os.LookupEnv(env); ok && value != "" {
			if err := k.Set(key, value); err != nil {
				return nil, fmt.Errorf("failed to apply %s: %w", env, err)
			}
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var problems []string
	if c.Server.Addr == "" {
		problems = append(problems, "server.addr is required")
	}
	if c.Database.Path == "" {
		problems = append(problems, "database.path is required")
	}
	if c.Browser.TimeoutMS <= 0 {
		problems = append(problems, "browser.timeout_ms must be positive")
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		problems = append(problems, "browser viewport must be positive")
	}
	if c.Screenshot.RPS <= 0 || c.Screenshot.Burst <= 0 {
		problems = append(problems, "screenshot.rps and screenshot.burst must be positive")
	}
	if c.Screenshot.Quality < 1 || c.Screenshot.Quality > 100 {
		problems = append(problems, "screenshot.quality must be between 1 and 100")
	}
	if c.Proxy.Timeout <= 0 {
		problems = append(problems, "proxy.timeout must be positive")
	}
	if c.Artifacts.Enabled() && c.Artifacts.Region == "" {
		problems = append(problems, "artifacts.region is required when artifacts.bucket is set")
	}
	if len(problems) > 0 {
		return &ValidationError{Errors: problems}
	}
	return nil
}
