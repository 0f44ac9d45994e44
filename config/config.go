package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"calihouse/logging"
	"calihouse/ml"
	"gopkg.in/yaml.v2"
)

const DefaultPath = "config.yaml"

type Config struct {
	Http struct {
		Port           int           `yaml:"port"`
		Timeout        time.Duration `yaml:"timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
		MaxBodyBytes   int64         `yaml:"max_body_bytes"`
		// CollapseErrors reports every prediction failure as a plain 500.
		CollapseErrors bool `yaml:"collapse_errors"`
	} `yaml:"http"`
	Log      logging.Config `yaml:"log"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Model struct {
		Path      string `yaml:"path"`
		Policy    string `yaml:"policy"`
		CacheSize int    `yaml:"cache_size"`
		Watch     bool   `yaml:"watch"`
	} `yaml:"model"`
	Dashboard struct {
		Port       int           `yaml:"port"`
		BackendURL string        `yaml:"backend_url"`
		Timeout    time.Duration `yaml:"timeout"`
		// ModelPath is checked for existence before each submission.
		ModelPath string `yaml:"model_path"`
	} `yaml:"dashboard"`
	Training struct {
		DataPath  string        `yaml:"data_path"`
		TestRatio float64       `yaml:"test_ratio"`
		Seed      int64         `yaml:"seed"`
		Tree      ml.TreeParams `yaml:"tree"`
	} `yaml:"training"`
}

func Default() *Config {
	var c Config
	c.Http.Port = 8001
	c.Http.Timeout = 30 * time.Second
	c.Http.AllowedOrigins = []string{"*"}
	c.Http.MaxBodyBytes = 1 << 20
	c.Log = logging.DefaultConfig()
	c.Database.Path = "data/calihouse.db"
	c.Model.Path = "model/california_housing_model.json"
	c.Model.Policy = string(ml.PolicyStartup)
	c.Model.CacheSize = 4
	c.Dashboard.Port = 8501
	c.Dashboard.BackendURL = "http://127.0.0.1:8001"
	c.Dashboard.Timeout = 10 * time.Second
	c.Training.DataPath = "data/california_housing.csv"
	c.Training.TestRatio = 0.2
	c.Training.Seed = 12
	c.Training.Tree = ml.DefaultTreeParams()
	return &c
}

// Find looks for config.yaml in the working directory, then its parent, so
// binaries work when started from cmd/.
func Find() string {
	for _, candidate := range []string{DefaultPath, filepath.Join("..", DefaultPath)} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Load decodes path over the defaults and applies CALIHOUSE_* overrides. An
// empty path means defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
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

func (c *Config) Validate() error {
	if c.Http.Port <= 0 || c.Http.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.Http.Port)
	}
	if c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port %d out of range", c.Dashboard.Port)
	}
	if c.Model.Path == "" {
		return errors.New("model.path is required")
	}
	switch ml.LoadPolicy(c.Model.Policy) {
	case ml.PolicyStartup, ml.PolicyPerRequest:
	default:
		return fmt.Errorf("model.policy must be %q or %q", ml.PolicyStartup, ml.PolicyPerRequest)
	}
	if c.Dashboard.BackendURL == "" {
		return errors.New("dashboard.backend_url is required")
	}
	if c.Dashboard.Timeout <= 0 {
		return errors.New("dashboard.timeout must be positive")
	}
	return nil
}

// RelativeTo rebases relative file paths onto dir, the directory the config
// file was found in.
func (c *Config) RelativeTo(dir string) {
	if dir == "" || dir == "." {
		return
	}
	for _, p := range []*string{&c.Database.Path, &c.Model.Path, &c.Dashboard.ModelPath, &c.Training.DataPath, &c.Log.File} {
		if *p != "" && *p != ":memory:" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

func (c *Config) applyEnv() error {
	c.Model.Path = getEnv("CALIHOUSE_MODEL_PATH", c.Model.Path)
	c.Model.Policy = getEnv("CALIHOUSE_MODEL_POLICY", c.Model.Policy)
	c.Database.Path = getEnv("CALIHOUSE_DB_PATH", c.Database.Path)
	c.Log.Level = getEnv("CALIHOUSE_LOG_LEVEL", c.Log.Level)
	c.Dashboard.BackendURL = getEnv("CALIHOUSE_BACKEND_URL", c.Dashboard.BackendURL)
	c.Dashboard.ModelPath = getEnv("CALIHOUSE_DASHBOARD_MODEL_PATH", c.Dashboard.ModelPath)
	if port := os.Getenv("CALIHOUSE_HTTP_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("CALIHOUSE_HTTP_PORT: %w", err)
		}
		c.Http.Port = p
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
