// Package config loads engine settings: defaults, then an optional YAML file, then .env, then VISION_* variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"vision_automation/application/agent"
	"vision_automation/application/executor"
	"vision_automation/application/match"
	"vision_automation/application/ranking"
	"vision_automation/application/state"
	"vision_automation/infrastructure/audit"
	"vision_automation/infrastructure/browser"
	"vision_automation/infrastructure/vision"
)

const envPrefix = "VISION_"

// LoggingConfig - logrus level and formatter
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MemoryConfig - coordinate memory persistence
type MemoryConfig struct {
	// Backend is "json" (one file per context under Path) or "sqlite" (Path is the database file)
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// PerceptionConfig - detector settings
type PerceptionConfig struct {
	OCR            vision.OCRConfig     `yaml:"ocr"`
	OCRFloor       float64              `yaml:"ocr_floor"`
	Contour        vision.ContourConfig `yaml:"contour"`
	ContourEnabled bool                 `yaml:"contour_enabled"`
	TemplateDir    string               `yaml:"template_dir"`
}

// AuditConfig - where pre/post captures go
type AuditConfig struct {
	// Backend is "none", "local" or "minio"
	Backend string            `yaml:"backend"`
	Dir     string            `yaml:"dir"`
	MinIO   audit.MinIOConfig `yaml:"minio"`
}

// Config - full application configuration
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Browser    browser.Config   `yaml:"browser"`
	Memory     MemoryConfig     `yaml:"memory"`
	Perception PerceptionConfig `yaml:"perception"`
	State      state.Config     `yaml:"state"`
	Ranking    ranking.Config   `yaml:"ranking"`
	Match      match.Config     `yaml:"match"`
	Executor   executor.Config  `yaml:"executor"`
	Agent      agent.Config     `yaml:"agent"`

	// Security enables the confirmation requirement for destructive steps
	Security bool `yaml:"security"`

	// TraceExporter is "none" or "stdout"
	TraceExporter string `yaml:"trace_exporter"`

	Audit AuditConfig `yaml:"audit"`

	// RunsDir receives events.jsonl and summary.json per run; empty disables the run log
	RunsDir string `yaml:"runs_dir"`
}

// BaseDir - ~/.vision_automation, or ./.vision_automation when HOME is unknown
func BaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".vision_automation")
}

// DefaultConfig - every tunable at its documented default
func DefaultConfig() *Config {
	base := BaseDir()
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Browser: browser.DefaultConfig(),
		Memory:  MemoryConfig{Backend: "json", Path: filepath.Join(base, "memory")},
		Perception: PerceptionConfig{
			OCR:            vision.DefaultOCRConfig(),
			OCRFloor:       0.55,
			Contour:        vision.DefaultContourConfig(),
			ContourEnabled: true,
			TemplateDir:    filepath.Join(base, "templates"),
		},
		State:         state.DefaultConfig(),
		Ranking:       ranking.DefaultConfig(),
		Match:         match.DefaultConfig(),
		Executor:      executor.DefaultConfig(),
		Agent:         agent.Config{SaveTemplates: true},
		TraceExporter: "none",
		Audit:         AuditConfig{Backend: "none", Dir: filepath.Join(base, "audit")},
		RunsDir:       filepath.Join(base, "runs"),
	}
}

// Load - defaults, then the YAML file at path (a missing file is not an error), then .env, then VISION_* variables
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save - writes the configuration as YAML
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("DRIVER", &c.Browser.Driver)
	str("URL", &c.Browser.URL)
	str("CHROMEDRIVER", &c.Browser.ChromeDriver)
	str("CHROME_BINARY", &c.Browser.ChromeBinary)
	str("MEMORY_BACKEND", &c.Memory.Backend)
	str("MEMORY_PATH", &c.Memory.Path)
	str("TEMPLATE_DIR", &c.Perception.TemplateDir)
	str("TESSERACT", &c.Perception.OCR.Binary)
	str("OCR_LANG", &c.Perception.OCR.Lang)
	str("TRACE_EXPORTER", &c.TraceExporter)
	str("AUDIT_BACKEND", &c.Audit.Backend)
	str("AUDIT_DIR", &c.Audit.Dir)
	str("MINIO_ENDPOINT", &c.Audit.MinIO.Endpoint)
	str("MINIO_ACCESS_KEY", &c.Audit.MinIO.AccessKey)
	str("MINIO_SECRET_KEY", &c.Audit.MinIO.SecretKey)
	str("MINIO_BUCKET", &c.Audit.MinIO.Bucket)
	str("RUNS_DIR", &c.RunsDir)

	bools := map[string]*bool{
		"HEADLESS":  &c.Browser.Headless,
		"SECURITY":  &c.Security,
		"MINIO_SSL": &c.Audit.MinIO.UseSSL,
	}
	for name, dst := range bools {
		if v, ok := os.LookupEnv(envPrefix + name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
			}
			*dst = b
		}
	}

	ints := map[string]*int{
		"MAX_RETRIES": &c.Executor.MaxRetries,
		"WAIT_BUDGET": &c.Executor.WaitBudget,
	}
	for name, dst := range ints {
		if v, ok := os.LookupEnv(envPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
			}
			*dst = n
		}
	}

	if v, ok := os.LookupEnv(envPrefix + "SETTLE_DELAY"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sSETTLE_DELAY: %w", envPrefix, err)
		}
		c.Executor.SettleDelay = d
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return nil
		}
	}
	return fmt.Errorf("invalid %s: %q (valid: %v)", field, value, allowed)
}

// Validate - rejects values the engine cannot run with
func (c *Config) Validate() error {
	if err := oneOf("logging.format", c.Logging.Format, "text", "json"); err != nil {
		return err
	}
	if err := oneOf("browser.driver", c.Browser.Driver, "playwright", "selenium"); err != nil {
		return err
	}
	if err := oneOf("memory.backend", c.Memory.Backend, "json", "sqlite"); err != nil {
		return err
	}
	if err := oneOf("audit.backend", c.Audit.Backend, "none", "local", "minio"); err != nil {
		return err
	}
	if err := oneOf("trace_exporter", c.TraceExporter, "none", "stdout"); err != nil {
		return err
	}
	if c.Memory.Path == "" {
		return fmt.Errorf("memory.path is required")
	}

	m := c.Match
	if m.ShortThreshold <= 0 || m.ShortThreshold > 100 || m.NormalThreshold <= 0 || m.NormalThreshold > 100 {
		return fmt.Errorf("match thresholds must be in (0, 100]")
	}
	if m.MemoryTrustFloor < 0 || m.MemoryTrustFloor > 1 {
		return fmt.Errorf("match.memory_trust_floor must be in [0, 1]")
	}
	if m.TemplateFloor <= 0 || m.TemplateFloor > 1 {
		return fmt.Errorf("match.template_floor must be in (0, 1]")
	}
	if len(m.TemplateScales) == 0 {
		return fmt.Errorf("match.template_scales must not be empty")
	}
	if m.ExpansionMargin < 0 {
		return fmt.Errorf("match.expansion_margin must not be negative")
	}

	w := c.Ranking.Weights
	if w.Fuzzy < 0 || w.Detector < 0 || w.Geometry < 0 || w.Memory < 0 {
		return fmt.Errorf("ranking weights must not be negative")
	}
	if sum := w.Fuzzy + w.Detector + w.Geometry + w.Memory; sum <= 0 {
		return fmt.Errorf("ranking weights must not all be zero")
	}

	e := c.Executor
	if e.MaxRetries < 0 {
		return fmt.Errorf("executor.max_retries must not be negative")
	}
	if e.GhostThreshold < 0 || e.GhostThreshold >= 1 {
		return fmt.Errorf("executor.ghost_threshold must be in [0, 1)")
	}
	if e.WaitBudget < 1 {
		return fmt.Errorf("executor.wait_budget must be at least 1")
	}

	if c.State.GridSize < 2 || c.State.Levels < 2 {
		return fmt.Errorf("state.grid_size and state.levels must be at least 2")
	}
	if strings.EqualFold(c.Audit.Backend, "minio") && c.Audit.MinIO.Endpoint == "" {
		return fmt.Errorf("audit.minio.endpoint is required for the minio backend")
	}
	return nil
}
