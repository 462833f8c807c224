package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration: defaults, then the config file (if it
// exists), then .env files, then environment variables. An empty path falls
// back to $SHOTPIPE_CONFIG and then ~/.shotpipe/config.yaml.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, cfg); err != nil {
			return nil, &Error{Path: path, Err: err}
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// no file yet; defaults apply
	default:
		return nil, &Error{Path: path, Err: err}
	}

	loadDotEnv(filepath.Dir(path))
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.Unmarshal(data, cfg)
	case ".toml":
		return toml.NewDecoder(bytes.NewReader(data)).Decode(cfg)
	default:
		err := yaml.NewDecoder(bytes.NewReader(data)).Decode(cfg)
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
}

// loadDotEnv reads .env from the working directory and the config
// directory. Variables already set in the environment are kept.
func loadDotEnv(configDir string) {
	candidates := []string{".env"}
	if configDir != "" && configDir != "." {
		candidates = append(candidates, filepath.Join(configDir, ".env"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvShotgridURL); v != "" {
		c.Shotgrid.ServerURL = v
	}
	if v := os.Getenv(EnvShotgridScriptName); v != "" {
		c.Shotgrid.ScriptName = v
	}
	if v := os.Getenv(EnvShotgridAPIKey); v != "" {
		c.Shotgrid.APIKey = v
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return &Error{Field: EnvPort, Err: err}
		}
		c.Agent.Port = port
	}
	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.Agent.LogLevel = ll
	}
	if dd := os.Getenv(EnvDataDir); dd != "" {
		c.General.DataDir = dd
	}
	if h := os.Getenv(EnvHeadless); h != "" {
		headless, err := strconv.ParseBool(h)
		if err != nil {
			return &Error{Field: EnvHeadless, Err: err}
		}
		c.UI.Headless = headless
	}
	return nil
}

func (c *Config) normalize() {
	c.FileProcessing.SupportedImageExtensions = normalizeExtensions(c.FileProcessing.SupportedImageExtensions)
	c.FileProcessing.SupportedVideoExtensions = normalizeExtensions(c.FileProcessing.SupportedVideoExtensions)

	mapping := make(map[string]string, len(c.FileProcessing.TaskMapping))
	for k, v := range c.FileProcessing.TaskMapping {
		mapping[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	c.FileProcessing.TaskMapping = mapping

	codes := make([]string, 0, len(c.Naming.ProjectCodes))
	for _, code := range c.Naming.ProjectCodes {
		if code = strings.ToUpper(strings.TrimSpace(code)); code != "" {
			codes = append(codes, code)
		}
	}
	c.Naming.ProjectCodes = codes
	if c.Naming.DefaultSequence == "" {
		c.Naming.DefaultSequence = DefaultSequence
	}
	if c.Naming.DefaultShot == "" {
		c.Naming.DefaultShot = DefaultShot
	}

	c.Shotgrid.ServerURL = strings.TrimRight(strings.TrimSpace(c.Shotgrid.ServerURL), "/")
	if c.Shotgrid.DefaultTaskStatus == "" {
		c.Shotgrid.DefaultTaskStatus = DefaultTaskStatus
	}
	if c.Shotgrid.TimeoutSeconds <= 0 {
		c.Shotgrid.TimeoutSeconds = DefaultShotgridTimeout
	}
	if c.FileProcessing.FFprobeTimeoutSeconds <= 0 {
		c.FileProcessing.FFprobeTimeoutSeconds = DefaultFFprobeTimeout
	}
	if c.Agent.PollIntervalSeconds <= 0 {
		c.Agent.PollIntervalSeconds = DefaultPollInterval
	}
	if c.Agent.LogFormat == "" {
		c.Agent.LogFormat = DefaultLogFormat
	}
	if c.General.DataDir == "" {
		c.General.DataDir = defaultDataDir()
	}
}

func normalizeExtensions(exts []string) []string {
	seen := make(map[string]bool, len(exts))
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// Save writes the configuration to path in the format implied by its
// extension. Credentials coming from the environment are written too, so
// callers that persist should be aware of that.
func (c *Config) Save(path string) error {
	if path == "" {
		path = c.path
	}
	if path == "" {
		path = DefaultPath()
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "    ")
	case ".toml":
		data, err = toml.Marshal(c)
	default:
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	c.path = path
	return nil
}

// TaskMappingKeys returns the mapping's file types in sorted order.
func (c *Config) TaskMappingKeys() []string {
	keys := make([]string, 0, len(c.FileProcessing.TaskMapping))
	for k := range c.FileProcessing.TaskMapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
