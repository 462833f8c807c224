// Package config provides configuration management for the ShotPipe agent.
// Configuration is read from a YAML, JSON or TOML file, merged over defaults,
// then overridden by a .env file and environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// Default values
	DefaultPort      = 8788
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
	DefaultDataDir   = ".shotpipe"

	DefaultProject          = "AXRD-296"
	DefaultUploadChunkSize  = 10 * 1024 * 1024 // 10MB
	DefaultMaxFilesPerBatch = 100
	DefaultTaskStatus       = "wip"
	DefaultSequence         = "s01"
	DefaultShot             = "c001"
	DefaultPollInterval     = 2  // seconds
	DefaultFFprobeTimeout   = 30 // seconds
	DefaultShotgridTimeout  = 60 // seconds

	// Environment variable names
	EnvShotgridURL        = "SHOTGRID_URL"
	EnvShotgridScriptName = "SHOTGRID_SCRIPT_NAME"
	EnvShotgridAPIKey     = "SHOTGRID_API_KEY"
	EnvConfigPath         = "SHOTPIPE_CONFIG"
	EnvPort               = "SHOTPIPE_PORT"
	EnvLogLevel           = "SHOTPIPE_LOG_LEVEL"
	EnvDataDir            = "SHOTPIPE_DATA_DIR"
	EnvHeadless           = "SHOTPIPE_HEADLESS"

	ConfigFilename = "config.yaml"
	DBFilename     = "shotpipe.db"
	LockFilename   = "agent.lock"
)

// Config is the explicit configuration object built once at startup and
// passed to each component constructor.
type Config struct {
	General        GeneralConfig        `yaml:"general" json:"general" toml:"general"`
	FileProcessing FileProcessingConfig `yaml:"file_processing" json:"file_processing" toml:"file_processing"`
	Naming         NamingConfig         `yaml:"naming" json:"naming" toml:"naming"`
	Shotgrid       ShotgridConfig       `yaml:"shotgrid" json:"shotgrid" toml:"shotgrid"`
	UI             UIConfig             `yaml:"ui" json:"ui" toml:"ui"`
	Agent          AgentConfig          `yaml:"agent" json:"agent" toml:"agent"`

	path string
}

type GeneralConfig struct {
	DataDir         string   `yaml:"data_dir" json:"data_dir" toml:"data_dir"`
	SaveProcessedTo string   `yaml:"save_processed_to" json:"save_processed_to" toml:"save_processed_to"`
	RecentProjects  []string `yaml:"recent_projects" json:"recent_projects" toml:"recent_projects"`
}

type FileProcessingConfig struct {
	SupportedImageExtensions []string          `yaml:"supported_image_extensions" json:"supported_image_extensions" toml:"supported_image_extensions"`
	SupportedVideoExtensions []string          `yaml:"supported_video_extensions" json:"supported_video_extensions" toml:"supported_video_extensions"`
	TaskMapping              map[string]string `yaml:"task_mapping" json:"task_mapping" toml:"task_mapping"`
	BatchFolders             bool              `yaml:"batch_folders" json:"batch_folders" toml:"batch_folders"`
	MaxFilesPerBatch         int               `yaml:"max_files_per_batch" json:"max_files_per_batch" toml:"max_files_per_batch"`
	FFprobePath              string            `yaml:"ffprobe_path" json:"ffprobe_path" toml:"ffprobe_path"`
	FFprobeTimeoutSeconds    int               `yaml:"ffprobe_timeout_seconds" json:"ffprobe_timeout_seconds" toml:"ffprobe_timeout_seconds"`
}

type NamingConfig struct {
	// DirectoryBeforePatterns evaluates the parent directory rule ahead of
	// the filename patterns. Off by default so well-formed names win.
	DirectoryBeforePatterns bool     `yaml:"directory_before_patterns" json:"directory_before_patterns" toml:"directory_before_patterns"`
	UseDirectoryName        bool     `yaml:"use_directory_name" json:"use_directory_name" toml:"use_directory_name"`
	ProjectCodes            []string `yaml:"project_codes" json:"project_codes" toml:"project_codes"`
	DefaultSequence         string   `yaml:"default_sequence" json:"default_sequence" toml:"default_sequence"`
	DefaultShot             string   `yaml:"default_shot" json:"default_shot" toml:"default_shot"`
}

type ShotgridConfig struct {
	ServerURL            string `yaml:"server_url" json:"server_url" toml:"server_url"`
	ScriptName           string `yaml:"script_name" json:"script_name" toml:"script_name"`
	APIKey               string `yaml:"api_key" json:"api_key" toml:"api_key"`
	UploadChunkSize      int64  `yaml:"upload_chunk_size" json:"upload_chunk_size" toml:"upload_chunk_size"`
	DefaultProject       string `yaml:"default_project" json:"default_project" toml:"default_project"`
	AutoSelectProject    bool   `yaml:"auto_select_project" json:"auto_select_project" toml:"auto_select_project"`
	ShowProjectSelector  bool   `yaml:"show_project_selector" json:"show_project_selector" toml:"show_project_selector"`
	DefaultTaskStatus    string `yaml:"default_task_status" json:"default_task_status" toml:"default_task_status"`
	UserEmail            string `yaml:"user_email" json:"user_email" toml:"user_email"`
	CreatePublishedFiles bool   `yaml:"create_published_files" json:"create_published_files" toml:"create_published_files"`
	TimeoutSeconds       int    `yaml:"timeout_seconds" json:"timeout_seconds" toml:"timeout_seconds"`
}

type UIConfig struct {
	Theme      string `yaml:"theme" json:"theme" toml:"theme"`
	WindowSize []int  `yaml:"window_size" json:"window_size" toml:"window_size"`
	Headless   bool   `yaml:"headless" json:"headless" toml:"headless"`
}

type AgentConfig struct {
	Port                int    `yaml:"port" json:"port" toml:"port"`
	LogLevel            string `yaml:"log_level" json:"log_level" toml:"log_level"`
	LogFormat           string `yaml:"log_format" json:"log_format" toml:"log_format"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds" json:"poll_interval_seconds" toml:"poll_interval_seconds"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:         defaultDataDir(),
			SaveProcessedTo: "processed_files.json",
			RecentProjects:  []string{},
		},
		FileProcessing: FileProcessingConfig{
			SupportedImageExtensions: []string{".png", ".jpg", ".jpeg", ".tiff", ".tif", ".gif", ".bmp", ".webp", ".exr", ".dpx"},
			SupportedVideoExtensions: []string{".mp4", ".mov", ".avi", ".mkv", ".wmv", ".mxf", ".m4v", ".webm"},
			TaskMapping: map[string]string{
				"image": "txtToImage",
				"video": "imgToVideo",
			},
			MaxFilesPerBatch:      DefaultMaxFilesPerBatch,
			FFprobeTimeoutSeconds: DefaultFFprobeTimeout,
		},
		Naming: NamingConfig{
			UseDirectoryName: true,
			ProjectCodes:     []string{"LIG", "KIAP"},
			DefaultSequence:  DefaultSequence,
			DefaultShot:      DefaultShot,
		},
		Shotgrid: ShotgridConfig{
			UploadChunkSize:   DefaultUploadChunkSize,
			DefaultProject:    DefaultProject,
			AutoSelectProject: true,
			DefaultTaskStatus: DefaultTaskStatus,
			TimeoutSeconds:    DefaultShotgridTimeout,
		},
		UI: UIConfig{
			Theme:      "system",
			WindowSize: []int{1024, 768},
		},
		Agent: AgentConfig{
			Port:                DefaultPort,
			LogLevel:            DefaultLogLevel,
			LogFormat:           DefaultLogFormat,
			PollIntervalSeconds: DefaultPollInterval,
		},
	}
}

// Path returns the file the configuration was loaded from, if any.
func (c *Config) Path() string {
	return c.path
}

// DataDir returns the data directory path
func (c *Config) DataDir() string {
	return c.General.DataDir
}

// DBPath returns the full path to the SQLite database file
func (c *Config) DBPath() string {
	return filepath.Join(c.General.DataDir, DBFilename)
}

// LockPath returns the single-instance lock file path
func (c *Config) LockPath() string {
	return filepath.Join(c.General.DataDir, LockFilename)
}

// LogDir returns the directory for agent log files
func (c *Config) LogDir() string {
	return filepath.Join(c.General.DataDir, "logs")
}

// ShotgridConfigured reports whether all three credentials are present.
func (c *Config) ShotgridConfigured() bool {
	s := c.Shotgrid
	return s.ServerURL != "" && s.ScriptName != "" && s.APIKey != ""
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Agent.PollIntervalSeconds) * time.Second
}

func (c *Config) FFprobeTimeout() time.Duration {
	return time.Duration(c.FileProcessing.FFprobeTimeoutSeconds) * time.Second
}

func (c *Config) ShotgridTimeout() time.Duration {
	return time.Duration(c.Shotgrid.TimeoutSeconds) * time.Second
}

// Validate checks values that would make the agent misbehave.
func (c *Config) Validate() error {
	if c.Agent.Port < 1 || c.Agent.Port > 65535 {
		return &Error{Field: "agent.port", Err: fmt.Errorf("port must be between 1 and 65535, got %d", c.Agent.Port)}
	}
	if c.Shotgrid.UploadChunkSize <= 0 {
		return &Error{Field: "shotgrid.upload_chunk_size", Err: fmt.Errorf("must be positive")}
	}
	if c.FileProcessing.MaxFilesPerBatch <= 0 {
		return &Error{Field: "file_processing.max_files_per_batch", Err: fmt.Errorf("must be positive")}
	}
	for fileType, task := range c.FileProcessing.TaskMapping {
		if strings.TrimSpace(task) == "" {
			return &Error{Field: "file_processing.task_mapping." + fileType, Err: fmt.Errorf("task name is empty")}
		}
	}
	if c.Shotgrid.ServerURL != "" {
		u, err := url.Parse(c.Shotgrid.ServerURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &Error{Field: "shotgrid.server_url", Err: fmt.Errorf("invalid URL %q", c.Shotgrid.ServerURL)}
		}
	}
	return nil
}

// Error describes a configuration problem tied to one field.
type Error struct {
	Field string
	Path  string
	Err   error
}

func (e *Error) Error() string {
	if e.Path != "" && e.Field != "" {
		return fmt.Sprintf("config %s: %s: %v", e.Path, e.Field, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("config %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// DefaultPath returns ~/.shotpipe/config.yaml
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), ConfigFilename)
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "1.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
