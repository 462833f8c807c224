package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		EnvShotgridURL, EnvShotgridScriptName, EnvShotgridAPIKey,
		EnvConfigPath, EnvPort, EnvLogLevel, EnvDataDir, EnvHeadless,
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_MissingDefaultFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Agent.Port, DefaultPort)
	}
	if got := cfg.FileProcessing.TaskMapping["image"]; got != "txtToImage" {
		t.Errorf("task_mapping[image] = %q, want txtToImage", got)
	}
	if got := cfg.FileProcessing.TaskMapping["video"]; got != "imgToVideo" {
		t.Errorf("task_mapping[video] = %q, want imgToVideo", got)
	}
	if cfg.DBPath() != filepath.Join(dir, DBFilename) {
		t.Errorf("DBPath() = %q, want under %q", cfg.DBPath(), dir)
	}
	if cfg.ShotgridConfigured() {
		t.Error("ShotgridConfigured() = true with no credentials")
	}
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() with explicit missing path should fail")
	}
	var cfgErr *Error
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
}

func TestLoad_YAMLMergesOverDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
file_processing:
  supported_image_extensions: ["PNG", "exr", ".png"]
  task_mapping:
    image: paint
shotgrid:
  server_url: https://studio.shotgrid.autodesk.com/
  script_name: shotpipe
  api_key: secret-key-value
naming:
  directory_before_patterns: true
  project_codes: [lig, " kiap "]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	wantExt := []string{".png", ".exr"}
	if len(cfg.FileProcessing.SupportedImageExtensions) != len(wantExt) {
		t.Fatalf("image extensions = %v, want %v", cfg.FileProcessing.SupportedImageExtensions, wantExt)
	}
	for i, e := range wantExt {
		if cfg.FileProcessing.SupportedImageExtensions[i] != e {
			t.Errorf("image extensions[%d] = %q, want %q", i, cfg.FileProcessing.SupportedImageExtensions[i], e)
		}
	}
	if got := cfg.FileProcessing.TaskMapping["image"]; got != "paint" {
		t.Errorf("task_mapping[image] = %q, want paint", got)
	}
	if got := cfg.FileProcessing.TaskMapping["video"]; got != "imgToVideo" {
		t.Errorf("task_mapping[video] = %q, want default kept", got)
	}
	if cfg.Shotgrid.ServerURL != "https://studio.shotgrid.autodesk.com" {
		t.Errorf("server_url = %q, want trailing slash trimmed", cfg.Shotgrid.ServerURL)
	}
	if !cfg.ShotgridConfigured() {
		t.Error("ShotgridConfigured() = false, want true")
	}
	if !cfg.Naming.DirectoryBeforePatterns {
		t.Error("directory_before_patterns not loaded")
	}
	if len(cfg.Naming.ProjectCodes) != 2 || cfg.Naming.ProjectCodes[1] != "KIAP" {
		t.Errorf("project_codes = %v, want [LIG KIAP]", cfg.Naming.ProjectCodes)
	}
}

func TestLoad_JSONAndTOML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "config.json")
	os.WriteFile(jsonPath, []byte(`{"agent":{"port":9100},"shotgrid":{"default_project":"DEMO"}}`), 0o644)
	cfg, err := Load(jsonPath)
	if err != nil {
		t.Fatalf("Load(json) error = %v", err)
	}
	if cfg.Agent.Port != 9100 || cfg.Shotgrid.DefaultProject != "DEMO" {
		t.Errorf("json config = port %d project %q", cfg.Agent.Port, cfg.Shotgrid.DefaultProject)
	}

	tomlPath := filepath.Join(dir, "config.toml")
	os.WriteFile(tomlPath, []byte("[agent]\nport = 9200\n\n[file_processing]\nbatch_folders = true\n"), 0o644)
	cfg, err = Load(tomlPath)
	if err != nil {
		t.Fatalf("Load(toml) error = %v", err)
	}
	if cfg.Agent.Port != 9200 || !cfg.FileProcessing.BatchFolders {
		t.Errorf("toml config = port %d batch_folders %v", cfg.Agent.Port, cfg.FileProcessing.BatchFolders)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("shotgrid:\n  server_url: https://file.example.com\n  api_key: from-file\n"), 0o644)

	t.Setenv(EnvShotgridURL, "https://env.example.com")
	t.Setenv(EnvShotgridScriptName, "env-script")
	t.Setenv(EnvShotgridAPIKey, "env-key-123456")
	t.Setenv(EnvPort, "9300")
	t.Setenv(EnvHeadless, "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Shotgrid.ServerURL != "https://env.example.com" {
		t.Errorf("server_url = %q, want env value", cfg.Shotgrid.ServerURL)
	}
	if cfg.Shotgrid.APIKey != "env-key-123456" {
		t.Errorf("api_key = %q, want env value", cfg.Shotgrid.APIKey)
	}
	if cfg.Agent.Port != 9300 {
		t.Errorf("port = %d, want 9300", cfg.Agent.Port)
	}
	if !cfg.UI.Headless {
		t.Error("headless = false, want true")
	}
}

func TestLoad_InvalidPortEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvDataDir, t.TempDir())
	t.Setenv(EnvPort, "not-a-number")
	if _, err := Load(""); err == nil {
		t.Fatal("Load() should fail for non-numeric port")
	}

	t.Setenv(EnvPort, "70000")
	if _, err := Load(""); err == nil {
		t.Fatal("Load() should fail for out of range port")
	}
}

func TestValidate_EmptyTaskName(t *testing.T) {
	cfg := Default()
	cfg.FileProcessing.TaskMapping["image"] = " "
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() should reject empty task name")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := Default()
	cfg.Shotgrid.DefaultProject = "ROUNDTRIP"
	cfg.FileProcessing.TaskMapping["video"] = "edit"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Shotgrid.DefaultProject != "ROUNDTRIP" {
		t.Errorf("default_project = %q, want ROUNDTRIP", loaded.Shotgrid.DefaultProject)
	}
	if loaded.FileProcessing.TaskMapping["video"] != "edit" {
		t.Errorf("task_mapping[video] = %q, want edit", loaded.FileProcessing.TaskMapping["video"])
	}
	if loaded.Path() != path {
		t.Errorf("Path() = %q, want %q", loaded.Path(), path)
	}
}
