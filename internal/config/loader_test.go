package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const infoLevel = "info"

func newTestLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// chdirTemp switches into an empty temporary directory for the test.
func chdirTemp(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	originalWd, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(originalWd) })
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Failed to change directory: %v", err)
	}
	// Keep home and XDG lookups away from the developer's real config.
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	return tmpDir
}

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader()
	if loader == nil {
		t.Fatal("NewLoader() returned nil")
	}
	if loader.GetViper() != viper.GetViper() {
		t.Error("NewLoader() should use the global viper instance")
	}
}

func TestLoadWithNoConfigFile(t *testing.T) {
	chdirTemp(t)

	cfg, err := newTestLoader().Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.LogLevel != infoLevel {
		t.Errorf("Expected default log level %q, got %q", infoLevel, cfg.LogLevel)
	}
	if cfg.Detector.Variant != "multi-scale-anchor" {
		t.Errorf("Expected default variant, got %q", cfg.Detector.Variant)
	}
	if cfg.Detector.NumClasses != 80 {
		t.Errorf("Expected 80 classes, got %d", cfg.Detector.NumClasses)
	}
	if len(cfg.Detector.Anchors) != 12 {
		t.Errorf("Expected 12 default anchors, got %d", len(cfg.Detector.Anchors))
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
}

func TestLoadFromSearchPath(t *testing.T) {
	dir := chdirTemp(t)
	writeConfig(t, dir, "fastdet.yaml", "detector:\n  num_classes: 20\n")

	loader := newTestLoader()
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Detector.NumClasses != 20 {
		t.Errorf("Expected 20 classes from file, got %d", cfg.Detector.NumClasses)
	}
	if !strings.HasSuffix(loader.GetConfigFileUsed(), "fastdet.yaml") {
		t.Errorf("Unexpected config file used: %q", loader.GetConfigFileUsed())
	}
}

func TestLoadWithValidYAMLFile(t *testing.T) {
	dir := chdirTemp(t)
	path := writeConfig(t, dir, "custom.yaml", `
log_level: debug
models_dir: /custom/models
detector:
  variant: fastestdet
  num_classes: 4
  conf_threshold: 0.65
  nms_threshold: 0.45
  labels_path: classes.toml
engine:
  model_path: FastestDet.onnx
  output_names: [output]
  gpu:
    enabled: true
    memory_limit: 512MB
server:
  port: 9090
`)

	cfg, err := newTestLoader().LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() unexpected error: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.ModelsDir != "/custom/models" {
		t.Errorf("Global settings not loaded: %+v", cfg)
	}
	if cfg.Detector.Variant != "fastestdet" || cfg.Detector.NumClasses != 4 {
		t.Errorf("Detector settings not loaded: %+v", cfg.Detector)
	}
	if cfg.Detector.ConfThreshold != 0.65 || cfg.Detector.NMSThreshold != 0.45 {
		t.Errorf("Thresholds not loaded: %+v", cfg.Detector)
	}
	if cfg.Engine.ModelPath != "FastestDet.onnx" || len(cfg.Engine.OutputNames) != 1 {
		t.Errorf("Engine settings not loaded: %+v", cfg.Engine)
	}
	if !cfg.Engine.GPU.Enabled || cfg.Engine.GPU.MemoryLimit != "512MB" {
		t.Errorf("GPU settings not loaded: %+v", cfg.Engine.GPU)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	// Untouched keys keep their defaults.
	if cfg.Detector.InputWidth != 352 {
		t.Errorf("Expected default input width, got %d", cfg.Detector.InputWidth)
	}
}

func TestLoadWithTOMLFile(t *testing.T) {
	dir := chdirTemp(t)
	path := writeConfig(t, dir, "fastdet.toml", "[detector]\nnum_classes = 3\nvariant = \"single-grid\"\n")

	cfg, err := newTestLoader().LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() unexpected error: %v", err)
	}
	if cfg.Detector.NumClasses != 3 || cfg.Detector.Variant != "single-grid" {
		t.Errorf("TOML settings not loaded: %+v", cfg.Detector)
	}
}

func TestLoadWithInvalidYAMLFile(t *testing.T) {
	dir := chdirTemp(t)
	path := writeConfig(t, dir, "bad.yaml", "detector: [unclosed\n")

	if _, err := newTestLoader().LoadWithFile(path); err == nil {
		t.Error("LoadWithFile() expected error for invalid YAML")
	}
}

func TestLoadWithNonExistentFile(t *testing.T) {
	_, err := newTestLoader().LoadWithFile("/nonexistent/fastdet.yaml")
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("Expected missing file error, got %v", err)
	}
}

func TestLoadWithValidationFailure(t *testing.T) {
	dir := chdirTemp(t)
	path := writeConfig(t, dir, "invalid.yaml", "detector:\n  conf_threshold: 1.5\n")

	_, err := newTestLoader().LoadWithFile(path)
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Errorf("Expected validation error, got %v", err)
	}

	cfg, err := newTestLoader().LoadWithFileWithoutValidation(path)
	if err != nil {
		t.Fatalf("LoadWithFileWithoutValidation() unexpected error: %v", err)
	}
	if cfg.Detector.ConfThreshold != 1.5 {
		t.Errorf("Expected raw threshold 1.5, got %v", cfg.Detector.ConfThreshold)
	}
}

func TestLoadWithoutValidation(t *testing.T) {
	chdirTemp(t)
	t.Setenv("FASTDET_LOG_LEVEL", "loud")

	if _, err := newTestLoader().Load(); err == nil {
		t.Error("Load() expected validation error for invalid log level")
	}
	cfg, err := newTestLoader().LoadWithoutValidation()
	if err != nil {
		t.Fatalf("LoadWithoutValidation() unexpected error: %v", err)
	}
	if cfg.LogLevel != "loud" {
		t.Errorf("Expected log level from env, got %q", cfg.LogLevel)
	}
}

func TestEnvironmentVariableOverride(t *testing.T) {
	chdirTemp(t)
	t.Setenv("FASTDET_DETECTOR_NUM_CLASSES", "2")
	t.Setenv("FASTDET_DETECTOR_CONF_THRESHOLD", "0.5")
	t.Setenv("FASTDET_SERVER_PORT", "7070")
	t.Setenv("FASTDET_ENGINE_GPU_ENABLED", "true")

	cfg, err := newTestLoader().Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Detector.NumClasses != 2 {
		t.Errorf("Expected 2 classes from env, got %d", cfg.Detector.NumClasses)
	}
	if cfg.Detector.ConfThreshold != 0.5 {
		t.Errorf("Expected threshold 0.5 from env, got %v", cfg.Detector.ConfThreshold)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Expected port 7070 from env, got %d", cfg.Server.Port)
	}
	if !cfg.Engine.GPU.Enabled {
		t.Error("Expected GPU enabled from env")
	}
}

func TestGetSetConfigValues(t *testing.T) {
	loader := newTestLoader()
	loader.Set("detector.labels_path", "names.txt")
	if got := loader.GetString("detector.labels_path"); got != "names.txt" {
		t.Errorf("GetString() = %q", got)
	}
	if got := loader.Get("detector.labels_path"); got != "names.txt" {
		t.Errorf("Get() = %v", got)
	}
}

func TestGetResolvedConfig(t *testing.T) {
	chdirTemp(t)
	loader := newTestLoader()
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	settings := loader.GetResolvedConfig()
	if _, ok := settings["detector"]; !ok {
		t.Error("Resolved config missing detector section")
	}
}

func TestGenerateDefaultConfigFile(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "generated.yaml")

	if err := GenerateDefaultConfigFile(path); err != nil {
		t.Fatalf("GenerateDefaultConfigFile() unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read generated file: %v", err)
	}

	var generated Config
	if err := yaml.Unmarshal(data, &generated); err != nil {
		t.Fatalf("Generated file is not valid YAML: %v", err)
	}
	if generated.Detector.NumClasses != 80 || generated.Server.Port != 8080 {
		t.Errorf("Generated defaults look wrong: %+v", generated)
	}

	cfg, err := newTestLoader().LoadWithFile(path)
	if err != nil {
		t.Fatalf("Generated file does not load: %v", err)
	}
	if cfg.Detector.Variant != "multi-scale-anchor" {
		t.Errorf("Unexpected variant %q", cfg.Detector.Variant)
	}
}

func TestGenerateDefaultConfigFileWithEmptyFilename(t *testing.T) {
	dir := chdirTemp(t)
	if err := GenerateDefaultConfigFile(""); err != nil {
		t.Fatalf("GenerateDefaultConfigFile() unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultConfigFile)); err != nil {
		t.Errorf("Expected %s to be created: %v", DefaultConfigFile, err)
	}
}

func TestGetConfigSearchPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	paths := GetConfigSearchPaths()
	if paths[0] != "." {
		t.Errorf("First search path should be '.', got %q", paths[0])
	}
	joined := strings.Join(paths, ",")
	for _, want := range []string{"/xdg/fastdet", "/etc/fastdet"} {
		if !strings.Contains(joined, want) {
			t.Errorf("Search paths %v missing %s", paths, want)
		}
	}
}

func TestPrintConfigInfo(t *testing.T) {
	var buf bytes.Buffer
	newTestLoader().PrintConfigInfo(&buf)
	out := buf.String()
	if !strings.Contains(out, "(none)") || !strings.Contains(out, "FASTDET") {
		t.Errorf("Unexpected config info output: %q", out)
	}
}
