// Package models resolves detection model files and describes their output
// contracts.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/fastdet/internal/detector"
)

// Known model files.
const (
	YoloFastestV2 = "yolo-fastestv2.onnx"
	FastestDet    = "FastestDet.onnx"
)

// TypeDetection is the subdirectory holding detection models.
const TypeDetection = "detection"

// DefaultModelsDir is used when neither a flag nor the environment names one.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "FASTDET_MODELS_DIR"

// ModelInfo describes a supported model and the decoder it needs.
type ModelInfo struct {
	Name        string           `json:"name"`
	Filename    string           `json:"filename"`
	Variant     detector.Variant `json:"variant"`
	NumClasses  int              `json:"num_classes"`
	InputSize   detector.Size    `json:"input_size"`
	Description string           `json:"description"`
	// ChannelsLast is set when the network emits [1,C,H,W] maps that the
	// decoder expects packed as [H,W,C].
	ChannelsLast bool `json:"channels_last"`
}

// ListAvailableModels returns the built-in model catalog.
func ListAvailableModels() []ModelInfo {
	return []ModelInfo{
		{
			Name:        "yolo-fastestv2",
			Filename:    YoloFastestV2,
			Variant:     detector.VariantMultiScaleAnchor,
			NumClasses:  80,
			InputSize:   detector.Size{Width: 352, Height: 352},
			Description: "Yolo-FastestV2 COCO, two packed anchor outputs (22x22, 11x11)",
		},
		{
			Name:        "fastestdet",
			Filename:    FastestDet,
			Variant:     detector.VariantSingleGrid,
			NumClasses:  80,
			InputSize:   detector.Size{Width: 352, Height: 352},
			Description: "FastestDet COCO, single anchor-free 22x22 output",
		},
	}
}

// Lookup finds a catalog entry by name or filename.
func Lookup(name string) (ModelInfo, error) {
	for _, m := range ListAvailableModels() {
		if m.Name == name || m.Filename == name {
			return m, nil
		}
	}
	return ModelInfo{}, fmt.Errorf("unknown model %q", name)
}

// ForVariant returns the catalog entry for a decoder variant.
func ForVariant(v detector.Variant) (ModelInfo, error) {
	for _, m := range ListAvailableModels() {
		if m.Variant == v {
			return m, nil
		}
	}
	return ModelInfo{}, fmt.Errorf("no model for variant %q", v)
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.New("could not find project root (go.mod not found)")
}

// GetModelsDir returns the models directory.
// Priority: 1. explicit modelsDir, 2. FASTDET_MODELS_DIR, 3. project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if root, err := findProjectRoot(); err == nil {
		return filepath.Join(root, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolveModelPath prefers <dir>/detection/<file> and falls back to <dir>/<file>.
func ResolveModelPath(modelsDir, filename string) string {
	base := GetModelsDir(modelsDir)
	organized := filepath.Join(base, TypeDetection, filename)
	if _, err := os.Stat(organized); err == nil {
		return organized
	}
	return filepath.Join(base, filename)
}

// ValidateModelExists checks that a model file exists.
func ValidateModelExists(modelPath string) error {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	return nil
}

// Status pairs a catalog entry with its resolved path.
type Status struct {
	ModelInfo
	Path      string `json:"path"`
	Available bool   `json:"available"`
}

// Inventory resolves every catalog entry under modelsDir.
func Inventory(modelsDir string) []Status {
	all := ListAvailableModels()
	out := make([]Status, len(all))
	for i, m := range all {
		p := ResolveModelPath(modelsDir, m.Filename)
		out[i] = Status{ModelInfo: m, Path: p, Available: ValidateModelExists(p) == nil}
	}
	return out
}
