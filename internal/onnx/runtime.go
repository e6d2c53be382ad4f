// Package onnx adapts ONNX Runtime sessions to the tensor types used by the
// detection decoders.
package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

// LibraryEnvVar overrides shared library discovery when set.
const LibraryEnvVar = "FASTDET_ONNXRUNTIME_LIB"

const (
	libLinux   = "libonnxruntime.so"
	libDarwin  = "libonnxruntime.dylib"
	libWindows = "onnxruntime.dll"
)

// GPUConfig holds CUDA execution provider settings.
type GPUConfig struct {
	UseGPU      bool
	DeviceID    int
	GPUMemLimit uint64 // bytes, 0 = unlimited
}

// ValidateGPUConfig checks GPU settings. CPU-only configs are always valid.
func ValidateGPUConfig(cfg GPUConfig) error {
	if !cfg.UseGPU {
		return nil
	}
	if cfg.DeviceID < 0 {
		return fmt.Errorf("device ID must be non-negative, got %d", cfg.DeviceID)
	}
	return nil
}

func libraryName(goos string) (string, error) {
	switch goos {
	case "linux":
		return libLinux, nil
	case "darwin":
		return libDarwin, nil
	case "windows":
		return libWindows, nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", goos)
	}
}

// candidateLibraryPaths lists the places searched for the runtime library,
// most specific first.
func candidateLibraryPaths(useGPU bool, projectRoot string) []string {
	var paths []string
	if p := os.Getenv(LibraryEnvVar); p != "" {
		paths = append(paths, p)
	}
	if useGPU {
		paths = append(paths, "/opt/onnxruntime/gpu/lib/"+libLinux)
	}
	paths = append(paths,
		"/usr/local/lib/"+libLinux,
		"/usr/lib/"+libLinux,
		"/opt/onnxruntime/cpu/lib/"+libLinux,
	)
	if projectRoot != "" {
		if name, err := libraryName(runtime.GOOS); err == nil {
			if useGPU {
				paths = append(paths, filepath.Join(projectRoot, "onnxruntime", "gpu", "lib", name))
			}
			paths = append(paths, filepath.Join(projectRoot, "onnxruntime", "lib", name))
		}
	}
	return paths
}

// FindLibrary returns the first existing ONNX Runtime shared library.
func FindLibrary(useGPU bool) (string, error) {
	root, _ := findProjectRoot()
	paths := candidateLibraryPaths(useGPU, root)
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("ONNX Runtime library not found (searched %d paths, set %s)", len(paths), LibraryEnvVar)
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root")
		}
		dir = parent
	}
}

var (
	envOnce sync.Once
	envErr  error
)

// InitRuntime locates the shared library and initializes the ONNX Runtime
// environment once per process.
func InitRuntime(useGPU bool) error {
	envOnce.Do(func() {
		if onnxruntime_go.IsInitialized() {
			return
		}
		lib, err := FindLibrary(useGPU)
		if err != nil {
			envErr = err
			return
		}
		slog.Debug("Initializing ONNX Runtime", "library", lib, "gpu", useGPU)
		onnxruntime_go.SetSharedLibraryPath(lib)
		if err := onnxruntime_go.InitializeEnvironment(); err != nil {
			envErr = fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
		}
	})
	return envErr
}

// configureGPU appends the CUDA execution provider to opts when requested.
func configureGPU(opts *onnxruntime_go.SessionOptions, cfg GPUConfig) error {
	if !cfg.UseGPU {
		return nil
	}
	cudaOpts, err := onnxruntime_go.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("failed to create CUDA provider options (GPU may not be available): %w", err)
	}
	defer func() {
		if err := cudaOpts.Destroy(); err != nil {
			slog.Warn("Failed to destroy CUDA provider options", "error", err)
		}
	}()

	settings := map[string]string{
		"device_id":                 strconv.Itoa(cfg.DeviceID),
		"arena_extend_strategy":     "kNextPowerOfTwo",
		"do_copy_in_default_stream": "1",
	}
	if cfg.GPUMemLimit > 0 {
		settings["gpu_mem_limit"] = strconv.FormatUint(cfg.GPUMemLimit, 10)
	}
	if err := cudaOpts.Update(settings); err != nil {
		return fmt.Errorf("failed to update CUDA provider options: %w", err)
	}
	if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("failed to append CUDA execution provider: %w", err)
	}
	return nil
}
