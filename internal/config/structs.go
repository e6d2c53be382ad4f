//nolint:lll
package config

// Config represents the complete configuration for the fastdet application.
// It covers all commands (decode, serve, labels) and supports loading from
// configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Detector DetectorConfig `mapstructure:"detector" yaml:"detector" json:"detector"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine" json:"engine"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output" json:"output"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	Parallel ParallelConfig `mapstructure:"parallel" yaml:"parallel" json:"parallel"`
}

// DetectorConfig contains decoder and suppression settings.
type DetectorConfig struct {
	Variant       string    `mapstructure:"variant" yaml:"variant" json:"variant"`
	NumClasses    int       `mapstructure:"num_classes" yaml:"num_classes" json:"num_classes"`
	InputWidth    int       `mapstructure:"input_width" yaml:"input_width" json:"input_width"`
	InputHeight   int       `mapstructure:"input_height" yaml:"input_height" json:"input_height"`
	ConfThreshold float64   `mapstructure:"conf_threshold" yaml:"conf_threshold" json:"conf_threshold"`
	NMSThreshold  float64   `mapstructure:"nms_threshold" yaml:"nms_threshold" json:"nms_threshold"`
	LabelsPath    string    `mapstructure:"labels_path" yaml:"labels_path" json:"labels_path"`
	Anchors       []float64 `mapstructure:"anchors" yaml:"anchors" json:"anchors"`
	// Log first-row statistics of every output tensor at debug level.
	TensorStats bool `mapstructure:"tensor_stats" yaml:"tensor_stats" json:"tensor_stats"`
}

// EngineConfig contains ONNX Runtime settings. An empty model path disables
// inference; decoding of dumped tensors still works.
type EngineConfig struct {
	ModelPath    string    `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	InputName    string    `mapstructure:"input_name" yaml:"input_name" json:"input_name"`
	OutputNames  []string  `mapstructure:"output_names" yaml:"output_names" json:"output_names"`
	NumThreads   int       `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	ChannelsLast bool      `mapstructure:"channels_last" yaml:"channels_last" json:"channels_last"`
	GPU          GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format"`
	File   string `mapstructure:"file" yaml:"file" json:"file"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// ParallelConfig contains batch processing settings.
type ParallelConfig struct {
	MaxWorkers int `mapstructure:"max_workers" yaml:"max_workers" json:"max_workers"`
}
