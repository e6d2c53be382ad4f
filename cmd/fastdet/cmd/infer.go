package cmd

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/fastdet/internal/labels"
	"github.com/MeKo-Tech/fastdet/internal/models"
	"github.com/MeKo-Tech/fastdet/internal/pipeline"
	"github.com/MeKo-Tech/fastdet/internal/tensor"
	"github.com/spf13/cobra"
)

// inferCmd represents the infer command.
var inferCmd = &cobra.Command{
	Use:   "infer INPUT",
	Short: "Run an ONNX model on a preprocessed input tensor and decode the result",
	Long: `Run a detector through ONNX Runtime on an already preprocessed input
tensor (for example [1,3,352,352] float32) and decode its outputs.

The model comes from --model (a path or a file in the models directory),
--model-name (a catalog entry, which also selects variant, classes and input
size) or engine.model_path in the configuration.

Examples:
  fastdet infer --model-name yolo-fastestv2 --input-shape 1,3,352,352 --image-size 640x480 input.bin
  fastdet infer --model ./FastestDet.onnx --variant fastestdet input.json`,
	Args: cobra.ExactArgs(1),
	RunE: runInfer,
}

func init() {
	rootCmd.AddCommand(inferCmd)
	addDecoderFlags(inferCmd)
	addOutputFlags(inferCmd)
	inferCmd.Flags().String("model", "", "ONNX model path (overrides engine.model_path)")
	inferCmd.Flags().String("model-name", "", "catalog model name, see 'fastdet models'")
	inferCmd.Flags().String("input-shape", "", "shape of a raw input tensor, e.g. 1,3,352,352")
	inferCmd.Flags().Int("threads", 0, "intra-op threads (0 = runtime default)")
	inferCmd.Flags().Bool("gpu", false, "use the CUDA execution provider")
	inferCmd.Flags().Int("gpu-device", 0, "CUDA device id")
}

func runInfer(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	flags := cmd.Flags()

	if flags.Changed("model-name") {
		name, _ := flags.GetString("model-name")
		info, err := models.Lookup(name)
		if err != nil {
			return err
		}
		// Catalog values become the baseline; explicit flags still win.
		cfg.Detector.Variant = string(info.Variant)
		cfg.Detector.NumClasses = info.NumClasses
		cfg.Detector.InputWidth, cfg.Detector.InputHeight = info.InputSize.Width, info.InputSize.Height
		cfg.Engine.ModelPath = info.Filename
		cfg.Engine.ChannelsLast = info.ChannelsLast
	}
	if flags.Changed("model") {
		cfg.Engine.ModelPath, _ = flags.GetString("model")
	}
	if flags.Changed("threads") {
		cfg.Engine.NumThreads, _ = flags.GetInt("threads")
	}
	if flags.Changed("gpu") {
		cfg.Engine.GPU.Enabled, _ = flags.GetBool("gpu")
	}
	if flags.Changed("gpu-device") {
		cfg.Engine.GPU.Device, _ = flags.GetInt("gpu-device")
	}
	if err := applyDecoderFlags(cmd, cfg); err != nil {
		return err
	}
	if cfg.Engine.ModelPath == "" {
		return errors.New("no model configured: use --model, --model-name or engine.model_path")
	}

	original, err := imageSize(cmd, cfg)
	if err != nil {
		return err
	}

	var shape []int
	if s, _ := flags.GetString("input-shape"); s != "" {
		if shape, err = tensor.ParseShape(s); err != nil {
			return fmt.Errorf("invalid --input-shape: %w", err)
		}
	}
	input, err := tensor.LoadFile(args[0], shape)
	if err != nil {
		return err
	}

	names, err := labels.Resolve(cfg.Detector.LabelsPath)
	if err != nil {
		return err
	}

	pc, err := cfg.ToPipelineConfig()
	if err != nil {
		return err
	}
	pl, err := pipeline.NewBuilder().WithConfig(pc).Build()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer func() { _ = pl.Close() }()

	res, err := pl.Infer(cmd.Context(), input, original)
	if err != nil {
		return err
	}
	out := []FrameOutput{newFrameOutput(0, []string{args[0]}, res, names)}
	return writeFrames(cmd.OutOrStdout(), cfg.Output.File, cfg.Output.Format, out)
}
