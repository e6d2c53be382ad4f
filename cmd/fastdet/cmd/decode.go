package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/MeKo-Tech/fastdet/internal/batch"
	"github.com/MeKo-Tech/fastdet/internal/config"
	"github.com/MeKo-Tech/fastdet/internal/detector"
	"github.com/MeKo-Tech/fastdet/internal/labels"
	"github.com/MeKo-Tech/fastdet/internal/onnx"
	"github.com/MeKo-Tech/fastdet/internal/pipeline"
	"github.com/MeKo-Tech/fastdet/internal/tensor"
	"github.com/spf13/cobra"
)

// decodeCmd represents the decode command.
var decodeCmd = &cobra.Command{
	Use:   "decode TENSOR...",
	Short: "Decode dumped output tensors into boxes",
	Long: `Decode output tensors dumped from a detector into labeled boxes.

Tensor files ending in .json hold {"shape": [...], "data": [...]}; any other
file is read as raw little-endian float32 and needs --shape. Several shapes
are separated by semicolons and apply to the files in order, repeating for
every further group of files.

A single-grid frame is one tensor, a multi-scale frame is two consecutive
tensors. Passing more files decodes several frames in parallel. Directories
expand to their .json, .bin, .raw and .f32 files in name order.

Examples:
  fastdet decode --variant fastestdet --image-size 640x480 out.json
  fastdet decode --image-size 1280x720 --shape "22,22,95;11,11,95" p22.bin p11.bin
  fastdet decode --format json --output boxes.json f1_a.json f1_b.json f2_a.json f2_b.json
  fastdet decode --variant fastestdet --recursive --exclude "*_input.json" dumps/`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	addDecoderFlags(decodeCmd)
	addOutputFlags(decodeCmd)
	decodeCmd.Flags().String("shape", "", "shapes of raw tensor files, e.g. \"22,22,95;11,11,95\"")
	decodeCmd.Flags().Bool("channels-last", false, "repack [1,C,H,W] tensors to [H,W,C] before decoding")
	decodeCmd.Flags().Int("workers", 0, "parallel workers for multi-frame input (0 = config default)")
	decodeCmd.Flags().Bool("progress", false, "show a progress bar on stderr for multi-frame input")
	decodeCmd.Flags().BoolP("recursive", "r", false, "descend into subdirectories of directory arguments")
	decodeCmd.Flags().StringSlice("include", nil, "file name patterns to take from directories")
	decodeCmd.Flags().StringSlice("exclude", nil, "file name patterns to skip")
}

// addDecoderFlags registers the decoder flags shared by decode, infer and serve.
func addDecoderFlags(c *cobra.Command) {
	c.Flags().String("variant", "", "decoder variant: single-grid (fastestdet) or multi-scale-anchor (yolo-fastestv2)")
	c.Flags().String("input-size", "", "model input size WxH used by the multi-scale decoder")
	c.Flags().Int("num-classes", 0, "number of classes the model predicts")
	c.Flags().Float64("conf-threshold", 0, "minimum detection score")
	c.Flags().Float64("nms-threshold", 0, "IoU above which same-class boxes are suppressed")
	c.Flags().String("labels", "", "class names file (.txt, .names, .yaml, .toml); default COCO")
}

// addOutputFlags registers the flags of commands that print detections.
func addOutputFlags(c *cobra.Command) {
	c.Flags().String("image-size", "", "original image size WxH (default: model input size)")
	c.Flags().StringP("format", "f", formatText, "output format: text or json")
	c.Flags().StringP("output", "o", "", "write results to file instead of stdout")
}

// applyDecoderFlags copies explicitly set decoder and output flags into cfg
// and validates the result.
func applyDecoderFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("variant") {
		cfg.Detector.Variant, _ = flags.GetString("variant")
	}
	if flags.Changed("num-classes") {
		cfg.Detector.NumClasses, _ = flags.GetInt("num-classes")
	}
	if flags.Changed("input-size") {
		s, _ := flags.GetString("input-size")
		size, err := detector.ParseSize(s)
		if err != nil {
			return fmt.Errorf("invalid --input-size: %w", err)
		}
		cfg.Detector.InputWidth, cfg.Detector.InputHeight = size.Width, size.Height
	}
	if flags.Changed("conf-threshold") {
		cfg.Detector.ConfThreshold, _ = flags.GetFloat64("conf-threshold")
	}
	if flags.Changed("nms-threshold") {
		cfg.Detector.NMSThreshold, _ = flags.GetFloat64("nms-threshold")
	}
	if flags.Changed("labels") {
		cfg.Detector.LabelsPath, _ = flags.GetString("labels")
	}
	if flags.Changed("format") {
		cfg.Output.Format, _ = flags.GetString("format")
	}
	if flags.Changed("output") {
		cfg.Output.File, _ = flags.GetString("output")
	}
	return cfg.Validate()
}

// imageSize returns --image-size, or the model input size when unset.
func imageSize(cmd *cobra.Command, cfg *config.Config) (detector.Size, error) {
	s, _ := cmd.Flags().GetString("image-size")
	if s == "" {
		return detector.Size{Width: cfg.Detector.InputWidth, Height: cfg.Detector.InputHeight}, nil
	}
	size, err := detector.ParseSize(s)
	if err != nil {
		return detector.Size{}, fmt.Errorf("invalid --image-size: %w", err)
	}
	return size, nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if cmd.Flags().Changed("channels-last") {
		cfg.Engine.ChannelsLast, _ = cmd.Flags().GetBool("channels-last")
	}
	if cmd.Flags().Changed("workers") {
		cfg.Parallel.MaxWorkers, _ = cmd.Flags().GetInt("workers")
	}
	if err := applyDecoderFlags(cmd, cfg); err != nil {
		return err
	}
	original, err := imageSize(cmd, cfg)
	if err != nil {
		return err
	}

	pc, err := cfg.ToPipelineConfig()
	if err != nil {
		return err
	}
	// Decoding dumped tensors never needs the engine.
	pc.Engine = onnx.Config{}
	if show, _ := cmd.Flags().GetBool("progress"); show {
		pc.Parallel.ProgressCallback = pipeline.NewConsoleProgressCallback(cmd.ErrOrStderr(), "Decoding")
	}

	paths, err := discoverInputs(cmd, args)
	if err != nil {
		return err
	}
	per := pc.Decoder.Variant.Outputs()
	if len(paths) == 0 || len(paths)%per != 0 {
		return fmt.Errorf("%s frames need %d tensors each, got %d files", pc.Decoder.Variant, per, len(paths))
	}

	shapeSpec, _ := cmd.Flags().GetString("shape")
	tensors, err := loadTensors(paths, shapeSpec, cfg.Engine.ChannelsLast)
	if err != nil {
		return err
	}

	names, err := labels.Resolve(cfg.Detector.LabelsPath)
	if err != nil {
		return err
	}

	pl, err := pipeline.NewBuilder().WithConfig(pc).Build()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer func() { _ = pl.Close() }()

	frames := make([]pipeline.Frame, 0, len(paths)/per)
	for i := 0; i < len(tensors); i += per {
		frames = append(frames, pipeline.Frame{Outputs: tensors[i : i+per], Original: original})
	}

	var results []*pipeline.Result
	if len(frames) == 1 {
		res, err := pl.Process(frames[0].Outputs, original)
		if err != nil {
			return err
		}
		results = []*pipeline.Result{res}
	} else {
		results, err = pl.ProcessBatch(cmd.Context(), frames)
		if err != nil {
			return err
		}
	}

	out := make([]FrameOutput, len(results))
	for i, res := range results {
		out[i] = newFrameOutput(i, paths[i*per:(i+1)*per], res, names)
	}
	slog.Debug("Decode finished", "frames", len(out), "variant", pc.Decoder.Variant)
	return writeFrames(cmd.OutOrStdout(), cfg.Output.File, cfg.Output.Format, out)
}

// discoverInputs expands directory arguments.
func discoverInputs(cmd *cobra.Command, args []string) ([]string, error) {
	var opts batch.Options
	opts.Recursive, _ = cmd.Flags().GetBool("recursive")
	opts.Include, _ = cmd.Flags().GetStringSlice("include")
	opts.Exclude, _ = cmd.Flags().GetStringSlice("exclude")
	return batch.Discover(args, opts)
}

// loadTensors reads every file, assigning the ";"-separated shapes cyclically.
func loadTensors(paths []string, shapeList string, channelsLast bool) ([]tensor.Tensor, error) {
	var shapes [][]int
	if shapeList != "" {
		for _, part := range strings.Split(shapeList, ";") {
			shape, err := tensor.ParseShape(part)
			if err != nil {
				return nil, fmt.Errorf("invalid --shape: %w", err)
			}
			shapes = append(shapes, shape)
		}
		if len(paths)%len(shapes) != 0 {
			return nil, fmt.Errorf("--shape lists %d shapes for %d files", len(shapes), len(paths))
		}
	}

	out := make([]tensor.Tensor, len(paths))
	for i, p := range paths {
		var shape []int
		if len(shapes) > 0 {
			shape = shapes[i%len(shapes)]
		}
		t, err := tensor.LoadFile(p, shape)
		if err != nil {
			return nil, err
		}
		if channelsLast {
			if t, err = t.ChannelsLast(); err != nil {
				return nil, fmt.Errorf("%s: %w", p, err)
			}
		}
		out[i] = t
	}
	return out, nil
}
