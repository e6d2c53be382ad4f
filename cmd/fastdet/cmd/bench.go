package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/MeKo-Tech/fastdet/internal/benchmark"
	"github.com/MeKo-Tech/fastdet/internal/detector"
	"github.com/MeKo-Tech/fastdet/internal/tensor"
	"github.com/spf13/cobra"
)

var benchCmd = &cobra.Command{
	Use:   "bench [TENSOR...]",
	Short: "Measure decode and NMS throughput",
	Long: `Time the decoder, Non-Maximum Suppression and both together.

Without tensor files a deterministic synthetic frame matching the configured
variant and input size is used. With files, they form one frame exactly as
for the decode command.

Examples:
  fastdet bench --iterations 1000
  fastdet bench --variant fastestdet --format json
  fastdet bench --shape "22,22,95;11,11,95" p22.bin p11.bin`,
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)
	addDecoderFlags(benchCmd)
	benchCmd.Flags().Int("iterations", 200, "iterations per benchmark")
	benchCmd.Flags().Uint64("seed", 1, "seed of the synthetic frame")
	benchCmd.Flags().String("shape", "", "shapes of raw tensor files, e.g. \"22,22,95;11,11,95\"")
	benchCmd.Flags().Bool("channels-last", false, "repack [1,C,H,W] tensors to [H,W,C] before decoding")
	benchCmd.Flags().StringP("format", "f", formatText, "output format: text or json")
}

// benchOutput is one serialized benchmark line.
type benchOutput struct {
	Name        string  `json:"name"`
	Iterations  int     `json:"iterations"`
	NsPerOp     int64   `json:"ns_per_op"`
	OpsPerSec   float64 `json:"ops_per_sec"`
	BytesPerOp  uint64  `json:"bytes_per_op"`
	AllocsPerOp uint64  `json:"allocs_per_op"`
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if cmd.Flags().Changed("channels-last") {
		cfg.Engine.ChannelsLast, _ = cmd.Flags().GetBool("channels-last")
	}
	if err := applyDecoderFlags(cmd, cfg); err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	if format != formatText && format != formatJSON {
		return fmt.Errorf("unsupported output format: %s", format)
	}
	iterations, _ := cmd.Flags().GetInt("iterations")
	if iterations <= 0 {
		return fmt.Errorf("invalid --iterations: %d (must be positive)", iterations)
	}

	dec, err := cfg.ToDecoderConfig()
	if err != nil {
		return err
	}

	frame, err := benchFrame(cmd, args, dec, cfg.Engine.ChannelsLast)
	if err != nil {
		return err
	}

	suite := benchmark.NewSuite()
	if err := benchmark.AddDecoder(suite, dec, float32(cfg.Detector.NMSThreshold), frame, dec.InputSize); err != nil {
		return err
	}
	results := suite.RunAll(iterations)
	for _, r := range results {
		if r.Error != nil {
			return fmt.Errorf("%s: %w", r.Name, r.Error)
		}
	}

	out := cmd.OutOrStdout()
	if format == formatJSON {
		lines := make([]benchOutput, len(results))
		for i, r := range results {
			lines[i] = benchOutput{
				Name:        r.Name,
				Iterations:  r.Iterations,
				NsPerOp:     r.PerOp().Nanoseconds(),
				OpsPerSec:   r.OpsPerSecond(),
				BytesPerOp:  r.BytesPerOp(),
				AllocsPerOp: r.AllocsPerOp(),
			}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(lines)
	}
	suite.Print(out)
	return nil
}

// benchFrame loads one frame from args, or synthesizes one when none are given.
func benchFrame(cmd *cobra.Command, args []string, dec detector.DecoderConfig, channelsLast bool) ([]tensor.Tensor, error) {
	if len(args) == 0 {
		seed, _ := cmd.Flags().GetUint64("seed")
		return benchmark.SyntheticOutputs(dec, seed)
	}
	if want := dec.Variant.Outputs(); len(args) != want {
		return nil, fmt.Errorf("%s frames need %d tensors, got %d files", dec.Variant, want, len(args))
	}
	shapeSpec, _ := cmd.Flags().GetString("shape")
	return loadTensors(args, shapeSpec, channelsLast)
}
