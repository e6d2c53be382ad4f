package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/MeKo-Tech/fastdet/internal/labels"
	"github.com/spf13/cobra"
)

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "Print the class names used to label detections",
	Long: `Print the class index to name mapping. Without --labels (or
detector.labels_path) the built-in COCO list is shown.

Examples:
  fastdet labels
  fastdet labels --labels classes.toml --format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		path := cfg.Detector.LabelsPath
		if cmd.Flags().Changed("labels") {
			path, _ = cmd.Flags().GetString("labels")
		}
		names, err := labels.Resolve(path)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		out := cmd.OutOrStdout()
		switch format {
		case formatJSON:
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(names)
		case formatText:
			for i, n := range names {
				if _, err := fmt.Fprintf(out, "%3d  %s\n", i, n); err != nil {
					return err
				}
			}
			return nil
		default:
			return fmt.Errorf("unsupported output format: %s", format)
		}
	},
}

func init() {
	rootCmd.AddCommand(labelsCmd)
	labelsCmd.Flags().String("labels", "", "class names file (.txt, .names, .yaml, .toml)")
	labelsCmd.Flags().StringP("format", "f", formatText, "output format: text or json")
}
