package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/MeKo-Tech/fastdet/internal/models"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List known detection models and whether they are installed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := models.GetModelsDir(GetConfig().ModelsDir)
		inventory := models.Inventory(dir)

		format, _ := cmd.Flags().GetString("format")
		out := cmd.OutOrStdout()
		switch format {
		case formatJSON:
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(inventory)
		case formatText:
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tVARIANT\tCLASSES\tINPUT\tINSTALLED\tPATH")
			for _, m := range inventory {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%t\t%s\n",
					m.Name, m.Variant, m.NumClasses, m.InputSize, m.Available, m.Path)
			}
			return tw.Flush()
		default:
			return fmt.Errorf("unsupported output format: %s", format)
		}
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().StringP("format", "f", formatText, "output format: text or json")
}
