package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"agri-inference-service/data"
)

var diseasesCrop string

var diseasesCmd = &cobra.Command{
	Use:   "diseases",
	Short: "List the conditions in the knowledge base",
	RunE: func(cmd *cobra.Command, args []string) error {
		kb, err := data.LoadKnowledgeBase(cfg.KnowledgeBase)
		if err != nil {
			return err
		}

		names := kb.CropNames()
		if diseasesCrop != "" {
			if !kb.Supports(diseasesCrop) {
				return fmt.Errorf("crop %q not supported (have %v)", diseasesCrop, names)
			}
			crop, _ := kb.Crop(diseasesCrop)
			names = []string{crop.Name}
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CROP\tKEY\tNAME\tSEVERITY\tPESTICIDE")
		for _, name := range names {
			crop, _ := kb.Crop(name)
			for _, rec := range crop.Records() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", crop.Name, rec.Key, rec.Name, rec.Severity, rec.Pesticide)
			}
		}
		return w.Flush()
	},
}

func init() {
	diseasesCmd.Flags().StringVar(&diseasesCrop, "crop", "", "only list this crop")
	rootCmd.AddCommand(diseasesCmd)
}
