package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"agri-inference-service/api"
	"agri-inference-service/service"
)

var (
	detectCrop   string
	detectPretty bool
)

var detectCmd = &cobra.Command{
	Use:   "detect <image>",
	Short: "Run one detection on a local image and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		if len(raw) == 0 {
			return fmt.Errorf("image %s is empty", args[0])
		}

		p, err := newPipeline(cfg, log)
		if err != nil {
			return err
		}
		defer p.Close()

		filename := filepath.Base(args[0])
		crop := resolveCrop(p, detectCrop)
		res := p.detector.Detect(cmd.Context(), service.Image{Filename: filename, Data: raw}, crop)

		enc := json.NewEncoder(cmd.OutOrStdout())
		if detectPretty {
			enc.SetIndent("", "  ")
		}
		return enc.Encode(api.Present(res, filename))
	},
}

func resolveCrop(p *pipeline, crop string) string {
	if p.kb.Supports(crop) {
		return crop
	}
	if crop != "" {
		log.WithField("crop", crop).Warn("Unsupported crop type, using default")
	}
	return p.kb.DefaultCrop()
}

func init() {
	detectCmd.Flags().StringVar(&detectCrop, "crop", "", "crop type (potato, tomato)")
	detectCmd.Flags().BoolVar(&detectPretty, "pretty", false, "indent JSON output")
	rootCmd.AddCommand(detectCmd)
}
