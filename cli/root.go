package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"agri-inference-service/config"
	"agri-inference-service/logger"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logrus.Logger

	rootCmd = &cobra.Command{
		Use:           "agri-inference",
		Short:         "Leaf disease detection service",
		Long:          `Detects potato and tomato leaf diseases from photos, falling back from a remote API to an on-device ONNX model to a heuristic estimate.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(cfgFile); err != nil {
				return err
			}
			log, err = logger.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
			return err
		},
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
}
