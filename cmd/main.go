package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/httprunner/ImageAgent/internal/env"
)

var rootCmd = &cobra.Command{
	Use:   "imageagent",
	Short: "Stage, validate and upgrade switch images through the fabric controller",
	Long: `imageagent drives image policies on switches managed by an NDFC controller:
attach/detach/query policies, stage and validate images, upgrade switches and
wait for the controller to report every switch done. Settings come from
IMAGEAGENT_* environment variables or a .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := zerolog.ParseLevel(strings.ToLower(rootLogLevel))
		if err != nil {
			return err
		}
		zerolog.SetGlobalLevel(level)
		return nil
	},
}

var (
	rootLogLevel      string
	rootMetricsAddr   string
	rootControllerURL string
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&rootMetricsAddr, "metrics-addr", "", "serve prometheus /metrics on this address while the command runs")
	rootCmd.PersistentFlags().StringVar(&rootControllerURL, "controller-url", "", "controller base URL, overrides IMAGEAGENT_CONTROLLER_URL")
	rootCmd.AddCommand(
		newUpgradeCmd(),
		newPolicyCmd(),
		newWaitCmd(),
		newIssuCmd(),
		newInventoryCmd(),
		newHistoryCmd(),
	)
	_ = env.Ensure()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("imageagent command failed")
	}
}
