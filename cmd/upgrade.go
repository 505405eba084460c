package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	imageagent "github.com/httprunner/ImageAgent"
)

func newUpgradeCmd() *cobra.Command {
	var (
		flagPlan          string
		flagConcurrency   int
		flagCheckInterval time.Duration
		flagCheckTimeout  time.Duration
		flagNoRecord      bool
	)

	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Attach, stage, validate and upgrade the switches listed in a plan",
		Long: `Runs a YAML plan: waits until no image action is in progress, attaches each
switch's policy, then stages, validates and upgrades, waiting for the
controller after every step. Switches already in the target state are skipped.
The first failed switch or an expired wait stops the run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			planPath := strings.TrimSpace(flagPlan)
			if planPath == "" {
				return fmt.Errorf("--plan is required")
			}
			plan, err := imageagent.LoadPlanFile(planPath)
			if err != nil {
				return err
			}
			cfg := loadConfig()
			if cmd.Flags().Changed("check-interval") {
				cfg.CheckInterval = flagCheckInterval
			}
			if cmd.Flags().Changed("check-timeout") {
				cfg.CheckTimeout = flagCheckTimeout
			}
			if flagNoRecord {
				cfg.DisableRecorder = true
			}
			sender, err := newSender(cfg)
			if err != nil {
				return err
			}
			rec, err := cfg.OpenRecorder()
			if err != nil {
				return err
			}
			defer rec.Close()
			wm, stopMetrics := startMetrics()
			defer stopMetrics()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info().
				Str("plan", planPath).
				Int("switches", len(plan.Switches)).
				Dur("check_interval", cfg.CheckInterval).
				Dur("check_timeout", cfg.CheckTimeout).
				Str("recorder", rec.Name()).
				Msg("upgrade starting")
			upgrader := imageagent.NewUpgrader(sender, imageagent.Options{
				CheckInterval: cfg.CheckInterval,
				CheckTimeout:  cfg.CheckTimeout,
				Concurrency:   flagConcurrency,
				Recorder:      rec,
				Observer:      wm,
			})
			report, runErr := upgrader.Run(ctx, plan)
			if report != nil {
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&flagPlan, "plan", "p", "", "YAML upgrade plan")
	cmd.Flags().IntVar(&flagConcurrency, "concurrency", 1, "parallel upgrade submissions")
	cmd.Flags().DurationVar(&flagCheckInterval, "check-interval", 0, "time between status polls (default from IMAGEAGENT_CHECK_INTERVAL or 10s)")
	cmd.Flags().DurationVar(&flagCheckTimeout, "check-timeout", 0, "wait budget per step (default from IMAGEAGENT_CHECK_TIMEOUT or 30m)")
	cmd.Flags().BoolVar(&flagNoRecord, "no-record", false, "do not record outcomes to the local database")
	return cmd
}
