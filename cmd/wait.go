package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/httprunner/ImageAgent/pkg/issu"
	"github.com/httprunner/ImageAgent/pkg/tracker"
)

func newWaitCmd() *cobra.Command {
	var (
		flagAction        string
		flagSerials       []string
		flagIPs           []string
		flagCheckInterval time.Duration
		flagCheckTimeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait for switches to finish an image action",
		Long: `Polls the controller until every listed switch reports Success for --action,
any switch reports Failed, or the timeout expires. With --action idle the
command instead waits until no image action is in progress on the switches.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serials := splitList(flagSerials)
			ips := splitList(flagIPs)
			if len(serials) > 0 && len(ips) > 0 {
				return fmt.Errorf("use either --serial or --ip, not both")
			}
			if len(serials) == 0 && len(ips) == 0 {
				return fmt.Errorf("--serial or --ip is required")
			}
			keyBy, ids := issu.BySerialNumber, serials
			if len(ips) > 0 {
				keyBy, ids = issu.ByIPAddress, ips
			}

			cfg := loadConfig()
			if cmd.Flags().Changed("check-interval") {
				cfg.CheckInterval = flagCheckInterval
			}
			if cmd.Flags().Changed("check-timeout") {
				cfg.CheckTimeout = flagCheckTimeout
			}
			sender, err := newSender(cfg)
			if err != nil {
				return err
			}
			wm, stopMetrics := startMetrics()
			defer stopMetrics()

			waitCfg := tracker.Config{
				Refresher:     issu.NewDetails(sender, keyBy),
				CheckInterval: cfg.CheckInterval,
				CheckTimeout:  cfg.CheckTimeout,
				Observer:      wm,
			}
			var waiter *tracker.Waiter
			if flagAction == "idle" {
				waiter, err = tracker.NewIdleWaiter(waitCfg)
			} else {
				key, perr := issu.ParseActionKey(flagAction)
				if perr != nil {
					return perr
				}
				waitCfg.Keys = []issu.ActionKey{key}
				waiter, err = tracker.NewActionWaiter(waitCfg)
			}
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			res, waitErr := waiter.Wait(ctx, ids)
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			return waitErr
		},
	}

	cmd.Flags().StringVarP(&flagAction, "action", "a", "idle", "imageStaged, validated, upgrade or idle")
	cmd.Flags().StringSliceVarP(&flagSerials, "serial", "s", nil, "switch serial numbers")
	cmd.Flags().StringSliceVar(&flagIPs, "ip", nil, "switch management addresses")
	cmd.Flags().DurationVar(&flagCheckInterval, "check-interval", 0, "time between status polls")
	cmd.Flags().DurationVar(&flagCheckTimeout, "check-timeout", 0, "total wait budget")
	return cmd
}
