package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/httprunner/ImageAgent/pkg/issu"
	"github.com/httprunner/ImageAgent/pkg/switches"
)

func newIssuCmd() *cobra.Command {
	var (
		flagSerial string
		flagIP     string
		flagField  string
	)

	cmd := &cobra.Command{
		Use:   "issu",
		Short: "Show the controller's ISSU status report",
		Long:  "Prints every switch's ISSU record, or one switch's record or raw field when --serial or --ip is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagSerial != "" && flagIP != "" {
				return fmt.Errorf("use either --serial or --ip, not both")
			}
			if flagField != "" && flagSerial == "" && flagIP == "" {
				return fmt.Errorf("--field needs --serial or --ip")
			}
			sender, err := newSender(loadConfig())
			if err != nil {
				return err
			}
			keyBy, id := issu.BySerialNumber, flagSerial
			if flagIP != "" {
				keyBy, id = issu.ByIPAddress, flagIP
			}
			snap, err := issu.NewDetails(sender, keyBy).Refresh(cmd.Context())
			if err != nil {
				return err
			}
			if id == "" {
				records := make([]*issu.Record, 0, snap.Len())
				for _, key := range snap.IDs() {
					rec, err := snap.Lookup(key)
					if err != nil {
						return err
					}
					records = append(records, rec)
				}
				return printJSON(cmd.OutOrStdout(), records)
			}
			if flagField != "" {
				raw, err := snap.Raw(id, flagField)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
				return err
			}
			rec, err := snap.Lookup(id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}

	cmd.Flags().StringVarP(&flagSerial, "serial", "s", "", "switch serial number")
	cmd.Flags().StringVar(&flagIP, "ip", "", "switch management address")
	cmd.Flags().StringVar(&flagField, "field", "", "print one raw field of the record, e.g. vpcRole")
	return cmd
}

func newInventoryCmd() *cobra.Command {
	var flagIP string

	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "List switches managed by the controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			sender, err := newSender(loadConfig())
			if err != nil {
				return err
			}
			inv := switches.NewInventory(sender)
			if err := inv.Refresh(cmd.Context()); err != nil {
				return err
			}
			if flagIP != "" {
				sw, err := inv.Lookup(flagIP)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sw)
			}
			type row struct {
				*switches.Switch
				Platform string `json:"platform"`
			}
			rows := make([]row, 0)
			for _, sw := range inv.List() {
				rows = append(rows, row{Switch: sw, Platform: sw.Platform()})
			}
			return printJSON(cmd.OutOrStdout(), rows)
		},
	}

	cmd.Flags().StringVar(&flagIP, "ip", "", "show one switch")
	return cmd
}
