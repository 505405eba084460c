package main

import (
	"github.com/spf13/cobra"

	"github.com/httprunner/ImageAgent/pkg/recorder"
)

func newHistoryCmd() *cobra.Command {
	var (
		flagRun    string
		flagSerial string
		flagLimit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded switch outcomes",
		Long:  "Reads outcomes recorded by previous upgrade runs from the local database (IMAGEAGENT_DB_PATH or ~/.imageagent/outcomes.sqlite).",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := recorder.Open()
			if err != nil {
				return err
			}
			defer db.Close()
			outcomes, err := db.History(cmd.Context(), recorder.Query{
				RunID:  flagRun,
				Serial: flagSerial,
				Limit:  flagLimit,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), outcomes)
		},
	}

	cmd.Flags().StringVar(&flagRun, "run", "", "only this run id")
	cmd.Flags().StringVarP(&flagSerial, "serial", "s", "", "only this switch")
	cmd.Flags().IntVar(&flagLimit, "limit", 50, "maximum outcomes to show")
	return cmd
}
