package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/httprunner/ImageAgent/pkg/policy"
)

func newPolicyCmd() *cobra.Command {
	var (
		flagPolicy  string
		flagSerials []string
	)

	cmd := &cobra.Command{
		Use:       "policy <attach|detach|query>",
		Short:     "Attach, detach or query an image policy",
		Long:      "Attach or detach an image policy on switches addressed by serial number, or list the switches using a policy.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(policy.ActionAttach), string(policy.ActionDetach), string(policy.ActionQuery)},
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := policy.ParseAction(args[0])
			if err != nil {
				return err
			}
			sender, err := newSender(loadConfig())
			if err != nil {
				return err
			}
			pa := policy.NewPolicyAction(sender, nil, nil)
			pa.Action = action
			pa.PolicyName = flagPolicy
			pa.Serials = splitList(flagSerials)
			result, err := pa.Commit(cmd.Context())
			if err != nil {
				return err
			}
			log.Info().
				Str("action", string(action)).
				Str("policy", flagPolicy).
				Strs("serials", pa.Serials).
				Bool("changed", result.Result.Changed).
				Msg("policy action done")
			if action == policy.ActionQuery {
				return printJSON(cmd.OutOrStdout(), result.Devices)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", action, flagPolicy, result.Response.DataString())
			return err
		},
	}

	cmd.Flags().StringVar(&flagPolicy, "policy", "", "image policy name")
	cmd.Flags().StringSliceVarP(&flagSerials, "serial", "s", nil, "switch serial numbers (repeat or comma separate)")
	return cmd
}
