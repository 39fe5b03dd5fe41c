package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"FundGuard/internal/domain/models"
	"FundGuard/internal/statemachine"
)

func transitionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transition [state] [trigger]",
		Short: "Show the path the state machine takes from a state on a trigger",
		Long: `Prints the states an investor passes through from the given state when
the trigger fires, and the limits of the final state.

Triggers: fraud, freeze, severe_breach, breach, recovery`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from := models.InvestorState(strings.ToUpper(args[0]))
			if !knownState(from) {
				return fmt.Errorf("unknown state %q", args[0])
			}
			trigger := statemachine.Trigger(strings.ToLower(args[1]))
			path := statemachine.Route(from, trigger)
			if len(path) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no transition on %s\n", from, trigger)
				return nil
			}
			hops := []string{string(from)}
			for _, s := range path {
				hops = append(hops, string(s))
			}
			last := path[len(path)-1]
			lim := statemachine.LimitsFor(last)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", strings.Join(hops, " -> "))
			fmt.Fprintf(cmd.OutOrStdout(), "limits: deposit=%d%% withdrawal=%d%% max_tier=%d\n",
				lim.DepositPct, lim.WithdrawalPct, lim.MaxTier)
			return nil
		},
	}
}

func knownState(s models.InvestorState) bool {
	for _, st := range statemachine.States {
		if st == s {
			return true
		}
	}
	return false
}
