package main

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"FundGuard/internal/domain/models"
	"FundGuard/internal/risk"
)

func fiCmd() *cobra.Command {
	var c models.ScoreComponents
	cmd := &cobra.Command{
		Use:   "fi",
		Short: "Compute the fault index of one domain and classify it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := loadRiskConfig()
			if err != nil {
				return err
			}
			fi, err := risk.ComputeFI(c, rc.Weights)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fi=%d severity=%s ratio=%s\n",
				fi, risk.Classify(fi, rc), risk.SlashRatio(fi, rc.MinSlashingFI).String())
			return nil
		},
	}
	cmd.Flags().IntVarP(&c.L, "limit", "l", 0, "limit breach severity (0-100)")
	cmd.Flags().IntVarP(&c.B, "behavior", "b", 0, "behavioural anomaly (0-100)")
	cmd.Flags().IntVarP(&c.D, "damage", "d", 0, "damage ratio (0-100)")
	cmd.Flags().IntVarP(&c.I, "intent", "i", 0, "intent probability (0-100)")
	return cmd
}

func ratioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ratio [fi...]",
		Short: "Print the slashing ratio curve for the given fault indices",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := loadRiskConfig()
			if err != nil {
				return err
			}
			for _, a := range args {
				fi, err := strconv.Atoi(a)
				if err != nil || fi < 0 || fi > risk.MaxScore {
					return fmt.Errorf("fault index %q outside [0,100]", a)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%3d  %s\n", fi, risk.SlashRatio(fi, rc.MinSlashingFI).StringFixed(4))
			}
			return nil
		},
	}
}

func slashCmd() *cobra.Command {
	var (
		in                        models.SlashInput
		stake, total, loss, price string
	)
	cmd := &cobra.Command{
		Use:   "slash",
		Short: "Compute the slash amount and its burn/compensation split",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := loadRiskConfig()
			if err != nil {
				return err
			}
			for _, f := range []struct {
				name string
				raw  string
				dst  *decimal.Decimal
			}{
				{"stake", stake, &in.Stake},
				{"total-stake", total, &in.ManagerTotalStake},
				{"loss", loss, &in.FundLossUSD},
				{"price", price, &in.TokenPrice},
			} {
				v, err := decimal.NewFromString(f.raw)
				if err != nil {
					return fmt.Errorf("--%s: %w", f.name, err)
				}
				*f.dst = v
			}
			if in.ManagerTotalStake.IsZero() {
				in.ManagerTotalStake = in.Stake
			}
			out, err := risk.ComputeSlash(in, rc)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().IntVar(&in.FaultIndex, "fi", 0, "combined fault index")
	cmd.Flags().StringVar(&stake, "stake", "0", "stake pledged to the fund (tokens)")
	cmd.Flags().StringVar(&total, "total-stake", "0", "manager total stake (tokens, defaults to --stake)")
	cmd.Flags().StringVar(&loss, "loss", "0", "fund loss in USD")
	cmd.Flags().StringVar(&price, "price", "1", "effective stake token price in USD")
	return cmd
}
