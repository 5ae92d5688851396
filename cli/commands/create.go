package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/portalswap/portal/pkg/rpc"
	"github.com/portalswap/portal/pkg/rpcclient"
)

func Create(rpcClient rpcclient.Client) *cobra.Command {
	var (
		leg1Funder       string
		leg1Counterparty string
		leg1Amount       uint64
		leg1Deposit      uint64
		leg1Withdraw     uint32
		leg1Public       uint32
		leg1Cancel       uint32
		leg2Funder       string
		leg2Counterparty string
		leg2Amount       uint64
		leg2Window       uint32
	)

	var cmd = &cobra.Command{
		Use:   "create",
		Short: "Create a new swap session",
		Run: func(c *cobra.Command, args []string) {
			req := rpc.RequestCreateSession{
				Leg1: rpc.RequestLegTerms{
					Funder:        leg1Funder,
					Counterparty:  leg1Counterparty,
					Amount:        leg1Amount,
					SafetyDeposit: leg1Deposit,
				},
				Leg1Withdraw:       leg1Withdraw,
				Leg1PublicWithdraw: leg1Public,
				Leg1Cancel:         leg1Cancel,
				Leg2: rpc.RequestLegTerms{
					Funder:       leg2Funder,
					Counterparty: leg2Counterparty,
					Amount:       leg2Amount,
				},
				Leg2Window: leg2Window,
			}

			resp, err := rpcClient.CreateSession(req)
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to send request: %w", err))
			}

			var view rpc.SessionView
			if err := json.Unmarshal(resp, &view); err != nil {
				cobra.CheckErr(fmt.Errorf("failed to unmarshal response: %w", err))
			}
			fmt.Printf("successfully created session %v with hashlock %v\n", view.OrderID, view.SecretHash)
		},
	}

	cmd.Flags().StringVar(&leg1Funder, "leg1-funder", "", "Funder of the revealing leg")
	cmd.MarkFlagRequired("leg1-funder")
	cmd.Flags().StringVar(&leg1Counterparty, "leg1-counterparty", "", "Counterparty of the revealing leg")
	cmd.MarkFlagRequired("leg1-counterparty")
	cmd.Flags().Uint64Var(&leg1Amount, "leg1-amount", 0, "Amount escrowed on the revealing leg")
	cmd.MarkFlagRequired("leg1-amount")
	cmd.Flags().Uint64Var(&leg1Deposit, "leg1-deposit", 0, "Safety deposit on the revealing leg")
	cmd.Flags().Uint32Var(&leg1Withdraw, "leg1-withdraw", 3600, "Seconds until the private withdraw window opens")
	cmd.Flags().Uint32Var(&leg1Public, "leg1-public-withdraw", 7200, "Seconds until the public withdraw window opens")
	cmd.Flags().Uint32Var(&leg1Cancel, "leg1-cancel", 10800, "Seconds until cancellation opens")
	cmd.Flags().StringVar(&leg2Funder, "leg2-funder", "", "Funder of the dependent leg")
	cmd.MarkFlagRequired("leg2-funder")
	cmd.Flags().StringVar(&leg2Counterparty, "leg2-counterparty", "", "Counterparty of the dependent leg")
	cmd.MarkFlagRequired("leg2-counterparty")
	cmd.Flags().Uint64Var(&leg2Amount, "leg2-amount", 0, "Amount escrowed on the dependent leg")
	cmd.MarkFlagRequired("leg2-amount")
	cmd.Flags().Uint32Var(&leg2Window, "leg2-window", 14400, "Seconds until the dependent leg's claim deadline")
	return cmd
}
