package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/portalswap/portal/pkg/rpc"
	"github.com/portalswap/portal/pkg/rpcclient"
)

func List(rpcClient rpcclient.Client) *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "list",
		Short: "List all sessions",
		Run: func(c *cobra.Command, args []string) {
			resp, err := rpcClient.ListSessions()
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to send request: %w", err))
			}

			var views []rpc.SessionView
			if err := json.Unmarshal(resp, &views); err != nil {
				cobra.CheckErr(fmt.Errorf("failed to unmarshal response: %w", err))
			}
			for _, view := range views {
				fmt.Printf("%v  %v  leg1=%v leg2=%v\n", view.OrderID, view.Phase, view.Leg1.Outcome, view.Leg2.Outcome)
			}
		},
	}
	return cmd
}
