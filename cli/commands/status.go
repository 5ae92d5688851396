package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/portalswap/portal/pkg/rpc"
	"github.com/portalswap/portal/pkg/rpcclient"
)

func Status(rpcClient rpcclient.Client) *cobra.Command {
	var orderID string

	var cmd = &cobra.Command{
		Use:   "status",
		Short: "Show the state of a session",
		Run: func(c *cobra.Command, args []string) {
			resp, err := rpcClient.SessionStatus(rpc.RequestSession{OrderID: orderID})
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to send request: %w", err))
			}

			var pretty json.RawMessage = resp
			out, err := json.MarshalIndent(pretty, "", "  ")
			if err != nil {
				cobra.CheckErr(err)
			}
			fmt.Println(string(out))
		},
	}

	cmd.Flags().StringVar(&orderID, "order-id", "", "Session to inspect")
	cmd.MarkFlagRequired("order-id")
	return cmd
}
