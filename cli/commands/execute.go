package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/portalswap/portal/pkg/rpc"
	"github.com/portalswap/portal/pkg/rpcclient"
)

func Execute(rpcClient rpcclient.Client) *cobra.Command {
	var orderID string

	var cmd = &cobra.Command{
		Use:   "execute",
		Short: "Drive a session through funding, reveal and claims",
		Run: func(c *cobra.Command, args []string) {
			resp, err := rpcClient.ExecuteSession(rpc.RequestSession{OrderID: orderID})
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to send request: %w", err))
			}
			fmt.Println(string(resp))
		},
	}

	cmd.Flags().StringVar(&orderID, "order-id", "", "Session to execute")
	cmd.MarkFlagRequired("order-id")
	return cmd
}
