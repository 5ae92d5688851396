// Package cli implements the operator command line that talks to a running
// portald over its authenticated RPC endpoint.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/portalswap/portal/cli/commands"
	"github.com/portalswap/portal/pkg/portald"
	"github.com/portalswap/portal/pkg/rpcclient"
)

func Run(version string) error {
	var cmd = &cobra.Command{
		Use: "portal - cross-ledger swap operator CLI",
		Run: func(c *cobra.Command, args []string) {
			c.HelpFunc()(c, args)
		},
		Version:           version,
		DisableAutoGenTag: true,
	}

	envConfig := portald.LoadConfig(portald.DefaultConfigPath())

	protocol := "http"
	server := envConfig.Listen
	if server == "" {
		server = "127.0.0.1:8080"
	}

	rpcClient := rpcclient.NewClient(envConfig.RpcUserName, envConfig.RpcPassword, protocol, server)

	cmd.AddCommand(commands.Create(rpcClient))
	cmd.AddCommand(commands.Execute(rpcClient))
	cmd.AddCommand(commands.Abort(rpcClient))
	cmd.AddCommand(commands.Status(rpcClient))
	cmd.AddCommand(commands.List(rpcClient))
	return cmd.Execute()
}
