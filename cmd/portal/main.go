package main

import (
	"github.com/portalswap/portal/cli"
)

var version = "dev"

func main() {
	if err := cli.Run(version); err != nil {
		panic(err)
	}
}
