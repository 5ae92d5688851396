package main

import (
	"errors"
	"os"

	"github.com/portalswap/portal/pkg/portald"
)

func main() {
	config := portald.LoadConfig(portald.DefaultConfigPath())

	if config.Mnemonic == "" {
		mnemonic, err := portald.LoadMnemonic(portald.DefaultMnemonicPath())
		if err != nil {
			if !errors.Is(err, portald.ErrMnemonicFileMissing) {
				panic(err)
			}
			mnemonic, err = portald.NewMnemonic()
			if err != nil {
				panic(err)
			}
			if err := os.MkdirAll(portald.DefaultPortalDirectory(), 0700); err != nil {
				panic(err)
			}
			if err := os.WriteFile(portald.DefaultMnemonicPath(), []byte(mnemonic), 0600); err != nil {
				panic(err)
			}
		}
		config.Mnemonic = mnemonic
	}

	daemon, err := portald.New(config)
	if err != nil {
		panic(err)
	}
	if err := daemon.Start(); err != nil {
		panic(err)
	}
}
