package portald

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"

	"github.com/fatih/color"

	"github.com/portalswap/portal/pkg/keys"
)

var HomeDir string

var ErrMnemonicFileMissing = errors.New("mnemonic file missing")

func init() {
	var err error
	HomeDir, err = os.UserHomeDir()
	if err != nil {
		log.Fatal("failed to get $HOME value")
	}
}

func DefaultPortalDirectory() string {
	return filepath.Join(HomeDir, ".portal")
}

func DefaultMnemonicPath() string {
	return filepath.Join(HomeDir, ".portal", "MNEMONIC")
}

func DefaultConfigPath() string {
	return filepath.Join(HomeDir, ".portal", "config.json")
}

func DefaultStorePath() string {
	return filepath.Join(HomeDir, ".portal", "data.db")
}

// LoadMnemonic reads the daemon mnemonic from disk.
func LoadMnemonic(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrMnemonicFileMissing
		}
		return "", err
	}
	return string(data), nil
}

// NewMnemonic generates and prints a fresh mnemonic. It is the operator's
// job to store it safely.
func NewMnemonic() (string, error) {
	mnemonic, err := keys.NewMnemonic()
	if err != nil {
		return "", err
	}
	color.Green("Generating new mnemonic:\n[ %v ]", mnemonic)
	return mnemonic, nil
}

// LoadConfig reads the daemon configuration file, falling back to the zero
// config when the file does not exist.
func LoadConfig(file string) Config {
	config := Config{}
	configFile, err := os.ReadFile(file)
	if err != nil {
		return config
	}
	json.Unmarshal(configFile, &config)
	return config
}
