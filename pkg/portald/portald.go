// Package portald wires the coordinator, stores and ledger adapters into
// the runnable swap daemon.
package portald

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/lightningnetwork/lnd/clock"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/portalswap/portal/pkg/coordinator"
	"github.com/portalswap/portal/pkg/escrow"
	"github.com/portalswap/portal/pkg/keys"
	"github.com/portalswap/portal/pkg/ledger"
	"github.com/portalswap/portal/pkg/ledger/evm"
	"github.com/portalswap/portal/pkg/ledger/sim"
	"github.com/portalswap/portal/pkg/rpc"
	"github.com/portalswap/portal/pkg/store"
)

// LedgerKind selects the adapter implementation for a leg.
type LedgerKind string

const (
	// LedgerEVM drives the on-chain escrow contract through an ethereum
	// node.
	LedgerEVM LedgerKind = "evm"

	// LedgerSimStaged and LedgerSimHTLC run in-memory ledgers, used for
	// dry runs and local development.
	LedgerSimStaged LedgerKind = "sim-staged"
	LedgerSimHTLC   LedgerKind = "sim-htlc"
)

// LegConfig configures one leg's ledger connection.
type LegConfig struct {
	Kind     LedgerKind `json:"kind"`
	URL      string     `json:"url"`
	Contract string     `json:"contract"`
}

// Config is the daemon configuration.
type Config struct {
	Mnemonic    string    `json:"mnemonic"`
	DB          string    `json:"db"`
	Redis       string    `json:"redis"`
	RpcUserName string    `json:"rpcUserName"`
	RpcPassword string    `json:"rpcPassword"`
	Listen      string    `json:"listen"`
	Leg1        LegConfig `json:"leg1"`
	Leg2        LegConfig `json:"leg2"`
	Margin      uint32    `json:"margin"`
}

// Portald is the assembled daemon.
type Portald struct {
	logger *zap.Logger
	server rpc.RPC
	listen string
}

// New assembles the daemon from its configuration.
func New(config Config) (Portald, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return Portald{}, err
	}

	dbPath := config.DB
	if dbPath == "" {
		dbPath = DefaultStorePath()
	}
	sessions, err := store.NewStore(sqlite.Open(dbPath), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return Portald{}, err
	}

	var actions store.ActionStore
	if config.Redis != "" {
		actions, err = store.NewRedisStore(config.Redis)
		if err != nil {
			return Portald{}, err
		}
	} else {
		actions = store.NewInMemStore()
	}

	seed, err := keys.SeedFromMnemonic(config.Mnemonic)
	if err != nil {
		return Portald{}, err
	}
	registry := keys.NewKeys(seed)

	leg1, err := buildAdapter(logger.Named("leg1"), registry, config.Leg1, 0)
	if err != nil {
		return Portald{}, err
	}
	leg2, err := buildAdapter(logger.Named("leg2"), registry, config.Leg2, 1)
	if err != nil {
		return Portald{}, err
	}

	coord := coordinator.New(coordinator.Config{
		Logger:  logger.Named("coordinator"),
		Store:   sessions,
		Actions: actions,
		Leg1:    leg1,
		Leg2:    leg2,
		Margin:  time.Duration(config.Margin) * time.Second,
	})

	server, err := rpc.NewRpcServer(coord, sessions, config.RpcUserName, config.RpcPassword, logger.Named("rpc"))
	if err != nil {
		return Portald{}, err
	}

	listen := config.Listen
	if listen == "" {
		listen = ":8080"
	}
	return Portald{
		logger: logger,
		server: server,
		listen: listen,
	}, nil
}

// Start serves the RPC endpoint until the process exits.
func (p Portald) Start() error {
	p.logger.Info("starting portald", zap.String("listen", p.listen))
	return p.server.Run(p.listen)
}

func buildAdapter(logger *zap.Logger, registry *keys.Keys, config LegConfig, selector uint32) (ledger.Adapter, error) {
	switch config.Kind {
	case LedgerEVM:
		key, err := registry.GetKey(keys.Ethereum, 0, selector)
		if err != nil {
			return nil, err
		}
		ecdsaKey, err := key.ECDSA()
		if err != nil {
			return nil, err
		}
		client, err := ethclient.Dial(config.URL)
		if err != nil {
			return nil, err
		}
		return evm.New(logger, client, ecdsaKey, evm.Options{
			ContractAddress: common.HexToAddress(config.Contract),
		})
	case LedgerSimStaged:
		book := escrow.NewBook()
		return sim.NewStaged(book, clock.NewDefaultClock(), "portald"), nil
	case LedgerSimHTLC:
		return sim.NewHTLC(escrow.NewBook(), clock.NewDefaultClock()), nil
	default:
		return nil, fmt.Errorf("unsupported ledger kind %q", config.Kind)
	}
}
