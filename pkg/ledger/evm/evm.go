// Package evm adapts the multi-stage escrow contract deployed on an
// EVM-compatible ledger to the coordinator's ledger contract. Key custody
// stays with the caller: the adapter only needs the signing key handed in
// at construction, and every submission waits for confirmation before
// returning.
package evm

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/portalswap/portal/pkg/ledger"
	"github.com/portalswap/portal/pkg/secret"
	"github.com/portalswap/portal/pkg/timelock"
)

const callTimeout = 15 * time.Second

// Options configure the EVM adapter.
type Options struct {
	// ContractAddress is the deployed escrow contract.
	ContractAddress common.Address

	// ChainID of the target network, used for transaction signing.
	ChainID *big.Int
}

// Adapter implements ledger.Adapter against the escrow contract.
type Adapter struct {
	logger   *zap.Logger
	client   *ethclient.Client
	key      *ecdsa.PrivateKey
	signer   common.Address
	opts     Options
	abi      abi.ABI
	contract *bind.BoundContract
}

// New returns an adapter bound to the escrow contract. The chain id is
// fetched from the node when not set in the options.
func New(logger *zap.Logger, client *ethclient.Client, key *ecdsa.PrivateKey, opts Options) (*Adapter, error) {
	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse escrow abi: %w", err)
	}
	if opts.ChainID == nil {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		chainID, err := client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch chain id: %w", err)
		}
		opts.ChainID = chainID
	}

	return &Adapter{
		logger:   logger,
		client:   client,
		key:      key,
		signer:   crypto.PubkeyToAddress(key.PublicKey),
		opts:     opts,
		abi:      parsed,
		contract: bind.NewBoundContract(opts.ContractAddress, parsed, client, client, client),
	}, nil
}

// EscrowID recomputes the contract's escrow id for a hashlock and funder.
func EscrowID(lock secret.Hashlock, funder common.Address) [32]byte {
	return sha256.Sum256(append(lock[:], common.BytesToHash(funder.Bytes()).Bytes()...))
}

func (a *Adapter) Fund(ctx context.Context, params ledger.EscrowParams) (ledger.FundResult, error) {
	if !common.IsHexAddress(params.Counterparty) {
		return ledger.FundResult{}, fmt.Errorf("%w: invalid counterparty address %v", ledger.ErrFundingFailed, params.Counterparty)
	}
	counterparty := common.HexToAddress(params.Counterparty)

	transactor, err := a.transactor(ctx)
	if err != nil {
		return ledger.FundResult{}, fmt.Errorf("%w: %v", ledger.ErrFundingFailed, err)
	}
	transactor.Value = new(big.Int).SetUint64(params.Amount + params.SafetyDeposit)

	tx, err := a.contract.Transact(transactor, "initiate", counterparty, [32]byte(params.Hashlock), new(big.Int).SetUint64(params.SafetyDeposit), [16]byte(params.Timelocks))
	if err != nil {
		return ledger.FundResult{}, fmt.Errorf("%w: %v", ledger.ErrFundingFailed, err)
	}
	receipt, err := bind.WaitMined(ctx, a.client, tx)
	if err != nil {
		return ledger.FundResult{}, fmt.Errorf("%w: %v", ledger.ErrFundingFailed, err)
	}

	id := EscrowID(params.Hashlock, a.signer)
	a.logger.Info("funded escrow",
		zap.String("id", common.Hash(id).Hex()),
		zap.String("tx", receipt.TxHash.Hex()))

	confirmedAt, err := a.blockTime(ctx, receipt.BlockNumber)
	if err != nil {
		return ledger.FundResult{}, err
	}
	return ledger.FundResult{
		Ref: ledger.Ref(common.Hash(id).Hex()),
		Receipt: ledger.Receipt{
			TxHash:      receipt.TxHash.Hex(),
			ConfirmedAt: confirmedAt,
		},
	}, nil
}

func (a *Adapter) Claim(ctx context.Context, ref ledger.Ref, sec secret.Secret) (ledger.ClaimResult, error) {
	id, err := refToID(ref)
	if err != nil {
		return ledger.ClaimResult{}, err
	}
	transactor, err := a.transactor(ctx)
	if err != nil {
		return ledger.ClaimResult{}, err
	}

	tx, err := a.contract.Transact(transactor, "claim", id, [32]byte(sec))
	if err != nil {
		return ledger.ClaimResult{}, fmt.Errorf("failed to claim: %w", err)
	}
	receipt, err := bind.WaitMined(ctx, a.client, tx)
	if err != nil {
		return ledger.ClaimResult{}, fmt.Errorf("failed to wait for claim: %w", err)
	}

	a.logger.Info("claimed escrow",
		zap.String("id", common.Hash(id).Hex()),
		zap.String("tx", receipt.TxHash.Hex()))

	confirmedAt, err := a.blockTime(ctx, receipt.BlockNumber)
	if err != nil {
		return ledger.ClaimResult{}, err
	}
	return ledger.ClaimResult{
		Receipt: ledger.Receipt{
			TxHash:      receipt.TxHash.Hex(),
			ConfirmedAt: confirmedAt,
		},
	}, nil
}

func (a *Adapter) CancelOrRefund(ctx context.Context, ref ledger.Ref) (ledger.Receipt, error) {
	id, err := refToID(ref)
	if err != nil {
		return ledger.Receipt{}, err
	}
	transactor, err := a.transactor(ctx)
	if err != nil {
		return ledger.Receipt{}, err
	}

	tx, err := a.contract.Transact(transactor, "cancel", id)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("failed to cancel: %w", err)
	}
	receipt, err := bind.WaitMined(ctx, a.client, tx)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("failed to wait for cancel: %w", err)
	}

	a.logger.Info("cancelled escrow",
		zap.String("id", common.Hash(id).Hex()),
		zap.String("tx", receipt.TxHash.Hex()))

	confirmedAt, err := a.blockTime(ctx, receipt.BlockNumber)
	if err != nil {
		return ledger.Receipt{}, err
	}
	return ledger.Receipt{
		TxHash:      receipt.TxHash.Hex(),
		ConfirmedAt: confirmedAt,
	}, nil
}

// ExtractSecret scans the claim transaction's logs for the Claimed event
// and returns the revealed preimage.
func (a *Adapter) ExtractSecret(receipt ledger.Receipt) (secret.Secret, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	txReceipt, err := a.client.TransactionReceipt(ctx, common.HexToHash(receipt.TxHash))
	if err != nil {
		return secret.Secret{}, fmt.Errorf("failed to fetch receipt: %w", err)
	}

	claimedID := a.abi.Events["Claimed"].ID
	for _, log := range txReceipt.Logs {
		if log.Address != a.opts.ContractAddress || len(log.Topics) == 0 || log.Topics[0] != claimedID {
			continue
		}
		event := struct {
			ID       [32]byte
			Caller   common.Address
			Preimage [32]byte
		}{}
		if err := a.contract.UnpackLog(&event, "Claimed", *log); err != nil {
			return secret.Secret{}, fmt.Errorf("failed to unpack claimed event: %w", err)
		}
		return secret.Secret(event.Preimage), nil
	}
	return secret.Secret{}, ledger.ErrSecretNotFound
}

func (a *Adapter) QueryStage(ctx context.Context, ref ledger.Ref, now time.Time) (timelock.Stage, error) {
	id, err := refToID(ref)
	if err != nil {
		return timelock.StagePending, err
	}

	var out []interface{}
	if err := a.contract.Call(&bind.CallOpts{Context: ctx}, &out, "escrows", id); err != nil {
		return timelock.StagePending, fmt.Errorf("failed to query escrow: %w", err)
	}
	amount, ok := out[3].(*big.Int)
	if !ok || amount.Sign() == 0 {
		return timelock.StagePending, ledger.ErrUnknownEscrow
	}
	word, ok := out[5].([16]byte)
	if !ok {
		return timelock.StagePending, fmt.Errorf("unexpected timelocks type %T", out[5])
	}
	return timelock.Word(word).ActiveStage(now), nil
}

// CurrentTime reports the latest block timestamp, which is the clock every
// stage check on this ledger is evaluated against.
func (a *Adapter) CurrentTime(ctx context.Context) (time.Time, error) {
	header, err := a.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to fetch latest header: %w", err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

func (a *Adapter) transactor(ctx context.Context) (*bind.TransactOpts, error) {
	transactor, err := bind.NewKeyedTransactorWithChainID(a.key, a.opts.ChainID)
	if err != nil {
		return nil, fmt.Errorf("failed to build transactor: %w", err)
	}
	transactor.Context = ctx
	return transactor, nil
}

func (a *Adapter) blockTime(ctx context.Context, number *big.Int) (time.Time, error) {
	header, err := a.client.HeaderByNumber(ctx, number)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to fetch header %v: %w", number, err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

func refToID(ref ledger.Ref) ([32]byte, error) {
	hash := common.HexToHash(string(ref))
	if hash == (common.Hash{}) {
		return [32]byte{}, ledger.ErrUnknownEscrow
	}
	return [32]byte(hash), nil
}
