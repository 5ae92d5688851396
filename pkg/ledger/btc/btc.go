// Package btc adapts a bitcoin-style single-stage HTLC to the coordinator's
// ledger contract. Transaction construction and signing live behind the
// Wallet collaborator; chain observation lives behind the watch-only
// Indexer. The adapter itself only builds HTLC scripts, sequences the
// collaborators and extracts revealed secrets from claim witnesses.
package btc

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"go.uber.org/zap"

	"github.com/portalswap/portal/pkg/ledger"
	"github.com/portalswap/portal/pkg/secret"
	"github.com/portalswap/portal/pkg/timelock"
)

// fundPollRate paces the watch-only confirmation loop after funding.
const fundPollRate = 5 * time.Second

// UTXO is an unspent output on the swap address.
type UTXO struct {
	TxID        string
	Vout        uint32
	Amount      int64
	Confirmed   bool
	BlockHeight uint64
}

// TxIn is one input of an observed transaction. Witness items are
// hex-encoded, matching the electrs wire format.
type TxIn struct {
	PrevTxID    string
	PrevAddress string
	Witness     []string
}

// Tx is an observed transaction spending from or paying to an address.
type Tx struct {
	TxID      string
	Confirmed bool
	BlockTime time.Time
	VINs      []TxIn
}

// Indexer is the watch-only view of the bitcoin ledger, implemented by the
// excluded node/electrs plumbing.
type Indexer interface {
	GetUTXOs(ctx context.Context, address btcutil.Address) ([]UTXO, error)
	GetAddressTxs(ctx context.Context, address btcutil.Address) ([]Tx, error)
	GetTx(ctx context.Context, txid string) (Tx, error)
	GetTipBlockTime(ctx context.Context) (time.Time, error)
}

// Wallet is the signing collaborator. It owns keys, builds and signs
// transactions and returns once the tx is confirmed.
type Wallet interface {
	Address() btcutil.Address
	Initiate(ctx context.Context, swap Swap) (string, error)
	Redeem(ctx context.Context, swap Swap, sec secret.Secret) (string, error)
	Refund(ctx context.Context, swap Swap) (string, error)
}

// Swap is one HTLC leg on the bitcoin ledger.
type Swap struct {
	Network  *chaincfg.Params
	Funder   btcutil.Address
	Claimant btcutil.Address
	Hashlock secret.Hashlock
	Amount   int64
	Deadline time.Time
	Address  btcutil.Address
	Script   []byte
}

// NewSwap derives the HTLC script and its deposit address.
func NewSwap(network *chaincfg.Params, funder, claimant btcutil.Address, lock secret.Hashlock, amount int64, deadline time.Time) (Swap, error) {
	script, err := HtlcScript(funder.ScriptAddress(), claimant.ScriptAddress(), lock, deadline)
	if err != nil {
		return Swap{}, fmt.Errorf("failed to build htlc script: %w", err)
	}
	address, err := P2wshAddress(script, network)
	if err != nil {
		return Swap{}, fmt.Errorf("failed to derive htlc address: %w", err)
	}
	return Swap{
		Network:  network,
		Funder:   funder,
		Claimant: claimant,
		Hashlock: lock,
		Amount:   amount,
		Deadline: deadline,
		Address:  address,
		Script:   script,
	}, nil
}

// Adapter implements ledger.Adapter for the single-stage bitcoin HTLC.
type Adapter struct {
	logger  *zap.Logger
	network *chaincfg.Params
	indexer Indexer
	wallet  Wallet

	mu    sync.Mutex
	swaps map[ledger.Ref]Swap
}

// New returns a bitcoin ledger adapter.
func New(logger *zap.Logger, network *chaincfg.Params, indexer Indexer, wallet Wallet) *Adapter {
	return &Adapter{
		logger:  logger,
		network: network,
		indexer: indexer,
		wallet:  wallet,
		swaps:   map[ledger.Ref]Swap{},
	}
}

func (a *Adapter) Fund(ctx context.Context, params ledger.EscrowParams) (ledger.FundResult, error) {
	funder, err := btcutil.DecodeAddress(params.Funder, a.network)
	if err != nil {
		return ledger.FundResult{}, fmt.Errorf("%w: invalid funder address: %v", ledger.ErrFundingFailed, err)
	}
	claimant, err := btcutil.DecodeAddress(params.Counterparty, a.network)
	if err != nil {
		return ledger.FundResult{}, fmt.Errorf("%w: invalid counterparty address: %v", ledger.ErrFundingFailed, err)
	}
	swap, err := NewSwap(a.network, funder, claimant, params.Hashlock, int64(params.Amount), params.Deadline)
	if err != nil {
		return ledger.FundResult{}, fmt.Errorf("%w: %v", ledger.ErrFundingFailed, err)
	}

	txid, err := a.wallet.Initiate(ctx, swap)
	if err != nil {
		return ledger.FundResult{}, fmt.Errorf("%w: %v", ledger.ErrFundingFailed, err)
	}

	ref := ledger.Ref(swap.Address.EncodeAddress())
	a.mu.Lock()
	a.swaps[ref] = swap
	a.mu.Unlock()

	// The wallet waits for its own tx, but the deposit only counts once
	// the watch-only view agrees the script address holds the principal.
	for {
		funded, err := a.Funded(ctx, ref)
		if err != nil {
			return ledger.FundResult{}, fmt.Errorf("%w: %v", ledger.ErrFundingFailed, err)
		}
		if funded {
			break
		}
		select {
		case <-ctx.Done():
			return ledger.FundResult{}, ctx.Err()
		case <-time.After(fundPollRate):
		}
	}

	confirmedAt, err := a.indexer.GetTipBlockTime(ctx)
	if err != nil {
		return ledger.FundResult{}, err
	}

	a.logger.Info("funded htlc",
		zap.String("address", swap.Address.EncodeAddress()),
		zap.String("tx", txid))
	return ledger.FundResult{
		Ref: ref,
		Receipt: ledger.Receipt{
			TxHash:      txid,
			ConfirmedAt: confirmedAt,
		},
	}, nil
}

func (a *Adapter) Claim(ctx context.Context, ref ledger.Ref, sec secret.Secret) (ledger.ClaimResult, error) {
	swap, err := a.swap(ref)
	if err != nil {
		return ledger.ClaimResult{}, err
	}

	txid, err := a.wallet.Redeem(ctx, swap, sec)
	if err != nil {
		return ledger.ClaimResult{}, fmt.Errorf("failed to redeem htlc: %w", err)
	}
	confirmedAt, err := a.indexer.GetTipBlockTime(ctx)
	if err != nil {
		return ledger.ClaimResult{}, err
	}

	a.logger.Info("claimed htlc",
		zap.String("address", swap.Address.EncodeAddress()),
		zap.String("tx", txid))
	return ledger.ClaimResult{
		Receipt: ledger.Receipt{
			TxHash:      txid,
			ConfirmedAt: confirmedAt,
		},
	}, nil
}

func (a *Adapter) CancelOrRefund(ctx context.Context, ref ledger.Ref) (ledger.Receipt, error) {
	swap, err := a.swap(ref)
	if err != nil {
		return ledger.Receipt{}, err
	}

	txid, err := a.wallet.Refund(ctx, swap)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("failed to refund htlc: %w", err)
	}
	confirmedAt, err := a.indexer.GetTipBlockTime(ctx)
	if err != nil {
		return ledger.Receipt{}, err
	}

	a.logger.Info("refunded htlc",
		zap.String("address", swap.Address.EncodeAddress()),
		zap.String("tx", txid))
	return ledger.Receipt{
		TxHash:      txid,
		ConfirmedAt: confirmedAt,
	}, nil
}

// ExtractSecret finds the claim spend of the HTLC address and recovers the
// preimage from its witness stack.
func (a *Adapter) ExtractSecret(receipt ledger.Receipt) (secret.Secret, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	tx, err := a.indexer.GetTx(ctx, receipt.TxHash)
	if err != nil {
		return secret.Secret{}, fmt.Errorf("failed to fetch tx %v: %w", receipt.TxHash, err)
	}
	for _, vin := range tx.VINs {
		witness := make([][]byte, 0, len(vin.Witness))
		for _, item := range vin.Witness {
			decoded, err := hex.DecodeString(item)
			if err != nil {
				return secret.Secret{}, fmt.Errorf("failed to decode witness item: %w", err)
			}
			witness = append(witness, decoded)
		}
		if sec, ok := SecretFromWitness(witness); ok {
			return sec, nil
		}
	}
	return secret.Secret{}, ledger.ErrSecretNotFound
}

// QueryStage maps the single deadline onto the stage model: the claim
// window plays the withdraw stage, and everything past the deadline is
// cancellable.
func (a *Adapter) QueryStage(ctx context.Context, ref ledger.Ref, now time.Time) (timelock.Stage, error) {
	swap, err := a.swap(ref)
	if err != nil {
		return timelock.StagePending, err
	}
	if now.Before(swap.Deadline) {
		return timelock.StageWithdraw, nil
	}
	return timelock.StageCancel, nil
}

// CurrentTime reports the tip block time. CLTV evaluates against chain
// time, so this is the only clock that matters for the refund boundary.
func (a *Adapter) CurrentTime(ctx context.Context) (time.Time, error) {
	return a.indexer.GetTipBlockTime(ctx)
}

// Funded reports whether the swap address holds enough confirmed value.
func (a *Adapter) Funded(ctx context.Context, ref ledger.Ref) (bool, error) {
	swap, err := a.swap(ref)
	if err != nil {
		return false, err
	}
	utxos, err := a.indexer.GetUTXOs(ctx, swap.Address)
	if err != nil {
		return false, fmt.Errorf("failed to get utxos: %w", err)
	}
	total := int64(0)
	for _, utxo := range utxos {
		if utxo.Confirmed {
			total += utxo.Amount
		}
	}
	return total >= swap.Amount, nil
}

func (a *Adapter) swap(ref ledger.Ref) (Swap, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	swap, ok := a.swaps[ref]
	if !ok {
		return Swap{}, ledger.ErrUnknownEscrow
	}
	return swap, nil
}
