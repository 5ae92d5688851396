// Package sim provides in-memory ledger adapters backed by the escrow state
// machines and a controllable clock. They are used by the coordinator tests
// and the daemon's dry-run mode, where both "ledgers" finalize instantly
// but still enforce every stage rule of the real contracts.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/portalswap/portal/pkg/escrow"
	"github.com/portalswap/portal/pkg/escrow/htlc"
	"github.com/portalswap/portal/pkg/escrow/staged"
	"github.com/portalswap/portal/pkg/ledger"
	"github.com/portalswap/portal/pkg/secret"
	"github.com/portalswap/portal/pkg/timelock"
)

// StagedLedger simulates a multi-stage escrow ledger.
type StagedLedger struct {
	mu       sync.Mutex
	book     *escrow.Book
	clock    clock.Clock
	caller   string
	escrows  map[ledger.Ref]*staged.Escrow
	revealed map[string]secret.Secret
	seq      int

	// FailFunding makes the next Fund calls fail, simulating a broken
	// submission path.
	FailFunding bool
}

// NewStaged returns a simulated multi-stage ledger. The caller identity is
// used for claim/cancel access control, mirroring a signing key.
func NewStaged(book *escrow.Book, clk clock.Clock, caller string) *StagedLedger {
	return &StagedLedger{
		book:     book,
		clock:    clk,
		caller:   caller,
		escrows:  map[ledger.Ref]*staged.Escrow{},
		revealed: map[string]secret.Secret{},
	}
}

// Book exposes the underlying balance book for assertions.
func (l *StagedLedger) Book() *escrow.Book {
	return l.book
}

// Escrow returns the escrow record behind a reference.
func (l *StagedLedger) Escrow(ref ledger.Ref) (*staged.Escrow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	esc, ok := l.escrows[ref]
	if !ok {
		return nil, ledger.ErrUnknownEscrow
	}
	return esc, nil
}

func (l *StagedLedger) Fund(ctx context.Context, params ledger.EscrowParams) (ledger.FundResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.FailFunding {
		return ledger.FundResult{}, fmt.Errorf("%w: submission rejected", ledger.ErrFundingFailed)
	}
	esc, err := staged.Fund(l.book, params.Funder, params.Counterparty, params.Hashlock, params.Amount, params.SafetyDeposit, params.Timelocks)
	if err != nil {
		return ledger.FundResult{}, fmt.Errorf("%w: %v", ledger.ErrFundingFailed, err)
	}

	ref := ledger.Ref(esc.Address)
	l.escrows[ref] = esc
	return ledger.FundResult{
		Ref:     ref,
		Receipt: l.receipt("fund"),
	}, nil
}

func (l *StagedLedger) Claim(ctx context.Context, ref ledger.Ref, sec secret.Secret) (ledger.ClaimResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	esc, ok := l.escrows[ref]
	if !ok {
		return ledger.ClaimResult{}, ledger.ErrUnknownEscrow
	}
	if err := esc.Claim(l.caller, sec, l.clock.Now()); err != nil {
		return ledger.ClaimResult{}, err
	}

	// The secret is now public input on this ledger.
	receipt := l.receipt("claim")
	l.revealed[receipt.TxHash] = sec
	return ledger.ClaimResult{Receipt: receipt}, nil
}

func (l *StagedLedger) CancelOrRefund(ctx context.Context, ref ledger.Ref) (ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	esc, ok := l.escrows[ref]
	if !ok {
		return ledger.Receipt{}, ledger.ErrUnknownEscrow
	}
	if err := esc.Cancel(l.caller, l.clock.Now()); err != nil {
		return ledger.Receipt{}, err
	}
	return l.receipt("cancel"), nil
}

func (l *StagedLedger) ExtractSecret(receipt ledger.Receipt) (secret.Secret, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sec, ok := l.revealed[receipt.TxHash]
	if !ok {
		return secret.Secret{}, ledger.ErrSecretNotFound
	}
	return sec, nil
}

func (l *StagedLedger) QueryStage(ctx context.Context, ref ledger.Ref, now time.Time) (timelock.Stage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	esc, ok := l.escrows[ref]
	if !ok {
		return timelock.StagePending, ledger.ErrUnknownEscrow
	}
	return esc.Stage(now), nil
}

func (l *StagedLedger) CurrentTime(ctx context.Context) (time.Time, error) {
	return l.clock.Now(), nil
}

func (l *StagedLedger) receipt(op string) ledger.Receipt {
	l.seq++
	return ledger.Receipt{
		TxHash:      fmt.Sprintf("staged-%v-%v", op, l.seq),
		ConfirmedAt: l.clock.Now(),
	}
}

// HTLCLedger simulates a single-stage HTLC ledger.
type HTLCLedger struct {
	mu       sync.Mutex
	book     *escrow.Book
	clock    clock.Clock
	escrows  map[ledger.Ref]*htlc.HTLC
	revealed map[string]secret.Secret
	seq      int

	FailFunding bool
}

// NewHTLC returns a simulated single-stage ledger.
func NewHTLC(book *escrow.Book, clk clock.Clock) *HTLCLedger {
	return &HTLCLedger{
		book:     book,
		clock:    clk,
		escrows:  map[ledger.Ref]*htlc.HTLC{},
		revealed: map[string]secret.Secret{},
	}
}

// Book exposes the underlying balance book for assertions.
func (l *HTLCLedger) Book() *escrow.Book {
	return l.book
}

// Escrow returns the record behind a reference.
func (l *HTLCLedger) Escrow(ref ledger.Ref) (*htlc.HTLC, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.escrows[ref]
	if !ok {
		return nil, ledger.ErrUnknownEscrow
	}
	return h, nil
}

func (l *HTLCLedger) Fund(ctx context.Context, params ledger.EscrowParams) (ledger.FundResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.FailFunding {
		return ledger.FundResult{}, fmt.Errorf("%w: submission rejected", ledger.ErrFundingFailed)
	}
	h, err := htlc.Fund(l.book, params.Funder, params.Counterparty, params.Hashlock, params.Amount, params.Deadline)
	if err != nil {
		return ledger.FundResult{}, fmt.Errorf("%w: %v", ledger.ErrFundingFailed, err)
	}

	ref := ledger.Ref(h.Address)
	l.escrows[ref] = h
	return ledger.FundResult{
		Ref:     ref,
		Receipt: l.receipt("fund"),
	}, nil
}

func (l *HTLCLedger) Claim(ctx context.Context, ref ledger.Ref, sec secret.Secret) (ledger.ClaimResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.escrows[ref]
	if !ok {
		return ledger.ClaimResult{}, ledger.ErrUnknownEscrow
	}
	if err := h.Claim(sec, l.clock.Now()); err != nil {
		return ledger.ClaimResult{}, err
	}

	receipt := l.receipt("claim")
	l.revealed[receipt.TxHash] = sec
	return ledger.ClaimResult{Receipt: receipt}, nil
}

func (l *HTLCLedger) CancelOrRefund(ctx context.Context, ref ledger.Ref) (ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.escrows[ref]
	if !ok {
		return ledger.Receipt{}, ledger.ErrUnknownEscrow
	}
	if err := h.Refund(l.clock.Now()); err != nil {
		return ledger.Receipt{}, err
	}
	return l.receipt("refund"), nil
}

func (l *HTLCLedger) ExtractSecret(receipt ledger.Receipt) (secret.Secret, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sec, ok := l.revealed[receipt.TxHash]
	if !ok {
		return secret.Secret{}, ledger.ErrSecretNotFound
	}
	return sec, nil
}

func (l *HTLCLedger) QueryStage(ctx context.Context, ref ledger.Ref, now time.Time) (timelock.Stage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.escrows[ref]
	if !ok {
		return timelock.StagePending, ledger.ErrUnknownEscrow
	}
	if h.Claimable(now) {
		return timelock.StageWithdraw, nil
	}
	return timelock.StageCancel, nil
}

func (l *HTLCLedger) CurrentTime(ctx context.Context) (time.Time, error) {
	return l.clock.Now(), nil
}

func (l *HTLCLedger) receipt(op string) ledger.Receipt {
	l.seq++
	return ledger.Receipt{
		TxHash:      fmt.Sprintf("htlc-%v-%v", op, l.seq),
		ConfirmedAt: l.clock.Now(),
	}
}
