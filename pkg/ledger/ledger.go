// Package ledger defines the adapter contract every underlying ledger must
// implement so the coordinator stays ledger-agnostic. Submission plumbing,
// fee handling and key custody live behind these interfaces; the
// coordinator only sequences calls and records outcomes.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/portalswap/portal/pkg/secret"
	"github.com/portalswap/portal/pkg/timelock"
)

var (
	// ErrFundingFailed wraps an underlying submission failure while
	// funding an escrow. Retry policy belongs to the orchestration layer.
	ErrFundingFailed = errors.New("funding failed")

	// ErrSecretNotFound is returned by ExtractSecret when the receipt
	// does not carry a revealed preimage.
	ErrSecretNotFound = errors.New("secret not found in receipt")

	// ErrUnknownEscrow is returned for a reference the ledger has no
	// record of.
	ErrUnknownEscrow = errors.New("unknown escrow reference")
)

// Ref identifies an escrow on its ledger: a contract escrow id, a deposit
// address, or whatever the ledger natively uses.
type Ref string

// Receipt is the confirmation of a submitted ledger transaction.
type Receipt struct {
	TxHash      string
	ConfirmedAt time.Time
}

// FundResult is returned once an escrow is funded and confirmed.
type FundResult struct {
	Ref     Ref
	Receipt Receipt
}

// ClaimResult is returned once a claim is confirmed. The receipt carries
// the revealed secret location for ExtractSecret.
type ClaimResult struct {
	Receipt Receipt
}

// EscrowParams describe the escrow to create. Multi-stage ledgers read
// Timelocks and SafetyDeposit; single-stage ledgers read Deadline and
// ignore the safety deposit.
type EscrowParams struct {
	Funder        string
	Counterparty  string
	Hashlock      secret.Hashlock
	Amount        uint64
	SafetyDeposit uint64
	Timelocks     timelock.Word
	Deadline      time.Time
}

// Adapter is the per-ledger contract consumed by the coordinator. Every
// call is a blocking, possibly slow, possibly failing remote operation and
// must honour context cancellation.
//
// Single-stage ledgers map their one deadline onto the stage model:
// StageWithdraw while the claim window is open, StageCancel once the
// deadline has passed.
type Adapter interface {
	// Fund locks funds into a new escrow and waits for confirmation.
	Fund(ctx context.Context, params EscrowParams) (FundResult, error)

	// Claim spends the escrow with the secret, revealing it on-ledger.
	Claim(ctx context.Context, ref Ref, sec secret.Secret) (ClaimResult, error)

	// CancelOrRefund triggers the ledger's recovery path for the escrow.
	CancelOrRefund(ctx context.Context, ref Ref) (Receipt, error)

	// ExtractSecret recovers the revealed preimage from a confirmed
	// claim receipt.
	ExtractSecret(receipt Receipt) (secret.Secret, error)

	// QueryStage evaluates the escrow's active stage at the reference
	// time.
	QueryStage(ctx context.Context, ref Ref, now time.Time) (timelock.Stage, error)

	// CurrentTime returns the ledger's notion of now. The coordinator
	// never assumes a shared clock between ledgers.
	CurrentTime(ctx context.Context) (time.Time, error)
}
