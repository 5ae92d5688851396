// Package coordinator drives the end-to-end two-ledger swap protocol. Leg 1
// is the secret-revealing leg: the maker claims it and thereby publishes
// the preimage. Leg 2 is the dependent leg, claimable only with the secret
// extracted from leg 1's confirmed claim. The coordinator owns the session
// state machine and sequences all escrow operations through the ledger
// adapters; it never holds custody itself.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"go.uber.org/zap"

	"github.com/portalswap/portal/pkg/escrow"
	"github.com/portalswap/portal/pkg/ledger"
	"github.com/portalswap/portal/pkg/secret"
	"github.com/portalswap/portal/pkg/store"
	"github.com/portalswap/portal/pkg/timelock"
)

var (
	// ErrUnsafeTimelocks is returned by CreateSession for schedules under
	// which the dependent leg cannot always claim before its own refund
	// boundary.
	ErrUnsafeTimelocks = errors.New("unsafe timelock margin between legs")

	// ErrSecretMismatch means the secret extracted from the revealing
	// leg does not hash to the session's hashlock. It is protocol-fatal:
	// either extraction is corrupted or the counterparty is adversarial.
	ErrSecretMismatch = errors.New("extracted secret does not match hashlock")

	// ErrProtocolViolation flags a cross-leg terminal inconsistency (one
	// leg claimed, the other refunded). The timelock margin invariant is
	// supposed to make this unreachable.
	ErrProtocolViolation = errors.New("cross-leg terminal state inconsistency")

	// ErrSessionTerminal is returned when an operation is attempted on a
	// completed or aborted session.
	ErrSessionTerminal = errors.New("session already terminal")

	// ErrWrongPhase is returned when an operation is attempted out of
	// protocol order.
	ErrWrongPhase = errors.New("operation not valid in current phase")

	// ErrOperationInFlight means the same escrow operation was already
	// dispatched for this session, by this process or a previous one.
	ErrOperationInFlight = errors.New("operation already dispatched")
)

// LegID selects one of the session's two legs.
type LegID int

const (
	Leg1 LegID = 1
	Leg2 LegID = 2
)

// LegTerms are the agreed terms of one leg. Swap pricing and matching
// happen upstream; by the time terms reach the coordinator they are final.
type LegTerms struct {
	Funder        string
	Counterparty  string
	Amount        uint64
	SafetyDeposit uint64
}

// Terms describe a full swap to set up. Leg 1 carries the multi-stage
// schedule offsets, leg 2 a single claim deadline relative to its ledger's
// current time.
type Terms struct {
	Leg1        LegTerms
	Leg1Offsets timelock.Offsets
	Leg2        LegTerms
	Leg2Window  time.Duration
}

// Config wires the coordinator's collaborators.
type Config struct {
	Logger   *zap.Logger
	Store    store.Store
	Actions  store.ActionStore
	Leg1     ledger.Adapter
	Leg2     ledger.Adapter
	Clock    clock.Clock
	Margin   time.Duration
	PollRate time.Duration
}

// DefaultMargin is the minimum headroom between leg 1's cancel checkpoint
// and leg 2's claim deadline. There is no general formula relating the two
// ledgers' windows; the invariant is the checkpoint ordering, and the
// margin just absorbs confirmation latency on the dependent claim.
const DefaultMargin = 10 * time.Minute

const defaultPollRate = 5 * time.Second

// Coordinator sequences swap sessions across the two ledger adapters.
type Coordinator struct {
	logger   *zap.Logger
	store    store.Store
	actions  store.ActionStore
	leg1     ledger.Adapter
	leg2     ledger.Adapter
	clock    clock.Clock
	margin   time.Duration
	pollRate time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a coordinator for the given configuration.
func New(config Config) *Coordinator {
	if config.Clock == nil {
		config.Clock = clock.NewDefaultClock()
	}
	if config.Margin == 0 {
		config.Margin = DefaultMargin
	}
	if config.PollRate == 0 {
		config.PollRate = defaultPollRate
	}
	return &Coordinator{
		logger:   config.Logger,
		store:    config.Store,
		actions:  config.Actions,
		leg1:     config.Leg1,
		leg2:     config.Leg2,
		clock:    config.Clock,
		margin:   config.Margin,
		pollRate: config.PollRate,
		locks:    map[string]*sync.Mutex{},
	}
}

// CreateSession generates the secret and hashlock, fixes both legs'
// schedules against their own ledger clocks and persists the session. It
// fails fast with ErrUnsafeTimelocks when leg 1's cancel checkpoint does
// not leave the configured margin before leg 2's claim deadline.
func (c *Coordinator) CreateSession(ctx context.Context, terms Terms) (store.Session, error) {
	leg1Now, err := c.leg1.CurrentTime(ctx)
	if err != nil {
		return store.Session{}, fmt.Errorf("failed to read leg1 clock: %w", err)
	}
	leg2Now, err := c.leg2.CurrentTime(ctx)
	if err != nil {
		return store.Session{}, fmt.Errorf("failed to read leg2 clock: %w", err)
	}

	word, err := timelock.Encode(leg1Now, terms.Leg1Offsets)
	if err != nil {
		return store.Session{}, err
	}
	deadline := leg2Now.Add(terms.Leg2Window)

	// The secret is revealed on leg 1 at the latest just before its
	// cancel checkpoint, and the dependent claim on leg 2 must still be
	// possible after that.
	cancelAt := word.Decode().CancelAt()
	if cancelAt.Add(c.margin).After(deadline) {
		return store.Session{}, fmt.Errorf("%w: leg1 cancel at %v, leg2 deadline %v, margin %v",
			ErrUnsafeTimelocks, cancelAt, deadline, c.margin)
	}

	sec, err := secret.New()
	if err != nil {
		return store.Session{}, err
	}
	lock := sec.Hashlock()

	session := store.Session{
		OrderID:    uuid.NewString(),
		Secret:     sec.Hex(),
		SecretHash: lock.Hex(),
		Phase:      store.HashlockCommitted,
		Leg1: store.Leg{
			Funder:        terms.Leg1.Funder,
			Counterparty:  terms.Leg1.Counterparty,
			Amount:        terms.Leg1.Amount,
			SafetyDeposit: terms.Leg1.SafetyDeposit,
			Timelocks:     word.Hex(),
		},
		Leg2: store.Leg{
			Funder:       terms.Leg2.Funder,
			Counterparty: terms.Leg2.Counterparty,
			Amount:       terms.Leg2.Amount,
			Deadline:     deadline.Unix(),
		},
	}
	if err := c.store.PutSession(session); err != nil {
		return store.Session{}, err
	}

	c.logger.Info("created session",
		zap.String("order-id", session.OrderID),
		zap.String("hashlock", session.SecretHash),
		zap.Time("leg1-cancel-at", cancelAt),
		zap.Time("leg2-deadline", deadline))
	return session, nil
}

// FundLeg locks funds into the escrow of the given leg. Legs must fund in
// order: leg 1 first, then leg 2. The call blocks until the underlying
// submission confirms or fails; retries belong to the caller.
func (c *Coordinator) FundLeg(ctx context.Context, orderID string, legID LegID) error {
	unlock := c.lockSession(orderID)
	defer unlock()

	session, err := c.store.Session(orderID)
	if err != nil {
		return err
	}
	if session.Phase.Terminal() {
		return ErrSessionTerminal
	}

	logger := c.logger.With(zap.String("order-id", orderID), zap.Int("leg", int(legID)))

	var (
		action  store.Action
		adapter ledger.Adapter
		leg     *store.Leg
		params  ledger.EscrowParams
		next    store.Phase
	)
	switch legID {
	case Leg1:
		if session.Phase != store.HashlockCommitted {
			return fmt.Errorf("%w: leg1 funds from %v", ErrWrongPhase, store.HashlockCommitted)
		}
		word, err := timelock.FromHex(session.Leg1.Timelocks)
		if err != nil {
			return err
		}
		lock, err := secret.HashlockFromHex(session.SecretHash)
		if err != nil {
			return err
		}
		action, adapter, leg, next = store.ActionFundLeg1, c.leg1, &session.Leg1, store.Leg1Funded
		params = ledger.EscrowParams{
			Funder:        session.Leg1.Funder,
			Counterparty:  session.Leg1.Counterparty,
			Hashlock:      lock,
			Amount:        session.Leg1.Amount,
			SafetyDeposit: session.Leg1.SafetyDeposit,
			Timelocks:     word,
		}
	case Leg2:
		if session.Phase != store.Leg1Funded {
			return fmt.Errorf("%w: leg2 funds from %v", ErrWrongPhase, store.Leg1Funded)
		}
		lock, err := secret.HashlockFromHex(session.SecretHash)
		if err != nil {
			return err
		}
		action, adapter, leg, next = store.ActionFundLeg2, c.leg2, &session.Leg2, store.Leg2Funded
		params = ledger.EscrowParams{
			Funder:       session.Leg2.Funder,
			Counterparty: session.Leg2.Counterparty,
			Hashlock:     lock,
			Amount:       session.Leg2.Amount,
			Deadline:     time.Unix(session.Leg2.Deadline, 0).UTC(),
		}
	default:
		return fmt.Errorf("unknown leg %v", legID)
	}

	if err := c.checkDispatched(action, orderID); err != nil {
		return err
	}

	result, err := adapter.Fund(ctx, params)
	if err != nil {
		logger.Error("failed to fund leg", zap.Error(err))
		if dbErr := c.store.PutError(orderID, err); dbErr != nil {
			logger.Error("failed to store funding error", zap.Error(dbErr))
		}
		return err
	}
	if err := c.actions.StoreAction(action, orderID); err != nil {
		return err
	}

	leg.EscrowRef = string(result.Ref)
	leg.FundTx = result.Receipt.TxHash
	leg.Outcome = store.LegFunded
	session.Phase = next
	if err := c.store.UpdateSession(session); err != nil {
		return err
	}

	logger.Info("funded leg",
		zap.String("escrow", leg.EscrowRef),
		zap.String("tx", leg.FundTx))
	return nil
}

// RevealAndClaim claims leg 1 with the session secret, deliberately making
// it public, then extracts the confirmed secret back out of the ledger and
// verifies it. The reveal is a one-way transition: the stored secret is
// scrubbed and only the extracted, now-public value is returned.
func (c *Coordinator) RevealAndClaim(ctx context.Context, orderID string) (secret.Secret, error) {
	unlock := c.lockSession(orderID)
	defer unlock()

	session, err := c.store.Session(orderID)
	if err != nil {
		return secret.Secret{}, err
	}
	if session.Phase.Terminal() {
		return secret.Secret{}, ErrSessionTerminal
	}
	if session.Phase != store.Leg2Funded {
		return secret.Secret{}, fmt.Errorf("%w: reveal requires %v", ErrWrongPhase, store.Leg2Funded)
	}

	logger := c.logger.With(zap.String("order-id", orderID))

	sec, err := secret.FromHex(session.Secret)
	if err != nil {
		return secret.Secret{}, err
	}
	lock, err := secret.HashlockFromHex(session.SecretHash)
	if err != nil {
		return secret.Secret{}, err
	}
	// Fail fast locally instead of wasting an on-ledger claim.
	if !secret.Verify(sec, lock) {
		return secret.Secret{}, escrow.ErrInvalidSecret
	}

	if err := c.checkDispatched(store.ActionClaimLeg1, orderID); err != nil {
		return secret.Secret{}, err
	}

	result, err := c.leg1.Claim(ctx, ledger.Ref(session.Leg1.EscrowRef), sec)
	if err != nil {
		logger.Error("failed to claim revealing leg", zap.Error(err))
		if dbErr := c.store.PutError(orderID, err); dbErr != nil {
			logger.Error("failed to store claim error", zap.Error(dbErr))
		}
		return secret.Secret{}, err
	}
	if err := c.actions.StoreAction(store.ActionClaimLeg1, orderID); err != nil {
		return secret.Secret{}, err
	}

	// From here the preimage is public input on leg 1 whatever else
	// happens, so record the reveal before anything can fail.
	session.Revealed = true
	session.Secret = ""
	session.Leg1.ClaimTx = result.Receipt.TxHash
	session.Leg1.Outcome = store.LegClaimed
	session.Phase = store.SecretRevealed
	if err := c.store.UpdateSession(session); err != nil {
		return secret.Secret{}, err
	}

	extracted, err := c.leg1.ExtractSecret(result.Receipt)
	if err != nil {
		logger.Error("failed to extract revealed secret", zap.Error(err))
		return secret.Secret{}, err
	}
	if !secret.Verify(extracted, lock) {
		logger.Error("extracted secret does not match hashlock",
			zap.String("hashlock", session.SecretHash))
		return secret.Secret{}, ErrSecretMismatch
	}

	session.Phase = store.Leg1Claimed
	if err := c.store.UpdateSession(session); err != nil {
		return secret.Secret{}, err
	}

	logger.Info("revealed secret and claimed leg1",
		zap.String("tx", result.Receipt.TxHash))
	return extracted, nil
}

// ClaimDependentLeg claims leg 2 with the secret extracted from leg 1. The
// secret is re-verified against the hashlock locally before submission; a
// mismatch is protocol-fatal and must go down the abort path.
func (c *Coordinator) ClaimDependentLeg(ctx context.Context, orderID string, extracted secret.Secret) error {
	unlock := c.lockSession(orderID)
	defer unlock()

	session, err := c.store.Session(orderID)
	if err != nil {
		return err
	}
	if session.Phase.Terminal() {
		return ErrSessionTerminal
	}
	if session.Phase != store.Leg1Claimed {
		return fmt.Errorf("%w: dependent claim requires %v", ErrWrongPhase, store.Leg1Claimed)
	}

	logger := c.logger.With(zap.String("order-id", orderID))

	lock, err := secret.HashlockFromHex(session.SecretHash)
	if err != nil {
		return err
	}
	// Defense against a corrupted or malicious extraction.
	if !secret.Verify(extracted, lock) {
		logger.Error("refusing dependent claim with mismatched secret",
			zap.String("hashlock", session.SecretHash))
		if dbErr := c.store.PutError(orderID, ErrSecretMismatch); dbErr != nil {
			logger.Error("failed to store error", zap.Error(dbErr))
		}
		return ErrSecretMismatch
	}

	if err := c.checkDispatched(store.ActionClaimLeg2, orderID); err != nil {
		return err
	}

	result, err := c.leg2.Claim(ctx, ledger.Ref(session.Leg2.EscrowRef), extracted)
	if err != nil {
		logger.Error("failed to claim dependent leg", zap.Error(err))
		if dbErr := c.store.PutError(orderID, err); dbErr != nil {
			logger.Error("failed to store claim error", zap.Error(dbErr))
		}
		return err
	}
	if err := c.actions.StoreAction(store.ActionClaimLeg2, orderID); err != nil {
		return err
	}

	session.Leg2.ClaimTx = result.Receipt.TxHash
	session.Leg2.Outcome = store.LegClaimed
	session.Phase = store.Completed
	if err := c.store.UpdateSession(session); err != nil {
		return err
	}

	logger.Info("claimed dependent leg, session completed",
		zap.String("tx", result.Receipt.TxHash))
	return nil
}

// AbortSession drives the refund path: for every funded, non-terminal leg
// it waits for the leg's cancel boundary and triggers cancel/refund. It is
// idempotent; aborting a completed or already aborted session is a no-op.
// The returned report says which legs were recovered and whether the
// secret had already been made public, since a revealed secret must never
// be reused by a retry.
func (c *Coordinator) AbortSession(ctx context.Context, orderID string) (AbortReport, error) {
	unlock := c.lockSession(orderID)
	defer unlock()

	session, err := c.store.Session(orderID)
	if err != nil {
		return AbortReport{}, err
	}

	logger := c.logger.With(zap.String("order-id", orderID))
	report := AbortReport{
		OrderID:        orderID,
		SecretRevealed: session.Revealed,
	}

	if session.Phase.Terminal() {
		report.Leg1Outcome = session.Leg1.Outcome
		report.Leg2Outcome = session.Leg2.Outcome
		return report, nil
	}

	if err := c.recoverLeg(ctx, logger, c.leg1, &session.Leg1, store.ActionCancelLeg1, store.LegCancelled); err != nil {
		return report, err
	}
	if err := c.recoverLeg(ctx, logger, c.leg2, &session.Leg2, store.ActionCancelLeg2, store.LegRefunded); err != nil {
		return report, err
	}

	session.Phase = store.Aborted
	if err := c.store.UpdateSession(session); err != nil {
		return report, err
	}

	report.Leg1Outcome = session.Leg1.Outcome
	report.Leg2Outcome = session.Leg2.Outcome

	if violated := crossLegViolation(session); violated {
		logger.Error("cross-leg terminal inconsistency: one leg claimed, the other recovered",
			zap.String("leg1", session.Leg1.Outcome.String()),
			zap.String("leg2", session.Leg2.Outcome.String()))
		return report, ErrProtocolViolation
	}

	logger.Info("aborted session",
		zap.String("leg1", session.Leg1.Outcome.String()),
		zap.String("leg2", session.Leg2.Outcome.String()),
		zap.Bool("secret-revealed", report.SecretRevealed))
	return report, nil
}

// AbortReport is the user-visible outcome of an abort.
type AbortReport struct {
	OrderID        string
	Leg1Outcome    store.LegOutcome
	Leg2Outcome    store.LegOutcome
	SecretRevealed bool
}

// Execute drives a session through the whole happy path, falling back to
// the abort path on any failure along the way.
func (c *Coordinator) Execute(ctx context.Context, orderID string) error {
	logger := c.logger.With(zap.String("order-id", orderID))

	run := func() error {
		if err := c.FundLeg(ctx, orderID, Leg1); err != nil {
			return err
		}
		if err := c.FundLeg(ctx, orderID, Leg2); err != nil {
			return err
		}

		session, err := c.store.Session(orderID)
		if err != nil {
			return err
		}
		// Suspend until the withdraw window opens. Stages only advance,
		// so the wait also returns once the cancel stage is reached; in
		// that case the claim below is rejected and the abort path takes
		// over instead of an early forced abort.
		if err := c.waitForStage(ctx, c.leg1, ledger.Ref(session.Leg1.EscrowRef), timelock.StageWithdraw); err != nil {
			return err
		}

		extracted, err := c.RevealAndClaim(ctx, orderID)
		if err != nil {
			return err
		}
		return c.ClaimDependentLeg(ctx, orderID, extracted)
	}

	if err := run(); err != nil {
		logger.Error("session failed, entering abort path", zap.Error(err))
		if _, abortErr := c.AbortSession(ctx, orderID); abortErr != nil {
			return fmt.Errorf("abort after %v: %w", err, abortErr)
		}
		return err
	}
	return nil
}

// Session returns the persisted session record.
func (c *Coordinator) Session(orderID string) (store.Session, error) {
	return c.store.Session(orderID)
}

// recoverLeg waits for the leg's cancel boundary and triggers the ledger's
// recovery path. A leg that was never funded is only marked as such; a leg
// already terminal is left alone.
func (c *Coordinator) recoverLeg(ctx context.Context, logger *zap.Logger, adapter ledger.Adapter, leg *store.Leg, action store.Action, outcome store.LegOutcome) error {
	switch leg.Outcome {
	case store.LegPending:
		leg.Outcome = store.LegNeverFunded
		return nil
	case store.LegFunded:
	default:
		// Already terminal on this leg, nothing to recover.
		return nil
	}

	if err := c.waitForStage(ctx, adapter, ledger.Ref(leg.EscrowRef), timelock.StageCancel); err != nil {
		return err
	}

	if err := c.checkDispatched(action, leg.EscrowRef); err != nil {
		return err
	}

	receipt, err := adapter.CancelOrRefund(ctx, ledger.Ref(leg.EscrowRef))
	if err != nil {
		// The counterparty may have claimed first; the escrow being
		// terminal already is not a recovery failure.
		if errors.Is(err, escrow.ErrAlreadyTerminal) {
			logger.Info("leg already terminal during abort", zap.String("escrow", leg.EscrowRef))
			return nil
		}
		logger.Error("failed to recover leg", zap.Error(err), zap.String("escrow", leg.EscrowRef))
		return err
	}

	if err := c.actions.StoreAction(action, leg.EscrowRef); err != nil {
		return err
	}

	leg.CancelTx = receipt.TxHash
	leg.Outcome = outcome
	return nil
}

// waitForStage polls the leg's stage against the ledger's own clock until
// the target stage is reached. It is a suspension point: an operator abort
// or deadline cancels it through the context without corrupting state.
func (c *Coordinator) waitForStage(ctx context.Context, adapter ledger.Adapter, ref ledger.Ref, target timelock.Stage) error {
	for {
		now, err := adapter.CurrentTime(ctx)
		if err != nil {
			return err
		}
		stage, err := adapter.QueryStage(ctx, ref, now)
		if err != nil {
			return err
		}
		if stage >= target {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.TickAfter(c.pollRate):
		}
	}
}

// checkDispatched refuses to repeat an escrow operation that has already
// been dispatched, by this process or a previous one. Operations are only
// recorded after confirmed submission, so a rejected attempt stays
// retryable.
func (c *Coordinator) checkDispatched(action store.Action, key string) error {
	dispatched, err := c.actions.CheckAction(action, key)
	if err != nil {
		return err
	}
	if dispatched {
		return fmt.Errorf("%w: %v on %v", ErrOperationInFlight, action, key)
	}
	return nil
}

// lockSession serializes all coordinating flows per session id.
func (c *Coordinator) lockSession(orderID string) func() {
	c.mu.Lock()
	lock, ok := c.locks[orderID]
	if !ok {
		lock = new(sync.Mutex)
		c.locks[orderID] = lock
	}
	c.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func crossLegViolation(session store.Session) bool {
	leg1Claimed := session.Leg1.Outcome == store.LegClaimed
	leg2Claimed := session.Leg2.Outcome == store.LegClaimed
	leg1Recovered := session.Leg1.Outcome == store.LegCancelled || session.Leg1.Outcome == store.LegRefunded
	leg2Recovered := session.Leg2.Outcome == store.LegCancelled || session.Leg2.Outcome == store.LegRefunded
	return (leg1Claimed && leg2Recovered) || (leg2Claimed && leg1Recovered)
}

// Retryable reports whether an error is a "rejected, try later" ledger
// state error rather than one that will never become valid.
func Retryable(err error) bool {
	return errors.Is(err, escrow.ErrWrongStage) ||
		errors.Is(err, escrow.ErrTimelockNotExpired) ||
		errors.Is(err, ledger.ErrFundingFailed)
}

// Fatal reports whether an error must never be retried and forces the
// abort path.
func Fatal(err error) bool {
	return errors.Is(err, ErrSecretMismatch) || errors.Is(err, ErrProtocolViolation)
}
