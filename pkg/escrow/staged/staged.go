// Package staged models the EVM-style escrow contract: one funding
// transition into custody, then an ordered sequence of time-gated
// permissions (private withdraw, public withdraw, cancel) ending in exactly
// one terminal transition.
package staged

import (
	"fmt"
	"sync"
	"time"

	"github.com/portalswap/portal/pkg/escrow"
	"github.com/portalswap/portal/pkg/secret"
	"github.com/portalswap/portal/pkg/timelock"
)

// State is the lifecycle state of the escrow record. The stage within
// Funded is derived from the timelock word and the reference clock.
type State int

const (
	Funded State = iota
	Claimed
	Cancelled
)

func (state State) String() string {
	switch state {
	case Funded:
		return "funded"
	case Claimed:
		return "claimed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", int(state))
	}
}

// Escrow is one funded swap leg. It is created by Fund and mutated only by
// Claim and Cancel, at most one of which ever succeeds.
type Escrow struct {
	Address       string
	Funder        string
	Counterparty  string
	Hashlock      secret.Hashlock
	Amount        uint64
	SafetyDeposit uint64
	Timelocks     timelock.Word

	mu    sync.Mutex
	book  *escrow.Book
	state State
}

// Fund creates the escrow record, locking amount plus safety deposit from
// the funder. This is the sole entry transition into Funded.
func Fund(book *escrow.Book, funder, counterparty string, lock secret.Hashlock, amount, safetyDeposit uint64, word timelock.Word) (*Escrow, error) {
	address := fmt.Sprintf("staged-escrow-%v", lock.Hex()[:16])
	if err := book.Transfer(funder, address, amount+safetyDeposit); err != nil {
		return nil, err
	}
	return &Escrow{
		Address:       address,
		Funder:        funder,
		Counterparty:  counterparty,
		Hashlock:      lock,
		Amount:        amount,
		SafetyDeposit: safetyDeposit,
		Timelocks:     word,

		book:  book,
		state: Funded,
	}, nil
}

// State returns the lifecycle state.
func (esc *Escrow) State() State {
	esc.mu.Lock()
	defer esc.mu.Unlock()
	return esc.state
}

// Stage evaluates the active timelock stage at the given reference time.
func (esc *Escrow) Stage(now time.Time) timelock.Stage {
	return esc.Timelocks.ActiveStage(now)
}

// Claim releases the principal to the counterparty and the safety deposit
// to the caller. During the private withdraw window only the counterparty
// may call; during the public window anyone may, which is what keeps a
// stuck swap moving once the counterparty disappears.
func (esc *Escrow) Claim(caller string, sec secret.Secret, now time.Time) error {
	esc.mu.Lock()
	defer esc.mu.Unlock()

	if esc.state != Funded {
		return escrow.ErrAlreadyTerminal
	}
	switch esc.Timelocks.ActiveStage(now) {
	case timelock.StageWithdraw:
		if caller != esc.Counterparty {
			return fmt.Errorf("%w: only %v may claim before public withdraw", escrow.ErrWrongStage, esc.Counterparty)
		}
	case timelock.StagePublicWithdraw:
	default:
		return fmt.Errorf("%w: claim is only valid in a withdraw window", escrow.ErrWrongStage)
	}
	if !secret.Verify(sec, esc.Hashlock) {
		return escrow.ErrInvalidSecret
	}

	if err := esc.book.Transfer(esc.Address, esc.Counterparty, esc.Amount); err != nil {
		return err
	}
	if err := esc.book.Transfer(esc.Address, caller, esc.SafetyDeposit); err != nil {
		return err
	}
	esc.state = Claimed
	return nil
}

// Cancel returns the principal to the funder and pays the safety deposit to
// the caller as the cleanup incentive. Valid only once the cancel stage has
// been reached, strictly after both withdraw windows.
func (esc *Escrow) Cancel(caller string, now time.Time) error {
	esc.mu.Lock()
	defer esc.mu.Unlock()

	if esc.state != Funded {
		return escrow.ErrAlreadyTerminal
	}
	if esc.Timelocks.ActiveStage(now) != timelock.StageCancel {
		return fmt.Errorf("%w: cancel is only valid after the cancel checkpoint", escrow.ErrWrongStage)
	}

	if err := esc.book.Transfer(esc.Address, esc.Funder, esc.Amount); err != nil {
		return err
	}
	if err := esc.book.Transfer(esc.Address, caller, esc.SafetyDeposit); err != nil {
		return err
	}
	esc.state = Cancelled
	return nil
}
