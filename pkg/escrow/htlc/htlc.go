// Package htlc models the simpler single-stage ledger escrow: a claim
// window strictly before a single deadline, then a refund window at or
// after it. No safety deposit is required on this variant.
package htlc

import (
	"fmt"
	"sync"
	"time"

	"github.com/portalswap/portal/pkg/escrow"
	"github.com/portalswap/portal/pkg/secret"
)

// State is the lifecycle state of the HTLC record.
type State int

const (
	Funded State = iota
	Claimed
	Refunded
)

func (state State) String() string {
	switch state {
	case Funded:
		return "funded"
	case Claimed:
		return "claimed"
	case Refunded:
		return "refunded"
	default:
		return fmt.Sprintf("unknown(%d)", int(state))
	}
}

// HTLC is one funded swap leg on the single-stage ledger.
type HTLC struct {
	Address  string
	Funder   string
	Claimant string
	Hashlock secret.Hashlock
	Amount   uint64
	Deadline time.Time

	mu    sync.Mutex
	book  *escrow.Book
	state State
}

// Fund creates the record, locking the principal from the funder.
func Fund(book *escrow.Book, funder, claimant string, lock secret.Hashlock, amount uint64, deadline time.Time) (*HTLC, error) {
	address := fmt.Sprintf("htlc-%v", lock.Hex()[:16])
	if err := book.Transfer(funder, address, amount); err != nil {
		return nil, err
	}
	return &HTLC{
		Address:  address,
		Funder:   funder,
		Claimant: claimant,
		Hashlock: lock,
		Amount:   amount,
		Deadline: deadline,

		book:  book,
		state: Funded,
	}, nil
}

// State returns the lifecycle state.
func (h *HTLC) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Claimable reports whether the claim window is still open at now.
func (h *HTLC) Claimable(now time.Time) bool {
	return now.Before(h.Deadline)
}

// Claim releases the principal to the claimant. Valid strictly before the
// deadline.
func (h *HTLC) Claim(sec secret.Secret, now time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != Funded {
		return escrow.ErrAlreadyTerminal
	}
	if !now.Before(h.Deadline) {
		return escrow.ErrTimelockExpired
	}
	if !secret.Verify(sec, h.Hashlock) {
		return escrow.ErrInvalidSecret
	}

	if err := h.book.Transfer(h.Address, h.Claimant, h.Amount); err != nil {
		return err
	}
	h.state = Claimed
	return nil
}

// Refund returns the principal to the funder. Valid at or after the
// deadline.
func (h *HTLC) Refund(now time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != Funded {
		return escrow.ErrAlreadyTerminal
	}
	if now.Before(h.Deadline) {
		return escrow.ErrTimelockNotExpired
	}

	if err := h.book.Transfer(h.Address, h.Funder, h.Amount); err != nil {
		return err
	}
	h.state = Refunded
	return nil
}
