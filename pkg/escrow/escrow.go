// Package escrow holds the pieces shared by the two escrow state machine
// variants: the balance book funds are locked against and the error
// taxonomy returned when an operation is attempted out of its window.
package escrow

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInsufficientFunds is returned when the funder cannot cover the
	// principal plus the safety deposit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidSecret is returned when the claim preimage does not hash
	// to the committed hashlock. No funds move.
	ErrInvalidSecret = errors.New("invalid secret")

	// ErrWrongStage is returned when an operation is attempted outside
	// its time window. It is recoverable by waiting.
	ErrWrongStage = errors.New("wrong stage")

	// ErrAlreadyTerminal is returned once the escrow has been claimed or
	// cancelled. The terminal transition happens at most once.
	ErrAlreadyTerminal = errors.New("escrow already terminal")

	// ErrTimelockExpired is returned by a single-stage claim at or after
	// the deadline.
	ErrTimelockExpired = errors.New("timelock expired")

	// ErrTimelockNotExpired is returned by a refund before the deadline.
	ErrTimelockNotExpired = errors.New("timelock not yet expired")
)

// Book is a minimal account balance ledger. Escrow state machines debit the
// funder when funds lock and credit the beneficiaries on the terminal
// transition, so tests observe real fund movements.
type Book struct {
	mu       sync.Mutex
	balances map[string]uint64
}

// NewBook returns an empty balance book.
func NewBook() *Book {
	return &Book{balances: map[string]uint64{}}
}

// Deposit credits the account.
func (book *Book) Deposit(account string, amount uint64) {
	book.mu.Lock()
	defer book.mu.Unlock()
	book.balances[account] += amount
}

// Balance returns the account's spendable balance.
func (book *Book) Balance(account string) uint64 {
	book.mu.Lock()
	defer book.mu.Unlock()
	return book.balances[account]
}

// Transfer moves amount from one account to another. It fails with
// ErrInsufficientFunds without any partial movement.
func (book *Book) Transfer(from, to string, amount uint64) error {
	book.mu.Lock()
	defer book.mu.Unlock()
	if book.balances[from] < amount {
		return fmt.Errorf("%w: %v has %v, needs %v", ErrInsufficientFunds, from, book.balances[from], amount)
	}
	book.balances[from] -= amount
	book.balances[to] += amount
	return nil
}
