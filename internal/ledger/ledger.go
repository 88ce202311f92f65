package ledger

import (
	"errors"
	"fmt"
	"sync"
)

var ErrInsufficientFunds = errors.New("insufficient spendable balance")

// Internal accounts. Funds held under CustodyAccount belong to the protocol
// between lock and the terminal transition and are not spendable by any
// party. Fees charged separately accrue to FeeAccount.
const (
	CustodyAccount = "@custody"
	FeeAccount     = "@fees"
)

// Ledger tracks spendable balances per account identity in smallest token
// units. All mutations go through Transfer so that no move can create or
// destroy value.
type Ledger struct {
	mu       sync.RWMutex
	balances map[string]uint64
}

func New() *Ledger {
	return &Ledger{balances: make(map[string]uint64)}
}

// Seed credits a set of initial balances, typically from configuration.
func (l *Ledger) Seed(accounts map[string]uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for account, amount := range accounts {
		l.balances[account] += amount
	}
}

func (l *Ledger) Balance(account string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.balances[account]
}

// Credit adds amount to an account. Used for seeding and tests; protocol
// moves use Transfer.
func (l *Ledger) Credit(account string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[account] += amount
}

// Transfer moves amount from one account to another. It fails with
// ErrInsufficientFunds without touching either balance if the source cannot
// cover the amount.
func (l *Ledger) Transfer(from, to string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[from] < amount {
		return fmt.Errorf("%w: account %s has %d, needs %d", ErrInsufficientFunds, from, l.balances[from], amount)
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}
