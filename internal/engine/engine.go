// Package engine implements the lock/claim/reclaim state machine over the
// envelope store and the ledger. Every operation runs under a single mutex,
// so each executes to completion with exclusive access to store and
// balances before the next begins.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"envelope.lock/internal/hashlock"
	"envelope.lock/internal/ledger"
	"envelope.lock/internal/models"
	"envelope.lock/internal/store"
)

var (
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrInvalidTiming   = errors.New("invalid time window")
	ErrInvalidHashLock = errors.New("secret hash must be exactly 32 bytes")

	ErrAlreadyFinalized = errors.New("envelope already finalized")
	ErrUnauthorized     = errors.New("caller not authorized")
	ErrNotYetUnlocked   = errors.New("envelope not yet unlocked")
	ErrExpired          = errors.New("claim window closed")
	ErrInvalidSecret    = errors.New("secret does not match hash lock")
	ErrNotYetExpired    = errors.New("envelope not yet expired")
)

// FeeMode selects how the protocol fee is charged on creation.
type FeeMode string

const (
	// FeeModeNone charges no fee.
	FeeModeNone FeeMode = "none"
	// FeeModeSeparate debits the fee from the owner on top of the locked
	// amount; the fee accrues to the ledger fee account.
	FeeModeSeparate FeeMode = "separate"
)

type FeePolicy struct {
	Mode FeeMode
	Fee  uint64
}

// Clock supplies the engine's notion of now. Operations never trust a
// client-supplied timestamp.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Engine struct {
	store  store.Store
	ledger *ledger.Ledger
	policy FeePolicy
	clock  Clock

	// Guards every mutation: the protocol requires at most one in-flight
	// operation against store and balances at a time.
	ops sync.Mutex
}

func New(st store.Store, lg *ledger.Ledger, policy FeePolicy) *Engine {
	return NewWithClock(st, lg, policy, systemClock{})
}

func NewWithClock(st store.Store, lg *ledger.Ledger, policy FeePolicy, clock Clock) *Engine {
	if policy.Mode == "" {
		policy.Mode = FeeModeNone
	}
	return &Engine{
		store:  st,
		ledger: lg,
		policy: policy,
		clock:  clock,
	}
}

// CreateRequest carries the validated-by-the-engine inputs of envelope
// creation. Owner is the authenticated caller identity.
type CreateRequest struct {
	Owner       string
	Beneficiary string
	Amount      uint64
	SecretHash  []byte
	UnlockTime  time.Time
	ExpiryTime  time.Time
}

// CreateEnvelope validates the request, debits the amount (plus any
// separate fee) from the owner into custody and inserts a Locked envelope,
// as one unit: an insert failure unwinds the debit. Returns the new id.
func (e *Engine) CreateEnvelope(ctx context.Context, req CreateRequest) (uint64, error) {
	e.ops.Lock()
	defer e.ops.Unlock()

	if req.Amount == 0 {
		return 0, ErrInvalidAmount
	}
	if len(req.SecretHash) != hashlock.DigestSize {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidHashLock, len(req.SecretHash))
	}

	now := e.clock.Now()
	if !req.UnlockTime.After(now) {
		return 0, fmt.Errorf("%w: unlock time must be in the future", ErrInvalidTiming)
	}
	if !req.ExpiryTime.After(req.UnlockTime) {
		return 0, fmt.Errorf("%w: expiry must be after unlock", ErrInvalidTiming)
	}

	fee := uint64(0)
	if e.policy.Mode == FeeModeSeparate {
		fee = e.policy.Fee
	}

	total := req.Amount + fee
	if total < req.Amount || e.ledger.Balance(req.Owner) < total {
		return 0, fmt.Errorf("%w: account %s needs %d", ledger.ErrInsufficientFunds, req.Owner, total)
	}
	if err := e.ledger.Transfer(req.Owner, ledger.CustodyAccount, req.Amount); err != nil {
		return 0, err
	}
	if fee > 0 {
		if err := e.ledger.Transfer(req.Owner, ledger.FeeAccount, fee); err != nil {
			e.ledger.Transfer(ledger.CustodyAccount, req.Owner, req.Amount)
			return 0, err
		}
	}

	env := &models.Envelope{
		Owner:       req.Owner,
		Beneficiary: req.Beneficiary,
		Amount:      req.Amount,
		SecretHash:  append([]byte(nil), req.SecretHash...),
		UnlockTime:  req.UnlockTime,
		ExpiryTime:  req.ExpiryTime,
		Status:      models.StatusLocked,
		CreatedAt:   now,
	}

	id, err := e.store.Insert(ctx, env)
	if err != nil {
		// Unwind the custody debit so a failed create leaves no trace.
		e.ledger.Transfer(ledger.CustodyAccount, req.Owner, req.Amount)
		if fee > 0 {
			e.ledger.Transfer(ledger.FeeAccount, req.Owner, fee)
		}
		return 0, err
	}
	return id, nil
}

// Claim releases a locked envelope to its beneficiary in exchange for the
// secret. Checks run in a fixed order: existence, status, authorization,
// timing, secret. A replayed claim fails with ErrAlreadyFinalized and never
// pays twice.
func (e *Engine) Claim(ctx context.Context, id uint64, secret []byte, claimant string) error {
	e.ops.Lock()
	defer e.ops.Unlock()

	env, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if env.Status != models.StatusLocked {
		return fmt.Errorf("%w: status %s", ErrAlreadyFinalized, env.Status)
	}
	if claimant != env.Beneficiary {
		return fmt.Errorf("%w: only the beneficiary may claim", ErrUnauthorized)
	}

	now := e.clock.Now()
	if now.Before(env.UnlockTime) {
		return ErrNotYetUnlocked
	}
	if !now.Before(env.ExpiryTime) {
		return ErrExpired
	}

	if !hashlock.Verify(secret, env.SecretHash) {
		return ErrInvalidSecret
	}

	if err := e.ledger.Transfer(ledger.CustodyAccount, env.Beneficiary, env.Amount); err != nil {
		return err
	}
	if err := e.store.UpdateStatus(ctx, id, models.StatusClaimed); err != nil {
		e.ledger.Transfer(env.Beneficiary, ledger.CustodyAccount, env.Amount)
		return err
	}
	return nil
}

// Reclaim returns an expired, unclaimed envelope's funds to its owner.
func (e *Engine) Reclaim(ctx context.Context, id uint64, caller string) error {
	e.ops.Lock()
	defer e.ops.Unlock()

	env, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if env.Status != models.StatusLocked {
		return fmt.Errorf("%w: status %s", ErrAlreadyFinalized, env.Status)
	}
	if caller != env.Owner {
		return fmt.Errorf("%w: only the owner may reclaim", ErrUnauthorized)
	}

	if e.clock.Now().Before(env.ExpiryTime) {
		return ErrNotYetExpired
	}

	if err := e.ledger.Transfer(ledger.CustodyAccount, env.Owner, env.Amount); err != nil {
		return err
	}
	if err := e.store.UpdateStatus(ctx, id, models.StatusReclaimed); err != nil {
		e.ledger.Transfer(env.Owner, ledger.CustodyAccount, env.Amount)
		return err
	}
	return nil
}

// Reads take the same mutex as mutations: a reader must never observe the
// intermediate state inside an operation, such as funds already released
// while the envelope still reads Locked.

// GetEnvelope returns a read-only snapshot, or store.ErrNotFound.
func (e *Engine) GetEnvelope(ctx context.Context, id uint64) (*models.Envelope, error) {
	e.ops.Lock()
	defer e.ops.Unlock()

	return e.store.Get(ctx, id)
}

// NextID reports the id the next creation will be assigned, which equals
// the total number of envelopes ever created.
func (e *Engine) NextID(ctx context.Context) (uint64, error) {
	e.ops.Lock()
	defer e.ops.Unlock()

	return e.store.NextID(ctx)
}

// ListEnvelopes returns snapshots matching the filter, in id order.
func (e *Engine) ListEnvelopes(ctx context.Context, f store.Filter) ([]*models.Envelope, error) {
	e.ops.Lock()
	defer e.ops.Unlock()

	return e.store.List(ctx, f)
}

// Balance reports an account's spendable ledger balance.
func (e *Engine) Balance(account string) uint64 {
	e.ops.Lock()
	defer e.ops.Unlock()

	return e.ledger.Balance(account)
}
