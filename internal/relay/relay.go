// Package relay accepts signed operation requests and executes them against
// the engine one at a time, the way a network submission service would:
// Submit returns a handle immediately, Poll reports
// pending/success/failure, and an accepted request always reaches a
// terminal outcome. Callers can stop waiting but never revoke a submission.
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"envelope.lock/internal/engine"
)

var (
	ErrUnknownHandle = errors.New("unknown submission handle")
	ErrBusy          = errors.New("submission queue full")
	ErrClosed        = errors.New("relay closed")
)

type Outcome string

const (
	OutcomePending Outcome = "PENDING"
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

type Kind string

const (
	KindCreate  Kind = "create_envelope"
	KindClaim   Kind = "claim"
	KindReclaim Kind = "reclaim"
)

// Request is an authenticated operation submission. Caller is the identity
// established by the key custodian that signed the request; verifying that
// signature is the custodian's concern, not the relay's.
type Request struct {
	Kind   Kind
	Caller string

	// Create fields
	Beneficiary string
	Amount      uint64
	SecretHash  []byte
	UnlockTime  time.Time
	ExpiryTime  time.Time

	// Claim/Reclaim fields
	EnvelopeID uint64
	Secret     []byte
}

// Result is the polled state of a submission. EnvelopeID is set on a
// successful create.
type Result struct {
	Handle     string  `json:"handle"`
	Outcome    Outcome `json:"outcome"`
	EnvelopeID *uint64 `json:"envelope_id,omitempty"`
	Error      string  `json:"error,omitempty"`
}

type submission struct {
	req    Request
	result Result
	done   chan struct{}
	err    error
}

type Relay struct {
	engine  *engine.Engine
	queue   chan *submission
	timeout time.Duration
	drained chan struct{}

	mu     sync.RWMutex
	byID   map[string]*submission
	closed bool
}

// New starts a relay with the given queue capacity and default wait bound.
func New(eng *engine.Engine, queueSize int, timeout time.Duration) *Relay {
	r := &Relay{
		engine:  eng,
		queue:   make(chan *submission, queueSize),
		timeout: timeout,
		drained: make(chan struct{}),
		byID:    make(map[string]*submission),
	}
	go r.run()
	return r
}

// Submit enqueues a request and returns its handle. Fails with ErrBusy when
// the queue is full instead of blocking the caller.
func (r *Relay) Submit(req Request) (string, error) {
	sub := &submission{
		req:  req,
		done: make(chan struct{}),
	}

	// The enqueue happens under the lock so Close cannot close the queue
	// between the closed check and the send.
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrClosed
	}
	handle := uuid.NewString()
	sub.result = Result{Handle: handle, Outcome: OutcomePending}

	select {
	case r.queue <- sub:
		r.byID[handle] = sub
		return handle, nil
	default:
		return "", ErrBusy
	}
}

// Poll reports the current state of a submission.
func (r *Relay) Poll(handle string) (Result, error) {
	r.mu.RLock()
	sub, ok := r.byID[handle]
	r.mu.RUnlock()
	if !ok {
		return Result{}, ErrUnknownHandle
	}

	select {
	case <-sub.done:
		return sub.result, nil
	default:
		return Result{Handle: handle, Outcome: OutcomePending}, nil
	}
}

// Err returns the operation error behind a FAILURE outcome, nil otherwise
// or while pending.
func (r *Relay) Err(handle string) (error, bool) {
	r.mu.RLock()
	sub, ok := r.byID[handle]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	select {
	case <-sub.done:
		return sub.err, true
	default:
		return nil, true
	}
}

// Wait blocks until the submission reaches a terminal outcome, the context
// is canceled, or the relay's wait bound elapses. On timeout it returns the
// pending result: the outcome is unknown, not failed, and must be
// re-polled before any retry.
func (r *Relay) Wait(ctx context.Context, handle string) (Result, error) {
	r.mu.RLock()
	sub, ok := r.byID[handle]
	r.mu.RUnlock()
	if !ok {
		return Result{}, ErrUnknownHandle
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case <-sub.done:
		return sub.result, nil
	case <-ctx.Done():
		return Result{Handle: handle, Outcome: OutcomePending}, ctx.Err()
	case <-timer.C:
		return Result{Handle: handle, Outcome: OutcomePending}, nil
	}
}

// Close stops accepting submissions and waits for the queue to drain, so
// everything already accepted still reaches a terminal outcome.
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	close(r.queue)
	<-r.drained
}

func (r *Relay) run() {
	defer close(r.drained)
	// Execution is deliberately not tied to any caller context: an accepted
	// submission always runs to completion.
	ctx := context.Background()
	for sub := range r.queue {
		r.execute(ctx, sub)
	}
}

func (r *Relay) execute(ctx context.Context, sub *submission) {
	var (
		id  uint64
		err error
	)

	switch sub.req.Kind {
	case KindCreate:
		id, err = r.engine.CreateEnvelope(ctx, engine.CreateRequest{
			Owner:       sub.req.Caller,
			Beneficiary: sub.req.Beneficiary,
			Amount:      sub.req.Amount,
			SecretHash:  sub.req.SecretHash,
			UnlockTime:  sub.req.UnlockTime,
			ExpiryTime:  sub.req.ExpiryTime,
		})
	case KindClaim:
		err = r.engine.Claim(ctx, sub.req.EnvelopeID, sub.req.Secret, sub.req.Caller)
	case KindReclaim:
		err = r.engine.Reclaim(ctx, sub.req.EnvelopeID, sub.req.Caller)
	default:
		err = errors.New("unrecognized operation kind: " + string(sub.req.Kind))
	}

	if err != nil {
		sub.err = err
		sub.result.Outcome = OutcomeFailure
		sub.result.Error = err.Error()
	} else {
		sub.result.Outcome = OutcomeSuccess
		if sub.req.Kind == KindCreate {
			envelopeID := id
			sub.result.EnvelopeID = &envelopeID
		}
	}
	close(sub.done)
}
