package models

import "time"

// Status is the lifecycle state of an envelope. Once a terminal status is
// reached no further transition is possible.
type Status string

const (
	StatusLocked    Status = "LOCKED"
	StatusClaimed   Status = "CLAIMED"
	StatusReclaimed Status = "RECLAIMED"
)

func (s Status) Terminal() bool {
	return s == StatusClaimed || s == StatusReclaimed
}

func (s Status) Valid() bool {
	switch s {
	case StatusLocked, StatusClaimed, StatusReclaimed:
		return true
	}
	return false
}

// Envelope pairs a locked token amount with a secret-hash commitment and a
// claim window. Records are never deleted; terminal envelopes are kept for
// history.
type Envelope struct {
	ID          uint64    `json:"id"`
	Owner       string    `json:"owner"`
	Beneficiary string    `json:"beneficiary"`
	Amount      uint64    `json:"amount"` // smallest token unit
	SecretHash  []byte    `json:"secret_hash"`
	UnlockTime  time.Time `json:"unlock_time"`
	ExpiryTime  time.Time `json:"expiry_time"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}
