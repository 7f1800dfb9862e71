// Package escrow binds off-chain job state to on-chain value movements: it
// verifies deposits into the escrow wallet, holds them in a ledger, and
// settles them to workers (minus the platform fee) or back to requesters.
package escrow

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle of a held deposit.
type Status string

const (
	StatusHeld     Status = "held"
	StatusReleased Status = "released"
	StatusRefunded Status = "refunded"
)

// Record is a verified deposit held against a job. At most one record exists
// per job and per deposit transaction.
type Record struct {
	JobID           string     `json:"jobId"`
	RequesterWallet string     `json:"requesterWallet"`
	WorkerWallet    string     `json:"workerWallet,omitempty"`
	AmountAtomic    uint64     `json:"amountAtomic"`
	DepositTxSig    string     `json:"depositTxSig"`
	Status          Status     `json:"status"`
	ReleaseTxSig    string     `json:"releaseTxSig,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	ReleasedAt      *time.Time `json:"releasedAt,omitempty"`
}

// Clone returns a copy safe for callers to mutate.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.ReleasedAt != nil {
		at := *r.ReleasedAt
		clone.ReleasedAt = &at
	}
	return &clone
}

var (
	// ErrNotFound is returned when no escrow record exists for the job.
	ErrNotFound = errors.New("escrow record not found")
	// ErrExists is returned when a job already has an escrow record.
	ErrExists = errors.New("escrow record already exists for job")
	// ErrDepositUsed is returned when the deposit signature was already
	// consumed by any job (replay protection).
	ErrDepositUsed = errors.New("deposit transaction already used")
	// ErrNotHeld is returned when a terminal transition is attempted on a
	// record that is not currently held.
	ErrNotHeld = errors.New("escrow record is not held")
)

// Ledger persists escrow records and the used-deposit set. CreateHeld must
// atomically test-and-insert both the deposit signature and the record so a
// replayed signature or a second deposit for one job fails cleanly.
type Ledger interface {
	CreateHeld(ctx context.Context, rec *Record) error
	Get(ctx context.Context, jobID string) (*Record, error)
	List(ctx context.Context) ([]*Record, error)

	// MarkReleased transitions held -> released, binding the worker wallet
	// and release signature exactly once.
	MarkReleased(ctx context.Context, jobID, workerWallet, releaseTxSig string, at time.Time) (*Record, error)

	// MarkRefunded transitions held -> refunded.
	MarkRefunded(ctx context.Context, jobID, refundTxSig string, at time.Time) (*Record, error)
}
