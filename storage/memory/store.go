// Package memory provides the in-process job store and escrow ledger used in
// tests and single-node demo deployments. A single lock guards each map; the
// conditional-update contract makes per-job transitions linearizable without
// finer locking.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"botmarket/core/jobs"
	"botmarket/escrow"
)

// JobStore is an in-memory implementation of jobs.Store.
type JobStore struct {
	mu   sync.RWMutex
	rows map[string]*jobs.Job
}

// NewJobStore returns an empty in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{rows: make(map[string]*jobs.Job)}
}

var _ jobs.Store = (*JobStore)(nil)

func (s *JobStore) Insert(_ context.Context, job *jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[job.ID]; ok {
		return jobs.ErrExists
	}
	s.rows[job.ID] = job.Clone()
	return nil
}

func (s *JobStore) Get(_ context.Context, id string) (*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.rows[id]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	return job.Clone(), nil
}

func (s *JobStore) List(_ context.Context, status jobs.Status) ([]*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*jobs.Job, 0, len(s.rows))
	for _, job := range s.rows {
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *JobStore) CompareAndSet(_ context.Context, id string, expected jobs.Status, mut jobs.Mutation) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.rows[id]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	if job.Status != expected {
		return nil, jobs.ErrStateConflict
	}
	updated := job.Clone()
	mut.Apply(updated)
	s.rows[id] = updated
	return updated.Clone(), nil
}

// usedDepositTTL bounds how long consumed deposit signatures are remembered.
// Replay after eviction is still caught by the unique escrow record per job.
const usedDepositTTL = 24 * time.Hour

// EscrowLedger is an in-memory implementation of escrow.Ledger.
type EscrowLedger struct {
	mu       sync.Mutex
	records  map[string]*escrow.Record
	deposits map[string]time.Time
	nowFn    func() time.Time
}

// NewEscrowLedger returns an empty in-memory ledger.
func NewEscrowLedger() *EscrowLedger {
	return &EscrowLedger{
		records:  make(map[string]*escrow.Record),
		deposits: make(map[string]time.Time),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

var _ escrow.Ledger = (*EscrowLedger)(nil)

func (l *EscrowLedger) CreateHeld(_ context.Context, rec *escrow.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked()
	if _, used := l.deposits[rec.DepositTxSig]; used {
		return escrow.ErrDepositUsed
	}
	if _, exists := l.records[rec.JobID]; exists {
		return escrow.ErrExists
	}
	l.deposits[rec.DepositTxSig] = l.nowFn()
	stored := rec.Clone()
	stored.Status = escrow.StatusHeld
	l.records[rec.JobID] = stored
	return nil
}

func (l *EscrowLedger) Get(_ context.Context, jobID string) (*escrow.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[jobID]
	if !ok {
		return nil, escrow.ErrNotFound
	}
	return rec.Clone(), nil
}

func (l *EscrowLedger) List(_ context.Context) ([]*escrow.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*escrow.Record, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (l *EscrowLedger) MarkReleased(_ context.Context, jobID, workerWallet, releaseTxSig string, at time.Time) (*escrow.Record, error) {
	return l.settle(jobID, escrow.StatusReleased, workerWallet, releaseTxSig, at)
}

func (l *EscrowLedger) MarkRefunded(_ context.Context, jobID, refundTxSig string, at time.Time) (*escrow.Record, error) {
	return l.settle(jobID, escrow.StatusRefunded, "", refundTxSig, at)
}

func (l *EscrowLedger) settle(jobID string, status escrow.Status, workerWallet, txSig string, at time.Time) (*escrow.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[jobID]
	if !ok {
		return nil, escrow.ErrNotFound
	}
	if rec.Status != escrow.StatusHeld {
		return nil, escrow.ErrNotHeld
	}
	rec.Status = status
	if workerWallet != "" {
		rec.WorkerWallet = workerWallet
	}
	rec.ReleaseTxSig = txSig
	released := at
	rec.ReleasedAt = &released
	return rec.Clone(), nil
}

// sweepLocked drops used-deposit entries past their TTL. Caller holds the
// lock.
func (l *EscrowLedger) sweepLocked() {
	cutoff := l.nowFn().Add(-usedDepositTTL)
	for sig, seen := range l.deposits {
		if seen.Before(cutoff) {
			delete(l.deposits, sig)
		}
	}
}
